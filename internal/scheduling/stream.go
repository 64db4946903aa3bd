package scheduling

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type appointmentMirror interface {
	Apply(ctx context.Context, clinicID, appointmentID string, after map[string]any) (Outcome, error)
}

// StreamHandler feeds document-table stream records for appointments into
// the mirror. Records for other documents are ignored.
type StreamHandler struct {
	mirror appointmentMirror
	logger *logging.Logger
}

// NewStreamHandler wraps a mirror for the DynamoDB Streams trigger.
func NewStreamHandler(mirror appointmentMirror, logger *logging.Logger) *StreamHandler {
	if mirror == nil {
		panic("scheduling: mirror cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StreamHandler{mirror: mirror, logger: logger}
}

// Handle processes a batch in order. It stops at the first failure and
// reports that record's sequence number; the platform redelivers from there.
func (h *StreamHandler) Handle(ctx context.Context, evt events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, rec := range evt.Records {
		if err := h.handleRecord(ctx, rec); err != nil {
			h.logger.Error("mirror record failed", "event_id", rec.EventID, "sequence", rec.Change.SequenceNumber, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: rec.Change.SequenceNumber,
			})
			return resp, nil
		}
	}
	return resp, nil
}

func (h *StreamHandler) handleRecord(ctx context.Context, rec events.DynamoDBEventRecord) error {
	path, err := docstore.StreamPath(rec.Change.Keys)
	if err != nil {
		h.logger.Warn("skipping stream record without document keys", "event_id", rec.EventID)
		return nil
	}
	clinicID, appointmentID, ok := clinic.ParseAppointmentPath(path)
	if !ok {
		return nil
	}

	var after map[string]any
	if events.DynamoDBOperationType(rec.EventName) != events.DynamoDBOperationTypeRemove {
		if len(rec.Change.NewImage) == 0 {
			return fmt.Errorf("scheduling: stream record %s has no new image; the stream view must include new images", rec.EventID)
		}
		after, err = docstore.DecodeStreamImage(rec.Change.NewImage)
		if err != nil {
			return err
		}
	}

	if _, err := h.mirror.Apply(ctx, clinicID, appointmentID, after); err != nil {
		return fmt.Errorf("scheduling: mirror %s: %w", path, err)
	}
	return nil
}

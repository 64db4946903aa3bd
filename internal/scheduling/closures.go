package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

var (
	closureFrom = docstore.Aliases{"fromAt"}
	closureTo   = docstore.Aliases{"toAt"}
)

type documentQuerier interface {
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Intervals that only touch do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// ClosureChecker rejects appointment ranges that fall into an active
// clinic closure.
type ClosureChecker struct {
	store  documentQuerier
	logger *logging.Logger
}

// NewClosureChecker builds a checker reading closures from store.
func NewClosureChecker(store documentQuerier, logger *logging.Logger) *ClosureChecker {
	if store == nil {
		panic("scheduling: document store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ClosureChecker{store: store, logger: logger}
}

// AssertNoOverlap fails with FailedPrecondition on the first active closure
// intersecting [startAt, endAt). Callers guarantee startAt < endAt.
//
// Only the active flag is filtered in the table; both interval bounds are
// compared here after normalization, since closures written by older
// clients store their bounds in several timestamp shapes.
func (c *ClosureChecker) AssertNoOverlap(ctx context.Context, clinicID string, startAt, endAt time.Time) error {
	candidates, err := c.store.Query(ctx, docstore.Query{
		Collection: clinic.ClosuresCollection(clinicID),
		Filters:    []docstore.Filter{docstore.Where("active", docstore.OpEqual, true)},
	})
	if err != nil {
		return fmt.Errorf("scheduling: load closures: %w", err)
	}

	for _, doc := range candidates {
		from, okFrom := closureFrom.Timestamp(doc.Fields)
		to, okTo := closureTo.Timestamp(doc.Fields)
		if !okFrom || !okTo {
			c.logger.Debug("skipping closure without bounds", "clinic_id", clinicID, "closure_id", doc.ID)
			continue
		}
		if Overlaps(startAt, endAt, from, to) {
			return apperr.FailedPrecondition("the clinic is closed between %s and %s",
				from.Format(time.RFC3339), to.Format(time.RFC3339))
		}
	}
	return nil
}

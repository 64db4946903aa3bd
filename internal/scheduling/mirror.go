package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-functions/internal/cleanup"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

var mirrorTracer = otel.Tracer("clinic.internal.scheduling.mirror")

// Scope says what a busy block makes unavailable.
type Scope string

const (
	ScopeClinic       Scope = "clinic"
	ScopePractitioner Scope = "practitioner"
)

// MirrorSource tags busy blocks written by the mirror.
const MirrorSource = "appointments-mirror"

// Outcome is what a mirror pass did to the busy block.
type Outcome string

const (
	OutcomeUpserted   Outcome = "upserted"
	OutcomeRemoved    Outcome = "removed"
	OutcomeIncomplete Outcome = "incomplete"
	OutcomeCancelled  Outcome = "cancelled"
)

// ScopeFor decides the block scope. Only admin appointments without a
// practitioner block the whole clinic.
func ScopeFor(kind, practitionerID string) Scope {
	if kind == KindAdmin && practitionerID == "" {
		return ScopeClinic
	}
	return ScopePractitioner
}

type blockWriter interface {
	Merge(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
}

// MirrorObserver records mirror outcomes.
type MirrorObserver interface {
	ObserveMirror(outcome string)
}

// Mirror keeps the availability index in step with appointment documents.
type Mirror struct {
	store    blockWriter
	now      func() time.Time
	observer MirrorObserver
	logger   *logging.Logger
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithClock overrides the clock used for updatedAt.
func WithClock(now func() time.Time) MirrorOption {
	return func(m *Mirror) {
		m.now = now
	}
}

// WithObserver records outcomes, e.g. as metrics.
func WithObserver(o MirrorObserver) MirrorOption {
	return func(m *Mirror) {
		m.observer = o
	}
}

// NewMirror builds a mirror writing busy blocks to store.
func NewMirror(store blockWriter, logger *logging.Logger, opts ...MirrorOption) *Mirror {
	if store == nil {
		panic("scheduling: document store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Mirror{store: store, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply recomputes the busy block for one appointment after a write. A nil
// document means the appointment was deleted.
func (m *Mirror) Apply(ctx context.Context, clinicID, appointmentID string, after map[string]any) (Outcome, error) {
	ctx, span := mirrorTracer.Start(ctx, "scheduling.mirror.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.id", clinicID),
		attribute.String("clinic.appointment_id", appointmentID),
	)

	outcome, err := m.apply(ctx, clinicID, appointmentID, after)
	span.SetAttributes(attribute.String("clinic.mirror_outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	if m.observer != nil {
		m.observer.ObserveMirror(string(outcome))
	}
	m.logger.Debug("availability mirrored", "clinic_id", clinicID, "appointment_id", appointmentID, "outcome", outcome)
	return outcome, nil
}

func (m *Mirror) apply(ctx context.Context, clinicID, appointmentID string, after map[string]any) (Outcome, error) {
	path := clinic.BusyBlockPath(clinicID, appointmentID)
	if after == nil {
		m.removeBlock(ctx, path)
		return OutcomeRemoved, nil
	}

	appt := ParseAppointment(clinicID, appointmentID, after)
	if !appt.HasStart || !appt.HasEnd {
		m.removeBlock(ctx, path)
		return OutcomeIncomplete, nil
	}
	if appt.Cancelled() {
		m.removeBlock(ctx, path)
		return OutcomeCancelled, nil
	}

	block := map[string]any{
		"clinicId":       clinicID,
		"appointmentId":  appointmentID,
		"startAt":        docstore.FormatTimestamp(appt.StartAt),
		"endAt":          docstore.FormatTimestamp(appt.EndAt),
		"scope":          string(ScopeFor(appt.Kind, appt.PractitionerID)),
		"practitionerId": nullable(appt.PractitionerID),
		"status":         appt.Status,
		"kind":           nullable(appt.Kind),
		"source":         MirrorSource,
		"updatedAt":      docstore.FormatTimestamp(m.now()),
	}
	if err := m.store.Merge(ctx, path, block); err != nil {
		return OutcomeUpserted, fmt.Errorf("scheduling: upsert busy block: %w", err)
	}
	return OutcomeUpserted, nil
}

func (m *Mirror) removeBlock(ctx context.Context, path string) {
	cleanup.BestEffort(ctx, m.logger, "delete busy block", func(ctx context.Context) error {
		if err := m.store.Delete(ctx, path); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		return nil
	}, "path", path)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

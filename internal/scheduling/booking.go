package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type bookingStore interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Set(ctx context.Context, path string, fields map[string]any) error
	Merge(ctx context.Context, path string, fields map[string]any) error
}

type overlapChecker interface {
	AssertNoOverlap(ctx context.Context, clinicID string, startAt, endAt time.Time) error
}

// AppointmentRequest describes a new appointment.
type AppointmentRequest struct {
	ClinicID       string
	StartAt        time.Time
	EndAt          time.Time
	Kind           string
	PractitionerID string
	PatientID      string
	Title          string
	Notes          string
}

// ClosureRequest describes a new clinic closure.
type ClosureRequest struct {
	ClinicID string
	FromAt   time.Time
	ToAt     time.Time
	Reason   string
}

// Booking writes appointments and closures. The availability index is
// maintained separately by the Mirror reacting to the written documents.
type Booking struct {
	store    bookingStore
	closures overlapChecker
	now      func() time.Time
	newID    func() string
	logger   *logging.Logger
}

// NewBooking builds the booking service.
func NewBooking(store bookingStore, closures overlapChecker, logger *logging.Logger) *Booking {
	if store == nil || closures == nil {
		panic("scheduling: booking dependencies cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Booking{
		store:    store,
		closures: closures,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// CreateAppointment validates the range, rejects ranges inside an active
// closure and persists the appointment as booked.
func (b *Booking) CreateAppointment(ctx context.Context, createdBy string, req AppointmentRequest) (*Appointment, error) {
	if req.StartAt.IsZero() || req.EndAt.IsZero() {
		return nil, apperr.InvalidArgument("startAt and endAt are required")
	}
	if !req.StartAt.Before(req.EndAt) {
		return nil, apperr.InvalidArgument("startAt must be before endAt")
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = KindPatient
	}
	if kind != KindAdmin && strings.TrimSpace(req.PatientID) == "" {
		return nil, apperr.InvalidArgument("patientId is required for %s appointments", kind)
	}

	if err := b.closures.AssertNoOverlap(ctx, req.ClinicID, req.StartAt, req.EndAt); err != nil {
		return nil, err
	}

	id := b.newID()
	now := docstore.FormatTimestamp(b.now())
	appt := &Appointment{
		ID:             id,
		ClinicID:       req.ClinicID,
		StartAt:        req.StartAt.UTC(),
		EndAt:          req.EndAt.UTC(),
		HasStart:       true,
		HasEnd:         true,
		Status:         StatusBooked,
		Kind:           kind,
		PractitionerID: strings.TrimSpace(req.PractitionerID),
		PatientID:      strings.TrimSpace(req.PatientID),
		Title:          strings.TrimSpace(req.Title),
	}
	doc := map[string]any{
		"clinicId":       appt.ClinicID,
		"startAt":        docstore.FormatTimestamp(appt.StartAt),
		"endAt":          docstore.FormatTimestamp(appt.EndAt),
		"status":         appt.Status,
		"kind":           appt.Kind,
		"practitionerId": nullable(appt.PractitionerID),
		"patientId":      nullable(appt.PatientID),
		"title":          appt.Title,
		"notes":          strings.TrimSpace(req.Notes),
		"createdBy":      createdBy,
		"createdAt":      now,
		"updatedAt":      now,
	}
	if err := b.store.Set(ctx, clinic.AppointmentPath(req.ClinicID, id), doc); err != nil {
		return nil, fmt.Errorf("scheduling: save appointment: %w", err)
	}
	b.logger.Info("appointment booked", "clinic_id", req.ClinicID, "appointment_id", id, "kind", kind)
	return appt, nil
}

// GetAppointment loads and resolves one appointment. A missing appointment
// is a FailedPrecondition for the caller.
func (b *Booking) GetAppointment(ctx context.Context, clinicID, appointmentID string) (*Appointment, error) {
	if !clinic.ValidID(appointmentID) {
		return nil, apperr.InvalidArgument("appointmentId is required")
	}
	doc, err := b.store.Get(ctx, clinic.AppointmentPath(clinicID, appointmentID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, apperr.FailedPrecondition("appointment %s does not exist", appointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: load appointment: %w", err)
	}
	appt := ParseAppointment(clinicID, appointmentID, doc.Fields)
	return &appt, nil
}

// CancelAppointment marks an appointment cancelled. Cancelling twice is a
// no-op.
func (b *Booking) CancelAppointment(ctx context.Context, cancelledBy, clinicID, appointmentID string) (*Appointment, error) {
	appt, err := b.GetAppointment(ctx, clinicID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Cancelled() {
		return appt, nil
	}
	now := docstore.FormatTimestamp(b.now())
	if err := b.store.Merge(ctx, clinic.AppointmentPath(clinicID, appointmentID), map[string]any{
		"status":      StatusCancelled,
		"cancelledBy": cancelledBy,
		"cancelledAt": now,
		"updatedAt":   now,
	}); err != nil {
		return nil, fmt.Errorf("scheduling: cancel appointment: %w", err)
	}
	appt.Status = StatusCancelled
	b.logger.Info("appointment cancelled", "clinic_id", clinicID, "appointment_id", appointmentID)
	return appt, nil
}

// CreateClosure persists an active closure. fromAt must precede toAt.
func (b *Booking) CreateClosure(ctx context.Context, createdBy string, req ClosureRequest) (string, error) {
	if req.FromAt.IsZero() || req.ToAt.IsZero() {
		return "", apperr.InvalidArgument("fromAt and toAt are required")
	}
	if !req.FromAt.Before(req.ToAt) {
		return "", apperr.InvalidArgument("fromAt must be before toAt")
	}
	id := b.newID()
	if err := b.store.Set(ctx, clinic.ClosurePath(req.ClinicID, id), map[string]any{
		"clinicId":  req.ClinicID,
		"fromAt":    docstore.FormatTimestamp(req.FromAt),
		"toAt":      docstore.FormatTimestamp(req.ToAt),
		"active":    true,
		"reason":    strings.TrimSpace(req.Reason),
		"createdBy": createdBy,
		"createdAt": docstore.FormatTimestamp(b.now()),
	}); err != nil {
		return "", fmt.Errorf("scheduling: save closure: %w", err)
	}
	b.logger.Info("closure created", "clinic_id", req.ClinicID, "closure_id", id)
	return id, nil
}

package callable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/cleanup"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/compliance"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/internal/documents"
	"github.com/wolfman30/clinic-functions/internal/membership"
	"github.com/wolfman30/clinic-functions/internal/notify"
	"github.com/wolfman30/clinic-functions/internal/records"
	"github.com/wolfman30/clinic-functions/internal/scheduling"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type guard interface {
	Check(ctx context.Context, callerID, clinicID string) (*membership.Grant, error)
}

type booking interface {
	CreateAppointment(ctx context.Context, createdBy string, req scheduling.AppointmentRequest) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, clinicID, appointmentID string) (*scheduling.Appointment, error)
	CancelAppointment(ctx context.Context, cancelledBy, clinicID, appointmentID string) (*scheduling.Appointment, error)
	CreateClosure(ctx context.Context, createdBy string, req scheduling.ClosureRequest) (string, error)
}

type patientRegistry interface {
	Create(ctx context.Context, createdBy string, req records.PatientRequest) (*records.Patient, error)
	Get(ctx context.Context, clinicID, patientID string) (*records.Patient, error)
}

type inviteRegistry interface {
	Create(ctx context.Context, invitedBy, clinicID, email, role string) (*membership.Invite, error)
	Delete(ctx context.Context, clinicID, inviteID string) error
}

type mailer interface {
	SendInvite(ctx context.Context, profile *clinic.Profile, inv notify.Invite) (string, error)
	SendAppointment(ctx context.Context, profile *clinic.Profile, appt notify.AppointmentEmail) (string, error)
	NotifyCancellation(ctx context.Context, profile *clinic.Profile, c notify.Cancellation) error
}

type pdfRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

type documentArchive interface {
	Enabled() bool
	Save(ctx context.Context, doc documents.Document) (*documents.Stored, error)
}

type auditTrail interface {
	Record(ctx context.Context, eventType compliance.AuditEventType, clinicID, actorUID, subjectType, subjectID string, details map[string]any)
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

type profileReader interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
}

// Deps are the services the callables drive.
type Deps struct {
	Guard     guard
	Booking   booking
	Patients  patientRegistry
	Invites   inviteRegistry
	Mailer    mailer
	Renderer  pdfRenderer
	Documents documentArchive
	Audit     auditTrail
	Profiles  profileReader
}

// Functions implements the clinic callables.
type Functions struct {
	deps   Deps
	logger *logging.Logger
}

// NewFunctions validates deps. Every dependency is required.
func NewFunctions(deps Deps, logger *logging.Logger) (*Functions, error) {
	missing := []string{}
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("guard", deps.Guard != nil)
	check("booking", deps.Booking != nil)
	check("patients", deps.Patients != nil)
	check("invites", deps.Invites != nil)
	check("mailer", deps.Mailer != nil)
	check("renderer", deps.Renderer != nil)
	check("documents", deps.Documents != nil)
	check("audit", deps.Audit != nil)
	check("profiles", deps.Profiles != nil)
	if len(missing) > 0 {
		return nil, fmt.Errorf("callable: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Functions{deps: deps, logger: logger}, nil
}

// Register adds every clinic callable to d.
func (f *Functions) Register(d *Dispatcher) {
	d.Register("createPatient", f.createPatient)
	d.Register("createAppointment", f.createAppointment)
	d.Register("cancelAppointment", f.cancelAppointment)
	d.Register("createClosure", f.createClosure)
	d.Register("createInvite", f.createInvite)
	d.Register("sendAppointmentEmail", f.sendAppointmentEmail)
	d.Register("renderDocument", f.renderDocument)
	d.Register("listAuditEvents", f.listAuditEvents)
}

// authorize runs the membership guard and audits denials.
func (f *Functions) authorize(ctx context.Context, call Call, clinicID string) (*membership.Grant, error) {
	grant, err := f.deps.Guard.Check(ctx, call.Caller.UID, clinicID)
	if apperr.Is(err, codes.PermissionDenied) {
		f.deps.Audit.Record(ctx, compliance.EventMembershipDenied, clinicID, call.Caller.UID, "", "",
			map[string]any{"reason": apperr.Message(err)})
	}
	return grant, err
}

func timeField(name string, v any) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}
	t, ok := docstore.Timestamp(v)
	if !ok {
		return time.Time{}, apperr.InvalidArgument("%s is not a valid timestamp", name)
	}
	return t, nil
}

type clinicScoped struct {
	ClinicID string `json:"clinicId"`
}

type createPatientData struct {
	clinicScoped
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birthDate"`
}

func (f *Functions) createPatient(ctx context.Context, call Call) (any, error) {
	var in createPatientData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	patient, err := f.deps.Patients.Create(ctx, grant.UID, records.PatientRequest{
		ClinicID:  grant.ClinicID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		BirthDate: in.BirthDate,
	})
	if err != nil {
		return nil, err
	}
	f.deps.Audit.Record(ctx, compliance.EventPatientCreated, grant.ClinicID, grant.UID, "patient", patient.ID, nil)
	return map[string]any{"patientId": patient.ID}, nil
}

type createAppointmentData struct {
	clinicScoped
	StartAt        any    `json:"startAt"`
	EndAt          any    `json:"endAt"`
	Kind           string `json:"kind"`
	PractitionerID string `json:"practitionerId"`
	PatientID      string `json:"patientId"`
	Title          string `json:"title"`
	Notes          string `json:"notes"`
}

func (f *Functions) createAppointment(ctx context.Context, call Call) (any, error) {
	var in createAppointmentData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	startAt, err := timeField("startAt", in.StartAt)
	if err != nil {
		return nil, err
	}
	endAt, err := timeField("endAt", in.EndAt)
	if err != nil {
		return nil, err
	}
	appt, err := f.deps.Booking.CreateAppointment(ctx, grant.UID, scheduling.AppointmentRequest{
		ClinicID:       grant.ClinicID,
		StartAt:        startAt,
		EndAt:          endAt,
		Kind:           in.Kind,
		PractitionerID: in.PractitionerID,
		PatientID:      in.PatientID,
		Title:          in.Title,
		Notes:          in.Notes,
	})
	if err != nil {
		return nil, err
	}
	f.deps.Audit.Record(ctx, compliance.EventAppointmentCreated, grant.ClinicID, grant.UID, "appointment", appt.ID,
		map[string]any{"kind": appt.Kind, "startAt": docstore.FormatTimestamp(appt.StartAt)})
	return map[string]any{"appointmentId": appt.ID, "status": appt.Status}, nil
}

type appointmentRef struct {
	clinicScoped
	AppointmentID string `json:"appointmentId"`
}

func (f *Functions) cancelAppointment(ctx context.Context, call Call) (any, error) {
	var in appointmentRef
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	appt, err := f.deps.Booking.CancelAppointment(ctx, grant.UID, grant.ClinicID, in.AppointmentID)
	if err != nil {
		return nil, err
	}
	f.deps.Audit.Record(ctx, compliance.EventAppointmentCancelled, grant.ClinicID, grant.UID, "appointment", appt.ID, nil)

	cleanup.BestEffort(ctx, f.logger, "notify cancellation", func(ctx context.Context) error {
		profile, err := clinic.LoadProfile(ctx, f.deps.Profiles, grant.ClinicID)
		if err != nil {
			return err
		}
		return f.deps.Mailer.NotifyCancellation(ctx, profile, notify.Cancellation{
			AppointmentID: appt.ID,
			Title:         appt.Title,
			StartAt:       appt.StartAt,
			CancelledBy:   grant.UID,
		})
	}, "clinic_id", grant.ClinicID, "appointment_id", appt.ID)

	return map[string]any{"appointmentId": appt.ID, "status": appt.Status}, nil
}

type createClosureData struct {
	clinicScoped
	FromAt any    `json:"fromAt"`
	ToAt   any    `json:"toAt"`
	Reason string `json:"reason"`
}

func (f *Functions) createClosure(ctx context.Context, call Call) (any, error) {
	var in createClosureData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	fromAt, err := timeField("fromAt", in.FromAt)
	if err != nil {
		return nil, err
	}
	toAt, err := timeField("toAt", in.ToAt)
	if err != nil {
		return nil, err
	}
	id, err := f.deps.Booking.CreateClosure(ctx, grant.UID, scheduling.ClosureRequest{
		ClinicID: grant.ClinicID,
		FromAt:   fromAt,
		ToAt:     toAt,
		Reason:   in.Reason,
	})
	if err != nil {
		return nil, err
	}
	f.deps.Audit.Record(ctx, compliance.EventClosureCreated, grant.ClinicID, grant.UID, "closure", id, nil)
	return map[string]any{"closureId": id}, nil
}

type createInviteData struct {
	clinicScoped
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (f *Functions) createInvite(ctx context.Context, call Call) (any, error) {
	var in createInviteData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	inv, err := f.deps.Invites.Create(ctx, grant.UID, grant.ClinicID, in.Email, in.Role)
	if err != nil {
		return nil, err
	}
	profile, err := clinic.LoadProfile(ctx, f.deps.Profiles, grant.ClinicID)
	if err != nil {
		return nil, err
	}
	messageID, err := f.deps.Mailer.SendInvite(ctx, profile, notify.Invite{
		ID:        inv.ID,
		Email:     inv.Email,
		Role:      inv.Role,
		ExpiresAt: inv.ExpiresAt,
	})
	if err != nil {
		// An undelivered invite would still admit the address at signup.
		cleanup.BestEffort(cleanup.Detached(ctx), f.logger, "delete undelivered invite", func(ctx context.Context) error {
			return f.deps.Invites.Delete(ctx, grant.ClinicID, inv.ID)
		}, "clinic_id", grant.ClinicID, "invite_id", inv.ID)
		return nil, fmt.Errorf("send invite: %w", err)
	}
	f.deps.Audit.Record(ctx, compliance.EventInviteCreated, grant.ClinicID, grant.UID, "invite", inv.ID,
		map[string]any{"role": inv.Role, "messageId": messageID})
	return map[string]any{
		"inviteId":  inv.ID,
		"expiresAt": docstore.FormatTimestamp(inv.ExpiresAt),
		"messageId": messageID,
	}, nil
}

type sendAppointmentEmailData struct {
	appointmentRef
	To string `json:"to"`
}

func (f *Functions) sendAppointmentEmail(ctx context.Context, call Call) (any, error) {
	var in sendAppointmentEmailData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	appt, err := f.deps.Booking.GetAppointment(ctx, grant.ClinicID, in.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Cancelled() {
		return nil, apperr.FailedPrecondition("appointment %s is cancelled", appt.ID)
	}
	if !appt.HasStart || !appt.HasEnd {
		return nil, apperr.FailedPrecondition("appointment %s has no schedule", appt.ID)
	}

	to := strings.TrimSpace(in.To)
	var toName string
	if appt.PatientID != "" {
		patient, err := f.deps.Patients.Get(ctx, grant.ClinicID, appt.PatientID)
		switch {
		case err == nil:
			toName = patient.FullName()
			if to == "" {
				to = patient.Email
			}
		case errors.Is(err, docstore.ErrNotFound):
		default:
			return nil, err
		}
	}
	if to == "" {
		return nil, apperr.FailedPrecondition("appointment %s has no recipient email", appt.ID)
	}

	profile, err := clinic.LoadProfile(ctx, f.deps.Profiles, grant.ClinicID)
	if err != nil {
		return nil, err
	}
	messageID, err := f.deps.Mailer.SendAppointment(ctx, profile, notify.AppointmentEmail{
		To:           to,
		ToName:       toName,
		Title:        appt.Title,
		StartAt:      appt.StartAt,
		EndAt:        appt.EndAt,
		Practitioner: appt.PractitionerID,
	})
	if err != nil {
		return nil, fmt.Errorf("send appointment email: %w", err)
	}
	f.deps.Audit.Record(ctx, compliance.EventEmailSent, grant.ClinicID, grant.UID, "appointment", appt.ID,
		map[string]any{"messageId": messageID})
	return map[string]any{"messageId": messageID}, nil
}

type renderDocumentData struct {
	clinicScoped
	HTML string `json:"html"`
	Name string `json:"name"`
}

func (f *Functions) renderDocument(ctx context.Context, call Call) (any, error) {
	var in renderDocumentData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.HTML) == "" {
		return nil, apperr.InvalidArgument("html is required")
	}
	if !f.deps.Documents.Enabled() {
		return nil, apperr.FailedPrecondition("document storage is not configured")
	}
	pdf, err := f.deps.Renderer.RenderPDF(ctx, in.HTML)
	if err != nil {
		return nil, err
	}
	stored, err := f.deps.Documents.Save(ctx, documents.Document{
		ClinicID:   grant.ClinicID,
		Name:       in.Name,
		PDF:        pdf,
		RenderedBy: grant.UID,
	})
	if err != nil {
		return nil, err
	}
	f.deps.Audit.Record(ctx, compliance.EventDocumentRendered, grant.ClinicID, grant.UID, "document", stored.Key,
		map[string]any{"bytes": stored.Size})
	return stored, nil
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type listAuditEventsData struct {
	clinicScoped
	SubjectID string `json:"subjectId"`
	Limit     int    `json:"limit"`
}

func (f *Functions) listAuditEvents(ctx context.Context, call Call) (any, error) {
	var in listAuditEventsData
	if err := Bind(call, &in); err != nil {
		return nil, err
	}
	grant, err := f.authorize(ctx, call, in.ClinicID)
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	events, err := f.deps.Audit.QueryEvents(ctx, compliance.AuditFilter{
		ClinicID:  grant.ClinicID,
		SubjectID: strings.TrimSpace(in.SubjectID),
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	return map[string]any{"events": events}, nil
}

// Package compliance keeps the clinic audit trail: who did what to which
// record, stored append-only in Postgres.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-functions/internal/cleanup"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// AuditEventType represents the type of audited action.
type AuditEventType string

const (
	EventMembershipDenied     AuditEventType = "access.membership_denied"
	EventPatientCreated       AuditEventType = "records.patient_created"
	EventAppointmentCreated   AuditEventType = "scheduling.appointment_created"
	EventAppointmentCancelled AuditEventType = "scheduling.appointment_cancelled"
	EventClosureCreated       AuditEventType = "scheduling.closure_created"
	EventInviteCreated        AuditEventType = "access.invite_created"
	EventEmailSent            AuditEventType = "notify.email_sent"
	EventDocumentRendered     AuditEventType = "records.document_rendered"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID          string          `json:"id"`
	EventType   AuditEventType  `json:"event_type"`
	ClinicID    string          `json:"clinic_id"`
	ActorUID    string          `json:"actor_uid"`
	SubjectType string          `json:"subject_type,omitempty"`
	SubjectID   string          `json:"subject_id,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditService handles audit logging. A service without a database is
// disabled and records nothing.
type AuditService struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB, logger *logging.Logger) *AuditService {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuditService{db: db, logger: logger}
}

// Enabled reports whether events are persisted.
func (s *AuditService) Enabled() bool {
	return s != nil && s.db != nil
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if !s.Enabled() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO clinic_audit_events (
			id, event_type, clinic_id, actor_uid,
			subject_type, subject_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.ClinicID,
		event.ActorUID,
		nullString(event.SubjectType),
		nullString(event.SubjectID),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// Record logs an event without failing the caller; errors are logged.
func (s *AuditService) Record(ctx context.Context, eventType AuditEventType, clinicID, actorUID, subjectType, subjectID string, details map[string]any) {
	if !s.Enabled() {
		return
	}
	event := AuditEvent{
		EventType:   eventType,
		ClinicID:    clinicID,
		ActorUID:    actorUID,
		SubjectType: subjectType,
		SubjectID:   subjectID,
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			s.logger.Warn("audit details not serializable", "event_type", eventType, "error", err)
		} else {
			event.Details = raw
		}
	}
	cleanup.BestEffort(ctx, s.logger, "record audit event", func(ctx context.Context) error {
		return s.LogEvent(ctx, event)
	}, "event_type", eventType, "clinic_id", clinicID)
}

// QueryEvents retrieves audit events with filters, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if !s.Enabled() {
		return nil, nil
	}
	query := `
		SELECT id, event_type, clinic_id, actor_uid,
			   subject_type, subject_id, details, created_at
		FROM clinic_audit_events
		WHERE clinic_id = $1
	`
	args := []interface{}{filter.ClinicID}
	argIdx := 2

	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var subjectType, subjectID sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.EventType, &e.ClinicID, &e.ActorUID,
			&subjectType, &subjectID, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.SubjectType = subjectType.String
		e.SubjectID = subjectID.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: iterate audit events: %w", err)
	}

	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	ClinicID  string
	SubjectID string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

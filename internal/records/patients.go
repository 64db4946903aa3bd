// Package records manages patient records.
package records

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type documentStore interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Set(ctx context.Context, path string, fields map[string]any) error
}

// PatientRequest is a new patient record.
type PatientRequest struct {
	ClinicID  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	BirthDate string
}

// Patient is a stored patient.
type Patient struct {
	ID        string
	ClinicID  string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Patients reads and writes clinics/{id}/patients.
type Patients struct {
	store  documentStore
	now    func() time.Time
	newID  func() string
	logger *logging.Logger
}

func NewPatients(store documentStore, logger *logging.Logger) *Patients {
	if store == nil {
		panic("records: document store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Patients{store: store, now: time.Now, newID: uuid.NewString, logger: logger}
}

// Create validates and persists a patient.
func (p *Patients) Create(ctx context.Context, createdBy string, req PatientRequest) (*Patient, error) {
	patient := Patient{
		ClinicID:  req.ClinicID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:     strings.TrimSpace(req.Phone),
	}
	if patient.FirstName == "" || patient.LastName == "" {
		return nil, apperr.InvalidArgument("firstName and lastName are required")
	}
	if patient.Email != "" {
		if _, err := mail.ParseAddress(patient.Email); err != nil {
			return nil, apperr.InvalidArgument("email %q is not valid", req.Email)
		}
	}
	birthDate := strings.TrimSpace(req.BirthDate)
	if birthDate != "" {
		if _, err := time.Parse("2006-01-02", birthDate); err != nil {
			return nil, apperr.InvalidArgument("birthDate must be YYYY-MM-DD")
		}
	}

	patient.ID = p.newID()
	if err := p.store.Set(ctx, clinic.PatientPath(req.ClinicID, patient.ID), map[string]any{
		"clinicId":  req.ClinicID,
		"firstName": patient.FirstName,
		"lastName":  patient.LastName,
		"email":     nullable(patient.Email),
		"phone":     nullable(patient.Phone),
		"birthDate": nullable(birthDate),
		"createdBy": createdBy,
		"createdAt": docstore.FormatTimestamp(p.now()),
	}); err != nil {
		return nil, fmt.Errorf("records: save patient: %w", err)
	}
	p.logger.Info("patient created", "clinic_id", req.ClinicID, "patient_id", patient.ID)
	return &patient, nil
}

var emailAliases = docstore.Aliases{"email", "emailAddress"}

// Get loads a patient; missing patients return docstore.ErrNotFound.
func (p *Patients) Get(ctx context.Context, clinicID, patientID string) (*Patient, error) {
	if !clinic.ValidID(patientID) {
		return nil, docstore.ErrNotFound
	}
	doc, err := p.store.Get(ctx, clinic.PatientPath(clinicID, patientID))
	if err != nil {
		return nil, err
	}
	return &Patient{
		ID:        patientID,
		ClinicID:  clinicID,
		FirstName: doc.String("firstName"),
		LastName:  doc.String("lastName"),
		Email:     emailAliases.String(doc.Fields),
		Phone:     doc.String("phone"),
	}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

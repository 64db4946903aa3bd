// Package scheduling holds the appointment rules: closure checks, booking
// and the availability index mirrored from appointment documents.
package scheduling

import (
	"strings"
	"time"

	"github.com/wolfman30/clinic-functions/internal/docstore"
)

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"

	KindAdmin   = "admin"
	KindPatient = "patient"
)

// Field aliases in priority order. Appointments written by older clients
// used several names for the same value.
var (
	startAliases        = docstore.Aliases{"startAt", "start", "startTime", "startsAt", "start_at"}
	endAliases          = docstore.Aliases{"endAt", "end", "endTime", "endsAt", "end_at"}
	statusAliases       = docstore.Aliases{"status"}
	kindAliases         = docstore.Aliases{"kind", "type"}
	practitionerAliases = docstore.Aliases{"practitionerId", "practitionerUid", "providerId"}
	patientAliases      = docstore.Aliases{"patientId", "patientUid"}
	titleAliases        = docstore.Aliases{"title", "summary"}
)

// Appointment is the resolved view of an appointment document.
type Appointment struct {
	ID             string
	ClinicID       string
	StartAt        time.Time
	EndAt          time.Time
	HasStart       bool
	HasEnd         bool
	Status         string
	Kind           string
	PractitionerID string
	PatientID      string
	Title          string
}

// ParseAppointment resolves an appointment document through the alias
// tables. Missing status resolves to booked.
func ParseAppointment(clinicID, appointmentID string, fields map[string]any) Appointment {
	appt := Appointment{
		ID:             appointmentID,
		ClinicID:       clinicID,
		Status:         strings.ToLower(statusAliases.String(fields)),
		Kind:           strings.ToLower(kindAliases.String(fields)),
		PractitionerID: practitionerAliases.String(fields),
		PatientID:      patientAliases.String(fields),
		Title:          titleAliases.String(fields),
	}
	appt.StartAt, appt.HasStart = startAliases.Timestamp(fields)
	appt.EndAt, appt.HasEnd = endAliases.Timestamp(fields)
	if appt.Status == "" {
		appt.Status = StatusBooked
	}
	return appt
}

// Cancelled reports whether the appointment no longer occupies its slot.
func (a Appointment) Cancelled() bool {
	return a.Status == StatusCancelled
}

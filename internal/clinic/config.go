// Package clinic describes the tenant layout: where each kind of clinic
// document lives and the clinic profile used when addressing patients.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/wolfman30/clinic-functions/internal/docstore"
)

const (
	clinicsCollection   = "clinics"
	allowlistCollection = "platformAuthAllowlist"

	// InvitesCollectionID is the collection id shared by every clinic's
	// invites, used for collection-group lookups.
	InvitesCollectionID = "invites"
)

// ValidID reports whether id can be used as a single path segment.
func ValidID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.Contains(id, "/")
}

// Path returns the clinic document path.
func Path(clinicID string) string {
	return docstore.Join(clinicsCollection, clinicID)
}

// MembershipPath is the canonical membership record.
func MembershipPath(clinicID, uid string) string {
	return docstore.Join(clinicsCollection, clinicID, "memberships", uid)
}

// LegacyMemberPath is the membership record written before statuses existed.
func LegacyMemberPath(clinicID, uid string) string {
	return docstore.Join(clinicsCollection, clinicID, "members", uid)
}

// ClosuresCollection holds the clinic's closure intervals.
func ClosuresCollection(clinicID string) string {
	return docstore.Join(clinicsCollection, clinicID, "closures")
}

// ClosurePath addresses one closure.
func ClosurePath(clinicID, closureID string) string {
	return docstore.Join(ClosuresCollection(clinicID), closureID)
}

// AppointmentsCollection holds the clinic's appointments.
func AppointmentsCollection(clinicID string) string {
	return docstore.Join(clinicsCollection, clinicID, "appointments")
}

// AppointmentPath addresses one appointment.
func AppointmentPath(clinicID, appointmentID string) string {
	return docstore.Join(AppointmentsCollection(clinicID), appointmentID)
}

// BusyBlockPath addresses the availability block mirrored from an appointment.
func BusyBlockPath(clinicID, appointmentID string) string {
	return docstore.Join(clinicsCollection, clinicID, "public", "availability", "blocks", appointmentID)
}

// PatientPath addresses one patient record.
func PatientPath(clinicID, patientID string) string {
	return docstore.Join(clinicsCollection, clinicID, "patients", patientID)
}

// InvitePath addresses one invite.
func InvitePath(clinicID, inviteID string) string {
	return docstore.Join(clinicsCollection, clinicID, InvitesCollectionID, inviteID)
}

// AllowlistPath addresses the platform-wide self-signup allowlist entry.
func AllowlistPath(email string) string {
	return docstore.Join(allowlistCollection, email)
}

// ParseAppointmentPath extracts the clinic and appointment ids from an
// appointment document path; ok is false for any other document.
func ParseAppointmentPath(path string) (clinicID, appointmentID string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != clinicsCollection || parts[2] != "appointments" {
		return "", "", false
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

// Profile holds the clinic details used when addressing patients.
type Profile struct {
	ID           string
	Name         string
	Timezone     string
	Address      string
	ReplyToEmail string
}

// Location returns the clinic timezone, falling back to UTC.
func (p *Profile) Location() *time.Location {
	if p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var (
	nameAliases    = docstore.Aliases{"name", "displayName"}
	addressAliases = docstore.Aliases{"address", "formattedAddress"}
	replyToAliases = docstore.Aliases{"replyToEmail", "email"}
)

type documentGetter interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
}

// LoadProfile reads the clinic document. A missing document yields a
// profile with defaults so notifications still go out.
func LoadProfile(ctx context.Context, store documentGetter, clinicID string) (*Profile, error) {
	profile := &Profile{ID: clinicID, Name: "Clinic", Timezone: "UTC"}
	doc, err := store.Get(ctx, Path(clinicID))
	if errors.Is(err, docstore.ErrNotFound) {
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: load profile: %w", err)
	}
	if name := nameAliases.String(doc.Fields); name != "" {
		profile.Name = name
	}
	if tz := doc.String("timezone"); tz != "" {
		profile.Timezone = tz
	}
	profile.Address = addressAliases.String(doc.Fields)
	profile.ReplyToEmail = replyToAliases.String(doc.Fields)
	return profile, nil
}

package membership

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

const (
	InviteStatusPending = "pending"
	DefaultInviteRole   = "staff"
)

type inviteWriter interface {
	Set(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
}

// Invite is a pending invitation to join a clinic.
type Invite struct {
	ID        string
	ClinicID  string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// Invites writes clinics/{id}/invites. The signup gate reads them back
// through the collection-group index on email.
type Invites struct {
	store  inviteWriter
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
	logger *logging.Logger
}

func NewInvites(store inviteWriter, ttl time.Duration, logger *logging.Logger) *Invites {
	if store == nil {
		panic("membership: document store cannot be nil")
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Invites{store: store, ttl: ttl, now: time.Now, newID: uuid.NewString, logger: logger}
}

// Create persists a pending invite for email.
func (i *Invites) Create(ctx context.Context, invitedBy, clinicID, email, role string) (*Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, apperr.InvalidArgument("email %q is not valid", email)
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = DefaultInviteRole
	}

	now := i.now().UTC()
	inv := &Invite{
		ID:        i.newID(),
		ClinicID:  clinicID,
		Email:     email,
		Role:      role,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.Set(ctx, clinic.InvitePath(clinicID, inv.ID), map[string]any{
		"clinicId":  clinicID,
		"email":     email,
		"role":      role,
		"status":    InviteStatusPending,
		"invitedBy": invitedBy,
		"createdAt": docstore.FormatTimestamp(now),
		"expiresAt": docstore.FormatTimestamp(inv.ExpiresAt),
	}); err != nil {
		return nil, fmt.Errorf("membership: save invite: %w", err)
	}
	i.logger.Info("invite created", "clinic_id", clinicID, "invite_id", inv.ID, "role", role)
	return inv, nil
}

// Delete removes an invite, e.g. when its email could not be delivered.
func (i *Invites) Delete(ctx context.Context, clinicID, inviteID string) error {
	return i.store.Delete(ctx, clinic.InvitePath(clinicID, inviteID))
}

// Package signup decides whether a new account may be created. An email
// is admitted when it is on the platform allowlist or holds a pending,
// unexpired clinic invite.
package signup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

var (
	ErrNoEventData = errors.New("no event data")
	ErrNoEmail     = errors.New("an email address is required to sign up")
	// ErrSignupDisabled does not say which check failed.
	ErrSignupDisabled = errors.New("sign up is not available for this account")
)

// InviteStatusPending marks an invite that has not been accepted or revoked.
const InviteStatusPending = "pending"

const maxInviteMatches = 10

// Decision is how a signup attempt was resolved.
type Decision string

const (
	DecisionAllowlist Decision = "allowlist"
	DecisionInvite    Decision = "invite"
	DecisionDenied    Decision = "denied"
)

var inviteExpiry = docstore.Aliases{"expiresAt"}

type documentReader interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error)
}

// Observer records signup decisions.
type Observer interface {
	ObserveSignup(decision string)
}

// Gate evaluates signup attempts.
type Gate struct {
	store    documentReader
	now      func() time.Time
	observer Observer
	logger   *logging.Logger
}

// NewGate builds a gate reading the allowlist and invites from store.
func NewGate(store documentReader, observer Observer, logger *logging.Logger) *Gate {
	if store == nil {
		panic("signup: document store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{store: store, now: time.Now, observer: observer, logger: logger}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Allow reports how the email was admitted, or ErrSignupDisabled when it
// was not. Lookup failures are returned wrapped.
func (g *Gate) Allow(ctx context.Context, rawEmail string) (Decision, error) {
	email := NormalizeEmail(rawEmail)
	if email == "" {
		return DecisionDenied, ErrNoEmail
	}

	decision, err := g.decide(ctx, email)
	if err != nil {
		return DecisionDenied, err
	}
	if g.observer != nil {
		g.observer.ObserveSignup(string(decision))
	}
	if decision == DecisionDenied {
		g.logger.Info("signup blocked", "email_domain", emailDomain(email))
		return decision, ErrSignupDisabled
	}
	g.logger.Info("signup allowed", "decision", decision, "email_domain", emailDomain(email))
	return decision, nil
}

func (g *Gate) decide(ctx context.Context, email string) (Decision, error) {
	allowed, err := g.allowlisted(ctx, email)
	if err != nil {
		return DecisionDenied, err
	}
	if allowed {
		return DecisionAllowlist, nil
	}

	invited, err := g.invited(ctx, email)
	if err != nil {
		return DecisionDenied, err
	}
	if invited {
		return DecisionInvite, nil
	}
	return DecisionDenied, nil
}

func (g *Gate) allowlisted(ctx context.Context, email string) (bool, error) {
	if !clinic.ValidID(email) {
		return false, nil
	}
	doc, err := g.store.Get(ctx, clinic.AllowlistPath(email))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("signup: load allowlist: %w", err)
	}
	enabled, isBool := doc.Bool("enabled")
	return isBool && enabled, nil
}

func (g *Gate) invited(ctx context.Context, email string) (bool, error) {
	invites, err := g.store.Query(ctx, docstore.Query{
		Group:      clinic.InvitesCollectionID,
		IndexField: "email",
		IndexValue: email,
		Filters:    []docstore.Filter{docstore.Where("status", docstore.OpEqual, InviteStatusPending)},
		Limit:      maxInviteMatches,
	})
	if err != nil {
		return false, fmt.Errorf("signup: query invites: %w", err)
	}
	now := g.now()
	for _, inv := range invites {
		if expires, ok := inviteExpiry.Timestamp(inv.Fields); ok && expires.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}

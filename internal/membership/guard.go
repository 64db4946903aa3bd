// Package membership decides whether a caller may act inside a clinic.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/clinic"
	"github.com/wolfman30/clinic-functions/internal/docstore"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// Status is the lifecycle state of a canonical membership.
type Status string

const (
	StatusActive    Status = "active"
	StatusInvited   Status = "invited"
	StatusSuspended Status = "suspended"
)

// Source names which record authorized the caller.
type Source string

const (
	SourceCanonical Source = "memberships"
	SourceLegacy    Source = "members"
)

// Grant is the result of a successful check.
type Grant struct {
	UID      string
	ClinicID string
	// Path is the membership record that authorized the caller.
	Path   string
	Source Source
}

type documentGetter interface {
	Get(ctx context.Context, path string) (*docstore.Document, error)
}

// resolver is one step of the lookup. The first resolver whose record
// exists decides the outcome; later resolvers are not consulted.
type resolver struct {
	source Source
	path   func(clinicID, uid string) string
	decide func(doc *docstore.Document) error
}

// Guard checks clinic membership against the canonical record first and
// the legacy record second.
type Guard struct {
	store     documentGetter
	resolvers []resolver
	logger    *logging.Logger
}

// NewGuard builds a guard reading membership documents from store.
func NewGuard(store documentGetter, logger *logging.Logger) *Guard {
	if store == nil {
		panic("membership: document store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{
		store: store,
		resolvers: []resolver{
			{source: SourceCanonical, path: clinic.MembershipPath, decide: decideCanonical},
			{source: SourceLegacy, path: clinic.LegacyMemberPath, decide: decideLegacy},
		},
		logger: logger,
	}
}

// Check authorizes callerID within clinicID.
func (g *Guard) Check(ctx context.Context, callerID, clinicID string) (*Grant, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, apperr.Unauthenticated("sign in required")
	}
	clinicID = strings.TrimSpace(clinicID)
	if !clinic.ValidID(clinicID) {
		return nil, apperr.InvalidArgument("clinicId is required")
	}

	for _, r := range g.resolvers {
		path := r.path(clinicID, callerID)
		doc, err := g.store.Get(ctx, path)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("membership: lookup %s: %w", r.source, err)
		}
		if err := r.decide(doc); err != nil {
			g.logger.Info("membership denied", "clinic_id", clinicID, "uid", callerID, "source", r.source, "reason", apperr.Message(err))
			return nil, err
		}
		return &Grant{UID: callerID, ClinicID: clinicID, Path: path, Source: r.source}, nil
	}

	g.logger.Info("membership denied", "clinic_id", clinicID, "uid", callerID, "reason", "no membership")
	return nil, apperr.PermissionDenied("not a member of this clinic")
}

func decideCanonical(doc *docstore.Document) error {
	switch Status(strings.ToLower(strings.TrimSpace(doc.String("status")))) {
	case StatusSuspended:
		return apperr.PermissionDenied("membership is suspended")
	case StatusInvited:
		return apperr.PermissionDenied("membership invitation not yet accepted")
	}
	return decideLegacy(doc)
}

func decideLegacy(doc *docstore.Document) error {
	if active, isBool := doc.Bool("active"); isBool && !active {
		return apperr.PermissionDenied("membership is inactive")
	}
	return nil
}

// Package identity maps incoming event identifiers onto a single lead
// record, creating one when nothing matches. At most one lead is ever
// created per identifier set: creation runs under the unique constraints
// on email and each external id, and a conflict retries the lookup once.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
	"github.com/genomiq/lead-engine/internal/pkg/logger"
)

// Store is the slice of the lead store the resolver needs.
type Store interface {
	FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error)
	FindLeadByExternalID(ctx context.Context, column, value string) (*domain.Lead, error)
	CreateLead(ctx context.Context, l *domain.Lead) error
	FillIdentifiers(ctx context.Context, id uuid.UUID, ident domain.LeadIdentifier) error
}

// Resolver resolves identifier sets to leads.
type Resolver struct {
	store Store

	// placeholderSeq disambiguates synthesized placeholder emails created
	// by this process; uniqueness across processes comes from the lead id.
	placeholderSeq atomic.Uint64
}

// NewResolver builds a resolver over the lead store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps an identifier set to one lead, creating it when no
// identifier matches. First-touch attribution on a created lead is set
// from the triggering event.
func (r *Resolver) Resolve(ctx context.Context, ident domain.LeadIdentifier, source, campaign string, occurredAt time.Time) (*domain.Lead, bool, error) {
	if ident.Empty() {
		return nil, false, apperr.New(apperr.CodeValidation, "lead_identifier must contain at least one identifier")
	}
	norm := Normalize(ident)

	lead, err := r.lookup(ctx, norm)
	if err == nil {
		// Backfill any identifiers the matched lead is missing. A set
		// identifier is never overwritten.
		if err := r.store.FillIdentifiers(ctx, lead.ID, norm); err != nil {
			logger.Warn("identity: identifier backfill failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
		return lead, false, nil
	}
	if apperr.CodeOf(err) != apperr.CodeNotFound {
		return nil, false, err
	}

	created, err := r.create(ctx, norm, source, campaign, occurredAt)
	if err == nil {
		return created, true, nil
	}
	// Two concurrent first events may both miss the lookup; the loser of
	// the insert race retries the lookup once and adopts the winner's lead.
	if apperr.CodeOf(err) == apperr.CodeConflict {
		lead, lookupErr := r.lookup(ctx, norm)
		if lookupErr == nil {
			return lead, false, nil
		}
		return nil, false, fmt.Errorf("post-conflict lookup: %w", lookupErr)
	}
	return nil, false, err
}

// lookup walks the resolution order: email, portal id, waalaxy id,
// LinkedIn URL, lemlist id. First match wins.
func (r *Resolver) lookup(ctx context.Context, ident domain.LeadIdentifier) (*domain.Lead, error) {
	type probe struct {
		column string
		value  string
	}
	probes := []probe{
		{"email", ident.Email},
		{"portal_id", ident.PortalID},
		{"waalaxy_id", ident.WaalaxyID},
		{"linkedin_url", ident.LinkedInURL},
		{"lemlist_id", ident.LemlistID},
	}
	for _, p := range probes {
		if p.value == "" {
			continue
		}
		var lead *domain.Lead
		var err error
		if p.column == "email" {
			lead, err = r.store.FindLeadByEmail(ctx, p.value)
		} else {
			lead, err = r.store.FindLeadByExternalID(ctx, p.column, p.value)
		}
		if err == nil {
			return lead, nil
		}
		if apperr.CodeOf(err) != apperr.CodeNotFound {
			return nil, err
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, "no lead matches identifier set")
}

func (r *Resolver) create(ctx context.Context, ident domain.LeadIdentifier, source, campaign string, occurredAt time.Time) (*domain.Lead, error) {
	lead := &domain.Lead{
		Email:          ident.Email,
		Status:         domain.LeadNew,
		LifecycleStage: domain.StageLead,
		RoutingStatus:  domain.RoutingUnrouted,
		IntentSummary:  map[domain.Intent]int{},

		FirstTouchSource:   source,
		FirstTouchCampaign: campaign,
		FirstTouchAt:       &occurredAt,
		LastTouchSource:    source,
		LastTouchCampaign:  campaign,
		LastTouchAt:        &occurredAt,
	}
	setIfPresent(&lead.PortalID, ident.PortalID)
	setIfPresent(&lead.WaalaxyID, ident.WaalaxyID)
	setIfPresent(&lead.LinkedInURL, ident.LinkedInURL)
	setIfPresent(&lead.LemlistID, ident.LemlistID)

	if lead.Email == "" {
		// Only non-email identifiers are known. Synthesize a placeholder
		// address, flagged so it is never used for outbound.
		lead.Email = fmt.Sprintf("unknown+%d@placeholder.local", r.placeholderSeq.Add(1))
		lead.EmailPlaceholder = true
	}

	if err := r.store.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, err
	}
	logger.Info("identity: lead created", "lead_id", lead.ID.String(), "source", source)
	return lead, nil
}

func setIfPresent(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

// Normalize canonicalizes the identifier set: email lowercased, LinkedIn
// URL host lowercased with the trailing slash stripped.
func Normalize(ident domain.LeadIdentifier) domain.LeadIdentifier {
	out := ident
	out.Email = strings.ToLower(strings.TrimSpace(ident.Email))
	out.LinkedInURL = NormalizeURL(ident.LinkedInURL)
	return out
}

// NormalizeURL lowercases the scheme and host of a URL and strips the
// trailing slash so equivalent profile links dedupe to one lead.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

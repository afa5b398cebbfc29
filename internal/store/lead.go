package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
)

const leadColumns = `
	id, email, portal_id, linkedin_url, waalaxy_id, lemlist_id, email_placeholder,
	first_name, last_name, phone, job_title, organization_id,
	status, lifecycle_stage,
	demographic_score, engagement_score, behavior_score, total_score,
	pipeline_id, routing_status, routed_at,
	primary_intent, intent_confidence, intent_summary,
	first_touch_source, first_touch_campaign, first_touch_at,
	last_touch_source, last_touch_campaign, last_touch_at,
	consent_at, consent_source, deletion_requested_at,
	last_activity_at, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var primaryIntent sql.NullString
	var summaryRaw []byte
	err := row.Scan(
		&l.ID, &l.Email, &l.PortalID, &l.LinkedInURL, &l.WaalaxyID, &l.LemlistID, &l.EmailPlaceholder,
		&l.FirstName, &l.LastName, &l.Phone, &l.JobTitle, &l.OrganizationID,
		&l.Status, &l.LifecycleStage,
		&l.DemographicScore, &l.EngagementScore, &l.BehaviorScore, &l.TotalScore,
		&l.PipelineID, &l.RoutingStatus, &l.RoutedAt,
		&primaryIntent, &l.IntentConfidence, &summaryRaw,
		&l.FirstTouchSource, &l.FirstTouchCampaign, &l.FirstTouchAt,
		&l.LastTouchSource, &l.LastTouchCampaign, &l.LastTouchAt,
		&l.ConsentAt, &l.ConsentSource, &l.DeletionRequestedAt,
		&l.LastActivityAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if primaryIntent.Valid {
		intent := domain.Intent(primaryIntent.String)
		l.PrimaryIntent = &intent
	}
	if len(summaryRaw) > 0 {
		if err := json.Unmarshal(summaryRaw, &l.IntentSummary); err != nil {
			return nil, fmt.Errorf("decode intent_summary: %w", err)
		}
	}
	return l, nil
}

// GetLead fetches one lead by id.
func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		return nil, translateErr(err, "lead")
	}
	return lead, nil
}

// FindLeadByEmail looks a lead up by exact, case-insensitive email.
func (s *Store) FindLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, translateErr(err, "lead")
	}
	return lead, nil
}

// External identifier columns the resolver may match on. Kept as an
// allow-list so the column name can be interpolated safely.
var externalIDColumns = map[string]bool{
	"portal_id":    true,
	"waalaxy_id":   true,
	"linkedin_url": true,
	"lemlist_id":   true,
}

// FindLeadByExternalID looks a lead up by one of the external identifier
// columns. The column must be on the allow-list.
func (s *Store) FindLeadByExternalID(ctx context.Context, column, value string) (*domain.Lead, error) {
	if !externalIDColumns[column] {
		return nil, apperr.New(apperr.CodeValidation, "unknown identifier column %q", column)
	}
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE `+column+` = $1`, value))
	if err != nil {
		return nil, translateErr(err, "lead")
	}
	return lead, nil
}

// CreateLead inserts a new lead. Unique violations on email or any
// external id surface as conflict so the resolver can retry its lookup.
func (s *Store) CreateLead(ctx context.Context, l *domain.Lead) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	summary, err := json.Marshal(l.IntentSummary)
	if err != nil {
		return fmt.Errorf("encode intent_summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leads
			(id, email, portal_id, linkedin_url, waalaxy_id, lemlist_id, email_placeholder,
			 first_name, last_name, phone, job_title, organization_id,
			 status, lifecycle_stage, routing_status,
			 intent_summary,
			 first_touch_source, first_touch_campaign, first_touch_at,
			 last_touch_source, last_touch_campaign, last_touch_at,
			 created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW(), NOW())
	`, l.ID, l.Email, l.PortalID, l.LinkedInURL, l.WaalaxyID, l.LemlistID, l.EmailPlaceholder,
		l.FirstName, l.LastName, l.Phone, l.JobTitle, l.OrganizationID,
		l.Status, l.LifecycleStage, l.RoutingStatus,
		summary,
		l.FirstTouchSource, l.FirstTouchCampaign, l.FirstTouchAt,
		l.LastTouchSource, l.LastTouchCampaign, l.LastTouchAt)
	return translateErr(err, "lead")
}

// FillIdentifiers sets any missing identifiers on an existing lead with
// COALESCE semantics: a set identifier is never overwritten.
func (s *Store) FillIdentifiers(ctx context.Context, id uuid.UUID, ident domain.LeadIdentifier) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			portal_id    = COALESCE(portal_id, NULLIF($2, '')),
			waalaxy_id   = COALESCE(waalaxy_id, NULLIF($3, '')),
			linkedin_url = COALESCE(linkedin_url, NULLIF($4, '')),
			lemlist_id   = COALESCE(lemlist_id, NULLIF($5, '')),
			updated_at   = NOW()
		WHERE id = $1
	`, id, ident.PortalID, ident.WaalaxyID, ident.LinkedInURL, ident.LemlistID)
	return translateErr(err, "lead identifiers")
}

// UpdateAttribution sets last-touch fields unconditionally and first-touch
// fields only when still unset.
func (s *Store) UpdateAttribution(ctx context.Context, id uuid.UUID, source, campaign string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			last_touch_source    = $2,
			last_touch_campaign  = $3,
			last_touch_at        = $4,
			first_touch_source   = CASE WHEN first_touch_at IS NULL THEN $2 ELSE first_touch_source END,
			first_touch_campaign = CASE WHEN first_touch_at IS NULL THEN $3 ELSE first_touch_campaign END,
			first_touch_at       = COALESCE(first_touch_at, $4),
			updated_at           = NOW()
		WHERE id = $1
	`, id, source, campaign, at)
	return translateErr(err, "lead attribution")
}

// UpdateLeadScores writes the denormalized category scores. The ledger is
// authoritative; callers pass totals recomputed from score_history.
func (s *Store) UpdateLeadScores(ctx context.Context, id uuid.UUID, demographic, engagement, behavior int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			demographic_score = $2,
			engagement_score  = $3,
			behavior_score    = $4,
			total_score       = $2 + $3 + $4,
			updated_at        = NOW()
		WHERE id = $1
	`, id, demographic, engagement, behavior)
	return translateErr(err, "lead scores")
}

// PromoteLifecycleStage moves the lead's lifecycle stage forward. Stages
// are sticky: the update only applies when the new stage ranks higher.
func (s *Store) PromoteLifecycleStage(ctx context.Context, id uuid.UUID, stage domain.LifecycleStage) error {
	current, err := s.GetLead(ctx, id)
	if err != nil {
		return err
	}
	if domain.StageRank(stage) <= domain.StageRank(current.LifecycleStage) {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE leads SET lifecycle_stage = $2, updated_at = NOW() WHERE id = $1`,
		id, stage)
	return translateErr(err, "lifecycle stage")
}

// UpdateLeadIntent persists the recomputed intent summary onto the lead.
func (s *Store) UpdateLeadIntent(ctx context.Context, id uuid.UUID, primary *domain.Intent, confidence int, summary map[domain.Intent]int) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode intent_summary: %w", err)
	}
	var primaryVal any
	if primary != nil {
		primaryVal = string(*primary)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE leads SET
			primary_intent    = $2,
			intent_confidence = $3,
			intent_summary    = $4,
			updated_at        = NOW()
		WHERE id = $1
	`, id, primaryVal, confidence, raw)
	return translateErr(err, "lead intent")
}

// SetLastActivity records the occurrence time of the latest processed event.
func (s *Store) SetLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET last_activity_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return translateErr(err, "lead activity")
}

// Lead fields an automation update_field action may touch.
var updatableLeadFields = map[string]bool{
	"status":          true,
	"lifecycle_stage": true,
	"primary_intent":  true,
}

// UpdateLeadField sets one allow-listed lead field.
func (s *Store) UpdateLeadField(ctx context.Context, id uuid.UUID, field, value string) error {
	if !updatableLeadFields[field] {
		return apperr.New(apperr.CodeValidation, "field %q is not updatable", field)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET `+field+` = $2, updated_at = NOW() WHERE id = $1`, id, value)
	return translateErr(err, "lead field")
}

// LeadFilter controls pagination and filtering for lead listings.
type LeadFilter struct {
	Status        string
	RoutingStatus string
	Intent        string
	MinScore      int
	Limit         int
	Offset        int
}

// ListLeads returns leads matching the filter, newest first, with a total
// count for pagination.
func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]domain.Lead, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := []string{"1=1"}
	args := []any{}
	idx := 1
	add := func(clause string, val any) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, val)
		idx++
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.RoutingStatus != "" {
		add("routing_status = $%d", f.RoutingStatus)
	}
	if f.Intent != "" {
		add("primary_intent = $%d", f.Intent)
	}
	if f.MinScore > 0 {
		add("total_score >= $%d", f.MinScore)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, translateErr(err, "lead count")
	}

	query := fmt.Sprintf(`SELECT %s FROM leads WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		leadColumns, cond, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, translateErr(err, "lead list")
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, translateErr(err, "lead list")
		}
		out = append(out, *lead)
	}
	return out, total, rows.Err()
}

// UnroutedLeads returns Global Pool leads, highest score first.
func (s *Store) UnroutedLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+leadColumns+` FROM leads
		WHERE pipeline_id IS NULL AND deletion_requested_at IS NULL
		ORDER BY total_score DESC, created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, translateErr(err, "unrouted leads")
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, translateErr(err, "unrouted leads")
		}
		out = append(out, *lead)
	}
	return out, rows.Err()
}

// LeadsPendingDeletion returns leads whose GDPR deletion request is older
// than the cutoff and that still carry identifiers.
func (s *Store) LeadsPendingDeletion(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM leads
		WHERE deletion_requested_at IS NOT NULL
		  AND deletion_requested_at < $1
		  AND email NOT LIKE 'deleted+%'
	`, cutoff)
	if err != nil {
		return nil, translateErr(err, "gdpr sweep")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, translateErr(err, "gdpr sweep")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AnonymizeLead nulls all identifiers and replaces the email with a
// tombstone. The lead row itself survives so ledgers stay referentially
// intact; the person is no longer identifiable.
func (s *Store) AnonymizeLead(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			email            = 'deleted+' || id::text || '@anonymized.invalid',
			email_placeholder = TRUE,
			portal_id        = NULL,
			linkedin_url     = NULL,
			waalaxy_id       = NULL,
			lemlist_id       = NULL,
			first_name       = '',
			last_name        = '',
			phone            = '',
			job_title        = '',
			updated_at       = NOW()
		WHERE id = $1
	`, id)
	return translateErr(err, "lead anonymize")
}

// GetOrganization fetches a lead's organization, or nil when unset.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, industry, company_size, country_code,
		       moco_customer_id, created_at, updated_at
		FROM organizations WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.Domain, &o.Industry, &o.CompanySize,
		&o.CountryCode, &o.MocoCustomerID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, translateErr(err, "organization")
	}
	return o, nil
}

// SetOrganizationMocoID persists the finance customer id after a sync.
func (s *Store) SetOrganizationMocoID(ctx context.Context, id uuid.UUID, mocoID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET moco_customer_id = $2, updated_at = NOW() WHERE id = $1`,
		id, mocoID)
	return translateErr(err, "organization moco id")
}

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
	"github.com/genomiq/lead-engine/internal/pkg/apperr"
)

// PipelineBySlug fetches one pipeline by its slug.
func (s *Store) PipelineBySlug(ctx context.Context, slug string) (*domain.Pipeline, error) {
	p := &domain.Pipeline{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, sales_cycle_days, is_default, created_at, updated_at
		FROM pipelines WHERE slug = $1
	`, slug).Scan(&p.ID, &p.Slug, &p.Name, &p.SalesCycleDays, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, translateErr(err, "pipeline")
	}
	return p, nil
}

// FirstStage returns the stage at position 1 of a pipeline.
func (s *Store) FirstStage(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineStage, error) {
	return s.stageWhere(ctx, `pipeline_id = $1 AND position = 1`, pipelineID)
}

// StageBySlug returns a named stage within a pipeline.
func (s *Store) StageBySlug(ctx context.Context, pipelineID uuid.UUID, slug string) (*domain.PipelineStage, error) {
	return s.stageWhere(ctx, `pipeline_id = $1 AND slug = $2`, pipelineID, slug)
}

func (s *Store) stageWhere(ctx context.Context, cond string, args ...any) (*domain.PipelineStage, error) {
	st := &domain.PipelineStage{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline_id, slug, name, position, stage_type, created_at
		FROM pipeline_stages WHERE `+cond,
		args...).Scan(&st.ID, &st.PipelineID, &st.Slug, &st.Name, &st.Position, &st.StageType, &st.CreatedAt)
	if err != nil {
		return nil, translateErr(err, "pipeline stage")
	}
	return st, nil
}

// ErrAssigneeFull is returned when the chosen team member reached MaxLeads
// between selection and the conditional increment. Callers re-pick.
var ErrAssigneeFull = apperr.New(apperr.CodeConflict, "team member is at capacity")

// RouteParams carries one routing action: upsert the deal, mark the lead
// routed, and optionally increment the assignee's load — one transaction.
type RouteParams struct {
	Lead       *domain.Lead
	PipelineID uuid.UUID
	StageID    uuid.UUID
	DealName   string
	AssigneeID *uuid.UUID
	Region     string
	Now        time.Time
}

// RouteResult reports the transaction outcome.
type RouteResult struct {
	DealID      uuid.UUID
	DealCreated bool
}

// ExecuteRouting performs the routing side effects atomically. The deal
// upsert is unique on (lead_id, pipeline_id): re-running yields the same
// deal and never double-increments current_leads, because the increment
// only happens when a new deal row was actually inserted.
func (s *Store) ExecuteRouting(ctx context.Context, p RouteParams) (*RouteResult, error) {
	res := &RouteResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		dealID := uuid.New()
		err := tx.QueryRowContext(ctx, `
			INSERT INTO deals
				(id, lead_id, pipeline_id, stage_id, name, currency, status,
				 stage_entered_at, assigned_to, assigned_region, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'EUR', 'open', $6, $7, $8, NOW(), NOW())
			ON CONFLICT (lead_id, pipeline_id) DO NOTHING
			RETURNING id
		`, dealID, p.Lead.ID, p.PipelineID, p.StageID, p.DealName, p.Now,
			p.AssigneeID, p.Region).Scan(&res.DealID)
		switch {
		case err == sql.ErrNoRows:
			// Lost the upsert race or re-entry: reuse the existing deal.
			if err := tx.QueryRowContext(ctx,
				`SELECT id FROM deals WHERE lead_id = $1 AND pipeline_id = $2`,
				p.Lead.ID, p.PipelineID).Scan(&res.DealID); err != nil {
				return translateErr(err, "deal")
			}
		case err != nil:
			return translateErr(err, "deal")
		default:
			res.DealCreated = true
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE leads SET pipeline_id = $2, routing_status = 'routed', routed_at = $3, updated_at = NOW()
			WHERE id = $1
		`, p.Lead.ID, p.PipelineID, p.Now); err != nil {
			return translateErr(err, "lead routing")
		}

		if res.DealCreated && p.AssigneeID != nil {
			// Conditional increment: over-assignment past max_leads is
			// impossible even under concurrent routing.
			r, err := tx.ExecContext(ctx, `
				UPDATE team_members
				SET current_leads = current_leads + 1, last_assigned_at = $2, updated_at = NOW()
				WHERE id = $1 AND current_leads < max_leads
			`, *p.AssigneeID, p.Now)
			if err != nil {
				return translateErr(err, "owner assignment")
			}
			if n, _ := r.RowsAffected(); n == 0 {
				return ErrAssigneeFull
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetDeal fetches one deal by id.
func (s *Store) GetDeal(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	return s.dealWhere(ctx, `id = $1`, id)
}

// DealForLead returns the lead's deal in the given pipeline.
func (s *Store) DealForLead(ctx context.Context, leadID, pipelineID uuid.UUID) (*domain.Deal, error) {
	return s.dealWhere(ctx, `lead_id = $1 AND pipeline_id = $2`, leadID, pipelineID)
}

func (s *Store) dealWhere(ctx context.Context, cond string, args ...any) (*domain.Deal, error) {
	d := &domain.Deal{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, pipeline_id, stage_id, name, value, currency, status,
		       stage_entered_at, assigned_to, COALESCE(assigned_region, ''),
		       moco_offer_id, moco_invoice_id, created_at, updated_at
		FROM deals WHERE `+cond,
		args...).Scan(&d.ID, &d.LeadID, &d.PipelineID, &d.StageID, &d.Name, &d.Value,
		&d.Currency, &d.Status, &d.StageEnteredAt, &d.AssignedTo, &d.AssignedRegion,
		&d.MocoOfferID, &d.MocoInvoiceID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, translateErr(err, "deal")
	}
	return d, nil
}

// MoveDealStage moves a deal to another stage of its own pipeline and
// resets the stage clock.
func (s *Store) MoveDealStage(ctx context.Context, dealID, stageID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deals SET stage_id = $2, stage_entered_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, dealID, stageID)
	if err != nil {
		return translateErr(err, "deal stage")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return translateErr(errNoRows, "deal")
	}
	return nil
}

// SetDealMocoIDs persists the finance offer and invoice ids.
func (s *Store) SetDealMocoIDs(ctx context.Context, dealID uuid.UUID, offerID, invoiceID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deals SET
			moco_offer_id   = COALESCE($2, moco_offer_id),
			moco_invoice_id = COALESCE($3, moco_invoice_id),
			updated_at      = NOW()
		WHERE id = $1
	`, dealID, offerID, invoiceID)
	return translateErr(err, "deal moco ids")
}

// StaleDeal is one row of the time-in-stage sweep.
type StaleDeal struct {
	Deal      domain.Deal
	StageSlug string
	DaysIn    int
}

// DealsInStageLongerThan returns open deals sitting in the named stage for
// more than the given number of days. Fed to time_in_stage automation.
func (s *Store) DealsInStageLongerThan(ctx context.Context, stageSlug string, days int) ([]StaleDeal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.lead_id, d.pipeline_id, d.stage_id, d.name, d.status,
		       d.stage_entered_at, d.assigned_to,
		       ps.slug,
		       EXTRACT(DAY FROM NOW() - d.stage_entered_at)::int
		FROM deals d
		JOIN pipeline_stages ps ON ps.id = d.stage_id
		WHERE d.status = 'open'
		  AND ps.slug = $1
		  AND d.stage_entered_at < NOW() - ($2 || ' days')::interval
	`, stageSlug, days)
	if err != nil {
		return nil, translateErr(err, "stale deals")
	}
	defer rows.Close()

	var out []StaleDeal
	for rows.Next() {
		var sd StaleDeal
		if err := rows.Scan(&sd.Deal.ID, &sd.Deal.LeadID, &sd.Deal.PipelineID,
			&sd.Deal.StageID, &sd.Deal.Name, &sd.Deal.Status,
			&sd.Deal.StageEnteredAt, &sd.Deal.AssignedTo,
			&sd.StageSlug, &sd.DaysIn); err != nil {
			return nil, translateErr(err, "stale deals")
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

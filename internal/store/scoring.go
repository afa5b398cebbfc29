package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
)

const scoringRuleColumns = `
	id, slug, name, category, rule_type, conditions, points,
	max_per_day, max_per_lead, decay_days, priority, is_active, version,
	created_at, updated_at`

func scanScoringRule(row interface{ Scan(...any) error }) (*domain.ScoringRule, error) {
	r := &domain.ScoringRule{}
	var cond []byte
	err := row.Scan(&r.ID, &r.Slug, &r.Name, &r.Category, &r.RuleType, &cond, &r.Points,
		&r.MaxPerDay, &r.MaxPerLead, &r.DecayDays, &r.Priority, &r.IsActive, &r.Version,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(cond) > 0 {
		if err := json.Unmarshal(cond, &r.Conditions); err != nil {
			return nil, fmt.Errorf("decode rule conditions: %w", err)
		}
	}
	return r, nil
}

// ActiveScoringRules returns active rules sorted by descending priority.
// The scoring engine caches the result with a TTL.
func (s *Store) ActiveScoringRules(ctx context.Context) ([]domain.ScoringRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scoringRuleColumns+` FROM scoring_rules WHERE is_active ORDER BY priority DESC, slug`)
	if err != nil {
		return nil, translateErr(err, "scoring rules")
	}
	defer rows.Close()

	var out []domain.ScoringRule
	for rows.Next() {
		r, err := scanScoringRule(rows)
		if err != nil {
			return nil, translateErr(err, "scoring rules")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ListScoringRules returns every rule for the admin catalog.
func (s *Store) ListScoringRules(ctx context.Context) ([]domain.ScoringRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scoringRuleColumns+` FROM scoring_rules ORDER BY priority DESC, slug`)
	if err != nil {
		return nil, translateErr(err, "scoring rules")
	}
	defer rows.Close()

	var out []domain.ScoringRule
	for rows.Next() {
		r, err := scanScoringRule(rows)
		if err != nil {
			return nil, translateErr(err, "scoring rules")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CreateScoringRule inserts a rule at version 1.
func (s *Store) CreateScoringRule(ctx context.Context, r *domain.ScoringRule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scoring_rules
			(id, slug, name, category, rule_type, conditions, points,
			 max_per_day, max_per_lead, decay_days, priority, is_active, version,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, NOW(), NOW())
	`, r.ID, r.Slug, r.Name, r.Category, r.RuleType, cond, r.Points,
		r.MaxPerDay, r.MaxPerLead, r.DecayDays, r.Priority, r.IsActive)
	return translateErr(err, "scoring rule")
}

// UpdateScoringRule rewrites a rule's mutable fields and bumps its version.
func (s *Store) UpdateScoringRule(ctx context.Context, r *domain.ScoringRule) error {
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scoring_rules SET
			name = $2, category = $3, rule_type = $4, conditions = $5, points = $6,
			max_per_day = $7, max_per_lead = $8, decay_days = $9, priority = $10,
			is_active = $11, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, r.ID, r.Name, r.Category, r.RuleType, cond, r.Points,
		r.MaxPerDay, r.MaxPerLead, r.DecayDays, r.Priority, r.IsActive)
	if err != nil {
		return translateErr(err, "scoring rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return translateErr(errNoRows, "scoring rule")
	}
	return nil
}

// DeleteScoringRule removes a rule. History rows keep their rule_id; the
// foreign key is ON DELETE SET NULL so the ledger survives.
func (s *Store) DeleteScoringRule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scoring_rules WHERE id = $1`, id)
	if err != nil {
		return translateErr(err, "scoring rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return translateErr(errNoRows, "scoring rule")
	}
	return nil
}

// CountRuleApplications counts score-history rows for a (lead, rule) pair.
// A nil since counts the lifetime (max_per_lead); a rolling-24h since
// implements max_per_day.
func (s *Store) CountRuleApplications(ctx context.Context, leadID, ruleID uuid.UUID, since *time.Time) (int, error) {
	var n int
	var err error
	if since == nil {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM score_history WHERE lead_id = $1 AND rule_id = $2`,
			leadID, ruleID).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM score_history WHERE lead_id = $1 AND rule_id = $2 AND created_at >= $3`,
			leadID, ruleID, *since).Scan(&n)
	}
	if err != nil {
		return 0, translateErr(err, "rule application count")
	}
	return n, nil
}

// AppendScoreHistory writes one ledger row. Rows are never deleted; decay
// only flips the expired flag.
func (s *Store) AppendScoreHistory(ctx context.Context, e *domain.ScoreHistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO score_history
			(id, lead_id, event_id, rule_id, category, points_change, new_total,
			 reason, expires_at, expired, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW())
	`, e.ID, e.LeadID, e.EventID, e.RuleID, e.Category, e.PointsChange, e.NewTotal,
		e.Reason, e.ExpiresAt)
	return translateErr(err, "score history")
}

// CategoryTotals recomputes a lead's live category scores from the ledger:
// the sum of non-expired points_change per category. This is authoritative.
func (s *Store) CategoryTotals(ctx context.Context, leadID uuid.UUID) (map[domain.ScoreCategory]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COALESCE(SUM(points_change), 0)
		FROM score_history
		WHERE lead_id = $1 AND NOT expired
		GROUP BY category
	`, leadID)
	if err != nil {
		return nil, translateErr(err, "category totals")
	}
	defer rows.Close()

	totals := map[domain.ScoreCategory]int{
		domain.CategoryDemographic: 0,
		domain.CategoryEngagement:  0,
		domain.CategoryBehavior:    0,
	}
	for rows.Next() {
		var cat domain.ScoreCategory
		var sum int
		if err := rows.Scan(&cat, &sum); err != nil {
			return nil, translateErr(err, "category totals")
		}
		totals[cat] = sum
	}
	return totals, rows.Err()
}

// ExpireDueEntries flips due ledger rows to expired and returns the
// distinct leads touched, so the caller can recompute their scores.
// Running it twice in succession is a no-op the second time.
func (s *Store) ExpireDueEntries(ctx context.Context, now time.Time) ([]uuid.UUID, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE score_history
		SET expired = TRUE, expired_at = $1
		WHERE expires_at IS NOT NULL AND expires_at < $1 AND NOT expired
		RETURNING lead_id
	`, now)
	if err != nil {
		return nil, 0, translateErr(err, "score decay")
	}
	defer rows.Close()

	seen := map[uuid.UUID]bool{}
	expired := 0
	var leads []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, translateErr(err, "score decay")
		}
		expired++
		if !seen[id] {
			seen[id] = true
			leads = append(leads, id)
		}
	}
	return leads, expired, rows.Err()
}

// ScoreHistory returns a lead's ledger, newest first.
func (s *Store) ScoreHistory(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, event_id, rule_id, category, points_change, new_total,
		       COALESCE(reason, ''), expires_at, expired, expired_at, created_at
		FROM score_history
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, translateErr(err, "score history")
	}
	defer rows.Close()

	var out []domain.ScoreHistoryEntry
	for rows.Next() {
		var e domain.ScoreHistoryEntry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.EventID, &e.RuleID, &e.Category,
			&e.PointsChange, &e.NewTotal, &e.Reason, &e.ExpiresAt,
			&e.Expired, &e.ExpiredAt, &e.CreatedAt); err != nil {
			return nil, translateErr(err, "score history")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

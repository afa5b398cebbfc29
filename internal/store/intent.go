package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
)

// ActiveIntentRules returns the active intent rule catalog. Cached by the
// intent detector with a TTL.
func (s *Store) ActiveIntentRules(ctx context.Context) ([]domain.IntentRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, intent, trigger_type, conditions, confidence_points,
		       COALESCE(description, ''), is_active, created_at, updated_at
		FROM intent_rules
		WHERE is_active
		ORDER BY slug
	`)
	if err != nil {
		return nil, translateErr(err, "intent rules")
	}
	defer rows.Close()

	var out []domain.IntentRule
	for rows.Next() {
		var r domain.IntentRule
		var cond []byte
		if err := rows.Scan(&r.ID, &r.Slug, &r.Intent, &r.TriggerType, &cond,
			&r.ConfidencePoints, &r.Description, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, translateErr(err, "intent rules")
		}
		if len(cond) > 0 {
			if err := json.Unmarshal(cond, &r.Conditions); err != nil {
				return nil, fmt.Errorf("decode intent conditions: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertIntentSignal appends one signal to the intent ledger. Signals are
// monotonic and never deleted.
func (s *Store) InsertIntentSignal(ctx context.Context, sig *domain.IntentSignal) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intent_signals
			(id, lead_id, intent, rule_id, confidence_points, trigger_type, event_id, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, sig.ID, sig.LeadID, sig.Intent, sig.RuleID, sig.ConfidencePoints,
		sig.TriggerType, sig.EventID)
	return translateErr(err, "intent signal")
}

// IntentSummary sums confidence points per intent over the signal ledger.
func (s *Store) IntentSummary(ctx context.Context, leadID uuid.UUID) (map[domain.Intent]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent, COALESCE(SUM(confidence_points), 0)
		FROM intent_signals
		WHERE lead_id = $1
		GROUP BY intent
	`, leadID)
	if err != nil {
		return nil, translateErr(err, "intent summary")
	}
	defer rows.Close()

	summary := map[domain.Intent]int{}
	for rows.Next() {
		var intent domain.Intent
		var sum int
		if err := rows.Scan(&intent, &sum); err != nil {
			return nil, translateErr(err, "intent summary")
		}
		summary[intent] = sum
	}
	return summary, rows.Err()
}

// HasIntentRuleFired reports whether an intent rule has ever produced a
// signal for this lead. Used by the automation engine's intent-detected
// trigger guard.
func (s *Store) HasIntentRuleFired(ctx context.Context, leadID, ruleID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM intent_signals WHERE lead_id = $1 AND rule_id = $2)`,
		leadID, ruleID).Scan(&exists)
	if err != nil {
		return false, translateErr(err, "intent signal check")
	}
	return exists, nil
}

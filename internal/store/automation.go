package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
)

// ActiveAutomationRules returns active rules sorted by descending priority.
// Cached by the automation engine with a TTL.
func (s *Store) ActiveAutomationRules(ctx context.Context) ([]domain.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, trigger, trigger_config, action, action_config,
		       priority, pipeline_id, stage_id, is_active,
		       last_executed, execution_count, created_at, updated_at
		FROM automation_rules
		WHERE is_active
		ORDER BY priority DESC, slug
	`)
	if err != nil {
		return nil, translateErr(err, "automation rules")
	}
	defer rows.Close()

	var out []domain.AutomationRule
	for rows.Next() {
		var r domain.AutomationRule
		var trigCfg, actCfg []byte
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &r.Trigger, &trigCfg, &r.Action, &actCfg,
			&r.Priority, &r.PipelineID, &r.StageID, &r.IsActive,
			&r.LastExecuted, &r.ExecutionCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, translateErr(err, "automation rules")
		}
		if len(trigCfg) > 0 {
			if err := json.Unmarshal(trigCfg, &r.TriggerConfig); err != nil {
				return nil, fmt.Errorf("decode trigger config: %w", err)
			}
		}
		if len(actCfg) > 0 {
			if err := json.Unmarshal(actCfg, &r.ActionConfig); err != nil {
				return nil, fmt.Errorf("decode action config: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LogAutomationExecution inserts the idempotency row for one rule firing.
// Rows are unique on (rule_id, lead_id, threshold_key); a duplicate means
// the rule already fired for this lead/threshold and returns false.
func (s *Store) LogAutomationExecution(ctx context.Context, l *domain.AutomationLog) (bool, error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	data, err := json.Marshal(l.TriggerData)
	if err != nil {
		return false, fmt.Errorf("encode trigger data: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_logs
			(id, rule_id, lead_id, trigger_data, threshold_key, success, error, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (rule_id, lead_id, threshold_key) DO NOTHING
	`, l.ID, l.RuleID, l.LeadID, data, l.ThresholdKey, l.Success, l.Error)
	if err != nil {
		return false, translateErr(err, "automation log")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkAutomationExecuted bumps the rule's execution counters after success.
func (s *Store) MarkAutomationExecuted(ctx context.Context, ruleID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET execution_count = execution_count + 1, last_executed = NOW(), updated_at = NOW()
		WHERE id = $1
	`, ruleID)
	return translateErr(err, "automation rule counters")
}

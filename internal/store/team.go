package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/genomiq/lead-engine/internal/domain"
)

// PickAssignee selects the active team member of a role with spare
// capacity and the lowest current load, tie-broken by least-recently
// assigned. When region is non-empty only members of that region qualify.
// Returns not_found when nobody has capacity.
func (s *Store) PickAssignee(ctx context.Context, role domain.TeamRole, region string) (*domain.TeamMember, error) {
	query := `
		SELECT id, email, name, role, COALESCE(region, ''), is_active,
		       max_leads, current_leads, last_assigned_at, created_at, updated_at
		FROM team_members
		WHERE is_active AND role = $1 AND current_leads < max_leads`
	args := []any{role}
	if region != "" {
		query += ` AND region = $2`
		args = append(args, region)
	}
	query += ` ORDER BY current_leads ASC, last_assigned_at ASC NULLS FIRST LIMIT 1`

	m := &domain.TeamMember{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&m.ID, &m.Email, &m.Name, &m.Role, &m.Region, &m.IsActive,
		&m.MaxLeads, &m.CurrentLeads, &m.LastAssignedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, translateErr(err, "team member")
	}
	return m, nil
}

// IncrementAssigneeLoad bumps a member's load with the capacity guard.
// Used by automation's assign_owner action, which runs outside the routing
// transaction. Returns ErrAssigneeFull when the guard rejects.
func (s *Store) IncrementAssigneeLoad(ctx context.Context, memberID uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE team_members
		SET current_leads = current_leads + 1, last_assigned_at = $2, updated_at = NOW()
		WHERE id = $1 AND current_leads < max_leads
	`, memberID, now)
	if err != nil {
		return translateErr(err, "team member load")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAssigneeFull
	}
	return nil
}

// MemberByRole returns any active member of the role, for notification
// targets (e.g. the marketing manager).
func (s *Store) MemberByRole(ctx context.Context, role domain.TeamRole) (*domain.TeamMember, error) {
	m := &domain.TeamMember{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, COALESCE(region, ''), is_active,
		       max_leads, current_leads, last_assigned_at, created_at, updated_at
		FROM team_members
		WHERE is_active AND role = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, role).Scan(&m.ID, &m.Email, &m.Name, &m.Role, &m.Region, &m.IsActive,
		&m.MaxLeads, &m.CurrentLeads, &m.LastAssignedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, translateErr(err, "team member")
	}
	return m, nil
}

// CreateTask inserts a follow-up task, usually from an automation rule.
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = domain.TaskOpen
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks
			(id, lead_id, deal_id, title, description, task_type, assigned_to,
			 due_date, status, source_rule_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, t.ID, t.LeadID, t.DealID, t.Title, t.Description, t.TaskType, t.AssignedTo,
		t.DueDate, t.Status, t.SourceRuleID)
	return translateErr(err, "task")
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TeamRole enumerates who can own leads and deals.
type TeamRole string

const (
	RoleBDR                TeamRole = "bdr"
	RoleAE                 TeamRole = "ae"
	RolePartnershipManager TeamRole = "partnership_manager"
	RoleMarketingManager   TeamRole = "marketing_manager"
	RoleAdmin              TeamRole = "admin"
)

// TeamMember is a sales or marketing user eligible for owner assignment.
// CurrentLeads is the only hot counter in the system; it is updated with
// conditional writes so over-assignment past MaxLeads is impossible.
type TeamMember struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	Name           string     `json:"name" db:"name"`
	Role           TeamRole   `json:"role" db:"role"`
	Region         string     `json:"region" db:"region"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	MaxLeads       int        `json:"max_leads" db:"max_leads"`
	CurrentLeads   int        `json:"current_leads" db:"current_leads"`
	LastAssignedAt *time.Time `json:"last_assigned_at" db:"last_assigned_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// TaskStatus enumerates task states.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is a follow-up item, usually created by an automation rule.
type Task struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	LeadID      *uuid.UUID `json:"lead_id" db:"lead_id"`
	DealID      *uuid.UUID `json:"deal_id" db:"deal_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	TaskType    string     `json:"task_type" db:"task_type"`
	AssignedTo  *uuid.UUID `json:"assigned_to" db:"assigned_to"`
	DueDate     *time.Time `json:"due_date" db:"due_date"`
	Status      TaskStatus `json:"status" db:"status"`
	SourceRuleID *uuid.UUID `json:"source_rule_id" db:"source_rule_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

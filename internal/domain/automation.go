package domain

import (
	"time"

	"github.com/google/uuid"
)

// AutomationTrigger enumerates what fires an automation rule.
type AutomationTrigger string

const (
	TriggerEvent          AutomationTrigger = "event"
	TriggerScoreThreshold AutomationTrigger = "score_threshold"
	TriggerIntentDetected AutomationTrigger = "intent_detected"
	TriggerTimeInStage    AutomationTrigger = "time_in_stage"
)

// AutomationAction enumerates the bounded set of executable actions.
type AutomationAction string

const (
	ActionMoveToStage      AutomationAction = "move_to_stage"
	ActionAssignOwner      AutomationAction = "assign_owner"
	ActionSendNotification AutomationAction = "send_notification"
	ActionCreateTask       AutomationAction = "create_task"
	ActionSyncMoco         AutomationAction = "sync_moco"
	ActionUpdateField      AutomationAction = "update_field"
	ActionRouteToPipeline  AutomationAction = "route_to_pipeline"
)

// TriggerConfig parameterizes an automation trigger.
type TriggerConfig struct {
	// event trigger: same matcher shape as scoring event rules.
	EventType string         `json:"event_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// score_threshold trigger.
	Threshold int `json:"threshold,omitempty"`

	// intent_detected trigger.
	Intent        Intent `json:"intent,omitempty"`
	ConfidenceGTE int    `json:"confidence_gte,omitempty"`

	// time_in_stage trigger (daily sweep).
	StageSlug string `json:"stage_slug,omitempty"`
	Days      int    `json:"days,omitempty"`
}

// ActionConfig parameterizes an automation action.
type ActionConfig struct {
	// move_to_stage / route_to_pipeline.
	StageSlug    string `json:"stage_slug,omitempty"`
	PipelineSlug string `json:"pipeline_slug,omitempty"`
	CreateDeal   bool   `json:"create_deal,omitempty"`

	// assign_owner.
	Role     TeamRole `json:"role,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	Region   string   `json:"region,omitempty"`

	// send_notification: template with {lead.*} / {deal.*} placeholders.
	Channel  string `json:"channel,omitempty"`
	Template string `json:"template,omitempty"`

	// create_task.
	TaskTitle string `json:"task_title,omitempty"`
	TaskType  string `json:"task_type,omitempty"`
	DueDays   int    `json:"due_days,omitempty"`

	// sync_moco: create_customer | create_offer | create_invoice.
	MocoAction string `json:"moco_action,omitempty"`

	// update_field: allow-listed lead fields only.
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// AutomationRule binds one trigger to one action.
type AutomationRule struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	Slug          string            `json:"slug" db:"slug"`
	Name          string            `json:"name" db:"name"`
	Trigger       AutomationTrigger `json:"trigger" db:"trigger"`
	TriggerConfig TriggerConfig     `json:"trigger_config" db:"trigger_config"`
	Action        AutomationAction  `json:"action" db:"action"`
	ActionConfig  ActionConfig      `json:"action_config" db:"action_config"`
	Priority      int               `json:"priority" db:"priority"`
	PipelineID    *uuid.UUID        `json:"pipeline_id" db:"pipeline_id"`
	StageID       *uuid.UUID        `json:"stage_id" db:"stage_id"`
	IsActive      bool              `json:"is_active" db:"is_active"`
	LastExecuted  *time.Time        `json:"last_executed" db:"last_executed"`
	ExecutionCount int              `json:"execution_count" db:"execution_count"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// AutomationLog is the idempotency ledger for automation executions.
// score_threshold firings are unique on (rule_id, lead_id, threshold).
type AutomationLog struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	RuleID      uuid.UUID      `json:"rule_id" db:"rule_id"`
	LeadID      uuid.UUID      `json:"lead_id" db:"lead_id"`
	TriggerData map[string]any `json:"trigger_data" db:"trigger_data"`
	ThresholdKey string        `json:"threshold_key" db:"threshold_key"`
	Success     bool           `json:"success" db:"success"`
	Error       string         `json:"error" db:"error"`
	ExecutedAt  time.Time      `json:"executed_at" db:"executed_at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntentTriggerType tags what kind of predicate fired an intent rule.
type IntentTriggerType string

const (
	IntentTriggerEvent    IntentTriggerType = "event"
	IntentTriggerField    IntentTriggerType = "lead_field"
	IntentTriggerOrgField IntentTriggerType = "organization_field"
)

// IntentRule maps a predicate to confidence points for one intent.
type IntentRule struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	Slug        string            `json:"slug" db:"slug"`
	Intent      Intent            `json:"intent" db:"intent"`
	TriggerType IntentTriggerType `json:"trigger_type" db:"trigger_type"`
	Conditions  RuleConditions    `json:"conditions" db:"conditions"`
	ConfidencePoints int          `json:"confidence_points" db:"confidence_points"`
	Description string            `json:"description" db:"description"`
	IsActive    bool              `json:"is_active" db:"is_active"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// IntentSignal records one intent-rule firing. Signals are monotonic: once
// written they never decay. Cumulative interest is intentional.
type IntentSignal struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	LeadID           uuid.UUID         `json:"lead_id" db:"lead_id"`
	Intent           Intent            `json:"intent" db:"intent"`
	RuleID           uuid.UUID         `json:"rule_id" db:"rule_id"`
	ConfidencePoints int               `json:"confidence_points" db:"confidence_points"`
	TriggerType      IntentTriggerType `json:"trigger_type" db:"trigger_type"`
	EventID          *uuid.UUID        `json:"event_id" db:"event_id"`
	DetectedAt       time.Time         `json:"detected_at" db:"detected_at"`
}

// IntentCalculation is the derived confidence summary for a lead.
type IntentCalculation struct {
	Summary    map[Intent]int `json:"summary"`
	Primary    *Intent        `json:"primary"`
	Secondary  *Intent        `json:"secondary"`
	Confidence int            `json:"confidence"`
	Conflict   bool           `json:"conflict"`
	Routable   bool           `json:"routable"`
}

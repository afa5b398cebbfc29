package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScoreCategory enumerates the three score dimensions of a lead.
type ScoreCategory string

const (
	CategoryDemographic ScoreCategory = "demographic"
	CategoryEngagement  ScoreCategory = "engagement"
	CategoryBehavior    ScoreCategory = "behavior"
)

// ScoringRuleType enumerates how a scoring rule is triggered.
type ScoringRuleType string

const (
	RuleTypeEvent     ScoringRuleType = "event"
	RuleTypeField     ScoringRuleType = "field"
	RuleTypeThreshold ScoringRuleType = "threshold"
)

// ScoringRule is a versioned piece of scoring configuration. Rules are
// read-heavy and cached in-process; mutations bump Version and invalidate.
type ScoringRule struct {
	ID       uuid.UUID       `json:"id" db:"id"`
	Slug     string          `json:"slug" db:"slug"`
	Name     string          `json:"name" db:"name"`
	Category ScoreCategory   `json:"category" db:"category"`
	RuleType ScoringRuleType `json:"rule_type" db:"rule_type"`

	// Conditions is the structured predicate: for event rules an event
	// type plus a metadata predicate map, for field rules a path plus
	// operator, for threshold rules a single comparator.
	Conditions RuleConditions `json:"conditions" db:"conditions"`

	Points    int  `json:"points" db:"points"`
	MaxPerDay *int `json:"max_per_day" db:"max_per_day"`
	MaxPerLead *int `json:"max_per_lead" db:"max_per_lead"`
	DecayDays *int `json:"decay_days" db:"decay_days"`
	Priority  int  `json:"priority" db:"priority"`
	IsActive  bool `json:"is_active" db:"is_active"`
	Version   int  `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RuleConditions is the tagged predicate carried by scoring and intent
// rules. Exactly one variant is populated, selected by the rule type.
type RuleConditions struct {
	// Event variant.
	EventType string         `json:"event_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Field variant. Field is a dotted path rooted at "lead." or
	// "organization.".
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`

	// Threshold variant.
	Threshold  *int   `json:"threshold,omitempty"`
	Comparator string `json:"comparator,omitempty"`
}

// ScoreHistoryEntry is one row in the authoritative scoring ledger. The sum
// of non-expired points_change per category equals the lead's denormalized
// category score.
type ScoreHistoryEntry struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	LeadID       uuid.UUID     `json:"lead_id" db:"lead_id"`
	EventID      *uuid.UUID    `json:"event_id" db:"event_id"`
	RuleID       *uuid.UUID    `json:"rule_id" db:"rule_id"`
	Category     ScoreCategory `json:"category" db:"category"`
	PointsChange int           `json:"points_change" db:"points_change"`
	NewTotal     int           `json:"new_total" db:"new_total"`
	Reason       string        `json:"reason" db:"reason"`
	ExpiresAt    *time.Time    `json:"expires_at" db:"expires_at"`
	Expired      bool          `json:"expired" db:"expired"`
	ExpiredAt    *time.Time    `json:"expired_at" db:"expired_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

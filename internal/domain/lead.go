package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus enumerates the sales lifecycle states of a lead.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadNurturing LeadStatus = "nurturing"
	LeadCustomer  LeadStatus = "customer"
	LeadChurned   LeadStatus = "churned"
)

// LifecycleStage enumerates the marketing funnel stages.
type LifecycleStage string

const (
	StageLead        LifecycleStage = "lead"
	StageMQL         LifecycleStage = "mql"
	StageSQL         LifecycleStage = "sql"
	StageOpportunity LifecycleStage = "opportunity"
	StageCustomer    LifecycleStage = "customer"
)

// RoutingStatus enumerates where a lead sits relative to pipeline routing.
type RoutingStatus string

const (
	RoutingUnrouted     RoutingStatus = "unrouted"
	RoutingRouted       RoutingStatus = "routed"
	RoutingManualReview RoutingStatus = "manual_review"
	RoutingStuck        RoutingStatus = "stuck"
)

// Intent enumerates the product-intent classifications.
type Intent string

const (
	IntentResearch   Intent = "research"
	IntentB2B        Intent = "b2b"
	IntentCoCreation Intent = "co_creation"
)

// AllIntents lists every known intent in lexicographic order. The order
// matters: primary-intent tiebreaks are lexicographic.
var AllIntents = []Intent{IntentB2B, IntentCoCreation, IntentResearch}

// Score tier thresholds. Crossing one upward emits a tier signal and may
// promote the lifecycle stage.
const (
	TierWarmThreshold    = 40
	TierHotThreshold     = 80
	TierVeryHotThreshold = 120
)

// Tier names emitted on an upward threshold crossing.
type Tier string

const (
	TierWarm    Tier = "warm"
	TierHot     Tier = "hot"
	TierVeryHot Tier = "very_hot"
)

// TierFor returns the tier a total score falls into, or "" below warm.
func TierFor(total int) Tier {
	switch {
	case total >= TierVeryHotThreshold:
		return TierVeryHot
	case total >= TierHotThreshold:
		return TierHot
	case total >= TierWarmThreshold:
		return TierWarm
	default:
		return ""
	}
}

// Lead is the unit of routing: a deduplicated person built from the
// identifier set of incoming events.
type Lead struct {
	ID uuid.UUID `json:"id" db:"id"`

	// Identity. Email is unique across all leads; each external id is
	// unique when set.
	Email       string  `json:"email" db:"email"`
	PortalID    *string `json:"portal_id" db:"portal_id"`
	LinkedInURL *string `json:"linkedin_url" db:"linkedin_url"`
	WaalaxyID   *string `json:"waalaxy_id" db:"waalaxy_id"`
	LemlistID   *string `json:"lemlist_id" db:"lemlist_id"`

	// Placeholder emails are synthesized when only non-email identifiers
	// are known; they are never used for outbound.
	EmailPlaceholder bool `json:"email_placeholder" db:"email_placeholder"`

	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	Phone          string     `json:"phone" db:"phone"`
	JobTitle       string     `json:"job_title" db:"job_title"`
	OrganizationID *uuid.UUID `json:"organization_id" db:"organization_id"`

	Status         LeadStatus     `json:"status" db:"status"`
	LifecycleStage LifecycleStage `json:"lifecycle_stage" db:"lifecycle_stage"`

	// Denormalized category scores. The score_history ledger is
	// authoritative; these exist to avoid an aggregation per read.
	DemographicScore int `json:"demographic_score" db:"demographic_score"`
	EngagementScore  int `json:"engagement_score" db:"engagement_score"`
	BehaviorScore    int `json:"behavior_score" db:"behavior_score"`
	TotalScore       int `json:"total_score" db:"total_score"`

	PipelineID    *uuid.UUID    `json:"pipeline_id" db:"pipeline_id"`
	RoutingStatus RoutingStatus `json:"routing_status" db:"routing_status"`
	RoutedAt      *time.Time    `json:"routed_at" db:"routed_at"`

	PrimaryIntent    *Intent        `json:"primary_intent" db:"primary_intent"`
	IntentConfidence int            `json:"intent_confidence" db:"intent_confidence"`
	IntentSummary    map[Intent]int `json:"intent_summary" db:"intent_summary"`

	// Attribution.
	FirstTouchSource   string     `json:"first_touch_source" db:"first_touch_source"`
	FirstTouchCampaign string     `json:"first_touch_campaign" db:"first_touch_campaign"`
	FirstTouchAt       *time.Time `json:"first_touch_at" db:"first_touch_at"`
	LastTouchSource    string     `json:"last_touch_source" db:"last_touch_source"`
	LastTouchCampaign  string     `json:"last_touch_campaign" db:"last_touch_campaign"`
	LastTouchAt        *time.Time `json:"last_touch_at" db:"last_touch_at"`

	// Consent.
	ConsentAt           *time.Time `json:"consent_at" db:"consent_at"`
	ConsentSource       string     `json:"consent_source" db:"consent_source"`
	DeletionRequestedAt *time.Time `json:"deletion_requested_at" db:"deletion_requested_at"`

	LastActivityAt *time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Routable reports whether the lead may be used as a routing source.
// Deletion-requested leads never route.
func (l *Lead) Routable() bool {
	return l.DeletionRequestedAt == nil
}

// StageForTotal returns the lifecycle stage a total score promotes to.
// Stages are sticky: callers must never regress an already-promoted stage.
func StageForTotal(total int) LifecycleStage {
	switch {
	case total >= TierHotThreshold:
		return StageSQL
	case total >= TierWarmThreshold:
		return StageMQL
	default:
		return StageLead
	}
}

// StageRank orders lifecycle stages for sticky-promotion comparisons.
func StageRank(s LifecycleStage) int {
	switch s {
	case StageLead:
		return 0
	case StageMQL:
		return 1
	case StageSQL:
		return 2
	case StageOpportunity:
		return 3
	case StageCustomer:
		return 4
	default:
		return -1
	}
}

// LeadIdentifier is the identifier set carried by an ingested event.
// At least one field must be present.
type LeadIdentifier struct {
	Email       string `json:"email,omitempty"`
	PortalID    string `json:"portal_id,omitempty"`
	WaalaxyID   string `json:"waalaxy_id,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	LemlistID   string `json:"lemlist_id,omitempty"`
}

// Empty reports whether no identifier is set.
func (li LeadIdentifier) Empty() bool {
	return li.Email == "" && li.PortalID == "" && li.WaalaxyID == "" &&
		li.LinkedInURL == "" && li.LemlistID == ""
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageType enumerates the canonical sales stage kinds.
type StageType string

const (
	StageAwareness     StageType = "awareness"
	StageInterest      StageType = "interest"
	StageConsideration StageType = "consideration"
	StageEvaluation    StageType = "evaluation"
	StageDecision      StageType = "decision"
	StageClosedWon     StageType = "closed_won"
	StageClosedLost    StageType = "closed_lost"
)

// Pipeline is a named sales funnel. Leads in the Global Pool have no
// pipeline; routing assigns one based on primary intent.
type Pipeline struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Slug           string    `json:"slug" db:"slug"`
	Name           string    `json:"name" db:"name"`
	SalesCycleDays int       `json:"sales_cycle_days" db:"sales_cycle_days"`
	IsDefault      bool      `json:"is_default" db:"is_default"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Canonical pipeline slugs used by the intent-to-pipeline routing map.
const (
	PipelineResearchLab      = "research-lab"
	PipelineB2BLabEnablement = "b2b-lab-enablement"
	PipelinePanelCoCreation  = "panel-co-creation"
	PipelineDiscovery        = "discovery"
)

// IntentPipelineSlug maps a primary intent to its destination pipeline.
func IntentPipelineSlug(i Intent) (string, bool) {
	switch i {
	case IntentResearch:
		return PipelineResearchLab, true
	case IntentB2B:
		return PipelineB2BLabEnablement, true
	case IntentCoCreation:
		return PipelinePanelCoCreation, true
	default:
		return "", false
	}
}

// PipelineStage is one step of a pipeline. Positions are unique and dense
// per pipeline, starting at 1.
type PipelineStage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	PipelineID uuid.UUID `json:"pipeline_id" db:"pipeline_id"`
	Slug       string    `json:"slug" db:"slug"`
	Name       string    `json:"name" db:"name"`
	Position   int       `json:"position" db:"position"`
	StageType  StageType `json:"stage_type" db:"stage_type"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DealStatus enumerates the terminal and open states of a deal.
type DealStatus string

const (
	DealOpen DealStatus = "open"
	DealWon  DealStatus = "won"
	DealLost DealStatus = "lost"
)

// Deal is a lead × pipeline pairing representing an active sales
// opportunity. The (lead_id, pipeline_id) pair is unique.
type Deal struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	LeadID         uuid.UUID  `json:"lead_id" db:"lead_id"`
	PipelineID     uuid.UUID  `json:"pipeline_id" db:"pipeline_id"`
	StageID        uuid.UUID  `json:"stage_id" db:"stage_id"`
	Name           string     `json:"name" db:"name"`
	Value          *float64   `json:"value" db:"value"`
	Currency       string     `json:"currency" db:"currency"`
	Status         DealStatus `json:"status" db:"status"`
	StageEnteredAt time.Time  `json:"stage_entered_at" db:"stage_entered_at"`
	AssignedTo     *uuid.UUID `json:"assigned_to" db:"assigned_to"`
	AssignedRegion string     `json:"assigned_region" db:"assigned_region"`
	MocoOfferID    *string    `json:"moco_offer_id" db:"moco_offer_id"`
	MocoInvoiceID  *string    `json:"moco_invoice_id" db:"moco_invoice_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

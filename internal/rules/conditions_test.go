package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/genomiq/lead-engine/internal/domain"
)

func testEvent(eventType string, metadata map[string]any) *domain.Event {
	return &domain.Event{
		EventType:  eventType,
		Source:     "portal",
		OccurredAt: time.Now(),
		Metadata:   metadata,
	}
}

func TestMatchEvent_TypeAndScalarMetadata(t *testing.T) {
	cond := domain.RuleConditions{
		EventType: "page_visited",
		Metadata:  map[string]any{"path": "/pricing/16s"},
	}

	assert.True(t, MatchEvent(cond, testEvent("page_visited", map[string]any{"path": "/pricing/16s"})))
	assert.False(t, MatchEvent(cond, testEvent("page_visited", map[string]any{"path": "/blog"})))
	assert.False(t, MatchEvent(cond, testEvent("form_submitted", map[string]any{"path": "/pricing/16s"})))
	assert.False(t, MatchEvent(cond, testEvent("page_visited", nil)))
}

func TestMatchEvent_Comparators(t *testing.T) {
	tests := []struct {
		name     string
		pred     map[string]any
		metadata map[string]any
		want     bool
	}{
		{"gte match", map[string]any{"samples_per_month": map[string]any{"gte": 100}}, map[string]any{"samples_per_month": float64(200)}, true},
		{"gte boundary", map[string]any{"samples_per_month": map[string]any{"gte": 100}}, map[string]any{"samples_per_month": float64(100)}, true},
		{"gte below", map[string]any{"samples_per_month": map[string]any{"gte": 100}}, map[string]any{"samples_per_month": float64(99)}, false},
		{"lt match", map[string]any{"samples_per_month": map[string]any{"lt": 50}}, map[string]any{"samples_per_month": float64(40)}, true},
		{"lte boundary", map[string]any{"samples_per_month": map[string]any{"lte": 50}}, map[string]any{"samples_per_month": float64(50)}, true},
		{"gt equal fails", map[string]any{"samples_per_month": map[string]any{"gt": 50}}, map[string]any{"samples_per_month": float64(50)}, false},
		{"in match", map[string]any{"plan": map[string]any{"in": []any{"pro", "enterprise"}}}, map[string]any{"plan": "enterprise"}, true},
		{"in miss", map[string]any{"plan": map[string]any{"in": []any{"pro", "enterprise"}}}, map[string]any{"plan": "free"}, false},
		{"contains match", map[string]any{"path": map[string]any{"contains": "pricing"}}, map[string]any{"path": "/Pricing/16s"}, true},
		{"contains list any", map[string]any{"path": map[string]any{"contains": []any{"/demo", "/pricing"}}}, map[string]any{"path": "/pricing/16s"}, true},
		{"pattern match", map[string]any{"email": map[string]any{"pattern": `@uni-.*\.de$`}}, map[string]any{"email": "prof@uni-freiburg.de"}, true},
		{"pattern miss", map[string]any{"email": map[string]any{"pattern": `@uni-.*\.de$`}}, map[string]any{"email": "prof@biotech.com"}, false},
		{"combined ops", map[string]any{"samples_per_month": map[string]any{"gte": 10, "lte": 100}}, map[string]any{"samples_per_month": float64(40)}, true},
		{"missing key", map[string]any{"samples_per_month": map[string]any{"gte": 10}}, map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := domain.RuleConditions{EventType: "roi_calculator_submitted", Metadata: tt.pred}
			got := MatchEvent(cond, testEvent("roi_calculator_submitted", tt.metadata))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchField_LeadPaths(t *testing.T) {
	lead := &domain.Lead{
		Email:    "professor@uni-freiburg.de",
		JobTitle: "Head of Genomics Core Facility",
		Status:   domain.LeadNew,
		TotalScore: 55,
	}

	tests := []struct {
		name string
		cond domain.RuleConditions
		want bool
	}{
		{"equals email", domain.RuleConditions{Field: "lead.email", Operator: "equals", Value: "PROFESSOR@uni-freiburg.de"}, true},
		{"pattern academic email", domain.RuleConditions{Field: "lead.email", Operator: "pattern", Value: `@uni-|\.edu$|\.ac\.`}, true},
		{"contains job title", domain.RuleConditions{Field: "lead.job_title", Operator: "contains", Value: []any{"genomics", "sequencing"}}, true},
		{"contains miss", domain.RuleConditions{Field: "lead.job_title", Operator: "contains", Value: "procurement"}, false},
		{"gte total score", domain.RuleConditions{Field: "lead.total_score", Operator: "gte", Value: float64(40)}, true},
		{"lte total score miss", domain.RuleConditions{Field: "lead.total_score", Operator: "lte", Value: float64(40)}, false},
		{"in status", domain.RuleConditions{Field: "lead.status", Operator: "in", Value: []any{"new", "contacted"}}, true},
		{"unknown field", domain.RuleConditions{Field: "lead.shoe_size", Operator: "equals", Value: "44"}, false},
		{"nil primary intent", domain.RuleConditions{Field: "lead.primary_intent", Operator: "equals", Value: "research"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchField(tt.cond, lead, nil))
		})
	}
}

func TestMatchField_OrganizationPaths(t *testing.T) {
	lead := &domain.Lead{Email: "director@biotech-corp.com"}
	org := &domain.Organization{
		Name:        "Biotech Corp",
		Industry:    "biotechnology",
		CompanySize: "201-500",
		CountryCode: "DE",
	}

	cond := domain.RuleConditions{Field: "organization.industry", Operator: "in", Value: []any{"biotechnology", "pharma"}}
	assert.True(t, MatchField(cond, lead, org))

	// No organization on the lead: field rules referencing it never match.
	assert.False(t, MatchField(cond, lead, nil))
}

func TestMatchThreshold(t *testing.T) {
	th := 80
	cond := domain.RuleConditions{Threshold: &th}

	assert.True(t, MatchThreshold(cond, 80))
	assert.True(t, MatchThreshold(cond, 120))
	assert.False(t, MatchThreshold(cond, 79))
	assert.False(t, MatchThreshold(domain.RuleConditions{}, 200))
}

func TestScalarEqual_NumericCoercion(t *testing.T) {
	// JSON decoding yields float64; rule values may be stored as ints.
	assert.True(t, scalarEqual(200, float64(200)))
	assert.True(t, scalarEqual("200", float64(200)))
	assert.False(t, scalarEqual(float64(200), float64(201)))
}

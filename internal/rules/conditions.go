// Package rules implements the shared predicate grammar used by the
// scoring engine, the intent detector, and the automation engine.
//
// A rule predicate is a small algebra of three variants: event-match
// (event type plus a metadata predicate), field-match (dotted path plus
// operator), and threshold-match (single comparator). The metadata
// comparator grammar (lt, lte, gt, gte, in, contains, pattern) is one
// helper reused by every engine.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/genomiq/lead-engine/internal/domain"
)

// Comparator keys recognized inside a nested metadata predicate, e.g.
// {"samples_per_month": {"gte": 100}}.
const (
	OpEquals   = "equals"
	OpLT       = "lt"
	OpLTE      = "lte"
	OpGT       = "gt"
	OpGTE      = "gte"
	OpIn       = "in"
	OpContains = "contains"
	OpPattern  = "pattern"
)

// MatchEvent reports whether an event-typed predicate matches the event:
// the event type must equal the rule's, and every key of the metadata
// predicate must hold against the event's metadata.
func MatchEvent(cond domain.RuleConditions, ev *domain.Event) bool {
	if cond.EventType != "" && cond.EventType != ev.EventType {
		return false
	}
	for key, want := range cond.Metadata {
		got, ok := ev.Metadata[key]
		if !ok {
			return false
		}
		if !matchValue(want, got) {
			return false
		}
	}
	return true
}

// matchValue evaluates a predicate value against an observed value.
// A map predicate is a set of comparators that must all hold; anything
// else is deep scalar equality.
func matchValue(want, got any) bool {
	if ops, ok := want.(map[string]any); ok {
		for op, arg := range ops {
			if !applyOperator(op, got, arg) {
				return false
			}
		}
		return true
	}
	return scalarEqual(want, got)
}

// MatchField reports whether a field-typed predicate holds for the lead
// and its optional organization. The field path is rooted at "lead." or
// "organization.".
func MatchField(cond domain.RuleConditions, lead *domain.Lead, org *domain.Organization) bool {
	val, ok := ResolveField(cond.Field, lead, org)
	if !ok {
		return false
	}
	op := cond.Operator
	if op == "" {
		op = OpEquals
	}
	return applyOperator(op, val, cond.Value)
}

// MatchThreshold evaluates a threshold-typed predicate against a total.
// Threshold rules are not triggered by events; the automation engine
// evaluates them against pre/post score snapshots.
func MatchThreshold(cond domain.RuleConditions, total int) bool {
	if cond.Threshold == nil {
		return false
	}
	th := float64(*cond.Threshold)
	cmp := cond.Comparator
	if cmp == "" {
		cmp = OpGTE
	}
	return applyOperator(cmp, float64(total), th)
}

// applyOperator evaluates one comparator. Numeric comparators coerce both
// sides to float64; contains and pattern are case-insensitive on strings.
func applyOperator(op string, got, arg any) bool {
	switch op {
	case OpEquals:
		return scalarEqual(arg, got)
	case OpLT, OpLTE, OpGT, OpGTE:
		g, ok1 := toFloat(got)
		a, ok2 := toFloat(arg)
		if !ok1 || !ok2 {
			return false
		}
		switch op {
		case OpLT:
			return g < a
		case OpLTE:
			return g <= a
		case OpGT:
			return g > a
		default:
			return g >= a
		}
	case OpIn:
		list, ok := toSlice(arg)
		if !ok {
			return false
		}
		for _, item := range list {
			if scalarEqual(item, got) {
				return true
			}
		}
		return false
	case OpContains:
		haystack := strings.ToLower(toString(got))
		// The needle may be a list; any element matching suffices.
		if list, ok := toSlice(arg); ok {
			for _, item := range list {
				if strings.Contains(haystack, strings.ToLower(toString(item))) {
					return true
				}
			}
			return false
		}
		return strings.Contains(haystack, strings.ToLower(toString(arg)))
	case OpPattern:
		re, err := regexp.Compile("(?i)" + toString(arg))
		if err != nil {
			return false
		}
		return re.MatchString(toString(got))
	default:
		return false
	}
}

// ResolveField resolves a dotted field path against the lead and its
// organization. Unknown paths resolve to (nil, false).
func ResolveField(path string, lead *domain.Lead, org *domain.Organization) (any, bool) {
	switch {
	case strings.HasPrefix(path, "lead."):
		return resolveLeadField(strings.TrimPrefix(path, "lead."), lead)
	case strings.HasPrefix(path, "organization."):
		if org == nil {
			return nil, false
		}
		return resolveOrgField(strings.TrimPrefix(path, "organization."), org)
	default:
		// Bare paths default to the lead.
		return resolveLeadField(path, lead)
	}
}

func resolveLeadField(field string, lead *domain.Lead) (any, bool) {
	if lead == nil {
		return nil, false
	}
	switch field {
	case "email":
		return lead.Email, true
	case "first_name":
		return lead.FirstName, true
	case "last_name":
		return lead.LastName, true
	case "phone":
		return lead.Phone, true
	case "job_title":
		return lead.JobTitle, true
	case "status":
		return string(lead.Status), true
	case "lifecycle_stage":
		return string(lead.LifecycleStage), true
	case "total_score":
		return lead.TotalScore, true
	case "demographic_score":
		return lead.DemographicScore, true
	case "engagement_score":
		return lead.EngagementScore, true
	case "behavior_score":
		return lead.BehaviorScore, true
	case "first_touch_source":
		return lead.FirstTouchSource, true
	case "last_touch_source":
		return lead.LastTouchSource, true
	case "intent_confidence":
		return lead.IntentConfidence, true
	case "primary_intent":
		if lead.PrimaryIntent == nil {
			return nil, false
		}
		return string(*lead.PrimaryIntent), true
	default:
		return nil, false
	}
}

func resolveOrgField(field string, org *domain.Organization) (any, bool) {
	switch field {
	case "name":
		return org.Name, true
	case "domain":
		return org.Domain, true
	case "industry":
		return org.Industry, true
	case "company_size":
		return org.CompanySize, true
	case "country_code":
		return org.CountryCode, true
	default:
		return nil, false
	}
}

// scalarEqual compares two scalars: numbers numerically, everything else
// as case-insensitive strings. JSON decoding yields float64 for every
// number, so string/number mismatches are coerced before comparison.
func scalarEqual(a, b any) bool {
	if fa, ok1 := toFloat(a); ok1 {
		if fb, ok2 := toFloat(b); ok2 {
			return fa == fb
		}
	}
	return strings.EqualFold(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

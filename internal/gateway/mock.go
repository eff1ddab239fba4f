package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"econoclass/internal/types"
)

// MockClient is the dry-run provider. It parses the same fenced item
// array real providers receive and answers with deterministic,
// taxonomy-valid classifications derived from indicator metadata. No
// network, no cost, stable across runs.
type MockClient struct {
	calls atomic.Int64
}

// NewMockClient creates a mock provider client.
func NewMockClient() *MockClient { return &MockClient{} }

// Model returns the synthetic model name.
func (c *MockClient) Model() string { return "mock-deterministic" }

// Calls reports how many completions were served.
func (c *MockClient) Calls() int64 { return c.calls.Load() }

// CompleteWithSystem answers a stage prompt deterministically.
func (c *MockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}
	c.calls.Add(1)

	payload, err := ExtractJSON(userPrompt)
	if err != nil {
		return "", Usage{}, fmt.Errorf("mock: %v", err)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return "", Usage{}, fmt.Errorf("mock: bad item array: %v", err)
	}

	stage := detectStage(systemPrompt)
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		el := c.answer(stage, item)
		el["indicator_id"] = item["indicator_id"]
		out = append(out, el)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", Usage{}, err
	}
	usage := Usage{TokensIn: len(userPrompt) / 4, TokensOut: len(data) / 4}
	return string(data), usage, nil
}

func detectStage(systemPrompt string) string {
	lower := strings.ToLower(systemPrompt)
	switch {
	case strings.Contains(lower, "review"):
		return "review"
	case strings.Contains(lower, "orientation"):
		return "orientation"
	case strings.Contains(lower, "specialist"):
		return "specialist"
	default:
		return "router"
	}
}

func (c *MockClient) answer(stage string, item map[string]interface{}) map[string]interface{} {
	name := GetString(item, "name")
	units := GetString(item, "units")

	switch stage {
	case "router":
		family := heuristicFamily(name, units)
		return map[string]interface{}{
			"family":     string(family),
			"confidence": 0.9,
			"reasoning":  "metadata keywords",
		}

	case "specialist":
		family := types.Family(GetString(item, "family"))
		if !family.Valid() {
			family = heuristicFamily(name, units)
		}
		typ, temporal := heuristicType(family, name, units)
		return map[string]interface{}{
			"type":                 typ,
			"temporal_aggregation": string(temporal),
			"confidence":           0.85,
			"reasoning":            "metadata keywords",
		}

	case "orientation":
		return map[string]interface{}{
			"orientation": string(heuristicOrientation(name, units)),
			"confidence":  0.8,
			"reasoning":   "metadata keywords",
		}

	case "review":
		return c.reviewAnswer(item)

	default:
		return map[string]interface{}{}
	}
}

// reviewAnswer accepts low-confidence flags and fixes structural ones.
func (c *MockClient) reviewAnswer(item map[string]interface{}) map[string]interface{} {
	flags := GetString(item, "flag_types")
	name := GetString(item, "name")
	units := GetString(item, "units")
	family := types.Family(GetString(item, "family"))
	if !family.Valid() {
		family = heuristicFamily(name, units)
	}

	switch {
	case strings.Contains(flags, string(types.FlagTypeFamilyMismatch)):
		typ, _ := heuristicType(family, name, units)
		return map[string]interface{}{
			"action":     string(types.ReviewFix),
			"fixed_type": typ,
			"confidence": 0.85,
			"reasoning":  "realigned type with family taxonomy",
		}
	case strings.Contains(flags, string(types.FlagTemporalRuleViolation)),
		strings.Contains(flags, string(types.FlagValidationTemporal)):
		_, temporal := heuristicType(family, name, units)
		return map[string]interface{}{
			"action":                     string(types.ReviewFix),
			"fixed_temporal_aggregation": string(temporal),
			"confidence":                 0.85,
			"reasoning":                  "temporal aggregation corrected from series evidence",
		}
	case strings.Contains(flags, string(types.FlagRouterFailure)),
		strings.Contains(flags, string(types.FlagSpecialistFailure)):
		return map[string]interface{}{
			"action":     string(types.ReviewEscalate),
			"confidence": 0.9,
			"reasoning":  "upstream stage failed, needs a human",
		}
	default:
		return map[string]interface{}{
			"action":     string(types.ReviewAccept),
			"confidence": 0.9,
			"reasoning":  "classification consistent with metadata",
		}
	}
}

// =============================================================================
// METADATA HEURISTICS
// =============================================================================

func heuristicFamily(name, units string) types.Family {
	switch {
	case containsAny(name, "sentiment", "rating", "outlook", "grade"):
		return types.FamilyQualitative
	case containsAny(name, "duration", "maturity", "days to", "lead time"):
		return types.FamilyTemporal
	case containsAny(name, "index", "composite", "indicator score"):
		return types.FamilyCompositeDerived
	case containsAny(name, "inflation", "growth", "change", "volatility", "yoy", "momentum"):
		return types.FamilyChangeMovement
	case containsAny(name, "price", "yield", "exchange rate", "fx rate", "cost of", "wage"):
		return types.FamilyPriceValue
	case containsAny(name, "gdp", "gross domestic", "production", "exports", "imports", "consumption", "sales", "output", "arrivals"):
		return types.FamilyPhysicalFundamental
	case containsAny(name, "reserves", "stock of", "debt", "population", "capacity", "holdings"):
		return types.FamilyPhysicalFundamental
	case strings.Contains(units, "%") || containsAny(name, "ratio", "share", "spread", "rate"):
		return types.FamilyNumericMeasurement
	case containsAny(name, "number of", "count", "registrations"):
		return types.FamilyNumericMeasurement
	default:
		return types.FamilyNumericMeasurement
	}
}

func heuristicType(family types.Family, name, units string) (string, types.TemporalAggregation) {
	switch family {
	case types.FamilyPhysicalFundamental:
		if containsAny(name, "reserves", "stock of", "debt", "population", "capacity", "holdings") {
			return "stock", types.TemporalPointInTime
		}
		return "flow", types.TemporalPeriodTotal
	case types.FamilyNumericMeasurement:
		switch {
		case containsAny(name, "ratio"):
			return "ratio", types.TemporalNotApplicable
		case containsAny(name, "share"):
			return "share", types.TemporalNotApplicable
		case containsAny(name, "spread"):
			return "spread", types.TemporalNotApplicable
		case containsAny(name, "number of", "count", "registrations"):
			return "count", types.TemporalPeriodTotal
		case strings.Contains(units, "%"):
			return "percentage", types.TemporalNotApplicable
		default:
			return "level", types.TemporalPointInTime
		}
	case types.FamilyPriceValue:
		switch {
		case containsAny(name, "yield"):
			return "yield", types.TemporalPointInTime
		case containsAny(name, "price", "exchange rate", "fx rate"):
			return "price", types.TemporalPointInTime
		case containsAny(name, "cost of"):
			return "cost", types.TemporalPeriodAverage
		default:
			return "value", types.TemporalPointInTime
		}
	case types.FamilyChangeMovement:
		switch {
		case containsAny(name, "inflation", "rate"):
			return "rate", types.TemporalPeriodRate
		case containsAny(name, "growth"):
			return "growth", types.TemporalPeriodRate
		case containsAny(name, "volatility"):
			return "volatility", types.TemporalPeriodAverage
		default:
			return "change", types.TemporalPeriodRate
		}
	case types.FamilyCompositeDerived:
		if containsAny(name, "score") {
			return "score", types.TemporalPointInTime
		}
		return "index", types.TemporalPointInTime
	case types.FamilyTemporal:
		if containsAny(name, "frequency") {
			return "frequency", types.TemporalPeriodAverage
		}
		return "duration", types.TemporalPeriodAverage
	case types.FamilyQualitative:
		if containsAny(name, "rating", "grade") {
			return "rating", types.TemporalPointInTime
		}
		return "category", types.TemporalPointInTime
	}
	return "level", types.TemporalPointInTime
}

func heuristicOrientation(name, units string) types.Orientation {
	switch {
	case containsAny(name, "exchange rate", "fx ", "yield", "interest rate"):
		return types.OrientationNeutral
	case containsAny(name, "unemployment", "inflation", "debt", "deficit", "poverty", "mortality"):
		return types.OrientationLowerIsPositive
	case containsAny(name, "cpi", "ppi", "price index"):
		return types.OrientationNeutral
	case containsAny(name, "price"):
		// Pure price levels carry no good/bad reading on their own.
		return types.OrientationNeutral
	default:
		return types.OrientationHigherIsPositive
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

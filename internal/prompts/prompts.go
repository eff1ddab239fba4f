// Package prompts owns the stage prompt templates, the response schema
// each stage demands, and the projection of indicator metadata each
// stage is allowed to see. Keeping all three together makes it hard for
// a prompt to drift away from its schema.
package prompts

import (
	"fmt"
	"strings"

	"econoclass/internal/gateway"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

// maxDescriptionLen bounds how much free text reaches the model per item.
const maxDescriptionLen = 500

// =============================================================================
// ROUTER
// =============================================================================

// RouterSystem returns the routing stage system prompt.
func RouterSystem(tax *taxonomy.Taxonomy) string {
	var b strings.Builder
	b.WriteString("You are a routing classifier for economic indicators. ")
	b.WriteString("For each item, assign exactly one family from this closed set:\n\n")
	for _, fam := range tax.Families() {
		fmt.Fprintf(&b, "- %s\n", fam)
	}
	b.WriteString("\nGuidance:\n")
	b.WriteString("- physical-fundamental: real-economy quantities (production, trade volumes, reserves, population)\n")
	b.WriteString("- numeric-measurement: ratios, percentages, shares, spreads, counts, levels\n")
	b.WriteString("- price-value: prices, yields, costs, monetary values\n")
	b.WriteString("- change-movement: rates of change, growth, volatility\n")
	b.WriteString("- composite-derived: indices, scores, composites built from other series\n")
	b.WriteString("- temporal: durations, frequencies, lags\n")
	b.WriteString("- qualitative: ratings, categories, non-numeric assessments\n\n")
	b.WriteString("Each response element needs: indicator_id, family, confidence (0 to 1), reasoning (one sentence).")
	return b.String()
}

// RouterSchema validates routing stage responses.
func RouterSchema(tax *taxonomy.Taxonomy) *gateway.ResponseSchema {
	return &gateway.ResponseSchema{Fields: []gateway.FieldSpec{
		{Name: "family", Kind: gateway.FieldString, Enum: familyNames(tax)},
		{Name: "confidence", Kind: gateway.FieldNumber, Min: 0, Max: 1, HasRange: true},
		{Name: "reasoning", Kind: gateway.FieldString, Optional: true},
	}}
}

// RouterProjection is the metadata the routing stage sees per indicator.
func RouterProjection(ind types.Indicator) map[string]interface{} {
	return map[string]interface{}{
		"name":           ind.Name,
		"units":          ind.Units,
		"periodicity":    ind.Periodicity,
		"category_group": ind.CategoryGroup,
		"topic":          ind.Topic,
		"description":    truncate(ind.Description, maxDescriptionLen),
	}
}

// =============================================================================
// SPECIALIST
// =============================================================================

// SpecialistSystem returns the family specialist system prompt. Each
// family gets its own prompt listing only its type vocabulary.
func SpecialistSystem(tax *taxonomy.Taxonomy, family types.Family) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s family specialist for economic indicator classification. ", family)
	b.WriteString("Every item routed to you already belongs to this family. ")
	b.WriteString("For each item, assign:\n\n")
	fmt.Fprintf(&b, "1. type — one of: %s\n", strings.Join(tax.TypesFor(family), ", "))
	fmt.Fprintf(&b, "2. temporal_aggregation — one of: %s\n", strings.Join(temporalNames(), ", "))
	b.WriteString("3. is_currency_denominated — true when the measured value is an amount of money\n")
	b.WriteString("4. confidence (0 to 1) and reasoning (one sentence)\n\n")
	b.WriteString("temporal_aggregation describes how one observation relates to its period: ")
	b.WriteString("point-in-time is a snapshot at period end, period-total sums over the period, ")
	b.WriteString("period-average averages, period-rate is a per-period rate of change, ")
	b.WriteString("period-cumulative accumulates since the start of the year, ")
	b.WriteString("not-applicable is for dimensionless ratios and shares.")
	return b.String()
}

// SpecialistSchema validates specialist responses for one family.
func SpecialistSchema(tax *taxonomy.Taxonomy, family types.Family) *gateway.ResponseSchema {
	return &gateway.ResponseSchema{Fields: []gateway.FieldSpec{
		{Name: "type", Kind: gateway.FieldString, Enum: tax.TypesFor(family)},
		{Name: "temporal_aggregation", Kind: gateway.FieldString, Enum: temporalNames()},
		{Name: "is_currency_denominated", Kind: gateway.FieldBool, Optional: true},
		{Name: "confidence", Kind: gateway.FieldNumber, Min: 0, Max: 1, HasRange: true},
		{Name: "reasoning", Kind: gateway.FieldString, Optional: true},
	}}
}

// SpecialistProjection is what a specialist sees per indicator. The
// routed family rides along so singleton retries stay self-contained.
func SpecialistProjection(ind types.Indicator, family types.Family) map[string]interface{} {
	return map[string]interface{}{
		"name":               ind.Name,
		"family":             string(family),
		"units":              ind.Units,
		"periodicity":        ind.Periodicity,
		"aggregation_method": ind.AggregationMethod,
		"scale":              ind.Scale,
		"currency_code":      ind.CurrencyCode,
		"topic":              ind.Topic,
		"description":        truncate(ind.Description, maxDescriptionLen),
	}
}

// =============================================================================
// ORIENTATION
// =============================================================================

// OrientationSystem returns the orientation stage system prompt.
func OrientationSystem() string {
	var b strings.Builder
	b.WriteString("You assign the heat-map orientation of economic indicators: ")
	b.WriteString("whether a rising value is good news, bad news, or neither.\n\n")
	b.WriteString("For each item, assign orientation from this closed set:\n")
	b.WriteString("- higher-is-positive: growth, output, employment, reserves\n")
	b.WriteString("- lower-is-positive: unemployment, inflation, debt burdens, deficits\n")
	b.WriteString("- neutral: exchange rates, yields, policy rates, pure price levels\n\n")
	b.WriteString("Judge from the perspective of the reporting economy. ")
	b.WriteString("Each response element needs: indicator_id, orientation, confidence (0 to 1), reasoning (one sentence).")
	return b.String()
}

// OrientationSchema validates orientation responses.
func OrientationSchema() *gateway.ResponseSchema {
	return &gateway.ResponseSchema{Fields: []gateway.FieldSpec{
		{Name: "orientation", Kind: gateway.FieldString, Enum: orientationNames()},
		{Name: "confidence", Kind: gateway.FieldNumber, Min: 0, Max: 1, HasRange: true},
		{Name: "reasoning", Kind: gateway.FieldString, Optional: true},
	}}
}

// OrientationProjection includes the classification so far; orientation
// depends on what kind of quantity this is, not just its name.
func OrientationProjection(ind types.Indicator, family types.Family, indicatorType string) map[string]interface{} {
	return map[string]interface{}{
		"name":        ind.Name,
		"units":       ind.Units,
		"family":      string(family),
		"type":        indicatorType,
		"topic":       ind.Topic,
		"description": truncate(ind.Description, maxDescriptionLen),
	}
}

// =============================================================================
// REVIEW
// =============================================================================

// ReviewSystem returns the review stage system prompt.
func ReviewSystem(tax *taxonomy.Taxonomy) string {
	var b strings.Builder
	b.WriteString("You are the second-pass review of flagged economic indicator classifications. ")
	b.WriteString("Each item carries its current classification and the flags raised against it. ")
	b.WriteString("For each item, choose exactly one action:\n\n")
	b.WriteString("- accept: the classification is right despite the flags\n")
	b.WriteString("- fix: the classification is wrong in a specific, correctable way; supply the corrected field(s)\n")
	b.WriteString("- escalate: the item needs a human; do not guess\n\n")
	b.WriteString("When fixing, corrected values must come from the same vocabularies the ")
	b.WriteString("original classification used:\n")
	for _, fam := range tax.Families() {
		fmt.Fprintf(&b, "- %s types: %s\n", fam, strings.Join(tax.TypesFor(fam), ", "))
	}
	fmt.Fprintf(&b, "- temporal_aggregation: %s\n", strings.Join(temporalNames(), ", "))
	fmt.Fprintf(&b, "- orientation: %s\n\n", strings.Join(orientationNames(), ", "))
	b.WriteString("Each response element needs: indicator_id, action, reasoning, confidence (0 to 1). ")
	b.WriteString("A fix overwrites exactly one field: supply exactly one of ")
	b.WriteString("fixed_type, fixed_temporal_aggregation, fixed_orientation.")
	return b.String()
}

// ReviewSchema validates review responses. Fixed-field values are
// checked against the taxonomy downstream because their domain depends
// on the item's family.
func ReviewSchema() *gateway.ResponseSchema {
	return &gateway.ResponseSchema{Fields: []gateway.FieldSpec{
		{Name: "action", Kind: gateway.FieldString, Enum: []string{
			string(types.ReviewAccept), string(types.ReviewFix), string(types.ReviewEscalate)}},
		{Name: "confidence", Kind: gateway.FieldNumber, Min: 0, Max: 1, HasRange: true, Optional: true},
		{Name: "reasoning", Kind: gateway.FieldString, Optional: true},
		{Name: "fixed_type", Kind: gateway.FieldString, Optional: true},
		{Name: "fixed_temporal_aggregation", Kind: gateway.FieldString, Enum: temporalNames(), Optional: true},
		{Name: "fixed_orientation", Kind: gateway.FieldString, Enum: orientationNames(), Optional: true},
	}}
}

// ReviewProjection is what the review stage sees: metadata, the current
// classification, and the flags in a compact form.
func ReviewProjection(ind types.Indicator, cls types.Classification, flags []types.FlaggedIndicator) map[string]interface{} {
	flagTypes := make([]string, 0, len(flags))
	flagReasons := make([]string, 0, len(flags))
	for _, f := range flags {
		flagTypes = append(flagTypes, string(f.FlagType))
		flagReasons = append(flagReasons, f.FlagReason)
	}
	return map[string]interface{}{
		"name":                 ind.Name,
		"units":                ind.Units,
		"family":               string(cls.Family),
		"type":                 cls.IndicatorType,
		"temporal_aggregation": string(cls.TemporalAggregation),
		"orientation":          string(cls.Orientation),
		"flag_types":           strings.Join(flagTypes, ", "),
		"flag_reasons":         strings.Join(flagReasons, "; "),
		"description":          truncate(ind.Description, maxDescriptionLen),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func familyNames(tax *taxonomy.Taxonomy) []string {
	fams := tax.Families()
	out := make([]string, len(fams))
	for i, f := range fams {
		out[i] = string(f)
	}
	return out
}

func temporalNames() []string {
	out := make([]string, len(types.TemporalAggregations))
	for i, t := range types.TemporalAggregations {
		out[i] = string(t)
	}
	return out
}

func orientationNames() []string {
	out := make([]string, len(types.Orientations))
	for i, o := range types.Orientations {
		out[i] = string(o)
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

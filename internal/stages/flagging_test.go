package stages

import (
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/config"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

func goodCandidate() Candidate {
	return Candidate{
		Indicator: types.Indicator{ID: "gdp", Name: "Gross Domestic Product", Units: "USD"},
		Router: types.RouterResult{
			IndicatorID: "gdp", Family: types.FamilyPhysicalFundamental, ConfidenceFamily: 0.9,
		},
		Specialist: types.SpecialistResult{
			IndicatorID: "gdp", Family: types.FamilyPhysicalFundamental,
			IndicatorType: "flow", TemporalAggregation: types.TemporalPeriodTotal,
			IsCurrencyDenominated: true, ConfidenceCls: 0.85,
		},
		Orientation: types.OrientationResult{
			IndicatorID: "gdp", Orientation: types.OrientationHigherIsPositive, ConfidenceOrient: 0.8,
		},
	}
}

func ruleEnv(t *testing.T) (*taxonomy.Taxonomy, *config.Config) {
	t.Helper()
	tax, err := taxonomy.Load()
	require.NoError(t, err)
	return tax, config.DefaultConfig()
}

func flagTypes(flags []types.FlaggedIndicator) []types.FlagType {
	out := make([]types.FlagType, len(flags))
	for i, f := range flags {
		out[i] = f.FlagType
	}
	return out
}

func TestEvaluateRulesCleanCandidate(t *testing.T) {
	tax, cfg := ruleEnv(t)
	require.Empty(t, EvaluateRules(tax, cfg, goodCandidate()))
}

func TestEvaluateRulesMissingField(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Specialist.IndicatorType = ""

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagMissingField)
	for _, f := range flags {
		if f.FlagType == types.FlagMissingField {
			require.Equal(t, types.SeverityBlock, f.Severity)
		}
	}
}

func TestEvaluateRulesConfidenceBelowThreshold(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Router.ConfidenceFamily = 0.4

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagConfidenceBelowThreshold)
}

// The qualitative family declares its own lower confidence minimum,
// which wins over the global threshold.
func TestEvaluateRulesPerFamilyConfidenceOverride(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Router.Family = types.FamilyQualitative
	cand.Specialist.Family = types.FamilyQualitative
	cand.Specialist.IndicatorType = "rating"
	cand.Specialist.TemporalAggregation = types.TemporalPointInTime
	cand.Specialist.ConfidenceCls = 0.55 // below global 0.6, above qualitative 0.5

	for _, f := range EvaluateRules(tax, cfg, cand) {
		require.NotEqual(t, types.FlagConfidenceBelowThreshold, f.FlagType)
	}
}

func TestEvaluateRulesTypeFamilyMismatch(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Specialist.IndicatorType = "yield" // price-value type under physical-fundamental

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagTypeFamilyMismatch)
}

func TestEvaluateRulesTemporalRuleViolation(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Specialist.TemporalAggregation = types.TemporalPointInTime // flow requires period-total

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagTemporalRuleViolation)
}

func TestEvaluateRulesValidationSuggestion(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Validation = types.ValidationResult{
		IndicatorID: "gdp", Analyzed: true, IsCumulative: true,
		CumulativeConfidence: 0.9, SuggestedTemporal: types.TemporalPeriodCumulative,
	}

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagValidationTemporal)

	// No flag when the specialist already said period-cumulative.
	cand.Specialist.IndicatorType = "balance"
	cand.Specialist.TemporalAggregation = types.TemporalPeriodCumulative
	for _, f := range EvaluateRules(tax, cfg, cand) {
		require.NotEqual(t, types.FlagValidationTemporal, f.FlagType)
	}
}

func TestEvaluateRulesOrientationConflict(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Indicator.Name = "External debt stocks"
	cand.Specialist.IndicatorType = "stock"
	cand.Specialist.TemporalAggregation = types.TemporalPointInTime
	cand.Orientation.Orientation = types.OrientationHigherIsPositive

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagOrientationConflict)
}

func TestEvaluateRulesMagnitudeSuspicious(t *testing.T) {
	tax, cfg := ruleEnv(t)
	cand := goodCandidate()
	cand.Validation.MagnitudeSuspicious = true

	flags := EvaluateRules(tax, cfg, cand)
	require.Contains(t, flagTypes(flags), types.FlagMagnitudeSuspicious)
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/stages"
	"econoclass/internal/types"
)

func candidateFor(id, name string) stages.Candidate {
	return stages.Candidate{
		Indicator: types.Indicator{ID: id, Name: name},
		Router: types.RouterResult{
			IndicatorID: id, Family: types.FamilyPhysicalFundamental, ConfidenceFamily: 0.9,
		},
		Specialist: types.SpecialistResult{
			IndicatorID: id, Family: types.FamilyPhysicalFundamental,
			IndicatorType: "flow", TemporalAggregation: types.TemporalPeriodTotal,
			ConfidenceCls: 0.85,
		},
		Orientation: types.OrientationResult{
			IndicatorID: id, Orientation: types.OrientationHigherIsPositive, ConfidenceOrient: 0.8,
		},
	}
}

func TestMergeCleanCandidates(t *testing.T) {
	cands := []stages.Candidate{candidateFor("a", "Industrial Production"), candidateFor("b", "Retail Sales")}
	out := Merge(cands, nil, nil, "reviewer-model")
	require.Len(t, out, 2)
	require.Empty(t, out[0].ReviewedBy)
	require.Equal(t, types.FamilyPhysicalFundamental, out[0].Family)
}

func TestMergeBlockWithoutRepairExcludes(t *testing.T) {
	cands := []stages.Candidate{candidateFor("a", "Industrial Production")}
	flags := []types.FlaggedIndicator{{
		IndicatorID: "a", FlagType: types.FlagTypeFamilyMismatch, Severity: types.SeverityBlock,
	}}

	require.Empty(t, Merge(cands, flags, nil, "m"))

	// Escalate does not repair.
	decisions := []types.ReviewDecision{{IndicatorID: "a", Action: types.ReviewEscalate}}
	require.Empty(t, Merge(cands, flags, decisions, "m"))
}

func TestMergeBlockWithFixIncluded(t *testing.T) {
	cands := []stages.Candidate{candidateFor("a", "Industrial Production")}
	flags := []types.FlaggedIndicator{{
		IndicatorID: "a", FlagType: types.FlagTypeFamilyMismatch, Severity: types.SeverityBlock,
	}}
	decisions := []types.ReviewDecision{{
		IndicatorID: "a", Action: types.ReviewFix,
		TargetField: "indicator_type", OldValue: "flow", NewValue: "stock",
	}}

	out := Merge(cands, flags, decisions, "reviewer-model")
	require.Len(t, out, 1)
	require.Equal(t, "stock", out[0].IndicatorType)
	require.Equal(t, "reviewer-model", out[0].ReviewedBy)
	// Fixing the type re-applies the temporal rules: stock forces
	// point-in-time.
	require.Equal(t, types.TemporalPointInTime, out[0].TemporalAggregation)
}

func TestMergeBlockWithAcceptIncluded(t *testing.T) {
	cands := []stages.Candidate{candidateFor("a", "Industrial Production")}
	flags := []types.FlaggedIndicator{{
		IndicatorID: "a", FlagType: types.FlagMissingField, Severity: types.SeverityBlock,
	}}
	decisions := []types.ReviewDecision{{IndicatorID: "a", Action: types.ReviewAccept}}

	out := Merge(cands, flags, decisions, "m")
	require.Len(t, out, 1)
}

func TestMergeWarnFlagsDoNotExclude(t *testing.T) {
	cands := []stages.Candidate{candidateFor("a", "Industrial Production")}
	flags := []types.FlaggedIndicator{{
		IndicatorID: "a", FlagType: types.FlagConfidenceBelowThreshold, Severity: types.SeverityWarn,
	}}
	require.Len(t, Merge(cands, flags, nil, "m"), 1)
}

// A fix cannot leave the row violating a total orientation override.
func TestMergeFixRespectsOrientationOverride(t *testing.T) {
	cand := candidateFor("a", "External debt stocks")
	cand.Specialist.IndicatorType = "stock"
	cand.Specialist.TemporalAggregation = types.TemporalPointInTime
	cand.Orientation.Orientation = types.OrientationLowerIsPositive

	decisions := []types.ReviewDecision{{
		IndicatorID: "a", Action: types.ReviewFix,
		TargetField: "heat_map_orientation",
		OldValue:    string(types.OrientationLowerIsPositive),
		NewValue:    string(types.OrientationHigherIsPositive),
	}}

	out := Merge([]stages.Candidate{cand}, nil, decisions, "m")
	require.Len(t, out, 1)
	require.Equal(t, types.OrientationLowerIsPositive, out[0].Orientation)
}

// Merging is a pure function of committed rows: same inputs, same output.
func TestMergeDeterministic(t *testing.T) {
	cands := []stages.Candidate{candidateFor("a", "Industrial Production"), candidateFor("b", "Retail Sales")}
	flags := []types.FlaggedIndicator{{
		IndicatorID: "b", FlagType: types.FlagMagnitudeSuspicious, Severity: types.SeverityWarn,
	}}
	first := Merge(cands, flags, nil, "m")
	second := Merge(cands, flags, nil, "m")
	require.Equal(t, first, second)
}

package pipeline

import (
	"econoclass/internal/logging"
	"econoclass/internal/stages"
	"econoclass/internal/types"
)

// Merge produces the final Classification set. It is a pure function of
// committed stage rows: candidates are merged field-wise, Review fixes
// are applied atomically, and candidates carrying a block flag that
// Review did not repair are excluded.
func Merge(candidates []stages.Candidate, flags []types.FlaggedIndicator, decisions []types.ReviewDecision, reviewModel string) []types.Classification {
	blocked := make(map[string]bool)
	for _, flag := range flags {
		if flag.Severity == types.SeverityBlock {
			blocked[flag.IndicatorID] = true
		}
	}
	decisionByID := make(map[string]types.ReviewDecision, len(decisions))
	for _, d := range decisions {
		decisionByID[d.IndicatorID] = d
	}

	out := make([]types.Classification, 0, len(candidates))
	for _, cand := range candidates {
		cls := cand.Classification()
		id := cls.IndicatorID

		decision, reviewed := decisionByID[id]
		if reviewed {
			cls.ReviewedBy = reviewModel
		}

		if reviewed && decision.Action == types.ReviewFix {
			applyFix(&cls, decision)
		}

		// Block flags exclude the row unless Review repaired or
		// explicitly accepted it.
		if blocked[id] {
			repaired := reviewed &&
				(decision.Action == types.ReviewFix || decision.Action == types.ReviewAccept)
			if !repaired {
				logging.Pipeline("Indicator %s excluded: block flag without repair", id)
				continue
			}
		}

		out = append(out, cls)
	}
	return out
}

// applyFix overwrites the one field the decision names, then re-applies
// the deterministic rules so a fix cannot leave the row in a state the
// rule engine would reject.
func applyFix(cls *types.Classification, d types.ReviewDecision) {
	switch d.TargetField {
	case "indicator_type":
		cls.IndicatorType = d.NewValue
	case "temporal_aggregation":
		cls.TemporalAggregation = types.TemporalAggregation(d.NewValue)
	case "heat_map_orientation":
		cls.Orientation = types.Orientation(d.NewValue)
	default:
		return
	}

	cls.TemporalAggregation = stages.ForceTemporal(cls.Family, cls.IndicatorType, cls.TemporalAggregation)
	if forced, ok := stages.OverrideOrientation(cls.Name, cls.IndicatorType); ok {
		cls.Orientation = forced
	}
}

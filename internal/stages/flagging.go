package stages

import (
	"context"
	"fmt"
	"time"

	"econoclass/internal/config"
	"econoclass/internal/logging"
	"econoclass/internal/store"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

// Candidate is the assembled per-indicator view the rule engine and the
// final merge both operate on: one row from each upstream stage.
type Candidate struct {
	Indicator   types.Indicator
	Router      types.RouterResult
	Specialist  types.SpecialistResult
	Validation  types.ValidationResult
	Orientation types.OrientationResult
}

// Classification merges the candidate's stage rows into one final row.
// Pure; Review fixes are applied on top of this by the driver.
func (c Candidate) Classification() types.Classification {
	return types.Classification{
		IndicatorID:           c.Indicator.ID,
		Name:                  c.Indicator.Name,
		Family:                c.Router.Family,
		IndicatorType:         c.Specialist.IndicatorType,
		IndicatorCategory:     c.Specialist.IndicatorCategory,
		TemporalAggregation:   c.Specialist.TemporalAggregation,
		IsCurrencyDenominated: c.Specialist.IsCurrencyDenominated,
		Orientation:           c.Orientation.Orientation,
		ConfidenceFamily:      c.Router.ConfidenceFamily,
		ConfidenceCls:         c.Specialist.ConfidenceCls,
		ConfidenceOrient:      c.Orientation.ConfidenceOrient,
	}
}

// Flagging evaluates every candidate row against the rule catalog. Pure
// rules, no LLM; each rule sees only the candidate and the Validation
// evidence.
type Flagging struct {
	Store store.Store
	Tax   *taxonomy.Taxonomy
	Cfg   *config.Config
}

// Run assembles candidates from committed stage rows, evaluates the
// rules and commits the resulting flags.
func (f *Flagging) Run(ctx context.Context, executionID string, indicators []types.Indicator) (types.StageCounts, error) {
	started := time.Now()
	counts := types.StageCounts{Processed: len(indicators)}

	candidates, err := AssembleCandidates(ctx, f.Store, executionID, indicators)
	if err != nil {
		return counts, err
	}

	var flags []types.FlaggedIndicator
	flaggedIDs := make(map[string]bool)
	for _, cand := range candidates {
		for _, flag := range EvaluateRules(f.Tax, f.Cfg, cand) {
			flags = append(flags, flag)
			flaggedIDs[flag.IndicatorID] = true
		}
	}

	if len(flags) > 0 {
		if err := f.Store.PutFlags(ctx, executionID, flags); err != nil {
			return counts, err
		}
	}

	counts.Successful = len(candidates)
	counts.Flagged = len(flaggedIDs)
	counts.ElapsedMs = time.Since(started).Milliseconds()
	logging.Flagging("Flagging complete: %d candidates, %d flagged (%d flags), %dms",
		len(candidates), counts.Flagged, len(flags), counts.ElapsedMs)
	return counts, nil
}

// AssembleCandidates joins the committed stage rows per indicator.
// Indicators missing a Router or Specialist row are skipped; their
// failure flags were written by the owning stage.
func AssembleCandidates(ctx context.Context, st store.Store, executionID string, indicators []types.Indicator) ([]Candidate, error) {
	routerRows, err := st.GetRouterResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	specRows, err := st.GetSpecialistResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	valRows, err := st.GetValidationResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	orientRows, err := st.GetOrientationResults(ctx, executionID)
	if err != nil {
		return nil, err
	}

	routerByID := make(map[string]types.RouterResult, len(routerRows))
	for _, r := range routerRows {
		routerByID[r.IndicatorID] = r
	}
	specByID := make(map[string]types.SpecialistResult, len(specRows))
	for _, r := range specRows {
		specByID[r.IndicatorID] = r
	}
	valByID := make(map[string]types.ValidationResult, len(valRows))
	for _, r := range valRows {
		valByID[r.IndicatorID] = r
	}
	orientByID := make(map[string]types.OrientationResult, len(orientRows))
	for _, r := range orientRows {
		orientByID[r.IndicatorID] = r
	}

	out := make([]Candidate, 0, len(indicators))
	for _, ind := range indicators {
		router, haveRouter := routerByID[ind.ID]
		spec, haveSpec := specByID[ind.ID]
		if !haveRouter || !haveSpec {
			continue
		}
		out = append(out, Candidate{
			Indicator:   ind,
			Router:      router,
			Specialist:  spec,
			Validation:  valByID[ind.ID],
			Orientation: orientByID[ind.ID],
		})
	}
	return out, nil
}

// EvaluateRules runs the full rule catalog over one candidate.
func EvaluateRules(tax *taxonomy.Taxonomy, cfg *config.Config, cand Candidate) []types.FlaggedIndicator {
	var flags []types.FlaggedIndicator
	id := cand.Indicator.ID

	add := func(ft types.FlagType, sev types.Severity, reason, current, expected string) {
		flags = append(flags, types.FlaggedIndicator{
			IndicatorID:   id,
			FlagType:      ft,
			FlagReason:    reason,
			CurrentValue:  current,
			ExpectedValue: expected,
			Severity:      sev,
		})
	}

	// missing-field: the merged row would be unusable.
	switch {
	case cand.Router.Family == "":
		add(types.FlagMissingField, types.SeverityBlock, "family is empty", "", "")
	case cand.Specialist.IndicatorType == "":
		add(types.FlagMissingField, types.SeverityBlock, "indicator_type is empty", "", "")
	case cand.Specialist.TemporalAggregation == "":
		add(types.FlagMissingField, types.SeverityBlock, "temporal_aggregation is empty", "", "")
	case cand.Orientation.Orientation == "":
		add(types.FlagMissingField, types.SeverityBlock, "heat_map_orientation is empty", "", "")
	}

	// confidence-below-threshold: per-family minimum wins over the
	// global one for the specialist confidence.
	famMin := cfg.Thresholds.ConfidenceFamilyMin
	clsMin := tax.MinConfidence(cand.Router.Family, cfg.Thresholds.ConfidenceClsMin)
	orientMin := cfg.Thresholds.ConfidenceOrientMin
	if cand.Router.ConfidenceFamily < famMin {
		add(types.FlagConfidenceBelowThreshold, types.SeverityWarn,
			fmt.Sprintf("family confidence %.2f below %.2f", cand.Router.ConfidenceFamily, famMin),
			fmt.Sprintf("%.2f", cand.Router.ConfidenceFamily), fmt.Sprintf(">= %.2f", famMin))
	}
	if cand.Specialist.ConfidenceCls < clsMin {
		add(types.FlagConfidenceBelowThreshold, types.SeverityWarn,
			fmt.Sprintf("classification confidence %.2f below %.2f", cand.Specialist.ConfidenceCls, clsMin),
			fmt.Sprintf("%.2f", cand.Specialist.ConfidenceCls), fmt.Sprintf(">= %.2f", clsMin))
	}
	if cand.Orientation.ConfidenceOrient < orientMin {
		add(types.FlagConfidenceBelowThreshold, types.SeverityWarn,
			fmt.Sprintf("orientation confidence %.2f below %.2f", cand.Orientation.ConfidenceOrient, orientMin),
			fmt.Sprintf("%.2f", cand.Orientation.ConfidenceOrient), fmt.Sprintf(">= %.2f", orientMin))
	}

	// type-family-mismatch: the pair is not in the taxonomy.
	if cand.Specialist.IndicatorType != "" && !tax.ValidType(cand.Router.Family, cand.Specialist.IndicatorType) {
		add(types.FlagTypeFamilyMismatch, types.SeverityBlock,
			fmt.Sprintf("type %q is not declared for family %q", cand.Specialist.IndicatorType, cand.Router.Family),
			cand.Specialist.IndicatorType, fmt.Sprintf("one of %v", tax.TypesFor(cand.Router.Family)))
	}

	// temporal-rule-violation: the stored temporal contradicts the
	// deterministic forcing rules.
	if forced := ForceTemporal(cand.Router.Family, cand.Specialist.IndicatorType, cand.Specialist.TemporalAggregation); forced != cand.Specialist.TemporalAggregation {
		add(types.FlagTemporalRuleViolation, types.SeverityBlock,
			fmt.Sprintf("type %q requires temporal_aggregation %q", cand.Specialist.IndicatorType, forced),
			string(cand.Specialist.TemporalAggregation), string(forced))
	}

	// validation-suggests-different-temporal: the series looks
	// cumulative but the specialist said otherwise.
	if cand.Validation.SuggestedTemporal == types.TemporalPeriodCumulative &&
		cand.Specialist.TemporalAggregation != types.TemporalPeriodCumulative {
		add(types.FlagValidationTemporal, types.SeverityWarn,
			fmt.Sprintf("series evidence suggests period-cumulative (confidence %.2f)", cand.Validation.CumulativeConfidence),
			string(cand.Specialist.TemporalAggregation), string(types.TemporalPeriodCumulative))
	}

	// orientation-conflicts-with-override: should not happen after the
	// Orientation stage applied overrides, but the rule keeps later
	// edits honest.
	if forced, ok := OverrideOrientation(cand.Indicator.Name, cand.Specialist.IndicatorType); ok && forced != cand.Orientation.Orientation {
		add(types.FlagOrientationConflict, types.SeverityWarn,
			fmt.Sprintf("name matches a total override requiring %q", forced),
			string(cand.Orientation.Orientation), string(forced))
	}

	// magnitude-suspicious: validation found implausible magnitudes.
	if cand.Validation.MagnitudeSuspicious {
		add(types.FlagMagnitudeSuspicious, types.SeverityWarn,
			"series magnitudes implausible for declared type", "", "")
	}

	return flags
}

package stages

import (
	"context"
	"time"

	"econoclass/internal/batch"
	"econoclass/internal/config"
	"econoclass/internal/gateway"
	"econoclass/internal/logging"
	"econoclass/internal/prompts"
	"econoclass/internal/store"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

// Review is the second pass over flagged indicators. It asks the model
// to accept, fix, or escalate each flagged classification; the flag set
// itself is immutable once produced. In flag-only mode every decision
// is recorded as escalate so a run can be audited without mutation.
type Review struct {
	GW    *gateway.Gateway
	Store store.Store
	Tax   *taxonomy.Taxonomy
	Cfg   *config.Config
}

// Run reviews every indicator carrying at least one warn-or-worse flag
// and commits one ReviewDecision per reviewed indicator.
func (r *Review) Run(ctx context.Context, executionID string, indicators []types.Indicator) (types.StageCounts, error) {
	started := time.Now()
	counts := types.StageCounts{}

	flags, err := r.Store.GetFlags(ctx, executionID)
	if err != nil {
		return counts, err
	}
	flagsByID := make(map[string][]types.FlaggedIndicator)
	for _, flag := range flags {
		if flag.Severity.AtLeastWarn() {
			flagsByID[flag.IndicatorID] = append(flagsByID[flag.IndicatorID], flag)
		}
	}
	if len(flagsByID) == 0 {
		logging.Review("No flagged indicators, nothing to review")
		return counts, nil
	}

	candidates, err := AssembleCandidates(ctx, r.Store, executionID, indicators)
	if err != nil {
		return counts, err
	}
	candByID := make(map[string]Candidate, len(candidates))
	for _, cand := range candidates {
		candByID[cand.Indicator.ID] = cand
	}

	var flagged []Candidate
	for id := range flagsByID {
		if cand, ok := candByID[id]; ok {
			flagged = append(flagged, cand)
		}
	}
	counts.Processed = len(flagged)
	counts.Flagged = len(flagged)

	system := prompts.ReviewSystem(r.Tax)
	schema := prompts.ReviewSchema()
	chunks := batch.Partition(flagged, r.Cfg.Batch.ReviewBatchSize)

	logging.Review("Reviewing %d flagged indicators in %d batches (mode=%s)",
		len(flagged), len(chunks), r.Cfg.Review.Mode)

	err = batch.ForEach(ctx, chunks, r.Cfg.Concurrency.Review, func(ctx context.Context, chunk []Candidate) error {
		items := make([]gateway.Item, len(chunk))
		byID := make(map[string]Candidate, len(chunk))
		for i, cand := range chunk {
			items[i] = gateway.Item{
				ID:      cand.Indicator.ID,
				Payload: prompts.ReviewProjection(cand.Indicator, cand.Classification(), flagsByID[cand.Indicator.ID]),
			}
			byID[cand.Indicator.ID] = cand
		}

		res, err := r.GW.RunBatch(ctx, gateway.BatchRequest{
			Stage:        "review",
			SystemPrompt: system,
			Items:        items,
			Schema:       schema,
		})
		if err != nil {
			return err
		}

		decisions := make([]types.ReviewDecision, 0, len(chunk))
		for id, el := range res.Results {
			decisions = append(decisions, r.decide(byID[id], el))
		}
		for _, fi := range res.Failed {
			logging.Review("Indicator %s failed review after %d retries: %v", fi.ID, fi.Retries, fi.Err)
			decisions = append(decisions, types.ReviewDecision{
				IndicatorID: fi.ID,
				Action:      types.ReviewEscalate,
				Reasoning:   "review call failed: " + fi.Err.Error(),
			})
		}
		return r.Store.PutReviewDecisions(ctx, executionID, decisions)
	})
	if err != nil {
		return counts, err
	}

	final, err := r.Store.GetReviewDecisions(ctx, executionID)
	if err != nil {
		return counts, err
	}
	for _, d := range final {
		counts.Reviewed++
		switch d.Action {
		case types.ReviewFix:
			counts.Fixed++
		case types.ReviewEscalate:
			counts.Escalated++
		}
	}
	counts.Successful = counts.Reviewed
	counts.ElapsedMs = time.Since(started).Milliseconds()
	logging.Review("Review complete: %d reviewed, %d fixed, %d escalated, %dms",
		counts.Reviewed, counts.Fixed, counts.Escalated, counts.ElapsedMs)
	return counts, nil
}

// decide turns one validated response element into a ReviewDecision,
// enforcing the mode, the confidence floor, and the one-field fix
// contract.
func (r *Review) decide(cand Candidate, el map[string]interface{}) types.ReviewDecision {
	decision := types.ReviewDecision{
		IndicatorID: cand.Indicator.ID,
		Action:      types.ReviewAction(gateway.GetString(el, "action")),
		Reasoning:   gateway.GetRawString(el, "reasoning"),
		Confidence:  gateway.GetFloat(el, "confidence"),
	}
	if !decision.Action.Valid() {
		decision.Action = types.ReviewEscalate
		decision.Reasoning = "unrecognized review action"
		return decision
	}

	// Audit-only runs never change anything.
	if r.Cfg.Review.Mode == config.ReviewModeFlagOnly {
		decision.Action = types.ReviewEscalate
		return decision
	}

	// Below the confidence floor the returned action is irrelevant.
	if decision.Confidence < r.Cfg.Review.MinConfidence {
		decision.Action = types.ReviewEscalate
		return decision
	}

	if decision.Action != types.ReviewFix {
		return decision
	}

	// A fix overwrites exactly one field, and the new value must be in
	// its vocabulary. Anything else downgrades to escalate.
	type fix struct {
		field string
		value string
		valid bool
		old   string
	}
	var fixes []fix
	if v := gateway.GetString(el, "fixed_type"); v != "" {
		fixes = append(fixes, fix{
			field: "indicator_type",
			value: v,
			valid: r.Tax.ValidType(cand.Router.Family, v),
			old:   cand.Specialist.IndicatorType,
		})
	}
	if v := gateway.GetString(el, "fixed_temporal_aggregation"); v != "" {
		fixes = append(fixes, fix{
			field: "temporal_aggregation",
			value: v,
			valid: r.Tax.ValidTemporal(types.TemporalAggregation(v)),
			old:   string(cand.Specialist.TemporalAggregation),
		})
	}
	if v := gateway.GetString(el, "fixed_orientation"); v != "" {
		fixes = append(fixes, fix{
			field: "heat_map_orientation",
			value: v,
			valid: r.Tax.ValidOrientation(types.Orientation(v)),
			old:   string(cand.Orientation.Orientation),
		})
	}

	if len(fixes) != 1 {
		decision.Action = types.ReviewEscalate
		decision.Reasoning = "fix must name exactly one field"
		return decision
	}
	if !fixes[0].valid {
		logging.Review("Indicator %s: fix value %q for %s violates its vocabulary, escalating",
			cand.Indicator.ID, fixes[0].value, fixes[0].field)
		decision.Action = types.ReviewEscalate
		decision.Reasoning = "fix value outside its vocabulary"
		return decision
	}

	decision.TargetField = fixes[0].field
	decision.OldValue = fixes[0].old
	decision.NewValue = fixes[0].value
	return decision
}

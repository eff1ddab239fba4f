package stages

import (
	"context"
	"regexp"
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

// OrientationStage assigns the heat-map orientation of each indicator:
// whether a rising value reads as good, bad, or neither. Uses the LLM
// for judgment calls and deterministic overrides for the cases where
// convention admits no judgment.
type OrientationStage struct {
	GW    *gateway.Gateway
	Store store.Store
	Tax   *taxonomy.Taxonomy
	Cfg   *config.Config
}

// Run orients every indicator and commits one OrientationResult each.
func (o *OrientationStage) Run(ctx context.Context, executionID string, indicators []types.Indicator) (types.StageCounts, error) {
	started := time.Now()
	counts := types.StageCounts{Processed: len(indicators)}

	specialist, err := o.Store.GetSpecialistResults(ctx, executionID)
	if err != nil {
		return counts, err
	}
	specByID := make(map[string]types.SpecialistResult, len(specialist))
	for _, row := range specialist {
		specByID[row.IndicatorID] = row
	}

	system := prompts.OrientationSystem()
	schema := prompts.OrientationSchema()
	chunks := batch.Partition(indicators, o.Cfg.Batch.OrientationBatchSize)

	logging.Orientation("Orienting %d indicators in %d batches", len(indicators), len(chunks))

	err = batch.ForEach(ctx, chunks, o.Cfg.Concurrency.Orientation, func(ctx context.Context, chunk []types.Indicator) error {
		items := make([]gateway.Item, 0, len(chunk))
		byID := make(map[string]types.Indicator, len(chunk))
		for _, ind := range chunk {
			spec := specByID[ind.ID]
			items = append(items, gateway.Item{
				ID:      ind.ID,
				Payload: prompts.OrientationProjection(ind, spec.Family, spec.IndicatorType),
			})
			byID[ind.ID] = ind
		}

		res, err := o.GW.RunBatch(ctx, gateway.BatchRequest{
			Stage:        "orientation",
			SystemPrompt: system,
			Items:        items,
			Schema:       schema,
		})
		if err != nil {
			return err
		}

		rows := make([]types.OrientationResult, 0, len(chunk))
		var flags []types.FlaggedIndicator

		for id, el := range res.Results {
			ind := byID[id]
			row := types.OrientationResult{
				IndicatorID:      id,
				Orientation:      types.Orientation(gateway.GetString(el, "orientation")),
				ConfidenceOrient: gateway.GetFloat(el, "confidence"),
				Reasoning:        gateway.GetRawString(el, "reasoning"),
			}
			if forced, ok := OverrideOrientation(ind.Name, specByID[id].IndicatorType); ok {
				if forced != row.Orientation {
					logging.Orientation("Indicator %s: override %s replaces model answer %s", id, forced, row.Orientation)
				}
				row.Orientation = forced
				row.ConfidenceOrient = 1.0
			}
			rows = append(rows, row)
		}

		for _, fi := range res.Failed {
			logging.Orientation("Indicator %s failed orientation after %d retries: %v", fi.ID, fi.Retries, fi.Err)
			ind := byID[fi.ID]
			row := types.OrientationResult{
				IndicatorID:      fi.ID,
				Orientation:      types.OrientationNeutral,
				ConfidenceOrient: 0,
				Reasoning:        "orientation failed, defaulted to neutral",
			}
			if forced, ok := OverrideOrientation(ind.Name, specByID[fi.ID].IndicatorType); ok {
				row.Orientation = forced
				row.ConfidenceOrient = 1.0
			}
			rows = append(rows, row)
			flags = append(flags, types.FlaggedIndicator{
				IndicatorID: fi.ID,
				FlagType:    types.FlagOrientationFailure,
				FlagReason:  fi.Err.Error(),
				Severity:    types.SeverityWarn,
			})
		}

		if err := o.Store.PutOrientationResults(ctx, executionID, rows); err != nil {
			return err
		}
		if len(flags) > 0 {
			if err := o.Store.PutFlags(ctx, executionID, flags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return counts, err
	}

	final, err := o.Store.GetOrientationResults(ctx, executionID)
	if err != nil {
		return counts, err
	}
	for _, row := range final {
		if row.ConfidenceOrient > 0 {
			counts.Successful++
		} else {
			counts.Failed++
		}
	}
	counts.ElapsedMs = time.Since(started).Milliseconds()
	logging.Orientation("Orientation complete: %d ok, %d failed, %dms", counts.Successful, counts.Failed, counts.ElapsedMs)
	return counts, nil
}

// =============================================================================
// DETERMINISTIC OVERRIDES
// =============================================================================

var (
	neutralRateRe  = regexp.MustCompile(`(?i)fx rate|exchange rate|yield|interest rate|sofr|libor`)
	unemploymentRe = regexp.MustCompile(`(?i)unemployment`)
	inflationRe    = regexp.MustCompile(`(?i)inflation`)
	priceIndexRe   = regexp.MustCompile(`(?i)cpi|ppi|price index`)
	debtRe         = regexp.MustCompile(`(?i)debt|dt\.dod|dt\.amt`)
)

// OverrideOrientation returns the conventional orientation for names
// where convention is total, and whether one applies. These override
// whatever the model said.
func OverrideOrientation(name, indicatorType string) (types.Orientation, bool) {
	switch {
	case neutralRateRe.MatchString(name):
		return types.OrientationNeutral, true
	case unemploymentRe.MatchString(name):
		return types.OrientationLowerIsPositive, true
	case inflationRe.MatchString(name):
		return types.OrientationLowerIsPositive, true
	case priceIndexRe.MatchString(name) && indicatorType == "rate":
		return types.OrientationLowerIsPositive, true
	case priceIndexRe.MatchString(name) && indicatorType == "index":
		return types.OrientationNeutral, true
	case debtRe.MatchString(name):
		return types.OrientationLowerIsPositive, true
	}
	return "", false
}

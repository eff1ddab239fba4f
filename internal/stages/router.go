// Package stages implements the six pipeline stages: Router, Specialist,
// Validation, Orientation, Flagging, Review. Stages run strictly in
// sequence; each reads the committed rows of its predecessors and writes
// only its own table. LLM-facing stages share the gateway's batch/retry
// protocol, deterministic stages are pure functions of stored rows.
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

// Router assigns each indicator to one of the taxonomy families.
type Router struct {
	GW    *gateway.Gateway
	Store store.Store
	Tax   *taxonomy.Taxonomy
	Cfg   *config.Config
}

// Run routes every indicator and commits one RouterResult per item.
// Items the provider cannot classify fall back to the least-committal
// family and get a router-failure flag so Review sees them.
func (r *Router) Run(ctx context.Context, executionID string, indicators []types.Indicator) (types.StageCounts, error) {
	started := time.Now()
	counts := types.StageCounts{Processed: len(indicators)}

	system := prompts.RouterSystem(r.Tax)
	schema := prompts.RouterSchema(r.Tax)
	chunks := batch.Partition(indicators, r.Cfg.Batch.RouterBatchSize)

	logging.Router("Routing %d indicators in %d batches (execution %s)", len(indicators), len(chunks), executionID)

	err := batch.ForEach(ctx, chunks, r.Cfg.Concurrency.Router, func(ctx context.Context, chunk []types.Indicator) error {
		items := make([]gateway.Item, len(chunk))
		byID := make(map[string]types.Indicator, len(chunk))
		for i, ind := range chunk {
			items[i] = gateway.Item{ID: ind.ID, Payload: prompts.RouterProjection(ind)}
			byID[ind.ID] = ind
		}

		res, err := r.GW.RunBatch(ctx, gateway.BatchRequest{
			Stage:        "router",
			SystemPrompt: system,
			Items:        items,
			Schema:       schema,
		})
		if err != nil {
			return err
		}

		rows := make([]types.RouterResult, 0, len(chunk))
		var flags []types.FlaggedIndicator

		for id, el := range res.Results {
			row := r.resultFromElement(ctx, byID[id], system, schema, el)
			rows = append(rows, row)
		}
		for _, fi := range res.Failed {
			logging.Router("Indicator %s failed routing after %d retries: %v", fi.ID, fi.Retries, fi.Err)
			rows = append(rows, types.RouterResult{
				IndicatorID:      fi.ID,
				Family:           types.FamilyQualitative,
				ConfidenceFamily: 0,
				Reasoning:        "routing failed, defaulted to least-committal family",
			})
			flags = append(flags, types.FlaggedIndicator{
				IndicatorID: fi.ID,
				FlagType:    types.FlagRouterFailure,
				FlagReason:  fi.Err.Error(),
				Severity:    types.SeverityWarn,
			})
		}

		if err := r.Store.PutRouterResults(ctx, executionID, rows); err != nil {
			return err
		}
		if len(flags) > 0 {
			if err := r.Store.PutFlags(ctx, executionID, flags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return counts, err
	}

	final, err := r.Store.GetRouterResults(ctx, executionID)
	if err != nil {
		return counts, err
	}
	for _, row := range final {
		if row.ConfidenceFamily > 0 {
			counts.Successful++
		} else {
			counts.Failed++
		}
	}
	counts.ElapsedMs = time.Since(started).Milliseconds()
	logging.Router("Routing complete: %d ok, %d failed, %dms", counts.Successful, counts.Failed, counts.ElapsedMs)
	return counts, nil
}

// resultFromElement converts one validated response element. Items that
// come back below the family confidence threshold get singleton retries;
// the last observed family is kept either way.
func (r *Router) resultFromElement(ctx context.Context, ind types.Indicator, system string, schema *gateway.ResponseSchema, el map[string]interface{}) types.RouterResult {
	row := types.RouterResult{
		IndicatorID:      ind.ID,
		Family:           types.Family(gateway.GetString(el, "family")),
		ConfidenceFamily: gateway.GetFloat(el, "confidence"),
		Reasoning:        gateway.GetRawString(el, "reasoning"),
	}
	min := r.Cfg.Thresholds.ConfidenceFamilyMin
	if r.Tax.ValidFamily(row.Family) && row.ConfidenceFamily >= min {
		return row
	}

	// Below threshold: give the item solo attempts with backoff. The
	// last observed answer wins even if it never clears the bar.
	delay := r.Cfg.RetryDelay()
	for attempt := 1; attempt <= r.Cfg.Retry.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return row
		case <-time.After(delay):
		}
		delay *= 2

		res, err := r.GW.RunBatch(ctx, gateway.BatchRequest{
			Stage:        "router",
			SystemPrompt: system,
			Items:        []gateway.Item{{ID: ind.ID, Payload: prompts.RouterProjection(ind)}},
			Schema:       schema,
		})
		if err != nil || len(res.Results) == 0 {
			continue
		}
		el := res.Results[ind.ID]
		fam := types.Family(gateway.GetString(el, "family"))
		conf := gateway.GetFloat(el, "confidence")
		if r.Tax.ValidFamily(fam) {
			row.Family = fam
			row.ConfidenceFamily = conf
			row.Reasoning = gateway.GetRawString(el, "reasoning")
		}
		if conf >= min {
			break
		}
		logging.Router("Indicator %s still below family threshold (%.2f < %.2f), attempt %d",
			ind.ID, conf, min, attempt)
	}
	return row
}

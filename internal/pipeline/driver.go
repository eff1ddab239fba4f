// Package pipeline drives the six stages in strict sequence and owns
// the final merge and run telemetry. Stages checkpoint through storage,
// so a cancelled run keeps its committed rows and reports partial
// progress instead of failing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"econoclass/internal/config"
	"econoclass/internal/gateway"
	"econoclass/internal/logging"
	"econoclass/internal/stages"
	"econoclass/internal/store"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

// Stage names as they appear in telemetry and summaries.
var StageOrder = []string{"router", "specialist", "validation", "orientation", "flagging", "review"}

// Driver wires the stages together. Review may use a different gateway
// (different provider or model) than the other LLM stages.
type Driver struct {
	Cfg      *config.Config
	Store    store.Store
	Tax      *taxonomy.Taxonomy
	GW       *gateway.Gateway
	ReviewGW *gateway.Gateway
}

// Result is what a run reports back to the CLI.
type Result struct {
	Execution types.PipelineExecution
	Cancelled bool
	Merged    int
	Excluded  int
}

// Run executes the full pipeline for one execution. An empty
// executionID gets a fresh UUID. Re-running an existing execution
// requires replace mode, which clears its rows first.
func (d *Driver) Run(ctx context.Context, executionID string, limit int) (*Result, error) {
	if executionID == "" {
		executionID = uuid.New().String()
	}

	exists, err := d.Store.HasExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exists {
		if !d.Cfg.Database.ReplaceExecution {
			return nil, fmt.Errorf("execution %s already has rows; enable database.replace_execution to overwrite", executionID)
		}
		if err := d.Store.DeleteExecution(ctx, executionID); err != nil {
			return nil, err
		}
	}

	indicators, err := d.Store.ListIndicators(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(indicators) == 0 {
		return nil, fmt.Errorf("no source indicators loaded; seed the database first")
	}

	logging.Pipeline("Starting execution %s: %d indicators", executionID, len(indicators))
	result := &Result{Execution: types.PipelineExecution{
		ExecutionID: executionID,
		StartedAt:   time.Now().UTC(),
		StageCounts: make(map[string]types.StageCounts),
	}}

	runStage := func(name string, fn func(context.Context) (types.StageCounts, error)) error {
		logging.Pipeline("Stage %s starting", name)
		counts, err := fn(ctx)
		result.Execution.StageCounts[name] = counts
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Cancelled = true
				logging.Pipeline("Stage %s cancelled; committed rows survive", name)
				return err
			}
			return fmt.Errorf("stage %s: %w", name, err)
		}
		return nil
	}

	err = d.runStages(ctx, executionID, indicators, runStage)
	if err != nil && !result.Cancelled {
		d.finishTelemetry(ctx, result)
		return result, err
	}

	if !result.Cancelled {
		if err := d.mergeAndCommit(ctx, executionID, indicators, result); err != nil {
			d.finishTelemetry(ctx, result)
			return result, err
		}
	}

	d.finishTelemetry(ctx, result)
	logging.Pipeline("Execution %s finished: %d classifications, %d excluded, cancelled=%v",
		executionID, result.Merged, result.Excluded, result.Cancelled)
	return result, nil
}

func (d *Driver) runStages(ctx context.Context, executionID string, indicators []types.Indicator,
	runStage func(string, func(context.Context) (types.StageCounts, error)) error) error {

	router := &stages.Router{GW: d.GW, Store: d.Store, Tax: d.Tax, Cfg: d.Cfg}
	if err := runStage("router", func(ctx context.Context) (types.StageCounts, error) {
		return router.Run(ctx, executionID, indicators)
	}); err != nil {
		return err
	}

	specialist := &stages.Specialist{GW: d.GW, Store: d.Store, Tax: d.Tax, Cfg: d.Cfg}
	if err := runStage("specialist", func(ctx context.Context) (types.StageCounts, error) {
		return specialist.Run(ctx, executionID, indicators)
	}); err != nil {
		return err
	}

	validation := &stages.Validation{Store: d.Store}
	if err := runStage("validation", func(ctx context.Context) (types.StageCounts, error) {
		return validation.Run(ctx, executionID, indicators)
	}); err != nil {
		return err
	}

	orientation := &stages.OrientationStage{GW: d.GW, Store: d.Store, Tax: d.Tax, Cfg: d.Cfg}
	if err := runStage("orientation", func(ctx context.Context) (types.StageCounts, error) {
		return orientation.Run(ctx, executionID, indicators)
	}); err != nil {
		return err
	}

	flagging := &stages.Flagging{Store: d.Store, Tax: d.Tax, Cfg: d.Cfg}
	if err := runStage("flagging", func(ctx context.Context) (types.StageCounts, error) {
		return flagging.Run(ctx, executionID, indicators)
	}); err != nil {
		return err
	}

	review := &stages.Review{GW: d.reviewGateway(), Store: d.Store, Tax: d.Tax, Cfg: d.Cfg}
	return runStage("review", func(ctx context.Context) (types.StageCounts, error) {
		return review.Run(ctx, executionID, indicators)
	})
}

// ReviewAll re-runs Flagging and Review over an existing execution's
// committed rows, then re-merges. flagOnly forces audit mode for this
// run regardless of configuration.
func (d *Driver) ReviewAll(ctx context.Context, executionID string, flagOnly bool) (*Result, error) {
	if executionID == "" {
		return nil, fmt.Errorf("review-all requires an execution id")
	}
	exists, err := d.Store.HasExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("execution %s has no rows", executionID)
	}

	cfg := d.Cfg
	if flagOnly && cfg.Review.Mode != config.ReviewModeFlagOnly {
		clone := *cfg
		clone.Review.Mode = config.ReviewModeFlagOnly
		cfg = &clone
	}

	indicators, err := d.Store.ListIndicators(ctx, 0)
	if err != nil {
		return nil, err
	}

	result := &Result{Execution: types.PipelineExecution{
		ExecutionID: executionID,
		StartedAt:   time.Now().UTC(),
		StageCounts: make(map[string]types.StageCounts),
	}}

	flagging := &stages.Flagging{Store: d.Store, Tax: d.Tax, Cfg: cfg}
	counts, err := flagging.Run(ctx, executionID, indicators)
	result.Execution.StageCounts["flagging"] = counts
	if err != nil {
		return result, err
	}

	review := &stages.Review{GW: d.reviewGateway(), Store: d.Store, Tax: d.Tax, Cfg: cfg}
	counts, err = review.Run(ctx, executionID, indicators)
	result.Execution.StageCounts["review"] = counts
	if err != nil {
		return result, err
	}

	if err := d.mergeAndCommit(ctx, executionID, indicators, result); err != nil {
		return result, err
	}
	d.finishTelemetry(ctx, result)
	return result, nil
}

// mergeAndCommit builds the final Classification set from committed
// rows and writes it.
func (d *Driver) mergeAndCommit(ctx context.Context, executionID string, indicators []types.Indicator, result *Result) error {
	candidates, err := stages.AssembleCandidates(ctx, d.Store, executionID, indicators)
	if err != nil {
		return err
	}
	flags, err := d.Store.GetFlags(ctx, executionID)
	if err != nil {
		return err
	}
	decisions, err := d.Store.GetReviewDecisions(ctx, executionID)
	if err != nil {
		return err
	}

	merged := Merge(candidates, flags, decisions, d.reviewGateway().Client().Model())
	if err := d.Store.PutClassifications(ctx, executionID, merged); err != nil {
		return err
	}
	result.Merged = len(merged)
	result.Excluded = len(candidates) - len(merged)
	return nil
}

// finishTelemetry folds the gateway counters into the execution row.
// Telemetry failures are logged, not fatal: the classifications are
// already committed.
func (d *Driver) finishTelemetry(ctx context.Context, result *Result) {
	snap := d.GW.Snapshot()
	cost := d.GW.CostEstimate()
	if rg := d.ReviewGW; rg != nil && rg != d.GW {
		rs := rg.Snapshot()
		snap.APICalls += rs.APICalls
		snap.TokensIn += rs.TokensIn
		snap.TokensOut += rs.TokensOut
		cost += rg.CostEstimate()
	}
	result.Execution.FinishedAt = time.Now().UTC()
	result.Execution.APICalls = snap.APICalls
	result.Execution.TokensIn = snap.TokensIn
	result.Execution.TokensOut = snap.TokensOut
	result.Execution.CostEstimate = cost

	// Use a fresh context: the run context may already be cancelled.
	putCtx := ctx
	if putCtx.Err() != nil {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := d.Store.PutExecution(putCtx, result.Execution); err != nil {
		logging.Pipeline("Failed to persist execution telemetry: %v", err)
	}
}

func (d *Driver) reviewGateway() *gateway.Gateway {
	if d.ReviewGW != nil {
		return d.ReviewGW
	}
	return d.GW
}

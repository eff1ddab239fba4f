package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"econoclass/internal/logging"
	"econoclass/internal/types"
)

const upsertExecutionSQL = `
	INSERT INTO pipeline_executions
		(execution_id, started_at, finished_at, stage_counts, api_calls,
		 tokens_in, tokens_out, cost_estimate)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id) DO UPDATE SET
		started_at = excluded.started_at,
		finished_at = excluded.finished_at,
		stage_counts = excluded.stage_counts,
		api_calls = excluded.api_calls,
		tokens_in = excluded.tokens_in,
		tokens_out = excluded.tokens_out,
		cost_estimate = excluded.cost_estimate`

// PutExecution writes the telemetry row for a run.
func (s *SQLStore) PutExecution(ctx context.Context, exec types.PipelineExecution) error {
	counts, err := json.Marshal(exec.StageCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal stage counts: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(upsertExecutionSQL),
			exec.ExecutionID, exec.StartedAt, exec.FinishedAt, string(counts),
			exec.APICalls, exec.TokensIn, exec.TokensOut, exec.CostEstimate)
		return err
	})
}

// HasExecution reports whether any stage rows or a telemetry row exist
// for the execution.
func (s *SQLStore) HasExecution(ctx context.Context, executionID string) (bool, error) {
	for _, table := range []string{"pipeline_executions", "router_results", "classifications"} {
		st, err := s.prepare(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE execution_id = ?", table))
		if err != nil {
			return false, err
		}
		var n int64
		if err := st.QueryRowContext(ctx, executionID).Scan(&n); err != nil {
			return false, classify(err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// executionTables lists every table keyed by execution_id.
var executionTables = []string{
	"router_results",
	"specialist_results",
	"validation_results",
	"orientation_results",
	"flagging_results",
	"review_decisions",
	"classifications",
	"pipeline_executions",
}

// DeleteExecution removes every row for the execution (replace mode).
func (s *SQLStore) DeleteExecution(ctx context.Context, executionID string) error {
	logging.Store("Deleting rows for execution %s", executionID)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range executionTables {
			if _, err := tx.ExecContext(ctx, s.rebind(
				fmt.Sprintf("DELETE FROM %s WHERE execution_id = ?", table)), executionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns per-table row counts.
func (s *SQLStore) Stats(ctx context.Context) (map[string]int64, error) {
	tables := append([]string{"source_indicators", "source_country_indicators"}, executionTables...)
	stats := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = n
	}
	return stats, nil
}

package store

import (
	"context"
	"database/sql"
	"time"

	"econoclass/internal/logging"
	"econoclass/internal/types"
)

// Stage result rows upsert by (execution_id, indicator_id): re-running a
// stage with identical inputs replaces rows byte-identically apart from
// created_at.

const upsertRouterSQL = `
	INSERT INTO router_results
		(execution_id, indicator_id, family, confidence_family, reasoning, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id) DO UPDATE SET
		family = excluded.family,
		confidence_family = excluded.confidence_family,
		reasoning = excluded.reasoning,
		created_at = excluded.created_at`

// PutRouterResults writes the Router stage's batch atomically.
func (s *SQLStore) PutRouterResults(ctx context.Context, executionID string, rows []types.RouterResult) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutRouterResults")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			created := r.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, s.rebind(upsertRouterSQL),
				executionID, r.IndicatorID, string(r.Family), r.ConfidenceFamily,
				r.Reasoning, created); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRouterResults scans the execution's router rows in indicator order.
func (s *SQLStore) GetRouterResults(ctx context.Context, executionID string) ([]types.RouterResult, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, family, confidence_family, reasoning, created_at
		FROM router_results WHERE execution_id = ? ORDER BY indicator_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.RouterResult
	for rows.Next() {
		var r types.RouterResult
		var fam string
		if err := rows.Scan(&r.IndicatorID, &fam, &r.ConfidenceFamily, &r.Reasoning, &r.CreatedAt); err != nil {
			return nil, classify(err)
		}
		r.Family = types.Family(fam)
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertSpecialistSQL = `
	INSERT INTO specialist_results
		(execution_id, indicator_id, family, indicator_type, indicator_category,
		 temporal_aggregation, is_currency_denominated, confidence_cls, reasoning, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id) DO UPDATE SET
		family = excluded.family,
		indicator_type = excluded.indicator_type,
		indicator_category = excluded.indicator_category,
		temporal_aggregation = excluded.temporal_aggregation,
		is_currency_denominated = excluded.is_currency_denominated,
		confidence_cls = excluded.confidence_cls,
		reasoning = excluded.reasoning,
		created_at = excluded.created_at`

// PutSpecialistResults writes the Specialist stage's batch atomically.
func (s *SQLStore) PutSpecialistResults(ctx context.Context, executionID string, rows []types.SpecialistResult) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutSpecialistResults")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			created := r.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, s.rebind(upsertSpecialistSQL),
				executionID, r.IndicatorID, string(r.Family), r.IndicatorType,
				r.IndicatorCategory, string(r.TemporalAggregation),
				r.IsCurrencyDenominated, r.ConfidenceCls, r.Reasoning, created); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSpecialistResults scans the execution's specialist rows in indicator order.
func (s *SQLStore) GetSpecialistResults(ctx context.Context, executionID string) ([]types.SpecialistResult, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, family, indicator_type, indicator_category,
		       temporal_aggregation, is_currency_denominated, confidence_cls,
		       reasoning, created_at
		FROM specialist_results WHERE execution_id = ? ORDER BY indicator_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.SpecialistResult
	for rows.Next() {
		var r types.SpecialistResult
		var fam, temporal string
		if err := rows.Scan(&r.IndicatorID, &fam, &r.IndicatorType, &r.IndicatorCategory,
			&temporal, &r.IsCurrencyDenominated, &r.ConfidenceCls,
			&r.Reasoning, &r.CreatedAt); err != nil {
			return nil, classify(err)
		}
		r.Family = types.Family(fam)
		r.TemporalAggregation = types.TemporalAggregation(temporal)
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertValidationSQL = `
	INSERT INTO validation_results
		(execution_id, indicator_id, is_cumulative, cumulative_confidence,
		 suggested_temporal, validation_reasoning, magnitude_suspicious, analyzed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id) DO UPDATE SET
		is_cumulative = excluded.is_cumulative,
		cumulative_confidence = excluded.cumulative_confidence,
		suggested_temporal = excluded.suggested_temporal,
		validation_reasoning = excluded.validation_reasoning,
		magnitude_suspicious = excluded.magnitude_suspicious,
		analyzed = excluded.analyzed`

// PutValidationResults writes the Validation stage's batch atomically.
func (s *SQLStore) PutValidationResults(ctx context.Context, executionID string, rows []types.ValidationResult) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutValidationResults")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, s.rebind(upsertValidationSQL),
				executionID, r.IndicatorID, r.IsCumulative, r.CumulativeConfidence,
				string(r.SuggestedTemporal), r.ValidationReasoning,
				r.MagnitudeSuspicious, r.Analyzed); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetValidationResults scans the execution's validation rows in indicator order.
func (s *SQLStore) GetValidationResults(ctx context.Context, executionID string) ([]types.ValidationResult, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, is_cumulative, cumulative_confidence,
		       suggested_temporal, validation_reasoning, magnitude_suspicious, analyzed
		FROM validation_results WHERE execution_id = ? ORDER BY indicator_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.ValidationResult
	for rows.Next() {
		var r types.ValidationResult
		var temporal string
		if err := rows.Scan(&r.IndicatorID, &r.IsCumulative, &r.CumulativeConfidence,
			&temporal, &r.ValidationReasoning, &r.MagnitudeSuspicious, &r.Analyzed); err != nil {
			return nil, classify(err)
		}
		r.SuggestedTemporal = types.TemporalAggregation(temporal)
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertOrientationSQL = `
	INSERT INTO orientation_results
		(execution_id, indicator_id, heat_map_orientation, confidence_orient, reasoning, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id) DO UPDATE SET
		heat_map_orientation = excluded.heat_map_orientation,
		confidence_orient = excluded.confidence_orient,
		reasoning = excluded.reasoning,
		created_at = excluded.created_at`

// PutOrientationResults writes the Orientation stage's batch atomically.
func (s *SQLStore) PutOrientationResults(ctx context.Context, executionID string, rows []types.OrientationResult) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutOrientationResults")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			created := r.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, s.rebind(upsertOrientationSQL),
				executionID, r.IndicatorID, string(r.Orientation),
				r.ConfidenceOrient, r.Reasoning, created); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOrientationResults scans the execution's orientation rows in indicator order.
func (s *SQLStore) GetOrientationResults(ctx context.Context, executionID string) ([]types.OrientationResult, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, heat_map_orientation, confidence_orient, reasoning, created_at
		FROM orientation_results WHERE execution_id = ? ORDER BY indicator_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.OrientationResult
	for rows.Next() {
		var r types.OrientationResult
		var orient string
		if err := rows.Scan(&r.IndicatorID, &orient, &r.ConfidenceOrient, &r.Reasoning, &r.CreatedAt); err != nil {
			return nil, classify(err)
		}
		r.Orientation = types.Orientation(orient)
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertFlagSQL = `
	INSERT INTO flagging_results
		(execution_id, indicator_id, flag_type, flag_reason, current_value, expected_value, severity)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id, flag_type) DO UPDATE SET
		flag_reason = excluded.flag_reason,
		current_value = excluded.current_value,
		expected_value = excluded.expected_value,
		severity = excluded.severity`

// PutFlags writes the flag set atomically. Flags are immutable once
// produced; re-running the stage replaces the set idempotently.
func (s *SQLStore) PutFlags(ctx context.Context, executionID string, flags []types.FlaggedIndicator) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutFlags")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, f := range flags {
			if _, err := tx.ExecContext(ctx, s.rebind(upsertFlagSQL),
				executionID, f.IndicatorID, string(f.FlagType), f.FlagReason,
				f.CurrentValue, f.ExpectedValue, string(f.Severity)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFlags scans the execution's flags in indicator, flag-type order.
func (s *SQLStore) GetFlags(ctx context.Context, executionID string) ([]types.FlaggedIndicator, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, flag_type, flag_reason, current_value, expected_value, severity
		FROM flagging_results WHERE execution_id = ? ORDER BY indicator_id, flag_type`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.FlaggedIndicator
	for rows.Next() {
		var f types.FlaggedIndicator
		var ft, sev string
		if err := rows.Scan(&f.IndicatorID, &ft, &f.FlagReason, &f.CurrentValue, &f.ExpectedValue, &sev); err != nil {
			return nil, classify(err)
		}
		f.FlagType = types.FlagType(ft)
		f.Severity = types.Severity(sev)
		out = append(out, f)
	}
	return out, rows.Err()
}

const upsertReviewSQL = `
	INSERT INTO review_decisions
		(execution_id, indicator_id, action, target_field, old_value, new_value, reasoning, confidence)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id) DO UPDATE SET
		action = excluded.action,
		target_field = excluded.target_field,
		old_value = excluded.old_value,
		new_value = excluded.new_value,
		reasoning = excluded.reasoning,
		confidence = excluded.confidence`

// PutReviewDecisions writes the Review stage's decisions atomically.
func (s *SQLStore) PutReviewDecisions(ctx context.Context, executionID string, rows []types.ReviewDecision) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutReviewDecisions")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx, s.rebind(upsertReviewSQL),
				executionID, r.IndicatorID, string(r.Action), r.TargetField,
				r.OldValue, r.NewValue, r.Reasoning, r.Confidence); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetReviewDecisions scans the execution's review decisions in indicator order.
func (s *SQLStore) GetReviewDecisions(ctx context.Context, executionID string) ([]types.ReviewDecision, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, action, target_field, old_value, new_value, reasoning, confidence
		FROM review_decisions WHERE execution_id = ? ORDER BY indicator_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.ReviewDecision
	for rows.Next() {
		var r types.ReviewDecision
		var action string
		if err := rows.Scan(&r.IndicatorID, &action, &r.TargetField, &r.OldValue,
			&r.NewValue, &r.Reasoning, &r.Confidence); err != nil {
			return nil, classify(err)
		}
		r.Action = types.ReviewAction(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertClassificationSQL = `
	INSERT INTO classifications
		(execution_id, indicator_id, name, family, indicator_type, indicator_category,
		 temporal_aggregation, is_currency_denominated, heat_map_orientation,
		 confidence_family, confidence_cls, confidence_orient, reviewed_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(execution_id, indicator_id) DO UPDATE SET
		name = excluded.name,
		family = excluded.family,
		indicator_type = excluded.indicator_type,
		indicator_category = excluded.indicator_category,
		temporal_aggregation = excluded.temporal_aggregation,
		is_currency_denominated = excluded.is_currency_denominated,
		heat_map_orientation = excluded.heat_map_orientation,
		confidence_family = excluded.confidence_family,
		confidence_cls = excluded.confidence_cls,
		confidence_orient = excluded.confidence_orient,
		reviewed_by = excluded.reviewed_by,
		created_at = excluded.created_at`

// PutClassifications writes the merged final rows atomically. The driver
// owns this table.
func (s *SQLStore) PutClassifications(ctx context.Context, executionID string, rows []types.Classification) error {
	timer := logging.StartTimer(logging.CategoryStore, "PutClassifications")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			created := r.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, s.rebind(upsertClassificationSQL),
				executionID, r.IndicatorID, r.Name, string(r.Family), r.IndicatorType,
				r.IndicatorCategory, string(r.TemporalAggregation),
				r.IsCurrencyDenominated, string(r.Orientation),
				r.ConfidenceFamily, r.ConfidenceCls, r.ConfidenceOrient,
				r.ReviewedBy, created); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetClassifications scans the execution's final rows in indicator order.
func (s *SQLStore) GetClassifications(ctx context.Context, executionID string) ([]types.Classification, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, name, family, indicator_type, indicator_category,
		       temporal_aggregation, is_currency_denominated, heat_map_orientation,
		       confidence_family, confidence_cls, confidence_orient, reviewed_by, created_at
		FROM classifications WHERE execution_id = ? ORDER BY indicator_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, executionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.Classification
	for rows.Next() {
		var c types.Classification
		var fam, temporal, orient string
		if err := rows.Scan(&c.IndicatorID, &c.Name, &fam, &c.IndicatorType,
			&c.IndicatorCategory, &temporal, &c.IsCurrencyDenominated, &orient,
			&c.ConfidenceFamily, &c.ConfidenceCls, &c.ConfidenceOrient,
			&c.ReviewedBy, &c.CreatedAt); err != nil {
			return nil, classify(err)
		}
		c.Family = types.Family(fam)
		c.TemporalAggregation = types.TemporalAggregation(temporal)
		c.Orientation = types.Orientation(orient)
		out = append(out, c)
	}
	return out, rows.Err()
}

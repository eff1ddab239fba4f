package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"econoclass/internal/logging"
	"econoclass/internal/types"
)

const upsertIndicatorSQL = `
	INSERT INTO source_indicators
		(indicator_id, name, units, periodicity, category_group, topic,
		 aggregation_method, scale, currency_code, dataset, description)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(indicator_id) DO UPDATE SET
		name = excluded.name,
		units = excluded.units,
		periodicity = excluded.periodicity,
		category_group = excluded.category_group,
		topic = excluded.topic,
		aggregation_method = excluded.aggregation_method,
		scale = excluded.scale,
		currency_code = excluded.currency_code,
		dataset = excluded.dataset,
		description = excluded.description`

const upsertSampleSQL = `
	INSERT INTO source_country_indicators (indicator_id, date, value)
	VALUES (?, ?, ?)
	ON CONFLICT(indicator_id, date) DO UPDATE SET value = excluded.value`

// UpsertIndicators writes a batch of source indicators and their sample
// series atomically.
func (s *SQLStore) UpsertIndicators(ctx context.Context, indicators []types.Indicator) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertIndicators")
	defer timer.Stop()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ind := range indicators {
			if ind.ID == "" {
				return fmt.Errorf("%w: indicator with empty id", ErrConflict)
			}
			if _, err := tx.ExecContext(ctx, s.rebind(upsertIndicatorSQL),
				ind.ID, ind.Name, ind.Units, ind.Periodicity, ind.CategoryGroup,
				ind.Topic, ind.AggregationMethod, ind.Scale, ind.CurrencyCode,
				ind.Dataset, ind.Description); err != nil {
				return err
			}
			for _, sp := range ind.SampleValues {
				if _, err := tx.ExecContext(ctx, s.rebind(upsertSampleSQL),
					ind.ID, sp.Date, sp.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GetIndicator loads one indicator with its sample series.
func (s *SQLStore) GetIndicator(ctx context.Context, id string) (*types.Indicator, error) {
	st, err := s.prepare(ctx, `
		SELECT indicator_id, name, units, periodicity, category_group, topic,
		       aggregation_method, scale, currency_code, dataset, description
		FROM source_indicators WHERE indicator_id = ?`)
	if err != nil {
		return nil, err
	}

	var ind types.Indicator
	err = st.QueryRowContext(ctx, id).Scan(
		&ind.ID, &ind.Name, &ind.Units, &ind.Periodicity, &ind.CategoryGroup,
		&ind.Topic, &ind.AggregationMethod, &ind.Scale, &ind.CurrencyCode,
		&ind.Dataset, &ind.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: indicator %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}

	if ind.SampleValues, err = s.loadSamples(ctx, id); err != nil {
		return nil, err
	}
	return &ind, nil
}

// ListIndicators returns indicators ordered by id, with their sample
// series attached. limit <= 0 means no limit.
func (s *SQLStore) ListIndicators(ctx context.Context, limit int) ([]types.Indicator, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListIndicators")
	defer timer.Stop()

	query := `
		SELECT indicator_id, name, units, periodicity, category_group, topic,
		       aggregation_method, scale, currency_code, dataset, description
		FROM source_indicators ORDER BY indicator_id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.Indicator
	for rows.Next() {
		var ind types.Indicator
		if err := rows.Scan(
			&ind.ID, &ind.Name, &ind.Units, &ind.Periodicity, &ind.CategoryGroup,
			&ind.Topic, &ind.AggregationMethod, &ind.Scale, &ind.CurrencyCode,
			&ind.Dataset, &ind.Description); err != nil {
			return nil, classify(err)
		}
		out = append(out, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for i := range out {
		if out[i].SampleValues, err = s.loadSamples(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) loadSamples(ctx context.Context, indicatorID string) ([]types.SamplePoint, error) {
	st, err := s.prepare(ctx, `
		SELECT date, value FROM source_country_indicators
		WHERE indicator_id = ? ORDER BY date`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, indicatorID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var samples []types.SamplePoint
	for rows.Next() {
		var sp types.SamplePoint
		if err := rows.Scan(&sp.Date, &sp.Value); err != nil {
			return nil, classify(err)
		}
		samples = append(samples, sp)
	}
	return samples, rows.Err()
}

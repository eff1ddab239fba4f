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

// Specialist refines each routed indicator inside its family: assigns
// the indicator type, the temporal aggregation, and the currency
// denomination. One Specialist value serves all families; the family
// determines which prompt and type vocabulary each group gets.
type Specialist struct {
	GW    *gateway.Gateway
	Store store.Store
	Tax   *taxonomy.Taxonomy
	Cfg   *config.Config
}

// Run groups indicators by routed family, classifies each group with
// its family prompt, applies the deterministic overrides and commits
// one SpecialistResult per indicator.
func (s *Specialist) Run(ctx context.Context, executionID string, indicators []types.Indicator) (types.StageCounts, error) {
	started := time.Now()
	counts := types.StageCounts{Processed: len(indicators)}

	routed, err := s.Store.GetRouterResults(ctx, executionID)
	if err != nil {
		return counts, err
	}
	familyOf := make(map[string]types.Family, len(routed))
	for _, row := range routed {
		familyOf[row.IndicatorID] = row.Family
	}

	byFamily := make(map[types.Family][]types.Indicator)
	for _, ind := range indicators {
		fam, ok := familyOf[ind.ID]
		if !ok {
			logging.Specialist("Indicator %s has no router row, skipping", ind.ID)
			continue
		}
		byFamily[fam] = append(byFamily[fam], ind)
	}

	for fam, group := range byFamily {
		if err := s.runFamily(ctx, executionID, fam, group); err != nil {
			return counts, err
		}
	}

	final, err := s.Store.GetSpecialistResults(ctx, executionID)
	if err != nil {
		return counts, err
	}
	for _, row := range final {
		if row.ConfidenceCls > 0 {
			counts.Successful++
		} else {
			counts.Failed++
		}
	}
	counts.ElapsedMs = time.Since(started).Milliseconds()
	logging.Specialist("Specialist complete: %d ok, %d failed, %dms", counts.Successful, counts.Failed, counts.ElapsedMs)
	return counts, nil
}

func (s *Specialist) runFamily(ctx context.Context, executionID string, fam types.Family, group []types.Indicator) error {
	system := prompts.SpecialistSystem(s.Tax, fam)
	schema := prompts.SpecialistSchema(s.Tax, fam)
	chunks := batch.Partition(group, s.Cfg.Batch.SpecialistBatchSize)

	logging.Specialist("Family %s: %d indicators in %d batches", fam, len(group), len(chunks))

	return batch.ForEach(ctx, chunks, s.Cfg.Concurrency.Specialist, func(ctx context.Context, chunk []types.Indicator) error {
		items := make([]gateway.Item, len(chunk))
		byID := make(map[string]types.Indicator, len(chunk))
		for i, ind := range chunk {
			items[i] = gateway.Item{ID: ind.ID, Payload: prompts.SpecialistProjection(ind, fam)}
			byID[ind.ID] = ind
		}

		res, err := s.GW.RunBatch(ctx, gateway.BatchRequest{
			Stage:        "specialist",
			SystemPrompt: system,
			Items:        items,
			Schema:       schema,
		})
		if err != nil {
			return err
		}

		rows := make([]types.SpecialistResult, 0, len(chunk))
		var flags []types.FlaggedIndicator

		for id, el := range res.Results {
			ind := byID[id]
			row := types.SpecialistResult{
				IndicatorID:           id,
				Family:                fam,
				IndicatorType:         gateway.GetString(el, "type"),
				TemporalAggregation:   types.TemporalAggregation(gateway.GetString(el, "temporal_aggregation")),
				IsCurrencyDenominated: el["is_currency_denominated"] == true,
				ConfidenceCls:         gateway.GetFloat(el, "confidence"),
				Reasoning:             gateway.GetRawString(el, "reasoning"),
			}
			row.TemporalAggregation = ForceTemporal(fam, row.IndicatorType, row.TemporalAggregation)
			row.IsCurrencyDenominated = CurrencyDenominated(ind, row.IndicatorType, row.IsCurrencyDenominated)
			rows = append(rows, row)
		}

		for _, fi := range res.Failed {
			logging.Specialist("Indicator %s failed %s specialist after %d retries: %v", fi.ID, fam, fi.Retries, fi.Err)
			ind := byID[fi.ID]
			placeholder := s.Tax.PlaceholderType(fam)
			row := types.SpecialistResult{
				IndicatorID:         fi.ID,
				Family:              fam,
				IndicatorType:       placeholder,
				TemporalAggregation: ForceTemporal(fam, placeholder, types.TemporalPointInTime),
				ConfidenceCls:       0,
				Reasoning:           "specialist failed, placeholder type assigned",
			}
			row.IsCurrencyDenominated = CurrencyDenominated(ind, row.IndicatorType, false)
			rows = append(rows, row)
			flags = append(flags, types.FlaggedIndicator{
				IndicatorID: fi.ID,
				FlagType:    types.FlagSpecialistFailure,
				FlagReason:  fi.Err.Error(),
				Severity:    types.SeverityWarn,
			})
		}

		if err := s.Store.PutSpecialistResults(ctx, executionID, rows); err != nil {
			return err
		}
		if len(flags) > 0 {
			if err := s.Store.PutFlags(ctx, executionID, flags); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// DETERMINISTIC OVERRIDES
// =============================================================================

// ForceTemporal applies the temporal aggregation rules that hold by
// construction for certain indicator types, regardless of what the
// model returned.
func ForceTemporal(fam types.Family, indicatorType string, got types.TemporalAggregation) types.TemporalAggregation {
	switch indicatorType {
	case "ratio", "percentage", "share", "spread":
		return types.TemporalNotApplicable
	case "count", "volume":
		return types.TemporalPeriodTotal
	}
	switch {
	case fam == types.FamilyPriceValue && (indicatorType == "price" || indicatorType == "yield"):
		return types.TemporalPointInTime
	case fam == types.FamilyPhysicalFundamental && indicatorType == "stock":
		return types.TemporalPointInTime
	case fam == types.FamilyPhysicalFundamental && indicatorType == "flow":
		return types.TemporalPeriodTotal
	case fam == types.FamilyChangeMovement && indicatorType == "rate":
		return types.TemporalPeriodRate
	}
	return got
}

var (
	currencySigilRe = regexp.MustCompile(`(?i)\b(USD|EUR|GBP|JPY|CHF|CNY|AUD|CAD)\b|[$€£¥]`)
	currencyWordRe  = regexp.MustCompile(`(?i)local currency|current prices|constant prices|\bLCU\b`)
	monetaryNameRe  = regexp.MustCompile(`(?i)\b(debt|reserves|exports|imports|gdp)\b`)
	priceTokenRe    = regexp.MustCompile(`(?i)fx rate|\byield\b|\bsofr\b|\blibor\b|\bprice\b|\bcost\b`)
	exchangeRateRe  = regexp.MustCompile(`(?i)fx rate|exchange rate`)
)

// CurrencyDenominated decides whether the measured value is an amount
// of money. The heuristic overrides the model when they disagree.
// Exchange rates are excluded: they price one currency in another
// rather than measuring a monetary amount.
func CurrencyDenominated(ind types.Indicator, indicatorType string, fromModel bool) bool {
	if ind.CurrencyCode != "" {
		return true
	}
	if exchangeRateRe.MatchString(ind.Name) {
		return false
	}
	if currencySigilRe.MatchString(ind.Units) || currencyWordRe.MatchString(ind.Units) {
		return true
	}
	if monetaryNameRe.MatchString(ind.Name) {
		switch indicatorType {
		case "stock", "flow", "balance":
			return true
		}
	}
	// Price tokens only count for actual price-like types. "Consumer
	// Price Index" names a price but measures a dimensionless index.
	switch indicatorType {
	case "price", "cost", "value", "yield":
		if priceTokenRe.MatchString(ind.Name) {
			return true
		}
	}
	return fromModel
}

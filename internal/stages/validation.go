package stages

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"econoclass/internal/logging"
	"econoclass/internal/store"
	"econoclass/internal/types"
)

// Validation derives independent evidence from each indicator's sample
// series: is the series year-to-date cumulative, and are its magnitudes
// plausible for the declared type. No LLM involved, and it never writes
// outside its own table; Flagging and Review consult the rows later.
type Validation struct {
	Store store.Store
}

const (
	// cumulativeStepMin is the fraction of intra-year non-decreasing
	// steps required to call a series cumulative.
	cumulativeStepMin = 0.90

	// cumulativeSuggestMin gates the period-cumulative suggestion.
	cumulativeSuggestMin = 0.70

	// magnitudeOutlierMax is the tolerated fraction of percentage values
	// outside [-100, 100].
	magnitudeOutlierMax = 0.05

	// monetaryMedianMax is the largest plausible unscaled monetary median.
	monetaryMedianMax = 1e14
)

var hyperinflationRe = regexp.MustCompile(`(?i)hyper|zimbabwe|venezuela`)

// Run analyzes every indicator's series and commits one ValidationResult
// per indicator. Indicators without usable observations are recorded as
// not analyzed.
func (v *Validation) Run(ctx context.Context, executionID string, indicators []types.Indicator) (types.StageCounts, error) {
	started := time.Now()
	counts := types.StageCounts{Processed: len(indicators)}

	specialist, err := v.Store.GetSpecialistResults(ctx, executionID)
	if err != nil {
		return counts, err
	}
	specByID := make(map[string]types.SpecialistResult, len(specialist))
	for _, row := range specialist {
		specByID[row.IndicatorID] = row
	}

	rows := make([]types.ValidationResult, 0, len(indicators))
	for _, ind := range indicators {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		rows = append(rows, Analyze(ind, specByID[ind.ID]))
	}

	if err := v.Store.PutValidationResults(ctx, executionID, rows); err != nil {
		return counts, err
	}

	for _, row := range rows {
		if row.Analyzed {
			counts.Successful++
		}
	}
	counts.ElapsedMs = time.Since(started).Milliseconds()
	logging.Validation("Validation complete: %d analyzed of %d, %dms", counts.Successful, counts.Processed, counts.ElapsedMs)
	return counts, nil
}

// Analyze runs both checks on one indicator. Pure function.
func Analyze(ind types.Indicator, spec types.SpecialistResult) types.ValidationResult {
	result := types.ValidationResult{IndicatorID: ind.ID}

	obs := realObservations(ind.SampleValues)
	if len(obs) < 3 {
		result.ValidationReasoning = "too few dated observations"
		return result
	}
	result.Analyzed = true

	isCum, conf := detectCumulative(obs)
	result.IsCumulative = isCum
	result.CumulativeConfidence = conf
	if isCum && conf >= cumulativeSuggestMin {
		result.SuggestedTemporal = types.TemporalPeriodCumulative
		result.ValidationReasoning = fmt.Sprintf(
			"series is non-decreasing within years and resets in January (confidence %.2f)", conf)
	}

	result.MagnitudeSuspicious = magnitudeSuspicious(ind, spec, obs)
	if result.MagnitudeSuspicious && result.ValidationReasoning == "" {
		result.ValidationReasoning = "series magnitudes implausible for declared type"
	}
	return result
}

// observation is a dated sample after symbolic-token filtering.
type observation struct {
	at    time.Time
	value float64
}

var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// realObservations drops symbolic date tokens (last10YearsAvg and
// friends are summary statistics, not observations) and returns the
// remainder sorted by date.
func realObservations(samples []types.SamplePoint) []observation {
	obs := make([]observation, 0, len(samples))
	for _, sp := range samples {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, sp.Date); err == nil {
				obs = append(obs, observation{at: t, value: sp.Value})
				break
			}
		}
	}
	sort.Slice(obs, func(i, j int) bool { return obs[i].at.Before(obs[j].at) })
	return obs
}

// detectCumulative checks for YTD-style accumulation: values climb
// within a calendar year and drop back near the series minimum when the
// year turns.
func detectCumulative(obs []observation) (bool, float64) {
	var intraSteps, nonDecreasing int
	for i := 1; i < len(obs); i++ {
		if obs[i].at.Year() != obs[i-1].at.Year() {
			continue
		}
		intraSteps++
		if obs[i].value >= obs[i-1].value {
			nonDecreasing++
		}
	}
	if intraSteps == 0 {
		return false, 0
	}

	// Random walks sit near fraction 0.5, perfect accumulation at 1.0;
	// rescale that band onto [0,1].
	fraction := float64(nonDecreasing) / float64(intraSteps)
	confidence := clamp01((fraction - 0.5) * 2)
	if fraction < cumulativeStepMin {
		return false, confidence
	}

	// A cumulative series must also reset: the first value of each new
	// year sits close to the series minimum.
	min, max := obs[0].value, obs[0].value
	for _, o := range obs[1:] {
		if o.value < min {
			min = o.value
		}
		if o.value > max {
			max = o.value
		}
	}
	span := max - min
	if span <= 0 {
		return false, confidence
	}

	var boundaries, resets int
	for i := 1; i < len(obs); i++ {
		if obs[i].at.Year() == obs[i-1].at.Year() {
			continue
		}
		boundaries++
		if obs[i].value-min <= 0.25*span {
			resets++
		}
	}
	if boundaries == 0 || resets < boundaries {
		return false, confidence
	}
	return true, confidence
}

// magnitudeSuspicious applies the magnitude-consistency check.
func magnitudeSuspicious(ind types.Indicator, spec types.SpecialistResult, obs []observation) bool {
	switch spec.IndicatorType {
	case "percentage", "rate":
		if hyperinflationRe.MatchString(ind.Name) {
			return false
		}
		var outliers int
		for _, o := range obs {
			if o.value < -100 || o.value > 100 {
				outliers++
			}
		}
		return float64(outliers)/float64(len(obs)) > magnitudeOutlierMax

	case "stock":
		if !spec.IsCurrencyDenominated || ind.Scale != "" {
			return false
		}
		return median(obs) > monetaryMedianMax
	}
	return false
}

func median(obs []observation) float64 {
	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.value
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

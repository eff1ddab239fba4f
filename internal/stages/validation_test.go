package stages

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/types"
)

// ytdSeries builds two years of YTD-style monthly samples: climbing
// within each year, resetting in January.
func ytdSeries() []types.SamplePoint {
	var samples []types.SamplePoint
	for year := 2022; year <= 2023; year++ {
		for month := 1; month <= 12; month++ {
			samples = append(samples, types.SamplePoint{
				Date:  fmt.Sprintf("%d-%02d-01", year, month),
				Value: float64(month) * 100,
			})
		}
	}
	return samples
}

func TestAnalyzeDetectsCumulativeSeries(t *testing.T) {
	ind := types.Indicator{ID: "ytd", Name: "Exports, YTD", SampleValues: ytdSeries()}
	res := Analyze(ind, types.SpecialistResult{IndicatorType: "flow"})

	require.True(t, res.Analyzed)
	require.True(t, res.IsCumulative)
	require.GreaterOrEqual(t, res.CumulativeConfidence, 0.7)
	require.Equal(t, types.TemporalPeriodCumulative, res.SuggestedTemporal)
}

func TestAnalyzeFlatSeriesNotCumulative(t *testing.T) {
	samples := []types.SamplePoint{
		{Date: "2023-01-01", Value: 3.5},
		{Date: "2023-02-01", Value: 3.2},
		{Date: "2023-03-01", Value: 3.7},
		{Date: "2023-04-01", Value: 3.4},
		{Date: "2023-05-01", Value: 3.6},
	}
	res := Analyze(types.Indicator{ID: "u", SampleValues: samples}, types.SpecialistResult{})
	require.True(t, res.Analyzed)
	require.False(t, res.IsCumulative)
	require.Empty(t, res.SuggestedTemporal)
}

// A monotonically growing stock never resets, so it must not read as
// cumulative even though every step is non-decreasing.
func TestAnalyzeGrowingSeriesWithoutResetNotCumulative(t *testing.T) {
	var samples []types.SamplePoint
	v := 100.0
	for year := 2021; year <= 2023; year++ {
		for month := 1; month <= 12; month++ {
			samples = append(samples, types.SamplePoint{
				Date:  fmt.Sprintf("%d-%02d-01", year, month),
				Value: v,
			})
			v += 10
		}
	}
	res := Analyze(types.Indicator{ID: "stock", SampleValues: samples}, types.SpecialistResult{})
	require.False(t, res.IsCumulative)
}

func TestAnalyzeSymbolicDatesFiltered(t *testing.T) {
	samples := append(ytdSeries(),
		types.SamplePoint{Date: "last10YearsAvg", Value: 1e9},
		types.SamplePoint{Date: "last10YearsPeerAvg", Value: 2e9},
	)
	res := Analyze(types.Indicator{ID: "ytd", SampleValues: samples}, types.SpecialistResult{})
	// Summary tokens must not break the reset detection.
	require.True(t, res.IsCumulative)
}

func TestAnalyzeTooFewObservations(t *testing.T) {
	res := Analyze(types.Indicator{ID: "x", SampleValues: []types.SamplePoint{
		{Date: "2023-01-01", Value: 1},
		{Date: "last10YearsAvg", Value: 5},
	}}, types.SpecialistResult{})
	require.False(t, res.Analyzed)
	require.False(t, res.IsCumulative)
}

func TestAnalyzeMagnitudePercentageOutliers(t *testing.T) {
	samples := []types.SamplePoint{
		{Date: "2023-01-01", Value: 250},
		{Date: "2023-02-01", Value: 300},
		{Date: "2023-03-01", Value: 275},
	}
	res := Analyze(types.Indicator{ID: "pct", Name: "Some share", SampleValues: samples},
		types.SpecialistResult{IndicatorType: "percentage"})
	require.True(t, res.MagnitudeSuspicious)

	// Within range: fine.
	res = Analyze(types.Indicator{ID: "pct", SampleValues: []types.SamplePoint{
		{Date: "2023-01-01", Value: 3.5},
		{Date: "2023-02-01", Value: 3.6},
		{Date: "2023-03-01", Value: 3.7},
	}}, types.SpecialistResult{IndicatorType: "percentage"})
	require.False(t, res.MagnitudeSuspicious)
}

func TestAnalyzeHyperinflationExempt(t *testing.T) {
	samples := []types.SamplePoint{
		{Date: "2023-01-01", Value: 89000},
		{Date: "2023-02-01", Value: 120000},
		{Date: "2023-03-01", Value: 250000},
	}
	res := Analyze(types.Indicator{ID: "vz", Name: "Venezuela inflation rate", SampleValues: samples},
		types.SpecialistResult{IndicatorType: "rate"})
	require.False(t, res.MagnitudeSuspicious)
}

func TestAnalyzeMonetaryStockMagnitude(t *testing.T) {
	samples := []types.SamplePoint{
		{Date: "2023-01-01", Value: 3e14},
		{Date: "2023-02-01", Value: 4e14},
		{Date: "2023-03-01", Value: 5e14},
	}
	ind := types.Indicator{ID: "big", Name: "Gross reserves", SampleValues: samples}
	spec := types.SpecialistResult{IndicatorType: "stock", IsCurrencyDenominated: true}
	require.True(t, Analyze(ind, spec).MagnitudeSuspicious)

	// A scale hint explains the magnitude.
	ind.Scale = "units"
	require.False(t, Analyze(ind, spec).MagnitudeSuspicious)

	// Non-monetary stocks are not checked.
	spec.IsCurrencyDenominated = false
	ind.Scale = ""
	require.False(t, Analyze(ind, spec).MagnitudeSuspicious)
}

package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/config"
	"econoclass/internal/gateway"
	"econoclass/internal/store"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

// expected is the fixture-embedded truth for one indicator.
type expected struct {
	family      types.Family
	typ         string
	temporal    types.TemporalAggregation
	currency    bool
	orientation types.Orientation
}

// fixture couples an input indicator with its expected classification.
type fixture struct {
	ind  types.Indicator
	want expected
}

func samples() []types.SamplePoint {
	return []types.SamplePoint{
		{Date: "2023-01-01", Value: 1.2},
		{Date: "2023-02-01", Value: 2.4},
		{Date: "2023-03-01", Value: 3.1},
	}
}

func fx(id, name, units string, want expected) fixture {
	return fixture{
		ind:  types.Indicator{ID: id, Name: name, Units: units, Periodicity: "monthly", SampleValues: samples()},
		want: want,
	}
}

// baseFixtures covers every family; the six minimal scenarios from the
// classification contract are the first six entries.
func baseFixtures() []fixture {
	return []fixture{
		fx("gdp", "Gross Domestic Product", "USD", expected{
			types.FamilyPhysicalFundamental, "flow", types.TemporalPeriodTotal, true, types.OrientationHigherIsPositive}),
		fx("unemp", "Unemployment Rate", "%", expected{
			types.FamilyNumericMeasurement, "percentage", types.TemporalNotApplicable, false, types.OrientationLowerIsPositive}),
		fx("cpi", "Consumer Price Index", "Index (2015=100)", expected{
			types.FamilyCompositeDerived, "index", types.TemporalPointInTime, false, types.OrientationNeutral}),
		fx("fxrate", "FX Rate XAF", "XAF", expected{
			types.FamilyPriceValue, "price", types.TemporalPointInTime, false, types.OrientationNeutral}),
		fx("debt", "Long-term external debt", "USD", expected{
			types.FamilyPhysicalFundamental, "stock", types.TemporalPointInTime, true, types.OrientationLowerIsPositive}),
		fx("brent", "Brent Crude Price", "USD/barrel", expected{
			types.FamilyPriceValue, "price", types.TemporalPointInTime, true, types.OrientationNeutral}),

		fx("prod", "Industrial Production", "millions", expected{
			types.FamilyPhysicalFundamental, "flow", types.TemporalPeriodTotal, false, types.OrientationHigherIsPositive}),
		fx("exports", "Exports of goods", "USD millions", expected{
			types.FamilyPhysicalFundamental, "flow", types.TemporalPeriodTotal, true, types.OrientationHigherIsPositive}),
		fx("cons", "Household consumption", "current prices", expected{
			types.FamilyPhysicalFundamental, "flow", types.TemporalPeriodTotal, true, types.OrientationHigherIsPositive}),
		fx("reserves", "Gross International Reserves", "USD", expected{
			types.FamilyPhysicalFundamental, "stock", types.TemporalPointInTime, true, types.OrientationHigherIsPositive}),
		fx("pop", "Population", "persons", expected{
			types.FamilyPhysicalFundamental, "stock", types.TemporalPointInTime, false, types.OrientationHigherIsPositive}),

		fx("ltd", "Loan to deposit ratio", "%", expected{
			types.FamilyNumericMeasurement, "ratio", types.TemporalNotApplicable, false, types.OrientationHigherIsPositive}),
		fx("lshare", "Labor share of income", "%", expected{
			types.FamilyNumericMeasurement, "share", types.TemporalNotApplicable, false, types.OrientationHigherIsPositive}),
		fx("spread", "Sovereign bond spread", "basis points", expected{
			types.FamilyNumericMeasurement, "spread", types.TemporalNotApplicable, false, types.OrientationHigherIsPositive}),
		fx("reg", "Number of new business registrations", "count", expected{
			types.FamilyNumericMeasurement, "count", types.TemporalPeriodTotal, false, types.OrientationHigherIsPositive}),
		fx("m2", "Money supply M2", "USD", expected{
			types.FamilyNumericMeasurement, "level", types.TemporalPointInTime, true, types.OrientationHigherIsPositive}),

		fx("yield", "10-Year Government Bond Yield", "%", expected{
			types.FamilyPriceValue, "yield", types.TemporalPointInTime, true, types.OrientationNeutral}),
		fx("wage", "Real wage", "LCU", expected{
			types.FamilyPriceValue, "value", types.TemporalPointInTime, true, types.OrientationHigherIsPositive}),

		fx("infl", "Inflation, consumer prices", "%", expected{
			types.FamilyChangeMovement, "rate", types.TemporalPeriodRate, false, types.OrientationLowerIsPositive}),
		fx("growth", "GDP growth", "%", expected{
			types.FamilyChangeMovement, "growth", types.TemporalPeriodRate, false, types.OrientationHigherIsPositive}),
		fx("vol", "Equity market volatility", "index points", expected{
			types.FamilyChangeMovement, "volatility", types.TemporalPeriodAverage, false, types.OrientationHigherIsPositive}),

		fx("pmi", "Purchasing Managers Index", "index", expected{
			types.FamilyCompositeDerived, "index", types.TemporalPointInTime, false, types.OrientationHigherIsPositive}),
		fx("cli", "Composite leading indicator score", "index", expected{
			types.FamilyCompositeDerived, "score", types.TemporalPointInTime, false, types.OrientationHigherIsPositive}),

		fx("dur", "Median duration of unemployment", "weeks", expected{
			types.FamilyTemporal, "duration", types.TemporalPeriodAverage, false, types.OrientationLowerIsPositive}),
		fx("days", "Days to start a business", "days", expected{
			types.FamilyTemporal, "duration", types.TemporalPeriodAverage, false, types.OrientationHigherIsPositive}),

		fx("rating", "Sovereign credit rating", "grade", expected{
			types.FamilyQualitative, "rating", types.TemporalPointInTime, false, types.OrientationHigherIsPositive}),
		fx("sent", "Business sentiment outlook", "balance of opinion", expected{
			types.FamilyQualitative, "category", types.TemporalPointInTime, false, types.OrientationHigherIsPositive}),
	}
}

// allFixtures replicates the base set with regional variants until the
// corpus exceeds one hundred indicators.
func allFixtures() []fixture {
	base := baseFixtures()
	out := append([]fixture(nil), base...)
	region := 1
	for len(out) < 108 {
		for _, f := range base {
			if len(out) >= 108 {
				break
			}
			clone := f
			clone.ind.ID = fmt.Sprintf("%s-r%d", f.ind.ID, region)
			clone.ind.Name = fmt.Sprintf("%s - Region %d", f.ind.Name, region)
			out = append(out, clone)
		}
		region++
	}
	return out
}

func testDriver(t *testing.T) (*Driver, store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"
	cfg.Retry.RetryDelayMs = 1

	st, err := store.Open(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tax, err := taxonomy.Load()
	require.NoError(t, err)

	gw := gateway.New(gateway.NewMockClient(), cfg.Retry.MaxRetries, cfg.RetryDelay())
	return &Driver{Cfg: cfg, Store: st, Tax: tax, GW: gw, ReviewGW: gw}, st
}

func runFixtures(t *testing.T, fixtures []fixture) (map[string]types.Classification, *Result) {
	t.Helper()
	driver, st := testDriver(t)
	ctx := context.Background()

	indicators := make([]types.Indicator, len(fixtures))
	for i, f := range fixtures {
		indicators[i] = f.ind
	}
	require.NoError(t, st.UpsertIndicators(ctx, indicators))

	result, err := driver.Run(ctx, "test-exec", 0)
	require.NoError(t, err)
	require.False(t, result.Cancelled)

	rows, err := st.GetClassifications(ctx, "test-exec")
	require.NoError(t, err)

	byID := make(map[string]types.Classification, len(rows))
	for _, row := range rows {
		byID[row.IndicatorID] = row
	}
	return byID, result
}

// The six minimal scenarios, asserted field by field.
func TestPipelineScenarios(t *testing.T) {
	fixtures := baseFixtures()[:6]
	got, _ := runFixtures(t, fixtures)

	for _, f := range fixtures {
		row, ok := got[f.ind.ID]
		require.True(t, ok, "no classification for %s", f.ind.ID)
		require.Equal(t, f.want.family, row.Family, "%s family", f.ind.Name)
		require.Equal(t, f.want.typ, row.IndicatorType, "%s type", f.ind.Name)
		require.Equal(t, f.want.temporal, row.TemporalAggregation, "%s temporal", f.ind.Name)
		require.Equal(t, f.want.currency, row.IsCurrencyDenominated, "%s currency", f.ind.Name)
		require.Equal(t, f.want.orientation, row.Orientation, "%s orientation", f.ind.Name)
	}
}

// Full integration run over 100+ diverse indicators against the
// fixture-embedded expected labeling.
func TestPipelineIntegrationAccuracy(t *testing.T) {
	fixtures := allFixtures()
	require.GreaterOrEqual(t, len(fixtures), 100)

	got, result := runFixtures(t, fixtures)
	require.Equal(t, len(fixtures), result.Merged)

	var fullMatch, familyMatch, typeMatch int
	for _, f := range fixtures {
		row, ok := got[f.ind.ID]
		require.True(t, ok, "no classification for %s", f.ind.ID)

		if row.Family == f.want.family {
			familyMatch++
		}
		if row.IndicatorType == f.want.typ {
			typeMatch++
		}
		if row.Family == f.want.family && row.IndicatorType == f.want.typ &&
			row.TemporalAggregation == f.want.temporal &&
			row.IsCurrencyDenominated == f.want.currency &&
			row.Orientation == f.want.orientation {
			fullMatch++
		}
	}

	n := float64(len(fixtures))
	require.GreaterOrEqual(t, float64(fullMatch)/n, 0.70, "overall accuracy")
	require.GreaterOrEqual(t, float64(familyMatch)/n, 0.80, "family accuracy")
	require.GreaterOrEqual(t, float64(typeMatch)/n, 0.80, "indicator_type accuracy")
}

// Deterministic temporal rules hold on every merged row, whatever the
// model answered.
func TestPipelineTemporalRulesHold(t *testing.T) {
	got, _ := runFixtures(t, allFixtures())
	for id, row := range got {
		switch row.IndicatorType {
		case "ratio", "percentage", "share", "spread":
			require.Equal(t, types.TemporalNotApplicable, row.TemporalAggregation, "indicator %s", id)
		case "count", "volume":
			require.Equal(t, types.TemporalPeriodTotal, row.TemporalAggregation, "indicator %s", id)
		}
	}
}

// Re-running the same execution in replace mode converges to the same
// classifications.
func TestPipelineIdempotentRerun(t *testing.T) {
	driver, st := testDriver(t)
	driver.Cfg.Database.ReplaceExecution = true
	ctx := context.Background()

	fixtures := baseFixtures()
	indicators := make([]types.Indicator, len(fixtures))
	for i, f := range fixtures {
		indicators[i] = f.ind
	}
	require.NoError(t, st.UpsertIndicators(ctx, indicators))

	_, err := driver.Run(ctx, "exec-a", 0)
	require.NoError(t, err)
	first, err := st.GetClassifications(ctx, "exec-a")
	require.NoError(t, err)

	_, err = driver.Run(ctx, "exec-a", 0)
	require.NoError(t, err)
	second, err := st.GetClassifications(ctx, "exec-a")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		first[i].CreatedAt = second[i].CreatedAt
	}
	require.Equal(t, first, second)
}

// Without replace mode a second run on the same execution id is refused.
func TestPipelineRefusesExistingExecution(t *testing.T) {
	driver, st := testDriver(t)
	ctx := context.Background()

	fixtures := baseFixtures()[:3]
	indicators := make([]types.Indicator, len(fixtures))
	for i, f := range fixtures {
		indicators[i] = f.ind
	}
	require.NoError(t, st.UpsertIndicators(ctx, indicators))

	_, err := driver.Run(ctx, "exec-b", 0)
	require.NoError(t, err)

	_, err = driver.Run(ctx, "exec-b", 0)
	require.ErrorContains(t, err, "already has rows")
}

// review-all in flag-only mode records decisions without changing the
// merged classifications.
func TestPipelineReviewAllFlagOnly(t *testing.T) {
	driver, st := testDriver(t)
	ctx := context.Background()

	fixtures := baseFixtures()
	indicators := make([]types.Indicator, len(fixtures))
	for i, f := range fixtures {
		indicators[i] = f.ind
	}
	require.NoError(t, st.UpsertIndicators(ctx, indicators))

	_, err := driver.Run(ctx, "exec-c", 0)
	require.NoError(t, err)
	before, err := st.GetClassifications(ctx, "exec-c")
	require.NoError(t, err)

	_, err = driver.ReviewAll(ctx, "exec-c", true)
	require.NoError(t, err)
	after, err := st.GetClassifications(ctx, "exec-c")
	require.NoError(t, err)

	require.Equal(t, len(before), len(after))
	for i := range before {
		before[i].CreatedAt = after[i].CreatedAt
		before[i].ReviewedBy = after[i].ReviewedBy
	}
	require.Equal(t, before, after)
}

func TestPipelineTelemetryRecorded(t *testing.T) {
	_, result := runFixtures(t, baseFixtures())
	require.Greater(t, result.Execution.APICalls, int64(0))
	require.Greater(t, result.Execution.TokensIn, int64(0))
	require.NotEmpty(t, result.Execution.StageCounts["router"])
	require.False(t, result.Execution.FinishedAt.IsZero())
}

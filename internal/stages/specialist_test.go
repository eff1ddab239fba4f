package stages

import (
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/types"
)

func TestForceTemporalDimensionlessTypes(t *testing.T) {
	for _, typ := range []string{"ratio", "percentage", "share", "spread"} {
		got := ForceTemporal(types.FamilyNumericMeasurement, typ, types.TemporalPeriodAverage)
		require.Equal(t, types.TemporalNotApplicable, got, "type %s", typ)
	}
}

func TestForceTemporalCountedTypes(t *testing.T) {
	for _, typ := range []string{"count", "volume"} {
		got := ForceTemporal(types.FamilyNumericMeasurement, typ, types.TemporalPointInTime)
		require.Equal(t, types.TemporalPeriodTotal, got, "type %s", typ)
	}
}

func TestForceTemporalFamilyRules(t *testing.T) {
	cases := []struct {
		family types.Family
		typ    string
		want   types.TemporalAggregation
	}{
		{types.FamilyPriceValue, "price", types.TemporalPointInTime},
		{types.FamilyPriceValue, "yield", types.TemporalPointInTime},
		{types.FamilyPhysicalFundamental, "stock", types.TemporalPointInTime},
		{types.FamilyPhysicalFundamental, "flow", types.TemporalPeriodTotal},
		{types.FamilyChangeMovement, "rate", types.TemporalPeriodRate},
	}
	for _, tc := range cases {
		got := ForceTemporal(tc.family, tc.typ, types.TemporalPeriodAverage)
		require.Equal(t, tc.want, got, "%s/%s", tc.family, tc.typ)
	}
}

func TestForceTemporalKeepsModelAnswerOtherwise(t *testing.T) {
	got := ForceTemporal(types.FamilyCompositeDerived, "index", types.TemporalPointInTime)
	require.Equal(t, types.TemporalPointInTime, got)

	got = ForceTemporal(types.FamilyTemporal, "duration", types.TemporalPeriodAverage)
	require.Equal(t, types.TemporalPeriodAverage, got)
}

// The rules apply regardless of what family a dimensionless type landed
// in: ratio forces not-applicable even outside numeric-measurement.
func TestForceTemporalTypeRulesBeatFamilyRules(t *testing.T) {
	got := ForceTemporal(types.FamilyPhysicalFundamental, "ratio", types.TemporalPeriodTotal)
	require.Equal(t, types.TemporalNotApplicable, got)
}

func TestCurrencyDenominatedCurrencyCodeWins(t *testing.T) {
	// Monotonicity: a non-empty currency_code forces true no matter
	// what else the indicator looks like.
	ind := types.Indicator{Name: "FX Rate XAF", CurrencyCode: "XAF"}
	require.True(t, CurrencyDenominated(ind, "price", false))
}

func TestCurrencyDenominatedExchangeRatesExcluded(t *testing.T) {
	require.False(t, CurrencyDenominated(types.Indicator{Name: "FX Rate XAF", Units: "XAF"}, "price", false))
	require.False(t, CurrencyDenominated(types.Indicator{Name: "Official exchange rate", Units: "LCU per USD"}, "price", true))
}

func TestCurrencyDenominatedUnitSigils(t *testing.T) {
	require.True(t, CurrencyDenominated(types.Indicator{Name: "Gross Domestic Product", Units: "USD"}, "flow", false))
	require.True(t, CurrencyDenominated(types.Indicator{Name: "Brent Crude Price", Units: "USD/barrel"}, "price", false))
	require.True(t, CurrencyDenominated(types.Indicator{Name: "Household savings", Units: "current prices"}, "stock", false))
	require.False(t, CurrencyDenominated(types.Indicator{Name: "Unemployment Rate", Units: "%"}, "percentage", false))
}

func TestCurrencyDenominatedMonetaryNames(t *testing.T) {
	ind := types.Indicator{Name: "Total external debt", Units: "millions"}
	require.True(t, CurrencyDenominated(ind, "stock", false))
	// Same name with a non-monetary type does not trigger the rule.
	require.False(t, CurrencyDenominated(ind, "ratio", false))
}

func TestCurrencyDenominatedPriceTokensScopedByType(t *testing.T) {
	// "Price" in the name only counts for price-like types; an index
	// that happens to mention prices is not a monetary amount.
	require.True(t, CurrencyDenominated(types.Indicator{Name: "Wholesale price of copper"}, "price", false))
	require.False(t, CurrencyDenominated(types.Indicator{Name: "Consumer Price Index", Units: "Index (2015=100)"}, "index", false))
}

func TestCurrencyDenominatedFallsBackToModel(t *testing.T) {
	ind := types.Indicator{Name: "Widget shipments", Units: "thousands"}
	require.True(t, CurrencyDenominated(ind, "flow", true))
	require.False(t, CurrencyDenominated(ind, "flow", false))
}

package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/types"
)

func mockUserPrompt(t *testing.T, payloads ...map[string]interface{}) string {
	t.Helper()
	items := make([]Item, len(payloads))
	for i, p := range payloads {
		items[i] = Item{ID: p["indicator_id"].(string), Payload: p}
	}
	user, _, err := buildUserPrompt(items)
	require.NoError(t, err)
	return user
}

func TestMockRouterIsDeterministic(t *testing.T) {
	mock := NewMockClient()
	user := mockUserPrompt(t, map[string]interface{}{
		"indicator_id": "gdp", "name": "Gross Domestic Product", "units": "USD",
	})

	first, _, err := mock.CompleteWithSystem(context.Background(), "routing classifier", user)
	require.NoError(t, err)
	second, _, err := mock.CompleteWithSystem(context.Background(), "routing classifier", user)
	require.NoError(t, err)
	require.Equal(t, first, second)

	out, err := ParseBatch(first, []string{"gdp"})
	require.NoError(t, err)
	require.True(t, types.Family(GetString(out["gdp"], "family")).Valid())
}

func TestMockDetectsStageFromSystemPrompt(t *testing.T) {
	mock := NewMockClient()
	user := mockUserPrompt(t, map[string]interface{}{
		"indicator_id": "x", "name": "Unemployment Rate", "units": "%",
	})

	raw, _, err := mock.CompleteWithSystem(context.Background(), "You assign the heat-map orientation", user)
	require.NoError(t, err)
	out, err := ParseBatch(raw, []string{"x"})
	require.NoError(t, err)
	require.Equal(t, string(types.OrientationLowerIsPositive), GetString(out["x"], "orientation"))

	// The review prompt mentions orientation vocabulary; it must still
	// be detected as review.
	raw, _, err = mock.CompleteWithSystem(context.Background(),
		"second-pass review of flagged classifications; orientation values: neutral", user)
	require.NoError(t, err)
	out, err = ParseBatch(raw, []string{"x"})
	require.NoError(t, err)
	require.True(t, types.ReviewAction(GetString(out["x"], "action")).Valid())
}

func TestMockSpecialistHonorsRoutedFamily(t *testing.T) {
	mock := NewMockClient()
	user := mockUserPrompt(t, map[string]interface{}{
		"indicator_id": "debt", "name": "Long-term external debt", "units": "USD",
		"family": string(types.FamilyPhysicalFundamental),
	})

	raw, _, err := mock.CompleteWithSystem(context.Background(), "family specialist", user)
	require.NoError(t, err)
	out, err := ParseBatch(raw, []string{"debt"})
	require.NoError(t, err)
	require.Equal(t, "stock", GetString(out["debt"], "type"))
	require.Equal(t, string(types.TemporalPointInTime), GetString(out["debt"], "temporal_aggregation"))
}

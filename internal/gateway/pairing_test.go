package gateway

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFenced(t *testing.T) {
	raw := "Here are the results:\n```json\n[{\"indicator_id\": \"a\"}]\n```\nDone."
	payload, err := ExtractJSON(raw)
	require.NoError(t, err)
	require.Equal(t, `[{"indicator_id": "a"}]`, payload)
}

func TestExtractJSONBare(t *testing.T) {
	payload, err := ExtractJSON(`  [{"indicator_id": "a"}]  `)
	require.NoError(t, err)
	require.Equal(t, `[{"indicator_id": "a"}]`, payload)
}

func TestExtractJSONWithProse(t *testing.T) {
	payload, err := ExtractJSON(`Sure! [{"indicator_id": "a"}] hope that helps`)
	require.NoError(t, err)
	require.Equal(t, `[{"indicator_id": "a"}]`, payload)
}

func TestExtractJSONEmpty(t *testing.T) {
	_, err := ExtractJSON("   ")
	require.Error(t, err)

	_, err = ExtractJSON("no json here")
	require.Error(t, err)
}

func TestParseBatchPairsByID(t *testing.T) {
	raw := `[
		{"indicator_id": "b", "family": "price-value"},
		{"indicator_id": "a", "family": "temporal"}
	]`
	out, err := ParseBatch(raw, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, "temporal", out["a"]["family"])
	require.Equal(t, "price-value", out["b"]["family"])
}

// Permutation independence: any ordering of the response array pairs to
// the same result map.
func TestParseBatchOrderIndependent(t *testing.T) {
	ids := []string{"i1", "i2", "i3", "i4", "i5"}
	elements := make([]map[string]interface{}, len(ids))
	for i, id := range ids {
		elements[i] = map[string]interface{}{"indicator_id": id, "confidence": float64(i) / 10}
	}

	reference, err := ParseBatch(mustJSON(t, elements), ids)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]map[string]interface{}(nil), elements...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := ParseBatch(mustJSON(t, shuffled), ids)
		require.NoError(t, err)
		if diff := cmp.Diff(reference, got); diff != "" {
			t.Fatalf("permutation changed pairing (-want +got):\n%s", diff)
		}
	}
}

func TestParseBatchMissingID(t *testing.T) {
	_, err := ParseBatch(`[{"indicator_id": "a"}]`, []string{"a", "b"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseBatchDuplicateID(t *testing.T) {
	_, err := ParseBatch(`[{"indicator_id": "a"}, {"indicator_id": "a"}]`, []string{"a"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseBatchUnknownID(t *testing.T) {
	_, err := ParseBatch(`[{"indicator_id": "zzz"}]`, []string{"a"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseBatchElementWithoutID(t *testing.T) {
	_, err := ParseBatch(`[{"family": "temporal"}]`, []string{"a"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestParseBatchSingletonBareObject(t *testing.T) {
	out, err := ParseBatch(`{"indicator_id": "a", "family": "temporal"}`, []string{"a"})
	require.NoError(t, err)
	require.Equal(t, "temporal", out["a"]["family"])
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

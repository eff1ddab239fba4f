package stages

import (
	"testing"

	"github.com/stretchr/testify/require"

	"econoclass/internal/config"
	"econoclass/internal/taxonomy"
	"econoclass/internal/types"
)

func reviewStage(t *testing.T) *Review {
	t.Helper()
	tax, err := taxonomy.Load()
	require.NoError(t, err)
	return &Review{Tax: tax, Cfg: config.DefaultConfig()}
}

func TestDecideAccept(t *testing.T) {
	d := reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "accept", "confidence": 0.9, "reasoning": "looks right",
	})
	require.Equal(t, types.ReviewAccept, d.Action)
	require.Empty(t, d.TargetField)
}

func TestDecideFixSingleField(t *testing.T) {
	d := reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.9, "fixed_type": "stock",
	})
	require.Equal(t, types.ReviewFix, d.Action)
	require.Equal(t, "indicator_type", d.TargetField)
	require.Equal(t, "flow", d.OldValue)
	require.Equal(t, "stock", d.NewValue)
}

// A fix whose new value violates its vocabulary is ignored and the
// decision downgraded to escalate.
func TestDecideFixInvalidValueEscalates(t *testing.T) {
	d := reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.9, "fixed_type": "spaceship",
	})
	require.Equal(t, types.ReviewEscalate, d.Action)

	// Valid type, wrong family: "yield" is not a physical-fundamental type.
	d = reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.9, "fixed_type": "yield",
	})
	require.Equal(t, types.ReviewEscalate, d.Action)
}

func TestDecideFixMustNameExactlyOneField(t *testing.T) {
	r := reviewStage(t)

	d := r.decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.9,
	})
	require.Equal(t, types.ReviewEscalate, d.Action)

	d = r.decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.9,
		"fixed_type":                 "stock",
		"fixed_temporal_aggregation": "point-in-time",
	})
	require.Equal(t, types.ReviewEscalate, d.Action)
}

func TestDecideLowConfidenceEscalates(t *testing.T) {
	d := reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.3, "fixed_type": "stock",
	})
	require.Equal(t, types.ReviewEscalate, d.Action)
}

func TestDecideFlagOnlyModeForcesEscalate(t *testing.T) {
	r := reviewStage(t)
	r.Cfg.Review.Mode = config.ReviewModeFlagOnly

	d := r.decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.95, "fixed_type": "stock",
	})
	require.Equal(t, types.ReviewEscalate, d.Action)

	d = r.decide(goodCandidate(), map[string]interface{}{
		"action": "accept", "confidence": 0.95,
	})
	require.Equal(t, types.ReviewEscalate, d.Action)
}

func TestDecideUnknownActionEscalates(t *testing.T) {
	d := reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "reclassify", "confidence": 0.95,
	})
	require.Equal(t, types.ReviewEscalate, d.Action)
}

func TestDecideFixOrientation(t *testing.T) {
	d := reviewStage(t).decide(goodCandidate(), map[string]interface{}{
		"action": "fix", "confidence": 0.9, "fixed_orientation": "neutral",
	})
	require.Equal(t, types.ReviewFix, d.Action)
	require.Equal(t, "heat_map_orientation", d.TargetField)
	require.Equal(t, string(types.OrientationHigherIsPositive), d.OldValue)
	require.Equal(t, "neutral", d.NewValue)
}

package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	chunks := Partition(items, 3)
	require.Len(t, chunks, 3)
	require.Equal(t, []int{1, 2, 3}, chunks[0])
	require.Equal(t, []int{4, 5, 6}, chunks[1])
	require.Equal(t, []int{7}, chunks[2])
}

func TestPartitionEdgeCases(t *testing.T) {
	require.Nil(t, Partition([]int(nil), 3))
	require.Nil(t, Partition([]int{}, 3))

	// Non-positive size keeps everything in one chunk.
	require.Len(t, Partition([]int{1, 2, 3}, 0), 1)
	require.Len(t, Partition([]int{1, 2, 3}, -1), 1)

	// Size at or above the item count keeps one chunk.
	require.Len(t, Partition([]int{1, 2, 3}, 3), 1)
	require.Len(t, Partition([]int{1, 2, 3}, 10), 1)
}

func TestPartitionCoversEveryItem(t *testing.T) {
	items := make([]int, 53)
	for i := range items {
		items[i] = i
	}

	var flat []int
	for _, chunk := range Partition(items, 7) {
		flat = append(flat, chunk...)
	}
	require.Equal(t, items, flat)
}

func TestForEachRunsEveryChunk(t *testing.T) {
	chunks := Partition([]int{1, 2, 3, 4, 5, 6}, 2)

	var mu sync.Mutex
	var seen []int
	err := ForEach(context.Background(), chunks, 2, func(ctx context.Context, chunk []int) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, chunk...)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6}, seen)
}

func TestForEachBoundsConcurrency(t *testing.T) {
	chunks := make([][]int, 20)
	for i := range chunks {
		chunks[i] = []int{i}
	}

	var inFlight, peak atomic.Int64
	err := ForEach(context.Background(), chunks, 3, func(ctx context.Context, chunk []int) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int64(3))
}

func TestForEachFirstErrorCancelsRest(t *testing.T) {
	chunks := make([][]int, 10)
	for i := range chunks {
		chunks[i] = []int{i}
	}

	boom := errors.New("boom")
	var started atomic.Int64
	err := ForEach(context.Background(), chunks, 1, func(ctx context.Context, chunk []int) error {
		started.Add(1)
		return boom
	})
	require.ErrorIs(t, err, boom)
	// Serial execution plus cancellation: later chunks never run fn.
	require.Less(t, started.Load(), int64(10))
}

func TestForEachCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ForEach(ctx, [][]int{{1}, {2}}, 2, func(ctx context.Context, chunk []int) error {
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestForEachNoChunks(t *testing.T) {
	require.NoError(t, ForEach(context.Background(), nil, 4, func(ctx context.Context, chunk []int) error {
		t.Fatal("fn must not run")
		return nil
	}))
}

// Package batch partitions stage workloads and runs them with bounded
// concurrency. Batches within one stage are independent; stages
// themselves stay strictly sequential, so this is the only place the
// pipeline fans out.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"econoclass/internal/logging"
)

// Partition splits items into consecutive chunks of at most size
// elements. size <= 0 yields a single chunk.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ForEach runs fn over every chunk with at most concurrency chunks in
// flight. The first error cancels the remaining chunks and is returned.
func ForEach[T any](ctx context.Context, chunks [][]T, concurrency int, fn func(ctx context.Context, chunk []T) error) error {
	if len(chunks) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	logging.Batch("Dispatching %d chunks with concurrency %d", len(chunks), concurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, chunk)
		})
	}
	return g.Wait()
}

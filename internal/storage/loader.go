package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultBatchSize is used when a backend is opened without a batch size.
const DefaultBatchSize = 5000

// CopyFn writes one batch. In production it wraps a COPY, a bulk insert or
// a prepared statement; in tests a fake can verify batching.
type CopyFn func(ctx context.Context, rows [][]any) (int64, error)

// Batches splits rows into groups of batchSize and calls copyFn for each
// non-empty group, in order. It returns the total reported by copyFn and
// the first error. The context is checked between batches.
func Batches(ctx context.Context, rows [][]any, batchSize int, copyFn CopyFn, log *zap.Logger) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("storage: batch size must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("storage: copyFn must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var total int64
	for start, n := 0, 1; start < len(rows); start, n = start+batchSize, n+1 {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+batchSize, len(rows))
		written, err := copyFn(ctx, rows[start:end])
		total += written
		if err != nil {
			return total, fmt.Errorf("batch %d: %w", n, err)
		}
		log.Debug("batch written", zap.Int("batch", n), zap.Int64("rows", written), zap.Int64("total", total))
	}
	return total, nil
}

package ports

import (
	"context"
	"time"
)

// CounterStore maintains expiring request counters for rate limiting.
// IncrWithTTL must be atomic: the first increment of a key starts its window,
// later increments inside the window share it. The returned count includes
// the current increment.
type CounterStore interface {
	IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error)
}

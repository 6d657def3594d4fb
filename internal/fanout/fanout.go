// Package fanout runs one task per host with a bounded number in flight.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Unique returns ids with duplicates and empty strings removed, keeping the
// first occurrence order.
func Unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Run calls fn once per distinct id, at most limit at a time (limit <= 0 means
// no bound), and joins the results by id. Tasks never see each other's
// failures: fn returns a value, not an error, and nothing is cancelled early.
func Run[T any](ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) T) map[string]T {
	ids = Unique(ids)
	results := make([]T, len(ids))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			results[i] = fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	joined := make(map[string]T, len(ids))
	for i, id := range ids {
		joined[id] = results[i]
	}
	return joined
}

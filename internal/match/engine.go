// Package match ranks found-item reports against lost-item reports (and the
// reverse) by a composite of textual, temporal and spatial similarity.
package match

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/erazemk/najdeno/internal/model"
)

// Defaults applied when Options leave a field unset.
const (
	DefaultLimit       = 10
	DefaultMinScore    = 20.0
	DefaultConcurrency = 8
)

// Result is one ranked candidate.
type Result struct {
	Item      model.Item `json:"item"`
	Score     float64    `json:"score"`
	Breakdown Breakdown  `json:"breakdown"`
}

// Options bound a ranking.
type Options struct {
	// Limit caps the number of results. Zero means DefaultLimit.
	Limit int
	// MinScore drops results scoring below it.
	MinScore float64
	// Exclude holds candidate ids that must never be returned (declined pairings).
	Exclude map[int64]bool
}

// Engine scores candidates in parallel. The zero value is usable.
type Engine struct {
	// Concurrency bounds the number of candidates scored at once.
	// Zero means DefaultConcurrency.
	Concurrency int
}

// NewEngine creates an Engine scoring at most concurrency candidates at once.
func NewEngine(concurrency int) *Engine {
	return &Engine{Concurrency: concurrency}
}

// Filter removes excluded candidates and the source itself, then keeps only
// candidates sharing the source's category. When no candidate shares it,
// every remaining candidate is kept.
func Filter(source model.Item, candidates []model.Item, exclude map[int64]bool) []model.Item {
	var allowed, sameCategory []model.Item
	for _, c := range candidates {
		if exclude[c.ID] || (c.ID == source.ID && c.ID != 0) {
			continue
		}
		allowed = append(allowed, c)
		if c.Category == source.Category {
			sameCategory = append(sameCategory, c)
		}
	}
	if len(sameCategory) > 0 {
		return sameCategory
	}
	return allowed
}

// Rank scores candidates against source and returns them best first. The
// result holds at most opts.Limit entries, each scoring at least
// opts.MinScore. Equal scores keep their input order.
func (e *Engine) Rank(ctx context.Context, source model.Item, candidates []model.Item, opts Options) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	pool := Filter(source, candidates, opts.Exclude)
	results := make([]Result, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, breakdown := Score(source, c)
			results[i] = Result{Item: c, Score: score, Breakdown: breakdown}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scoring candidates: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

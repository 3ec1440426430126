package council

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"

	"llm-council-relay/internal/provider"
)

// ErrAllProvidersFailed is the only stage-fatal condition in the pipeline:
// Stage 1 produced zero answers, so there is nothing to rank or synthesize.
var ErrAllProvidersFailed = errors.New("all council providers failed to respond")

// CollectStage1 fans the question out to every selected provider in
// parallel. Each call is isolated: a failure becomes "no result for this
// provider" and never aborts the siblings. The returned slice preserves
// submission order so later label assignment is deterministic.
func CollectStage1(ctx context.Context, adapter provider.Adapter, providers []provider.Resolved, query string) ([]Stage1Result, error) {
	results := make([]*Stage1Result, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			response, err := adapter.Send(ctx, p.ID, p.Model, query, nil)
			if err != nil {
				log.Printf("[council] stage1: provider %s failed: %v", p.ID, err)
				return nil
			}
			results[i] = &Stage1Result{
				ProviderID: p.ID,
				Model:      p.Model,
				Response:   response,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Compact: failed providers are entirely absent, not present with an
	// error field.
	collected := make([]Stage1Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			collected = append(collected, *r)
		}
	}

	if len(collected) == 0 {
		return nil, ErrAllProvidersFailed
	}
	return collected, nil
}

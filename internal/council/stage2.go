package council

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"llm-council-relay/internal/provider"
)

// CollectRankings has every originally queried provider evaluate the
// anonymized Stage 1 responses. A provider ranks even if its own Stage 1
// call failed; the ranking prompt requires no self-knowledge. Failed
// ranking calls are isolated exactly like Stage 1 failures, and an
// evaluator whose text does not parse still contributes its raw ranking.
func CollectRankings(ctx context.Context, adapter provider.Adapter, providers []provider.Resolved, prompt RankingPrompt) []Stage2Result {
	labels := orderedLabels(prompt.LabelToModel)
	results := make([]*Stage2Result, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			raw, err := adapter.Send(ctx, p.ID, p.Model, prompt.Prompt, nil)
			if err != nil {
				log.Printf("[council] stage2: provider %s failed: %v", p.ID, err)
				return nil
			}
			evaluations, parsed := ParseStage2(raw, labels)
			results[i] = &Stage2Result{
				ProviderID:    p.ID,
				Model:         p.Model,
				Ranking:       raw,
				ParsedRanking: parsed,
				Evaluations:   evaluations,
			}
			return nil
		})
	}
	// Workers swallow their own errors, so Wait only observes ctx.
	_ = g.Wait()

	collected := make([]Stage2Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			collected = append(collected, *r)
		}
	}
	return collected
}

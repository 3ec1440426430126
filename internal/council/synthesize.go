package council

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"llm-council-relay/internal/provider"
)

// ChairmanMode selects who performs Stage 3 synthesis. The two variants
// are resolved once at run start into a single code path.
type ChairmanMode string

const (
	// ChairmanSingle queries exactly one configured provider; its failure
	// fails the run (no fallback chairman).
	ChairmanSingle ChairmanMode = "single"
	// ChairmanAll queries every originally queried provider with the same
	// isolated-failure semantics as Stage 1. Zero successes is a valid,
	// if degenerate, terminal state.
	ChairmanAll ChairmanMode = "all"
)

// BuildSynthesisPrompt renders the chairman prompt: the question, all
// original answers attributed to their models (anonymity only applies
// during ranking), and the peer evaluations.
func BuildSynthesisPrompt(query string, stage1 []Stage1Result, stage2 []Stage2Result, labelToModel map[string]string) string {
	var stage1Text strings.Builder
	for _, result := range stage1 {
		stage1Text.WriteString(fmt.Sprintf("Model: %s\nResponse: %s\n\n", result.Model, result.Response))
	}

	var stage2Text strings.Builder
	for _, result := range stage2 {
		stage2Text.WriteString(fmt.Sprintf("Model: %s\nRanking: %s\n\n",
			result.Model, Deanonymize(result.Ranking, labelToModel)))
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`,
		query, stage1Text.String(), stage2Text.String())
}

// Synthesize runs Stage 3 against the given targets. In single-chairman
// mode targets holds exactly one provider and any failure is returned as a
// hard error; in all-models mode failures are absorbed and the result set
// may legitimately be empty.
func Synthesize(ctx context.Context, adapter provider.Adapter, targets []provider.Resolved, mode ChairmanMode, prompt string) ([]Stage3Result, error) {
	if mode == ChairmanSingle {
		if len(targets) != 1 {
			return nil, fmt.Errorf("single-chairman mode requires exactly one target, got %d", len(targets))
		}
		chairman := targets[0]
		response, err := adapter.Send(ctx, chairman.ID, chairman.Model, prompt, nil)
		if err != nil {
			return nil, fmt.Errorf("chairman %s query failed: %w", chairman.ID, err)
		}
		return []Stage3Result{{ProviderID: chairman.ID, Model: chairman.Model, Response: response}}, nil
	}

	results := make([]*Stage3Result, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range targets {
		g.Go(func() error {
			response, err := adapter.Send(ctx, p.ID, p.Model, prompt, nil)
			if err != nil {
				log.Printf("[council] stage3: provider %s failed: %v", p.ID, err)
				return nil
			}
			results[i] = &Stage3Result{ProviderID: p.ID, Model: p.Model, Response: response}
			return nil
		})
	}
	_ = g.Wait()

	collected := make([]Stage3Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			collected = append(collected, *r)
		}
	}
	return collected, nil
}

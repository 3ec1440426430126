package council_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/mock/gomock"

	"llm-council-relay/internal/council"
	"llm-council-relay/internal/provider"
	"llm-council-relay/internal/provider/mocks"
)

var testProviders = []provider.Resolved{
	{ID: "claude", Name: "Claude", Model: "anthropic/claude-opus-4.5"},
	{ID: "openai", Name: "ChatGPT", Model: "openai/gpt-5.1"},
	{ID: "gemini", Name: "Gemini", Model: "google/gemini-3-pro-preview"},
}

// scriptedAdapter routes mock calls on the prompt's stage and the
// provider id. Stage 1 prompts are the bare query, Stage 2 prompts carry
// the evaluation preamble, Stage 3 prompts the chairman preamble.
func scriptedAdapter(t *testing.T, ctrl *gomock.Controller, failStage1, failStage2 map[string]bool) *mocks.MockAdapter {
	t.Helper()
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, providerID, model, prompt string, prior []provider.Turn) (string, error) {
			switch {
			case strings.Contains(prompt, "You are evaluating"):
				if failStage2[providerID] {
					return "", errors.New("rate limited")
				}
				return fmt.Sprintf("FINAL RANKING:\n1. Response B\n2. Response A\n\n(evaluated by %s)", providerID), nil
			case strings.Contains(prompt, "You are the Chairman"):
				return "Synthesized final answer", nil
			default:
				if failStage1[providerID] {
					return "", errors.New("provider unavailable")
				}
				return "Answer from " + providerID, nil
			}
		}).
		AnyTimes()
	return adapter
}

func TestCoordinatorFullRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := scriptedAdapter(t, ctrl, map[string]bool{"gemini": true}, map[string]bool{"gemini": true})

	coord := council.NewCoordinator(adapter, council.Options{
		Providers:    testProviders,
		ChairmanMode: council.ChairmanSingle,
		Chairman:     testProviders[0],
	})

	var progressStages []string
	run, err := coord.Execute(context.Background(), "What is Go?", func(stage, status string) {
		progressStages = append(progressStages, stage)
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if run.State != council.StateDone {
		t.Errorf("state = %s, want done", run.State)
	}

	// gemini failed Stage 1, so it is absent there; labels cover only the
	// two successes, in submission order.
	if len(run.Stage1) != 2 {
		t.Fatalf("stage1 len = %d, want 2", len(run.Stage1))
	}
	if run.Stage1[0].ProviderID != "claude" || run.Stage1[1].ProviderID != "openai" {
		t.Errorf("stage1 order = %s, %s", run.Stage1[0].ProviderID, run.Stage1[1].ProviderID)
	}
	if run.Metadata.LabelToModel["Response A"] != "anthropic/claude-opus-4.5" {
		t.Errorf("Response A = %q", run.Metadata.LabelToModel["Response A"])
	}
	if len(run.Metadata.LabelToModel) != 2 {
		t.Errorf("label map size = %d, want 2", len(run.Metadata.LabelToModel))
	}

	// All three originally queried providers evaluate, including the one
	// that failed Stage 1; its Stage 2 failure is isolated too.
	if len(run.Stage2) != 2 {
		t.Fatalf("stage2 len = %d, want 2", len(run.Stage2))
	}
	for _, r := range run.Stage2 {
		if want := []string{"Response B", "Response A"}; len(r.ParsedRanking) != 2 ||
			r.ParsedRanking[0] != want[0] || r.ParsedRanking[1] != want[1] {
			t.Errorf("parsed ranking for %s = %v", r.ProviderID, r.ParsedRanking)
		}
	}

	// Aggregate covers every originally queried provider; gemini was never
	// labeled, so it trails with a nil average.
	aggs := run.Metadata.AggregateRankings
	if len(aggs) != 3 {
		t.Fatalf("aggregate len = %d, want 3", len(aggs))
	}
	if aggs[0].ProviderID != "openai" {
		t.Errorf("aggregate first = %s, want openai", aggs[0].ProviderID)
	}
	if aggs[2].ProviderID != "gemini" || aggs[2].AverageRank != nil {
		t.Errorf("gemini should trail unranked, got %+v", aggs[2])
	}

	if len(run.Stage3) != 1 || run.Stage3[0].ProviderID != "claude" {
		t.Fatalf("stage3 = %+v, want single chairman claude", run.Stage3)
	}
	if run.Stage3[0].Response != "Synthesized final answer" {
		t.Errorf("stage3 response = %q", run.Stage3[0].Response)
	}

	joined := strings.Join(progressStages, ",")
	for _, stage := range []string{"stage1", "stage2", "stage3", "done"} {
		if !strings.Contains(joined, stage) {
			t.Errorf("progress missing %s: %v", stage, progressStages)
		}
	}
}

func TestCoordinatorAllProvidersFail(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := scriptedAdapter(t, ctrl,
		map[string]bool{"claude": true, "openai": true, "gemini": true}, nil)

	coord := council.NewCoordinator(adapter, council.Options{
		Providers: testProviders,
		Chairman:  testProviders[0],
	})

	run, err := coord.Execute(context.Background(), "What is Go?", nil)
	if !errors.Is(err, council.ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	if run.State != council.StateError {
		t.Errorf("state = %s, want error", run.State)
	}
	if run.Error == "" {
		t.Error("run.Error should carry the message")
	}
	if len(run.Stage2) != 0 || len(run.Stage3) != 0 {
		t.Error("later stages must not run after a stage-fatal failure")
	}
}

func TestCoordinatorChairmanFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, providerID, model, prompt string, prior []provider.Turn) (string, error) {
			if strings.Contains(prompt, "You are the Chairman") {
				return "", errors.New("chairman offline")
			}
			return "FINAL RANKING:\n1. Response A\n2. Response B", nil
		}).
		AnyTimes()

	coord := council.NewCoordinator(adapter, council.Options{
		Providers:    testProviders[:2],
		ChairmanMode: council.ChairmanSingle,
		Chairman:     testProviders[0],
	})

	run, err := coord.Execute(context.Background(), "What is Go?", nil)
	if err == nil {
		t.Fatal("expected the single chairman's failure to fail the run")
	}
	if run.State != council.StateError {
		t.Errorf("state = %s, want error", run.State)
	}
}

func TestCoordinatorAllModeToleratesEmptySynthesis(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, providerID, model, prompt string, prior []provider.Turn) (string, error) {
			if strings.Contains(prompt, "You are the Chairman") {
				return "", errors.New("offline")
			}
			return "some answer, FINAL RANKING:\n1. Response A\n2. Response B", nil
		}).
		AnyTimes()

	coord := council.NewCoordinator(adapter, council.Options{
		Providers:    testProviders[:2],
		ChairmanMode: council.ChairmanAll,
	})

	run, err := coord.Execute(context.Background(), "What is Go?", nil)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if run.State != council.StateDone {
		t.Errorf("state = %s, want done", run.State)
	}
	if len(run.Stage3) != 0 {
		t.Errorf("stage3 len = %d, want 0", len(run.Stage3))
	}
}

func TestCoordinatorTooFewProviders(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)

	coord := council.NewCoordinator(adapter, council.Options{
		Providers: testProviders[:1],
		Chairman:  testProviders[0],
	})

	if _, err := coord.Execute(context.Background(), "What is Go?", nil); !errors.Is(err, council.ErrTooFewProviders) {
		t.Fatalf("err = %v, want ErrTooFewProviders", err)
	}
}

func TestCoordinatorRejectsConcurrentRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	adapter.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, providerID, model, prompt string, prior []provider.Turn) (string, error) {
			started <- struct{}{}
			<-release
			return "FINAL RANKING:\n1. Response A\n2. Response B", nil
		}).
		AnyTimes()

	coord := council.NewCoordinator(adapter, council.Options{
		Providers:    testProviders[:2],
		ChairmanMode: council.ChairmanSingle,
		Chairman:     testProviders[0],
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := coord.Execute(context.Background(), "first", nil); err != nil {
			t.Errorf("first run failed: %v", err)
		}
	}()

	// Wait until the first run is inside Stage 1.
	<-started
	if !coord.Busy() {
		t.Error("Busy() should report the in-flight run")
	}

	_, err := coord.Execute(context.Background(), "second", nil)
	if !errors.Is(err, council.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}

	close(release)
	wg.Wait()

	if coord.Busy() {
		t.Error("Busy() should clear after the run")
	}
}

package council

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"llm-council-relay/internal/provider"
)

// ErrBusy is returned when a run is submitted while another is in flight.
// A coordinator drives one CouncilRun at a time; interleaving stages of two
// runs through one coordinator is not supported.
var ErrBusy = errors.New("another council run is in progress")

// ErrTooFewProviders is returned when fewer than two providers are
// selected; a council of one has nobody to peer-rank.
var ErrTooFewProviders = errors.New("at least 2 providers are required")

// ProgressFunc receives a stage name and a human-readable status string as
// the coordinator advances. May be nil.
type ProgressFunc func(stage, status string)

// Options configure a coordinator for all its runs.
type Options struct {
	// Providers is the ordered selection queried in Stage 1 and Stage 2.
	Providers []provider.Resolved
	// ChairmanMode selects the Stage 3 variant.
	ChairmanMode ChairmanMode
	// Chairman is the synthesizing provider in single mode; ignored in all
	// mode.
	Chairman provider.Resolved
}

// Coordinator sequences the pipeline stages and owns the per-run state.
// It exclusively mutates the Run; consumers only read the returned value.
type Coordinator struct {
	adapter provider.Adapter
	opts    Options

	mu   sync.Mutex
	busy bool
}

// NewCoordinator builds a coordinator around an adapter. No module-level
// state: concurrent tenants construct their own coordinators.
func NewCoordinator(adapter provider.Adapter, opts Options) *Coordinator {
	if opts.ChairmanMode == "" {
		opts.ChairmanMode = ChairmanSingle
	}
	return &Coordinator{adapter: adapter, opts: opts}
}

// Busy reports whether a run is currently in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Coordinator) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// Execute runs the full query/rank/synthesize pipeline for one question.
//
// The run object always comes back, whatever happened: on a stage-fatal
// failure its State is StateError and Error carries the message shown to
// the user verbatim. Empty Stage 2 or Stage 3 result sets are not errors;
// the run still reaches StateDone with whatever partial data exists.
func (c *Coordinator) Execute(ctx context.Context, query string, onProgress ProgressFunc) (*Run, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	if len(c.opts.Providers) < 2 {
		return nil, ErrTooFewProviders
	}

	emit := func(stage, status string) {
		log.Printf("[council] %s: %s", stage, status)
		if onProgress != nil {
			onProgress(stage, status)
		}
	}

	run := &Run{Query: query, State: StateStage1}

	// Stage 1: fan the question out.
	emit("stage1", fmt.Sprintf("Querying %d providers...", len(c.opts.Providers)))
	stage1, err := CollectStage1(ctx, c.adapter, c.opts.Providers, query)
	if err != nil {
		// Zero Stage 1 successes is the run-fatal condition; Stage 2 and 3
		// are never attempted.
		run.State = StateError
		run.Error = err.Error()
		return run, err
	}
	run.Stage1 = stage1
	emit("stage1", fmt.Sprintf("Collected %d of %d responses", len(stage1), len(c.opts.Providers)))

	// Stage 2: anonymize and peer-rank. Every originally queried provider
	// evaluates, using the one label map built here and never regenerated.
	run.State = StateStage2
	emit("stage2", "Collecting peer rankings...")
	prompt := BuildRankingPrompt(query, stage1)
	stage2 := CollectRankings(ctx, c.adapter, c.opts.Providers, prompt)
	run.Stage2 = stage2
	run.Metadata = Metadata{
		LabelToModel:      prompt.LabelToModel,
		AggregateRankings: Aggregate(c.opts.Providers, stage2, prompt.LabelToModel),
	}
	emit("stage2", fmt.Sprintf("Received %d peer rankings", len(stage2)))

	// Stage 3: synthesis by the configured chairman(s).
	run.State = StateStage3
	targets := c.synthesisTargets()
	emit("stage3", fmt.Sprintf("Synthesizing final answer (%s mode)...", c.opts.ChairmanMode))
	synthesisPrompt := BuildSynthesisPrompt(query, stage1, stage2, prompt.LabelToModel)
	stage3, err := Synthesize(ctx, c.adapter, targets, c.opts.ChairmanMode, synthesisPrompt)
	if err != nil {
		run.State = StateError
		run.Error = err.Error()
		return run, err
	}
	run.Stage3 = stage3

	run.State = StateDone
	emit("done", "Council run complete")
	return run, nil
}

// synthesisTargets resolves the chairman variant once per run.
func (c *Coordinator) synthesisTargets() []provider.Resolved {
	if c.opts.ChairmanMode == ChairmanAll {
		return c.opts.Providers
	}
	return []provider.Resolved{c.opts.Chairman}
}

// Package host glues the council pipeline to the surfaces that trigger it.
// One Runner backs both the relay websocket client and the local HTTP API,
// so the at-most-one-run rule holds across every entry point on the host.
package host

import (
	"context"
	"sync/atomic"

	"llm-council-relay/internal/council"
	"llm-council-relay/internal/provider"
)

// Options configure a runner.
type Options struct {
	// Providers carry the per-tier model tables.
	Providers []provider.Provider
	// ChairmanID selects the synthesizing provider in single mode. Empty
	// means the first provider.
	ChairmanID string
	// ChairmanMode selects the Stage 3 variant.
	ChairmanMode council.ChairmanMode
}

// Runner resolves a tier to a council and executes it, allowing one run
// at a time host-wide.
type Runner struct {
	adapter provider.Adapter
	opts    Options
	busy    atomic.Bool
}

// NewRunner builds a runner over the given adapter.
func NewRunner(adapter provider.Adapter, opts Options) *Runner {
	if len(opts.Providers) == 0 {
		opts.Providers = provider.Defaults()
	}
	if opts.ChairmanMode == "" {
		opts.ChairmanMode = council.ChairmanSingle
	}
	return &Runner{adapter: adapter, opts: opts}
}

// Busy reports whether a run is in flight.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Execute resolves the tier's models and drives a full council run.
// Returns council.ErrBusy when another run is already in flight.
func (r *Runner) Execute(ctx context.Context, query, tier string, onProgress council.ProgressFunc) (*council.Run, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, council.ErrBusy
	}
	defer r.busy.Store(false)

	resolved := provider.Resolve(r.opts.Providers, resolveTier(tier))
	coord := council.NewCoordinator(r.adapter, council.Options{
		Providers:    resolved,
		ChairmanMode: r.opts.ChairmanMode,
		Chairman:     r.chairman(resolved),
	})
	return coord.Execute(ctx, query, onProgress)
}

func (r *Runner) chairman(resolved []provider.Resolved) provider.Resolved {
	if r.opts.ChairmanID != "" {
		for _, p := range resolved {
			if p.ID == r.opts.ChairmanID {
				return p
			}
		}
	}
	if len(resolved) > 0 {
		return resolved[0]
	}
	return provider.Resolved{}
}

// resolveTier maps the wire-level tier string onto a model tier. Unknown
// or empty values fall back to the pro tier.
func resolveTier(tier string) provider.Tier {
	switch tier {
	case string(provider.TierNormal):
		return provider.TierNormal
	default:
		return provider.TierPro
	}
}

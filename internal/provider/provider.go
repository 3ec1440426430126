package provider

import "context"

// Tier selects which model each provider contributes to a run.
type Tier string

const (
	TierPro    Tier = "pro"
	TierNormal Tier = "normal"
)

// Provider is one of the fixed set of LLM backends a council can draw on.
// The ID is stable across runs; Models maps a tier to the model identifier
// the adapter should request.
type Provider struct {
	ID     string          `json:"id" yaml:"id"`
	Name   string          `json:"name" yaml:"name"`
	Models map[Tier]string `json:"models" yaml:"models"`
}

// Resolved is a provider pinned to the concrete model for one run.
type Resolved struct {
	ID    string `json:"provider_id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Turn is one prior exchange handed to an adapter. Council stages always
// send a fresh context, so the slice is usually nil.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Adapter is the transport contract the council core consumes. The core
// never inspects a failure beyond "it failed"; auth, rate limits and
// network errors all surface as the returned error.
type Adapter interface {
	Send(ctx context.Context, providerID, model, prompt string, prior []Turn) (string, error)
}

// Defaults returns the built-in provider set. Deployments can override it
// through configuration; the IDs here match what auth-status reporting uses.
func Defaults() []Provider {
	return []Provider{
		{
			ID:   "claude",
			Name: "Claude",
			Models: map[Tier]string{
				TierPro:    "anthropic/claude-opus-4.5",
				TierNormal: "anthropic/claude-sonnet-4.5",
			},
		},
		{
			ID:   "openai",
			Name: "ChatGPT",
			Models: map[Tier]string{
				TierPro:    "openai/gpt-5.1",
				TierNormal: "openai/gpt-5.1-mini",
			},
		},
		{
			ID:   "gemini",
			Name: "Gemini",
			Models: map[Tier]string{
				TierPro:    "google/gemini-3-pro-preview",
				TierNormal: "google/gemini-2.5-flash",
			},
		},
		{
			ID:   "grok",
			Name: "Grok",
			Models: map[Tier]string{
				TierPro:    "x-ai/grok-4",
				TierNormal: "x-ai/grok-4-fast",
			},
		},
	}
}

// Resolve pins a provider list to a tier, preserving order. Providers with
// no model for the tier fall back to normal, then to any configured model.
func Resolve(providers []Provider, tier Tier) []Resolved {
	resolved := make([]Resolved, 0, len(providers))
	for _, p := range providers {
		model := p.Models[tier]
		if model == "" {
			model = p.Models[TierNormal]
		}
		if model == "" {
			for _, m := range p.Models {
				model = m
				break
			}
		}
		if model == "" {
			continue
		}
		resolved = append(resolved, Resolved{ID: p.ID, Name: p.Name, Model: model})
	}
	return resolved
}

// ByID finds a provider in a list by its stable id. Returns nil when absent.
func ByID(providers []Provider, id string) *Provider {
	for i := range providers {
		if providers[i].ID == id {
			return &providers[i]
		}
	}
	return nil
}

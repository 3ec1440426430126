package host

import (
	"context"

	"llm-council-relay/internal/provider"
	"llm-council-relay/internal/store"
)

// ConversationHistory answers the relay's conversation proxy messages
// from the host's local conversation store.
type ConversationHistory struct {
	conversations *store.ConversationStore
}

// NewConversationHistory wraps a conversation store.
func NewConversationHistory(conversations *store.ConversationStore) *ConversationHistory {
	return &ConversationHistory{conversations: conversations}
}

// List returns conversation metadata, newest first.
func (h *ConversationHistory) List(ctx context.Context) (interface{}, error) {
	return h.conversations.List()
}

// Get returns the full conversation or nil when absent.
func (h *ConversationHistory) Get(ctx context.Context, id string) (interface{}, error) {
	return h.conversations.Get(id)
}

// Delete removes a conversation, reporting whether it existed.
func (h *ConversationHistory) Delete(ctx context.Context, id string) (bool, error) {
	return h.conversations.Delete(id)
}

// KeyAuth reports provider auth from the single shared transport
// credential: every configured provider is usable exactly when the
// OpenRouter key is set.
type KeyAuth struct {
	providers []provider.Provider
	keySet    bool
}

// NewKeyAuth builds the checker for the given provider set.
func NewKeyAuth(providers []provider.Provider, keySet bool) *KeyAuth {
	return &KeyAuth{providers: providers, keySet: keySet}
}

// Status maps each provider id to whether it can be queried right now.
func (a *KeyAuth) Status(ctx context.Context) map[string]bool {
	status := make(map[string]bool, len(a.providers))
	for _, p := range a.providers {
		status[p.ID] = a.keySet
	}
	return status
}

package council

import (
	"context"
	"fmt"
	"strings"

	"llm-council-relay/internal/provider"
)

const titlePrompt = `Generate a short title (3-6 words) summarizing the topic of this message. Respond with ONLY the title, no quotes, no punctuation at the end.

Message: %s`

// GenerateTitle asks a single model for a short conversation title based
// on the first user message. Long messages are truncated before sending.
func GenerateTitle(ctx context.Context, adapter provider.Adapter, target provider.Resolved, message string) (string, error) {
	message = truncateRunes(message, 500)

	prompt := fmt.Sprintf(titlePrompt, message)
	title, err := adapter.Send(ctx, target.ID, target.Model, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"'`))
	if title == "" {
		return "", fmt.Errorf("title generation returned empty response")
	}
	return truncateRunes(title, 80), nil
}

// truncateRunes cuts on a rune boundary so multibyte text stays valid.
func truncateRunes(s string, max int) string {
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max])
	}
	return s
}

package council_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/mock/gomock"

	"llm-council-relay/internal/council"
	"llm-council-relay/internal/provider"
	"llm-council-relay/internal/provider/mocks"
)

func TestGenerateTitle(t *testing.T) {
	target := provider.Resolved{ID: "gemini", Model: "google/gemini-2.5-flash"}

	tests := []struct {
		name    string
		reply   string
		err     error
		want    string
		wantErr bool
	}{
		{name: "plain", reply: "Monads Explained", want: "Monads Explained"},
		{name: "quoted", reply: `  "Monads Explained"  `, want: "Monads Explained"},
		{name: "over length", reply: strings.Repeat("x", 120), want: strings.Repeat("x", 80)},
		{name: "over length multibyte", reply: strings.Repeat("é", 120), want: strings.Repeat("é", 80)},
		{name: "empty reply", reply: "   ", wantErr: true},
		{name: "adapter error", err: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			adapter := mocks.NewMockAdapter(ctrl)
			adapter.EXPECT().
				Send(gomock.Any(), target.ID, target.Model, gomock.Any(), gomock.Nil()).
				Return(tt.reply, tt.err)

			got, err := council.GenerateTitle(context.Background(), adapter, target, "what is a monad")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("want error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("title = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateTitleTruncatesLongMessages(t *testing.T) {
	target := provider.Resolved{ID: "claude", Model: "anthropic/claude-opus-4.5"}

	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		Send(gomock.Any(), target.ID, target.Model, gomock.Any(), gomock.Nil()).
		DoAndReturn(func(ctx context.Context, providerID, model, prompt string, prior []provider.Turn) (string, error) {
			parts := strings.SplitN(prompt, "Message: ", 2)
			if len(parts) != 2 {
				t.Fatalf("prompt missing message section: %q", prompt)
			}
			if got := utf8.RuneCountInString(parts[1]); got != 500 {
				t.Errorf("message not truncated to 500 runes, got %d", got)
			}
			if !utf8.ValidString(parts[1]) {
				t.Error("truncation split a rune")
			}
			return "Long Message", nil
		})

	if _, err := council.GenerateTitle(context.Background(), adapter, target, strings.Repeat("é", 2000)); err != nil {
		t.Fatal(err)
	}
}

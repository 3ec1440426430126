package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mockCompletions(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}

		var body struct {
			Model    string `json:"model"`
			Messages []Turn `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model == "" || len(body.Messages) == 0 {
			t.Errorf("request = %+v", body)
		}
		if last := body.Messages[len(body.Messages)-1]; last.Role != "user" {
			t.Errorf("last message role = %q, want user", last.Role)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}
}

func TestOpenRouterSend(t *testing.T) {
	srv := httptest.NewServer(mockCompletions(t, "Test response content"))
	defer srv.Close()

	adapter := NewOpenRouter("test-key", srv.URL, 10*time.Second)
	got, err := adapter.Send(context.Background(), "claude", "test/model", "Test question", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "Test response content" {
		t.Errorf("response = %q", got)
	}
}

func TestOpenRouterSendPriorTurns(t *testing.T) {
	var gotMessages []Turn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []Turn `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotMessages = body.Messages
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	adapter := NewOpenRouter("test-key", srv.URL, 10*time.Second)
	prior := []Turn{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}}
	if _, err := adapter.Send(context.Background(), "claude", "test/model", "now", prior); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(gotMessages) != 3 {
		t.Fatalf("got %d messages, want 3", len(gotMessages))
	}
	if gotMessages[2].Content != "now" {
		t.Errorf("final message = %+v", gotMessages[2])
	}
}

func TestOpenRouterSendErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "internal error", http.StatusInternalServerError)
			},
		},
		{
			name: "invalid JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{ invalid json }"))
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"choices":[]}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			adapter := NewOpenRouter("test-key", srv.URL, 10*time.Second)
			if _, err := adapter.Send(context.Background(), "claude", "test/model", "q", nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestOpenRouterSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	adapter := NewOpenRouter("test-key", srv.URL, 50*time.Millisecond)
	if _, err := adapter.Send(context.Background(), "claude", "test/model", "q", nil); err == nil {
		t.Error("expected timeout error, got nil")
	}
}

package relay

import (
	"encoding/json"
	"testing"
	"time"
)

func TestReconnectDelay(t *testing.T) {
	client := NewClient(ClientConfig{
		ReconnectBase: 2 * time.Second,
		ReconnectMax:  30 * time.Second,
	}, nil, nil, nil)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 10 * time.Second},
		{15, 30 * time.Second}, // capped
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := client.ReconnectDelay(tt.attempt); got != tt.expected {
			t.Errorf("ReconnectDelay(%d) = %s, want %s", tt.attempt, got, tt.expected)
		}
	}
}

func TestClientConfigDefaults(t *testing.T) {
	cfg := ClientConfig{URL: "ws://localhost:8787/ws"}
	cfg.applyDefaults()

	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %s", cfg.PingInterval)
	}
	if cfg.ReconnectBase != 2*time.Second {
		t.Errorf("ReconnectBase = %s", cfg.ReconnectBase)
	}
	if cfg.ReconnectMax != 30*time.Second {
		t.Errorf("ReconnectMax = %s", cfg.ReconnectMax)
	}
	if cfg.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
}

// The wire format uses camelCase requestId and omits empty fields, so
// both sides of the relay agree on envelope shape.
func TestEnvelopeWireShape(t *testing.T) {
	env, err := NewEnvelope(TypeCouncilRequest, "req-1", CouncilRequest{
		RequestID: "req-1",
		Query:     "What is Go?",
	})
	if err != nil {
		t.Fatalf("NewEnvelope() error: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(decoded["type"]) != `"council_request"` {
		t.Errorf("type = %s", decoded["type"])
	}
	if string(decoded["requestId"]) != `"req-1"` {
		t.Errorf("requestId = %s", decoded["requestId"])
	}
	if _, ok := decoded["payload"]; !ok {
		t.Error("payload missing")
	}

	bare, _ := json.Marshal(Envelope{Type: TypePing})
	if string(bare) != `{"type":"ping"}` {
		t.Errorf("bare ping = %s, empty fields should be omitted", bare)
	}
}

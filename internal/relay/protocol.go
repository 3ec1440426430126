package relay

import (
	"encoding/json"
	"fmt"

	"llm-council-relay/internal/council"
)

// MessageType is the closed set of message kinds exchanged between the
// relay server and the credentialed host over the persistent connection.
// Both read pumps dispatch with an exhaustive switch; an unknown type is
// logged and dropped.
type MessageType string

const (
	// Host → server: announce availability after connecting.
	TypeExtensionReady MessageType = "extension_ready"

	// Liveness heartbeat, either direction.
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"

	// Server → host: run a council. Host → server: progress and result.
	TypeCouncilRequest  MessageType = "council_request"
	TypeCouncilProgress MessageType = "council_progress"
	TypeCouncilResponse MessageType = "council_response"

	// Request/response proxy pairs.
	TypeGetAuthStatus      MessageType = "get_auth_status"
	TypeAuthStatus         MessageType = "auth_status"
	TypeGetHistoryList     MessageType = "get_history_list"
	TypeHistoryList        MessageType = "history_list"
	TypeGetConversation    MessageType = "get_conversation"
	TypeConversationData   MessageType = "conversation_data"
	TypeDeleteConversation MessageType = "delete_conversation"
	TypeDeleteResult       MessageType = "delete_result"
)

// Envelope is the wire frame: a type, an optional payload, and for proxy
// pairs a correlation id.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload produces a
// bare frame (ping/pong, extension_ready).
func NewEnvelope(t MessageType, requestID string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// CouncilRequest asks the relay host to execute one council run.
type CouncilRequest struct {
	RequestID string `json:"requestId"`
	Query     string `json:"query"`
	Tier      string `json:"tier"`
	Timestamp int64  `json:"timestamp"`
}

// CouncilProgress is a stage notification sent while a run executes.
type CouncilProgress struct {
	RequestID string `json:"requestId"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
}

// CouncilResponse is the final result of a relayed run. On failure only
// Error (and Duration) are populated.
type CouncilResponse struct {
	RequestID string                 `json:"requestId"`
	Success   bool                   `json:"success"`
	Stage1    []council.Stage1Result `json:"stage1,omitempty"`
	Stage2    []council.Stage2Result `json:"stage2,omitempty"`
	Stage3    []council.Stage3Result `json:"stage3,omitempty"`
	Metadata  *council.Metadata      `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  int64                  `json:"duration"`
}

// AuthStatus reports which providers hold a valid session on the host.
type AuthStatus struct {
	Providers map[string]bool `json:"providers"`
	Timestamp int64           `json:"timestamp"`
}

// ConversationRef addresses one stored conversation in proxy requests.
type ConversationRef struct {
	ID string `json:"id"`
}

// DeleteResult acknowledges a proxied conversation deletion.
type DeleteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

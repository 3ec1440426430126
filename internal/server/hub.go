package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"llm-council-relay/internal/relay"
	"llm-council-relay/internal/store"
)

// ErrHostNotConnected is returned when an operation needs the credentialed
// host and no relay connection is up.
var ErrHostNotConnected = errors.New("relay host not connected")

// ErrRunInProgress is returned when a council request arrives while
// another is still in flight. The relay never queues runs.
var ErrRunInProgress = errors.New("another request is in progress")

// Hub owns the single relay-host websocket and correlates in-flight
// requests with the responses that come back over it. Council requests and
// lightweight proxy requests (auth status, history) use separate pending
// maps because they have very different lifetimes.
type Hub struct {
	requests *store.RequestStore

	mu      sync.RWMutex
	host    *websocket.Conn
	pending map[string]chan relay.CouncilResponse
	proxy   map[string]chan json.RawMessage

	writeMu   sync.Mutex
	startedAt time.Time
}

// NewHub wires the hub to the request store it persists terminal results
// into.
func NewHub(requests *store.RequestStore) *Hub {
	return &Hub{
		requests:  requests,
		pending:   make(map[string]chan relay.CouncilResponse),
		proxy:     make(map[string]chan json.RawMessage),
		startedAt: time.Now(),
	}
}

// HostConnected reports whether the credentialed host is attached.
func (h *Hub) HostConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.host != nil
}

// Uptime is how long the relay server has been running.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startedAt)
}

// CouncilBusy reports whether a council run is already in flight. The
// relay enforces at most one run host-wide.
func (h *Hub) CouncilBusy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending) > 0
}

// RegisterCouncil reserves the request id and returns the channel its
// response will arrive on. Fails when another run is in flight.
func (h *Hub) RegisterCouncil(requestID string) (chan relay.CouncilResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) > 0 {
		return nil, ErrRunInProgress
	}
	ch := make(chan relay.CouncilResponse, 1)
	h.pending[requestID] = ch
	return ch, nil
}

// UnregisterCouncil drops a pending entry (caller timed out or aborted).
func (h *Hub) UnregisterCouncil(requestID string) {
	h.mu.Lock()
	delete(h.pending, requestID)
	h.mu.Unlock()
}

// SendCouncilRequest pushes a council_request frame to the host.
func (h *Hub) SendCouncilRequest(req relay.CouncilRequest) error {
	env, err := relay.NewEnvelope(relay.TypeCouncilRequest, "", req)
	if err != nil {
		return err
	}
	return h.send(env)
}

// Proxy sends a request/response pair message to the host and waits for
// the correlated answer.
func (h *Hub) Proxy(ctx context.Context, t relay.MessageType, requestID string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	h.mu.Lock()
	h.proxy[requestID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.proxy, requestID)
		h.mu.Unlock()
	}()

	env, err := relay.NewEnvelope(t, requestID, payload)
	if err != nil {
		return nil, err
	}
	if err := h.send(env); err != nil {
		return nil, err
	}

	select {
	case raw := <-ch:
		return raw, nil
	case <-time.After(timeout):
		return nil, errors.New("timeout waiting for relay host")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleHost is the websocket handler for the /ws endpoint. Only one host
// connection is kept; a newer one replaces the old.
func (h *Hub) HandleHost(conn *websocket.Conn) {
	h.mu.Lock()
	if h.host != nil {
		log.Printf("[hub] replacing existing relay host connection")
		h.host.Close()
	}
	h.host = conn
	h.mu.Unlock()
	log.Printf("[hub] relay host connected")

	for {
		var env relay.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			log.Printf("[hub] relay host read error: %v", err)
			break
		}
		h.dispatch(env)
	}

	h.mu.Lock()
	if h.host == conn {
		h.host = nil
	}
	h.mu.Unlock()

	h.rejectAllPending("relay host disconnected")
	log.Printf("[hub] relay host disconnected")
}

func (h *Hub) dispatch(env relay.Envelope) {
	switch env.Type {
	case relay.TypeExtensionReady:
		log.Printf("[hub] relay host ready")
	case relay.TypePing:
		_ = h.send(relay.Envelope{Type: relay.TypePong})
	case relay.TypePong:
		// Heartbeat response, ignore.
	case relay.TypeCouncilProgress:
		var progress relay.CouncilProgress
		if err := json.Unmarshal(env.Payload, &progress); err == nil {
			log.Printf("[hub] progress %s: %s %s", progress.RequestID, progress.Stage, progress.Status)
		}
	case relay.TypeCouncilResponse:
		h.handleCouncilResponse(env)
	case relay.TypeAuthStatus, relay.TypeHistoryList, relay.TypeConversationData, relay.TypeDeleteResult:
		h.resolveProxy(env)
	default:
		log.Printf("[hub] unknown message type from host: %s", env.Type)
	}
}

// handleCouncilResponse persists the terminal state first, then resolves
// whoever is still waiting. Persisting unconditionally means a caller that
// disconnected mid-run can still poll the completed result.
func (h *Hub) handleCouncilResponse(env relay.Envelope) {
	var resp relay.CouncilResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		log.Printf("[hub] failed to parse council_response: %v", err)
		return
	}
	if resp.RequestID == "" {
		log.Printf("[hub] council_response missing requestId")
		return
	}

	ctx := context.Background()
	if resp.Success {
		if err := h.requests.Complete(ctx, resp.RequestID, resp.Stage1, resp.Stage2, resp.Stage3, resp.Metadata, resp.Duration); err != nil {
			log.Printf("[hub] failed to persist completed request %s: %v", resp.RequestID, err)
		}
	} else {
		errMsg := resp.Error
		if errMsg == "" {
			errMsg = "unknown error"
		}
		if err := h.requests.Fail(ctx, resp.RequestID, errMsg); err != nil {
			log.Printf("[hub] failed to persist failed request %s: %v", resp.RequestID, err)
		}
	}

	h.mu.Lock()
	ch, ok := h.pending[resp.RequestID]
	if ok {
		delete(h.pending, resp.RequestID)
	}
	h.mu.Unlock()

	if ok {
		ch <- resp
	} else {
		log.Printf("[hub] no waiter for request %s (caller disconnected)", resp.RequestID)
	}
}

func (h *Hub) resolveProxy(env relay.Envelope) {
	if env.RequestID == "" {
		log.Printf("[hub] proxy response %s missing requestId", env.Type)
		return
	}

	h.mu.Lock()
	ch, ok := h.proxy[env.RequestID]
	h.mu.Unlock()

	if !ok {
		log.Printf("[hub] no pending proxy request for %s", env.RequestID)
		return
	}

	payload := env.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	select {
	case ch <- payload:
	default:
	}
}

// rejectAllPending fails every in-flight request, both in the store and
// toward any waiting caller. Called when the host connection drops.
func (h *Hub) rejectAllPending(reason string) {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[string]chan relay.CouncilResponse)
	proxy := h.proxy
	h.proxy = make(map[string]chan json.RawMessage)
	h.mu.Unlock()

	ctx := context.Background()
	for id, ch := range pending {
		if err := h.requests.Fail(ctx, id, reason); err != nil {
			log.Printf("[hub] failed to persist rejection for %s: %v", id, err)
		}
		ch <- relay.CouncilResponse{RequestID: id, Success: false, Error: reason}
	}
	for _, ch := range proxy {
		raw, _ := json.Marshal(map[string]string{"error": reason})
		select {
		case ch <- raw:
		default:
		}
	}
}

func (h *Hub) send(env relay.Envelope) error {
	h.mu.RLock()
	conn := h.host
	h.mu.RUnlock()
	if conn == nil {
		return ErrHostNotConnected
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteJSON(env)
}

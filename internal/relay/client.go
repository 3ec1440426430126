package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"

	"llm-council-relay/internal/council"
)

// Runner executes one council run on behalf of the relay server. The
// councilhost wires the coordinator in behind this; tests wire fakes.
type Runner interface {
	Execute(ctx context.Context, query, tier string, onProgress council.ProgressFunc) (*council.Run, error)
}

// AuthChecker reports which providers currently hold valid sessions.
type AuthChecker interface {
	Status(ctx context.Context) map[string]bool
}

// HistorySource serves the conversation proxy messages. Optional; a nil
// source answers proxy requests with empty payloads.
type HistorySource interface {
	List(ctx context.Context) (interface{}, error)
	Get(ctx context.Context, id string) (interface{}, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ClientConfig tunes the persistent connection.
type ClientConfig struct {
	// URL is the relay server's websocket endpoint (ws://host:port/ws).
	URL string
	// PingInterval is the heartbeat period.
	PingInterval time.Duration
	// ReconnectBase is multiplied by the attempt number for the linear
	// backoff, capped at ReconnectMax.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxAttempts is how many consecutive failed dials are tolerated
	// before Run gives up.
	MaxAttempts int
}

func (c *ClientConfig) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
}

// Client runs on the credentialed host. It keeps one persistent websocket
// to the relay server, executes council requests received over it, and
// answers the auth-status and history proxy messages.
type Client struct {
	cfg     ClientConfig
	runner  Runner
	auth    AuthChecker
	history HistorySource
	dialer  *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	// At most one council run in flight host-wide; a second request is
	// rejected with an explicit error, never queued.
	inFlight atomic.Bool
}

// NewClient builds a relay client. auth and history may be nil.
func NewClient(cfg ClientConfig, runner Runner, auth AuthChecker, history HistorySource) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		runner:  runner,
		auth:    auth,
		history: history,
		dialer:  websocket.DefaultDialer,
	}
}

// ReconnectDelay returns the backoff before the given 1-based attempt:
// base delay times the attempt number, capped.
func (c *Client) ReconnectDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * c.cfg.ReconnectBase
	if delay > c.cfg.ReconnectMax {
		delay = c.cfg.ReconnectMax
	}
	return delay
}

// Run maintains the connection until ctx is cancelled or MaxAttempts
// consecutive dials fail. Every fresh connection re-announces
// extension_ready.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			attempt++
			if attempt >= c.cfg.MaxAttempts {
				return fmt.Errorf("relay connection failed after %d attempts: %w", attempt, err)
			}
			delay := c.ReconnectDelay(attempt)
			log.Printf("[relay] connect attempt %d failed, retrying in %s: %v", attempt, delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		log.Printf("[relay] connected to %s", c.cfg.URL)
		c.serve(ctx, conn)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[relay] connection lost, reconnecting")
	}
}

// serve owns one live connection: announces readiness, heartbeats, and
// pumps inbound messages until the connection dies.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		conn.Close()
	}()

	if err := c.send(Envelope{Type: TypeExtensionReady}); err != nil {
		log.Printf("[relay] failed to announce readiness: %v", err)
		return
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := c.send(Envelope{Type: TypePing}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			log.Printf("[relay] read error: %v", err)
			return
		}
		c.handle(ctx, env)
	}
}

func (c *Client) handle(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypePing:
		_ = c.send(Envelope{Type: TypePong})
	case TypePong:
		// Heartbeat response, nothing to do.
	case TypeCouncilRequest:
		var req CouncilRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			log.Printf("[relay] bad council_request payload: %v", err)
			return
		}
		if !c.inFlight.CompareAndSwap(false, true) {
			c.sendCouncilResponse(CouncilResponse{
				RequestID: req.RequestID,
				Success:   false,
				Error:     "another request is in progress",
			})
			return
		}
		go func() {
			defer c.inFlight.Store(false)
			c.runCouncil(ctx, req)
		}()
	case TypeGetAuthStatus:
		c.sendAuthStatus(ctx, env.RequestID)
	case TypeGetHistoryList:
		c.sendHistoryList(ctx, env.RequestID)
	case TypeGetConversation:
		c.sendConversation(ctx, env)
	case TypeDeleteConversation:
		c.sendDeleteResult(ctx, env)
	default:
		log.Printf("[relay] unknown message type: %s", env.Type)
	}
}

// runCouncil executes one relayed run, streaming progress and always
// finishing with exactly one council_response.
func (c *Client) runCouncil(ctx context.Context, req CouncilRequest) {
	log.Printf("[relay] council request %s: %q (tier %s)", req.RequestID, req.Query, req.Tier)
	start := time.Now()

	run, err := c.runner.Execute(ctx, req.Query, req.Tier, func(stage, status string) {
		progress, perr := NewEnvelope(TypeCouncilProgress, "", CouncilProgress{
			RequestID: req.RequestID,
			Stage:     stage,
			Status:    status,
		})
		if perr == nil {
			_ = c.send(progress)
		}
	})

	resp := CouncilResponse{
		RequestID: req.RequestID,
		Duration:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = true
		resp.Stage1 = run.Stage1
		resp.Stage2 = run.Stage2
		resp.Stage3 = run.Stage3
		metadata := run.Metadata
		resp.Metadata = &metadata
	}
	c.sendCouncilResponse(resp)
}

func (c *Client) sendCouncilResponse(resp CouncilResponse) {
	env, err := NewEnvelope(TypeCouncilResponse, "", resp)
	if err != nil {
		log.Printf("[relay] failed to build council_response: %v", err)
		return
	}
	if err := c.send(env); err != nil {
		log.Printf("[relay] failed to send council_response %s: %v", resp.RequestID, err)
	}
}

func (c *Client) sendAuthStatus(ctx context.Context, requestID string) {
	status := AuthStatus{Providers: map[string]bool{}, Timestamp: time.Now().UnixMilli()}
	if c.auth != nil {
		status.Providers = c.auth.Status(ctx)
	}
	c.reply(TypeAuthStatus, requestID, status)
}

func (c *Client) sendHistoryList(ctx context.Context, requestID string) {
	var payload interface{} = []interface{}{}
	if c.history != nil {
		list, err := c.history.List(ctx)
		if err != nil {
			payload = map[string]string{"error": err.Error()}
		} else {
			payload = list
		}
	}
	c.reply(TypeHistoryList, requestID, payload)
}

func (c *Client) sendConversation(ctx context.Context, env Envelope) {
	var ref ConversationRef
	_ = json.Unmarshal(env.Payload, &ref)

	var payload interface{}
	if c.history != nil {
		conv, err := c.history.Get(ctx, ref.ID)
		if err != nil {
			payload = map[string]string{"error": err.Error()}
		} else {
			payload = conv
		}
	}
	c.reply(TypeConversationData, env.RequestID, payload)
}

func (c *Client) sendDeleteResult(ctx context.Context, env Envelope) {
	var ref ConversationRef
	_ = json.Unmarshal(env.Payload, &ref)

	result := DeleteResult{}
	if c.history != nil {
		ok, err := c.history.Delete(ctx, ref.ID)
		result.Success = ok
		if err != nil {
			result.Error = err.Error()
		}
	}
	c.reply(TypeDeleteResult, env.RequestID, result)
}

func (c *Client) reply(t MessageType, requestID string, payload interface{}) {
	env, err := NewEnvelope(t, requestID, payload)
	if err != nil {
		log.Printf("[relay] failed to build %s reply: %v", t, err)
		return
	}
	_ = c.send(env)
}

// send serializes writes; the websocket allows one concurrent writer.
func (c *Client) send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(env)
}

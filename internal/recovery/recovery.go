// Package recovery lets a caller survive losing its connection mid-run.
// Before dispatching a council request the caller persists the request id
// locally; if the process or network dies it can later reload the id and
// poll the relay until the run reaches a terminal state.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"llm-council-relay/internal/store"
)

// ErrNoPending is returned when there is nothing to resume.
var ErrNoPending = errors.New("no pending request")

const pendingKey = "pending:council"

// PendingRecord is what a caller stashes before waiting on a run.
type PendingRecord struct {
	RequestID          string `json:"request_id"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	Query              string `json:"query"`
	SavedAt            int64  `json:"saved_at"`
}

// Tracker persists the single pending record. There is at most one
// because the relay allows at most one run in flight.
type Tracker struct {
	kv  store.KV
	now func() time.Time
}

// NewTracker wraps the given key-value store.
func NewTracker(kv store.KV) *Tracker {
	return &Tracker{kv: kv, now: time.Now}
}

// Save records the pending request, replacing any previous one.
func (t *Tracker) Save(ctx context.Context, rec PendingRecord) error {
	rec.SavedAt = t.now().UnixMilli()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pending record: %w", err)
	}
	return t.kv.Set(ctx, pendingKey, data)
}

// Load returns the pending record, or ErrNoPending.
func (t *Tracker) Load(ctx context.Context) (*PendingRecord, error) {
	data, err := t.kv.Get(ctx, pendingKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPending
		}
		return nil, err
	}
	var rec PendingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse pending record: %w", err)
	}
	return &rec, nil
}

// Clear removes the pending record. Clearing when nothing is pending is
// not an error.
func (t *Tracker) Clear(ctx context.Context) error {
	if err := t.kv.Delete(ctx, pendingKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Poller watches a request on the relay until it reaches a terminal
// state.
type Poller struct {
	baseURL  string
	client   *http.Client
	interval time.Duration
}

// NewPoller builds a poller against the relay at baseURL. A zero interval
// defaults to two seconds.
func NewPoller(baseURL string, client *http.Client, interval time.Duration) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{baseURL: baseURL, client: client, interval: interval}
}

// Wait polls GET /requests/{id} until the record is terminal or the
// context ends. Transient fetch errors are retried on the next tick.
func (p *Poller) Wait(ctx context.Context, requestID string) (*store.RequestRecord, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		rec, err := p.fetch(ctx, requestID)
		if err == nil && rec.Status.Terminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ActiveRequestID asks the relay which request is currently in flight.
// Used when the caller lost the POST response before it ever saw the id.
func (p *Poller) ActiveRequestID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/active-request", nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("active-request returned status %d", resp.StatusCode)
	}

	var body struct {
		Active *store.RequestRecord `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parse active-request response: %w", err)
	}
	if body.Active == nil {
		return "", ErrNoPending
	}
	return body.Active.ID, nil
}

func (p *Poller) fetch(ctx context.Context, requestID string) (*store.RequestRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/requests/"+requestID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("request %s returned status %d", requestID, resp.StatusCode)
	}

	var rec store.RequestRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("parse request record: %w", err)
	}
	return &rec, nil
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"llm-council-relay/internal/council"
)

// RequestStatus is the lifecycle of a relayed council request. The record
// is created as pending before anything is sent to the host, so a caller
// that loses its connection can always poll the id it would have received.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusError      RequestStatus = "error"
)

// Terminal reports whether the status will never change again.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// RequestRecord is the persisted form of one relayed council request.
type RequestRecord struct {
	ID        string                 `json:"id"`
	Query     string                 `json:"query"`
	Tier      string                 `json:"tier"`
	Status    RequestStatus          `json:"status"`
	Stage1    []council.Stage1Result `json:"stage1,omitempty"`
	Stage2    []council.Stage2Result `json:"stage2,omitempty"`
	Stage3    []council.Stage3Result `json:"stage3,omitempty"`
	Metadata  *council.Metadata      `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  int64                  `json:"duration,omitempty"`
	CreatedAt int64                  `json:"created_at"`
	UpdatedAt int64                  `json:"updated_at"`
}

// RequestSummary is the listing shape for recent requests.
type RequestSummary struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Tier      string        `json:"tier"`
	Status    RequestStatus `json:"status"`
	CreatedAt int64         `json:"created_at"`
	Duration  int64         `json:"duration,omitempty"`
}

const requestKeyPrefix = "requests:"

// RequestStore persists council request records through a KV backend.
type RequestStore struct {
	kv  KV
	now func() time.Time
}

// NewRequestStore wraps a KV backend.
func NewRequestStore(kv KV) *RequestStore {
	return &RequestStore{kv: kv, now: time.Now}
}

func requestKey(id string) string {
	return requestKeyPrefix + id
}

// Save creates a new pending record.
func (s *RequestStore) Save(ctx context.Context, id, query, tier string) error {
	now := s.now().UnixMilli()
	record := RequestRecord{
		ID:        id,
		Query:     query,
		Tier:      tier,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.put(ctx, &record)
}

// MarkProcessing advances a record to processing.
func (s *RequestStore) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, id, func(r *RequestRecord) {
		r.Status = StatusProcessing
	})
}

// Complete stores the final run payload against the record.
func (s *RequestStore) Complete(ctx context.Context, id string, stage1 []council.Stage1Result, stage2 []council.Stage2Result, stage3 []council.Stage3Result, metadata *council.Metadata, duration int64) error {
	return s.update(ctx, id, func(r *RequestRecord) {
		r.Status = StatusCompleted
		r.Stage1 = stage1
		r.Stage2 = stage2
		r.Stage3 = stage3
		r.Metadata = metadata
		r.Duration = duration
	})
}

// Fail marks the record terminally failed with the message shown to the
// caller verbatim.
func (s *RequestStore) Fail(ctx context.Context, id, errMsg string) error {
	return s.update(ctx, id, func(r *RequestRecord) {
		r.Status = StatusError
		r.Error = errMsg
	})
}

// Get returns one record, or ErrNotFound.
func (s *RequestStore) Get(ctx context.Context, id string) (*RequestRecord, error) {
	data, err := s.kv.Get(ctx, requestKey(id))
	if err != nil {
		return nil, err
	}
	var record RequestRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse request record: %w", err)
	}
	return &record, nil
}

// Delete removes a record, reporting whether it existed.
func (s *RequestStore) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.kv.Get(ctx, requestKey(id)); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, s.kv.Delete(ctx, requestKey(id))
}

// Recent returns up to limit summaries, newest first.
func (s *RequestStore) Recent(ctx context.Context, limit int) ([]RequestSummary, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]RequestSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, RequestSummary{
			ID:        r.ID,
			Query:     r.Query,
			Tier:      r.Tier,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
			Duration:  r.Duration,
		})
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Active returns the newest non-terminal record, or nil when everything
// has settled. This is how a disconnected caller rediscovers the request
// id it never received.
func (s *RequestStore) Active(ctx context.Context) (*RequestRecord, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if !records[i].Status.Terminal() {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Cleanup deletes everything but the newest keep records. Returns how many
// were removed.
func (s *RequestStore) Cleanup(ctx context.Context, keep int) (int, error) {
	records, err := s.all(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) <= keep {
		return 0, nil
	}

	removed := 0
	for _, r := range records[keep:] {
		if err := s.kv.Delete(ctx, requestKey(r.ID)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// all loads every record sorted newest first. Unreadable entries are
// skipped rather than failing the listing.
func (s *RequestStore) all(ctx context.Context) ([]RequestRecord, error) {
	keys, err := s.kv.List(ctx, requestKeyPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]RequestRecord, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var record RequestRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
	return records, nil
}

func (s *RequestStore) update(ctx context.Context, id string, mutate func(*RequestRecord)) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(record)
	record.UpdatedAt = s.now().UnixMilli()
	return s.put(ctx, record)
}

func (s *RequestStore) put(ctx context.Context, record *RequestRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal request record: %w", err)
	}
	return s.kv.Set(ctx, requestKey(record.ID), data)
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"llm-council-relay/internal/council"
)

// testRequestStore uses the file backend with a ticking clock so
// created_at ordering is deterministic.
func testRequestStore(t *testing.T) *RequestStore {
	t.Helper()
	kv, err := NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	s := NewRequestStore(kv)
	base := time.Now()
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testRequestStore(t)

	if err := s.Save(ctx, "req-1", "What is Go?", "pro"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, err := s.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}
	if rec.Status.Terminal() {
		t.Error("pending must not be terminal")
	}
	if rec.Query != "What is Go?" || rec.Tier != "pro" {
		t.Errorf("record = %+v", rec)
	}

	if err := s.MarkProcessing(ctx, "req-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	rec, _ = s.Get(ctx, "req-1")
	if rec.Status != StatusProcessing {
		t.Errorf("status = %s, want processing", rec.Status)
	}
	if rec.UpdatedAt <= rec.CreatedAt {
		t.Error("UpdatedAt should advance")
	}

	stage1 := []council.Stage1Result{{ProviderID: "claude", Model: "anthropic/claude-opus-4.5", Response: "answer"}}
	metadata := &council.Metadata{LabelToModel: map[string]string{"Response A": "anthropic/claude-opus-4.5"}}
	if err := s.Complete(ctx, "req-1", stage1, nil, nil, metadata, 4200); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	rec, _ = s.Get(ctx, "req-1")
	if rec.Status != StatusCompleted || !rec.Status.Terminal() {
		t.Errorf("status = %s, want terminal completed", rec.Status)
	}
	if len(rec.Stage1) != 1 || rec.Stage1[0].ProviderID != "claude" {
		t.Errorf("stage1 = %+v", rec.Stage1)
	}
	if rec.Metadata == nil || rec.Metadata.LabelToModel["Response A"] == "" {
		t.Errorf("metadata = %+v", rec.Metadata)
	}
	if rec.Duration != 4200 {
		t.Errorf("duration = %d", rec.Duration)
	}
}

func TestRequestFail(t *testing.T) {
	ctx := context.Background()
	s := testRequestStore(t)

	_ = s.Save(ctx, "req-1", "q", "")
	if err := s.Fail(ctx, "req-1", "relay host disconnected"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	rec, _ := s.Get(ctx, "req-1")
	if rec.Status != StatusError {
		t.Errorf("status = %s, want error", rec.Status)
	}
	if rec.Error != "relay host disconnected" {
		t.Errorf("error = %q, message must be kept verbatim", rec.Error)
	}
}

func TestRequestGetMissing(t *testing.T) {
	s := testRequestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestDelete(t *testing.T) {
	ctx := context.Background()
	s := testRequestStore(t)
	_ = s.Save(ctx, "req-1", "q", "")

	deleted, err := s.Delete(ctx, "req-1")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	deleted, err = s.Delete(ctx, "req-1")
	if err != nil || deleted {
		t.Fatalf("second Delete = %v, %v, want false, nil", deleted, err)
	}
}

func TestRequestRecentAndActive(t *testing.T) {
	ctx := context.Background()
	s := testRequestStore(t)

	_ = s.Save(ctx, "old", "first", "")
	_ = s.Save(ctx, "mid", "second", "")
	_ = s.Save(ctx, "new", "third", "")
	_ = s.Fail(ctx, "new", "boom")

	summaries, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
	if summaries[0].ID != "new" || summaries[1].ID != "mid" {
		t.Errorf("order = %s, %s, want newest first", summaries[0].ID, summaries[1].ID)
	}

	// Active skips the terminal "new" record and returns the newest
	// non-terminal one.
	active, err := s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active == nil || active.ID != "mid" {
		t.Errorf("active = %+v, want mid", active)
	}

	_ = s.Fail(ctx, "mid", "boom")
	_ = s.Fail(ctx, "old", "boom")
	active, err = s.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Errorf("active = %+v, want nil when everything settled", active)
	}
}

func TestRequestCleanup(t *testing.T) {
	ctx := context.Background()
	s := testRequestStore(t)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = s.Save(ctx, id, "q", "")
	}

	removed, err := s.Cleanup(ctx, 2)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	summaries, _ := s.Recent(ctx, 0)
	if len(summaries) != 2 {
		t.Fatalf("got %d records after cleanup, want 2", len(summaries))
	}
	if summaries[0].ID != "e" || summaries[1].ID != "d" {
		t.Errorf("kept = %s, %s, want the newest two", summaries[0].ID, summaries[1].ID)
	}
}

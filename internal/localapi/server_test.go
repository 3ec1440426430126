package localapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"llm-council-relay/internal/council"
	"llm-council-relay/internal/store"
)

type fakeRunner struct {
	run  *council.Run
	err  error
	busy bool

	lastQuery string
	lastTier  string
}

func (f *fakeRunner) Execute(ctx context.Context, query, tier string, onProgress council.ProgressFunc) (*council.Run, error) {
	f.lastQuery = query
	f.lastTier = tier
	if onProgress != nil {
		onProgress("stage1", "started")
		onProgress("done", "complete")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeRunner) Busy() bool { return f.busy }

func sampleRun() *council.Run {
	return &council.Run{
		Query: "what is a monad",
		Stage1: []council.Stage1Result{
			{ProviderID: "claude", Model: "anthropic/claude-opus-4.5", Response: "A monad is a monoid in the category of endofunctors."},
		},
		Stage3: []council.Stage3Result{
			{ProviderID: "gemini", Model: "google/gemini-3-pro-preview", Response: "Synthesized answer."},
		},
		Metadata: council.Metadata{
			LabelToModel: map[string]string{"Response A": "anthropic/claude-opus-4.5"},
		},
		State: council.StateDone,
	}
}

func newTestServer(t *testing.T, runner Runner) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conversations, err := store.NewConversationStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	srv := New(Config{}, runner, nil, conversations, nil)
	return srv, srv.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	_, router := newTestServer(t, &fakeRunner{busy: true})

	rec := doJSON(t, router, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
		Busy   bool   `json:"busy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || !body.Busy {
		t.Errorf("body = %+v", body)
	}
}

func TestConversationLifecycle(t *testing.T) {
	_, router := newTestServer(t, &fakeRunner{})

	rec := doJSON(t, router, http.MethodPost, "/api/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created store.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Title != "New Conversation" {
		t.Errorf("created = %+v", created)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []store.ConversationMetadata
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/conversations/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/conversations/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/conversations/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/api/conversations/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d", rec.Code)
	}
}

func TestSendMessage(t *testing.T) {
	runner := &fakeRunner{run: sampleRun()}
	srv, router := newTestServer(t, runner)

	rec := doJSON(t, router, http.MethodPost, "/api/conversations", "")
	var created store.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/conversations/"+created.ID+"/message",
		`{"content": "what is a monad", "tier": "normal"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if runner.lastQuery != "what is a monad" || runner.lastTier != "normal" {
		t.Errorf("runner got query=%q tier=%q", runner.lastQuery, runner.lastTier)
	}

	var resp SendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Stage3) != 1 || resp.Stage3[0].Response != "Synthesized answer." {
		t.Errorf("stage3 = %+v", resp.Stage3)
	}

	// Both the user message and the assistant result should be persisted.
	conversation, err := srv.conversations.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(conversation.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(conversation.Messages))
	}
	if conversation.Messages[0].Role != "user" || conversation.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", conversation.Messages[0].Role, conversation.Messages[1].Role)
	}
}

func TestSendMessageValidation(t *testing.T) {
	_, router := newTestServer(t, &fakeRunner{run: sampleRun()})

	rec := doJSON(t, router, http.MethodPost, "/api/conversations", "")
	var created store.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/conversations/"+created.ID+"/message", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing content status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/conversations/missing/message",
		`{"content": "hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation status = %d", rec.Code)
	}
}

func TestSendMessageBusy(t *testing.T) {
	_, router := newTestServer(t, &fakeRunner{err: council.ErrBusy})

	rec := doJSON(t, router, http.MethodPost, "/api/conversations", "")
	var created store.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/conversations/"+created.ID+"/message",
		`{"content": "hi"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("busy status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendMessageStream(t *testing.T) {
	_, router := newTestServer(t, &fakeRunner{run: sampleRun()})

	rec := doJSON(t, router, http.MethodPost, "/api/conversations", "")
	var created store.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/conversations/"+created.ID+"/message/stream",
		`{"content": "hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{`"type":"progress"`, `"stage":"stage1"`, `"type":"complete"`, "Synthesized answer."} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q in:\n%s", want, body)
		}
	}
}

func TestListModelsDisabled(t *testing.T) {
	_, router := newTestServer(t, &fakeRunner{})

	rec := doJSON(t, router, http.MethodGet, "/api/models", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAllowOrigin(t *testing.T) {
	srv := &Server{cfg: Config{}}
	if !srv.allowOrigin("http://localhost:5173") || !srv.allowOrigin("http://127.0.0.1:3000") {
		t.Error("loopback origins should be allowed by default")
	}
	if srv.allowOrigin("https://evil.example.net") {
		t.Error("external origin should be rejected by default")
	}

	srv = &Server{cfg: Config{AllowedOrigins: []string{"https://app.example.net"}}}
	if !srv.allowOrigin("https://app.example.net") {
		t.Error("configured origin should be allowed")
	}
	if srv.allowOrigin("http://localhost:5173") {
		t.Error("loopback should not bypass an explicit allowlist")
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"modelgate/internal/config"
	"modelgate/internal/credentials"
	"modelgate/internal/dispatch"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Config{
		Server: config.ServerConfig{Port: 8080},
		Credentials: map[string]config.StoredCredential{
			"local": {Provider: "custom", APIKey: "test-key"},
		},
	}
	resolver := credentials.NewResolver(cfg.Credentials)
	d := dispatch.New(resolver, dispatch.Timeouts{
		Connect:   5 * time.Second,
		IdleChunk: 5 * time.Second,
	}, nil, nil)

	srv, err := New(cfg, d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

// sseFrame is one parsed event from a text/event-stream body.
type sseFrame struct {
	Event string
	Data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var frame sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame.Data); err != nil {
					t.Fatalf("parse SSE data line %q: %v", line, err)
				}
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

func parseErrorBody(t *testing.T, body string) (message, kind string) {
	t.Helper()
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Kind    string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("parse error body %q: %v", body, err)
	}
	return payload.Error.Message, payload.Error.Kind
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChatStreamEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range []string{
			`{"choices":[{"delta":{"content":"Hel"},"finish_reason":""}]}`,
			`{"choices":[{"delta":{"content":"lo"},"finish_reason":""}]}`,
			"[DONE]",
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			w.(http.Flusher).Flush()
		}
	}))
	defer upstream.Close()

	srv := newTestServer(t)

	body := fmt.Sprintf(`{
		"model": {"provider": "custom", "model_id": "test-model", "endpoint": %q, "credential_ref": "local"},
		"messages": [{"role": "user", "content": "hi"}]
	}`, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	frames := parseSSE(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("got %d frames (%+v), want 2 deltas and a done", len(frames), frames)
	}
	if frames[0].Event != "delta" || frames[0].Data["text"] != "Hel" {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[1].Event != "delta" || frames[1].Data["text"] != "lo" {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if frames[2].Event != "done" {
		t.Errorf("frame 2 = %+v, want done", frames[2])
	}

	id := frames[0].Data["id"]
	if id == "" || id == nil {
		t.Fatal("delta frame carries no stream id")
	}
	for i, f := range frames {
		if f.Data["id"] != id {
			t.Errorf("frame %d id = %v, want %v for the same stream", i, f.Data["id"], id)
		}
	}
}

func TestChatStreamDispatchFailureBecomesErrorFrame(t *testing.T) {
	srv := newTestServer(t)

	body := `{
		"model": {"provider": "no-such-provider"},
		"messages": [{"role": "user", "content": "hi"}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	// The stream was already committed, so the failure arrives as a
	// terminal SSE frame rather than an HTTP error status.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	frames := parseSSE(t, rec.Body.String())
	if len(frames) != 1 || frames[0].Event != "error" {
		t.Fatalf("frames = %+v, want a single error frame", frames)
	}
	if frames[0].Data["kind"] != "invalid-request" {
		t.Errorf("kind = %v, want invalid-request", frames[0].Data["kind"])
	}
}

func TestChatStreamValidationFailures(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{"empty body", "", "request body is required"},
		{"missing messages", `{"model":{"provider":"openai"}}`, "failed validation"},
		{"unknown role", `{"model":{"provider":"openai"},"messages":[{"role":"robot","content":"hi"}]}`, "failed validation"},
		{"missing provider", `{"model":{},"messages":[{"role":"user","content":"hi"}]}`, "failed validation"},
		{"trailing garbage", `{"model":{"provider":"openai"},"messages":[{"role":"user","content":"hi"}]} extra`, "single JSON object"},
	}

	srv := newTestServer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			srv.app.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
			}
			message, kind := parseErrorBody(t, rec.Body.String())
			if kind != "invalid-request" {
				t.Errorf("kind = %q, want invalid-request", kind)
			}
			if !strings.Contains(message, tc.wantMessage) {
				t.Errorf("message %q should mention %q", message, tc.wantMessage)
			}
		})
	}
}

func TestListProvidersCachedFlow(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("response carries no ETag")
	}
	if got := rec.Header().Get("Cache-Control"); got != "private, max-age=3600" {
		t.Errorf("Cache-Control = %q, want the default one-hour window", got)
	}

	var providers []providerSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &providers); err != nil {
		t.Fatalf("parse provider list: %v", err)
	}
	names := make(map[string]bool, len(providers))
	for _, p := range providers {
		names[p.Name] = true
	}
	for _, want := range []string{"openai", "anthropic", "google", "mistral", "groq", "custom"} {
		if !names[want] {
			t.Errorf("provider list missing %s", want)
		}
	}

	// Replay with the validator: the payload is unchanged, so the server
	// answers 304 with an empty body.
	req = httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 body = %q, want empty", rec.Body.String())
	}
	if got := rec.Header().Get("ETag"); got != etag {
		t.Errorf("304 ETag = %q, want %q", got, etag)
	}
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/anthropic/models", nil)
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list []modelSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("parse model list: %v", err)
	}
	found := false
	for _, m := range list {
		if m.ID == "claude-3-5-sonnet-20241022" {
			found = true
			if m.ContextWindow != 200000 {
				t.Errorf("context window = %d, want 200000", m.ContextWindow)
			}
		}
	}
	if !found {
		t.Error("model list missing claude-3-5-sonnet-20241022")
	}
}

func TestListModelsUnknownProvider(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/acme/models", nil)
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", rec.Code, rec.Body.String())
	}
	message, kind := parseErrorBody(t, rec.Body.String())
	if kind != "invalid-request" {
		t.Errorf("kind = %q, want invalid-request", kind)
	}
	if !strings.Contains(message, "acme") {
		t.Errorf("message %q should name the unknown provider", message)
	}
}

func TestNewRejectsNilDispatcher(t *testing.T) {
	cfg := config.Config{Server: config.ServerConfig{Port: 8080}}
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected an error for a nil dispatcher")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	resolver := credentials.NewResolver(nil)
	d := dispatch.New(resolver, dispatch.Timeouts{}, nil, nil)

	cfg := config.Config{Server: config.ServerConfig{Port: 0}}
	if _, err := New(cfg, d); err == nil {
		t.Fatal("expected an error for an invalid port")
	}
}

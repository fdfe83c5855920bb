//go:build !integration

package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"endless-chat/internal/domain"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/usecase"
)

func newTestServer(t *testing.T, uc *mockChatUC) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(NewServer(uc, hub, prometheus.NewRegistry(), newTestLogger()).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerRoutes(t *testing.T) {
	t.Run("should submit the body text", func(t *testing.T) {
		uc := &mockChatUC{}
		srv, _ := newTestServer(t, uc)

		resp := do(t, http.MethodPost, srv.URL+"/v1/submit", `{"text":"hello"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202, but got %d", resp.StatusCode)
		}
		var snap usecase.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.State != usecase.StateSending {
			t.Errorf("expected state sending, but got %q", snap.State)
		}
		if diff := cmp.Diff([]string{"input:hello", "submit"}, uc.Calls()); diff != "" {
			t.Errorf("calls mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should map domain errors to status codes", func(t *testing.T) {
		cases := []struct {
			name string
			uc   *mockChatUC
			path string
			want int
		}{
			{"empty input", &mockChatUC{}, "/v1/submit", http.StatusBadRequest},
			{"in flight", &mockChatUC{submitErr: domain.ErrRequestInFlight}, "/v1/submit", http.StatusConflict},
			{"nothing to retry", &mockChatUC{retryErr: domain.ErrNothingToRetry}, "/v1/retry", http.StatusConflict},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				srv, _ := newTestServer(t, tc.uc)
				resp := do(t, http.MethodPost, srv.URL+tc.path, "")
				if resp.StatusCode != tc.want {
					t.Errorf("expected %d, but got %d", tc.want, resp.StatusCode)
				}
			})
		}
	})

	t.Run("should reject a locked system role", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockChatUC{roleErr: domain.ErrSystemRoleLocked})
		resp := do(t, http.MethodPut, srv.URL+"/v1/system-role", `{"role":"pirate"}`)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("expected 409, but got %d", resp.StatusCode)
		}
	})

	t.Run("should reject malformed bodies", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockChatUC{})
		resp := do(t, http.MethodPut, srv.URL+"/v1/input", `{nope`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, but got %d", resp.StatusCode)
		}
	})

	t.Run("should report whether stop cancelled a request", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockChatUC{stopResult: true})
		resp := do(t, http.MethodPost, srv.URL+"/v1/stop", "")
		var body map[string]bool
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !body["stopped"] {
			t.Error("expected stopped=true")
		}
	})

	t.Run("should toggle background and suggestions", func(t *testing.T) {
		uc := &mockChatUC{}
		srv, _ := newTestServer(t, uc)
		do(t, http.MethodPut, srv.URL+"/v1/background", `{"background":true}`)
		do(t, http.MethodPut, srv.URL+"/v1/suggestions", `{"enabled":true}`)

		snap := uc.Snapshot()
		if !snap.Background || !snap.SuggestionsEnabled {
			t.Errorf("expected both flags set, but got %+v", snap)
		}
	})

	t.Run("should serve health, metrics and a trace id", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockChatUC{})
		resp := do(t, http.MethodGet, srv.URL+"/healthz", "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, but got %d", resp.StatusCode)
		}
		if resp.Header.Get("X-Request-Id") == "" {
			t.Error("expected an X-Request-Id header")
		}
		if m := do(t, http.MethodGet, srv.URL+"/metrics", ""); m.StatusCode != http.StatusOK {
			t.Errorf("expected 200 from /metrics, but got %d", m.StatusCode)
		}
	})

	t.Run("should 405 on the wrong method", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockChatUC{})
		resp := do(t, http.MethodGet, srv.URL+"/v1/submit", "")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, but got %d", resp.StatusCode)
		}
	})
}

func TestServerEvents(t *testing.T) {
	uc := &mockChatUC{snap: usecase.Snapshot{Title: "Endless Chat"}}
	srv, hub := newTestServer(t, uc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, but got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() (string, string) {
		t.Helper()
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return name, data
			}
		}
	}

	name, data := next()
	if name != "state" || !strings.Contains(data, `"title":"Endless Chat"`) {
		t.Fatalf("expected initial state event, but got %s %s", name, data)
	}

	// the subscription is registered before the first event is written
	_ = hub.Notify(context.Background(), adapter.Notice{Level: adapter.NoticeWarning, Text: "hate detected!"})
	name, data = next()
	if name != "notice" || !strings.Contains(data, "hate detected!") {
		t.Errorf("expected notice event, but got %s %s", name, data)
	}

	hub.PublishSnapshot(usecase.Snapshot{Title: "Greeting"})
	name, data = next()
	if name != "state" || !strings.Contains(data, `"title":"Greeting"`) {
		t.Errorf("expected state event, but got %s %s", name, data)
	}
}

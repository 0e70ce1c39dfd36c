package trustapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agntor/agntor-mcp/internal/trustapi"
)

// ── Stub backend ─────────────────────────────────────────────────────────

func stubBackend(t *testing.T) (*httptest.Server, *map[string]any) {
	t.Helper()
	lastStatus := map[string]any{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "missing":
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		case "broken":
			http.Error(w, `{"error":"boom"}`, http.StatusBadGateway)
		case "garbled":
			w.Write([]byte(`{"trust": [`)) //nolint:errcheck
		case "vanished":
			w.Write([]byte("null\n")) //nolint:errcheck
		default:
			if r.Header.Get("x-agntor-api-key") != "upstream-key" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"identity": map[string]any{"agent_id": r.PathValue("id")},
				"trust":    map[string]any{"level": "Gold", "certified": true},
				"status":   map[string]any{"active": true},
			})
		}
	})

	mux.HandleFunc("GET /v1/agents/{id}/trust-score", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "vanished" {
			w.Write([]byte(" null ")) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"score": 72, "level": "Silver"}) //nolint:errcheck
	})

	mux.HandleFunc("POST /v1/agents/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&lastStatus) //nolint:errcheck
		lastStatus["id"] = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastStatus
}

func newClient(t *testing.T, base string) *trustapi.Client {
	t.Helper()
	c, err := trustapi.New(base, 5*time.Second, trustapi.WithAPIKey("upstream-key"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestFetchAgent_ok(t *testing.T) {
	srv, _ := stubBackend(t)
	c := newClient(t, srv.URL)

	raw, err := c.FetchAgent(context.Background(), "agent-12345")
	if err != nil {
		t.Fatalf("FetchAgent() error: %v", err)
	}
	if raw.Identity == nil || raw.Identity.AgentID != "agent-12345" {
		t.Errorf("unexpected identity: %+v", raw.Identity)
	}
	if raw.Trust == nil || raw.Trust.Level != "Gold" {
		t.Errorf("unexpected trust: %+v", raw.Trust)
	}
}

func TestFetchAgent_notFound(t *testing.T) {
	srv, _ := stubBackend(t)
	c := newClient(t, srv.URL)

	_, err := c.FetchAgent(context.Background(), "missing")
	if !errors.Is(err, trustapi.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetch_nullBodyIsNotFound(t *testing.T) {
	srv, _ := stubBackend(t)
	c := newClient(t, srv.URL)

	if _, err := c.FetchAgent(context.Background(), "vanished"); !errors.Is(err, trustapi.ErrNotFound) {
		t.Errorf("FetchAgent: expected ErrNotFound, got %v", err)
	}
	if _, err := c.FetchScore(context.Background(), "vanished"); !errors.Is(err, trustapi.ErrNotFound) {
		t.Errorf("FetchScore: expected ErrNotFound, got %v", err)
	}
}

func TestFetchAgent_serverError(t *testing.T) {
	srv, _ := stubBackend(t)
	c := newClient(t, srv.URL)

	_, err := c.FetchAgent(context.Background(), "broken")
	var se *trustapi.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
}

func TestFetchAgent_decodeError(t *testing.T) {
	srv, _ := stubBackend(t)
	c := newClient(t, srv.URL)

	if _, err := c.FetchAgent(context.Background(), "garbled"); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestFetchAgent_unreachable(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1")
	if _, err := c.FetchAgent(context.Background(), "agent-12345"); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}

func TestFetchScore(t *testing.T) {
	srv, _ := stubBackend(t)
	c := newClient(t, srv.URL)

	raw, err := c.FetchScore(context.Background(), "agent-12345")
	if err != nil {
		t.Fatalf("FetchScore() error: %v", err)
	}
	if raw.Score == nil || *raw.Score != 72 {
		t.Errorf("Score: got %v, want 72", raw.Score)
	}
	if raw.Factors != nil {
		t.Errorf("Factors: expected nil when absent, got %+v", raw.Factors)
	}
}

func TestSetActive(t *testing.T) {
	srv, last := stubBackend(t)
	c := newClient(t, srv.URL)

	if err := c.SetActive(context.Background(), "agent-12345", false, "compromised"); err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}
	got := *last
	if got["id"] != "agent-12345" || got["active"] != false || got["reason"] != "compromised" {
		t.Errorf("unexpected status request: %+v", got)
	}
}

func TestNew_requiresBaseURL(t *testing.T) {
	if _, err := trustapi.New("", time.Second); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

func TestWithClientCredentials_validation(t *testing.T) {
	if _, err := trustapi.New("https://api.example.com", time.Second, trustapi.WithClientCredentials("id", "", "")); err == nil {
		t.Fatal("expected error for incomplete client credentials")
	}
	if _, err := trustapi.New("https://api.example.com", time.Second,
		trustapi.WithClientCredentials("id", "secret", "https://auth.example.com/token")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

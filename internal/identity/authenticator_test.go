package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agntor/agntor-mcp/internal/apikeys"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// stubKeyStore is an in-test KeyStore with call accounting.
type stubKeyStore struct {
	mu        sync.Mutex
	keys      map[string]*apikeys.APIKey
	lookupErr error
	touchErr  error
	lookups   int
	touched   []string
}

func (s *stubKeyStore) Lookup(_ context.Context, key string) (*apikeys.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	k, ok := s.keys[key]
	if !ok {
		return nil, apikeys.ErrNotFound
	}
	return k, nil
}

func (s *stubKeyStore) TouchLastUsed(_ context.Context, key string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, key)
	return s.touchErr
}

func (s *stubKeyStore) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func newStubStore() *stubKeyStore {
	return &stubKeyStore{keys: map[string]*apikeys.APIKey{
		"agk_live":    {Name: "live", IsActive: true},
		"agk_retired": {Name: "retired", IsActive: false},
	}}
}

func TestAuthenticate_DevelopmentModeAllowsNoCredential(t *testing.T) {
	a := NewAuthenticator("", newStubStore(), zap.NewNop())
	d := a.Authenticate(context.Background(), "")
	if !d.Allowed || d.Method != AuthDevelopment {
		t.Errorf("Decision = %+v, want allowed via development", d)
	}
}

func TestAuthenticate_MissingKeyWhenAdminConfigured(t *testing.T) {
	a := NewAuthenticator("admin-secret", newStubStore(), zap.NewNop())
	d := a.Authenticate(context.Background(), "")
	if d.Allowed {
		t.Fatal("expected rejection")
	}
	if !errors.Is(d.Reason, ErrMissingKey) {
		t.Errorf("Reason = %v, want ErrMissingKey", d.Reason)
	}
}

func TestAuthenticate_AdminKeySkipsStore(t *testing.T) {
	store := newStubStore()
	a := NewAuthenticator("admin-secret", store, zap.NewNop())
	d := a.Authenticate(context.Background(), "admin-secret")
	if !d.Allowed || d.Method != AuthAdmin {
		t.Errorf("Decision = %+v, want allowed via admin", d)
	}
	if n := store.lookupCount(); n != 0 {
		t.Errorf("store lookups = %d, want 0", n)
	}
}

func TestAuthenticate_ActiveStoredKey(t *testing.T) {
	store := newStubStore()
	a := NewAuthenticator("admin-secret", store, zap.NewNop())
	d := a.Authenticate(context.Background(), "agk_live")
	a.Wait()

	if !d.Allowed || d.Method != AuthAPIKey {
		t.Errorf("Decision = %+v, want allowed via api_key", d)
	}
	if len(store.touched) != 1 || store.touched[0] != "agk_live" {
		t.Errorf("touched = %v, want [agk_live]", store.touched)
	}
}

func TestAuthenticate_StoredKeyWithoutAdminKey(t *testing.T) {
	a := NewAuthenticator("", newStubStore(), zap.NewNop())
	d := a.Authenticate(context.Background(), "agk_live")
	a.Wait()
	if !d.Allowed || d.Method != AuthAPIKey {
		t.Errorf("Decision = %+v, want allowed via api_key", d)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		lookupErr  error
	}{
		{"inactive key", "agk_retired", nil},
		{"unknown key", "agk_nope", nil},
		{"store failure", "agk_live", errors.New("connection refused")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newStubStore()
			store.lookupErr = tc.lookupErr
			a := NewAuthenticator("admin-secret", store, zap.NewNop())

			d := a.Authenticate(context.Background(), tc.credential)
			a.Wait()
			if d.Allowed {
				t.Fatal("expected rejection")
			}
			if !errors.Is(d.Reason, ErrInvalidKey) {
				t.Errorf("Reason = %v, want ErrInvalidKey", d.Reason)
			}
			if len(store.touched) != 0 {
				t.Errorf("touched = %v, want none", store.touched)
			}
		})
	}
}

func TestAuthenticate_NilStoreRejectsCredential(t *testing.T) {
	a := NewAuthenticator("", nil, zap.NewNop())
	d := a.Authenticate(context.Background(), "agk_live")
	if d.Allowed || !errors.Is(d.Reason, ErrInvalidKey) {
		t.Errorf("Decision = %+v, want InvalidKey rejection", d)
	}
}

func TestAuthenticate_TouchFailureDoesNotAffectDecision(t *testing.T) {
	store := newStubStore()
	store.touchErr = errors.New("write timeout")
	a := NewAuthenticator("admin-secret", store, zap.NewNop())

	d := a.Authenticate(context.Background(), "agk_live")
	a.Wait()
	if !d.Allowed {
		t.Errorf("Decision = %+v, want allowed despite touch failure", d)
	}
}

func TestAuthenticate_RecordsDecisions(t *testing.T) {
	var got []Decision
	a := NewAuthenticator("admin-secret", newStubStore(), zap.NewNop())
	a.SetDecisionRecorder(func(d Decision) { got = append(got, d) })

	a.Authenticate(context.Background(), "admin-secret")
	a.Authenticate(context.Background(), "")

	if len(got) != 2 {
		t.Fatalf("recorded %d decisions, want 2", len(got))
	}
	if !got[0].Allowed || got[1].Allowed {
		t.Errorf("recorded = %+v", got)
	}
}

func TestCredentialFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"none", nil, ""},
		{"dedicated header", map[string]string{HeaderAPIKey: "agk_a"}, "agk_a"},
		{"bearer", map[string]string{HeaderAuthorization: "Bearer agk_b"}, "agk_b"},
		{"bearer lowercase", map[string]string{HeaderAuthorization: "bearer agk_c"}, "agk_c"},
		{"dedicated wins", map[string]string{HeaderAPIKey: "agk_a", HeaderAuthorization: "Bearer agk_b"}, "agk_a"},
		{"basic passed through", map[string]string{HeaderAuthorization: "Basic dXNlcjpwYXNz"}, "Basic dXNlcjpwYXNz"},
		{"bare bearer passed through", map[string]string{HeaderAuthorization: "Bearer "}, "Bearer"},
		{"blank authorization", map[string]string{HeaderAuthorization: "   "}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tc.headers {
				h.Set(k, v)
			}
			if got := CredentialFromHeaders(h); got != tc.want {
				t.Errorf("CredentialFromHeaders = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequireAPIKey_DevelopmentModeRejectsForeignScheme(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a := NewAuthenticator("", newStubStore(), zap.NewNop())
	r := gin.New()
	r.GET("/protected", a.RequireAPIKey(), func(c *gin.Context) {
		c.String(http.StatusOK, string(AuthMethodFromCtx(c)))
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(HeaderAuthorization, "Basic Zm9vOmJhcg==")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusUnauthorized, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["reason"] != "InvalidKey" {
		t.Errorf("reason = %q, want InvalidKey", body["reason"])
	}
}

func TestRequireAPIKey_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a := NewAuthenticator("admin-secret", newStubStore(), zap.NewNop())
	r := gin.New()
	r.GET("/protected", a.RequireAPIKey(), func(c *gin.Context) {
		c.String(http.StatusOK, string(AuthMethodFromCtx(c)))
	})

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantBody   string
		wantReason string
	}{
		{"missing", "", "", http.StatusUnauthorized, "", "MissingKey"},
		{"invalid", HeaderAPIKey, "agk_nope", http.StatusUnauthorized, "", "InvalidKey"},
		{"admin", HeaderAPIKey, "admin-secret", http.StatusOK, "admin", ""},
		{"bearer key", HeaderAuthorization, "Bearer agk_live", http.StatusOK, "api_key", ""},
		{"basic scheme", HeaderAuthorization, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "", "InvalidKey"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			a.Wait()

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if tc.wantReason != "" {
				var body map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body["reason"] != tc.wantReason {
					t.Errorf("reason = %q, want %q", body["reason"], tc.wantReason)
				}
				if body["error"] == "" {
					t.Error("error message is empty")
				}
				return
			}
			if w.Body.String() != tc.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tc.wantBody)
			}
		})
	}
}

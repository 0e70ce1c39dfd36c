package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agntor/agntor-mcp/internal/apikeys"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Header names consulted for the inbound credential.
const (
	HeaderAPIKey        = "x-agntor-api-key"
	HeaderAuthorization = "Authorization"
)

// Machine-checkable rejection reasons. Their messages are the reason strings
// returned to clients.
var (
	ErrMissingKey = errors.New("MissingKey")
	ErrInvalidKey = errors.New("InvalidKey")
)

// AuthMethod names the step of the chain that admitted a request.
type AuthMethod string

const (
	AuthDevelopment AuthMethod = "development"
	AuthAdmin       AuthMethod = "admin"
	AuthAPIKey      AuthMethod = "api_key"
)

const ctxAuthMethod = "agntor_auth_method"

// KeyStore is the persisted API key collaborator. Lookup returns
// apikeys.ErrNotFound for unknown keys. *apikeys.PostgresStore,
// *apikeys.RedisStore and *apikeys.MemoryStore satisfy this interface.
type KeyStore interface {
	Lookup(ctx context.Context, key string) (*apikeys.APIKey, error)
	TouchLastUsed(ctx context.Context, key string, at time.Time) error
}

// Decision is the outcome of authenticating one request.
type Decision struct {
	Allowed bool
	Method  AuthMethod // set when Allowed
	Reason  error      // ErrMissingKey or ErrInvalidKey when rejected
}

// DecisionRecorder is an optional callback for recording authentication outcomes.
type DecisionRecorder func(d Decision)

// Authenticator decides whether an inbound request may proceed. The chain is:
//
//  1. no credential and no admin key configured → allow (development mode)
//  2. no credential and admin key configured    → reject MissingKey
//  3. credential equals the admin key           → allow, no store lookup
//  4. credential found in the store and active  → allow, record last use
//  5. anything else, including store errors     → reject InvalidKey
type Authenticator struct {
	adminKey     string
	store        KeyStore
	touchTimeout time.Duration
	onDecision   DecisionRecorder
	bg           sync.WaitGroup
	logger       *zap.Logger
}

// NewAuthenticator creates an Authenticator. store may be nil, in which case
// only the admin key (or development mode) can admit requests.
func NewAuthenticator(adminKey string, store KeyStore, logger *zap.Logger) *Authenticator {
	if adminKey == "" {
		logger.Warn("no admin key configured: requests without credentials are ALLOWED (development mode). " +
			"Set AGNTOR_ADMIN_KEY to require authentication.")
	}
	return &Authenticator{
		adminKey:     adminKey,
		store:        store,
		touchTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// SetDecisionRecorder configures the metrics callback.
func (a *Authenticator) SetDecisionRecorder(fn DecisionRecorder) {
	a.onDecision = fn
}

// CredentialFromHeaders extracts the credential from the dedicated header, or
// from a Bearer Authorization header. Any other Authorization value is
// returned as is, so it is checked and rejected rather than treated as
// absent. It returns "" only when neither header is present.
func CredentialFromHeaders(h http.Header) string {
	if key := strings.TrimSpace(h.Get(HeaderAPIKey)); key != "" {
		return key
	}
	auth := strings.TrimSpace(h.Get(HeaderAuthorization))
	const bearer = "Bearer "
	if len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		if token := strings.TrimSpace(auth[len(bearer):]); token != "" {
			return token
		}
	}
	return auth
}

// Authenticate runs the chain for one credential. It never returns an error:
// every failure is a rejecting Decision.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) Decision {
	d := a.decide(ctx, credential)
	if a.onDecision != nil {
		a.onDecision(d)
	}
	return d
}

func (a *Authenticator) decide(ctx context.Context, credential string) Decision {
	if credential == "" {
		if a.adminKey == "" {
			return Decision{Allowed: true, Method: AuthDevelopment}
		}
		return Decision{Reason: ErrMissingKey}
	}

	if a.adminKey != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(a.adminKey)) == 1 {
		return Decision{Allowed: true, Method: AuthAdmin}
	}

	if a.store == nil {
		return Decision{Reason: ErrInvalidKey}
	}

	key, err := a.store.Lookup(ctx, credential)
	if err != nil {
		if !errors.Is(err, apikeys.ErrNotFound) {
			a.logger.Error("api key lookup failed; rejecting request", zap.Error(err))
		}
		return Decision{Reason: ErrInvalidKey}
	}
	if key == nil || !key.IsActive {
		return Decision{Reason: ErrInvalidKey}
	}

	a.touch(credential)
	return Decision{Allowed: true, Method: AuthAPIKey}
}

// touch records the key's last use in the background. It runs detached from
// the request context and its outcome is only logged.
func (a *Authenticator) touch(credential string) {
	at := time.Now().UTC()
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.touchTimeout)
		defer cancel()
		if err := a.store.TouchLastUsed(ctx, credential, at); err != nil {
			a.logger.Warn("failed to record api key last use", zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight last-use updates finish.
func (a *Authenticator) Wait() {
	a.bg.Wait()
}

// RequireAPIKey returns a Gin middleware that enforces the authentication chain.
// On success it stores the admitting AuthMethod in the context.
func (a *Authenticator) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := a.Authenticate(c.Request.Context(), CredentialFromHeaders(c.Request.Header))
		if !d.Allowed {
			msg := "invalid API key"
			if errors.Is(d.Reason, ErrMissingKey) {
				msg = "API key required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  msg,
				"reason": d.Reason.Error(),
			})
			return
		}
		c.Set(ctxAuthMethod, d.Method)
		c.Next()
	}
}

// AuthMethodFromCtx returns the AuthMethod injected by RequireAPIKey.
func AuthMethodFromCtx(c *gin.Context) AuthMethod {
	v, _ := c.Get(ctxAuthMethod)
	m, _ := v.(AuthMethod)
	return m
}

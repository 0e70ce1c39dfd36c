package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/agntor/agntor-mcp/internal/registry/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTicketValidity is the ticket lifetime when the caller does not specify one.
const DefaultTicketValidity = 300 * time.Second

// DefaultIssuer is the "iss" claim when none is configured.
const DefaultIssuer = "agntor-trust-network"

// TicketClaims are the JWT claims of an audit ticket. They carry everything a
// relying party needs to authorize an operation bounded by the agent's
// constraints without calling back into the trust network.
type TicketClaims struct {
	jwt.RegisteredClaims
	AgentID     string            `json:"agentId"`
	AuditLevel  model.AuditLevel  `json:"auditLevel"`
	Constraints model.Constraints `json:"constraints"`
}

// Ticket is a signed ticket together with its decoded lifetime.
type Ticket struct {
	Token      string           `json:"ticket"`
	AgentID    string           `json:"agentId"`
	AuditLevel model.AuditLevel `json:"auditLevel"`
	IssuedAt   time.Time        `json:"issuedAt"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	Issuer     string           `json:"issuer"`
}

// Lifetime returns ExpiresAt - IssuedAt.
func (t *Ticket) Lifetime() time.Duration { return t.ExpiresAt.Sub(t.IssuedAt) }

// TicketIssuer signs and verifies audit tickets with HS256.
//
// It is a pure signer: it performs no existence, certification or kill-switch
// checks. Callers must gate issuance before calling Issue.
type TicketIssuer struct {
	key             SigningKey
	issuer          string
	defaultValidity time.Duration
	now             func() time.Time
}

// NewTicketIssuer creates a TicketIssuer.
//
//	issuer is the "iss" claim (default: agntor-trust-network).
//	defaultValidity is the lifetime used when Issue is called with 0 (default: 300s).
func NewTicketIssuer(key SigningKey, issuer string, defaultValidity time.Duration) *TicketIssuer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if defaultValidity <= 0 {
		defaultValidity = DefaultTicketValidity
	}
	return &TicketIssuer{
		key:             key,
		issuer:          issuer,
		defaultValidity: defaultValidity,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs a ticket for agentID. validity <= 0 selects the default lifetime.
func (t *TicketIssuer) Issue(agentID string, level model.AuditLevel, constraints model.Constraints, validity time.Duration) (*Ticket, error) {
	if validity <= 0 {
		validity = t.defaultValidity
	}
	now := t.now().Truncate(time.Second)
	exp := now.Add(validity)

	claims := TicketClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		AgentID:     agentID,
		AuditLevel:  level,
		Constraints: constraints,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key.secret)
	if err != nil {
		return nil, fmt.Errorf("sign ticket: %w", err)
	}
	return &Ticket{
		Token:      signed,
		AgentID:    agentID,
		AuditLevel: level,
		IssuedAt:   now,
		ExpiresAt:  exp,
		Issuer:     t.issuer,
	}, nil
}

// Verify parses and validates a ticket, returning its claims on success.
func (t *TicketIssuer) Verify(tokenStr string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&TicketClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.key.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify ticket: %w", err)
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid ticket claims")
	}
	return claims, nil
}

// Issuer returns the configured "iss" claim.
func (t *TicketIssuer) Issuer() string { return t.issuer }

// DefaultValidity returns the lifetime used when none is requested.
func (t *TicketIssuer) DefaultValidity() time.Duration { return t.defaultValidity }

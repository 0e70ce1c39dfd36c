package identity

import (
	"errors"

	"go.uber.org/zap"
)

// developmentSecret signs tickets when no secret is configured. Tickets signed
// with it carry no security guarantee.
const developmentSecret = "agntor-development-signing-key-do-not-use-in-production"

// ErrDevelopmentKeyInProduction is returned when no ticket secret is set in a
// production environment.
var ErrDevelopmentKeyInProduction = errors.New("ticket signing secret is not configured; refusing development key in production")

// SigningKey is the HMAC secret used to sign tickets. It is created once at
// process start and is either a configured key or the development key.
type SigningKey struct {
	secret      []byte
	development bool
}

// NewSigningKey returns a configured key for a non-empty secret. For an empty
// secret it returns the DevelopmentSigningKey and logs a warning, or fails when
// production is true.
func NewSigningKey(secret string, production bool, logger *zap.Logger) (SigningKey, error) {
	if secret != "" {
		return SigningKey{secret: []byte(secret)}, nil
	}
	if production {
		return SigningKey{}, ErrDevelopmentKeyInProduction
	}
	logger.Warn("ticket signing secret not configured; using DEVELOPMENT signing key. " +
		"Tickets issued by this process are forgeable. Set AGNTOR_TICKET_SECRET.")
	return DevelopmentSigningKey(), nil
}

// DevelopmentSigningKey returns the fixed development key.
func DevelopmentSigningKey() SigningKey {
	return SigningKey{secret: []byte(developmentSecret), development: true}
}

// IsDevelopment reports whether this is the development key.
func (k SigningKey) IsDevelopment() bool { return k.development }

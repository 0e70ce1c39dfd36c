package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the trust core.
const (
	EventAgentKillSwitch = "agent.kill_switch"
)

// SignatureHeader carries the HMAC-SHA256 signature of the request body.
const SignatureHeader = "X-Agntor-Signature"

// Subscription is a relying party that receives events. Subscriptions are
// static and come from configuration.
type Subscription struct {
	URL    string   `mapstructure:"url"`
	Events []string `mapstructure:"events"` // empty = all events
}

// Wants reports whether the subscription receives eventType.
func (s Subscription) Wants(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookEvent is the JSON body POSTed to subscribers.
type WebhookEvent struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery is the outcome of a single delivery attempt.
type Delivery struct {
	EventID    uuid.UUID
	EventType  string
	URL        string
	StatusCode int
	Attempt    int
	Success    bool
	Error      string
}

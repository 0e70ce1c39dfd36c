// Package webhooks notifies relying parties of trust events, such as an
// agent's kill switch being activated, so they can drop outstanding tickets.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// defaultDelays are the waits before attempts 1, 2 and 3.
var defaultDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second}

// Service signs and delivers events to the configured subscriptions.
// Deliveries run in the background and never report back to the caller.
type Service struct {
	subs       []Subscription
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	bg         sync.WaitGroup
	logger     *zap.Logger
}

// NewService creates a new webhook Service. An empty secret sends unsigned events.
func NewService(subs []Subscription, secret string, logger *zap.Logger) *Service {
	if secret == "" && len(subs) > 0 {
		logger.Warn("webhook secret not set: events are delivered unsigned")
	}
	return &Service{
		subs:       subs,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     defaultDelays,
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// Dispatch fans out an event to all matching subscriptions and returns how
// many deliveries were started. Delivery is detached from ctx: it continues
// after the triggering request ends.
func (s *Service) Dispatch(_ context.Context, eventType string, payload map[string]string) int {
	event := WebhookEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return 0
	}

	matched := 0
	for _, sub := range s.subs {
		if !sub.Wants(eventType) {
			continue
		}
		matched++
		s.bg.Add(1)
		go func(url string) {
			defer s.bg.Done()
			s.deliver(url, event, body)
		}(sub.URL)
	}
	return matched
}

// Wait blocks until all in-flight deliveries have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

// deliver sends the event to a single subscriber with retries.
func (s *Service) deliver(url string, event WebhookEvent, body []byte) {
	signature := ""
	if s.secret != "" {
		signature = signPayload(body, s.secret)
	}

	for i, delay := range s.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		d := s.doDelivery(url, body, signature)
		d.EventID, d.EventType, d.Attempt = event.ID, event.Type, i+1

		if s.onMetrics != nil {
			s.onMetrics(d.Success)
		}
		if d.Success {
			s.logger.Info("webhook: delivered",
				zap.String("url", url),
				zap.String("event", event.Type),
				zap.Int("attempt", d.Attempt),
			)
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", d.Attempt),
			zap.String("error", d.Error),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(url string, body []byte, signature string) Delivery {
	d := Delivery{URL: url}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return d
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC-SHA256 of body under secret.
func VerifySignature(body []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(signPayload(body, secret)))
}

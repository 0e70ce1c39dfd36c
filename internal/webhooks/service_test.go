package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type received struct {
	body      []byte
	signature string
}

func newReceiver(t *testing.T, failFirst int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu    sync.Mutex
		got   []received
		calls int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{body: body, signature: r.Header.Get(SignatureHeader)})
		mu.Unlock()
		if int(n) <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func fastService(subs []Subscription, secret string) *Service {
	s := NewService(subs, secret, zap.NewNop())
	s.delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	return s
}

func TestDispatch_SignsAndDelivers(t *testing.T) {
	srv, got := newReceiver(t, 0)
	s := fastService([]Subscription{{URL: srv.URL}}, "whsec")

	if n := s.Dispatch(t.Context(), EventAgentKillSwitch, map[string]string{"agent_id": "agent-12345"}); n != 1 {
		t.Errorf("Dispatch matched %d subscriptions, want 1", n)
	}
	s.Wait()

	deliveries := got()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	d := deliveries[0]
	if !VerifySignature(d.body, d.signature, "whsec") {
		t.Errorf("signature %q does not verify", d.signature)
	}

	var event WebhookEvent
	if err := json.Unmarshal(d.body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != EventAgentKillSwitch {
		t.Errorf("Type = %q", event.Type)
	}
	if event.Payload["agent_id"] != "agent-12345" {
		t.Errorf("Payload = %v", event.Payload)
	}
}

func TestDispatch_RetriesUntilSuccess(t *testing.T) {
	srv, got := newReceiver(t, 2)
	s := fastService([]Subscription{{URL: srv.URL}}, "whsec")

	var okCount, failCount int32
	s.SetMetricsRecorder(func(success bool) {
		if success {
			atomic.AddInt32(&okCount, 1)
		} else {
			atomic.AddInt32(&failCount, 1)
		}
	})

	s.Dispatch(t.Context(), EventAgentKillSwitch, nil)
	s.Wait()

	if n := len(got()); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
	if okCount != 1 || failCount != 2 {
		t.Errorf("metrics ok=%d fail=%d, want 1/2", okCount, failCount)
	}
}

func TestDispatch_GivesUpAfterThreeAttempts(t *testing.T) {
	srv, got := newReceiver(t, 10)
	s := fastService([]Subscription{{URL: srv.URL}}, "whsec")

	s.Dispatch(t.Context(), EventAgentKillSwitch, nil)
	s.Wait()

	if n := len(got()); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestDispatch_FiltersByEvent(t *testing.T) {
	srv, got := newReceiver(t, 0)
	s := fastService([]Subscription{{URL: srv.URL, Events: []string{"agent.other"}}}, "whsec")

	if n := s.Dispatch(t.Context(), EventAgentKillSwitch, nil); n != 0 {
		t.Errorf("Dispatch matched %d subscriptions, want 0", n)
	}
	s.Wait()

	if n := len(got()); n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
}

func TestDispatch_NoSubscriptions(t *testing.T) {
	s := fastService(nil, "")
	if n := s.Dispatch(t.Context(), EventAgentKillSwitch, map[string]string{"agent_id": "agent-12345"}); n != 0 {
		t.Errorf("Dispatch matched %d subscriptions, want 0", n)
	}
	s.Wait()
}

func TestDispatch_UnsignedWithoutSecret(t *testing.T) {
	srv, got := newReceiver(t, 0)
	s := fastService([]Subscription{{URL: srv.URL}}, "")

	s.Dispatch(t.Context(), EventAgentKillSwitch, nil)
	s.Wait()

	deliveries := got()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	if deliveries[0].signature != "" {
		t.Errorf("signature = %q, want none", deliveries[0].signature)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"agent.kill_switch"}`)
	sig := signPayload(body, "s1")
	if !VerifySignature(body, sig, "s1") {
		t.Error("valid signature rejected")
	}
	if VerifySignature(body, sig, "s2") {
		t.Error("signature accepted under wrong secret")
	}
	if VerifySignature([]byte(`{}`), sig, "s1") {
		t.Error("signature accepted for different body")
	}
}

func TestSubscription_Wants(t *testing.T) {
	all := Subscription{URL: "https://rp.example"}
	if !all.Wants(EventAgentKillSwitch) {
		t.Error("empty Events should match everything")
	}
	some := Subscription{URL: "https://rp.example", Events: []string{EventAgentKillSwitch}}
	if !some.Wants(EventAgentKillSwitch) || some.Wants("agent.other") {
		t.Error("Events filter mismatch")
	}
}

package mcpbridge_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agntor/agntor-mcp/internal/identity"
	"github.com/agntor/agntor-mcp/internal/mcpbridge"
	"github.com/agntor/agntor-mcp/internal/registry/model"
	"github.com/agntor/agntor-mcp/internal/registry/service"
)

// stubTrust is a canned TrustService. Agents in killed have an active kill switch.
type stubTrust struct {
	agents       map[string]model.AgentRecord
	killed       map[string]bool
	upstreamDown bool

	lastValidity time.Duration
	lastKill     struct {
		agentID    string
		reason     string
		invalidate bool
	}
}

func newStubTrust() *stubTrust {
	return &stubTrust{
		agents: map[string]model.AgentRecord{
			"agent-12345": {AgentID: "agent-12345", AuditLevel: model.AuditLevelGold, TrustScore: 87.5},
		},
		killed: map[string]bool{},
	}
}

func (s *stubTrust) GetAgent(_ context.Context, id string) (*model.AgentRecord, error) {
	if s.upstreamDown {
		return nil, service.ErrUpstream
	}
	rec, ok := s.agents[id]
	if !ok {
		return nil, service.ErrAgentNotFound
	}
	rec.KillSwitchActive = s.killed[id]
	return &rec, nil
}

func (s *stubTrust) CheckCertification(ctx context.Context, id string) *service.CertificationResult {
	rec, err := s.GetAgent(ctx, id)
	if err != nil {
		return &service.CertificationResult{AgentID: id}
	}
	killed := rec.KillSwitchActive
	return &service.CertificationResult{
		Certified:        !killed,
		AgentID:          id,
		AuditLevel:       rec.AuditLevel,
		KillSwitchActive: &killed,
	}
}

func (s *stubTrust) Score(_ context.Context, id string) (*model.TrustScore, error) {
	if _, ok := s.agents[id]; !ok {
		return nil, service.ErrAgentNotFound
	}
	return &model.TrustScore{AgentID: id, Score: 87.5, Level: model.AuditLevelGold, Recommendation: model.RecommendApprove}, nil
}

func (s *stubTrust) IssueTicket(ctx context.Context, id string, validity time.Duration) (*identity.Ticket, error) {
	s.lastValidity = validity
	rec, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.KillSwitchActive {
		return nil, service.ErrKillSwitchActive
	}
	if validity == 0 {
		validity = 300 * time.Second
	}
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return &identity.Ticket{Token: "tok", AgentID: id, AuditLevel: rec.AuditLevel, IssuedAt: now, ExpiresAt: now.Add(validity)}, nil
}

func (s *stubTrust) VerifyTicket(token string) (*identity.TicketClaims, error) {
	if token != "tok" {
		return nil, service.ErrInvalidTicket
	}
	return &identity.TicketClaims{AgentID: "agent-12345", AuditLevel: model.AuditLevelGold}, nil
}

func (s *stubTrust) ActivateKillSwitch(_ context.Context, id, reason string, invalidate bool) (*service.KillSwitchResult, error) {
	if _, ok := s.agents[id]; !ok {
		return nil, service.ErrAgentNotFound
	}
	s.killed[id] = true
	s.lastKill.agentID, s.lastKill.reason, s.lastKill.invalidate = id, reason, invalidate
	return &service.KillSwitchResult{AgentID: id, KillSwitchActive: true, TicketsInvalidated: invalidate, Reason: reason}, nil
}

func call(t *testing.T, r *mcpbridge.ToolRegistry, name, args string) mcpbridge.ToolResult {
	t.Helper()
	return r.Call(context.Background(), name, json.RawMessage(args))
}

// structured round-trips StructuredContent through JSON so tests can inspect it
// the way a client would.
func structured(t *testing.T, res mcpbridge.ToolResult) map[string]any {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", res.Content[0].Text)
	}
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structuredContent: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("structuredContent is not an object: %v", err)
	}
	return m
}

func TestDefinitions(t *testing.T) {
	r := mcpbridge.NewToolRegistry(newStubTrust())
	want := []string{
		"get_agent_record", "is_agent_certified", "get_trust_score",
		"issue_audit_ticket", "verify_audit_ticket", "activate_kill_switch",
	}
	defs := r.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d tools, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("tool[%d] = %q, want %q", i, defs[i].Name, name)
		}
		if defs[i].InputSchema["type"] != "object" {
			t.Errorf("%s: input schema type = %v", name, defs[i].InputSchema["type"])
		}
	}
}

func TestEnvelope_SuccessMirrorsText(t *testing.T) {
	r := mcpbridge.NewToolRegistry(newStubTrust())
	res := call(t, r, "get_agent_record", `{"agentId":"agent-12345"}`)

	m := structured(t, res)
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("content = %+v", res.Content)
	}
	var fromText map[string]any
	if err := json.Unmarshal([]byte(res.Content[0].Text), &fromText); err != nil {
		t.Fatalf("text is not JSON: %v", err)
	}
	if fromText["agentId"] != m["agentId"] || m["agentId"] != "agent-12345" {
		t.Errorf("text/structured mismatch: %v vs %v", fromText["agentId"], m["agentId"])
	}
}

func TestIsAgentCertified(t *testing.T) {
	stub := newStubTrust()
	r := mcpbridge.NewToolRegistry(stub)

	m := structured(t, call(t, r, "is_agent_certified", `{"agentId":"agent-12345"}`))
	if m["certified"] != true || m["auditLevel"] != "Gold" || m["killSwitchActive"] != false {
		t.Errorf("certified agent = %v", m)
	}

	m = structured(t, call(t, r, "is_agent_certified", `{"agentId":"agent-missing"}`))
	if m["certified"] != false || m["agentId"] != "agent-missing" {
		t.Errorf("missing agent = %v", m)
	}
	for _, k := range []string{"auditLevel", "expiresAt", "killSwitchActive"} {
		if _, present := m[k]; present {
			t.Errorf("missing agent: field %q should be omitted", k)
		}
	}
}

func TestIssueAuditTicket(t *testing.T) {
	stub := newStubTrust()
	r := mcpbridge.NewToolRegistry(stub)

	m := structured(t, call(t, r, "issue_audit_ticket", `{"agentId":"agent-12345"}`))
	if m["ticket"] != "tok" || m["auditLevel"] != "Gold" || m["expiresAt"] == nil {
		t.Errorf("ticket result = %v", m)
	}
	if stub.lastValidity != 0 {
		t.Errorf("default validity passed as %v, want 0", stub.lastValidity)
	}

	structured(t, call(t, r, "issue_audit_ticket", `{"agentId":"agent-12345","validitySeconds":60}`))
	if stub.lastValidity != 60*time.Second {
		t.Errorf("validity = %v, want 60s", stub.lastValidity)
	}
}

func TestIssueAuditTicket_InvalidArguments(t *testing.T) {
	r := mcpbridge.NewToolRegistry(newStubTrust())
	tests := []struct {
		name string
		args string
		want string
	}{
		{"missing agent", `{}`, "agentId is required"},
		{"blank agent", `{"agentId":"  "}`, "agentId is required"},
		{"no arguments", ``, "agentId is required"},
		{"zero validity", `{"agentId":"agent-12345","validitySeconds":0}`, "validitySeconds"},
		{"too long", `{"agentId":"agent-12345","validitySeconds":86401}`, "validitySeconds"},
		{"fractional", `{"agentId":"agent-12345","validitySeconds":1.5}`, "invalid arguments"},
		{"wrong type", `{"agentId":42}`, "invalid arguments"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := call(t, r, "issue_audit_ticket", tc.args)
			if !res.IsError {
				t.Fatal("expected isError")
			}
			if !strings.Contains(res.Content[0].Text, tc.want) {
				t.Errorf("message = %q, want it to contain %q", res.Content[0].Text, tc.want)
			}
			if res.StructuredContent != nil {
				t.Error("failure must not carry structuredContent")
			}
		})
	}
}

func TestServiceFailures(t *testing.T) {
	stub := newStubTrust()
	stub.killed["agent-12345"] = true
	r := mcpbridge.NewToolRegistry(stub)

	res := call(t, r, "issue_audit_ticket", `{"agentId":"agent-12345"}`)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "KillSwitchActive") {
		t.Errorf("killed agent: %+v", res)
	}

	res = call(t, r, "get_agent_record", `{"agentId":"agent-missing"}`)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "agent not found") {
		t.Errorf("missing agent: %+v", res)
	}

	stub.upstreamDown = true
	res = call(t, r, "get_agent_record", `{"agentId":"agent-12345"}`)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "unavailable") {
		t.Errorf("upstream down: %+v", res)
	}
}

func TestGetTrustScore(t *testing.T) {
	r := mcpbridge.NewToolRegistry(newStubTrust())
	m := structured(t, call(t, r, "get_trust_score", `{"agentId":"agent-12345"}`))
	if m["recommendation"] != "approve" || m["score"] != 87.5 {
		t.Errorf("score = %v", m)
	}
}

func TestVerifyAuditTicket(t *testing.T) {
	r := mcpbridge.NewToolRegistry(newStubTrust())

	m := structured(t, call(t, r, "verify_audit_ticket", `{"ticket":"tok"}`))
	if m["valid"] != true || m["agentId"] != "agent-12345" {
		t.Errorf("verify = %v", m)
	}

	res := call(t, r, "verify_audit_ticket", `{"ticket":"forged"}`)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "invalid ticket") {
		t.Errorf("forged: %+v", res)
	}

	res = call(t, r, "verify_audit_ticket", `{}`)
	if !res.IsError {
		t.Error("missing ticket should fail")
	}
}

func TestActivateKillSwitch(t *testing.T) {
	stub := newStubTrust()
	r := mcpbridge.NewToolRegistry(stub)

	m := structured(t, call(t, r, "activate_kill_switch",
		`{"agentId":"agent-12345","reason":"leaked key","invalidateTickets":true}`))
	if m["killSwitchActive"] != true || m["ticketsInvalidated"] != true {
		t.Errorf("kill switch = %v", m)
	}
	if stub.lastKill.reason != "leaked key" || !stub.lastKill.invalidate {
		t.Errorf("service saw %+v", stub.lastKill)
	}

	cert := structured(t, call(t, r, "is_agent_certified", `{"agentId":"agent-12345"}`))
	if cert["certified"] != false || cert["killSwitchActive"] != true {
		t.Errorf("after kill switch = %v", cert)
	}
}

func TestUnknownTool(t *testing.T) {
	r := mcpbridge.NewToolRegistry(newStubTrust())
	res := call(t, r, "drop_tables", `{}`)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "unknown tool") {
		t.Errorf("unknown tool: %+v", res)
	}
}

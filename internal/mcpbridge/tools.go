package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agntor/agntor-mcp/internal/identity"
	"github.com/agntor/agntor-mcp/internal/registry/model"
	"github.com/agntor/agntor-mcp/internal/registry/service"
)

// MaxTicketValiditySeconds bounds the validitySeconds argument of issue_audit_ticket.
const MaxTicketValiditySeconds = 86400

// ToolDefinition is the MCP tool descriptor sent in tools/list responses.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Content is one item of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the tools/call result envelope. On success the JSON text is
// mirrored in StructuredContent; on failure IsError is set and Content holds
// a human-readable message.
type ToolResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

func ok(v any) ToolResult {
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failf("encode result: %v", err)
	}
	return ToolResult{
		Content:           []Content{{Type: "text", Text: string(text)}},
		StructuredContent: v,
	}
}

func fail(text string) ToolResult {
	return ToolResult{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

func failf(format string, a ...any) ToolResult {
	return fail(fmt.Sprintf(format, a...))
}

// TrustService is the behaviour the tools need.
// *service.TrustService satisfies this interface.
type TrustService interface {
	GetAgent(ctx context.Context, agentID string) (*model.AgentRecord, error)
	CheckCertification(ctx context.Context, agentID string) *service.CertificationResult
	Score(ctx context.Context, agentID string) (*model.TrustScore, error)
	IssueTicket(ctx context.Context, agentID string, validity time.Duration) (*identity.Ticket, error)
	VerifyTicket(token string) (*identity.TicketClaims, error)
	ActivateKillSwitch(ctx context.Context, agentID, reason string, invalidateTickets bool) (*service.KillSwitchResult, error)
}

// ToolRegistry holds the trust service and the definitions/handlers for all tools.
type ToolRegistry struct {
	svc  TrustService
	defs []ToolDefinition
}

func agentIDSchema() map[string]any {
	return map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": "The agent identifier, e.g. agent-12345",
	}
}

// NewToolRegistry creates a ToolRegistry backed by the given trust service.
func NewToolRegistry(svc TrustService) *ToolRegistry {
	r := &ToolRegistry{svc: svc}
	r.defs = []ToolDefinition{
		{
			Name: "get_agent_record",
			Description: "Fetch the canonical trust record of an agent: audit level, trust score, " +
				"certification window, health and operational constraints.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"agentId": agentIDSchema()},
				"required":   []string{"agentId"},
			},
		},
		{
			Name: "is_agent_certified",
			Description: "Check whether an agent is currently certified. An agent whose kill switch " +
				"is active is never certified, regardless of its certification expiry.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"agentId": agentIDSchema()},
				"required":   []string{"agentId"},
			},
		},
		{
			Name: "get_trust_score",
			Description: "Get an agent's trust score (0-100) with its factor breakdown and a recommendation: " +
				"approve (>=80), review (60-79) or reject (<60). The score does not reflect certification " +
				"or kill-switch state; check is_agent_certified as well.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"agentId": agentIDSchema()},
				"required":   []string{"agentId"},
			},
		},
		{
			Name: "issue_audit_ticket",
			Description: "Issue a signed, short-lived audit ticket (HS256 JWT) that carries the agent's audit " +
				"level and constraints. Refused when the agent does not exist or its kill switch is active.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId": agentIDSchema(),
					"validitySeconds": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"maximum":     MaxTicketValiditySeconds,
						"description": "Ticket lifetime in seconds. Defaults to 300.",
					},
				},
				"required": []string{"agentId"},
			},
		},
		{
			Name:        "verify_audit_ticket",
			Description: "Verify an audit ticket's signature, issuer and expiry, and return its claims.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ticket": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "The ticket returned by issue_audit_ticket",
					},
				},
				"required": []string{"ticket"},
			},
		},
		{
			Name: "activate_kill_switch",
			Description: "Emergency-revoke an agent. Its certification is withdrawn immediately and no new " +
				"tickets will be issued. Set invalidateTickets to notify relying parties to drop " +
				"tickets already issued.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId": agentIDSchema(),
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the kill switch is being activated",
					},
					"invalidateTickets": map[string]any{
						"type":        "boolean",
						"description": "Notify relying parties to drop outstanding tickets. Defaults to false.",
					},
				},
				"required": []string{"agentId"},
			},
		},
	}
	return r
}

// Definitions returns the list of tool definitions for tools/list responses.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	return r.defs
}

// Call dispatches a tool call by name.
func (r *ToolRegistry) Call(ctx context.Context, name string, args json.RawMessage) ToolResult {
	switch name {
	case "get_agent_record":
		return r.getAgentRecord(ctx, args)
	case "is_agent_certified":
		return r.isAgentCertified(ctx, args)
	case "get_trust_score":
		return r.getTrustScore(ctx, args)
	case "issue_audit_ticket":
		return r.issueAuditTicket(ctx, args)
	case "verify_audit_ticket":
		return r.verifyAuditTicket(args)
	case "activate_kill_switch":
		return r.activateKillSwitch(ctx, args)
	default:
		return failf("unknown tool: %q", name)
	}
}

// decodeArgs unmarshals tool arguments. Missing arguments decode as {}.
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type agentArgs struct {
	AgentID string `json:"agentId"`
}

func (a agentArgs) validate() error {
	if strings.TrimSpace(a.AgentID) == "" {
		return errors.New("agentId is required")
	}
	return nil
}

// serviceFailure maps a service error onto a tool failure.
func serviceFailure(agentID string, err error) ToolResult {
	switch {
	case errors.Is(err, service.ErrAgentNotFound):
		return failf("agent not found: %s", agentID)
	case errors.Is(err, service.ErrKillSwitchActive):
		return failf("KillSwitchActive: kill switch is active for agent %s; ticket issuance refused", agentID)
	case errors.Is(err, service.ErrUpstream):
		return fail("trust network unavailable; try again later")
	default:
		return failf("internal error: %v", err)
	}
}

// ── tool handlers ────────────────────────────────────────────────────────────

func (r *ToolRegistry) getAgentRecord(ctx context.Context, args json.RawMessage) ToolResult {
	var in agentArgs
	if err := decodeArgs(args, &in); err != nil {
		return fail(err.Error())
	}
	if err := in.validate(); err != nil {
		return fail(err.Error())
	}

	rec, err := r.svc.GetAgent(ctx, in.AgentID)
	if err != nil {
		return serviceFailure(in.AgentID, err)
	}
	return ok(rec)
}

func (r *ToolRegistry) isAgentCertified(ctx context.Context, args json.RawMessage) ToolResult {
	var in agentArgs
	if err := decodeArgs(args, &in); err != nil {
		return fail(err.Error())
	}
	if err := in.validate(); err != nil {
		return fail(err.Error())
	}
	return ok(r.svc.CheckCertification(ctx, in.AgentID))
}

func (r *ToolRegistry) getTrustScore(ctx context.Context, args json.RawMessage) ToolResult {
	var in agentArgs
	if err := decodeArgs(args, &in); err != nil {
		return fail(err.Error())
	}
	if err := in.validate(); err != nil {
		return fail(err.Error())
	}

	score, err := r.svc.Score(ctx, in.AgentID)
	if err != nil {
		return serviceFailure(in.AgentID, err)
	}
	return ok(score)
}

func (r *ToolRegistry) issueAuditTicket(ctx context.Context, args json.RawMessage) ToolResult {
	var in struct {
		agentArgs
		ValiditySeconds *int64 `json:"validitySeconds"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return fail(err.Error())
	}
	if err := in.validate(); err != nil {
		return fail(err.Error())
	}

	var validity time.Duration
	if in.ValiditySeconds != nil {
		v := *in.ValiditySeconds
		if v < 1 || v > MaxTicketValiditySeconds {
			return failf("validitySeconds must be between 1 and %d", MaxTicketValiditySeconds)
		}
		validity = time.Duration(v) * time.Second
	}

	t, err := r.svc.IssueTicket(ctx, in.AgentID, validity)
	if err != nil {
		return serviceFailure(in.AgentID, err)
	}
	return ok(t)
}

// verifiedTicket is the verify_audit_ticket result.
type verifiedTicket struct {
	Valid       bool              `json:"valid"`
	TicketID    string            `json:"ticketId"`
	AgentID     string            `json:"agentId"`
	AuditLevel  model.AuditLevel  `json:"auditLevel"`
	Constraints model.Constraints `json:"constraints"`
	Issuer      string            `json:"issuer"`
	IssuedAt    time.Time         `json:"issuedAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

func (r *ToolRegistry) verifyAuditTicket(args json.RawMessage) ToolResult {
	var in struct {
		Ticket string `json:"ticket"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return fail(err.Error())
	}
	if strings.TrimSpace(in.Ticket) == "" {
		return fail("ticket is required")
	}

	claims, err := r.svc.VerifyTicket(in.Ticket)
	if err != nil {
		return failf("invalid ticket: %v", err)
	}

	out := verifiedTicket{
		Valid:       true,
		TicketID:    claims.ID,
		AgentID:     claims.AgentID,
		AuditLevel:  claims.AuditLevel,
		Constraints: claims.Constraints,
		Issuer:      claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return ok(out)
}

func (r *ToolRegistry) activateKillSwitch(ctx context.Context, args json.RawMessage) ToolResult {
	var in struct {
		agentArgs
		Reason            string `json:"reason"`
		InvalidateTickets bool   `json:"invalidateTickets"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return fail(err.Error())
	}
	if err := in.validate(); err != nil {
		return fail(err.Error())
	}

	res, err := r.svc.ActivateKillSwitch(ctx, in.AgentID, in.Reason, in.InvalidateTickets)
	if err != nil {
		return serviceFailure(in.AgentID, err)
	}
	return ok(res)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agntor/agntor-mcp/internal/identity"
	"github.com/agntor/agntor-mcp/internal/registry/model"
	"github.com/agntor/agntor-mcp/internal/registry/normalize"
	"github.com/agntor/agntor-mcp/internal/trustapi"
	"github.com/agntor/agntor-mcp/internal/trustledger"
	"github.com/agntor/agntor-mcp/internal/webhooks"
	"go.uber.org/zap"
)

// Outcomes returned by TrustService. Callers match them with errors.Is.
var (
	ErrAgentNotFound    = errors.New("agent not found")
	ErrKillSwitchActive = errors.New("kill switch active")
	ErrUpstream         = errors.New("trust network unavailable")
	ErrInvalidTicket    = errors.New("invalid ticket")
)

// TrustBackend is the upstream system of record for agents.
// *trustapi.Client satisfies this interface.
type TrustBackend interface {
	FetchAgent(ctx context.Context, agentID string) (*normalize.RawAgent, error)
	FetchScore(ctx context.Context, agentID string) (*normalize.RawScore, error)
	SetActive(ctx context.Context, agentID string, active bool, reason string) error
}

// WebhookDispatcher fans out events to relying parties and returns the number
// of subscribers the event was sent to. *webhooks.Service satisfies this interface.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string) int
}

// AuditLedger records kill-switch activations.
// *trustledger.MemoryLedger and *trustledger.PostgresLedger satisfy this interface.
type AuditLedger interface {
	Append(ctx context.Context, agentID string, action trustledger.Action, actor string, payload any) (*trustledger.Entry, error)
}

// Metrics holds optional callbacks for recording service outcomes.
type Metrics struct {
	TicketIssued        func(level model.AuditLevel)
	KillSwitchActivated func()
	UpstreamFailure     func(op string)
}

// CertificationResult is the answer to "is this agent certified right now".
// Everything past AgentID is omitted when the agent could not be found.
type CertificationResult struct {
	Certified        bool                      `json:"certified"`
	AgentID          string                    `json:"agentId"`
	AuditLevel       model.AuditLevel          `json:"auditLevel,omitempty"`
	Status           model.CertificationStatus `json:"status,omitempty"`
	ExpiresAt        *time.Time                `json:"expiresAt,omitempty"`
	KillSwitchActive *bool                     `json:"killSwitchActive,omitempty"`
}

// KillSwitchResult reports an emergency revocation.
type KillSwitchResult struct {
	AgentID            string    `json:"agentId"`
	KillSwitchActive   bool      `json:"killSwitchActive"`
	TicketsInvalidated bool      `json:"ticketsInvalidated"` // true only if a relying party was notified
	NotifiedParties    int       `json:"notifiedParties"`
	Reason             string    `json:"reason,omitempty"`
	ActivatedAt        time.Time `json:"activatedAt"`
	AuditEntry         string    `json:"auditEntry,omitempty"` // ledger hash of this activation
}

// TrustService answers trust questions about agents. It holds no agent,
// score or ticket state between calls: every operation fetches a fresh
// snapshot from the backend.
type TrustService struct {
	backend    TrustBackend
	normalizer *normalize.Normalizer
	tickets    *identity.TicketIssuer
	webhooks   WebhookDispatcher // nil = no kill-switch notifications
	ledger     AuditLedger       // nil = activations are only logged
	metrics    Metrics
	now        func() time.Time
	logger     *zap.Logger
}

// NewTrustService creates a new TrustService.
func NewTrustService(backend TrustBackend, normalizer *normalize.Normalizer, tickets *identity.TicketIssuer, logger *zap.Logger) *TrustService {
	return &TrustService{
		backend:    backend,
		normalizer: normalizer,
		tickets:    tickets,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// SetWebhookDispatcher configures the dispatcher used when a kill switch
// asks for outstanding tickets to be invalidated.
func (s *TrustService) SetWebhookDispatcher(d WebhookDispatcher) {
	s.webhooks = d
}

// SetLedger configures the audit trail for kill-switch activations.
func (s *TrustService) SetLedger(l AuditLedger) {
	s.ledger = l
}

// SetMetrics configures the metrics callbacks.
func (s *TrustService) SetMetrics(m Metrics) {
	s.metrics = m
}

// GetAgent fetches and normalizes the agent's record.
func (s *TrustService) GetAgent(ctx context.Context, agentID string) (*model.AgentRecord, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, ErrAgentNotFound
	}
	raw, err := s.backend.FetchAgent(ctx, agentID)
	if err != nil {
		return nil, s.upstreamError("fetch_agent", agentID, err)
	}
	rec := s.normalizer.Normalize(agentID, raw)
	return &rec, nil
}

// CheckCertification applies the certification gate to a fresh record.
// A missing agent or an unreachable backend yields certified=false with no
// further fields; it is never reported as an error.
func (s *TrustService) CheckCertification(ctx context.Context, agentID string) *CertificationResult {
	rec, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return &CertificationResult{AgentID: agentID}
	}

	now := s.now()
	killed := rec.KillSwitchActive
	res := &CertificationResult{
		Certified:        rec.IsCertified(now),
		AgentID:          rec.AgentID,
		AuditLevel:       rec.AuditLevel,
		Status:           rec.CertificationState(now),
		KillSwitchActive: &killed,
	}
	if !rec.Certification.ExpiresAt.IsZero() {
		exp := rec.Certification.ExpiresAt
		res.ExpiresAt = &exp
	}
	return res
}

// Score returns the agent's trust score and recommendation. The score says
// nothing about certification or the kill switch.
func (s *TrustService) Score(ctx context.Context, agentID string) (*model.TrustScore, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, ErrAgentNotFound
	}
	raw, err := s.backend.FetchScore(ctx, agentID)
	if err != nil {
		return nil, s.upstreamError("fetch_score", agentID, err)
	}
	score := normalize.Score(agentID, raw)
	return &score, nil
}

// IssueTicket signs an audit ticket for an existing agent whose kill switch
// is not active. validity <= 0 selects the issuer's default lifetime.
func (s *TrustService) IssueTicket(ctx context.Context, agentID string, validity time.Duration) (*identity.Ticket, error) {
	rec, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec.KillSwitchActive {
		s.logger.Info("ticket refused: kill switch active", zap.String("agent_id", rec.AgentID))
		return nil, ErrKillSwitchActive
	}

	t, err := s.tickets.Issue(rec.AgentID, rec.AuditLevel, rec.Constraints, validity)
	if err != nil {
		return nil, fmt.Errorf("issue ticket: %w", err)
	}
	if s.metrics.TicketIssued != nil {
		s.metrics.TicketIssued(rec.AuditLevel)
	}
	s.logger.Info("ticket issued",
		zap.String("agent_id", rec.AgentID),
		zap.String("audit_level", string(rec.AuditLevel)),
		zap.Time("expires_at", t.ExpiresAt),
	)
	return t, nil
}

// VerifyTicket checks a ticket's signature, issuer and expiry.
func (s *TrustService) VerifyTicket(token string) (*identity.TicketClaims, error) {
	claims, err := s.tickets.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTicket, err)
	}
	return claims, nil
}

// ActivateKillSwitch flips the agent's upstream active flag off. Revocation is
// reflected by the backend in subsequent fetches; no local revocation list is
// kept. When invalidateTickets is set, relying parties are notified so they
// can drop tickets already issued to the agent. Tickets are reported as
// invalidated only when at least one relying party was notified.
func (s *TrustService) ActivateKillSwitch(ctx context.Context, agentID, reason string, invalidateTickets bool) (*KillSwitchResult, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, ErrAgentNotFound
	}
	if err := s.backend.SetActive(ctx, agentID, false, reason); err != nil {
		return nil, s.upstreamError("set_active", agentID, err)
	}

	res := &KillSwitchResult{
		AgentID:          agentID,
		KillSwitchActive: true,
		Reason:           reason,
		ActivatedAt:      s.now(),
	}
	if s.metrics.KillSwitchActivated != nil {
		s.metrics.KillSwitchActivated()
	}
	s.logger.Warn("kill switch activated",
		zap.String("agent_id", agentID),
		zap.String("reason", reason),
		zap.Bool("invalidate_tickets", invalidateTickets),
	)

	if invalidateTickets {
		if s.webhooks != nil {
			res.NotifiedParties = s.webhooks.Dispatch(ctx, webhooks.EventAgentKillSwitch, map[string]string{
				"agent_id":     agentID,
				"reason":       reason,
				"activated_at": res.ActivatedAt.Format(time.RFC3339),
				"issuer":       s.tickets.Issuer(),
			})
		}
		res.TicketsInvalidated = res.NotifiedParties > 0
		if !res.TicketsInvalidated {
			s.logger.Warn("ticket invalidation requested but no relying party is subscribed",
				zap.String("agent_id", agentID),
			)
		}
	}

	// The upstream flag is already off; a ledger failure must not undo that.
	if s.ledger != nil {
		entry, err := s.ledger.Append(ctx, agentID, trustledger.ActionKillSwitch, s.tickets.Issuer(),
			trustledger.KillSwitchRecord{
				Reason:             reason,
				TicketsInvalidated: res.TicketsInvalidated,
				NotifiedParties:    res.NotifiedParties,
				ActivatedAt:        res.ActivatedAt,
			})
		if err != nil {
			s.logger.Error("kill switch not recorded in ledger",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		} else {
			res.AuditEntry = entry.Hash
		}
	}
	return res, nil
}

// upstreamError maps a backend error onto ErrAgentNotFound or ErrUpstream.
func (s *TrustService) upstreamError(op, agentID string, err error) error {
	if errors.Is(err, trustapi.ErrNotFound) {
		return ErrAgentNotFound
	}
	if s.metrics.UpstreamFailure != nil {
		s.metrics.UpstreamFailure(op)
	}
	s.logger.Error("trust backend call failed",
		zap.String("op", op),
		zap.String("agent_id", agentID),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

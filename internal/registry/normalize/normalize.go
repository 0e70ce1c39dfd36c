// Package normalize maps the trust backend's agent payload onto the canonical
// model.AgentRecord. It is the only place upstream data is interpreted: the raw
// payload never travels past Normalize, and every absent field resolves to the
// default documented on Normalize.
package normalize

import (
	"time"

	"github.com/agntor/agntor-mcp/internal/registry/model"
)

// DefaultCertificationValidity is the one-year certification window applied
// when the backend marks an agent certified without dates.
const DefaultCertificationValidity = 365 * 24 * time.Hour

// DefaultCertifier names the certifier when the backend does not.
const DefaultCertifier = "agntor"

// Policy holds the policy choices the backend does not supply.
//
// The backend only reports a boolean "certified" flag, so certification dates
// are synthesized: certifiedAt is the fetch time and expiresAt is fetch time
// plus CertificationValidity. TierRanks maps audit levels to the numeric
// certification level; levels missing from the table rank 1.
type Policy struct {
	TierRanks             map[model.AuditLevel]int
	CertificationValidity time.Duration
	Certifier             string
}

// DefaultPolicy returns the standard tier table {Platinum:5, Gold:4,
// Silver:3, *:1} and a one-year certification window.
func DefaultPolicy() Policy {
	return Policy{
		TierRanks: map[model.AuditLevel]int{
			model.AuditLevelPlatinum: 5,
			model.AuditLevelGold:     4,
			model.AuditLevelSilver:   3,
		},
		CertificationValidity: DefaultCertificationValidity,
		Certifier:             DefaultCertifier,
	}
}

// Rank returns the numeric level for an audit level. Unknown levels rank 1,
// never 0.
func (p Policy) Rank(level model.AuditLevel) int {
	if r, ok := p.TierRanks[level]; ok && r >= 1 {
		return r
	}
	return 1
}

// Normalizer converts RawAgent payloads into AgentRecords.
type Normalizer struct {
	policy Policy
	now    func() time.Time
}

// New creates a Normalizer. Zero-valued policy fields fall back to DefaultPolicy.
func New(p Policy) *Normalizer {
	def := DefaultPolicy()
	if p.TierRanks == nil {
		p.TierRanks = def.TierRanks
	}
	if p.CertificationValidity <= 0 {
		p.CertificationValidity = def.CertificationValidity
	}
	if p.Certifier == "" {
		p.Certifier = def.Certifier
	}
	return &Normalizer{policy: p, now: func() time.Time { return time.Now().UTC() }}
}

// Policy returns the effective policy.
func (n *Normalizer) Policy() Policy { return n.policy }

// Normalize maps raw onto a canonical record for the requested agent id.
// It never fails; a nil raw produces a fully-defaulted record.
//
// Defaults:
//
//	agentId            identity.agent_id, else id, else requestedID
//	auditLevel         Bronze
//	trustScore         0 (clamped to [0,100])
//	organization, name, description, certifier ""
//	capabilities       empty set
//	certification      zero times (never certified), level from TierRanks
//	health             all zero
//	killSwitchActive   false (absent status.active is treated as active)
//	constraints        maxOpValue 0, no allowed servers, optional limits unset
func (n *Normalizer) Normalize(requestedID string, raw *RawAgent) model.AgentRecord {
	if raw == nil {
		raw = &RawAgent{}
	}
	identity := deref(raw.Identity)
	profile := deref(raw.Profile)
	trust := deref(raw.Trust)
	status := deref(raw.Status)
	limits := deref(raw.Constraints)

	level := model.ParseAuditLevel(trust.Level)

	rec := model.AgentRecord{
		AgentID:      firstNonEmpty(identity.AgentID, raw.ID, requestedID),
		AuditLevel:   level,
		TrustScore:   clamp(valueOr(trust.Score, 0), 0, 100),
		Organization: identity.Organization,
		Metadata: model.AgentMetadata{
			Name:           profile.Name,
			Description:    profile.Description,
			Capabilities:   dedupe(profile.Capabilities),
			VerifiedDomain: identity.VerifiedDomain,
		},
		Certification: model.Certification{
			Level: n.policy.Rank(level),
		},
		Health: model.Health{
			UptimePct:         valueOr(status.UptimePct, 0),
			AvgLatencyMs:      valueOr(status.AvgLatencyMs, 0),
			ErrorRate:         valueOr(status.ErrorRate, 0),
			TotalTransactions: valueOr(status.TotalTransactions, 0),
			LastActiveAt:      valueOr(status.LastActiveAt, time.Time{}),
		},
		KillSwitchActive: !valueOr(status.Active, true),
		Constraints: model.Constraints{
			MaxOpValue:          valueOr(limits.MaxOpValue, 0),
			AllowedMCPServers:   dedupe(limits.AllowedMCPServers),
			MaxOpsPerHour:       limits.MaxOpsPerHour,
			RequiresX402Payment: limits.RequiresX402Payment,
		},
	}

	if valueOr(trust.Certified, false) {
		now := n.now()
		rec.Certification.CertifiedAt = now
		rec.Certification.ExpiresAt = now.Add(n.policy.CertificationValidity)
		rec.Certification.Certifier = firstNonEmpty(trust.Certifier, n.policy.Certifier)
	}
	return rec
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// dedupe returns the non-empty, de-duplicated values in first-seen order.
// The result is never nil so it serialises as [].
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

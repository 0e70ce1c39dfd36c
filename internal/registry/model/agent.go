package model

import (
	"strings"
	"time"
)

// AuditLevel is the ordinal trust classification of an agent.
// Bronze < Silver < Gold < Platinum.
type AuditLevel string

const (
	AuditLevelBronze   AuditLevel = "Bronze"
	AuditLevelSilver   AuditLevel = "Silver"
	AuditLevelGold     AuditLevel = "Gold"
	AuditLevelPlatinum AuditLevel = "Platinum"
)

// ParseAuditLevel maps an upstream tier string onto a known AuditLevel.
// Matching is case-insensitive; anything unrecognised (including "") is Bronze.
func ParseAuditLevel(s string) AuditLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "platinum":
		return AuditLevelPlatinum
	case "gold":
		return AuditLevelGold
	case "silver":
		return AuditLevelSilver
	default:
		return AuditLevelBronze
	}
}

// CertificationStatus is the terminal outcome of the certification gate.
type CertificationStatus string

const (
	StatusCertified CertificationStatus = "certified"
	StatusExpired   CertificationStatus = "expired"
	StatusRevoked   CertificationStatus = "revoked"
)

// AgentRecord is the canonical, immutable snapshot of an agent as fetched
// from the trust backend. Every field carries a defined value; see the
// normalize package for the defaults applied to absent upstream data.
type AgentRecord struct {
	AgentID          string        `json:"agentId"`
	AuditLevel       AuditLevel    `json:"auditLevel"`
	TrustScore       float64       `json:"trustScore"`
	Organization     string        `json:"organization"`
	Metadata         AgentMetadata `json:"metadata"`
	Certification    Certification `json:"certification"`
	Health           Health        `json:"health"`
	KillSwitchActive bool          `json:"killSwitchActive"`
	Constraints      Constraints   `json:"constraints"`
}

// AgentMetadata is descriptive agent data. Capabilities is a de-duplicated set.
type AgentMetadata struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Capabilities   []string `json:"capabilities"`
	VerifiedDomain string   `json:"verifiedDomain,omitempty"`
}

// Certification describes the agent's current certification window.
// A zero ExpiresAt means the agent was never certified.
type Certification struct {
	CertifiedAt time.Time `json:"certifiedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Certifier   string    `json:"certifier"`
	// Level is the numeric tier rank, 1..5.
	Level int `json:"level"`
}

// Health is the behavioural-health snapshot reported upstream.
type Health struct {
	UptimePct         float64   `json:"uptimePct"`
	AvgLatencyMs      float64   `json:"avgLatencyMs"`
	ErrorRate         float64   `json:"errorRate"`
	TotalTransactions int64     `json:"totalTransactions"`
	LastActiveAt      time.Time `json:"lastActiveAt"`
}

// Constraints are the operational limits carried inside issued tickets.
type Constraints struct {
	MaxOpValue          float64  `json:"maxOpValue"`
	AllowedMCPServers   []string `json:"allowedMcpServers"`
	MaxOpsPerHour       *int     `json:"maxOpsPerHour,omitempty"`
	RequiresX402Payment *bool    `json:"requiresX402Payment,omitempty"`
}

// AllowsServer reports whether the constraints permit calls to the named MCP server.
func (c Constraints) AllowsServer(name string) bool {
	for _, s := range c.AllowedMCPServers {
		if s == name {
			return true
		}
	}
	return false
}

// CertificationState derives the gate outcome at instant now.
// A kill-switched agent is revoked regardless of its expiry.
func (r *AgentRecord) CertificationState(now time.Time) CertificationStatus {
	if r.KillSwitchActive {
		return StatusRevoked
	}
	if r.Certification.ExpiresAt.After(now) {
		return StatusCertified
	}
	return StatusExpired
}

// IsCertified reports whether the agent is certified at instant now:
// the certification has not expired and the kill switch is not active.
// No other field participates.
func (r *AgentRecord) IsCertified(now time.Time) bool {
	return r.CertificationState(now) == StatusCertified
}

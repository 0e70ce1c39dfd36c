package normalize

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawAgent is the loosely-typed agent payload returned by the trust backend.
// Every substructure and scalar is optional; pointers distinguish "absent"
// from a zero value so that defaults are applied in exactly one place.
// Unknown fields, including the free-form "metadata" object, are ignored.
type RawAgent struct {
	ID          string          `json:"id"`
	Identity    *RawIdentity    `json:"identity"`
	Profile     *RawProfile     `json:"profile"`
	Trust       *RawTrust       `json:"trust"`
	Status      *RawStatus      `json:"status"`
	Constraints *RawConstraints `json:"constraints"`
}

type RawIdentity struct {
	AgentID        string `json:"agent_id"`
	Organization   string `json:"organization"`
	VerifiedDomain string `json:"verified_domain"`
}

type RawProfile struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

type RawTrust struct {
	Level     string   `json:"level"`
	Score     *float64 `json:"score"`
	Certified *bool    `json:"certified"`
	Certifier string   `json:"certifier"`
}

type RawStatus struct {
	Active            *bool      `json:"active"`
	UptimePct         *float64   `json:"uptime_pct"`
	AvgLatencyMs      *float64   `json:"avg_latency_ms"`
	ErrorRate         *float64   `json:"error_rate"`
	TotalTransactions *int64     `json:"total_transactions"`
	LastActiveAt      *time.Time `json:"last_active_at"`
}

type RawConstraints struct {
	MaxOpValue          *float64 `json:"max_op_value"`
	AllowedMCPServers   []string `json:"allowed_mcp_servers"`
	MaxOpsPerHour       *int     `json:"max_ops_per_hour"`
	RequiresX402Payment *bool    `json:"requires_x402_payment"`
}

// Decode parses an upstream agent payload. A JSON null or empty body decodes
// to an empty RawAgent, which normalizes to a fully-defaulted record.
func Decode(data []byte) (*RawAgent, error) {
	var raw RawAgent
	if len(data) == 0 {
		return &raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode agent payload: %w", err)
	}
	return &raw, nil
}

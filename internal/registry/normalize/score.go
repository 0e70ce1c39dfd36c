package normalize

import (
	"github.com/agntor/agntor-mcp/internal/registry/model"
)

// RawScore is the trust backend's score payload. Absent values default to 0.
type RawScore struct {
	Score   *float64    `json:"score"`
	Level   string      `json:"level"`
	Factors *RawFactors `json:"factors"`
}

type RawFactors struct {
	Certification      *float64 `json:"certification"`
	BehavioralHealth   *float64 `json:"behavioral_health"`
	TransactionHistory *float64 `json:"transaction_history"`
	DomainVerification *float64 `json:"domain_verification"`
}

// Score maps a raw score snapshot onto a TrustScore and attaches the
// recommendation for the score.
func Score(agentID string, raw *RawScore) model.TrustScore {
	if raw == nil {
		raw = &RawScore{}
	}
	f := deref(raw.Factors)
	score := valueOr(raw.Score, 0)
	return model.TrustScore{
		AgentID: agentID,
		Score:   score,
		Level:   model.ParseAuditLevel(raw.Level),
		Factors: model.ScoreFactors{
			Certification:      valueOr(f.Certification, 0),
			BehavioralHealth:   valueOr(f.BehavioralHealth, 0),
			TransactionHistory: valueOr(f.TransactionHistory, 0),
			DomainVerification: valueOr(f.DomainVerification, 0),
		},
		Recommendation: model.RecommendationFor(score),
	}
}

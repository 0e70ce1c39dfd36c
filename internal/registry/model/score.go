package model

// Recommendation is the action suggested by a trust score.
type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

// Recommendation cut points. Lower bounds are inclusive.
const (
	ApproveThreshold = 80
	ReviewThreshold  = 60
)

// ScoreFactors is the per-factor breakdown of a trust score.
type ScoreFactors struct {
	Certification      float64 `json:"certification"`
	BehavioralHealth   float64 `json:"behavioral_health"`
	TransactionHistory float64 `json:"transaction_history"`
	DomainVerification float64 `json:"domain_verification"`
}

// TrustScore is derived on demand and never persisted.
//
// It is independent of certification: an agent can score "approve" and still
// be uncertified or kill-switched. Callers that need both must check both.
type TrustScore struct {
	AgentID        string         `json:"agentId"`
	Score          float64        `json:"score"`
	Level          AuditLevel     `json:"level"`
	Factors        ScoreFactors   `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
}

// RecommendationFor maps a score onto a recommendation:
//
//	score >= 80       → approve
//	60 <= score < 80  → review
//	score < 60        → reject
func RecommendationFor(score float64) Recommendation {
	switch {
	case score >= ApproveThreshold:
		return RecommendApprove
	case score >= ReviewThreshold:
		return RecommendReview
	default:
		return RecommendReject
	}
}

package usecase

import (
	"fmt"
	"math"

	"github.com/kirillkom/prior-auth-rag/internal/core/domain"
)

const (
	ApprovalThreshold = 0.70
	DenialThreshold   = 0.30
)

// Aggregate folds criterion results into a confidence-weighted score. A low-confidence
// judgment moves neither the numerator nor the denominator much.
func Aggregate(results []domain.CriterionResult) (float64, domain.Recommendation, []string) {
	var totalWeight, metWeight float64
	missing := make([]string, 0, len(results))
	for _, r := range results {
		totalWeight += r.Confidence
		if r.Met {
			metWeight += r.Confidence
			continue
		}
		missing = append(missing, fmt.Sprintf("%s — %s", r.Criterion, r.Reasoning))
	}

	score := 0.0
	if totalWeight > 0 {
		score = round2(metWeight / totalWeight)
	}
	return score, Recommend(score), missing
}

// Recommend maps a rounded score onto the recommendation bands. Both thresholds are inclusive.
func Recommend(score float64) domain.Recommendation {
	switch {
	case score >= ApprovalThreshold:
		return domain.LikelyApproved
	case score <= DenialThreshold:
		return domain.LikelyDenied
	default:
		return domain.InsufficientInfo
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

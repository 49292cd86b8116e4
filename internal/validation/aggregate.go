package validation

import "github.com/bissquit/triage-garden/internal/domain"

// Aggregate derives the overall status of a system from its results.
func Aggregate(results []domain.ValidationResult) domain.OverallStatus {
	if len(results) == 0 {
		return domain.OverallStatusPending
	}

	var failed, inconclusive, success int
	for _, r := range results {
		switch r.Status {
		case domain.ResultStatusPending:
			return domain.OverallStatusPending
		case domain.ResultStatusSuccess:
			success++
		case domain.ResultStatusFailed:
			failed++
		case domain.ResultStatusInconclusive:
			inconclusive++
		}
	}

	switch {
	case success == len(results):
		return domain.OverallStatusVerified
	case failed > 0:
		return domain.OverallStatusFailed
	case inconclusive > 0:
		return domain.OverallStatusInconclusive
	}
	return domain.OverallStatusUnknown
}

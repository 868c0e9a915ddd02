package resolution

import (
	"strings"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Consensus returns the result every source agrees on. Any disagreement
// rejects the proposal.
func Consensus(sources []domain.DataSource) (string, error) {
	if len(sources) == 0 {
		return "", domain.ErrNoDataSources
	}
	result := sources[0].Result
	for _, s := range sources[1:] {
		if s.Result != result {
			return "", domain.ErrDataSourceDisagreement
		}
	}
	return result, nil
}

// SportsOutcome maps an agreed result to a market outcome.
func SportsOutcome(kind domain.SportsEventType, result string) (domain.Outcome, error) {
	r := strings.ToLower(strings.TrimSpace(result))
	switch kind {
	case domain.SportsWinner:
		switch r {
		case "no", "loser":
			return domain.OutcomeNo, nil
		case "draw", "tie":
			return domain.OutcomeInvalid, nil
		case "":
			return domain.OutcomeNone, domain.ErrInvalidEventOutcome
		default:
			// "yes", "winner" or the name of the team the market asks about.
			return domain.OutcomeYes, nil
		}
	case domain.SportsScoreThreshold:
		switch r {
		case "yes", "over", "above":
			return domain.OutcomeYes, nil
		case "no", "under", "below":
			return domain.OutcomeNo, nil
		case "invalid", "canceled", "cancelled":
			return domain.OutcomeInvalid, nil
		}
	case domain.SportsYesNo:
		switch r {
		case "yes":
			return domain.OutcomeYes, nil
		case "no":
			return domain.OutcomeNo, nil
		case "invalid":
			return domain.OutcomeInvalid, nil
		}
	}
	return domain.OutcomeNone, domain.ErrInvalidEventOutcome
}

package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

// Format renders an event as a notification title and body.
func Format(ev domain.EventRecord, decimals uint8) (title, message string) {
	amount := func(v uint64) string { return domain.FormatAmount(v, decimals) }
	lines := []string{"market: " + ev.Market.Hex()}

	switch ev.Name {
	case domain.EventProposalDisputed:
		var p domain.ProposalDisputed
		if json.Unmarshal(ev.Data, &p) == nil {
			title = "Proposal disputed"
			lines = append(lines,
				"disputer: "+p.Disputer.Hex(),
				"counter outcome: "+p.CounterOutcome.String(),
				"bond: "+amount(p.BondAmount),
				fmt.Sprintf("disputes: %d", p.DisputeCount),
			)
		}
	case domain.EventOutcomeFinalized:
		var p domain.OutcomeFinalized
		if json.Unmarshal(ev.Data, &p) == nil {
			title = "Outcome finalized: " + p.Outcome.String()
			lines = append(lines,
				"winner: "+p.Winner.Hex(),
				"bonds paid: "+amount(p.Bonds),
				"reward: "+amount(p.Reward),
			)
		}
	case domain.EventEmergencyResolution:
		var p domain.EmergencyResolution
		if json.Unmarshal(ev.Data, &p) == nil {
			title = "Emergency resolution: " + p.Outcome.String()
			lines = append(lines,
				"reason: "+p.Reason,
				"bonds refunded: "+amount(p.Refunded),
			)
		}
	case domain.EventMarketCancelled:
		var p domain.MarketCancelled
		if json.Unmarshal(ev.Data, &p) == nil {
			title = "Market cancelled"
			lines = append(lines, "previous state: "+p.PrevState.String())
		}
	case domain.EventMarketResolved:
		var p domain.MarketResolvedEvent
		if json.Unmarshal(ev.Data, &p) == nil {
			title = "Market resolved: " + p.Outcome.String()
			if p.Emergency {
				lines = append(lines, "emergency: "+p.Reason)
			}
		}
	}
	if title == "" {
		title = ev.Name
		if len(ev.Data) > 0 {
			lines = append(lines, string(ev.Data))
		}
	}
	lines = append(lines, fmt.Sprintf("slot %d, tx %s", ev.Slot, ev.TxID))
	return title, strings.Join(lines, "\n")
}

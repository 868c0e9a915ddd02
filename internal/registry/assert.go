package registry

import "github.com/alanyoungcy/marketvault/internal/domain"

// AssertMarketOpen fails unless the market is Open and not yet expired.
func AssertMarketOpen(m *domain.Market, now uint64) error {
	if m.State != domain.MarketOpen {
		return domain.ErrMarketNotOpen
	}
	if m.IsExpired(now) {
		return domain.ErrMarketExpired
	}
	return nil
}

// AssertMarketExpired fails unless the market is Resolving and past expiry.
func AssertMarketExpired(m *domain.Market, now uint64) error {
	if m.State != domain.MarketResolving {
		return domain.ErrInvalidMarketState
	}
	if !m.IsExpired(now) {
		return domain.ErrMarketNotExpired
	}
	return nil
}

// AssertMarketResolved fails unless an outcome has been recorded.
func AssertMarketResolved(m *domain.Market) error {
	if !m.IsResolved() || !m.ResolutionOutcome.Valid() {
		return domain.ErrMarketNotResolved
	}
	return nil
}

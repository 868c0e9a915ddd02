package resolution

import (
	"math/bits"
	"sort"

	"github.com/cockroachdb/apd/v3"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

const bpsDenominator = 10_000

// QuoteLimits bound what a price quote must satisfy to be used.
type QuoteLimits struct {
	MaxStaleness     uint64
	MaxConfidenceBps uint64
	MaxDeviationBps  uint64
}

func limitsFrom(p domain.Params) QuoteLimits {
	return QuoteLimits{
		MaxStaleness:     domain.Seconds(p.MaxOracleStaleness),
		MaxConfidenceBps: p.MaxPriceConfidenceBps,
		MaxDeviationBps:  p.MaxPriceDeviationBps,
	}
}

// ValidateQuote checks freshness and confidence of q at now.
func ValidateQuote(q domain.PriceQuote, now uint64, lim QuoteLimits) error {
	if q.Price <= 0 {
		return domain.ErrInvalidOraclePrice
	}
	if q.PublishTime > now {
		return domain.ErrInvalidTimestamp
	}
	if now-q.PublishTime > lim.MaxStaleness {
		return domain.ErrStaleOracleData
	}
	// confidence / price <= maxBps / 10000
	if cmpProducts(q.Confidence, bpsDenominator, uint64(q.Price), lim.MaxConfidenceBps) > 0 {
		return domain.ErrLowPriceConfidence
	}
	return nil
}

// NormalizePrice rescales price*10^exponent to PriceDecimals fixed point,
// truncating extra precision.
func NormalizePrice(price int64, exponent int32) (uint64, error) {
	if price <= 0 {
		return 0, domain.ErrInvalidOraclePrice
	}
	ctx := apd.BaseContext.WithPrecision(40)
	ctx.Rounding = apd.RoundDown
	var out apd.Decimal
	if _, err := ctx.Quantize(&out, apd.New(price, exponent), -domain.PriceDecimals); err != nil {
		return 0, domain.ErrArithmeticOverflow
	}
	if out.Exponent != -domain.PriceDecimals || !out.Coeff.IsUint64() {
		return 0, domain.ErrArithmeticOverflow
	}
	v := out.Coeff.Uint64()
	if v == 0 {
		return 0, domain.ErrInvalidOraclePrice
	}
	return v, nil
}

// Median returns the median of prices; an even count averages the two
// middle values without overflowing.
func Median(prices []uint64) uint64 {
	if len(prices) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	a, b := sorted[mid-1], sorted[mid]
	return a/2 + b/2 + (a%2+b%2)/2
}

// CheckDeviation fails if any price is further than maxBps from median.
func CheckDeviation(prices []uint64, median, maxBps uint64) error {
	for _, p := range prices {
		diff := p - median
		if median > p {
			diff = median - p
		}
		if cmpProducts(diff, bpsDenominator, median, maxBps) > 0 {
			return domain.ErrPriceDeviationTooHigh
		}
	}
	return nil
}

// cmpProducts compares a*b with c*d using 128-bit products.
func cmpProducts(a, b, c, d uint64) int {
	h1, l1 := bits.Mul64(a, b)
	h2, l2 := bits.Mul64(c, d)
	switch {
	case h1 != h2:
		if h1 < h2 {
			return -1
		}
		return 1
	case l1 < l2:
		return -1
	case l1 > l2:
		return 1
	default:
		return 0
	}
}

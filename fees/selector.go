package fees

import (
	"math"
	"math/big"
)

// FeeSelector is the rollup's discrete fee encoding. Fees are not arbitrary
// values: the protocol maps a selector in [0, 255] to a fraction of the
// transferred amount through a fixed non-linear table.
type FeeSelector uint8

// Percentage returns the fraction of the amount paid as fee for this
// selector. Selector 0 pays nothing; 1..32 covers 10^-24 to 10^-8 in
// half-decade steps; 33..223 ramps to ~1 in 1/24-decade steps; 224..255
// covers 10^0 to 10^31.
func (f FeeSelector) Percentage() float64 {
	switch {
	case f == 0:
		return 0
	case f <= 32:
		return math.Pow(10, -24+float64(f)/2)
	case f <= 223:
		return math.Pow(10, -8+float64(f-32)/24)
	default:
		return math.Pow(10, float64(f)-224)
	}
}

// Amount decodes the selector into an actual token-unit fee for the given
// amount.
func (f FeeSelector) Amount(amount *big.Int) *big.Int {
	if f == 0 || amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Float).SetInt(amount)
	fee.Mul(fee, big.NewFloat(f.Percentage()))
	quantized, _ := fee.Int(nil)
	return quantized
}

// SelectorFromMinimum returns the lowest selector whose decoded fee covers
// minimumFee for the given amount. The decoded fee is always greater than or
// equal to minimumFee whenever one is representable; when even selector 255
// falls short (amount of zero) it is returned anyway.
func SelectorFromMinimum(minimumFee, amount *big.Int) FeeSelector {
	low, high := 0, 255
	for high-low > 1 {
		mid := (low + high) / 2
		if FeeSelector(mid).Amount(amount).Cmp(minimumFee) < 0 {
			low = mid
		} else {
			high = mid
		}
	}
	if FeeSelector(low).Amount(amount).Cmp(minimumFee) >= 0 {
		return FeeSelector(low)
	}
	return FeeSelector(high)
}

// QuantizedFee maps a minimum fee to the nearest representable fee selector
// for the given amount and decodes it back to the token-unit fee that will
// actually be paid. Quantization only rounds up, never down.
func QuantizedFee(amount, minimumFee *big.Int) *big.Int {
	return SelectorFromMinimum(minimumFee, amount).Amount(amount)
}

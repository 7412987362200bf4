// Package currency converts raw integer token amounts to human-scale fixed
// point strings and token amounts to fiat values in a preferred currency.
package currency

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rollupwallet/wallet-daemon/types"
)

// ToFixedTokenAmount divides a raw integer amount by 10^decimals and returns
// a human-scale decimal string. The fractional part keeps at least one digit
// and drops trailing zeros, so "1000000000000000000" with 18 decimals yields
// "1.0". Fails with types.ErrInvalidAmount when rawAmount is not a
// non-negative integer.
func ToFixedTokenAmount(rawAmount string, decimals uint8) (string, error) {
	amount, err := types.ParseAmount(rawAmount)
	if err != nil {
		return "", err
	}

	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	intPart, fracPart := new(big.Int).QuoRem(amount, base, new(big.Int))

	frac := fracPart.String()
	if pad := int(decimals) - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	return intPart.String() + "." + frac, nil
}

// FromFixedTokenAmount scales a fixed-point decimal string back to a raw
// integer amount in the token's smallest unit. Fails with
// types.ErrInvalidAmount when the input carries more precision than the
// token declares.
func FromFixedTokenAmount(fixedAmount string, decimals uint8) (*big.Int, error) {
	intStr, fracStr, found := strings.Cut(fixedAmount, ".")
	if !found {
		fracStr = ""
	}
	if intStr == "" {
		intStr = "0"
	}
	if len(fracStr) > int(decimals) {
		return nil, types.ErrInvalidAmount
	}
	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))

	intPart, err := types.ParseAmount(intStr)
	if err != nil {
		return nil, err
	}
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	amount := new(big.Int).Mul(intPart, base)
	if fracStr != "" {
		fracPart, err := types.ParseAmount(fracStr)
		if err != nil {
			return nil, err
		}
		amount.Add(amount, fracPart)
	}
	return amount, nil
}

// ToFiatAmount converts a fixed-point token amount into a fiat amount in the
// given currency. It reports false when the token has no USD price, when the
// currency is not USD and no exchange rate exists for it, or when the amount
// does not parse.
func ToFiatAmount(fixedAmount string, tokenUSDPrice *float64, currency string, rates types.FiatExchangeRates) (float64, bool) {
	if tokenUSDPrice == nil {
		return 0, false
	}

	rate := 1.0
	if currency != types.USDCurrency {
		r, ok := rates[currency]
		if !ok {
			return 0, false
		}
		rate = r
	}

	amount, err := decimal.NewFromString(fixedAmount)
	if err != nil {
		return 0, false
	}

	fiat := amount.
		Mul(decimal.NewFromFloat(*tokenUSDPrice)).
		Mul(decimal.NewFromFloat(rate))
	return fiat.InexactFloat64(), true
}

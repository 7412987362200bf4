// Package fees computes minimum and real fees for L1 and L2 transaction
// types from the coordinator's recommended fee schedule.
package fees

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rollupwallet/wallet-daemon/currency"
	"github.com/rollupwallet/wallet-daemon/types"
)

const (
	// MaxFeeUSD caps the USD fee in case the coordinator returns a crazy
	// recommendation.
	MaxFeeUSD = 10.0
	// MaxTokenDecimals limits the precision of fee amounts expressed in
	// token units.
	MaxTokenDecimals = 6
	// depositGasLimit is the fixed low gas-limit estimate for an L1
	// deposit transaction.
	depositGasLimit = 150000
)

// IsInternalAddress reports whether the receiver is a rollup-internal (BJJ)
// address rather than an Ethereum-backed one.
func IsInternalAddress(address string) bool {
	return strings.HasPrefix(address, "hez:") && !strings.HasPrefix(address, "hez:0x")
}

// MinimumL2Fee calculates the minimum fee, in token units, that a transfer
// or exit will pay before quantization. The USD tier depends on whether the
// receiving account already exists and whether the receiver is a
// rollup-internal address. When the fee schedule has not loaded or the token
// has no USD price it returns zero; callers must treat that as "fee
// unknown", not "fee waived".
func MinimumL2Fee(txType types.TxType, token types.Token, schedule *types.RecommendedFee, receiverAddress string, accountAlreadyExists bool) *big.Int {
	if schedule == nil || token.USD == nil || *token.USD == 0 {
		return big.NewInt(0)
	}

	var feeUSD float64
	switch {
	case txType == types.TxTypeExit || txType == types.TxTypeForceExit || accountAlreadyExists:
		feeUSD = schedule.ExistingAccount
	case IsInternalAddress(receiverAddress):
		feeUSD = schedule.CreateAccountInternal
	default:
		feeUSD = schedule.CreateAccount
	}
	if feeUSD > MaxFeeUSD {
		feeUSD = MaxFeeUSD
	}

	precision := int32(MaxTokenDecimals)
	if int32(token.Decimals) < precision {
		precision = int32(token.Decimals)
	}
	fee := decimal.NewFromFloat(feeUSD).
		Div(decimal.NewFromFloat(*token.USD)).
		Round(precision)

	amount, err := currency.FromFixedTokenAmount(fee.String(), token.Decimals)
	if err != nil {
		return big.NewInt(0)
	}
	return amount
}

// DepositFee estimates the L1 gas fee of a deposit at the current gas price.
func DepositFee(gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(big.NewInt(depositGasLimit), gasPrice)
}

// ForceExitFee is always zero: the sender pays it implicitly as L1 gas.
func ForceExitFee() *big.Int {
	return big.NewInt(0)
}

// EstimatedWithdrawFee is the total estimated fiat fee of a withdrawal,
// combining the L2 exit fee with the L1 withdraw fee. It reports false when
// either token lacks a price or the currency has no exchange rate.
func EstimatedWithdrawFee(exitFee *big.Int, token types.Token, l1Fee *big.Int, l1Token types.Token, preferredCurrency string, rates types.FiatExchangeRates) (float64, bool) {
	fixedExitFee, err := currency.ToFixedTokenAmount(exitFee.String(), token.Decimals)
	if err != nil {
		return 0, false
	}
	fixedL1Fee, err := currency.ToFixedTokenAmount(l1Fee.String(), l1Token.Decimals)
	if err != nil {
		return 0, false
	}

	exitFiat, ok := currency.ToFiatAmount(fixedExitFee, token.USD, preferredCurrency, rates)
	if !ok {
		return 0, false
	}
	l1Fiat, ok := currency.ToFiatAmount(fixedL1Fee, l1Token.USD, preferredCurrency, rates)
	if !ok {
		return 0, false
	}
	return exitFiat + l1Fiat, true
}

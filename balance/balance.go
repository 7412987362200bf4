// Package balance merges confirmed account state, pool transactions and
// locally tracked pending entries into a single projected balance per
// account. Precedence is confirmed > pool > optimistic local state.
package balance

import (
	"math/big"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/currency"
	"github.com/rollupwallet/wallet-daemon/fees"
	"github.com/rollupwallet/wallet-daemon/metrics"
	"github.com/rollupwallet/wallet-daemon/types"
)

// ProjectedAccount is a confirmed account annotated with the effective
// balance and pending flag derived from pool and local pending state.
type ProjectedAccount struct {
	types.Account
	EffectiveBalance string   `json:"effectiveBalance"`
	FiatBalance      *float64 `json:"fiatBalance,omitempty"`
	HasPending       bool     `json:"hasPending"`
}

// ComputeAccountBalance projects the effective balance of an account:
// the confirmed balance, minus amount and fee of every pool transaction
// spending from it (exits included, since exited funds leave circulation),
// plus every matching pending deposit that is not a create-account deposit.
// Pending withdraws never adjust the balance here: the debit already
// happened on L2 when the exit was forged, so subtracting again would
// double-count.
//
// The reported bool is true when the arithmetic went negative and the
// result was clamped to zero; a display anomaly, not a fatal error.
func ComputeAccountBalance(account types.Account, poolTxs []types.PoolTransaction, deposits []types.PendingDeposit) (*big.Int, bool, error) {
	balance, err := types.ParseAmount(account.Balance)
	if err != nil {
		return nil, false, err
	}

	for _, tx := range poolTxs {
		if tx.FromAccountIndex != account.AccountIndex || tx.Token.ID != account.Token.ID {
			continue
		}
		if tx.State == types.TxStateInvalid {
			continue
		}
		amount, err := types.ParseAmount(tx.Amount)
		if err != nil {
			return nil, false, err
		}
		balance.Sub(balance, amount)
		balance.Sub(balance, fees.FeeSelector(tx.Fee).Amount(amount))
	}

	for _, deposit := range deposits {
		if deposit.Token.ID != account.Token.ID || deposit.Type == types.TxTypeCreateAccountDeposit {
			continue
		}
		if !strings.EqualFold(deposit.ToHezEthereumAddress, account.HezEthereumAddress) {
			continue
		}
		amount, err := types.ParseAmount(deposit.Amount)
		if err != nil {
			return nil, false, err
		}
		balance.Add(balance, amount)
	}

	if balance.Sign() < 0 {
		return big.NewInt(0), true, nil
	}
	return balance, false, nil
}

// hasPendingEntry reports whether any local pending entry still affects the
// account. The switch is exhaustive over entry kinds so a new kind cannot
// silently skip the pending flag.
func hasPendingEntry(account types.Account, entries []types.PendingEntry) bool {
	for _, e := range entries {
		if e.TokenID() != account.Token.ID {
			continue
		}
		switch e.Kind() {
		case types.KindDeposit:
			d := e.(types.PendingDeposit)
			if d.Type != types.TxTypeCreateAccountDeposit && strings.EqualFold(d.Owner(), account.HezEthereumAddress) {
				return true
			}
		case types.KindWithdraw:
			if e.(types.PendingWithdraw).AccountIndex == account.AccountIndex {
				return true
			}
		case types.KindDelayedWithdraw:
			if e.(types.PendingDelayedWithdraw).AccountIndex == account.AccountIndex {
				return true
			}
		}
	}
	return false
}

// Projector turns confirmed accounts into projected ones using the current
// price and exchange-rate snapshot.
type Projector struct {
	PreferredCurrency string
	Rates             types.FiatExchangeRates
	TokenPrices       map[uint32]types.Token
	Log               *logrus.Logger
}

// Project computes the projected account for the given confirmed account
// and the current pool and pending state.
func (p *Projector) Project(account types.Account, poolTxs []types.PoolTransaction, deposits []types.PendingDeposit, withdraws []types.PendingWithdraw, delayed []types.PendingDelayedWithdraw) (ProjectedAccount, error) {
	effective, clamped, err := ComputeAccountBalance(account, poolTxs, deposits)
	if err != nil {
		return ProjectedAccount{}, err
	}
	if clamped {
		metrics.BalanceUnderflows.Inc()
		p.Log.WithFields(logrus.Fields{
			"accountIndex": account.AccountIndex,
			"token":        account.Token.Symbol,
		}).Warn("Projected balance went negative, clamped to zero")
	}

	projected := ProjectedAccount{
		Account:          account,
		EffectiveBalance: effective.String(),
	}

	fixed, err := currency.ToFixedTokenAmount(effective.String(), account.Token.Decimals)
	if err != nil {
		return ProjectedAccount{}, err
	}
	if fiat, ok := currency.ToFiatAmount(fixed, p.tokenPrice(account.Token), p.PreferredCurrency, p.Rates); ok {
		projected.FiatBalance = &fiat
	}

	entries := make([]types.PendingEntry, 0, len(deposits)+len(withdraws)+len(delayed))
	for _, d := range deposits {
		entries = append(entries, d)
	}
	for _, w := range withdraws {
		entries = append(entries, w)
	}
	for _, w := range delayed {
		entries = append(entries, w)
	}
	projected.HasPending = hasPendingEntry(account, entries) || hasPoolSpend(account, poolTxs)

	return projected, nil
}

func hasPoolSpend(account types.Account, poolTxs []types.PoolTransaction) bool {
	for _, tx := range poolTxs {
		if tx.FromAccountIndex == account.AccountIndex && tx.Token.ID == account.Token.ID && tx.State != types.TxStateInvalid {
			return true
		}
	}
	return false
}

// tokenPrice prefers the live price-feed entry over the price the account
// was fetched with.
func (p *Projector) tokenPrice(token types.Token) *float64 {
	if live, ok := p.TokenPrices[token.ID]; ok && live.USD != nil {
		return live.USD
	}
	return token.USD
}

// ComputeTotalFiatBalance sums the fiat balances of all projected accounts
// plus the fiat value of create-account deposits, which have no confirmed
// account to be projected through yet. Their price is looked up by token id
// in the price index since no account holds a live USD field for them.
func (p *Projector) ComputeTotalFiatBalance(accounts []ProjectedAccount, pendingCreateAccountDeposits []types.PendingDeposit) float64 {
	var total float64
	for _, account := range accounts {
		if account.FiatBalance != nil {
			total += *account.FiatBalance
		}
	}

	for _, deposit := range pendingCreateAccountDeposits {
		if deposit.Type != types.TxTypeCreateAccountDeposit {
			continue
		}
		fixed, err := currency.ToFixedTokenAmount(deposit.Amount, deposit.Token.Decimals)
		if err != nil {
			p.Log.WithError(err).WithField("hash", deposit.Hash).Warn("Skipping pending deposit with malformed amount")
			continue
		}
		if fiat, ok := currency.ToFiatAmount(fixed, p.tokenPrice(deposit.Token), p.PreferredCurrency, p.Rates); ok {
			total += fiat
		}
	}
	return total
}

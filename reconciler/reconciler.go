// Package reconciler prunes locally tracked pending entries once confirmed
// coordinator state subsumes them. Every pruning pass is idempotent and runs
// only against data from a fetch that succeeded; a failed fetch simply skips
// its cycle so no entry is ever dropped on missing information.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/metrics"
	"github.com/rollupwallet/wallet-daemon/store"
	"github.com/rollupwallet/wallet-daemon/types"
)

// DepositMatcher decides whether a confirmed account subsumes a pending
// deposit. The default is deliberately best-effort; see
// MatchAnyPostTimestampFetch.
type DepositMatcher func(deposit types.PendingDeposit, account types.Account, fetchedAt time.Time) bool

// MatchAnyPostTimestampFetch prunes a deposit once the matching account has
// materialized (accountIndex defined) and any successful fetch of it landed
// after the deposit was broadcast. It does not verify the balance delta, so
// it may over- or under-prune in rare races; a stricter matcher can be
// plugged in without touching the engine.
func MatchAnyPostTimestampFetch(deposit types.PendingDeposit, account types.Account, fetchedAt time.Time) bool {
	return account.AccountIndex != "" && fetchedAt.After(deposit.Timestamp)
}

// Delayer reports whether the withdrawal-delayer contract has already
// released a delayed withdrawal.
type Delayer interface {
	IsClaimed(ctx context.Context, withdraw types.PendingDelayedWithdraw) (bool, error)
}

// Reconciler removes pending entries that confirmed state has subsumed.
type Reconciler struct {
	deposits         *store.Deposits
	withdraws        *store.Withdraws
	delayedWithdraws *store.DelayedWithdraws
	matcher          DepositMatcher
	log              *logrus.Logger
}

// New creates a Reconciler over the three pending stores. A nil matcher
// falls back to MatchAnyPostTimestampFetch.
func New(deposits *store.Deposits, withdraws *store.Withdraws, delayedWithdraws *store.DelayedWithdraws, matcher DepositMatcher, log *logrus.Logger) *Reconciler {
	if matcher == nil {
		matcher = MatchAnyPostTimestampFetch
	}
	return &Reconciler{
		deposits:         deposits,
		withdraws:        withdraws,
		delayedWithdraws: delayedWithdraws,
		matcher:          matcher,
		log:              log,
	}
}

// PruneDeposits drops every pending deposit of the owner that a confirmed
// account from the given successful fetch subsumes. Deposits are keyed by
// token: once every deposit of a token is subsumed the whole group is
// removed under its token id; a deposit the matcher does not clear (e.g.
// broadcast after the fetch resolved) keeps its siblings removed by hash
// instead, so it is never pruned prematurely.
func (r *Reconciler) PruneDeposits(owner string, accounts []types.Account, fetchedAt time.Time) error {
	pending, err := r.deposits.GetByOwner(owner)
	if err != nil {
		return fmt.Errorf("failed to load pending deposits: %v", err)
	}

	byToken := make(map[uint32][]types.PendingDeposit)
	for _, deposit := range pending {
		byToken[deposit.Token.ID] = append(byToken[deposit.Token.ID], deposit)
	}

	for _, account := range accounts {
		deposits := byToken[account.Token.ID]
		if len(deposits) == 0 {
			continue
		}
		var matched []types.PendingDeposit
		for _, deposit := range deposits {
			if !strings.EqualFold(account.HezEthereumAddress, deposit.ToHezEthereumAddress) {
				continue
			}
			if r.matcher(deposit, account, fetchedAt) {
				matched = append(matched, deposit)
			}
		}
		if len(matched) == 0 {
			continue
		}
		if len(matched) == len(deposits) {
			if err := r.deposits.RemoveByToken(owner, account.Token.ID); err != nil {
				return err
			}
		} else {
			for _, deposit := range matched {
				if err := r.deposits.Remove(owner, deposit.Hash); err != nil {
					return err
				}
			}
		}
		for _, deposit := range matched {
			metrics.PrunedEntries.WithLabelValues(string(types.KindDeposit)).Inc()
			r.log.WithFields(logrus.Fields{
				"hash":  deposit.Hash,
				"token": deposit.Token.Symbol,
			}).Info("Pruned pending deposit")
		}
	}
	return nil
}

// PruneWithdraws drops every pending instant withdraw whose exit the
// coordinator no longer reports as pending, meaning it has settled.
// unsettledExits must come from a successful pending-withdraws query.
func (r *Reconciler) PruneWithdraws(owner string, unsettledExits []types.Exit) error {
	pending, err := r.withdraws.GetByOwner(owner)
	if err != nil {
		return fmt.Errorf("failed to load pending withdraws: %v", err)
	}

	stillPending := make(map[string]bool, len(unsettledExits))
	for _, exit := range unsettledExits {
		stillPending[withdrawalKey(exit.AccountIndex, exit.BatchNum)] = true
	}

	for _, withdraw := range pending {
		if stillPending[withdrawalKey(withdraw.AccountIndex, withdraw.BatchNum)] {
			continue
		}
		if err := r.withdraws.Remove(owner, withdraw.ID); err != nil {
			return err
		}
		metrics.PrunedEntries.WithLabelValues(string(types.KindWithdraw)).Inc()
		r.log.WithField("id", withdraw.ID).Info("Pruned settled instant withdraw")
	}
	return nil
}

// PruneDelayedWithdraws drops every pending delayed withdraw the delayer
// contract reports as claimed. A failed claim lookup leaves the entry
// untouched.
func (r *Reconciler) PruneDelayedWithdraws(ctx context.Context, owner string, delayer Delayer) error {
	pending, err := r.delayedWithdraws.GetByOwner(owner)
	if err != nil {
		return fmt.Errorf("failed to load pending delayed withdraws: %v", err)
	}

	for _, withdraw := range pending {
		claimed, err := delayer.IsClaimed(ctx, withdraw)
		if err != nil {
			r.log.WithError(err).WithField("id", withdraw.ID).Warn("Skipping delayed-withdraw prune, delayer state unavailable")
			continue
		}
		if !claimed {
			continue
		}
		if err := r.delayedWithdraws.Remove(owner, withdraw.ID); err != nil {
			return err
		}
		metrics.PrunedEntries.WithLabelValues(string(types.KindDelayedWithdraw)).Inc()
		r.log.WithField("id", withdraw.ID).Info("Pruned claimed delayed withdraw")
	}
	return nil
}

// RecoverDelayedWithdraws re-adds delayed withdraws that the coordinator
// reports as requested but that are missing from the local store, e.g. after
// the store was wiped. Adding is append-if-absent so recovery is idempotent.
func (r *Reconciler) RecoverDelayedWithdraws(owner string, exits []types.Exit) error {
	for _, exit := range exits {
		if exit.DelayedWithdrawRequest == nil || exit.DelayedWithdraw != nil {
			continue
		}
		withdraw := types.PendingDelayedWithdraw{
			ID:                 withdrawalKey(exit.AccountIndex, exit.BatchNum),
			HezEthereumAddress: owner,
			AccountIndex:       exit.AccountIndex,
			BatchNum:           exit.BatchNum,
			Token:              exit.Token,
			Balance:            exit.Balance,
			IsInstant:          false,
			Timestamp:          time.Now().UTC(),
		}
		if err := r.delayedWithdraws.Add(owner, withdraw); err != nil {
			return err
		}
	}
	return nil
}

// MergeDelayedWithdraws folds all pending delayed withdraws sharing a token
// into one synthetic entry per token whose balance is the sum of the
// constituents and whose batchNum is the most recent. Used when presenting
// the amount available to withdraw so overlapping delayed exits are neither
// under- nor double-counted.
func MergeDelayedWithdraws(withdraws []types.PendingDelayedWithdraw) ([]types.PendingDelayedWithdraw, error) {
	order := make([]uint32, 0, len(withdraws))
	byToken := make(map[uint32]types.PendingDelayedWithdraw, len(withdraws))

	for _, withdraw := range withdraws {
		amount, err := types.ParseAmount(withdraw.Balance)
		if err != nil {
			return nil, fmt.Errorf("delayed withdraw %s: %w", withdraw.ID, err)
		}

		merged, ok := byToken[withdraw.Token.ID]
		if !ok {
			order = append(order, withdraw.Token.ID)
			byToken[withdraw.Token.ID] = withdraw
			continue
		}

		total, err := types.ParseAmount(merged.Balance)
		if err != nil {
			return nil, fmt.Errorf("delayed withdraw %s: %w", merged.ID, err)
		}
		total.Add(total, amount)
		merged.Balance = total.String()
		if withdraw.BatchNum > merged.BatchNum {
			merged.BatchNum = withdraw.BatchNum
			merged.ID = withdraw.ID
		}
		byToken[withdraw.Token.ID] = merged
	}

	merged := make([]types.PendingDelayedWithdraw, 0, len(order))
	for _, tokenID := range order {
		merged = append(merged, byToken[tokenID])
	}
	return merged, nil
}

func withdrawalKey(accountIndex string, batchNum int64) string {
	return fmt.Sprintf("%s%d", accountIndex, batchNum)
}

// Package tracker builds the locally tracked pending entries registered
// right after a transaction is broadcast, before the coordinator reflects
// it anywhere.
package tracker

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/rollupwallet/wallet-daemon/types"
)

// WithdrawalID composes the identity key of a pending withdraw from the
// account index and the batch the exit was forged in.
func WithdrawalID(accountIndex string, batchNum int64) string {
	return fmt.Sprintf("%s%d", accountIndex, batchNum)
}

// NewPendingDeposit builds the optimistic deposit entry. When the owner has
// no confirmed account for the token yet the deposit also creates the
// account, which the projection engine treats differently, so the entry is
// tagged CreateAccountDeposit.
func NewPendingDeposit(hash, owner string, token types.Token, amount string, existing *types.Account) types.PendingDeposit {
	deposit := types.PendingDeposit{
		Hash:                   hash,
		FromHezEthereumAddress: owner,
		ToHezEthereumAddress:   owner,
		Token:                  token,
		Amount:                 amount,
		State:                  types.TxStatePending,
		Timestamp:              time.Now().UTC(),
		Type:                   types.TxTypeCreateAccountDeposit,
	}
	if existing != nil {
		deposit.Type = types.TxTypeDeposit
		deposit.AccountIndex = existing.AccountIndex
	}
	if deposit.Hash == "" {
		deposit.Hash = localID("deposit", owner, fmt.Sprint(token.ID), amount, deposit.Timestamp.String())
	}
	return deposit
}

// NewPendingWithdraw builds the entry tracking an instant withdrawal that
// was just executed on L1.
func NewPendingWithdraw(exit types.Exit, hash, owner string) types.PendingWithdraw {
	return types.PendingWithdraw{
		ID:                 WithdrawalID(exit.AccountIndex, exit.BatchNum),
		Hash:               hash,
		HezEthereumAddress: owner,
		AccountIndex:       exit.AccountIndex,
		BatchNum:           exit.BatchNum,
		Token:              exit.Token,
		Balance:            exit.Balance,
		Timestamp:          time.Now().UTC(),
	}
}

// NewPendingDelayedWithdraw builds the entry tracking a withdrawal routed
// through the delayer contract.
func NewPendingDelayedWithdraw(exit types.Exit, hash, owner string) types.PendingDelayedWithdraw {
	return types.PendingDelayedWithdraw{
		ID:                 WithdrawalID(exit.AccountIndex, exit.BatchNum),
		Hash:               hash,
		HezEthereumAddress: owner,
		AccountIndex:       exit.AccountIndex,
		BatchNum:           exit.BatchNum,
		Token:              exit.Token,
		Balance:            exit.Balance,
		IsInstant:          false,
		Timestamp:          time.Now().UTC(),
	}
}

// localID derives a deterministic identifier for entries registered before
// the broadcast hash is known.
func localID(parts ...string) string {
	h := sha3.NewLegacyKeccak256()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

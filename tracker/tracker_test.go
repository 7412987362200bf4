package tracker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rollupwallet/wallet-daemon/types"
)

const owner = "hez:0xaa942cfcd25ad4d90a62358b0dd84f33b398262a"

func TestWithdrawalID(t *testing.T) {
	assert.Equal(t, "hez:TKN:256150", WithdrawalID("hez:TKN:256", 150))
}

func TestNewPendingDeposit(t *testing.T) {
	token := types.Token{ID: 1, Symbol: "TKN", Decimals: 18}

	deposit := NewPendingDeposit("0xabc", owner, token, "100", nil)
	assert.Equal(t, types.TxTypeCreateAccountDeposit, deposit.Type, "no existing account means the deposit creates one")
	assert.Equal(t, "0xabc", deposit.Hash)
	assert.Equal(t, owner, deposit.ToHezEthereumAddress)
	assert.Equal(t, types.TxStatePending, deposit.State)
	assert.Empty(t, deposit.AccountIndex)

	existing := &types.Account{AccountIndex: "hez:TKN:256"}
	deposit = NewPendingDeposit("0xabc", owner, token, "100", existing)
	assert.Equal(t, types.TxTypeDeposit, deposit.Type)
	assert.Equal(t, "hez:TKN:256", deposit.AccountIndex)
}

func TestNewPendingDepositDerivesLocalID(t *testing.T) {
	token := types.Token{ID: 1, Symbol: "TKN", Decimals: 18}

	deposit := NewPendingDeposit("", owner, token, "100", nil)
	assert.True(t, strings.HasPrefix(deposit.Hash, "0x"))
	assert.Len(t, deposit.Hash, 66)
}

func TestNewPendingWithdraw(t *testing.T) {
	exit := types.Exit{
		AccountIndex: "hez:TKN:256",
		BatchNum:     150,
		Token:        types.Token{ID: 1},
		Balance:      "100",
	}

	withdraw := NewPendingWithdraw(exit, "0xabc", owner)
	assert.Equal(t, "hez:TKN:256150", withdraw.ID)
	assert.Equal(t, "100", withdraw.Balance)
	assert.Equal(t, owner, withdraw.HezEthereumAddress)

	delayed := NewPendingDelayedWithdraw(exit, "0xabc", owner)
	assert.Equal(t, "hez:TKN:256150", delayed.ID)
	assert.False(t, delayed.IsInstant)
}

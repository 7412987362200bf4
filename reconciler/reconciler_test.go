package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupwallet/wallet-daemon/db"
	"github.com/rollupwallet/wallet-daemon/store"
	"github.com/rollupwallet/wallet-daemon/types"
)

const owner = "hez:0xaa942cfcd25ad4d90a62358b0dd84f33b398262a"

type fixture struct {
	deposits         *store.Deposits
	withdraws        *store.Withdraws
	delayedWithdraws *store.DelayedWithdraws
	reconciler       *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := db.NewMemDB()
	deposits := store.NewDeposits(database)
	withdraws := store.NewWithdraws(database)
	delayed := store.NewDelayedWithdraws(database)
	return &fixture{
		deposits:         deposits,
		withdraws:        withdraws,
		delayedWithdraws: delayed,
		reconciler:       New(deposits, withdraws, delayed, nil, logrus.New()),
	}
}

type fakeDelayer struct {
	claimed map[string]bool
	err     error
}

func (f fakeDelayer) IsClaimed(_ context.Context, w types.PendingDelayedWithdraw) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.claimed[w.ID], nil
}

func TestPruneDeposits(t *testing.T) {
	f := newFixture(t)
	broadcastAt := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
		Hash:                 "0x01",
		ToHezEthereumAddress: owner,
		Token:                types.Token{ID: 1},
		Amount:               "100",
		Timestamp:            broadcastAt,
		Type:                 types.TxTypeDeposit,
	}))
	require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
		Hash:                 "0x02",
		ToHezEthereumAddress: owner,
		Token:                types.Token{ID: 2},
		Amount:               "100",
		Timestamp:            broadcastAt,
		Type:                 types.TxTypeDeposit,
	}))

	accounts := []types.Account{{
		AccountIndex:       "hez:TKN:256",
		HezEthereumAddress: owner,
		Token:              types.Token{ID: 1},
		Balance:            "100",
	}}

	require.NoError(t, f.reconciler.PruneDeposits(owner, accounts, time.Now().UTC()))

	remaining, err := f.deposits.GetByOwner(owner)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "only the deposit with a matching confirmed account is pruned")
	assert.Equal(t, "0x02", remaining[0].Hash)

	// pruning again changes nothing
	require.NoError(t, f.reconciler.PruneDeposits(owner, accounts, time.Now().UTC()))
	remaining, err = f.deposits.GetByOwner(owner)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPruneDepositsRemovesWholeTokenGroup(t *testing.T) {
	f := newFixture(t)
	broadcastAt := time.Now().UTC().Add(-time.Minute)

	for _, hash := range []string{"0x01", "0x02"} {
		require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
			Hash:                 hash,
			ToHezEthereumAddress: owner,
			Token:                types.Token{ID: 1},
			Amount:               "100",
			Timestamp:            broadcastAt,
			Type:                 types.TxTypeDeposit,
		}))
	}
	require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
		Hash:                 "0x03",
		ToHezEthereumAddress: owner,
		Token:                types.Token{ID: 2},
		Amount:               "100",
		Timestamp:            broadcastAt,
		Type:                 types.TxTypeDeposit,
	}))

	accounts := []types.Account{{
		AccountIndex:       "hez:TKN:256",
		HezEthereumAddress: owner,
		Token:              types.Token{ID: 1},
		Balance:            "200",
	}}
	require.NoError(t, f.reconciler.PruneDeposits(owner, accounts, time.Now().UTC()))

	remaining, err := f.deposits.GetByOwner(owner)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "every subsumed deposit of the token is dropped in one pass")
	assert.Equal(t, "0x03", remaining[0].Hash)
}

func TestPruneDepositsKeepsUnmatchedSibling(t *testing.T) {
	f := newFixture(t)
	fetchedAt := time.Now().UTC()

	require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
		Hash:                 "0x01",
		ToHezEthereumAddress: owner,
		Token:                types.Token{ID: 1},
		Amount:               "100",
		Timestamp:            fetchedAt.Add(-time.Minute),
		Type:                 types.TxTypeDeposit,
	}))
	// broadcast after the fetch resolved, must survive the prune
	require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
		Hash:                 "0x02",
		ToHezEthereumAddress: owner,
		Token:                types.Token{ID: 1},
		Amount:               "100",
		Timestamp:            fetchedAt.Add(time.Minute),
		Type:                 types.TxTypeDeposit,
	}))

	accounts := []types.Account{{
		AccountIndex:       "hez:TKN:256",
		HezEthereumAddress: owner,
		Token:              types.Token{ID: 1},
		Balance:            "100",
	}}
	require.NoError(t, f.reconciler.PruneDeposits(owner, accounts, fetchedAt))

	remaining, err := f.deposits.GetByOwner(owner)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "0x02", remaining[0].Hash)
}

func TestPruneDepositsNeverPrunesOnStaleFetch(t *testing.T) {
	f := newFixture(t)
	broadcastAt := time.Now().UTC()

	require.NoError(t, f.deposits.Add(owner, types.PendingDeposit{
		Hash:                 "0x01",
		ToHezEthereumAddress: owner,
		Token:                types.Token{ID: 1},
		Amount:               "100",
		Timestamp:            broadcastAt,
		Type:                 types.TxTypeDeposit,
	}))

	accounts := []types.Account{{
		AccountIndex:       "hez:TKN:256",
		HezEthereumAddress: owner,
		Token:              types.Token{ID: 1},
		Balance:            "100",
	}}

	// the fetch resolved before the deposit was broadcast
	require.NoError(t, f.reconciler.PruneDeposits(owner, accounts, broadcastAt.Add(-time.Minute)))

	remaining, err := f.deposits.GetByOwner(owner)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPruneWithdraws(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.withdraws.Add(owner, types.PendingWithdraw{
		ID:                 "hez:TKN:256150",
		HezEthereumAddress: owner,
		AccountIndex:       "hez:TKN:256",
		BatchNum:           150,
		Balance:            "100",
	}))
	require.NoError(t, f.withdraws.Add(owner, types.PendingWithdraw{
		ID:                 "hez:TKN:256160",
		HezEthereumAddress: owner,
		AccountIndex:       "hez:TKN:256",
		BatchNum:           160,
		Balance:            "200",
	}))

	// batch 160 is still reported unsettled, batch 150 is not
	unsettled := []types.Exit{{AccountIndex: "hez:TKN:256", BatchNum: 160, Balance: "200"}}
	require.NoError(t, f.reconciler.PruneWithdraws(owner, unsettled))

	remaining, err := f.withdraws.GetByOwner(owner)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "hez:TKN:256160", remaining[0].ID)

	require.NoError(t, f.reconciler.PruneWithdraws(owner, unsettled))
	remaining, err = f.withdraws.GetByOwner(owner)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPruneDelayedWithdraws(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.delayedWithdraws.Add(owner, types.PendingDelayedWithdraw{
		ID: "hez:TKN:256150", HezEthereumAddress: owner, AccountIndex: "hez:TKN:256", BatchNum: 150, Balance: "100",
	}))
	require.NoError(t, f.delayedWithdraws.Add(owner, types.PendingDelayedWithdraw{
		ID: "hez:TKN:256160", HezEthereumAddress: owner, AccountIndex: "hez:TKN:256", BatchNum: 160, Balance: "200",
	}))

	delayer := fakeDelayer{claimed: map[string]bool{"hez:TKN:256150": true}}
	require.NoError(t, f.reconciler.PruneDelayedWithdraws(context.Background(), owner, delayer))

	remaining, err := f.delayedWithdraws.GetByOwner(owner)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "hez:TKN:256160", remaining[0].ID)
}

func TestPruneDelayedWithdrawsKeepsEntriesOnDelayerError(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.delayedWithdraws.Add(owner, types.PendingDelayedWithdraw{
		ID: "hez:TKN:256150", HezEthereumAddress: owner, AccountIndex: "hez:TKN:256", BatchNum: 150, Balance: "100",
	}))

	delayer := fakeDelayer{err: errors.New("rpc unavailable")}
	require.NoError(t, f.reconciler.PruneDelayedWithdraws(context.Background(), owner, delayer))

	remaining, err := f.delayedWithdraws.GetByOwner(owner)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "an unreachable delayer must never cause pruning")
}

func TestRecoverDelayedWithdraws(t *testing.T) {
	f := newFixture(t)
	requestedAt := int64(12345)
	settledAt := int64(12400)

	exits := []types.Exit{
		{AccountIndex: "hez:TKN:256", BatchNum: 150, Balance: "100", DelayedWithdrawRequest: &requestedAt},
		{AccountIndex: "hez:TKN:256", BatchNum: 160, Balance: "200", DelayedWithdrawRequest: &requestedAt, DelayedWithdraw: &settledAt},
		{AccountIndex: "hez:TKN:256", BatchNum: 170, Balance: "300"},
	}

	require.NoError(t, f.reconciler.RecoverDelayedWithdraws(owner, exits))

	recovered, err := f.delayedWithdraws.GetByOwner(owner)
	require.NoError(t, err)
	require.Len(t, recovered, 1, "only requested-but-unsettled exits are recovered")
	assert.Equal(t, "hez:TKN:256150", recovered[0].ID)
	assert.False(t, recovered[0].IsInstant)

	// recovery is idempotent
	require.NoError(t, f.reconciler.RecoverDelayedWithdraws(owner, exits))
	recovered, err = f.delayedWithdraws.GetByOwner(owner)
	require.NoError(t, err)
	assert.Len(t, recovered, 1)
}

func TestMergeDelayedWithdraws(t *testing.T) {
	withdraws := []types.PendingDelayedWithdraw{
		{ID: "a150", BatchNum: 150, Token: types.Token{ID: 1}, Balance: "100"},
		{ID: "b140", BatchNum: 140, Token: types.Token{ID: 2}, Balance: "50"},
		{ID: "a160", BatchNum: 160, Token: types.Token{ID: 1}, Balance: "25"},
	}

	merged, err := MergeDelayedWithdraws(withdraws)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	// first-seen token order is preserved
	assert.Equal(t, uint32(1), merged[0].Token.ID)
	assert.Equal(t, "125", merged[0].Balance)
	assert.Equal(t, int64(160), merged[0].BatchNum, "the merged entry carries the most recent batch")
	assert.Equal(t, "a160", merged[0].ID)

	assert.Equal(t, uint32(2), merged[1].Token.ID)
	assert.Equal(t, "50", merged[1].Balance)
}

func TestMergeDelayedWithdrawsRejectsMalformedBalance(t *testing.T) {
	_, err := MergeDelayedWithdraws([]types.PendingDelayedWithdraw{
		{ID: "a150", Token: types.Token{ID: 1}, Balance: "nope"},
	})
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestMergeDelayedWithdrawsEmpty(t *testing.T) {
	merged, err := MergeDelayedWithdraws(nil)
	require.NoError(t, err)
	assert.Empty(t, merged)
}

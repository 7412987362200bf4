package balance

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollupwallet/wallet-daemon/types"
)

const owner = "hez:0xaa942cfcd25ad4d90a62358b0dd84f33b398262a"

func testAccount(balance string) types.Account {
	return types.Account{
		AccountIndex:       "hez:TKN:256",
		HezEthereumAddress: owner,
		Token:              types.Token{ID: 1, Symbol: "TKN", Decimals: 18},
		Balance:            balance,
	}
}

func poolTx(amount string, fee uint8, state types.TxState) types.PoolTransaction {
	return types.PoolTransaction{
		ID:               "0xtx",
		Type:             types.TxTypeTransfer,
		FromAccountIndex: "hez:TKN:256",
		Token:            types.Token{ID: 1},
		Amount:           amount,
		Fee:              fee,
		State:            state,
	}
}

func TestComputeAccountBalance(t *testing.T) {
	tests := map[string]struct {
		account  types.Account
		poolTxs  []types.PoolTransaction
		deposits []types.PendingDeposit
		expected string
		clamped  bool
	}{
		"no adjustments": {
			account:  testAccount("100"),
			expected: "100",
		},
		"pool transaction subtracts amount": {
			account:  testAccount("100"),
			poolTxs:  []types.PoolTransaction{poolTx("30", 0, types.TxStatePending)},
			expected: "70",
		},
		"pool transaction subtracts fee too": {
			account: testAccount("100"),
			// selector 224 pays 100% of the amount as fee
			poolTxs:  []types.PoolTransaction{poolTx("30", 224, types.TxStatePending)},
			expected: "40",
		},
		"invalid pool transaction ignored": {
			account:  testAccount("100"),
			poolTxs:  []types.PoolTransaction{poolTx("30", 0, types.TxStateInvalid)},
			expected: "100",
		},
		"pool transaction of another account ignored": {
			account: testAccount("100"),
			poolTxs: []types.PoolTransaction{{
				FromAccountIndex: "hez:TKN:999",
				Token:            types.Token{ID: 1},
				Amount:           "30",
				State:            types.TxStatePending,
			}},
			expected: "100",
		},
		"pending deposit adds amount": {
			account: testAccount("100"),
			deposits: []types.PendingDeposit{{
				Hash:                 "0x01",
				ToHezEthereumAddress: owner,
				Token:                types.Token{ID: 1},
				Amount:               "25",
				Type:                 types.TxTypeDeposit,
			}},
			expected: "125",
		},
		"create-account deposit not added": {
			account: testAccount("100"),
			deposits: []types.PendingDeposit{{
				Hash:                 "0x01",
				ToHezEthereumAddress: owner,
				Token:                types.Token{ID: 1},
				Amount:               "25",
				Type:                 types.TxTypeCreateAccountDeposit,
			}},
			expected: "100",
		},
		"deposit to another owner ignored": {
			account: testAccount("100"),
			deposits: []types.PendingDeposit{{
				Hash:                 "0x01",
				ToHezEthereumAddress: "hez:0xother",
				Token:                types.Token{ID: 1},
				Amount:               "25",
				Type:                 types.TxTypeDeposit,
			}},
			expected: "100",
		},
		"negative projection clamps to zero": {
			account:  testAccount("10"),
			poolTxs:  []types.PoolTransaction{poolTx("30", 0, types.TxStatePending)},
			expected: "0",
			clamped:  true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			balance, clamped, err := ComputeAccountBalance(tt.account, tt.poolTxs, tt.deposits)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, balance.String())
			assert.Equal(t, tt.clamped, clamped)
		})
	}
}

func TestComputeAccountBalanceMalformedAmount(t *testing.T) {
	_, _, err := ComputeAccountBalance(testAccount("nope"), nil, nil)
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestProjectorProject(t *testing.T) {
	livePrice := 2.0
	p := &Projector{
		PreferredCurrency: "EUR",
		Rates:             types.FiatExchangeRates{"EUR": 0.9},
		TokenPrices:       map[uint32]types.Token{1: {ID: 1, USD: &livePrice}},
		Log:               logrus.New(),
	}

	account := testAccount("2000000000000000000") // 2 TKN
	projected, err := p.Project(account, nil, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "2000000000000000000", projected.EffectiveBalance)
	require.NotNil(t, projected.FiatBalance)
	assert.InDelta(t, 3.6, *projected.FiatBalance, 1e-9) // 2 * 2.0 USD * 0.9
	assert.False(t, projected.HasPending)
}

func TestProjectorProjectFlagsPending(t *testing.T) {
	p := &Projector{PreferredCurrency: "USD", Log: logrus.New()}
	account := testAccount("100")

	withdraws := []types.PendingWithdraw{{
		ID:           "hez:TKN:256150",
		AccountIndex: "hez:TKN:256",
		Token:        types.Token{ID: 1},
		Balance:      "50",
	}}
	projected, err := p.Project(account, nil, nil, withdraws, nil)
	require.NoError(t, err)
	// withdrawn funds already left the confirmed balance, only the flag is set
	assert.Equal(t, "100", projected.EffectiveBalance)
	assert.True(t, projected.HasPending)
	assert.Nil(t, projected.FiatBalance, "no price known for the token")

	poolTxs := []types.PoolTransaction{poolTx("30", 0, types.TxStatePending)}
	projected, err = p.Project(account, poolTxs, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "70", projected.EffectiveBalance)
	assert.True(t, projected.HasPending)
}

func TestComputeTotalFiatBalance(t *testing.T) {
	price := 2.0
	p := &Projector{
		PreferredCurrency: "USD",
		TokenPrices:       map[uint32]types.Token{1: {ID: 1, USD: &price}},
		Log:               logrus.New(),
	}

	fiatA, fiatB := 10.0, 2.5
	accounts := []ProjectedAccount{
		{FiatBalance: &fiatA},
		{FiatBalance: &fiatB},
		{}, // no price, contributes nothing
	}
	deposits := []types.PendingDeposit{
		{
			Hash:   "0x01",
			Token:  types.Token{ID: 1, Decimals: 18},
			Amount: "1000000000000000000", // 1 TKN = 2 USD
			Type:   types.TxTypeCreateAccountDeposit,
		},
		{
			Hash:   "0x02",
			Token:  types.Token{ID: 1, Decimals: 18},
			Amount: "1000000000000000000",
			Type:   types.TxTypeDeposit, // not a create-account deposit, skipped
		},
	}

	total := p.ComputeTotalFiatBalance(accounts, deposits)
	assert.InDelta(t, 14.5, total, 1e-9)
}

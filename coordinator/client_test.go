package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAccountsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		assert.Equal(t, "hez:0xaabb", r.URL.Query().Get("hezEthereumAddress"))
		assert.Equal(t, "1,2", r.URL.Query().Get("tokenIds"))
		assert.Equal(t, "5", r.URL.Query().Get("fromItem"))
		w.Write([]byte(`{"accounts":[{"accountIndex":"hez:TKN:256","balance":"100","token":{"id":1}}],"pendingItems":3}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	fromItem := uint(5)
	res, err := client.GetAccounts(context.Background(), "hez:0xaabb", []uint32{1, 2}, &fromItem, nil)
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	assert.Equal(t, "hez:TKN:256", res.Accounts[0].AccountIndex)
	assert.Equal(t, uint64(3), res.PendingItems)
}

func TestGetExitsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exits", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("onlyPendingWithdraws"))
		w.Write([]byte(`{"exits":[{"accountIndex":"hez:TKN:256","batchNum":150,"balance":"100"}],"pendingItems":0}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	res, err := client.GetExits(context.Background(), "hez:0xaabb", true, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Exits, 1)
	assert.Equal(t, int64(150), res.Exits[0].BatchNum)
	assert.Nil(t, res.Exits[0].InstantWithdraw)
}

func TestGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	_, err := client.GetAccount(context.Background(), "hez:TKN:256")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"recommendedFee":{"existingAccount":0.1}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	state, err := client.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.1, state.RecommendedFee.ExistingAccount)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	_, err := client.GetState(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetPoolTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions-pool", r.URL.Path)
		assert.Equal(t, "hez:TKN:256", r.URL.Query().Get("accountIndex"))
		w.Write([]byte(`{"transactions":[{"id":"0xtx","fromAccountIndex":"hez:TKN:256","amount":"30","fee":32,"state":"pend","token":{"id":1}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	txs, err := client.GetPoolTransactions(context.Background(), "hez:TKN:256", "")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint8(32), txs[0].Fee)
}

package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFiatExchangeRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchange-rates", r.URL.Path)
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		assert.Equal(t, "EUR|JPY", r.URL.Query().Get("symbols"))
		w.Write([]byte(`{"rates":{"EUR":0.9,"JPY":150.2}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	rates, err := client.GetFiatExchangeRates(context.Background(), []string{"EUR", "JPY"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, rates["EUR"])
	assert.Equal(t, 150.2, rates["JPY"])
}

func TestUpdaterKeepsSnapshotOnFailure(t *testing.T) {
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/exchange-rates":
			w.Write([]byte(`{"rates":{"EUR":0.9}}`))
		case "/tokens":
			w.Write([]byte(`{"tokens":[{"id":1,"symbol":"TKN","decimals":18,"USD":2.5}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, logrus.New())
	updater := NewUpdater(client, []string{"EUR"}, time.Minute, logrus.New())

	updater.refresh(context.Background())
	require.Equal(t, 0.9, updater.Rates()["EUR"])
	prices := updater.TokenPrices()
	require.Contains(t, prices, uint32(1))
	require.NotNil(t, prices[1].USD)
	assert.Equal(t, 2.5, *prices[1].USD)

	// a failed refresh leaves the previous snapshot in place
	failing.Store(true)
	updater.refresh(context.Background())
	assert.Equal(t, 0.9, updater.Rates()["EUR"])
	assert.Contains(t, updater.TokenPrices(), uint32(1))
}

func TestUpdaterSnapshotsAreCopies(t *testing.T) {
	updater := NewUpdater(NewClient("http://127.0.0.1:0", logrus.New()), nil, time.Minute, logrus.New())

	rates := updater.Rates()
	rates["EUR"] = 1.23
	assert.NotContains(t, updater.Rates(), "EUR")
}

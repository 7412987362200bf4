// Package pricefeed fetches USD token prices and fiat exchange rates and
// keeps a periodically refreshed snapshot for the projection engine.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/types"
)

// Client talks to the fiat price feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a price feed client for the given base URL.
func NewClient(baseURL string, log *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type exchangeRatesResponse struct {
	Rates types.FiatExchangeRates `json:"rates"`
}

type tokensPriceResponse struct {
	Tokens []types.Token `json:"tokens"`
}

// GetFiatExchangeRates fetches the USD exchange rates for the requested
// ISO 4217 currency codes.
func (c *Client) GetFiatExchangeRates(ctx context.Context, symbols []string) (types.FiatExchangeRates, error) {
	query := url.Values{}
	query.Set("base", types.USDCurrency)
	query.Set("symbols", strings.Join(symbols, "|"))

	var res exchangeRatesResponse
	if err := c.get(ctx, "/exchange-rates", query, &res); err != nil {
		return nil, err
	}
	return res.Rates, nil
}

// GetTokensPrice fetches the current token list with USD prices populated.
func (c *Client) GetTokensPrice(ctx context.Context) ([]types.Token, error) {
	var res tokensPriceResponse
	if err := c.get(ctx, "/tokens", nil, &res); err != nil {
		return nil, err
	}
	return res.Tokens, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	body, err := backoff.RetryWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("could not build request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("could not make http call: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("could not read response body: %w", err)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(fmt.Errorf("price feed rejected request: %s", resp.Status))
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("price feed unavailable: %s", resp.Status)
		}
		return data, nil
	}, backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(time.Second*3),
		backoff.WithInitialInterval(time.Millisecond*100),
	), ctx))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

// Updater keeps the latest price and exchange-rate snapshot, refreshing it
// on a fixed interval. A failed refresh keeps the previous snapshot; the
// engine degrades to stale prices rather than blocking.
type Updater struct {
	client   *Client
	symbols  []string
	interval time.Duration
	log      *logrus.Logger

	mu     sync.RWMutex
	rates  types.FiatExchangeRates
	prices map[uint32]types.Token
}

// NewUpdater creates an Updater refreshing the given currency symbols every
// interval.
func NewUpdater(client *Client, symbols []string, interval time.Duration, log *logrus.Logger) *Updater {
	return &Updater{
		client:   client,
		symbols:  symbols,
		interval: interval,
		log:      log,
		rates:    make(types.FiatExchangeRates),
		prices:   make(map[uint32]types.Token),
	}
}

// Start refreshes the snapshot once immediately, then on every tick until
// the context is cancelled.
func (u *Updater) Start(ctx context.Context) {
	u.refresh(ctx)

	t := time.NewTicker(u.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			u.refresh(ctx)
		}
	}
}

func (u *Updater) refresh(ctx context.Context) {
	rates, err := u.client.GetFiatExchangeRates(ctx, u.symbols)
	if err != nil {
		u.log.WithError(err).Warn("Failed to refresh fiat exchange rates, keeping previous snapshot")
	} else {
		u.mu.Lock()
		u.rates = rates
		u.mu.Unlock()
	}

	tokens, err := u.client.GetTokensPrice(ctx)
	if err != nil {
		u.log.WithError(err).Warn("Failed to refresh token prices, keeping previous snapshot")
		return
	}
	prices := make(map[uint32]types.Token, len(tokens))
	for _, token := range tokens {
		prices[token.ID] = token
	}
	u.mu.Lock()
	u.prices = prices
	u.mu.Unlock()
	u.log.WithField("tokens", len(tokens)).Debug("Refreshed token prices")
}

// Rates returns the latest fiat exchange rates.
func (u *Updater) Rates() types.FiatExchangeRates {
	u.mu.RLock()
	defer u.mu.RUnlock()
	rates := make(types.FiatExchangeRates, len(u.rates))
	for k, v := range u.rates {
		rates[k] = v
	}
	return rates
}

// TokenPrices returns the latest token price index keyed by token id.
func (u *Updater) TokenPrices() map[uint32]types.Token {
	u.mu.RLock()
	defer u.mu.RUnlock()
	prices := make(map[uint32]types.Token, len(u.prices))
	for k, v := range u.prices {
		prices[k] = v
	}
	return prices
}

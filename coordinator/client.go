// Package coordinator is a typed client for the rollup coordinator REST
// API. It only retries at the transport level; the engine on top never
// retries a failed fetch by itself.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/types"
)

// ErrNotFound is returned when the coordinator does not know the requested
// resource.
var ErrNotFound = errors.New("resource not found")

// Client talks to a rollup coordinator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a coordinator client for the given base URL.
func NewClient(baseURL string, log *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// AccountsResponse is one page of accounts plus the number of items left
// beyond it.
type AccountsResponse struct {
	Accounts     []types.Account `json:"accounts"`
	PendingItems uint64          `json:"pendingItems"`
}

// ExitsResponse is one page of exits plus the number of items left beyond
// it.
type ExitsResponse struct {
	Exits        []types.Exit `json:"exits"`
	PendingItems uint64       `json:"pendingItems"`
}

// TransactionsResponse is one page of forged history transactions.
type TransactionsResponse struct {
	Transactions []types.HistoryTransaction `json:"transactions"`
	PendingItems uint64                     `json:"pendingItems"`
}

// TokensResponse is one page of registered tokens.
type TokensResponse struct {
	Tokens       []types.Token `json:"tokens"`
	PendingItems uint64        `json:"pendingItems"`
}

type poolTransactionsResponse struct {
	Transactions []types.PoolTransaction `json:"transactions"`
}

// GetAccounts fetches one page of accounts owned by the given address,
// optionally filtered by token ids.
func (c *Client) GetAccounts(ctx context.Context, address string, tokenIDs []uint32, fromItem *uint, limit *uint) (*AccountsResponse, error) {
	query := url.Values{}
	query.Set("hezEthereumAddress", address)
	if len(tokenIDs) > 0 {
		ids := make([]string, len(tokenIDs))
		for i, id := range tokenIDs {
			ids[i] = strconv.FormatUint(uint64(id), 10)
		}
		query.Set("tokenIds", strings.Join(ids, ","))
	}
	if fromItem != nil {
		query.Set("fromItem", strconv.FormatUint(uint64(*fromItem), 10))
	}
	if limit != nil {
		query.Set("limit", strconv.FormatUint(uint64(*limit), 10))
	}

	var res AccountsResponse
	if err := c.get(ctx, "/accounts", query, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetAccount fetches a single account by index.
func (c *Client) GetAccount(ctx context.Context, accountIndex string) (*types.Account, error) {
	var account types.Account
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountIndex), nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetExits fetches the exits of an address. With onlyPendingWithdraws set
// the coordinator returns only exits that have not settled yet.
func (c *Client) GetExits(ctx context.Context, address string, onlyPendingWithdraws bool, tokenID *uint32, fromItem *uint) (*ExitsResponse, error) {
	query := url.Values{}
	query.Set("hezEthereumAddress", address)
	query.Set("onlyPendingWithdraws", strconv.FormatBool(onlyPendingWithdraws))
	if tokenID != nil {
		query.Set("tokenId", strconv.FormatUint(uint64(*tokenID), 10))
	}
	if fromItem != nil {
		query.Set("fromItem", strconv.FormatUint(uint64(*fromItem), 10))
	}

	var res ExitsResponse
	if err := c.get(ctx, "/exits", query, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetExit fetches a single exit by batch number and account index.
func (c *Client) GetExit(ctx context.Context, batchNum int64, accountIndex string) (*types.Exit, error) {
	path := fmt.Sprintf("/batches/%d/pending-exits/%s", batchNum, url.PathEscape(accountIndex))
	var exit types.Exit
	if err := c.get(ctx, path, nil, &exit); err != nil {
		return nil, err
	}
	return &exit, nil
}

// GetPoolTransactions fetches the unforged pool transactions of an account.
// Either accountIndex or the compressed public key may be empty.
func (c *Client) GetPoolTransactions(ctx context.Context, accountIndex, publicKeyCompressedHex string) ([]types.PoolTransaction, error) {
	query := url.Values{}
	if accountIndex != "" {
		query.Set("accountIndex", accountIndex)
	}
	if publicKeyCompressedHex != "" {
		query.Set("BJJ", publicKeyCompressedHex)
	}

	var res poolTransactionsResponse
	if err := c.get(ctx, "/transactions-pool", query, &res); err != nil {
		return nil, err
	}
	return res.Transactions, nil
}

// GetTransactions fetches one page of forged history transactions for an
// address.
func (c *Client) GetTransactions(ctx context.Context, address string, tokenID *uint32, fromItem *uint) (*TransactionsResponse, error) {
	query := url.Values{}
	query.Set("hezEthereumAddress", address)
	if tokenID != nil {
		query.Set("tokenId", strconv.FormatUint(uint64(*tokenID), 10))
	}
	if fromItem != nil {
		query.Set("fromItem", strconv.FormatUint(uint64(*fromItem), 10))
	}

	var res TransactionsResponse
	if err := c.get(ctx, "/transactions-history", query, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetState fetches the coordinator status, including the recommended fee
// schedule.
func (c *Client) GetState(ctx context.Context) (*types.CoordinatorState, error) {
	var state types.CoordinatorState
	if err := c.get(ctx, "/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetTokens fetches one page of registered tokens.
func (c *Client) GetTokens(ctx context.Context, fromItem *uint, limit *uint) (*TokensResponse, error) {
	query := url.Values{}
	if fromItem != nil {
		query.Set("fromItem", strconv.FormatUint(uint64(*fromItem), 10))
	}
	if limit != nil {
		query.Set("limit", strconv.FormatUint(uint64(*limit), 10))
	}

	var res TokensResponse
	if err := c.get(ctx, "/tokens", query, &res); err != nil {
		return nil, err
	}
	return &res, nil
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
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(ErrNotFound)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, backoff.Permanent(fmt.Errorf("coordinator rejected request: %s", resp.Status))
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("coordinator unavailable: %s", resp.Status)
		}
		return data, nil
	}, backoff.WithContext(newExponentialBackoffConfig(), ctx))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

func newExponentialBackoffConfig() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(time.Second*3),
		backoff.WithMaxInterval(time.Second),
		backoff.WithInitialInterval(time.Millisecond*100),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.2),
	)
}

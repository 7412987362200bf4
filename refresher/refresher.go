// Package refresher coordinates paginated re-fetching of a previously
// loaded account list. At most one refresh is in flight at a time: a new
// refresh cancels the previous one, and a superseded refresh's results are
// discarded at the point of consumption through a generation counter, never
// surfaced as an error.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rollupwallet/wallet-daemon/balance"
	"github.com/rollupwallet/wallet-daemon/coordinator"
	"github.com/rollupwallet/wallet-daemon/metrics"
	"github.com/rollupwallet/wallet-daemon/types"
)

// Status is the lifecycle state of the account list task.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusRefreshing Status = "refreshing"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Fetcher is the slice of the coordinator client the refresher depends on.
type Fetcher interface {
	GetAccounts(ctx context.Context, address string, tokenIDs []uint32, fromItem *uint, limit *uint) (*coordinator.AccountsResponse, error)
}

// Project converts a confirmed account into a projected one using the
// current pool and pending-entry state.
type Project func(types.Account) (balance.ProjectedAccount, error)

// AccountsData is the loaded account list plus the pagination cursors it
// was assembled from.
type AccountsData struct {
	Accounts        []balance.ProjectedAccount `json:"accounts"`
	PendingItems    uint64                     `json:"pendingItems"`
	FromItemHistory []uint                     `json:"-"`
}

// Task is the account list state exposed to the UI layer.
type Task struct {
	Status Status        `json:"status"`
	Data   *AccountsData `json:"data,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Refresher tracks and refreshes the account list of one address.
type Refresher struct {
	fetcher Fetcher
	address string
	log     *logrus.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	task       Task
}

// New creates an idle Refresher for the given address.
func New(fetcher Fetcher, address string, log *logrus.Logger) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		address: address,
		log:     log,
		task:    Task{Status: StatusIdle},
	}
}

// Address returns the watched address.
func (r *Refresher) Address() string {
	return r.address
}

// Task returns a snapshot of the current account list task.
func (r *Refresher) Task() Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task
}

// Accounts returns the currently displayed projected accounts, or nil when
// nothing has loaded yet.
func (r *Refresher) Accounts() []balance.ProjectedAccount {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.task.Data == nil {
		return nil
	}
	return r.task.Data.Accounts
}

// FetchPage loads one page of accounts and appends it to the displayed
// list. A nil fromItem loads the first page; once the task is successful a
// first-page fetch turns into a full refresh instead.
func (r *Refresher) FetchPage(ctx context.Context, fromItem *uint, project Project) error {
	r.mu.Lock()
	if fromItem == nil && r.task.Status == StatusSuccessful {
		r.mu.Unlock()
		return r.Refresh(ctx, project)
	}
	r.task.Status = StatusLoading
	r.mu.Unlock()

	res, err := r.fetcher.GetAccounts(ctx, r.address, nil, fromItem, nil)
	if err != nil {
		r.mu.Lock()
		r.task = Task{Status: StatusFailed, Error: err.Error(), Data: r.task.Data}
		r.mu.Unlock()
		return err
	}

	projected, err := projectAll(res.Accounts, project)
	if err != nil {
		r.mu.Lock()
		r.task = Task{Status: StatusFailed, Error: err.Error(), Data: r.task.Data}
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	data := r.task.Data
	if data == nil {
		data = &AccountsData{}
	}
	if fromItem == nil {
		// a first-page load replaces whatever was retained, e.g. after a
		// failed fetch, so an account is never listed twice
		data.Accounts = projected
		data.FromItemHistory = nil
	} else {
		data.Accounts = append(data.Accounts, projected...)
		data.FromItemHistory = append(data.FromItemHistory, *fromItem)
	}
	data.PendingItems = res.PendingItems
	r.task = Task{Status: StatusSuccessful, Data: data}
	return nil
}

// Refresh re-fetches every previously seen page in parallel and atomically
// swaps the displayed list once all pages have resolved. If another refresh
// starts while this one is in flight, this one's results are dropped
// silently. A refresh that fails keeps the previously displayed data.
func (r *Refresher) Refresh(ctx context.Context, project Project) error {
	r.mu.Lock()
	if r.task.Status != StatusSuccessful && r.task.Status != StatusRefreshing {
		r.mu.Unlock()
		return r.FetchPage(ctx, nil, project)
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	generation := r.generation
	refreshCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.task.Status = StatusRefreshing
	var history []uint
	if r.task.Data != nil {
		history = append(history, r.task.Data.FromItemHistory...)
	}
	r.mu.Unlock()

	results := make([]*coordinator.AccountsResponse, len(history)+1)
	g, gctx := errgroup.WithContext(refreshCtx)
	fetch := func(page int, fromItem *uint) {
		g.Go(func() error {
			res, err := r.fetcher.GetAccounts(gctx, r.address, nil, fromItem, nil)
			if err != nil {
				return err
			}
			results[page] = res
			return nil
		})
	}
	fetch(0, nil)
	for i, fromItem := range history {
		fetch(i+1, &fromItem)
	}
	err := g.Wait()
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		// a newer refresh superseded this one
		metrics.StaleRefreshesDiscarded.Inc()
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			metrics.StaleRefreshesDiscarded.Inc()
			return nil
		}
		// keep showing the last good data
		r.log.WithError(err).Warn("Account refresh failed, keeping previous data")
		r.task.Status = StatusSuccessful
		return nil
	}

	var accounts []balance.ProjectedAccount
	for _, res := range results {
		projected, perr := projectAll(res.Accounts, project)
		if perr != nil {
			r.log.WithError(perr).Warn("Account refresh produced malformed data, keeping previous data")
			r.task.Status = StatusSuccessful
			return nil
		}
		accounts = append(accounts, projected...)
	}

	r.task = Task{
		Status: StatusSuccessful,
		Data: &AccountsData{
			Accounts:        accounts,
			PendingItems:    results[len(results)-1].PendingItems,
			FromItemHistory: history,
		},
	}
	metrics.RefreshCycles.Inc()
	return nil
}

func projectAll(accounts []types.Account, project Project) ([]balance.ProjectedAccount, error) {
	projected := make([]balance.ProjectedAccount, 0, len(accounts))
	for _, account := range accounts {
		p, err := project(account)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", account.AccountIndex, err)
		}
		projected = append(projected, p)
	}
	return projected, nil
}

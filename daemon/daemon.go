// Package daemon runs the wallet engine: it periodically fetches pool,
// exit and account state for every watched address, reconciles the local
// pending stores against it, and keeps per-address projected account lists
// up to date.
package daemon

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rollupwallet/wallet-daemon/balance"
	"github.com/rollupwallet/wallet-daemon/coordinator"
	"github.com/rollupwallet/wallet-daemon/l1"
	"github.com/rollupwallet/wallet-daemon/pricefeed"
	"github.com/rollupwallet/wallet-daemon/reconciler"
	"github.com/rollupwallet/wallet-daemon/refresher"
	"github.com/rollupwallet/wallet-daemon/store"
	"github.com/rollupwallet/wallet-daemon/tracker"
	"github.com/rollupwallet/wallet-daemon/types"
)

// Daemon owns the engine state for all watched addresses.
type Daemon struct {
	log               *logrus.Logger
	coordinator       *coordinator.Client
	l1Client          *l1.Client
	updater           *pricefeed.Updater
	deposits          *store.Deposits
	withdraws         *store.Withdraws
	delayedWithdraws  *store.DelayedWithdraws
	reconciler        *reconciler.Reconciler
	refreshers        map[string]*refresher.Refresher
	addresses         []string
	preferredCurrency string
	interval          time.Duration

	mu          sync.RWMutex
	pool        map[string][]types.PoolTransaction
	feeSchedule *types.RecommendedFee
	onUpdate    func(address string, task refresher.Task)
}

// New wires a Daemon for the given watched addresses.
func New(coordClient *coordinator.Client, l1Client *l1.Client, updater *pricefeed.Updater, deposits *store.Deposits, withdraws *store.Withdraws, delayedWithdraws *store.DelayedWithdraws, addresses []string, preferredCurrency string, interval time.Duration, log *logrus.Logger) *Daemon {
	refreshers := make(map[string]*refresher.Refresher, len(addresses))
	for _, address := range addresses {
		refreshers[address] = refresher.New(coordClient, address, log)
	}
	return &Daemon{
		log:               log,
		coordinator:       coordClient,
		l1Client:          l1Client,
		updater:           updater,
		deposits:          deposits,
		withdraws:         withdraws,
		delayedWithdraws:  delayedWithdraws,
		reconciler:        reconciler.New(deposits, withdraws, delayedWithdraws, nil, log),
		refreshers:        refreshers,
		addresses:         addresses,
		preferredCurrency: preferredCurrency,
		interval:          interval,
		pool:              make(map[string][]types.PoolTransaction),
	}
}

// SetUpdateHook registers a callback invoked after every completed sync of
// an address, used to push updates to connected UI clients.
func (d *Daemon) SetUpdateHook(fn func(address string, task refresher.Task)) {
	d.mu.Lock()
	d.onUpdate = fn
	d.mu.Unlock()
}

// Addresses returns the watched addresses.
func (d *Daemon) Addresses() []string {
	return d.addresses
}

// Run syncs every watched address once immediately, then on every tick
// until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) {
	d.syncAll(ctx)

	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.syncAll(ctx)
		}
	}
}

func (d *Daemon) syncAll(ctx context.Context) {
	d.refreshFeeSchedule(ctx)
	for _, address := range d.addresses {
		if err := d.syncAddress(ctx, address); err != nil {
			d.log.WithError(err).WithField("address", address).Warn("Sync cycle failed")
		}
	}
}

func (d *Daemon) refreshFeeSchedule(ctx context.Context) {
	state, err := d.coordinator.GetState(ctx)
	if err != nil {
		// fee functions degrade to zero while the schedule is unknown
		d.log.WithError(err).Warn("Failed to fetch coordinator state, keeping previous fee schedule")
		return
	}
	d.mu.Lock()
	schedule := state.RecommendedFee
	d.feeSchedule = &schedule
	d.mu.Unlock()
}

// syncAddress runs one full fetch-reconcile-refresh cycle for an address.
// Each reconciliation step only runs when the fetch it depends on
// succeeded; a failed fetch skips its step and leaves pending entries
// untouched.
func (d *Daemon) syncAddress(ctx context.Context, address string) error {
	d.refreshPool(ctx, address)

	exits, err := d.coordinator.GetExits(ctx, address, true, nil, nil)
	if err != nil {
		d.log.WithError(err).WithField("address", address).Warn("Failed to fetch exits, skipping withdraw pruning")
	} else {
		if err := d.reconciler.RecoverDelayedWithdraws(address, exits.Exits); err != nil {
			return err
		}
		if err := d.reconciler.PruneWithdraws(address, exits.Exits); err != nil {
			return err
		}
	}

	if err := d.reconciler.PruneDelayedWithdraws(ctx, address, d.l1Client); err != nil {
		return err
	}

	r := d.refreshers[address]
	if err := r.Refresh(ctx, d.projectFor(address)); err != nil {
		return err
	}

	// deposits are pruned against the account fetch that just resolved
	task := r.Task()
	if task.Status == refresher.StatusSuccessful && task.Data != nil {
		accounts := make([]types.Account, 0, len(task.Data.Accounts))
		for _, projected := range task.Data.Accounts {
			accounts = append(accounts, projected.Account)
		}
		if err := d.reconciler.PruneDeposits(address, accounts, time.Now().UTC()); err != nil {
			return err
		}
	}

	d.mu.RLock()
	hook := d.onUpdate
	d.mu.RUnlock()
	if hook != nil {
		hook(address, r.Task())
	}
	return nil
}

// refreshPool re-fetches the pool transactions spending from every known
// account of the address. On failure the previous snapshot is kept so the
// projection keeps working with slightly stale pool data.
func (d *Daemon) refreshPool(ctx context.Context, address string) {
	r := d.refreshers[address]
	var txs []types.PoolTransaction
	failed := false
	for _, account := range r.Accounts() {
		poolTxs, err := d.coordinator.GetPoolTransactions(ctx, account.AccountIndex, "")
		if err != nil {
			d.log.WithError(err).WithField("accountIndex", account.AccountIndex).Warn("Failed to fetch pool transactions")
			failed = true
			break
		}
		txs = append(txs, poolTxs...)
	}
	if failed {
		return
	}
	d.mu.Lock()
	d.pool[address] = txs
	d.mu.Unlock()
}

// projectFor builds the projection closure for an address from the current
// pool snapshot, pending stores and price snapshot.
func (d *Daemon) projectFor(address string) refresher.Project {
	d.mu.RLock()
	pool := d.pool[address]
	d.mu.RUnlock()

	deposits, err := d.deposits.GetByOwner(address)
	if err != nil {
		d.log.WithError(err).Warn("Failed to load pending deposits for projection")
	}
	withdraws, err := d.withdraws.GetByOwner(address)
	if err != nil {
		d.log.WithError(err).Warn("Failed to load pending withdraws for projection")
	}
	delayed, err := d.delayedWithdraws.GetByOwner(address)
	if err != nil {
		d.log.WithError(err).Warn("Failed to load pending delayed withdraws for projection")
	}

	projector := d.projector()
	return func(account types.Account) (balance.ProjectedAccount, error) {
		return projector.Project(account, pool, deposits, withdraws, delayed)
	}
}

func (d *Daemon) projector() *balance.Projector {
	return &balance.Projector{
		PreferredCurrency: d.preferredCurrency,
		Rates:             d.updater.Rates(),
		TokenPrices:       d.updater.TokenPrices(),
		Log:               d.log,
	}
}

// Task returns the account list task of an address.
func (d *Daemon) Task(address string) (refresher.Task, bool) {
	r, ok := d.refreshers[address]
	if !ok {
		return refresher.Task{}, false
	}
	return r.Task(), true
}

// Refresh triggers an explicit refresh of an address.
func (d *Daemon) Refresh(ctx context.Context, address string) error {
	r, ok := d.refreshers[address]
	if !ok {
		return fmt.Errorf("unknown address %s", address)
	}
	return r.Refresh(ctx, d.projectFor(address))
}

// FetchPage loads one more page of accounts for an address.
func (d *Daemon) FetchPage(ctx context.Context, address string, fromItem *uint) error {
	r, ok := d.refreshers[address]
	if !ok {
		return fmt.Errorf("unknown address %s", address)
	}
	return r.FetchPage(ctx, fromItem, d.projectFor(address))
}

// TotalFiatBalance sums the fiat value of every account of the address plus
// the deposits that have not materialized into an account yet.
func (d *Daemon) TotalFiatBalance(address string) (float64, error) {
	r, ok := d.refreshers[address]
	if !ok {
		return 0, fmt.Errorf("unknown address %s", address)
	}
	deposits, err := d.deposits.GetByOwner(address)
	if err != nil {
		return 0, err
	}
	var createDeposits []types.PendingDeposit
	for _, deposit := range deposits {
		if deposit.Type == types.TxTypeCreateAccountDeposit {
			createDeposits = append(createDeposits, deposit)
		}
	}
	return d.projector().ComputeTotalFiatBalance(r.Accounts(), createDeposits), nil
}

// PendingState is the full pending view of one address: raw entries plus
// the merged per-token delayed-withdraw view.
type PendingState struct {
	Deposits               []types.PendingDeposit         `json:"deposits"`
	Withdraws              []types.PendingWithdraw        `json:"withdraws"`
	DelayedWithdraws       []types.PendingDelayedWithdraw `json:"delayedWithdraws"`
	MergedDelayedWithdraws []types.PendingDelayedWithdraw `json:"mergedDelayedWithdraws"`
}

// Pending returns the pending state of an address.
func (d *Daemon) Pending(address string) (*PendingState, error) {
	deposits, err := d.deposits.GetByOwner(address)
	if err != nil {
		return nil, err
	}
	withdraws, err := d.withdraws.GetByOwner(address)
	if err != nil {
		return nil, err
	}
	delayed, err := d.delayedWithdraws.GetByOwner(address)
	if err != nil {
		return nil, err
	}
	merged, err := reconciler.MergeDelayedWithdraws(delayed)
	if err != nil {
		return nil, err
	}
	return &PendingState{
		Deposits:               deposits,
		Withdraws:              withdraws,
		DelayedWithdraws:       delayed,
		MergedDelayedWithdraws: merged,
	}, nil
}

// RegisterDeposit records a just-broadcast deposit. Whether it is a plain
// or a create-account deposit depends on whether the coordinator already
// knows an account for the owner and token.
func (d *Daemon) RegisterDeposit(ctx context.Context, address string, tokenID uint32, amount, hash string) (*types.PendingDeposit, error) {
	if _, err := types.ParseAmount(amount); err != nil {
		return nil, err
	}

	var existing *types.Account
	res, err := d.coordinator.GetAccounts(ctx, address, []uint32{tokenID}, nil, nil)
	if err != nil {
		d.log.WithError(err).Warn("Could not check for an existing account, registering deposit as create-account")
	} else if len(res.Accounts) > 0 {
		existing = &res.Accounts[0]
	}

	token, ok := d.updater.TokenPrices()[tokenID]
	if !ok {
		if existing == nil {
			return nil, fmt.Errorf("unknown token %d", tokenID)
		}
		token = existing.Token
	}

	deposit := tracker.NewPendingDeposit(hash, address, token, amount, existing)
	if err := d.deposits.Add(address, deposit); err != nil {
		return nil, err
	}
	return &deposit, nil
}

// RegisterWithdraw records a just-executed withdrawal of a forged exit,
// instant or routed through the delayer.
func (d *Daemon) RegisterWithdraw(ctx context.Context, address, accountIndex string, batchNum int64, hash string, instant bool) error {
	exit, err := d.coordinator.GetExit(ctx, batchNum, accountIndex)
	if err != nil {
		return fmt.Errorf("failed to fetch exit: %w", err)
	}
	if instant {
		return d.withdraws.Add(address, tracker.NewPendingWithdraw(*exit, hash, address))
	}
	return d.delayedWithdraws.Add(address, tracker.NewPendingDelayedWithdraw(*exit, hash, address))
}

// RemovePendingDeposit drops a pending deposit on explicit user request.
func (d *Daemon) RemovePendingDeposit(address, hash string) error {
	return d.deposits.Remove(address, hash)
}

// Account fetches a single confirmed account by index and projects it
// against the current pool and pending state.
func (d *Daemon) Account(ctx context.Context, address, accountIndex string) (*balance.ProjectedAccount, error) {
	account, err := d.coordinator.GetAccount(ctx, accountIndex)
	if err != nil {
		return nil, err
	}
	project := d.projectFor(address)
	projected, err := project(*account)
	if err != nil {
		return nil, err
	}
	return &projected, nil
}

// Transactions fetches one page of the address's forged transaction history.
func (d *Daemon) Transactions(ctx context.Context, address string, tokenID *uint32, fromItem *uint) (*coordinator.TransactionsResponse, error) {
	return d.coordinator.GetTransactions(ctx, address, tokenID, fromItem)
}

// FeeSchedule returns the latest recommended fee schedule, or nil while it
// has not loaded.
func (d *Daemon) FeeSchedule() *types.RecommendedFee {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.feeSchedule
}

// SuggestGasPrice proxies the L1 gas price used for deposit fee estimates.
func (d *Daemon) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return d.l1Client.SuggestGasPrice(ctx)
}

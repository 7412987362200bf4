// Package store persists the three locally tracked pending-transaction
// collections: deposits, instant withdraws and delayed withdraws. Each
// collection maps an owning rollup address to an ordered sequence of
// entries; insertion order is chronological.
//
// Mutations go through a read-whole/modify/write-whole cycle serialized by
// an in-process mutex. Two processes sharing the same database are not
// serialized against each other: the last writer wins. That is an accepted
// limitation of the single-user deployment, not a correctness goal.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rollupwallet/wallet-daemon/db"
	"github.com/rollupwallet/wallet-daemon/types"
)

const (
	depositsPrefix         = "pending-deposits:"
	withdrawsPrefix        = "pending-withdraws:"
	delayedWithdrawsPrefix = "pending-delayed-withdraws:"
)

type entry interface {
	EntryID() string
}

// collection is a persisted map from owner address to a JSON-encoded
// sequence of entries under a prefixed key.
type collection[T entry] struct {
	db     db.DB
	prefix string
	mu     sync.Mutex
}

func (c *collection[T]) key(owner string) []byte {
	return []byte(c.prefix + strings.ToLower(owner))
}

func (c *collection[T]) load(owner string) ([]T, error) {
	data, err := c.db.Get(c.key(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to get pending entries: %v", err)
	}
	if data == nil {
		return nil, nil
	}
	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode pending entries: %v", err)
	}
	return entries, nil
}

func (c *collection[T]) save(owner string, entries []T) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode pending entries: %v", err)
	}
	return c.db.Put(c.key(owner), data)
}

// add appends the entry to the owner's sequence unless an entry with the
// same identity key is already present.
func (c *collection[T]) add(owner string, e T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(owner)
	if err != nil {
		return err
	}
	for _, existing := range entries {
		if existing.EntryID() == e.EntryID() {
			return nil
		}
	}
	return c.save(owner, append(entries, e))
}

// remove filters the owner's sequence dropping every entry matched by keep
// returning false.
func (c *collection[T]) remove(owner string, keep func(T) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(owner)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}
	kept := make([]T, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return c.save(owner, kept)
}

// getByOwner returns the owner's sequence, or an empty sequence if absent.
func (c *collection[T]) getByOwner(owner string) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(owner)
}

// Deposits is the pending-deposit collection, keyed by entry hash.
type Deposits struct {
	collection[types.PendingDeposit]
}

// NewDeposits opens the pending-deposit collection over the given database.
func NewDeposits(database db.DB) *Deposits {
	return &Deposits{collection[types.PendingDeposit]{db: database, prefix: depositsPrefix}}
}

// Add appends a pending deposit to the owner's sequence if absent.
func (s *Deposits) Add(owner string, deposit types.PendingDeposit) error {
	return s.add(owner, deposit)
}

// Remove drops the pending deposit with the given hash.
func (s *Deposits) Remove(owner, hash string) error {
	return s.remove(owner, func(d types.PendingDeposit) bool { return d.Hash != hash })
}

// RemoveByToken drops every pending deposit of the owner for the given
// token, the removal key used when a deposit materializes on-chain.
func (s *Deposits) RemoveByToken(owner string, tokenID uint32) error {
	return s.remove(owner, func(d types.PendingDeposit) bool { return d.Token.ID != tokenID })
}

// GetByOwner returns the owner's pending deposits.
func (s *Deposits) GetByOwner(owner string) ([]types.PendingDeposit, error) {
	return s.getByOwner(owner)
}

// Withdraws is the pending instant-withdraw collection, keyed by the
// composite accountIndex+batchNum id.
type Withdraws struct {
	collection[types.PendingWithdraw]
}

// NewWithdraws opens the pending-withdraw collection over the given
// database.
func NewWithdraws(database db.DB) *Withdraws {
	return &Withdraws{collection[types.PendingWithdraw]{db: database, prefix: withdrawsPrefix}}
}

// Add appends a pending withdraw to the owner's sequence if absent.
func (s *Withdraws) Add(owner string, withdraw types.PendingWithdraw) error {
	return s.add(owner, withdraw)
}

// Remove drops the pending withdraw with the given id.
func (s *Withdraws) Remove(owner, id string) error {
	return s.remove(owner, func(w types.PendingWithdraw) bool { return w.ID != id })
}

// GetByOwner returns the owner's pending withdraws.
func (s *Withdraws) GetByOwner(owner string) ([]types.PendingWithdraw, error) {
	return s.getByOwner(owner)
}

// DelayedWithdraws is the pending delayed-withdraw collection, keyed by the
// composite accountIndex+batchNum id.
type DelayedWithdraws struct {
	collection[types.PendingDelayedWithdraw]
}

// NewDelayedWithdraws opens the pending delayed-withdraw collection over the
// given database.
func NewDelayedWithdraws(database db.DB) *DelayedWithdraws {
	return &DelayedWithdraws{collection[types.PendingDelayedWithdraw]{db: database, prefix: delayedWithdrawsPrefix}}
}

// Add appends a pending delayed withdraw to the owner's sequence if absent.
func (s *DelayedWithdraws) Add(owner string, withdraw types.PendingDelayedWithdraw) error {
	return s.add(owner, withdraw)
}

// Remove drops the pending delayed withdraw with the given id.
func (s *DelayedWithdraws) Remove(owner, id string) error {
	return s.remove(owner, func(w types.PendingDelayedWithdraw) bool { return w.ID != id })
}

// GetByOwner returns the owner's pending delayed withdraws.
func (s *DelayedWithdraws) GetByOwner(owner string) ([]types.PendingDelayedWithdraw, error) {
	return s.getByOwner(owner)
}

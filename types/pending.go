package types

import "time"

// EntryKind tags the variant of a locally tracked pending entry. The
// projection and pruning engines switch exhaustively on it so a new kind
// cannot silently bypass balance arithmetic.
type EntryKind string

const (
	KindDeposit         EntryKind = "deposit"
	KindWithdraw        EntryKind = "withdraw"
	KindDelayedWithdraw EntryKind = "delayed-withdraw"
)

// PendingEntry is implemented by every locally tracked pending transaction
// variant.
type PendingEntry interface {
	Kind() EntryKind
	EntryID() string
	Owner() string
	TokenID() uint32
}

// PendingDeposit is a locally tracked L1 deposit not yet reflected in the
// confirmed account balance. It is created optimistically right after the
// deposit transaction is broadcast and pruned once the confirmed account
// subsumes it. AccountIndex is empty for CreateAccountDeposit entries, where
// the rollup account does not exist yet.
type PendingDeposit struct {
	Hash                   string    `json:"hash"`
	FromHezEthereumAddress string    `json:"fromHezEthereumAddress"`
	ToHezEthereumAddress   string    `json:"toHezEthereumAddress"`
	Token                  Token     `json:"token"`
	Amount                 string    `json:"amount"`
	State                  TxState   `json:"state"`
	AccountIndex           string    `json:"accountIndex,omitempty"`
	Timestamp              time.Time `json:"timestamp"`
	Type                   TxType    `json:"type"`
}

func (d PendingDeposit) Kind() EntryKind { return KindDeposit }
func (d PendingDeposit) EntryID() string { return d.Hash }
func (d PendingDeposit) Owner() string   { return d.ToHezEthereumAddress }
func (d PendingDeposit) TokenID() uint32 { return d.Token.ID }

// PendingWithdraw is a locally tracked instant withdrawal already executed
// on L1, kept until the coordinator stops reporting the matching exit as
// pending. ID is the composite accountIndex+batchNum identifier.
type PendingWithdraw struct {
	ID                 string    `json:"id"`
	Hash               string    `json:"hash"`
	HezEthereumAddress string    `json:"hezEthereumAddress"`
	AccountIndex       string    `json:"accountIndex"`
	BatchNum           int64     `json:"batchNum"`
	Token              Token     `json:"token"`
	Balance            string    `json:"balance"`
	Timestamp          time.Time `json:"timestamp"`
}

func (w PendingWithdraw) Kind() EntryKind { return KindWithdraw }
func (w PendingWithdraw) EntryID() string { return w.ID }
func (w PendingWithdraw) Owner() string   { return w.HezEthereumAddress }
func (w PendingWithdraw) TokenID() uint32 { return w.Token.ID }

// PendingDelayedWithdraw is a locally tracked withdrawal routed through the
// time-locked delayer contract. Several delayed withdraws for the same token
// may coexist before settlement; they are merged for display.
type PendingDelayedWithdraw struct {
	ID                 string    `json:"id"`
	Hash               string    `json:"hash"`
	HezEthereumAddress string    `json:"hezEthereumAddress"`
	AccountIndex       string    `json:"accountIndex"`
	BatchNum           int64     `json:"batchNum"`
	Token              Token     `json:"token"`
	Balance            string    `json:"balance"`
	IsInstant          bool      `json:"isInstant"`
	Timestamp          time.Time `json:"timestamp"`
}

func (w PendingDelayedWithdraw) Kind() EntryKind { return KindDelayedWithdraw }
func (w PendingDelayedWithdraw) EntryID() string { return w.ID }
func (w PendingDelayedWithdraw) Owner() string   { return w.HezEthereumAddress }
func (w PendingDelayedWithdraw) TokenID() uint32 { return w.Token.ID }

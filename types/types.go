package types

import (
	"errors"
	"math/big"
	"time"
)

// ErrInvalidAmount is returned when a raw token amount does not parse as a
// non-negative integer.
var ErrInvalidAmount = errors.New("invalid token amount")

// TxType identifies the kind of a rollup transaction.
type TxType string

const (
	TxTypeDeposit              TxType = "Deposit"
	TxTypeCreateAccountDeposit TxType = "CreateAccountDeposit"
	TxTypeTransfer             TxType = "Transfer"
	TxTypeTransferToEthAddr    TxType = "TransferToEthAddr"
	TxTypeTransferToBJJ        TxType = "TransferToBJJ"
	TxTypeExit                 TxType = "Exit"
	TxTypeForceExit            TxType = "ForceExit"
	TxTypeWithdraw             TxType = "Withdrawn"
)

// TxState is the lifecycle state of a transaction in the coordinator pool.
// The short codes match the coordinator API wire format.
type TxState string

const (
	TxStatePending TxState = "pend"
	TxStateForging TxState = "fging"
	TxStateForged  TxState = "fged"
	TxStateInvalid TxState = "invl"
)

// Token is a rollup-registered token. Immutable once fetched for a session
// except for USD, which the price feed refreshes periodically. A nil USD
// means the price is unknown.
type Token struct {
	ID              uint32   `json:"id"`
	EthereumAddress string   `json:"ethereumAddress"`
	Symbol          string   `json:"symbol"`
	Name            string   `json:"name"`
	Decimals        uint8    `json:"decimals"`
	USD             *float64 `json:"USD"`
}

// Account is a confirmed rollup account as returned by the coordinator. The
// client never mutates it, only re-fetches it. Balance is a raw integer
// amount in the token's smallest unit.
type Account struct {
	AccountIndex       string `json:"accountIndex"`
	HezEthereumAddress string `json:"hezEthereumAddress"`
	Token              Token  `json:"token"`
	Balance            string `json:"balance"`
	Nonce              uint64 `json:"nonce"`
}

// PoolTransaction is a transaction submitted to the coordinator's off-chain
// pool but not yet forged into a batch. Fee is the protocol fee selector,
// not a token amount.
type PoolTransaction struct {
	ID                   string    `json:"id"`
	Type                 TxType    `json:"type"`
	FromAccountIndex     string    `json:"fromAccountIndex"`
	ToAccountIndex       string    `json:"toAccountIndex,omitempty"`
	ToHezEthereumAddress string    `json:"toHezEthereumAddress,omitempty"`
	Token                Token     `json:"token"`
	Amount               string    `json:"amount"`
	Fee                  uint8     `json:"fee"`
	State                TxState   `json:"state"`
	Timestamp            time.Time `json:"timestamp"`
}

// MerkleProof is the exit tree inclusion proof for a confirmed exit.
type MerkleProof struct {
	Root     string   `json:"root"`
	Siblings []string `json:"siblings"`
}

// Exit is a confirmed L1-exit record from the coordinator; authoritative for
// whether a withdrawal has settled. InstantWithdraw and DelayedWithdraw hold
// the L1 block number of the settlement when non-nil.
type Exit struct {
	AccountIndex           string       `json:"accountIndex"`
	BatchNum               int64        `json:"batchNum"`
	Token                  Token        `json:"token"`
	Balance                string       `json:"balance"`
	InstantWithdraw        *int64       `json:"instantWithdraw"`
	DelayedWithdraw        *int64       `json:"delayedWithdraw"`
	DelayedWithdrawRequest *int64       `json:"delayedWithdrawRequest"`
	MerkleProof            *MerkleProof `json:"merkleProof,omitempty"`
}

// HistoryTransaction is a forged transaction from the coordinator's
// confirmed history.
type HistoryTransaction struct {
	ID               string    `json:"id"`
	Type             TxType    `json:"type"`
	FromAccountIndex string    `json:"fromAccountIndex"`
	ToAccountIndex   string    `json:"toAccountIndex,omitempty"`
	Token            Token     `json:"token"`
	Amount           string    `json:"amount"`
	BatchNum         int64     `json:"batchNum"`
	Timestamp        time.Time `json:"timestamp"`
}

// RecommendedFee is the coordinator's suggested USD fee per transaction
// class.
type RecommendedFee struct {
	ExistingAccount       float64 `json:"existingAccount"`
	CreateAccount         float64 `json:"createAccount"`
	CreateAccountInternal float64 `json:"createAccountInternal"`
}

// CoordinatorState is the subset of the coordinator status endpoint the
// wallet consumes.
type CoordinatorState struct {
	RecommendedFee RecommendedFee `json:"recommendedFee"`
}

// FiatExchangeRates maps ISO 4217 currency codes to their USD exchange rate.
type FiatExchangeRates map[string]float64

// USDCurrency is the base currency of all token prices.
const USDCurrency = "USD"

// ParseAmount parses a raw integer token amount. It fails with
// ErrInvalidAmount on anything that is not a base-10 non-negative integer.
func ParseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, ErrInvalidAmount
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return amount, nil
}

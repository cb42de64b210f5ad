package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account holds a submitter's native balance and envelope replay nonce.
type Account struct {
	Address common.Address `json:"address"`
	Balance *uint256.Int   `json:"balance"`
	Nonce   uint64         `json:"nonce"`
}

// Wallet is a custodial escrow account owned by a single participant.
// Locked0 and Locked1 track the native and token amounts committed to
// reservations that have not been settled, cancelled or reaped.
type Wallet struct {
	Address          common.Address `json:"address"`
	Owner            common.Address `json:"owner"`
	Coordinator      common.Address `json:"coordinator"`
	Factory          common.Address `json:"factory"`
	Token            common.Address `json:"token"`
	TokenEnabled     bool           `json:"token_enabled"`
	ApprovalRequired bool           `json:"approval_required"`
	Implementation   common.Address `json:"implementation"`
	Nonce            uint64         `json:"nonce"`
	Locked0          *uint256.Int   `json:"locked0"`
	Locked1          *uint256.Int   `json:"locked1"`
	Head             uint64         `json:"head"` // game id, 0 = empty list
	Tail             uint64         `json:"tail"`
	Initialized      bool           `json:"initialized"`
	CreatedAt        int64          `json:"created_at"`
}

// Locked returns the running total for the given asset class.
func (w *Wallet) Locked(isToken bool) *uint256.Int {
	if isToken {
		return w.Locked1
	}
	return w.Locked0
}

// Normalize replaces nil totals with zero.
func (w *Wallet) Normalize() *Wallet {
	if w.Locked0 == nil {
		w.Locked0 = new(uint256.Int)
	}
	if w.Locked1 == nil {
		w.Locked1 = new(uint256.Int)
	}
	return w
}

// Reservation is a locked-fund record keyed by game id within one wallet.
// Next links records in insertion order; 0 terminates the list.
type Reservation struct {
	Wallet         common.Address `json:"wallet"`
	GameID         uint64         `json:"game_id"`
	Amount         *uint256.Int   `json:"amount"`
	Counterparty   common.Address `json:"counterparty"`
	IsToken        bool           `json:"is_token"`
	FeeRecipient   common.Address `json:"fee_recipient"`
	FeeBasisPoints uint16         `json:"fee_basis_points"`
	Exists         bool           `json:"exists"`
	Active         bool           `json:"active"`
	Expiration     int64          `json:"expiration"` // unix seconds
	Next           uint64         `json:"next"`
}

// Expired reports whether the reservation's lock has lapsed at now.
func (r *Reservation) Expired(now int64) bool {
	return now >= r.Expiration
}

// Token is a registered fungible asset.
type Token struct {
	Address common.Address `json:"address"`
	Symbol  string         `json:"symbol"`
	Issuer  common.Address `json:"issuer"`
	Supply  *uint256.Int   `json:"supply"`
}

// RelayConfig is the coordinator identity and its global parameters.
type RelayConfig struct {
	Address    common.Address `json:"address"`
	Approver   common.Address `json:"approver"`
	Factory    common.Address `json:"factory"`
	ChainID    uint64         `json:"chain_id"`
	TimeToLive int64          `json:"ttl_seconds"`
}

// State is the full engine state interface. Implementations must be
// snapshot-able so the executor can roll back failed instructions.
type State interface {
	// Accounts
	GetAccount(addr common.Address) (*Account, error)
	SetAccount(acc *Account) error

	// Wallets
	GetWallet(addr common.Address) (*Wallet, error)
	SetWallet(w *Wallet) error

	// Reservations
	GetReservation(wallet common.Address, gameID uint64) (*Reservation, error)
	SetReservation(r *Reservation) error
	DeleteReservation(wallet common.Address, gameID uint64) error

	// Tokens
	GetToken(addr common.Address) (*Token, error)
	SetToken(t *Token) error
	GetTokenBalance(token, holder common.Address) (*uint256.Int, error)
	SetTokenBalance(token, holder common.Address, amount *uint256.Int) error

	// Relay
	GetRelayConfig() (*RelayConfig, error)
	SetRelayConfig(cfg *RelayConfig) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a batch.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}

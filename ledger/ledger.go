// Package ledger implements the per-wallet reservation ledger: locking
// funds against a game id, settling, cancelling and reaping expired locks.
//
// Records of a wallet form a singly linked list in insertion order (Head,
// Tail and Reservation.Next hold game ids, 0 terminates). Because every
// record of a relay gets now+TTL as its expiration, the list is ordered by
// expiration as long as the TTL is not lowered; head pruning relies on that.
package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

// Env is what a ledger needs from the instruction being executed.
type Env struct {
	State   core.State
	Now     int64 // logical clock, unix seconds
	ChainID uint64
	Auth    *authority.Authority
	// Emit receives ledger events; nil drops them.
	Emit func(typ events.EventType, data map[string]any)
}

// Ledger operates on the reservations of one wallet.
type Ledger struct {
	env    Env
	wallet *core.Wallet
}

// Open loads the wallet at addr. Unknown or uninitialized wallets are
// rejected with core.ErrInvalidWallet.
func Open(env Env, addr common.Address) (*Ledger, error) {
	if addr == (common.Address{}) {
		return nil, core.ErrZeroAddress
	}
	w, err := env.State.GetWallet(addr)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidWallet, addr.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", addr.Hex(), err)
	}
	if !w.Initialized {
		return nil, fmt.Errorf("%w: %s not initialized", core.ErrInvalidWallet, addr.Hex())
	}
	return &Ledger{env: env, wallet: w}, nil
}

// Initialize runs the one-shot initialization of a freshly derived wallet.
func Initialize(env Env, w *core.Wallet) error {
	if w.Address == (common.Address{}) || w.Owner == (common.Address{}) {
		return core.ErrZeroAddress
	}
	if w.TokenEnabled && w.Token == (common.Address{}) {
		return fmt.Errorf("%w: token handle required", core.ErrZeroAddress)
	}
	if _, err := env.State.GetWallet(w.Address); err == nil {
		return fmt.Errorf("%w: %s", core.ErrAlreadyInitialized, w.Address.Hex())
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking wallet %s: %w", w.Address.Hex(), err)
	}
	w.Normalize()
	w.Nonce = 0
	w.Head, w.Tail = 0, 0
	w.Initialized = true
	w.CreatedAt = env.Now
	return env.State.SetWallet(w)
}

// Wallet returns the wallet record as currently held by the ledger.
func (l *Ledger) Wallet() *core.Wallet { return l.wallet }

func (l *Ledger) save() error {
	return l.env.State.SetWallet(l.wallet)
}

func (l *Ledger) emit(typ events.EventType, data map[string]any) {
	if l.env.Emit == nil {
		return
	}
	data["wallet"] = l.wallet.Address.Hex()
	l.env.Emit(typ, data)
}

func (l *Ledger) onlyCoordinator(caller common.Address) error {
	if caller != l.wallet.Coordinator {
		return fmt.Errorf("%w: %s is not the coordinator", core.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (l *Ledger) onlyOwner(caller common.Address) error {
	if caller != l.wallet.Owner {
		return fmt.Errorf("%w: %s is not the owner", core.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (l *Ledger) record(gameID uint64) (*core.Reservation, error) {
	return l.env.State.GetReservation(l.wallet.Address, gameID)
}

// activeRecord returns the record of gameID if it exists and is active.
func (l *Ledger) activeRecord(gameID uint64) (*core.Reservation, error) {
	rec, err := l.record(gameID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", core.ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, err
	}
	if !rec.Exists || !rec.Active {
		return nil, fmt.Errorf("%w: %d inactive", core.ErrGameNotFound, gameID)
	}
	return rec, nil
}

func (l *Ledger) lock(isToken bool, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(l.wallet.Locked(isToken), amount)
	if overflow {
		return fmt.Errorf("%w: locked total overflow", core.ErrInvalidAmount)
	}
	l.setLocked(isToken, sum)
	return nil
}

func (l *Ledger) unlock(isToken bool, amount *uint256.Int) error {
	locked := l.wallet.Locked(isToken)
	if locked.Lt(amount) {
		return fmt.Errorf("%w: locked %s, releasing %s", core.ErrInsufficientReserved, locked, amount)
	}
	l.setLocked(isToken, new(uint256.Int).Sub(locked, amount))
	return nil
}

func (l *Ledger) setLocked(isToken bool, v *uint256.Int) {
	if isToken {
		l.wallet.Locked1 = v
	} else {
		l.wallet.Locked0 = v
	}
}

// deactivate releases the lock of an active record and marks it inactive.
func (l *Ledger) deactivate(rec *core.Reservation) error {
	if err := l.unlock(rec.IsToken, rec.Amount); err != nil {
		return err
	}
	rec.Active = false
	return l.env.State.SetReservation(rec)
}

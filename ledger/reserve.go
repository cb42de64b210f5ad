package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/asset"
	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

// Role selects which half of a reserve request applies to a wallet.
type Role int

const (
	PlayerOne Role = iota + 1
	PlayerTwo
)

func (r Role) String() string {
	switch r {
	case PlayerOne:
		return "player_one"
	case PlayerTwo:
		return "player_two"
	default:
		return "unknown"
	}
}

// side returns the wallet, counter-party and nonce the request names for role.
func side(req *core.ReserveRequest, role Role) (self, counterparty common.Address, nonce uint64, err error) {
	switch role {
	case PlayerOne:
		return req.Wallet1, req.Wallet2, req.Nonce1, nil
	case PlayerTwo:
		return req.Wallet2, req.Wallet1, req.Nonce2, nil
	default:
		return common.Address{}, common.Address{}, 0, fmt.Errorf("unknown role %d", role)
	}
}

// Reserve locks req.Amount of the wallet's funds against req.GameID until
// expiration. Only the coordinator may call it. When the wallet requires
// owner approval, ownerApproval must be the owner's signature over req in
// this wallet's domain.
func (l *Ledger) Reserve(caller common.Address, req *core.ReserveRequest, role Role, expiration int64, ownerApproval []byte) error {
	w := l.wallet
	if err := l.onlyCoordinator(caller); err != nil {
		return err
	}
	self, counterparty, nonce, err := side(req, role)
	if err != nil {
		return err
	}
	if self != w.Address {
		return fmt.Errorf("%w: request names %s as %s, wallet is %s", core.ErrAddressMismatch, self.Hex(), role, w.Address.Hex())
	}
	if req.Coordinator != w.Coordinator {
		return fmt.Errorf("%w: request targets coordinator %s", core.ErrAddressMismatch, req.Coordinator.Hex())
	}
	if w.ApprovalRequired {
		if err := l.env.Auth.CheckOwner(l.env.ChainID, w, authority.Reserve(req), ownerApproval); err != nil {
			return err
		}
	}
	if nonce != w.Nonce || w.Nonce == math.MaxUint64 {
		return fmt.Errorf("%w: expected %d got %d", core.ErrInvalidNonce, w.Nonce, nonce)
	}
	if req.GameID == 0 {
		return core.ErrInvalidGameID
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return core.ErrInvalidAmount
	}
	if req.FeeBasisPoints > MaxFeeBasisPoints {
		return fmt.Errorf("%w: %d > %d", core.ErrInvalidFeeBasisPoints, req.FeeBasisPoints, MaxFeeBasisPoints)
	}
	if req.FeeBasisPoints > 0 && req.FeeRecipient == (common.Address{}) {
		return fmt.Errorf("%w: fee recipient required", core.ErrZeroAddress)
	}
	if counterparty == (common.Address{}) {
		return fmt.Errorf("%w: counter-party required", core.ErrZeroAddress)
	}
	if expiration <= l.env.Now {
		return fmt.Errorf("%w: %d <= %d", core.ErrExpiredInPast, expiration, l.env.Now)
	}

	// An id freed by reaping in this same call becomes reusable.
	if _, err := l.releaseHead(); err != nil {
		return err
	}
	if _, err := l.record(req.GameID); err == nil {
		return fmt.Errorf("%w: %d", core.ErrGameExists, req.GameID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking game %d: %w", req.GameID, err)
	}

	funds, err := asset.For(l.env.State, w, req.IsToken)
	if err != nil {
		return err
	}
	available, err := l.available(funds, req.IsToken)
	if err != nil {
		return err
	}
	if req.Amount.Gt(available) {
		return fmt.Errorf("%w: available %s, requested %s", core.ErrInsufficientFunds, available, req.Amount)
	}
	if err := l.lock(req.IsToken, req.Amount); err != nil {
		return err
	}

	rec := &core.Reservation{
		Wallet:         w.Address,
		GameID:         req.GameID,
		Amount:         new(uint256.Int).Set(req.Amount),
		Counterparty:   counterparty,
		IsToken:        req.IsToken,
		FeeRecipient:   req.FeeRecipient,
		FeeBasisPoints: req.FeeBasisPoints,
		Exists:         true,
		Active:         true,
		Expiration:     expiration,
	}
	if err := l.append(rec); err != nil {
		return err
	}
	w.Nonce++
	if err := l.save(); err != nil {
		return err
	}

	l.emit(events.EventReservationCreated, map[string]any{
		"game_id":      req.GameID,
		"amount":       req.Amount.Dec(),
		"is_token":     req.IsToken,
		"counterparty": counterparty.Hex(),
		"expiration":   expiration,
		"nonce":        nonce,
	})
	return nil
}

// available is the balance of the asset class not committed to reservations.
func (l *Ledger) available(funds asset.Ledger, isToken bool) (*uint256.Int, error) {
	bal, err := funds.BalanceOf(l.wallet.Address)
	if err != nil {
		return nil, err
	}
	locked := l.wallet.Locked(isToken)
	if bal.Lt(locked) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(bal, locked), nil
}

// append links rec at the tail of the list and stores it.
func (l *Ledger) append(rec *core.Reservation) error {
	w := l.wallet
	if w.Tail != 0 {
		tail, err := l.record(w.Tail)
		if err != nil {
			return fmt.Errorf("load tail %d: %w", w.Tail, err)
		}
		tail.Next = rec.GameID
		if err := l.env.State.SetReservation(tail); err != nil {
			return err
		}
	} else {
		w.Head = rec.GameID
	}
	w.Tail = rec.GameID
	return l.env.State.SetReservation(rec)
}

package ledger

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/asset"
	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
)

// Withdraw sends uncommitted native funds to to.
func (l *Ledger) Withdraw(caller, to common.Address, amount *uint256.Int) error {
	return l.withdraw(caller, to, amount, false)
}

// WithdrawToken sends uncommitted token funds to to.
func (l *Ledger) WithdrawToken(caller, to common.Address, amount *uint256.Int) error {
	return l.withdraw(caller, to, amount, true)
}

func (l *Ledger) withdraw(caller, to common.Address, amount *uint256.Int, isToken bool) error {
	if err := l.onlyOwner(caller); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return core.ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return core.ErrInvalidAmount
	}
	funds, err := asset.For(l.env.State, l.wallet, isToken)
	if err != nil {
		return err
	}
	if _, err := l.releaseHead(); err != nil {
		return err
	}
	available, err := l.available(funds, isToken)
	if err != nil {
		return err
	}
	if amount.Gt(available) {
		return fmt.Errorf("%w: available %s, requested %s", core.ErrInsufficientFunds, available, amount)
	}
	if err := funds.Transfer(l.wallet.Address, to, amount); err != nil {
		return err
	}
	l.emit(events.EventWithdrawn, map[string]any{
		"to":       to.Hex(),
		"amount":   amount.Dec(),
		"is_token": isToken,
	})
	return nil
}

// SetApprovalRequired toggles whether reservations need an owner signature.
func (l *Ledger) SetApprovalRequired(caller common.Address, required bool) error {
	if err := l.onlyOwner(caller); err != nil {
		return err
	}
	l.wallet.ApprovalRequired = required
	if err := l.save(); err != nil {
		return err
	}
	l.emit(events.EventApprovalRequiredSet, map[string]any{"required": required})
	return nil
}

// Upgrade swaps the wallet implementation. The owner signature covers the
// implementation and the wallet nonce, which it consumes.
func (l *Ledger) Upgrade(implementation common.Address, nonce uint64, sig []byte) error {
	w := l.wallet
	if implementation == (common.Address{}) {
		return core.ErrZeroAddress
	}
	if err := l.env.Auth.CheckOwner(l.env.ChainID, w, authority.Upgrade(implementation, nonce), sig); err != nil {
		return err
	}
	if nonce != w.Nonce || w.Nonce == math.MaxUint64 {
		return fmt.Errorf("%w: expected %d got %d", core.ErrInvalidNonce, w.Nonce, nonce)
	}
	w.Nonce++
	w.Implementation = implementation
	if err := l.save(); err != nil {
		return err
	}
	l.emit(events.EventWalletUpgraded, map[string]any{
		"implementation": implementation.Hex(),
		"nonce":          nonce,
	})
	return nil
}

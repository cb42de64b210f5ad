// Package asset moves fungible balances on behalf of escrow wallets.
// Asset class 0 is the native coin; asset class 1 is a registered token.
package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/core"
)

// Ledger is the fungible-asset primitive the escrow core consumes.
type Ledger interface {
	BalanceOf(holder common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Native returns the ledger of the native coin.
func Native(state core.State) Ledger {
	return nativeLedger{state: state}
}

// Token returns the ledger of a registered token.
func Token(state core.State, handle common.Address) Ledger {
	return tokenLedger{state: state, token: handle}
}

// For returns the ledger of the asset class a reservation or withdrawal uses.
func For(state core.State, w *core.Wallet, isToken bool) (Ledger, error) {
	if !isToken {
		return Native(state), nil
	}
	if !w.TokenEnabled || w.Token == (common.Address{}) {
		return nil, fmt.Errorf("wallet %s: %w", w.Address.Hex(), core.ErrTokenDisabled)
	}
	return Token(state, w.Token), nil
}

type nativeLedger struct {
	state core.State
}

func (l nativeLedger) BalanceOf(holder common.Address) (*uint256.Int, error) {
	acc, err := l.state.GetAccount(holder)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

func (l nativeLedger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return core.ErrZeroAddress
	}
	sender, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Lt(amount) {
		return fmt.Errorf("%w: have %s need %s", core.ErrInsufficientFunds, sender.Balance, amount)
	}
	sender.Balance = new(uint256.Int).Sub(sender.Balance, amount)
	if err := l.state.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(recipient.Balance, amount)
	if overflow {
		return fmt.Errorf("%w: recipient balance overflow", core.ErrInvalidAmount)
	}
	recipient.Balance = sum
	return l.state.SetAccount(recipient)
}

type tokenLedger struct {
	state core.State
	token common.Address
}

func (l tokenLedger) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return l.state.GetTokenBalance(l.token, holder)
}

func (l tokenLedger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return core.ErrZeroAddress
	}
	if _, err := l.state.GetToken(l.token); err != nil {
		return fmt.Errorf("token %s: %w", l.token.Hex(), err)
	}
	bal, err := l.state.GetTokenBalance(l.token, from)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s need %s", core.ErrInsufficientFunds, bal, amount)
	}
	if err := l.state.SetTokenBalance(l.token, from, new(uint256.Int).Sub(bal, amount)); err != nil {
		return err
	}
	dst, err := l.state.GetTokenBalance(l.token, to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return fmt.Errorf("%w: recipient balance overflow", core.ErrInvalidAmount)
	}
	return l.state.SetTokenBalance(l.token, to, sum)
}

// Mint credits newly issued token units to holder and grows supply.
func Mint(state core.State, handle, holder common.Address, amount *uint256.Int) error {
	tok, err := state.GetToken(handle)
	if err != nil {
		return fmt.Errorf("token %s: %w", handle.Hex(), err)
	}
	supply, overflow := new(uint256.Int).AddOverflow(tok.Supply, amount)
	if overflow {
		return fmt.Errorf("%w: supply overflow", core.ErrInvalidAmount)
	}
	tok.Supply = supply
	if err := state.SetToken(tok); err != nil {
		return err
	}
	bal, err := state.GetTokenBalance(handle, holder)
	if err != nil {
		return err
	}
	return state.SetTokenBalance(handle, holder, new(uint256.Int).Add(bal, amount))
}

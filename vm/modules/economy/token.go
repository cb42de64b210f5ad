// Package economy registers the native-coin and fungible-token instructions
// that fund escrow wallets.
package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/asset"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/vm"
)

const maxSymbolLen = 16

func init() {
	vm.Register(core.InstrTransfer, handleTransfer)
	vm.Register(core.InstrRegisterToken, handleRegisterToken)
	vm.Register(core.InstrMintToken, handleMintToken)
	vm.Register(core.InstrTransferToken, handleTransferToken)
}

func checkAmount(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be > 0", core.ErrInvalidAmount)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: recipient required", core.ErrZeroAddress)
	}
	return nil
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if err := checkAmount(p.To, p.Amount); err != nil {
		return err
	}
	if err := asset.Native(ctx.State).Transfer(ctx.Instr.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTransfer, map[string]any{
		"from":   ctx.Instr.From.Hex(),
		"to":     p.To.Hex(),
		"amount": p.Amount.Dec(),
	})
	return nil
}

// TokenAddress is the handle register_token assigns: the CREATE address of
// the issuer at the envelope nonce of the registering instruction.
func TokenAddress(issuer common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(issuer, nonce)
}

func handleRegisterToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode register_token payload: %w", err)
	}
	symbol := strings.TrimSpace(p.Symbol)
	if symbol == "" || len(symbol) > maxSymbolLen {
		return fmt.Errorf("token symbol must be 1-%d characters", maxSymbolLen)
	}

	handle := TokenAddress(ctx.Instr.From, ctx.Instr.Nonce)
	if _, err := ctx.State.GetToken(handle); err == nil {
		return fmt.Errorf("token %s already registered", handle.Hex())
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking token %s: %w", handle.Hex(), err)
	}
	tok := &core.Token{
		Address: handle,
		Symbol:  symbol,
		Issuer:  ctx.Instr.From,
		Supply:  new(uint256.Int),
	}
	if err := ctx.State.SetToken(tok); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenRegistered, map[string]any{
		"token":  handle.Hex(),
		"symbol": symbol,
		"issuer": ctx.Instr.From.Hex(),
	})
	return nil
}

func handleMintToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_token payload: %w", err)
	}
	if err := checkAmount(p.To, p.Amount); err != nil {
		return err
	}
	tok, err := ctx.State.GetToken(p.Token)
	if err != nil {
		return fmt.Errorf("token %s: %w", p.Token.Hex(), err)
	}
	if tok.Issuer != ctx.Instr.From {
		return fmt.Errorf("%w: only the issuer can mint %s", core.ErrUnauthorized, tok.Symbol)
	}
	if err := asset.Mint(ctx.State, p.Token, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"token":  p.Token.Hex(),
		"from":   common.Address{}.Hex(),
		"to":     p.To.Hex(),
		"amount": p.Amount.Dec(),
	})
	return nil
}

func handleTransferToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferTokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_token payload: %w", err)
	}
	if err := checkAmount(p.To, p.Amount); err != nil {
		return err
	}
	if err := asset.Token(ctx.State, p.Token).Transfer(ctx.Instr.From, p.To, p.Amount); err != nil {
		return err
	}
	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"token":  p.Token.Hex(),
		"from":   ctx.Instr.From.Hex(),
		"to":     p.To.Hex(),
		"amount": p.Amount.Dec(),
	})
	return nil
}

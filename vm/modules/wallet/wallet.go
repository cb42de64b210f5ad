// Package wallet registers the factory and owner instructions of escrow wallets.
package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/ledger"
	"github.com/tolelom/tolescrow/vm"
)

func init() {
	vm.Register(core.InstrCreateWallet, handleCreateWallet)
	vm.Register(core.InstrWithdraw, handleWithdraw)
	vm.Register(core.InstrWithdrawToken, handleWithdrawToken)
	vm.Register(core.InstrSetApprovalRequired, handleSetApprovalRequired)
	vm.Register(core.InstrReleaseExpired, handleReleaseExpired)
	vm.Register(core.InstrUpgradeWallet, handleUpgradeWallet)
}

// Address derives the wallet address the factory assigns to owner under salt.
func Address(cfg *core.RelayConfig, owner common.Address, salt common.Hash) common.Address {
	initHash := crypto.Keccak256(owner.Bytes(), cfg.Address.Bytes())
	return crypto.CreateAddress2(cfg.Factory, salt, initHash)
}

func handleCreateWallet(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateWalletPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode create_wallet payload: %w", err)
	}
	cfg, err := ctx.RelayConfig()
	if err != nil {
		return err
	}
	if ctx.Instr.From != cfg.Factory {
		return fmt.Errorf("%w: %s", core.ErrInvalidFactory, ctx.Instr.From.Hex())
	}
	if p.Owner == (common.Address{}) {
		return fmt.Errorf("%w: owner required", core.ErrZeroAddress)
	}
	if p.TokenEnabled {
		if _, err := ctx.State.GetToken(p.Token); err != nil {
			return fmt.Errorf("token %s: %w", p.Token.Hex(), err)
		}
	}

	w := &core.Wallet{
		Address:          Address(cfg, p.Owner, p.Salt),
		Owner:            p.Owner,
		Coordinator:      cfg.Address,
		Factory:          cfg.Factory,
		Token:            p.Token,
		TokenEnabled:     p.TokenEnabled,
		ApprovalRequired: p.ApprovalRequired,
	}
	if err := ledger.Initialize(ctx.LedgerEnv(), w); err != nil {
		return err
	}
	ctx.Emit(events.EventWalletCreated, map[string]any{
		"wallet":            w.Address.Hex(),
		"owner":             w.Owner.Hex(),
		"token":             w.Token.Hex(),
		"token_enabled":     w.TokenEnabled,
		"approval_required": w.ApprovalRequired,
	})
	return nil
}

func handleWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.WithdrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw payload: %w", err)
	}
	l, err := ctx.Ledger(p.Wallet)
	if err != nil {
		return err
	}
	return l.Withdraw(ctx.Instr.From, p.To, p.Amount)
}

func handleWithdrawToken(ctx *vm.Context, payload json.RawMessage) error {
	var p core.WithdrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode withdraw_token payload: %w", err)
	}
	l, err := ctx.Ledger(p.Wallet)
	if err != nil {
		return err
	}
	return l.WithdrawToken(ctx.Instr.From, p.To, p.Amount)
}

func handleSetApprovalRequired(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetApprovalRequiredPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_approval_required payload: %w", err)
	}
	l, err := ctx.Ledger(p.Wallet)
	if err != nil {
		return err
	}
	return l.SetApprovalRequired(ctx.Instr.From, p.Required)
}

func handleReleaseExpired(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ReleaseExpiredPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode release_expired payload: %w", err)
	}
	l, err := ctx.Ledger(p.Wallet)
	if err != nil {
		return err
	}
	if p.FullTraverse {
		_, err = l.ReleaseExpiredFullTraverse(ctx.Instr.From)
	} else {
		_, err = l.ReleaseExpired(ctx.Instr.From)
	}
	return err
}

// handleUpgradeWallet may be submitted by anyone holding the owner signature.
func handleUpgradeWallet(ctx *vm.Context, payload json.RawMessage) error {
	var p core.UpgradeWalletPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode upgrade_wallet payload: %w", err)
	}
	l, err := ctx.Ledger(p.Wallet)
	if err != nil {
		return err
	}
	return l.Upgrade(p.Implementation, p.Nonce, p.Signature)
}

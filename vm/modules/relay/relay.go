// Package relay registers the coordinator instructions. Each one is checked
// against the approver signature once and then applied to both wallets
// inside the executor's snapshot, so either both ledgers change or neither.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/ledger"
	"github.com/tolelom/tolescrow/vm"
)

func init() {
	vm.Register(core.InstrRelayReserve, handleReserve)
	vm.Register(core.InstrRelaySettle, handleSettle)
	vm.Register(core.InstrRelayCancel, handleCancel)
	vm.Register(core.InstrRelayRelease, handleRelease)
	vm.Register(core.InstrSetTTL, handleSetTTL)
}

// pair opens the ledgers of two distinct wallets registered with cfg.
func pair(ctx *vm.Context, cfg *core.RelayConfig, a, b common.Address) (*ledger.Ledger, *ledger.Ledger, error) {
	if a == (common.Address{}) || b == (common.Address{}) {
		return nil, nil, core.ErrZeroAddress
	}
	if a == b {
		return nil, nil, fmt.Errorf("%w: both sides name %s", core.ErrInvalidWallet, a.Hex())
	}
	la, err := registered(ctx, cfg, a)
	if err != nil {
		return nil, nil, err
	}
	lb, err := registered(ctx, cfg, b)
	if err != nil {
		return nil, nil, err
	}
	return la, lb, nil
}

func registered(ctx *vm.Context, cfg *core.RelayConfig, addr common.Address) (*ledger.Ledger, error) {
	l, err := ctx.Ledger(addr)
	if err != nil {
		return nil, err
	}
	if l.Wallet().Coordinator != cfg.Address {
		return nil, fmt.Errorf("%w: %s belongs to coordinator %s", core.ErrInvalidWallet, addr.Hex(), l.Wallet().Coordinator.Hex())
	}
	return l, nil
}

func handleReserve(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RelayReservePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode relay_reserve payload: %w", err)
	}
	cfg, err := ctx.RelayConfig()
	if err != nil {
		return err
	}
	req := &p.Request
	if err := ctx.Auth.CheckApprover(cfg, authority.Reserve(req), p.ApproverSignature); err != nil {
		return err
	}
	if req.Coordinator != cfg.Address {
		return fmt.Errorf("%w: request targets coordinator %s", core.ErrAddressMismatch, req.Coordinator.Hex())
	}
	l1, l2, err := pair(ctx, cfg, req.Wallet1, req.Wallet2)
	if err != nil {
		return err
	}

	// Never caller-supplied: one TTL for every record keeps lists ordered.
	expiration := ctx.Now() + cfg.TimeToLive
	if err := l1.Reserve(cfg.Address, req, ledger.PlayerOne, expiration, p.OwnerApproval1); err != nil {
		return fmt.Errorf("wallet1: %w", err)
	}
	if err := l2.Reserve(cfg.Address, req, ledger.PlayerTwo, expiration, p.OwnerApproval2); err != nil {
		return fmt.Errorf("wallet2: %w", err)
	}
	return nil
}

func handleSettle(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RelaySettlePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode relay_settle payload: %w", err)
	}
	cfg, err := ctx.RelayConfig()
	if err != nil {
		return err
	}
	s := &p.Settlement
	msg := authority.Settle(s, p.ExpiresAt)
	if err := ctx.Auth.CheckApproverUntil(cfg, msg, p.Signature, p.ExpiresAt, ctx.Now()); err != nil {
		return err
	}
	loser, winner, err := pair(ctx, cfg, s.Loser, s.Winner)
	if err != nil {
		return err
	}

	// Loser first: it is the side that can fail on an expired lock.
	if err := loser.SettleForLoser(cfg.Address, s); err != nil {
		return fmt.Errorf("loser: %w", err)
	}
	if err := winner.SettleForWinner(cfg.Address, s); err != nil {
		return fmt.Errorf("winner: %w", err)
	}
	return nil
}

func handleCancel(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RelayCancelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode relay_cancel payload: %w", err)
	}
	cfg, err := ctx.RelayConfig()
	if err != nil {
		return err
	}
	msg := authority.Cancel(p.WalletA, p.WalletB, p.GameID, p.ExpiresAt)
	if err := ctx.Auth.CheckApproverUntil(cfg, msg, p.Signature, p.ExpiresAt, ctx.Now()); err != nil {
		return err
	}
	la, lb, err := pair(ctx, cfg, p.WalletA, p.WalletB)
	if err != nil {
		return err
	}
	if err := la.Cancel(cfg.Address, p.GameID); err != nil {
		return fmt.Errorf("wallet_a: %w", err)
	}
	if err := lb.Cancel(cfg.Address, p.GameID); err != nil {
		return fmt.Errorf("wallet_b: %w", err)
	}
	return nil
}

func handleRelease(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RelayReleasePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode relay_release payload: %w", err)
	}
	cfg, err := ctx.RelayConfig()
	if err != nil {
		return err
	}
	msg := authority.Release(p.Wallet, p.FullTraverse, p.ExpiresAt)
	if err := ctx.Auth.CheckApproverUntil(cfg, msg, p.Signature, p.ExpiresAt, ctx.Now()); err != nil {
		return err
	}
	l, err := registered(ctx, cfg, p.Wallet)
	if err != nil {
		return err
	}
	if p.FullTraverse {
		_, err = l.ReleaseExpiredFullTraverse(cfg.Address)
	} else {
		_, err = l.ReleaseExpired(cfg.Address)
	}
	return err
}

func handleSetTTL(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetTTLPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_ttl payload: %w", err)
	}
	cfg, err := ctx.RelayConfig()
	if err != nil {
		return err
	}
	msg := authority.TimeToLive(p.TTL, p.ExpiresAt)
	if err := ctx.Auth.CheckApproverUntil(cfg, msg, p.Signature, p.ExpiresAt, ctx.Now()); err != nil {
		return err
	}
	if p.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", core.ErrInvalidAmount)
	}
	previous := cfg.TimeToLive
	cfg.TimeToLive = p.TTL
	if err := ctx.State.SetRelayConfig(cfg); err != nil {
		return err
	}
	ctx.Emit(events.EventTTLChanged, map[string]any{
		"previous": previous,
		"ttl":      p.TTL,
	})
	return nil
}

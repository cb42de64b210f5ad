// Package signer provides key management and instruction signing helpers
// for submitters: relayers, wallet owners, the factory and the approver.
package signer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

// Signer holds a private key and builds signed envelopes and typed approvals.
type Signer struct {
	priv *crypto.PrivateKey
}

// New creates a Signer from an existing private key.
func New(priv *crypto.PrivateKey) *Signer {
	return &Signer{priv: priv}
}

// Generate creates a Signer with a freshly generated key.
func Generate() (*Signer, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (s *Signer) PrivKey() *crypto.PrivateKey { return s.priv }

// Address returns the account address of the key.
func (s *Signer) Address() common.Address { return s.priv.Address() }

// NewInstr creates a signed instruction. nonce must match the submitter's
// current account nonce.
func (s *Signer) NewInstr(chainID uint64, typ core.InstrType, nonce uint64, payload any) (*core.Instruction, error) {
	in, err := core.NewInstruction(chainID, typ, s.Address(), nonce, payload)
	if err != nil {
		return nil, err
	}
	if err := in.Sign(s.priv); err != nil {
		return nil, err
	}
	return in, nil
}

// Transfer creates a signed native transfer.
func (s *Signer) Transfer(chainID uint64, to common.Address, amount *uint256.Int, nonce uint64) (*core.Instruction, error) {
	return s.NewInstr(chainID, core.InstrTransfer, nonce, core.TransferPayload{To: to, Amount: amount})
}

// ---- approver side ----

// ApproveReserve signs req for the relay described by cfg.
func (s *Signer) ApproveReserve(cfg *core.RelayConfig, req *core.ReserveRequest) ([]byte, error) {
	return crypto.SignTyped(s.priv, authority.RelayDomain(cfg), authority.Reserve(req))
}

// Settle builds a signed settlement payload valid until expiresAt.
func (s *Signer) Settle(cfg *core.RelayConfig, st core.Settlement, expiresAt int64) (*core.RelaySettlePayload, error) {
	sig, err := crypto.SignTyped(s.priv, authority.RelayDomain(cfg), authority.Settle(&st, expiresAt))
	if err != nil {
		return nil, err
	}
	return &core.RelaySettlePayload{Settlement: st, ExpiresAt: expiresAt, Signature: sig}, nil
}

// Cancel builds a signed cancellation bound to the wallet pair.
func (s *Signer) Cancel(cfg *core.RelayConfig, walletA, walletB common.Address, gameID uint64, expiresAt int64) (*core.RelayCancelPayload, error) {
	sig, err := crypto.SignTyped(s.priv, authority.RelayDomain(cfg), authority.Cancel(walletA, walletB, gameID, expiresAt))
	if err != nil {
		return nil, err
	}
	return &core.RelayCancelPayload{WalletA: walletA, WalletB: walletB, GameID: gameID, ExpiresAt: expiresAt, Signature: sig}, nil
}

// Release builds a signed reap request for wallet.
func (s *Signer) Release(cfg *core.RelayConfig, wallet common.Address, fullTraverse bool, expiresAt int64) (*core.RelayReleasePayload, error) {
	sig, err := crypto.SignTyped(s.priv, authority.RelayDomain(cfg), authority.Release(wallet, fullTraverse, expiresAt))
	if err != nil {
		return nil, err
	}
	return &core.RelayReleasePayload{Wallet: wallet, FullTraverse: fullTraverse, ExpiresAt: expiresAt, Signature: sig}, nil
}

// SetTTL builds a signed time-to-live change.
func (s *Signer) SetTTL(cfg *core.RelayConfig, ttl, expiresAt int64) (*core.SetTTLPayload, error) {
	sig, err := crypto.SignTyped(s.priv, authority.RelayDomain(cfg), authority.TimeToLive(ttl, expiresAt))
	if err != nil {
		return nil, err
	}
	return &core.SetTTLPayload{TTL: ttl, ExpiresAt: expiresAt, Signature: sig}, nil
}

// ---- owner side ----

// OwnerApproval co-signs req in the domain of wallet.
func (s *Signer) OwnerApproval(chainID uint64, wallet common.Address, req *core.ReserveRequest) ([]byte, error) {
	return crypto.SignTyped(s.priv, authority.WalletDomain(chainID, wallet), authority.Reserve(req))
}

// Upgrade builds a signed implementation swap for wallet at nonce.
func (s *Signer) Upgrade(chainID uint64, wallet, implementation common.Address, nonce uint64) (*core.UpgradeWalletPayload, error) {
	sig, err := crypto.SignTyped(s.priv, authority.WalletDomain(chainID, wallet), authority.Upgrade(implementation, nonce))
	if err != nil {
		return nil, err
	}
	return &core.UpgradeWalletPayload{Wallet: wallet, Implementation: implementation, Nonce: nonce, Signature: sig}, nil
}

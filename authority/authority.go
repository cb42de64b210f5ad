// Package authority verifies the typed signatures that gate every
// fund-moving instruction: approver signatures checked by the relay and
// owner signatures checked by a single wallet.
package authority

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

const (
	relayDomainName  = "EscrowRelay"
	walletDomainName = "EscrowWallet"
	domainVersion    = "1"
)

// Verifier recovers the signer of a typed message.
type Verifier interface {
	Signer(domain crypto.Domain, msg crypto.Message, sig []byte) (common.Address, error)
}

// ECDSA recovers secp256k1 signers over EIP-712 digests.
type ECDSA struct{}

// Signer implements Verifier.
func (ECDSA) Signer(domain crypto.Domain, msg crypto.Message, sig []byte) (common.Address, error) {
	return crypto.RecoverTyped(domain, msg, sig)
}

// RelayDomain is the signing domain of the coordinator described by cfg.
func RelayDomain(cfg *core.RelayConfig) crypto.Domain {
	return crypto.Domain{
		Name:              relayDomainName,
		Version:           domainVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.Address,
	}
}

// WalletDomain is the signing domain of a single wallet instance.
func WalletDomain(chainID uint64, wallet common.Address) crypto.Domain {
	return crypto.Domain{
		Name:              walletDomainName,
		Version:           domainVersion,
		ChainID:           chainID,
		VerifyingContract: wallet,
	}
}

// Authority checks approver and owner signatures through a Verifier.
type Authority struct {
	v Verifier
}

// New returns an Authority backed by v; nil selects ECDSA.
func New(v Verifier) *Authority {
	if v == nil {
		v = ECDSA{}
	}
	return &Authority{v: v}
}

// CheckApprover verifies that the relay approver signed msg.
// Any failure is reported as core.ErrInvalidSignature.
func (a *Authority) CheckApprover(cfg *core.RelayConfig, msg crypto.Message, sig []byte) error {
	signer, err := a.v.Signer(RelayDomain(cfg), msg, sig)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrInvalidSignature, msg.PrimaryType, err)
	}
	if signer != cfg.Approver {
		return fmt.Errorf("%w: %s signed by %s", core.ErrInvalidSignature, msg.PrimaryType, signer.Hex())
	}
	return nil
}

// CheckApproverUntil is CheckApprover for messages carrying a deadline.
// A deadline before now invalidates the signature.
func (a *Authority) CheckApproverUntil(cfg *core.RelayConfig, msg crypto.Message, sig []byte, expiresAt, now int64) error {
	if now > expiresAt {
		return fmt.Errorf("%w: %s expired at %d", core.ErrInvalidSignature, msg.PrimaryType, expiresAt)
	}
	return a.CheckApprover(cfg, msg, sig)
}

// CheckOwner verifies that the owner of w signed msg in w's own domain.
// Any failure is reported as core.ErrBadSignature.
func (a *Authority) CheckOwner(chainID uint64, w *core.Wallet, msg crypto.Message, sig []byte) error {
	signer, err := a.v.Signer(WalletDomain(chainID, w.Address), msg, sig)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrBadSignature, msg.PrimaryType, err)
	}
	if signer != w.Owner {
		return fmt.Errorf("%w: %s signed by %s", core.ErrBadSignature, msg.PrimaryType, signer.Hex())
	}
	return nil
}

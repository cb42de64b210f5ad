package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/crypto"
)

// InstrType identifies the kind of operation an instruction performs.
type InstrType string

const (
	InstrTransfer      InstrType = "transfer"
	InstrRegisterToken InstrType = "register_token"
	InstrMintToken     InstrType = "mint_token"
	InstrTransferToken InstrType = "transfer_token"

	InstrCreateWallet        InstrType = "create_wallet"
	InstrWithdraw            InstrType = "withdraw"
	InstrWithdrawToken       InstrType = "withdraw_token"
	InstrSetApprovalRequired InstrType = "set_approval_required"
	InstrReleaseExpired      InstrType = "release_expired"
	InstrUpgradeWallet       InstrType = "upgrade_wallet"

	InstrRelayReserve InstrType = "relay_reserve"
	InstrRelaySettle  InstrType = "relay_settle"
	InstrRelayCancel  InstrType = "relay_cancel"
	InstrRelayRelease InstrType = "relay_release"
	InstrSetTTL       InstrType = "set_ttl"
)

// Instruction is the atomic unit of work submitted to the engine.
// Signature is a secp256k1 signature by From over every other field.
type Instruction struct {
	ID        string          `json:"id"`
	ChainID   uint64          `json:"chain_id"`
	Type      InstrType       `json:"type"`
	From      common.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"` // unix nanoseconds
	Payload   json.RawMessage `json:"payload"`
	Signature hexutil.Bytes   `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   uint64          `json:"chain_id"`
	Type      InstrType       `json:"type"`
	From      common.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (in *Instruction) digest() []byte {
	data, err := json.Marshal(signingBody{
		ChainID:   in.ChainID,
		Type:      in.Type,
		From:      in.From,
		Nonce:     in.Nonce,
		Timestamp: in.Timestamp,
		Payload:   in.Payload,
	})
	if err != nil {
		return nil
	}
	return crypto.HashBytes(data)
}

// Hash returns a deterministic hex hash of the instruction (sans Signature).
func (in *Instruction) Hash() string {
	return common.Bytes2Hex(in.digest())
}

// Sign sets Signature and ID. priv must belong to From.
func (in *Instruction) Sign(priv *crypto.PrivateKey) error {
	sig, err := crypto.Sign(priv, in.digest())
	if err != nil {
		return err
	}
	in.Signature = sig
	in.ID = in.Hash()
	return nil
}

// Verify checks that Signature was produced by From.
func (in *Instruction) Verify() error {
	if in.From == (common.Address{}) {
		return errors.New("missing from field")
	}
	if len(in.Signature) == 0 {
		return errors.New("missing signature")
	}
	return crypto.Verify(in.From, in.digest(), in.Signature)
}

// NewInstruction creates an unsigned instruction with the current timestamp.
func NewInstruction(chainID uint64, typ InstrType, from common.Address, nonce uint64, payload any) (*Instruction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Instruction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves native coin from the submitter.
type TransferPayload struct {
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// RegisterTokenPayload registers a fungible token issued by the submitter.
type RegisterTokenPayload struct {
	Symbol string `json:"symbol"`
}

// MintTokenPayload issues new token units. Issuer only.
type MintTokenPayload struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// TransferTokenPayload moves token units from the submitter.
type TransferTokenPayload struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// CreateWalletPayload deploys and initializes an escrow wallet. Factory only.
type CreateWalletPayload struct {
	Owner            common.Address `json:"owner"`
	Salt             common.Hash    `json:"salt"`
	Token            common.Address `json:"token"`
	TokenEnabled     bool           `json:"token_enabled"`
	ApprovalRequired bool           `json:"approval_required"`
}

// WithdrawPayload moves uncommitted funds out of a wallet. Owner only.
type WithdrawPayload struct {
	Wallet common.Address `json:"wallet"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

// SetApprovalRequiredPayload toggles owner co-signing of reservations.
type SetApprovalRequiredPayload struct {
	Wallet   common.Address `json:"wallet"`
	Required bool           `json:"required"`
}

// ReleaseExpiredPayload reaps expired reservations on the owner's behalf.
type ReleaseExpiredPayload struct {
	Wallet       common.Address `json:"wallet"`
	FullTraverse bool           `json:"full_traverse"`
}

// UpgradeWalletPayload swaps a wallet's implementation under an owner signature.
type UpgradeWalletPayload struct {
	Wallet         common.Address `json:"wallet"`
	Implementation common.Address `json:"implementation"`
	Nonce          uint64         `json:"nonce"`
	Signature      hexutil.Bytes  `json:"signature"`
}

// ReserveRequest locks Amount in both named wallets against GameID.
// Nonce1 and Nonce2 must equal the current nonce of Wallet1 and Wallet2.
type ReserveRequest struct {
	Coordinator    common.Address `json:"coordinator"`
	Wallet1        common.Address `json:"wallet1"`
	Wallet2        common.Address `json:"wallet2"`
	GameID         uint64         `json:"game_id"`
	Amount         *uint256.Int   `json:"amount"`
	IsToken        bool           `json:"is_token"`
	FeeRecipient   common.Address `json:"fee_recipient"`
	FeeBasisPoints uint16         `json:"fee_basis_points"`
	Nonce1         uint64         `json:"nonce1"`
	Nonce2         uint64         `json:"nonce2"`
}

// RelayReservePayload carries a reserve request with the approver signature
// and the optional per-wallet owner approvals.
type RelayReservePayload struct {
	Request           ReserveRequest `json:"request"`
	ApproverSignature hexutil.Bytes  `json:"approver_signature"`
	OwnerApproval1    hexutil.Bytes  `json:"owner_approval1,omitempty"`
	OwnerApproval2    hexutil.Bytes  `json:"owner_approval2,omitempty"`
}

// Settlement names the winner and loser of a reserved game.
type Settlement struct {
	Coordinator common.Address `json:"coordinator"`
	GameID      uint64         `json:"game_id"`
	Winner      common.Address `json:"winner"`
	Loser       common.Address `json:"loser"`
}

// RelaySettlePayload settles a game under an approver signature valid until ExpiresAt.
type RelaySettlePayload struct {
	Settlement Settlement    `json:"settlement"`
	ExpiresAt  int64         `json:"expires_at"`
	Signature  hexutil.Bytes `json:"signature"`
}

// RelayCancelPayload releases both locks of a game without transfer.
type RelayCancelPayload struct {
	WalletA   common.Address `json:"wallet_a"`
	WalletB   common.Address `json:"wallet_b"`
	GameID    uint64         `json:"game_id"`
	ExpiresAt int64          `json:"expires_at"`
	Signature hexutil.Bytes  `json:"signature"`
}

// RelayReleasePayload reaps expired reservations of one wallet.
type RelayReleasePayload struct {
	Wallet       common.Address `json:"wallet"`
	FullTraverse bool           `json:"full_traverse"`
	ExpiresAt    int64          `json:"expires_at"`
	Signature    hexutil.Bytes  `json:"signature"`
}

// SetTTLPayload changes the global reservation time-to-live.
type SetTTLPayload struct {
	TTL       int64         `json:"ttl_seconds"`
	ExpiresAt int64         `json:"expires_at"`
	Signature hexutil.Bytes `json:"signature"`
}

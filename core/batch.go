package core

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tolelom/tolescrow/crypto"
)

// BatchHeader contains the batch metadata that is hashed and signed.
// Timestamp is the logical clock every instruction in the batch observes.
type BatchHeader struct {
	Height    int64          `json:"height"`
	PrevHash  string         `json:"prev_hash"`
	StateRoot string         `json:"state_root"` // hash of state after executing this batch
	InstrRoot string         `json:"instr_root"` // hash of all instruction IDs
	Timestamp int64          `json:"timestamp"`  // unix seconds
	Sequencer common.Address `json:"sequencer"`
}

// Batch is an ordered list of instructions with a signed header.
type Batch struct {
	Header       BatchHeader    `json:"header"`
	Instructions []*Instruction `json:"instructions"`
	Hash         string         `json:"hash"`
	Signature    hexutil.Bytes  `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
func (b *Batch) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the batch with the sequencer's private key.
func (b *Batch) Sign(priv *crypto.PrivateKey) error {
	b.Hash = b.ComputeHash()
	sig, err := crypto.Sign(priv, common.FromHex(b.Hash))
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// Verify checks the batch signature against the expected sequencer.
func (b *Batch) Verify(sequencer common.Address) error {
	return crypto.Verify(sequencer, common.FromHex(b.Hash), b.Signature)
}

// ComputeInstrRoot builds a deterministic root hash from all instruction IDs.
func ComputeInstrRoot(instrs []*Instruction) string {
	if len(instrs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, in := range instrs {
		ids = append(ids, []byte(in.ID)...)
	}
	return crypto.Hash(ids)
}

// NewBatch creates an unsigned batch stamped with the logical time now.
func NewBatch(height int64, prevHash string, sequencer common.Address, now int64, instrs []*Instruction) *Batch {
	return &Batch{
		Header: BatchHeader{
			Height:    height,
			PrevHash:  prevHash,
			InstrRoot: ComputeInstrRoot(instrs),
			Timestamp: now,
			Sequencer: sequencer,
		},
		Instructions: instrs,
	}
}

package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

// GenesisHash is the canonical all-zeros previous hash of the genesis batch.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// RelayConfig returns the coordinator configuration the genesis installs.
func (g *GenesisConfig) RelayConfig() *core.RelayConfig {
	return &core.RelayConfig{
		Address:    g.RelayAddress,
		Approver:   g.Approver,
		Factory:    g.Factory,
		ChainID:    g.ChainID,
		TimeToLive: g.TTLSeconds,
	}
}

// CreateGenesisBatch installs the relay configuration and the initial native
// balances, commits them, and returns the signed batch #0.
func CreateGenesisBatch(cfg *Config, state core.State, sequencer *crypto.PrivateKey, now int64) (*core.Batch, error) {
	if err := state.SetRelayConfig(cfg.Genesis.RelayConfig()); err != nil {
		return nil, err
	}
	for addrHex, amount := range cfg.Genesis.Alloc {
		if !common.IsHexAddress(addrHex) {
			return nil, fmt.Errorf("alloc: invalid address %q", addrHex)
		}
		balance, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("alloc %s: %w", addrHex, err)
		}
		acc := &core.Account{
			Address: common.HexToAddress(addrHex),
			Balance: balance,
		}
		if err := state.SetAccount(acc); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	batch := core.NewBatch(0, GenesisHash, sequencer.Address(), now, nil)
	batch.Header.StateRoot = stateRoot
	if err := batch.Sign(sequencer); err != nil {
		return nil, err
	}
	return batch, nil
}

// IsGenesisHash reports whether h is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}

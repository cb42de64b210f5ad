package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// GenesisConfig describes the engine's initial state.
type GenesisConfig struct {
	ChainID      uint64            `toml:"chain_id"`
	RelayAddress common.Address    `toml:"relay_address"`
	Approver     common.Address    `toml:"approver"`
	Factory      common.Address    `toml:"factory"`
	TTLSeconds   int64             `toml:"ttl_seconds"`
	Alloc        map[string]string `toml:"alloc"` // address hex → decimal native balance
}

// Config holds all node configuration.
type Config struct {
	NodeID         string         `toml:"node_id"`
	DataDir        string         `toml:"data_dir"`
	RPCAddr        string         `toml:"rpc_addr"`
	RPCAuthToken   string         `toml:"rpc_auth_token"` // empty disables bearer auth
	RPCRateLimit   float64        `toml:"rpc_rate_limit"` // requests per second; 0 disables
	RPCRateBurst   int            `toml:"rpc_rate_burst"`
	Metrics        bool           `toml:"metrics"`
	ArchiveDSN     string         `toml:"archive_dsn"` // sqlite path; empty disables the archive
	LogFile        string         `toml:"log_file"`    // empty logs to stderr
	LogEnv         string         `toml:"log_env"`
	BatchInterval  time.Duration  `toml:"batch_interval"`
	MaxBatchInstrs int            `toml:"max_batch_instrs"` // 0 → 500
	SequencerAddr  common.Address `toml:"sequencer"`
	Genesis        GenesisConfig  `toml:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:         "escrow0",
		DataDir:        "./data",
		RPCAddr:        "127.0.0.1:8545",
		RPCRateLimit:   50,
		RPCRateBurst:   100,
		Metrics:        true,
		LogEnv:         "dev",
		BatchInterval:  2 * time.Second,
		MaxBatchInstrs: 500,
		Genesis: GenesisConfig{
			ChainID:    1337,
			TTLSeconds: 3600,
			Alloc:      map[string]string{},
		},
	}
}

// Validate checks the fields the node cannot run without.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir required")
	}
	if c.BatchInterval <= 0 {
		return fmt.Errorf("batch_interval must be positive")
	}
	if c.Genesis.ChainID == 0 {
		return fmt.Errorf("genesis.chain_id required")
	}
	if c.Genesis.TTLSeconds <= 0 {
		return fmt.Errorf("genesis.ttl_seconds must be positive")
	}
	if c.Genesis.RelayAddress == (common.Address{}) {
		return fmt.Errorf("genesis.relay_address required")
	}
	if c.Genesis.Approver == (common.Address{}) {
		return fmt.Errorf("genesis.approver required")
	}
	if c.Genesis.Factory == (common.Address{}) {
		return fmt.Errorf("genesis.factory required")
	}
	for addr := range c.Genesis.Alloc {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("genesis.alloc: invalid address %q", addr)
		}
	}
	return nil
}

// Load reads a TOML config file from path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

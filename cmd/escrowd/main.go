// Command escrowd runs the escrow engine: sequencer, JSON-RPC and archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/tolescrow/archive"
	"github.com/tolelom/tolescrow/config"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/logging"
	"github.com/tolelom/tolescrow/rpc"
	"github.com/tolelom/tolescrow/sequencer"
	"github.com/tolelom/tolescrow/signer"
	"github.com/tolelom/tolescrow/storage"
	"github.com/tolelom/tolescrow/vm"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolescrow/vm/modules/economy"
	_ "github.com/tolelom/tolescrow/vm/modules/relay"
	_ "github.com/tolelom/tolescrow/vm/modules/wallet"
)

func main() {
	cfgPath := flag.String("config", "escrowd.toml", "path to config file")
	keyPath := flag.String("key", "sequencer.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new sequencer key and exit")
	flag.Parse()

	// Read keystore password from environment (not CLI flags, they leak via ps).
	password := os.Getenv("ESCROW_PASSWORD")

	if *genKey {
		if err := generateKey(*keyPath, password); err != nil {
			fmt.Fprintln(os.Stderr, "genkey:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, closer := logging.Setup("escrowd", cfg.LogEnv, cfg.LogFile)
	defer closer.Close()
	if password == "" {
		log.Warn("ESCROW_PASSWORD not set, keystore uses an empty password")
	}

	if err := run(cfg, *keyPath, password, log); err != nil {
		log.Error("escrowd stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func generateKey(path, password string) error {
	s, err := signer.Generate()
	if err != nil {
		return err
	}
	if err := signer.SaveKey(path, password, s.PrivKey()); err != nil {
		return err
	}
	fmt.Printf("Generated key. Sequencer address: %s\n", s.Address().Hex())
	fmt.Printf("Saved to: %s\n", path)
	return nil
}

func run(cfg *config.Config, keyPath, password string, log *slog.Logger) error {
	key, err := signer.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	applyDevDefaults(cfg, key, log)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "engine"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// The sequencer owns the write buffer; RPC reads committed data through
	// its own view.
	state := storage.NewStateDB(db)
	readView := storage.NewStateDB(db)

	journal := core.NewJournal(storage.NewJournalStore(db))
	if err := journal.Init(); err != nil {
		return fmt.Errorf("journal init: %w", err)
	}
	if journal.Tip() == nil {
		genesis, err := config.CreateGenesisBatch(cfg, state, key, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := journal.Append(genesis); err != nil {
			return fmt.Errorf("append genesis: %w", err)
		}
		log.Info("genesis committed", "hash", genesis.Hash, "chain_id", cfg.Genesis.ChainID)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	if cfg.ArchiveDSN != "" {
		arc, err := archive.Open(cfg.ArchiveDSN)
		if err != nil {
			return err
		}
		defer arc.Close()
		arc.Attach(emitter)
		log.Info("archive enabled", "dsn", cfg.ArchiveDSN)
	}

	queue := core.NewQueue()
	exec := vm.NewExecutor(state, nil, cfg.Genesis.ChainID)
	seq := sequencer.New(journal, state, queue, exec, emitter, key, sequencer.Options{
		Authority: cfg.SequencerAddr,
		MaxInstrs: cfg.MaxBatchInstrs,
	})
	if !seq.IsSequencer() {
		log.Warn("local key is not the configured sequencer, batches will not be produced",
			"key", key.Address().Hex(), "sequencer", cfg.SequencerAddr.Hex())
	}

	handler := rpc.NewHandler(journal, queue, readView, idx, cfg.Genesis.ChainID)
	server := rpc.NewServer(cfg.RPCAddr, handler, rpc.Options{
		AuthToken: cfg.RPCAuthToken,
		RateLimit: cfg.RPCRateLimit,
		RateBurst: cfg.RPCRateBurst,
		Metrics:   cfg.Metrics,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	if cfg.RPCAuthToken != "" {
		log.Info("rpc bearer token authentication enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("sequencer running", "address", key.Address().Hex(), "interval", cfg.BatchInterval)
		return seq.Run(ctx, cfg.BatchInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return server.Stop()
	})
	return g.Wait()
}

// applyDevDefaults fills unset genesis identities with the local key so a
// fresh single-node setup runs without editing the config.
func applyDevDefaults(cfg *config.Config, key *crypto.PrivateKey, log *slog.Logger) {
	addr := key.Address()
	g := &cfg.Genesis
	for name, field := range map[string]*common.Address{
		"relay_address": &g.RelayAddress,
		"approver":      &g.Approver,
		"factory":       &g.Factory,
		"sequencer":     &cfg.SequencerAddr,
	} {
		if *field == (common.Address{}) {
			*field = addr
			log.Warn("config field unset, using local key", "field", name, "address", addr.Hex())
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

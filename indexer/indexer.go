// Package indexer maintains secondary indexes over committed batches so
// operators can list wallets by owner and game history by wallet without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/storage"
)

const (
	prefixOwnerWallets = "idx:owner:wallet:"
	prefixWalletGames  = "idx:wallet:game:"
)

// Indexer subscribes to engine events and updates secondary lookup tables.
// Game history is append-only: reaping a record does not remove it here.
type Indexer struct {
	db  storage.DB
	log *slog.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, log: slog.Default().With("component", "indexer")}
	emitter.Subscribe(events.EventWalletCreated, idx.onWalletCreated)
	emitter.Subscribe(events.EventReservationCreated, idx.onReservationCreated)
	return idx
}

func key(prefix string, a common.Address) string {
	return prefix + strings.ToLower(a.Hex())
}

// WalletsByOwner returns every wallet created for owner, oldest first.
func (idx *Indexer) WalletsByOwner(owner common.Address) ([]common.Address, error) {
	var out []common.Address
	if err := idx.getList(key(prefixOwnerWallets, owner), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GamesByWallet returns every game id the wallet ever reserved, oldest first.
func (idx *Indexer) GamesByWallet(wallet common.Address) ([]uint64, error) {
	var out []uint64
	if err := idx.getList(key(prefixWalletGames, wallet), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- event handlers ----

func (idx *Indexer) onWalletCreated(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	wallet, _ := ev.Data["wallet"].(string)
	if !common.IsHexAddress(owner) || !common.IsHexAddress(wallet) {
		return
	}
	k := key(prefixOwnerWallets, common.HexToAddress(owner))
	if err := addToList(idx, k, common.HexToAddress(wallet)); err != nil {
		idx.log.Error("index wallet", "owner", owner, "wallet", wallet, "err", err)
	}
}

func (idx *Indexer) onReservationCreated(ev events.Event) {
	wallet, _ := ev.Data["wallet"].(string)
	gameID, _ := ev.Data["game_id"].(uint64)
	if !common.IsHexAddress(wallet) || gameID == 0 {
		return
	}
	if err := addToList(idx, key(prefixWalletGames, common.HexToAddress(wallet)), gameID); err != nil {
		idx.log.Error("index game", "wallet", wallet, "game_id", gameID, "err", err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string, out any) error {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil // empty list
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("indexer unmarshal: %w", err)
	}
	return nil
}

func addToList[T comparable](idx *Indexer, key string, value T) error {
	var list []T
	if err := idx.getList(key, &list); err != nil {
		return err
	}
	if slices.Contains(list, value) {
		return nil
	}
	list = append(list, value)
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

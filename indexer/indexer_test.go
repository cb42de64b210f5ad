package indexer_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/internal/testutil"
)

func TestIndexerTracksWalletsAndGames(t *testing.T) {
	emitter := events.NewEmitter()
	idx := indexer.New(testutil.NewMemDB(), emitter)

	owner := common.HexToAddress("0x0f0")
	w1, w2 := common.HexToAddress("0xa1"), common.HexToAddress("0xa2")
	for _, w := range []common.Address{w1, w2, w1} {
		emitter.Emit(events.Event{Type: events.EventWalletCreated, Data: map[string]any{
			"owner":  owner.Hex(),
			"wallet": w.Hex(),
		}})
	}
	for _, id := range []uint64{3, 1, 3} {
		emitter.Emit(events.Event{Type: events.EventReservationCreated, Data: map[string]any{
			"wallet":  w1.Hex(),
			"game_id": id,
		}})
	}

	wallets, err := idx.WalletsByOwner(owner)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{w1, w2}, wallets)

	games, err := idx.GamesByWallet(w1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1}, games)

	games, err = idx.GamesByWallet(w2)
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestIndexerIgnoresMalformedEvents(t *testing.T) {
	emitter := events.NewEmitter()
	db := testutil.NewMemDB()
	indexer.New(db, emitter)

	emitter.Emit(events.Event{Type: events.EventWalletCreated, Data: map[string]any{"owner": "nope"}})
	emitter.Emit(events.Event{Type: events.EventReservationCreated, Data: map[string]any{"wallet": common.HexToAddress("0xa1").Hex(), "game_id": uint64(0)}})
	assert.Zero(t, db.Len())
}

type readOnlyDB struct{ *testutil.MemDB }

func (readOnlyDB) Set(_, _ []byte) error { return errors.New("disk full") }

func TestIndexerLogsWriteFailures(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	emitter := events.NewEmitter()
	idx := indexer.New(readOnlyDB{testutil.NewMemDB()}, emitter)

	w := common.HexToAddress("0xa1")
	emitter.Emit(events.Event{Type: events.EventWalletCreated, Data: map[string]any{
		"owner":  common.HexToAddress("0x0f0").Hex(),
		"wallet": w.Hex(),
	}})
	emitter.Emit(events.Event{Type: events.EventReservationCreated, Data: map[string]any{
		"wallet":  w.Hex(),
		"game_id": uint64(4),
	}})

	out := buf.String()
	assert.Contains(t, out, `"component":"indexer"`)
	assert.Contains(t, out, `"msg":"index wallet"`)
	assert.Contains(t, out, `"msg":"index game"`)
	assert.Contains(t, out, "disk full")

	games, err := idx.GamesByWallet(w)
	require.NoError(t, err)
	assert.Empty(t, games)
}

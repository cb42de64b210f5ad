package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/storage"
)

var (
	alice  = common.HexToAddress("0xa11ce")
	wallet = common.HexToAddress("0xa01")
)

func TestUnknownAccountIsZero(t *testing.T) {
	s := testutil.NewStateDB()
	acc, err := s.GetAccount(alice)
	require.NoError(t, err)
	assert.Equal(t, alice, acc.Address)
	assert.True(t, acc.Balance.IsZero())

	_, err = s.GetWallet(wallet)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetRelayConfig()
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetAccount(&core.Account{Address: alice, Balance: uint256.NewInt(10)}))

	id, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SetAccount(&core.Account{Address: alice, Balance: uint256.NewInt(99)}))
	require.NoError(t, s.SetReservation(&core.Reservation{Wallet: wallet, GameID: 1, Amount: uint256.NewInt(1), Exists: true}))

	require.NoError(t, s.RevertToSnapshot(id))
	acc, err := s.GetAccount(alice)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(10), acc.Balance)
	_, err = s.GetReservation(wallet, 1)
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Error(t, s.RevertToSnapshot(id), "snapshot consumed")
}

func TestDeleteReservationShadowsCommittedValue(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetReservation(&core.Reservation{Wallet: wallet, GameID: 4, Amount: uint256.NewInt(1), Exists: true}))
	require.NoError(t, s.Commit())

	require.NoError(t, s.DeleteReservation(wallet, 4))
	_, err := s.GetReservation(wallet, 4)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, s.Commit())
	_, err = s.GetReservation(wallet, 4)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestComputeRootCoversBufferAndStore(t *testing.T) {
	db := testutil.NewMemDB()
	a := storage.NewStateDB(db)
	require.NoError(t, a.SetAccount(&core.Account{Address: alice, Balance: uint256.NewInt(5)}))
	buffered := a.ComputeRoot()
	require.NoError(t, a.Commit())
	assert.Equal(t, buffered, a.ComputeRoot(), "commit does not change the root")

	// A second view over the same store sees the same state.
	b := storage.NewStateDB(db)
	assert.Equal(t, a.ComputeRoot(), b.ComputeRoot())

	require.NoError(t, b.SetTokenBalance(common.HexToAddress("0x70c"), alice, uint256.NewInt(1)))
	assert.NotEqual(t, a.ComputeRoot(), b.ComputeRoot())

	b.Discard()
	assert.Equal(t, a.ComputeRoot(), b.ComputeRoot())
}

func TestLevelDBJournalStore(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "engine"))
	require.NoError(t, err)
	defer db.Close()

	store := storage.NewJournalStore(db)
	tip, err := store.GetTip()
	require.NoError(t, err)
	assert.Empty(t, tip)

	batch := core.NewBatch(1, "00", alice, 100, nil)
	batch.Hash = batch.ComputeHash()
	require.NoError(t, store.CommitBatch(batch))

	tip, err = store.GetTip()
	require.NoError(t, err)
	assert.Equal(t, batch.Hash, tip)

	got, err := store.GetBatchByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, batch.Header, got.Header)

	_, err = store.GetBatch("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLevelDBState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)

	s := storage.NewStateDB(db)
	require.NoError(t, s.SetRelayConfig(&core.RelayConfig{Address: alice, TimeToLive: 60}))
	require.NoError(t, s.Commit())
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	cfg, err := storage.NewStateDB(db).GetRelayConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(60), cfg.TimeToLive)
}

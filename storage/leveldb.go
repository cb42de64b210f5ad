package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tolelom/tolescrow/core"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() WriteBatch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.b.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.b.Delete(key) }
func (b *levelBatch) Reset()                { b.b.Reset() }
func (b *levelBatch) Write() error          { return b.db.Write(b.b, nil) }

// ---- JournalStore implementation ----

const keyTip = "journal:tip"

// JournalStore implements core.JournalStore on top of any DB.
type JournalStore struct {
	db DB
}

// NewJournalStore wraps db as a core.JournalStore.
func NewJournalStore(db DB) *JournalStore {
	return &JournalStore{db: db}
}

func batchKey(hash string) []byte    { return []byte("batch:" + hash) }
func heightKey(height int64) []byte { return []byte(fmt.Sprintf("height:%020d", height)) }

func (s *JournalStore) GetBatch(hash string) (*core.Batch, error) {
	data, err := s.db.Get(batchKey(hash))
	if err != nil {
		return nil, err
	}
	var b core.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *JournalStore) GetBatchByHeight(height int64) (*core.Batch, error) {
	hash, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, err
	}
	return s.GetBatch(string(hash))
}

func (s *JournalStore) GetTip() (string, error) {
	val, err := s.db.Get([]byte(keyTip))
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// CommitBatch writes the batch, its height index and the tip in one atomic write.
func (s *JournalStore) CommitBatch(batch *core.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	wb := s.db.NewBatch()
	wb.Set(batchKey(batch.Hash), data)
	wb.Set(heightKey(batch.Header.Height), []byte(batch.Hash))
	wb.Set([]byte(keyTip), []byte(batch.Hash))
	return wb.Write()
}

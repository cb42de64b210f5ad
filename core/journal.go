package core

import (
	"fmt"
	"sync"
)

// JournalStore is the persistence interface used by Journal.
// Implementations live in the storage package.
type JournalStore interface {
	GetBatch(hash string) (*Batch, error)
	GetBatchByHeight(height int64) (*Batch, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh journal.
	GetTip() (string, error)
	// CommitBatch atomically writes the batch, its height index entry, and
	// updates the tip pointer.
	CommitBatch(batch *Batch) error
}

// Journal is the append-only record of committed batches.
type Journal struct {
	mu     sync.RWMutex
	store  JournalStore
	tip    *Batch
	height int64
}

// NewJournal returns a Journal backed by store.
// Call Init() to load an existing tip from storage.
func NewJournal(store JournalStore) *Journal {
	return &Journal{store: store}
}

// Init loads the persisted tip from the store.
func (j *Journal) Init() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tipHash, err := j.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil
	}
	tip, err := j.store.GetBatch(tipHash)
	if err != nil {
		return fmt.Errorf("load tip batch: %w", err)
	}
	j.tip = tip
	j.height = tip.Header.Height
	return nil
}

// Append validates height continuity, PrevHash linkage and a non-decreasing
// logical clock, then persists the batch and advances the tip.
func (j *Journal) Append(batch *Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.tip != nil {
		if batch.Header.Height != j.height+1 {
			return fmt.Errorf("batch height %d does not follow tip %d", batch.Header.Height, j.height)
		}
		if batch.Header.PrevHash != j.tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", batch.Header.PrevHash, j.tip.Hash)
		}
		if batch.Header.Timestamp < j.tip.Header.Timestamp {
			return fmt.Errorf("batch timestamp %d precedes tip %d", batch.Header.Timestamp, j.tip.Header.Timestamp)
		}
	}

	if err := j.store.CommitBatch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	j.tip = batch
	j.height = batch.Header.Height
	return nil
}

// GetBatch returns a batch by its hash.
func (j *Journal) GetBatch(hash string) (*Batch, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.store.GetBatch(hash)
}

// GetBatchByHeight returns the batch at the given height.
func (j *Journal) GetBatchByHeight(height int64) (*Batch, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.store.GetBatchByHeight(height)
}

// Tip returns the current tip, or nil for a fresh journal.
func (j *Journal) Tip() *Batch {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.tip
}

// Height returns the height of the current tip (0 for a fresh journal).
func (j *Journal) Height() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.height
}

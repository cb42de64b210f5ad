package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxQueueSize   = 10_000
	maxInstrAge    = int64(time.Hour)       // reject instructions older than 1 hour
	maxInstrFuture = int64(5 * time.Minute) // reject instructions more than 5 min in the future
)

// Queue is a thread-safe pool of instructions waiting for the next batch.
type Queue struct {
	mu     sync.RWMutex
	instrs map[string]*Instruction
	ord    []string // insertion-ordered IDs for deterministic pending iteration
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{instrs: make(map[string]*Instruction)}
}

// Add validates and inserts an instruction. Returns an error if the queue is
// full, the instruction is already present, the envelope signature is
// invalid, or the timestamp is out of the acceptable window (-1 h / +5 min).
func (q *Queue) Add(in *Instruction) error {
	if err := in.Verify(); err != nil {
		return fmt.Errorf("invalid instruction signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-in.Timestamp > maxInstrAge {
		return errors.New("instruction expired")
	}
	if in.Timestamp-now > maxInstrFuture {
		return errors.New("instruction timestamp too far in the future")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.instrs) >= maxQueueSize {
		return errors.New("queue full")
	}
	if _, exists := q.instrs[in.ID]; exists {
		return errors.New("instruction already queued")
	}
	q.instrs[in.ID] = in
	q.ord = append(q.ord, in.ID)
	return nil
}

// Get returns a queued instruction by ID.
func (q *Queue) Get(id string) (*Instruction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	in, ok := q.instrs[id]
	return in, ok
}

// Pending returns up to n queued instructions in insertion order.
func (q *Queue) Pending(n int) []*Instruction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	result := make([]*Instruction, 0, n)
	for _, id := range q.ord {
		if in, ok := q.instrs[id]; ok {
			result = append(result, in)
			if len(result) >= n {
				break
			}
		}
	}
	return result
}

// Remove deletes instructions by ID (called after batch commit).
func (q *Queue) Remove(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(q.instrs, id)
		removed[id] = true
	}
	filtered := q.ord[:0]
	for _, id := range q.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	q.ord = filtered
}

// Size returns the current number of queued instructions.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.instrs)
}

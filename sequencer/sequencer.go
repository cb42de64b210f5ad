// Package sequencer produces batches. A single configured sequencer key
// drains the instruction queue, executes the instructions against the state,
// signs the resulting batch and appends it to the journal. Other nodes verify
// the signature before accepting a batch.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/config"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/metrics"
	"github.com/tolelom/tolescrow/vm"
)

const defaultMaxInstrs = 500

// Clock returns the logical time of the next batch in unix seconds.
type Clock func() int64

// WallClock stamps batches with the node's wall clock.
func WallClock() int64 { return time.Now().Unix() }

// Sequencer is the single-writer batch producer.
type Sequencer struct {
	journal   *core.Journal
	state     core.State
	queue     *core.Queue
	exec      *vm.Executor
	emitter   *events.Emitter
	key       *crypto.PrivateKey
	authority common.Address
	maxInstrs int
	clock     Clock
	log       *slog.Logger
}

// Options configures a Sequencer.
type Options struct {
	// Authority is the only address allowed to sign batches. Zero means the
	// local key's own address.
	Authority common.Address
	MaxInstrs int
	Clock     Clock
}

// New creates a Sequencer signing with key.
func New(journal *core.Journal, state core.State, queue *core.Queue, exec *vm.Executor, emitter *events.Emitter, key *crypto.PrivateKey, opts Options) *Sequencer {
	if opts.Authority == (common.Address{}) {
		opts.Authority = key.Address()
	}
	if opts.MaxInstrs <= 0 {
		opts.MaxInstrs = defaultMaxInstrs
	}
	if opts.Clock == nil {
		opts.Clock = WallClock
	}
	return &Sequencer{
		journal:   journal,
		state:     state,
		queue:     queue,
		exec:      exec,
		emitter:   emitter,
		key:       key,
		authority: opts.Authority,
		maxInstrs: opts.MaxInstrs,
		clock:     opts.Clock,
		log:       slog.Default().With("component", "sequencer"),
	}
}

// IsSequencer reports whether the local key may produce batches.
func (s *Sequencer) IsSequencer() bool {
	return s.key.Address() == s.authority
}

// ErrEmptyQueue is returned by ProduceBatch when nothing is pending.
var ErrEmptyQueue = errors.New("no pending instructions")

// ProduceBatch executes, signs and commits the next batch. Instructions that
// fail are dropped from the batch and removed from the queue.
func (s *Sequencer) ProduceBatch() (*core.Batch, error) {
	if !s.IsSequencer() {
		return nil, errors.New("local key is not the sequencer")
	}
	pending := s.queue.Pending(s.maxInstrs)
	if len(pending) == 0 {
		return nil, ErrEmptyQueue
	}
	started := time.Now()

	tip := s.journal.Tip()
	prevHash := config.GenesisHash
	height := int64(1)
	now := s.clock()
	if tip != nil {
		prevHash = tip.Hash
		height = tip.Header.Height + 1
		// The logical clock never runs backwards.
		if now < tip.Header.Timestamp {
			now = tip.Header.Timestamp
		}
	}

	batch := core.NewBatch(height, prevHash, s.key.Address(), now, pending)
	res := s.exec.ExecuteBatch(batch)
	batch.Instructions = res.Accepted
	batch.Header.InstrRoot = core.ComputeInstrRoot(res.Accepted)

	// Compute root from the write buffer BEFORE flushing so that if Append
	// fails the state has not yet been persisted and the node stays consistent.
	batch.Header.StateRoot = s.state.ComputeRoot()
	if err := batch.Sign(s.key); err != nil {
		s.discard()
		return nil, fmt.Errorf("sign batch: %w", err)
	}
	if err := s.journal.Append(batch); err != nil {
		s.discard()
		return nil, fmt.Errorf("append batch: %w", err)
	}

	// Flush state only after the batch is safely stored.
	if err := s.state.Commit(); err != nil {
		s.log.Error("batch stored but state commit failed", "height", batch.Header.Height, "err", err)
		panic(fmt.Sprintf("sequencer: batch %d stored but state commit failed: %v", batch.Header.Height, err))
	}

	ids := make([]string, len(pending))
	for i, in := range pending {
		ids[i] = in.ID
	}
	s.queue.Remove(ids)

	for _, ev := range res.Events {
		s.emitter.Emit(ev)
	}
	// Emit after Sign() so batch.Hash is set correctly.
	s.emitter.Emit(events.Event{
		Type:   events.EventBatchCommit,
		Height: batch.Header.Height,
		Data: map[string]any{
			"hash":     batch.Hash,
			"accepted": len(res.Accepted),
			"rejected": len(res.Rejected),
		},
	})

	m := metrics.Relay()
	m.SetBatchHeight(batch.Header.Height)
	m.SetQueueSize(s.queue.Size())
	m.ObserveBatch(time.Since(started))
	s.log.Info("batch committed",
		"height", batch.Header.Height,
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected),
	)
	return batch, nil
}

type discarder interface{ Discard() }

// discard drops uncommitted writes when the state supports it.
func (s *Sequencer) discard() {
	if d, ok := s.state.(discarder); ok {
		d.Discard()
	}
}

// ValidateBatch checks that batch was signed by the sequencer and links to the tip.
func (s *Sequencer) ValidateBatch(batch *core.Batch) error {
	if batch.Header.Sequencer != s.authority {
		return fmt.Errorf("wrong sequencer: got %s want %s", batch.Header.Sequencer.Hex(), s.authority.Hex())
	}
	if batch.Hash != batch.ComputeHash() {
		return errors.New("batch hash does not match header")
	}
	if err := batch.Verify(s.authority); err != nil {
		return fmt.Errorf("batch signature invalid: %w", err)
	}

	tip := s.journal.Tip()
	if tip == nil {
		if !config.IsGenesisHash(batch.Header.PrevHash) {
			return errors.New("first batch must reference genesis prev-hash")
		}
		return nil
	}
	if batch.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", batch.Header.PrevHash, tip.Hash)
	}
	if batch.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", batch.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// Run produces a batch every interval until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.IsSequencer() {
				continue
			}
			if _, err := s.ProduceBatch(); err != nil && !errors.Is(err, ErrEmptyQueue) {
				s.log.Error("produce batch", "err", err)
			}
		}
	}
}

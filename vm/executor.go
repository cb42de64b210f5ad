package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/ledger"
	"github.com/tolelom/tolescrow/metrics"
)

// Context is passed to every Handler and provides access to the state, the
// batch being built, the triggering instruction and the signature authority.
// Events emitted through it are buffered and only published if the
// instruction succeeds.
type Context struct {
	State core.State
	Batch *core.Batch
	Instr *core.Instruction
	Auth  *authority.Authority

	events []events.Event
}

// Now is the logical clock of the batch, in unix seconds.
func (c *Context) Now() int64 { return c.Batch.Header.Timestamp }

// Emit buffers an event for the current instruction.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.events = append(c.events, events.Event{
		Type:   typ,
		TxID:   c.Instr.ID,
		Height: c.Batch.Header.Height,
		Data:   data,
	})
}

// LedgerEnv returns the environment ledger operations run in.
func (c *Context) LedgerEnv() ledger.Env {
	return ledger.Env{
		State:   c.State,
		Now:     c.Now(),
		ChainID: c.Instr.ChainID,
		Auth:    c.Auth,
		Emit:    c.Emit,
	}
}

// Ledger opens the reservation ledger of wallet.
func (c *Context) Ledger(wallet common.Address) (*ledger.Ledger, error) {
	return ledger.Open(c.LedgerEnv(), wallet)
}

// RelayConfig loads the coordinator configuration.
func (c *Context) RelayConfig() (*core.RelayConfig, error) {
	cfg, err := c.State.GetRelayConfig()
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("relay not configured: %w", err)
	}
	return cfg, err
}

// Rejection records why an instruction was dropped from a batch.
type Rejection struct {
	Instr *core.Instruction
	Err   error
}

// Result is the outcome of executing a candidate batch.
type Result struct {
	Accepted []*core.Instruction
	Rejected []Rejection
	// Events are in execution order; the caller publishes them once the
	// batch is committed.
	Events []events.Event
}

// Executor applies instructions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	auth    *authority.Authority
	chainID uint64
	log     *slog.Logger
}

// NewExecutor creates an Executor bound to state and chainID.
// A nil auth selects ECDSA signature recovery.
func NewExecutor(state core.State, auth *authority.Authority, chainID uint64) *Executor {
	if auth == nil {
		auth = authority.New(nil)
	}
	return &Executor{
		state:   state,
		auth:    auth,
		chainID: chainID,
		log:     slog.Default().With("component", "vm"),
	}
}

// ExecuteBatch applies every instruction of batch in order. A failing
// instruction is rolled back and dropped; the others still apply.
// EventBatchCommit is emitted by the caller (sequencer) after signing so
// the event carries the correct batch hash.
func (e *Executor) ExecuteBatch(batch *core.Batch) *Result {
	res := &Result{}
	m := metrics.Relay()
	for _, in := range batch.Instructions {
		evs, err := e.ExecuteInstr(batch, in)
		if err != nil {
			kind := core.ErrorKind(err)
			e.log.Debug("instruction rejected", "id", in.ID, "type", string(in.Type), "kind", kind, "err", err)
			m.ObserveRejected(string(in.Type), kind)
			res.Rejected = append(res.Rejected, Rejection{Instr: in, Err: err})
			res.Events = append(res.Events, events.Event{
				Type:   events.EventInstrRejected,
				TxID:   in.ID,
				Height: batch.Header.Height,
				Data:   map[string]any{"type": string(in.Type), "from": in.From.Hex(), "kind": kind, "error": err.Error()},
			})
			continue
		}
		m.ObserveExecuted(string(in.Type))
		for _, ev := range evs {
			if ev.Type == events.EventReservationReleased {
				m.AddReaped(1)
			}
		}
		res.Accepted = append(res.Accepted, in)
		res.Events = append(res.Events, evs...)
		res.Events = append(res.Events, events.Event{
			Type:   events.EventInstrExecuted,
			TxID:   in.ID,
			Height: batch.Header.Height,
			Data:   map[string]any{"type": string(in.Type), "from": in.From.Hex()},
		})
	}
	return res
}

// ExecuteInstr verifies and executes a single instruction with
// snapshot/rollback and returns the events it produced.
func (e *Executor) ExecuteInstr(batch *core.Batch, in *core.Instruction) ([]events.Event, error) {
	if in.ChainID != e.chainID {
		return nil, fmt.Errorf("%w: chain id %d, expected %d", core.ErrInvalidSignature, in.ChainID, e.chainID)
	}
	if err := in.Verify(); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", core.ErrInvalidSignature, err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{
		State: e.state,
		Batch: batch,
		Instr: in,
		Auth:  e.auth,
	}
	if err := e.apply(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after instruction failure: %w (revert: %v)", err, revertErr)
		}
		return nil, err
	}
	return ctx.events, nil
}

// apply advances the submitter's envelope nonce, then dispatches to the handler.
func (e *Executor) apply(ctx *Context) error {
	in := ctx.Instr
	acc, err := e.state.GetAccount(in.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != in.Nonce {
		return fmt.Errorf("%w: envelope expected %d got %d", core.ErrInvalidNonce, acc.Nonce, in.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("%w: nonce overflow for account %s", core.ErrInvalidNonce, in.From.Hex())
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	return globalRegistry.Execute(in.Type, ctx, in.Payload)
}

package events

import (
	"log/slog"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBatchCommit   EventType = "batch_commit"
	EventInstrExecuted EventType = "instr_executed"
	EventInstrRejected EventType = "instr_rejected"

	EventTransfer        EventType = "transfer"
	EventTokenRegistered EventType = "token_registered"
	EventTokenTransfer   EventType = "token_transfer"

	EventWalletCreated       EventType = "wallet_created"
	EventWalletUpgraded      EventType = "wallet_upgraded"
	EventApprovalRequiredSet EventType = "approval_required_set"
	EventWithdrawn           EventType = "withdrawn"

	EventReservationCreated   EventType = "reservation_created"
	EventReservationWon       EventType = "reservation_won"
	EventReservationLost      EventType = "reservation_lost"
	EventReservationCancelled EventType = "reservation_cancelled"
	EventReservationReleased  EventType = "reservation_released"

	EventTTLChanged EventType = "ttl_changed"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type   EventType      `json:"type"`
	TxID   string         `json:"instr_id"`
	Height int64          `json:"height"`
	Data   map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *slog.Logger
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[EventType][]Handler),
		log:      slog.Default().With("component", "events"),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every listed type.
func (e *Emitter) SubscribeAll(h Handler, types ...EventType) {
	for _, typ := range types {
		e.Subscribe(typ, h)
	}
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot halt batch production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("handler panicked", "event", string(ev.Type), "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

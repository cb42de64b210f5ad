package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/ledger"
	"github.com/tolelom/tolescrow/metrics"
	"github.com/tolelom/tolescrow/vm"
)

// Handler holds all dependencies needed to serve RPC methods.
// state should be a read view over committed data only; the sequencer's
// write buffer is never exposed.
type Handler struct {
	journal *core.Journal
	queue   *core.Queue
	state   core.State
	indexer *indexer.Indexer
	chainID uint64 // expected chain_id; used to reject cross-chain replay instructions
	clock   func() int64
}

// NewHandler creates an RPC Handler. Read views evaluate expiry against the
// wall clock.
func NewHandler(journal *core.Journal, queue *core.Queue, state core.State, idx *indexer.Indexer, chainID uint64) *Handler {
	return &Handler{
		journal: journal,
		queue:   queue,
		state:   state,
		indexer: idx,
		chainID: chainID,
		clock:   func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the clock used by read views.
func (h *Handler) SetClock(clock func() int64) { h.clock = clock }

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	resp := h.dispatch(req)
	method, outcome := req.Method, "ok"
	if resp.Error != nil {
		outcome = "error"
		if resp.Error.Code == CodeMethodNotFound {
			method = "" // keep label cardinality bounded
		}
	}
	metrics.Relay().ObserveRPC(method, outcome)
	return resp
}

func (h *Handler) dispatch(req Request) Response {
	switch req.Method {
	case "sendInstruction":
		return h.sendInstruction(req)
	case "getHeight":
		return okResponse(req.ID, h.journal.Height())
	case "getBatch":
		return h.getBatch(req)
	case "getBalance":
		return h.getBalance(req)
	case "getTokenBalance":
		return h.getTokenBalance(req)
	case "getWallet":
		return h.getWallet(req)
	case "getTotalReserved":
		return h.getTotalReserved(req)
	case "calculateTotalReserved":
		return h.calculateTotalReserved(req)
	case "getReservationDetails":
		return h.getReservationDetails(req)
	case "getAllGames":
		return h.getAllGames(req)
	case "getCurrentNonce":
		return h.withLedger(req, func(l *ledger.Ledger) (any, error) { return l.CurrentNonce(), nil })
	case "getApprovalRequired":
		return h.withLedger(req, func(l *ledger.Ledger) (any, error) { return l.ApprovalRequired(), nil })
	case "getWalletsByOwner":
		return h.getWalletsByOwner(req)
	case "getGamesByWallet":
		return h.getGamesByWallet(req)
	case "getRelayConfig":
		return h.getRelayConfig(req)
	case "getQueueSize":
		return okResponse(req.ID, h.queue.Size())
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// fail maps an engine error onto a JSON-RPC error.
func fail(id any, err error) Response {
	kind := core.ErrorKind(err)
	code := CodeRejected
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrInvalidWallet):
		code = CodeNotFound
	case kind == "Internal":
		code = CodeInternalError
	}
	resp := errResponse(id, code, err.Error())
	resp.Error.Kind = kind
	return resp
}

func decodeAddress(req Request, field string, dst *common.Address) *Response {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		r := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &r
	}
	var s string
	if raw, ok := params[field]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			r := errResponse(req.ID, CodeInvalidParams, field+": "+err.Error())
			return &r
		}
	}
	if !common.IsHexAddress(s) {
		r := errResponse(req.ID, CodeInvalidParams, field+" must be a hex address")
		return &r
	}
	*dst = common.HexToAddress(s)
	return nil
}

func (h *Handler) ledgerEnv() ledger.Env {
	return ledger.Env{State: h.state, Now: h.clock(), ChainID: h.chainID}
}

func (h *Handler) withLedger(req Request, fn func(*ledger.Ledger) (any, error)) Response {
	var wallet common.Address
	if bad := decodeAddress(req, "wallet", &wallet); bad != nil {
		return *bad
	}
	l, err := ledger.Open(h.ledgerEnv(), wallet)
	if err != nil {
		return fail(req.ID, err)
	}
	out, err := fn(l)
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, out)
}

func (h *Handler) sendInstruction(req Request) Response {
	var in core.Instruction
	if err := json.Unmarshal(req.Params, &in); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject instructions destined for a different network to prevent
	// cross-chain replay.
	if in.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %d want %d", in.ChainID, h.chainID))
	}
	if !vm.Supported(in.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown instruction type %q", in.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	in.ID = in.Hash()
	if err := h.queue.Add(&in); err != nil {
		return errResponse(req.ID, CodeRejected, err.Error())
	}
	metrics.Relay().SetQueueSize(h.queue.Size())
	return okResponse(req.ID, map[string]string{"instr_id": in.ID})
}

func (h *Handler) getBatch(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		}
	}

	var batch *core.Batch
	var err error
	switch {
	case params.Hash != "":
		batch, err = h.journal.GetBatch(params.Hash)
	case params.Height != nil:
		batch, err = h.journal.GetBatchByHeight(*params.Height)
	default:
		batch = h.journal.Tip()
	}
	if err != nil {
		return fail(req.ID, err)
	}
	if batch == nil {
		return errResponse(req.ID, CodeNotFound, "no batch found")
	}
	return okResponse(req.ID, batch)
}

func (h *Handler) getBalance(req Request) Response {
	var addr common.Address
	if bad := decodeAddress(req, "address", &addr); bad != nil {
		return *bad
	}
	acc, err := h.state.GetAccount(addr)
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address": addr.Hex(),
		"balance": acc.Balance.Dec(),
		"nonce":   acc.Nonce,
	})
}

func (h *Handler) getTokenBalance(req Request) Response {
	var token, holder common.Address
	if bad := decodeAddress(req, "token", &token); bad != nil {
		return *bad
	}
	if bad := decodeAddress(req, "holder", &holder); bad != nil {
		return *bad
	}
	if _, err := h.state.GetToken(token); err != nil {
		return fail(req.ID, fmt.Errorf("token %s: %w", token.Hex(), err))
	}
	bal, err := h.state.GetTokenBalance(token, holder)
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"token":   token.Hex(),
		"holder":  holder.Hex(),
		"balance": bal.Dec(),
	})
}

func (h *Handler) getWallet(req Request) Response {
	return h.withLedger(req, func(l *ledger.Ledger) (any, error) { return l.Wallet(), nil })
}

func (h *Handler) getTotalReserved(req Request) Response {
	return h.withLedger(req, func(l *ledger.Ledger) (any, error) {
		native, token := l.TotalReserved()
		return map[string]string{"native": native.Dec(), "token": token.Dec()}, nil
	})
}

func (h *Handler) calculateTotalReserved(req Request) Response {
	return h.withLedger(req, func(l *ledger.Ledger) (any, error) {
		native, token, err := l.CalculateTotalReserved()
		if err != nil {
			return nil, err
		}
		return map[string]string{"native": native.Dec(), "token": token.Dec()}, nil
	})
}

func (h *Handler) getReservationDetails(req Request) Response {
	var params struct {
		GameID uint64 `json:"game_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	return h.withLedger(req, func(l *ledger.Ledger) (any, error) {
		rec, found, err := l.ReservationDetails(params.GameID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"found": found, "reservation": rec}, nil
	})
}

func (h *Handler) getAllGames(req Request) Response {
	return h.withLedger(req, func(l *ledger.Ledger) (any, error) { return l.AllGames() })
}

func (h *Handler) getWalletsByOwner(req Request) Response {
	var owner common.Address
	if bad := decodeAddress(req, "owner", &owner); bad != nil {
		return *bad
	}
	wallets, err := h.indexer.WalletsByOwner(owner)
	if err != nil {
		return fail(req.ID, err)
	}
	if wallets == nil {
		wallets = []common.Address{}
	}
	return okResponse(req.ID, wallets)
}

func (h *Handler) getGamesByWallet(req Request) Response {
	var wallet common.Address
	if bad := decodeAddress(req, "wallet", &wallet); bad != nil {
		return *bad
	}
	games, err := h.indexer.GamesByWallet(wallet)
	if err != nil {
		return fail(req.ID, err)
	}
	if games == nil {
		games = []uint64{}
	}
	return okResponse(req.ID, games)
}

func (h *Handler) getRelayConfig(req Request) Response {
	cfg, err := h.state.GetRelayConfig()
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, cfg)
}

package rpc_test

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/rpc"
)

type env struct {
	f       *testutil.Fixture
	queue   *core.Queue
	handler *rpc.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	f := testutil.NewFixture(t)
	queue := core.NewQueue()
	h := rpc.NewHandler(testutil.NewJournal(), queue, f.State, f.Indexer, testutil.ChainID)
	h.SetClock(func() int64 { return f.Now })
	return &env{f: f, queue: queue, handler: h}
}

// call dispatches method and round-trips the result through JSON the way a
// client would see it.
func (e *env) call(t *testing.T, method string, params any, out any) *rpc.Error {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	resp := e.handler.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		data, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return nil
}

func (e *env) mustCall(t *testing.T, method string, params any, out any) {
	t.Helper()
	rpcErr := e.call(t, method, params, out)
	require.Nil(t, rpcErr, "%s: %+v", method, rpcErr)
}

func TestGetHeightFreshJournal(t *testing.T) {
	e := newEnv(t)
	var height int64
	e.mustCall(t, "getHeight", struct{}{}, &height)
	assert.Equal(t, int64(0), height)
}

func TestGetBatchWithoutTip(t *testing.T) {
	e := newEnv(t)
	rpcErr := e.call(t, "getBatch", struct{}{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)
}

func TestMethodNotFound(t *testing.T) {
	e := newEnv(t)
	rpcErr := e.call(t, "nonExistentMethod", struct{}{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcErr.Code)
}

func TestGetBalance(t *testing.T) {
	e := newEnv(t)
	var out struct {
		Balance string `json:"balance"`
	}
	e.mustCall(t, "getBalance", map[string]string{"address": e.f.Wallet1.Hex()}, &out)
	assert.Equal(t, testutil.Units(100).Dec(), out.Balance)

	rpcErr := e.call(t, "getBalance", map[string]string{"address": "nonexistent"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

func TestGetTokenBalance(t *testing.T) {
	e := newEnv(t)
	var out struct {
		Balance string `json:"balance"`
	}
	e.mustCall(t, "getTokenBalance", map[string]string{"token": e.f.Token.Hex(), "holder": e.f.Wallet2.Hex()}, &out)
	assert.Equal(t, testutil.Units(100).Dec(), out.Balance)

	rpcErr := e.call(t, "getTokenBalance", map[string]string{"token": common.HexToAddress("0x1").Hex(), "holder": e.f.Wallet2.Hex()}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)
	assert.Equal(t, "NotFound", rpcErr.Kind)
}

func TestReservationViews(t *testing.T) {
	e := newEnv(t)
	f := e.f
	require.NoError(t, f.Reserve(f.Request(42, testutil.Units(3))))
	wallet := map[string]any{"wallet": f.Wallet1.Hex()}

	var totals map[string]string
	e.mustCall(t, "getTotalReserved", wallet, &totals)
	assert.Equal(t, testutil.Units(3).Dec(), totals["native"])
	assert.Equal(t, "0", totals["token"])

	var games []uint64
	e.mustCall(t, "getAllGames", wallet, &games)
	assert.Equal(t, []uint64{42}, games)

	var nonce uint64
	e.mustCall(t, "getCurrentNonce", wallet, &nonce)
	assert.Equal(t, uint64(1), nonce)

	var required bool
	e.mustCall(t, "getApprovalRequired", wallet, &required)
	assert.False(t, required)

	var details struct {
		Found       bool              `json:"found"`
		Reservation *core.Reservation `json:"reservation"`
	}
	e.mustCall(t, "getReservationDetails", map[string]any{"wallet": f.Wallet1.Hex(), "game_id": 42}, &details)
	require.True(t, details.Found)
	assert.Equal(t, f.Wallet2, details.Reservation.Counterparty)

	// Past expiry the views stop counting the record, the stored total does not.
	f.Advance(f.Relay.TimeToLive)
	e.mustCall(t, "calculateTotalReserved", wallet, &totals)
	assert.Equal(t, "0", totals["native"])
	e.mustCall(t, "getTotalReserved", wallet, &totals)
	assert.Equal(t, testutil.Units(3).Dec(), totals["native"])
	e.mustCall(t, "getAllGames", wallet, &games)
	assert.Empty(t, games)
	e.mustCall(t, "getReservationDetails", map[string]any{"wallet": f.Wallet1.Hex(), "game_id": 42}, &details)
	assert.False(t, details.Found)
}

func TestWalletViewsRejectUnknownWallet(t *testing.T) {
	e := newEnv(t)
	rpcErr := e.call(t, "getWallet", map[string]string{"wallet": common.HexToAddress("0xdead").Hex()}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)
	assert.Equal(t, "InvalidWallet", rpcErr.Kind)
}

func TestIndexedLookups(t *testing.T) {
	e := newEnv(t)
	f := e.f
	require.NoError(t, f.Reserve(f.Request(5, testutil.Units(1))))
	require.NoError(t, f.Reserve(f.Request(6, testutil.Units(1))))

	var wallets []common.Address
	e.mustCall(t, "getWalletsByOwner", map[string]string{"owner": f.Owner1.Address().Hex()}, &wallets)
	assert.Equal(t, []common.Address{f.Wallet1}, wallets)

	var games []uint64
	e.mustCall(t, "getGamesByWallet", map[string]string{"wallet": f.Wallet2.Hex()}, &games)
	assert.Equal(t, []uint64{5, 6}, games)

	e.mustCall(t, "getWalletsByOwner", map[string]string{"owner": common.HexToAddress("0xabc").Hex()}, &wallets)
	assert.Empty(t, wallets)
}

func TestGetRelayConfig(t *testing.T) {
	e := newEnv(t)
	var cfg core.RelayConfig
	e.mustCall(t, "getRelayConfig", struct{}{}, &cfg)
	assert.Equal(t, *e.f.Relay, cfg)
}

func TestSendInstruction(t *testing.T) {
	e := newEnv(t)
	in, err := e.f.Relayer.Transfer(testutil.ChainID, e.f.Wallet1, testutil.Units(1), 0)
	require.NoError(t, err)

	var out map[string]string
	e.mustCall(t, "sendInstruction", in, &out)
	assert.Equal(t, in.Hash(), out["instr_id"])

	var size int
	e.mustCall(t, "getQueueSize", struct{}{}, &size)
	assert.Equal(t, 1, size)

	rpcErr := e.call(t, "sendInstruction", in, nil)
	require.NotNil(t, rpcErr, "duplicate instruction")
	assert.Equal(t, rpc.CodeRejected, rpcErr.Code)
}

func TestSendInstructionRejectsWrongChain(t *testing.T) {
	e := newEnv(t)
	in, err := e.f.Relayer.Transfer(testutil.ChainID+1, e.f.Wallet1, testutil.Units(1), 0)
	require.NoError(t, err)
	rpcErr := e.call(t, "sendInstruction", in, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

func TestSendInstructionRejectsUnknownType(t *testing.T) {
	e := newEnv(t)
	in, err := e.f.Relayer.NewInstr(testutil.ChainID, core.InstrType("mint_asset"), 0, struct{}{})
	require.NoError(t, err)
	rpcErr := e.call(t, "sendInstruction", in, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

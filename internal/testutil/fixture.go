package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/indexer"
	"github.com/tolelom/tolescrow/ledger"
	"github.com/tolelom/tolescrow/signer"
	"github.com/tolelom/tolescrow/storage"
	"github.com/tolelom/tolescrow/vm"
	"github.com/tolelom/tolescrow/vm/modules/economy"
	"github.com/tolelom/tolescrow/vm/modules/wallet"

	_ "github.com/tolelom/tolescrow/vm/modules/relay"
)

// ChainID is the chain every fixture runs on.
const ChainID = 31337

// StartTime is the fixture's initial logical clock.
const StartTime = int64(1_700_000_000)

// Units returns n whole units with 18 decimals.
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

// Fixture wires a relay, its approver and factory keys, a token and two
// funded wallets over an in-memory state, with a controllable clock.
// Every Submit runs the instruction through the executor in its own batch,
// commits the result and publishes its events on Emitter.
type Fixture struct {
	t *testing.T

	DB      *MemDB
	State   *storage.StateDB
	Emitter *events.Emitter
	Indexer *indexer.Indexer
	Exec  *vm.Executor
	Relay *core.RelayConfig
	Now   int64

	Sequencer *signer.Signer
	Approver  *signer.Signer
	Factory   *signer.Signer
	Relayer   *signer.Signer
	Issuer    *signer.Signer
	Owner1    *signer.Signer
	Owner2    *signer.Signer

	Token   common.Address
	Wallet1 common.Address
	Wallet2 common.Address

	height int64
	nonces map[common.Address]uint64
}

func mustSigner(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	return s
}

// NewFixture builds the fixture. Each wallet holds 100 native units and
// 100 token units.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	db := NewMemDB()
	emitter := events.NewEmitter()
	f := &Fixture{
		t:         t,
		DB:        db,
		State:     storage.NewStateDB(db),
		Emitter:   emitter,
		Indexer:   indexer.New(db, emitter),
		Now:       StartTime,
		Sequencer: mustSigner(t),
		Approver:  mustSigner(t),
		Factory:   mustSigner(t),
		Relayer:   mustSigner(t),
		Issuer:    mustSigner(t),
		Owner1:    mustSigner(t),
		Owner2:    mustSigner(t),
		nonces:    make(map[common.Address]uint64),
	}
	f.Relay = &core.RelayConfig{
		Address:    common.HexToAddress("0x00000000000000000000000000000000000e5c40"),
		Approver:   f.Approver.Address(),
		Factory:    f.Factory.Address(),
		ChainID:    ChainID,
		TimeToLive: 3600,
	}
	require.NoError(t, f.State.SetRelayConfig(f.Relay))
	require.NoError(t, f.State.Commit())
	f.Exec = vm.NewExecutor(f.State, nil, ChainID)

	f.Token = economy.TokenAddress(f.Issuer.Address(), 0)
	f.MustSubmit(f.Issuer, core.InstrRegisterToken, core.RegisterTokenPayload{Symbol: "CHIP"})

	f.Wallet1 = f.CreateWallet(f.Owner1, common.Hash{1}, false)
	f.Wallet2 = f.CreateWallet(f.Owner2, common.Hash{2}, false)
	for _, w := range []common.Address{f.Wallet1, f.Wallet2} {
		f.Fund(w, Units(100))
		f.MustSubmit(f.Issuer, core.InstrMintToken, core.MintTokenPayload{Token: f.Token, To: w, Amount: Units(100)})
	}
	return f
}

// CreateWallet submits create_wallet from the factory and returns the address.
func (f *Fixture) CreateWallet(owner *signer.Signer, salt common.Hash, approvalRequired bool) common.Address {
	f.t.Helper()
	f.MustSubmit(f.Factory, core.InstrCreateWallet, core.CreateWalletPayload{
		Owner:            owner.Address(),
		Salt:             salt,
		Token:            f.Token,
		TokenEnabled:     true,
		ApprovalRequired: approvalRequired,
	})
	return wallet.Address(f.Relay, owner.Address(), salt)
}

// Submit signs payload as s and executes it in a fresh batch at f.Now.
func (f *Fixture) Submit(s *signer.Signer, typ core.InstrType, payload any) ([]events.Event, error) {
	f.t.Helper()
	in, err := s.NewInstr(ChainID, typ, f.nonces[s.Address()], payload)
	require.NoError(f.t, err)
	f.height++
	batch := core.NewBatch(f.height, "", f.Sequencer.Address(), f.Now, []*core.Instruction{in})
	evs, err := f.Exec.ExecuteInstr(batch, in)
	require.NoError(f.t, f.State.Commit())
	if err == nil {
		f.nonces[s.Address()]++
		for _, ev := range evs {
			f.Emitter.Emit(ev)
		}
	}
	return evs, err
}

// MustSubmit is Submit that fails the test on error.
func (f *Fixture) MustSubmit(s *signer.Signer, typ core.InstrType, payload any) []events.Event {
	f.t.Helper()
	evs, err := f.Submit(s, typ, payload)
	require.NoError(f.t, err, "%s", typ)
	return evs
}

// Advance moves the logical clock forward.
func (f *Fixture) Advance(seconds int64) { f.Now += seconds }

// Fund sets the native balance of addr, keeping its nonce.
func (f *Fixture) Fund(addr common.Address, amount *uint256.Int) {
	f.t.Helper()
	acc, err := f.State.GetAccount(addr)
	require.NoError(f.t, err)
	acc.Balance = amount
	require.NoError(f.t, f.State.SetAccount(acc))
	require.NoError(f.t, f.State.Commit())
}

// Balance returns the native balance of addr.
func (f *Fixture) Balance(addr common.Address) *uint256.Int {
	f.t.Helper()
	acc, err := f.State.GetAccount(addr)
	require.NoError(f.t, err)
	return acc.Balance
}

// TokenBalance returns the fixture token balance of addr.
func (f *Fixture) TokenBalance(addr common.Address) *uint256.Int {
	f.t.Helper()
	bal, err := f.State.GetTokenBalance(f.Token, addr)
	require.NoError(f.t, err)
	return bal
}

// Ledger opens a read view of addr at the current clock.
func (f *Fixture) Ledger(addr common.Address) *ledger.Ledger {
	f.t.Helper()
	l, err := ledger.Open(ledger.Env{State: f.State, Now: f.Now, ChainID: ChainID}, addr)
	require.NoError(f.t, err)
	return l
}

// Request builds a reserve request between the two wallets at their
// current nonces.
func (f *Fixture) Request(gameID uint64, amount *uint256.Int) *core.ReserveRequest {
	f.t.Helper()
	return &core.ReserveRequest{
		Coordinator: f.Relay.Address,
		Wallet1:     f.Wallet1,
		Wallet2:     f.Wallet2,
		GameID:      gameID,
		Amount:      amount,
		Nonce1:      f.Ledger(f.Wallet1).CurrentNonce(),
		Nonce2:      f.Ledger(f.Wallet2).CurrentNonce(),
	}
}

// Reserve submits an approver-signed relay_reserve for req.
func (f *Fixture) Reserve(req *core.ReserveRequest, approvals ...[]byte) error {
	f.t.Helper()
	sig, err := f.Approver.ApproveReserve(f.Relay, req)
	require.NoError(f.t, err)
	p := core.RelayReservePayload{Request: *req, ApproverSignature: sig}
	if len(approvals) > 0 {
		p.OwnerApproval1 = approvals[0]
	}
	if len(approvals) > 1 {
		p.OwnerApproval2 = approvals[1]
	}
	_, err = f.Submit(f.Relayer, core.InstrRelayReserve, p)
	return err
}

// Settle submits an approver-signed relay_settle valid for a minute.
func (f *Fixture) Settle(gameID uint64, winner, loser common.Address) error {
	f.t.Helper()
	p, err := f.Approver.Settle(f.Relay, core.Settlement{
		Coordinator: f.Relay.Address,
		GameID:      gameID,
		Winner:      winner,
		Loser:       loser,
	}, f.Now+60)
	require.NoError(f.t, err)
	_, err = f.Submit(f.Relayer, core.InstrRelaySettle, p)
	return err
}

// SetTTL submits an approver-signed set_ttl and mirrors it in f.Relay.
func (f *Fixture) SetTTL(ttl int64) {
	f.t.Helper()
	p, err := f.Approver.SetTTL(f.Relay, ttl, f.Now+60)
	require.NoError(f.t, err)
	f.MustSubmit(f.Relayer, core.InstrSetTTL, p)
	f.Relay.TimeToLive = ttl
}

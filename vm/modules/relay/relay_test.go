package relay_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/signer"
)

func eventTypes(evs []events.Event) []events.EventType {
	out := make([]events.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestReserveLocksBothWallets(t *testing.T) {
	f := testutil.NewFixture(t)
	req := f.Request(7, testutil.Units(10))
	require.NoError(t, f.Reserve(req))

	for _, w := range []common.Address{f.Wallet1, f.Wallet2} {
		l := f.Ledger(w)
		native, token := l.TotalReserved()
		assert.Equal(t, testutil.Units(10), native)
		assert.True(t, token.IsZero())
		assert.Equal(t, uint64(1), l.CurrentNonce())

		rec, ok, err := l.ReservationDetails(7)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, f.Now+f.Relay.TimeToLive, rec.Expiration)
	}
	rec, _, _ := f.Ledger(f.Wallet1).ReservationDetails(7)
	assert.Equal(t, f.Wallet2, rec.Counterparty)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	f := testutil.NewFixture(t)
	f.Fund(f.Wallet2, testutil.Units(1))

	err := f.Reserve(f.Request(1, testutil.Units(5)))
	require.ErrorIs(t, err, core.ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "wallet2")

	// Wallet1's half was applied before wallet2 failed and must be gone.
	l1 := f.Ledger(f.Wallet1)
	native, _ := l1.TotalReserved()
	assert.True(t, native.IsZero())
	assert.Equal(t, uint64(0), l1.CurrentNonce())
	_, ok, err := l1.ReservationDetails(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReserveRejectsForgedApproval(t *testing.T) {
	f := testutil.NewFixture(t)
	req := f.Request(1, testutil.Units(1))

	mallory, err := signer.Generate()
	require.NoError(t, err)
	sig, err := mallory.ApproveReserve(f.Relay, req)
	require.NoError(t, err)

	_, err = f.Submit(f.Relayer, core.InstrRelayReserve, core.RelayReservePayload{Request: *req, ApproverSignature: sig})
	require.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestReserveRejectsForeignCoordinator(t *testing.T) {
	f := testutil.NewFixture(t)
	req := f.Request(1, testutil.Units(1))
	req.Coordinator = common.HexToAddress("0xbad")
	require.ErrorIs(t, f.Reserve(req), core.ErrAddressMismatch)
}

func TestReserveRejectsSameWallet(t *testing.T) {
	f := testutil.NewFixture(t)
	req := f.Request(1, testutil.Units(1))
	req.Wallet2 = f.Wallet1
	require.ErrorIs(t, f.Reserve(req), core.ErrInvalidWallet)
}

func TestReserveRejectsUnknownWallet(t *testing.T) {
	f := testutil.NewFixture(t)
	req := f.Request(1, testutil.Units(1))
	req.Wallet2 = common.HexToAddress("0x00000000000000000000000000000000000decaf")
	require.ErrorIs(t, f.Reserve(req), core.ErrInvalidWallet)

	native, _ := f.Ledger(f.Wallet1).TotalReserved()
	assert.True(t, native.IsZero())
	assert.Equal(t, uint64(0), f.Ledger(f.Wallet1).CurrentNonce())
}

func TestReserveWithOwnerApproval(t *testing.T) {
	f := testutil.NewFixture(t)
	strict := f.CreateWallet(f.Owner1, common.Hash{9}, true)
	f.Fund(strict, testutil.Units(50))

	req := f.Request(3, testutil.Units(2))
	req.Wallet1 = strict
	req.Nonce1 = 0

	require.ErrorIs(t, f.Reserve(req), core.ErrBadSignature)

	approval, err := f.Owner1.OwnerApproval(testutil.ChainID, strict, req)
	require.NoError(t, err)
	require.NoError(t, f.Reserve(req, approval))

	native, _ := f.Ledger(strict).TotalReserved()
	assert.Equal(t, testutil.Units(2), native)
}

func TestSettlePaysWinnerMinusFee(t *testing.T) {
	f := testutil.NewFixture(t)
	feeSink := common.HexToAddress("0xfee")
	req := f.Request(11, testutil.Units(10))
	req.FeeRecipient = feeSink
	req.FeeBasisPoints = 1000
	require.NoError(t, f.Reserve(req))

	require.NoError(t, f.Settle(11, f.Wallet2, f.Wallet1))

	assert.Equal(t, testutil.Units(90), f.Balance(f.Wallet1))
	assert.Equal(t, testutil.Units(109), f.Balance(f.Wallet2))
	assert.Equal(t, testutil.Units(1), f.Balance(feeSink))

	for _, w := range []common.Address{f.Wallet1, f.Wallet2} {
		native, _ := f.Ledger(w).TotalReserved()
		assert.True(t, native.IsZero())
		_, ok, err := f.Ledger(w).ReservationDetails(11)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// A settled game cannot be settled again.
	require.ErrorIs(t, f.Settle(11, f.Wallet2, f.Wallet1), core.ErrGameNotFound)
}

func TestSettleTokenReservation(t *testing.T) {
	f := testutil.NewFixture(t)
	req := f.Request(5, testutil.Units(4))
	req.IsToken = true
	require.NoError(t, f.Reserve(req))

	require.NoError(t, f.Settle(5, f.Wallet1, f.Wallet2))
	assert.Equal(t, testutil.Units(104), f.TokenBalance(f.Wallet1))
	assert.Equal(t, testutil.Units(96), f.TokenBalance(f.Wallet2))
	assert.Equal(t, testutil.Units(100), f.Balance(f.Wallet1))
}

func TestSettleAfterExpiryFailsAtomically(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(2, testutil.Units(3))))

	f.Advance(f.Relay.TimeToLive)
	err := f.Settle(2, f.Wallet2, f.Wallet1)
	require.ErrorIs(t, err, core.ErrReservationExpired)
	assert.Equal(t, testutil.Units(100), f.Balance(f.Wallet2))

	native, _ := f.Ledger(f.Wallet2).TotalReserved()
	assert.Equal(t, testutil.Units(3), native)
}

func TestSettleRejectsWinnerMismatch(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(2, testutil.Units(3))))

	outsider := f.CreateWallet(f.Owner2, common.Hash{7}, false)
	require.ErrorIs(t, f.Settle(2, outsider, f.Wallet1), core.ErrAddressMismatch)
}

func TestSettleRejectsLapsedSignature(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(2, testutil.Units(3))))

	p, err := f.Approver.Settle(f.Relay, core.Settlement{
		Coordinator: f.Relay.Address,
		GameID:      2,
		Winner:      f.Wallet2,
		Loser:       f.Wallet1,
	}, f.Now+10)
	require.NoError(t, err)
	f.Advance(11)
	_, err = f.Submit(f.Relayer, core.InstrRelaySettle, p)
	require.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestCancelReleasesBothLocks(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(4, testutil.Units(6))))

	p, err := f.Approver.Cancel(f.Relay, f.Wallet1, f.Wallet2, 4, f.Now+60)
	require.NoError(t, err)
	evs := f.MustSubmit(f.Relayer, core.InstrRelayCancel, p)
	assert.Equal(t, []events.EventType{events.EventReservationCancelled, events.EventReservationCancelled}, eventTypes(evs))

	for _, w := range []common.Address{f.Wallet1, f.Wallet2} {
		native, _ := f.Ledger(w).TotalReserved()
		assert.True(t, native.IsZero())
		assert.Equal(t, testutil.Units(100), f.Balance(w))
	}
}

func TestCancelSignatureBindsWalletPair(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(4, testutil.Units(6))))

	p, err := f.Approver.Cancel(f.Relay, f.Wallet1, f.Wallet2, 4, f.Now+60)
	require.NoError(t, err)
	p.WalletA, p.WalletB = p.WalletB, p.WalletA
	_, err = f.Submit(f.Relayer, core.InstrRelayCancel, p)
	require.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestReleaseReapsExpiredRecords(t *testing.T) {
	f := testutil.NewFixture(t)
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, f.Reserve(f.Request(id, testutil.Units(1))))
	}
	f.Advance(f.Relay.TimeToLive + 1)

	p, err := f.Approver.Release(f.Relay, f.Wallet1, false, f.Now+60)
	require.NoError(t, err)
	evs := f.MustSubmit(f.Relayer, core.InstrRelayRelease, p)
	assert.Len(t, evs, 3)

	games, err := f.Ledger(f.Wallet1).AllGames()
	require.NoError(t, err)
	assert.Empty(t, games)
	assert.Equal(t, uint64(0), f.Ledger(f.Wallet1).Wallet().Head)

	// Wallet2 was not part of the release and still carries its records.
	native, _ := f.Ledger(f.Wallet2).TotalReserved()
	assert.Equal(t, testutil.Units(3), native)
}

func TestShorterTTLStrandsRecordsUntilFullTraverse(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(1, testutil.Units(1))))
	f.SetTTL(60)
	require.NoError(t, f.Reserve(f.Request(2, testutil.Units(1))))

	f.Advance(61)
	p, err := f.Approver.Release(f.Relay, f.Wallet1, false, f.Now+60)
	require.NoError(t, err)
	evs := f.MustSubmit(f.Relayer, core.InstrRelayRelease, p)
	assert.Empty(t, evs, "live head blocks head pruning")

	p, err = f.Approver.Release(f.Relay, f.Wallet1, true, f.Now+60)
	require.NoError(t, err)
	evs = f.MustSubmit(f.Relayer, core.InstrRelayRelease, p)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventReservationReleased, evs[0].Type)

	games, err := f.Ledger(f.Wallet1).AllGames()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, games)
}

func TestSetTTL(t *testing.T) {
	f := testutil.NewFixture(t)
	f.SetTTL(120)

	cfg, err := f.State.GetRelayConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(120), cfg.TimeToLive)

	require.NoError(t, f.Reserve(f.Request(1, testutil.Units(1))))
	rec, _, _ := f.Ledger(f.Wallet1).ReservationDetails(1)
	assert.Equal(t, f.Now+120, rec.Expiration)

	p, err := f.Approver.SetTTL(f.Relay, 0, f.Now+60)
	require.NoError(t, err)
	_, err = f.Submit(f.Relayer, core.InstrSetTTL, p)
	require.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestFailedInstructionKeepsEnvelopeNonce(t *testing.T) {
	f := testutil.NewFixture(t)
	require.ErrorIs(t, f.Reserve(f.Request(0, testutil.Units(1))), core.ErrInvalidGameID)

	acc, err := f.State.GetAccount(f.Relayer.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), acc.Nonce)
}

package wallet_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/vm/modules/wallet"
)

func TestCreateWallet(t *testing.T) {
	f := testutil.NewFixture(t)
	w := f.Ledger(f.Wallet1).Wallet()
	assert.Equal(t, f.Owner1.Address(), w.Owner)
	assert.Equal(t, f.Relay.Address, w.Coordinator)
	assert.Equal(t, f.Relay.Factory, w.Factory)
	assert.Equal(t, f.Token, w.Token)
	assert.True(t, w.TokenEnabled)
	assert.Equal(t, testutil.StartTime, w.CreatedAt)
	assert.Equal(t, wallet.Address(f.Relay, f.Owner1.Address(), common.Hash{1}), f.Wallet1)

	wallets, err := f.Indexer.WalletsByOwner(f.Owner1.Address())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{f.Wallet1}, wallets)
}

func TestCreateWalletRejections(t *testing.T) {
	f := testutil.NewFixture(t)

	_, err := f.Submit(f.Owner1, core.InstrCreateWallet, core.CreateWalletPayload{Owner: f.Owner1.Address(), Salt: common.Hash{5}})
	require.ErrorIs(t, err, core.ErrInvalidFactory)

	_, err = f.Submit(f.Factory, core.InstrCreateWallet, core.CreateWalletPayload{Owner: f.Owner1.Address(), Salt: common.Hash{1}})
	require.ErrorIs(t, err, core.ErrAlreadyInitialized)

	_, err = f.Submit(f.Factory, core.InstrCreateWallet, core.CreateWalletPayload{Salt: common.Hash{5}})
	require.ErrorIs(t, err, core.ErrZeroAddress)

	_, err = f.Submit(f.Factory, core.InstrCreateWallet, core.CreateWalletPayload{
		Owner:        f.Owner1.Address(),
		Salt:         common.Hash{5},
		Token:        common.HexToAddress("0x404"),
		TokenEnabled: true,
	})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestWithdrawRespectsReservations(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(1, testutil.Units(60))))
	dest := common.HexToAddress("0xd00d")

	_, err := f.Submit(f.Owner1, core.InstrWithdraw, core.WithdrawPayload{Wallet: f.Wallet1, To: dest, Amount: testutil.Units(41)})
	require.ErrorIs(t, err, core.ErrInsufficientFunds)

	_, err = f.Submit(f.Owner2, core.InstrWithdraw, core.WithdrawPayload{Wallet: f.Wallet1, To: dest, Amount: testutil.Units(1)})
	require.ErrorIs(t, err, core.ErrUnauthorized)

	f.MustSubmit(f.Owner1, core.InstrWithdraw, core.WithdrawPayload{Wallet: f.Wallet1, To: dest, Amount: testutil.Units(40)})
	assert.Equal(t, testutil.Units(40), f.Balance(dest))
	assert.Equal(t, testutil.Units(60), f.Balance(f.Wallet1))

	// Once the lock lapses the owner can take the rest.
	f.Advance(f.Relay.TimeToLive)
	f.MustSubmit(f.Owner1, core.InstrWithdraw, core.WithdrawPayload{Wallet: f.Wallet1, To: dest, Amount: testutil.Units(60)})
	assert.True(t, f.Balance(f.Wallet1).IsZero())
}

func TestWithdrawToken(t *testing.T) {
	f := testutil.NewFixture(t)
	dest := common.HexToAddress("0xd00d")
	f.MustSubmit(f.Owner2, core.InstrWithdrawToken, core.WithdrawPayload{Wallet: f.Wallet2, To: dest, Amount: testutil.Units(25)})
	assert.Equal(t, testutil.Units(25), f.TokenBalance(dest))
	assert.Equal(t, testutil.Units(75), f.TokenBalance(f.Wallet2))
}

func TestSetApprovalRequired(t *testing.T) {
	f := testutil.NewFixture(t)
	f.MustSubmit(f.Owner1, core.InstrSetApprovalRequired, core.SetApprovalRequiredPayload{Wallet: f.Wallet1, Required: true})
	assert.True(t, f.Ledger(f.Wallet1).ApprovalRequired())

	req := f.Request(1, testutil.Units(1))
	require.ErrorIs(t, f.Reserve(req), core.ErrBadSignature)

	_, err := f.Submit(f.Owner2, core.InstrSetApprovalRequired, core.SetApprovalRequiredPayload{Wallet: f.Wallet1})
	require.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestOwnerReleasesExpired(t *testing.T) {
	f := testutil.NewFixture(t)
	require.NoError(t, f.Reserve(f.Request(1, testutil.Units(1))))
	require.NoError(t, f.Reserve(f.Request(2, testutil.Units(1))))
	f.Advance(f.Relay.TimeToLive)

	_, err := f.Submit(f.Owner2, core.InstrReleaseExpired, core.ReleaseExpiredPayload{Wallet: f.Wallet1})
	require.ErrorIs(t, err, core.ErrUnauthorized)

	evs := f.MustSubmit(f.Owner1, core.InstrReleaseExpired, core.ReleaseExpiredPayload{Wallet: f.Wallet1})
	assert.Len(t, evs, 2)
	native, _ := f.Ledger(f.Wallet1).TotalReserved()
	assert.True(t, native.IsZero())
}

func TestUpgradeWallet(t *testing.T) {
	f := testutil.NewFixture(t)
	impl := common.HexToAddress("0x1111")

	p, err := f.Owner1.Upgrade(testutil.ChainID, f.Wallet1, impl, 0)
	require.NoError(t, err)
	// Anyone holding the owner signature may submit it.
	f.MustSubmit(f.Relayer, core.InstrUpgradeWallet, p)

	w := f.Ledger(f.Wallet1).Wallet()
	assert.Equal(t, impl, w.Implementation)
	assert.Equal(t, uint64(1), w.Nonce)

	_, err = f.Submit(f.Relayer, core.InstrUpgradeWallet, p)
	require.ErrorIs(t, err, core.ErrInvalidNonce, "signature replay")

	forged, err := f.Owner2.Upgrade(testutil.ChainID, f.Wallet1, impl, 1)
	require.NoError(t, err)
	_, err = f.Submit(f.Relayer, core.InstrUpgradeWallet, forged)
	require.ErrorIs(t, err, core.ErrBadSignature)
}

package economy_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/events"
	"github.com/tolelom/tolescrow/internal/testutil"
	"github.com/tolelom/tolescrow/vm/modules/economy"
)

func TestRegisterToken(t *testing.T) {
	f := testutil.NewFixture(t)
	tok, err := f.State.GetToken(f.Token)
	require.NoError(t, err)
	assert.Equal(t, "CHIP", tok.Symbol)
	assert.Equal(t, f.Issuer.Address(), tok.Issuer)
	assert.Equal(t, testutil.Units(200), tok.Supply)

	// The issuer's next registration lands on a fresh handle.
	evs := f.MustSubmit(f.Issuer, core.InstrRegisterToken, core.RegisterTokenPayload{Symbol: "GOLD"})
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventTokenRegistered, evs[0].Type)
	assert.NotEqual(t, f.Token.Hex(), evs[0].Data["token"])

	for _, symbol := range []string{"", "   ", "ABCDEFGHIJKLMNOPQ"} {
		_, err := f.Submit(f.Issuer, core.InstrRegisterToken, core.RegisterTokenPayload{Symbol: symbol})
		assert.Error(t, err, "symbol %q", symbol)
	}
}

func TestTokenAddressFollowsNonce(t *testing.T) {
	issuer := common.HexToAddress("0x155")
	assert.NotEqual(t, economy.TokenAddress(issuer, 0), economy.TokenAddress(issuer, 1))
	assert.Equal(t, economy.TokenAddress(issuer, 0), economy.TokenAddress(issuer, 0))
}

func TestMintIsIssuerOnly(t *testing.T) {
	f := testutil.NewFixture(t)
	_, err := f.Submit(f.Owner1, core.InstrMintToken, core.MintTokenPayload{Token: f.Token, To: f.Owner1.Address(), Amount: testutil.Units(1)})
	require.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = f.Submit(f.Issuer, core.InstrMintToken, core.MintTokenPayload{Token: f.Token, To: f.Owner1.Address()})
	require.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestTransfers(t *testing.T) {
	f := testutil.NewFixture(t)
	alice := f.Owner1
	bob := common.HexToAddress("0xb0b")
	f.Fund(alice.Address(), testutil.Units(5))
	f.MustSubmit(f.Issuer, core.InstrMintToken, core.MintTokenPayload{Token: f.Token, To: alice.Address(), Amount: testutil.Units(5)})

	f.MustSubmit(alice, core.InstrTransfer, core.TransferPayload{To: bob, Amount: testutil.Units(2)})
	assert.Equal(t, testutil.Units(3), f.Balance(alice.Address()))
	assert.Equal(t, testutil.Units(2), f.Balance(bob))

	f.MustSubmit(alice, core.InstrTransferToken, core.TransferTokenPayload{Token: f.Token, To: bob, Amount: testutil.Units(4)})
	assert.Equal(t, testutil.Units(4), f.TokenBalance(bob))

	_, err := f.Submit(alice, core.InstrTransfer, core.TransferPayload{To: bob, Amount: testutil.Units(4)})
	require.ErrorIs(t, err, core.ErrInsufficientFunds)
	_, err = f.Submit(alice, core.InstrTransfer, core.TransferPayload{Amount: testutil.Units(1)})
	require.ErrorIs(t, err, core.ErrZeroAddress)
}

package signer_test

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolescrow/authority"
	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/signer"
)

func TestKeystoreRoundTrip(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sequencer.key")

	require.NoError(t, signer.SaveKey(path, "hunter2", s.PrivKey()))
	priv, err := signer.LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, s.Address(), priv.Address())

	_, err = signer.LoadKey(path, "wrong")
	assert.Error(t, err)
}

func TestNewInstrIsSigned(t *testing.T) {
	s, err := signer.Generate()
	require.NoError(t, err)
	in, err := s.Transfer(5, common.HexToAddress("0xb0b"), uint256.NewInt(3), 2)
	require.NoError(t, err)

	assert.Equal(t, s.Address(), in.From)
	assert.Equal(t, uint64(5), in.ChainID)
	assert.Equal(t, uint64(2), in.Nonce)
	assert.Equal(t, core.InstrTransfer, in.Type)
	require.NoError(t, in.Verify())
}

func TestApproverPayloadsVerify(t *testing.T) {
	approver, err := signer.Generate()
	require.NoError(t, err)
	cfg := &core.RelayConfig{Address: common.HexToAddress("0xe5c40"), Approver: approver.Address(), ChainID: 5}
	auth := authority.New(nil)
	walletA, walletB := common.HexToAddress("0xa1"), common.HexToAddress("0xa2")

	st := core.Settlement{Coordinator: cfg.Address, GameID: 1, Winner: walletA, Loser: walletB}
	settle, err := approver.Settle(cfg, st, 100)
	require.NoError(t, err)
	require.NoError(t, auth.CheckApproverUntil(cfg, authority.Settle(&settle.Settlement, settle.ExpiresAt), settle.Signature, settle.ExpiresAt, 100))

	cancel, err := approver.Cancel(cfg, walletA, walletB, 1, 100)
	require.NoError(t, err)
	require.NoError(t, auth.CheckApprover(cfg, authority.Cancel(cancel.WalletA, cancel.WalletB, cancel.GameID, cancel.ExpiresAt), cancel.Signature))

	release, err := approver.Release(cfg, walletA, true, 100)
	require.NoError(t, err)
	require.NoError(t, auth.CheckApprover(cfg, authority.Release(release.Wallet, release.FullTraverse, release.ExpiresAt), release.Signature))

	ttl, err := approver.SetTTL(cfg, 30, 100)
	require.NoError(t, err)
	require.NoError(t, auth.CheckApprover(cfg, authority.TimeToLive(ttl.TTL, ttl.ExpiresAt), ttl.Signature))
}

func TestOwnerPayloadsVerify(t *testing.T) {
	owner, err := signer.Generate()
	require.NoError(t, err)
	w := &core.Wallet{Address: common.HexToAddress("0xa1"), Owner: owner.Address()}
	auth := authority.New(nil)

	req := &core.ReserveRequest{Coordinator: common.HexToAddress("0xe5c40"), Wallet1: w.Address, Wallet2: common.HexToAddress("0xa2"), GameID: 3, Amount: uint256.NewInt(9)}
	approval, err := owner.OwnerApproval(5, w.Address, req)
	require.NoError(t, err)
	require.NoError(t, auth.CheckOwner(5, w, authority.Reserve(req), approval))

	up, err := owner.Upgrade(5, w.Address, common.HexToAddress("0x1111"), 0)
	require.NoError(t, err)
	require.NoError(t, auth.CheckOwner(5, w, authority.Upgrade(up.Implementation, up.Nonce), up.Signature))
}

package authority

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"

	"github.com/tolelom/tolescrow/core"
	"github.com/tolelom/tolescrow/crypto"
)

var (
	reserveFields = []apitypes.Type{
		{Name: "coordinator", Type: "address"},
		{Name: "wallet1", Type: "address"},
		{Name: "wallet2", Type: "address"},
		{Name: "gameId", Type: "uint64"},
		{Name: "amount", Type: "uint256"},
		{Name: "isToken", Type: "bool"},
		{Name: "feeRecipient", Type: "address"},
		{Name: "feeBasisPoints", Type: "uint16"},
		{Name: "nonce1", Type: "uint64"},
		{Name: "nonce2", Type: "uint64"},
	}
	settleFields = []apitypes.Type{
		{Name: "coordinator", Type: "address"},
		{Name: "gameId", Type: "uint64"},
		{Name: "winner", Type: "address"},
		{Name: "loser", Type: "address"},
		{Name: "expiresAt", Type: "uint64"},
	}
	cancelFields = []apitypes.Type{
		{Name: "walletA", Type: "address"},
		{Name: "walletB", Type: "address"},
		{Name: "gameId", Type: "uint64"},
		{Name: "expiresAt", Type: "uint64"},
	}
	releaseFields = []apitypes.Type{
		{Name: "wallet", Type: "address"},
		{Name: "fullTraverse", Type: "bool"},
		{Name: "expiresAt", Type: "uint64"},
	}
	upgradeFields = []apitypes.Type{
		{Name: "implementation", Type: "address"},
		{Name: "nonce", Type: "uint64"},
	}
	ttlFields = []apitypes.Type{
		{Name: "ttl", Type: "uint64"},
		{Name: "expiresAt", Type: "uint64"},
	}
)

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// i64 encodes a non-negative time value; negatives clamp to zero.
func i64(v int64) *big.Int {
	if v < 0 {
		return new(big.Int)
	}
	return big.NewInt(v)
}

func amount(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func addr(a common.Address) string { return a.Hex() }

// Reserve is the schema signed by the approver (relay domain) and,
// when required, by each wallet owner (wallet domain).
func Reserve(req *core.ReserveRequest) crypto.Message {
	return crypto.Message{
		PrimaryType: "Reserve",
		Fields:      reserveFields,
		Values: apitypes.TypedDataMessage{
			"coordinator":    addr(req.Coordinator),
			"wallet1":        addr(req.Wallet1),
			"wallet2":        addr(req.Wallet2),
			"gameId":         u64(req.GameID),
			"amount":         amount(req.Amount),
			"isToken":        req.IsToken,
			"feeRecipient":   addr(req.FeeRecipient),
			"feeBasisPoints": u64(uint64(req.FeeBasisPoints)),
			"nonce1":         u64(req.Nonce1),
			"nonce2":         u64(req.Nonce2),
		},
	}
}

// Settle binds a settlement to a deadline.
func Settle(s *core.Settlement, expiresAt int64) crypto.Message {
	return crypto.Message{
		PrimaryType: "Settle",
		Fields:      settleFields,
		Values: apitypes.TypedDataMessage{
			"coordinator": addr(s.Coordinator),
			"gameId":      u64(s.GameID),
			"winner":      addr(s.Winner),
			"loser":       addr(s.Loser),
			"expiresAt":   i64(expiresAt),
		},
	}
}

// Cancel binds a cancellation to one specific wallet pair.
func Cancel(walletA, walletB common.Address, gameID uint64, expiresAt int64) crypto.Message {
	return crypto.Message{
		PrimaryType: "Cancel",
		Fields:      cancelFields,
		Values: apitypes.TypedDataMessage{
			"walletA":   addr(walletA),
			"walletB":   addr(walletB),
			"gameId":    u64(gameID),
			"expiresAt": i64(expiresAt),
		},
	}
}

// Release covers the traversal mode of a reap.
func Release(wallet common.Address, fullTraverse bool, expiresAt int64) crypto.Message {
	return crypto.Message{
		PrimaryType: "Release",
		Fields:      releaseFields,
		Values: apitypes.TypedDataMessage{
			"wallet":       addr(wallet),
			"fullTraverse": fullTraverse,
			"expiresAt":    i64(expiresAt),
		},
	}
}

// Upgrade authorizes an implementation swap; nonce is the wallet nonce.
func Upgrade(implementation common.Address, nonce uint64) crypto.Message {
	return crypto.Message{
		PrimaryType: "Upgrade",
		Fields:      upgradeFields,
		Values: apitypes.TypedDataMessage{
			"implementation": addr(implementation),
			"nonce":          u64(nonce),
		},
	}
}

// TimeToLive authorizes a change of the global reservation TTL.
func TimeToLive(ttl, expiresAt int64) crypto.Message {
	return crypto.Message{
		PrimaryType: "TimeToLive",
		Fields:      ttlFields,
		Values: apitypes.TypedDataMessage{
			"ttl":       i64(ttl),
			"expiresAt": i64(expiresAt),
		},
	}
}

package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain scopes a typed signature to one signer context (a relay or a single
// wallet) so the same payload signed for one instance never verifies for another.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// Message is a structured payload with its own type schema.
type Message struct {
	PrimaryType string
	Fields      []apitypes.Type
	Values      apitypes.TypedDataMessage
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedHash returns the EIP-712 digest of msg under domain.
func TypedHash(domain Domain, msg Message) ([]byte, error) {
	if msg.PrimaryType == "" {
		return nil, fmt.Errorf("typed message: primary type required")
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainFields,
			msg.PrimaryType: msg.Fields,
		},
		PrimaryType: msg.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: msg.Values,
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", msg.PrimaryType, err)
	}
	return hash, nil
}

// SignTyped signs msg under domain.
func SignTyped(priv *PrivateKey, domain Domain, msg Message) ([]byte, error) {
	hash, err := TypedHash(domain, msg)
	if err != nil {
		return nil, err
	}
	return Sign(priv, hash)
}

// RecoverTyped returns the address that signed msg under domain.
func RecoverTyped(domain Domain, msg Message, sig []byte) (common.Address, error) {
	hash, err := TypedHash(domain, msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, sig)
}

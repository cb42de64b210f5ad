package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] signature.
const SignatureLength = 65

// Sign signs a 32-byte digest and returns a 65-byte [R || S || V] signature with V in {0, 1}.
func Sign(priv *PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ethcrypto.Sign(digest, priv.key)
}

// RecoverAddress returns the address that produced sig over digest.
// V may be given as 0/1 or 27/28.
func RecoverAddress(digest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, errors.New("invalid signature recovery id")
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig over digest was produced by want.
func Verify(want common.Address, digest, sig []byte) error {
	got, err := RecoverAddress(digest, sig)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("signature verification failed: signer %s", got.Hex())
	}
	return nil
}

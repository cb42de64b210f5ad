package ledger

import "github.com/holiman/uint256"

const (
	// BasisPoints is 100% expressed in basis points.
	BasisPoints = 10_000
	// MaxFeeBasisPoints caps the fee rate of a reservation at 25%.
	MaxFeeBasisPoints = 2_500
)

// SplitFee divides amount into the winner payout and the fee.
// The fee is floor(amount * bps / 10000), so rounding always favours the payout.
// bps must not exceed BasisPoints.
func SplitFee(amount *uint256.Int, bps uint16) (payout, fee *uint256.Int) {
	fee = new(uint256.Int)
	if bps > 0 {
		fee, _ = new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(BasisPoints))
	}
	payout = new(uint256.Int).Sub(amount, fee)
	return payout, fee
}

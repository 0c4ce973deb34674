package lending

import (
	"github.com/holiman/uint256"

	"defilab/native/safemath"
)

// BorrowCeiling returns collateral × price × maxLTV, where price is WAD-scaled
// debt units per collateral unit. Rounding is downward at every step.
func BorrowCeiling(collateral, price *uint256.Int, maxLTVBps uint64) (*uint256.Int, error) {
	value, err := safemath.MulWad(collateral, price)
	if err != nil {
		return nil, err
	}
	return safemath.ApplyBps(value, maxLTVBps)
}

// Headroom returns how much more may be borrowed against a ceiling, floored at
// zero.
func Headroom(ceiling, debt *uint256.Int) *uint256.Int {
	return safemath.SubFloor(ceiling, debt)
}

func minAmount(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return safemath.Clone(a)
	}
	return safemath.Clone(b)
}

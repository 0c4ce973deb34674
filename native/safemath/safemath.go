// Package safemath provides checked fixed-width arithmetic for every balance
// and value computation in the lab. Operands are 256-bit unsigned integers;
// results that would wrap are reported as errors instead.
package safemath

import (
	"math/big"

	"github.com/holiman/uint256"

	errs "defilab/core/errors"
)

// BasisPoints is the denominator for bps-expressed ratios.
const BasisPoints = 10_000

var (
	// WAD is the 1e18 fixed-point unit used for prices.
	WAD = uint256.NewInt(1_000_000_000_000_000_000)
	bps = uint256.NewInt(BasisPoints)
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Clone copies v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, errs.ErrOverflow.Wrapf("%s + %s", Clone(a).Dec(), Clone(b).Dec())
	}
	return out, nil
}

// Sub returns a-b or ErrUnderflow when b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(Clone(a), Clone(b))
	if underflow {
		return nil, errs.ErrUnderflow.Wrapf("%s - %s", Clone(a).Dec(), Clone(b).Dec())
	}
	return out, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(Clone(a), Clone(b))
	if overflow {
		return nil, errs.ErrOverflow.Wrapf("%s * %s", Clone(a).Dec(), Clone(b).Dec())
	}
	return out, nil
}

// Div returns floor(a/b).
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, errs.ErrDivisionByZero
	}
	return new(uint256.Int).Div(Clone(a), b), nil
}

// MulDiv returns floor(a*b/c). The product is kept at 512 bits so only a
// quotient that does not fit in 256 bits is an overflow.
func MulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c == nil || c.IsZero() {
		return nil, errs.ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(Clone(a), Clone(b), c)
	if overflow {
		return nil, errs.ErrOverflow.Wrapf("%s * %s / %s", Clone(a).Dec(), Clone(b).Dec(), c.Dec())
	}
	return out, nil
}

// MulDivUp returns ceil(a*b/c).
func MulDivUp(a, b, c *uint256.Int) (*uint256.Int, error) {
	out, err := MulDiv(a, b, c)
	if err != nil {
		return nil, err
	}
	// a*b mod c is non-zero iff floor(a*b/c)*c != a*b; checked without
	// materialising the 512-bit product.
	if new(uint256.Int).MulMod(Clone(a), Clone(b), c).IsZero() {
		return out, nil
	}
	return Add(out, uint256.NewInt(1))
}

// DivRatio returns the WAD-scaled ratio a/b.
func DivRatio(a, b *uint256.Int) (*uint256.Int, error) {
	return MulDiv(a, WAD, b)
}

// MulWad multiplies an amount by a WAD-scaled ratio.
func MulWad(amount, ratio *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, ratio, WAD)
}

// ApplyBps returns floor(amount*rate/10000).
func ApplyBps(amount *uint256.Int, rate uint64) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(rate), bps)
}

// ApplyBpsUp returns ceil(amount*rate/10000).
func ApplyBpsUp(amount *uint256.Int, rate uint64) (*uint256.Int, error) {
	return MulDivUp(amount, uint256.NewInt(rate), bps)
}

// SubFloor returns a-b, or zero when b > a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	out, underflow := new(uint256.Int).SubOverflow(Clone(a), Clone(b))
	if underflow {
		return new(uint256.Int)
	}
	return out
}

// FromBig converts a decoded state value, treating nil as zero.
func FromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, errs.ErrUnderflow.Wrapf("negative value %s", v)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, errs.ErrOverflow.Wrapf("value %s exceeds 256 bits", v)
	}
	return out, nil
}

// ToBig converts v for RLP encoding, treating nil as zero.
func ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

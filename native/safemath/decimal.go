package safemath

import (
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	errs "defilab/core/errors"
)

// Decimals is the fixed-point precision of every lab token and price.
const Decimals = 18

// ParseUnits converts a human decimal string such as "1500.25" into base units
// with the given number of decimals. Excess precision is rejected rather than
// truncated.
func ParseUnits(value string, decimals int32) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errs.ErrInvalidAmount.Wrap("empty amount")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, errs.ErrInvalidAmount.Wrapf("parse %q: %v", value, err)
	}
	if d.IsNegative() {
		return nil, errs.ErrInvalidAmount.Wrapf("negative amount %q", value)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, errs.ErrInvalidAmount.Wrapf("%q has more than %d decimals", value, decimals)
	}
	return FromBig(scaled.BigInt())
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(v *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(ToBig(v), -decimals).String()
}

// MustParseUnits is ParseUnits for constants known to be valid.
func MustParseUnits(value string) *uint256.Int {
	out, err := ParseUnits(value, Decimals)
	if err != nil {
		panic(err)
	}
	return out
}

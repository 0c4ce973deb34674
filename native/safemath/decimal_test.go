package safemath

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	errs "defilab/core/errors"
)

func TestParseUnits(t *testing.T) {
	got, err := ParseUnits("1500.25", Decimals)
	require.NoError(t, err)
	require.Equal(t, "1500250000000000000000", got.Dec())

	got, err = ParseUnits(" 1 ", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Uint64())

	for _, bad := range []string{"", "abc", "-1", "0.1234567890123456789"} {
		_, err := ParseUnits(bad, Decimals)
		require.ErrorIs(t, err, errs.ErrInvalidAmount, bad)
	}
}

func TestFormatUnits(t *testing.T) {
	require.Equal(t, "1.2", FormatUnits(uint256.NewInt(1_200_000_000_000_000_000), Decimals))
	require.Equal(t, "0", FormatUnits(nil, Decimals))
	require.Equal(t, "1", FormatUnits(WAD, Decimals))
	require.True(t, MustParseUnits("1").Eq(WAD))
}

package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lab.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, OracleAnchored, cfg.Lab.Oracle.Mode)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadCreatesDefaultYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "max_ltv_bps: 5000")

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesTOMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.toml")
	contents := `
Service = "lab-ci"

[lab.assets]
Collateral = " weth "
Debt = "usdc"

[lab.oracle]
Mode = "TWAP"
TWAPWindow = 4
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "lab-ci", cfg.Service)
	require.Equal(t, "WETH", cfg.Lab.Assets.Collateral)
	require.Equal(t, "USDC", cfg.Lab.Assets.Debt)
	require.Equal(t, "A-B", cfg.Lab.Pool.ID)
	require.Equal(t, OracleTWAP, cfg.Lab.Oracle.Mode)
	require.Equal(t, 4, cfg.Lab.Oracle.TWAPWindow)
	require.Equal(t, uint64(1), cfg.Lab.Oracle.TWAPDelayUnits)
}

func TestLoadRejectsUnknownTOMLKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown key")
}

func TestValidateConfig(t *testing.T) {
	cfg := Default()
	require.NoError(t, ValidateConfig(cfg))

	bad := Default()
	bad.Lab.Pool.FeeBps = 10_000
	bad.Lab.Lending.MaxLTVBps = 0
	bad.Lab.Oracle.Mode = "median"
	bad.Lab.Exploit.BorrowAmount = "ten"
	err := ValidateConfig(bad)
	require.Error(t, err)
	require.ErrorContains(t, err, "fee_bps")
	require.ErrorContains(t, err, "max_ltv_bps")
	require.ErrorContains(t, err, "unknown mode")
	require.ErrorContains(t, err, "exploit.borrow_amount")

	anchored := Default()
	anchored.Lab.Oracle.AnchorPrice = ""
	require.ErrorContains(t, ValidateConfig(anchored), "anchored mode")
	anchored.Lab.Oracle.FeedURL = "http://127.0.0.1:9/price"
	require.NoError(t, ValidateConfig(anchored))
}

func TestValidateConfigBoundsTWAPSpan(t *testing.T) {
	cfg := Default()
	cfg.Lab.Oracle.TWAPDelayUnits = 1 << 63
	require.ErrorContains(t, ValidateConfig(cfg), "twap_delay_units")

	cfg = Default()
	cfg.Lab.Oracle.TWAPWindow = math.MaxInt32
	require.ErrorContains(t, ValidateConfig(cfg), "twap_window")
}

func TestValidateConfigComparesNormalisedAssets(t *testing.T) {
	cfg := Default()
	cfg.Lab.Assets.Collateral = "a"
	cfg.Lab.Assets.Debt = " A "
	require.ErrorContains(t, ValidateConfig(cfg), "must differ")
}

func TestAmountsParseDecimals(t *testing.T) {
	amounts, err := Default().Lab.Amounts()
	require.NoError(t, err)
	require.Equal(t, "10000000000000000000000", amounts.SeedA.Dec())
	require.Equal(t, "1000000000000000000", amounts.AnchorPrice.Dec())
	require.True(t, amounts.AttackerBalanceB.IsZero())
}

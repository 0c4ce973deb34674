package config

import (
	"github.com/holiman/uint256"
)

// Oracle modes accepted by the lab.
const (
	OracleSpot     = "spot"
	OracleAnchored = "anchored"
	OracleTWAP     = "twap"
)

// Logging controls the structured logger.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
}

// Telemetry controls the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Headers  string `toml:"Headers" yaml:"headers"`
}

// Assets names the collateral (A) and debt (B) tokens.
type Assets struct {
	Collateral string `toml:"Collateral" yaml:"collateral"`
	Debt       string `toml:"Debt" yaml:"debt"`
}

// Pool seeds the constant-product pool.
type Pool struct {
	ID     string `toml:"ID" yaml:"id"`
	FeeBps uint64 `toml:"FeeBps" yaml:"fee_bps"`
	SeedA  string `toml:"SeedA" yaml:"seed_a"`
	SeedB  string `toml:"SeedB" yaml:"seed_b"`
}

// Flash funds the flash-loan facility.
type Flash struct {
	FeeBps    uint64 `toml:"FeeBps" yaml:"fee_bps"`
	Liquidity string `toml:"Liquidity" yaml:"liquidity"`
}

// Lending configures the lending protocol.
type Lending struct {
	MaxLTVBps uint64 `toml:"MaxLTVBps" yaml:"max_ltv_bps"`
	Liquidity string `toml:"Liquidity" yaml:"liquidity"`
}

// Oracle selects and tunes the price source used by lending.
type Oracle struct {
	Mode              string `toml:"Mode" yaml:"mode"`
	AnchorPrice       string `toml:"AnchorPrice" yaml:"anchor_price"`
	TWAPWindow        int    `toml:"TWAPWindow" yaml:"twap_window"`
	TWAPDelayUnits    uint64 `toml:"TWAPDelayUnits" yaml:"twap_delay_units"`
	FeedURL           string `toml:"FeedURL" yaml:"feed_url"`
	FeedAPIKey        string `toml:"FeedAPIKey" yaml:"feed_api_key"`
	FeedMaxAgeSeconds int64  `toml:"FeedMaxAgeSeconds" yaml:"feed_max_age_seconds"`
	FeedRatePerMinute int    `toml:"FeedRatePerMinute" yaml:"feed_rate_per_minute"`
}

// Exploit parameterises the flash-loan price manipulation sequence.
type Exploit struct {
	FlashAmount      string `toml:"FlashAmount" yaml:"flash_amount"`
	Collateral       string `toml:"Collateral" yaml:"collateral"`
	BorrowAmount     string `toml:"BorrowAmount" yaml:"borrow_amount"`
	AttackerBalanceA string `toml:"AttackerBalanceA" yaml:"attacker_balance_a"`
	AttackerBalanceB string `toml:"AttackerBalanceB" yaml:"attacker_balance_b"`
}

// Lab groups every protocol knob.
type Lab struct {
	Assets  Assets  `toml:"assets" yaml:"assets"`
	Pool    Pool    `toml:"pool" yaml:"pool"`
	Flash   Flash   `toml:"flash" yaml:"flash"`
	Lending Lending `toml:"lending" yaml:"lending"`
	Oracle  Oracle  `toml:"oracle" yaml:"oracle"`
	Exploit Exploit `toml:"exploit" yaml:"exploit"`
}

// Amounts holds the decimal strings of a Lab parsed into 18-decimal base
// units.
type Amounts struct {
	SeedA            *uint256.Int
	SeedB            *uint256.Int
	FlashLiquidity   *uint256.Int
	LendingLiquidity *uint256.Int
	AnchorPrice      *uint256.Int
	FlashAmount      *uint256.Int
	Collateral       *uint256.Int
	BorrowAmount     *uint256.Int
	AttackerBalanceA *uint256.Int
	AttackerBalanceB *uint256.Int
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"defilab/native/token"
)

// Config is the on-disk configuration of the lab binary.
type Config struct {
	Service   string    `toml:"Service" yaml:"service"`
	Env       string    `toml:"Env" yaml:"env"`
	DataDir   string    `toml:"DataDir" yaml:"data_dir"`
	Receipts  string    `toml:"Receipts" yaml:"receipts"`
	Logging   Logging   `toml:"logging" yaml:"logging"`
	Telemetry Telemetry `toml:"telemetry" yaml:"telemetry"`
	Lab       Lab       `toml:"lab" yaml:"lab"`
}

// Default returns the reference lab: a 10000/10000 pool, a 50000 flash
// facility and a lending market at 50% LTV.
func Default() *Config {
	return &Config{
		Service: "defilab",
		Env:     "local",
		Logging: Logging{Level: "info", MaxSizeMB: 50, MaxBackups: 3},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Lab: Lab{
			Assets:  Assets{Collateral: "A", Debt: "B"},
			Pool:    Pool{ID: "A-B", FeeBps: 30, SeedA: "10000", SeedB: "10000"},
			Flash:   Flash{FeeBps: 9, Liquidity: "50000"},
			Lending: Lending{MaxLTVBps: 5_000, Liquidity: "10000"},
			Oracle: Oracle{
				Mode:              OracleAnchored,
				AnchorPrice:       "1",
				TWAPWindow:        8,
				TWAPDelayUnits:    1,
				FeedMaxAgeSeconds: 300,
				FeedRatePerMinute: 30,
			},
			Exploit: Exploit{
				FlashAmount:      "5000",
				Collateral:       "100",
				BorrowAmount:     "100",
				AttackerBalanceA: "100",
				AttackerBalanceB: "0",
			},
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads the configuration at path, creating it with defaults when it
// does not exist. Files ending in .yaml or .yml are decoded as YAML, anything
// else as TOML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	}

	cfg.Normalize()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return toml.NewEncoder(f).Encode(cfg)
}

// Normalize trims identifiers and fills zero values with defaults.
func (c *Config) Normalize() {
	def := Default()
	c.Service = strings.TrimSpace(c.Service)
	if c.Service == "" {
		c.Service = def.Service
	}
	c.Env = strings.TrimSpace(c.Env)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Receipts = strings.TrimSpace(c.Receipts)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	lab := &c.Lab
	lab.Assets.Collateral = token.NormalizeAsset(lab.Assets.Collateral)
	lab.Assets.Debt = token.NormalizeAsset(lab.Assets.Debt)
	lab.Pool.ID = strings.TrimSpace(lab.Pool.ID)
	if lab.Pool.ID == "" {
		lab.Pool.ID = lab.Assets.Collateral + "-" + lab.Assets.Debt
	}
	lab.Oracle.Mode = strings.ToLower(strings.TrimSpace(lab.Oracle.Mode))
	if lab.Oracle.Mode == "" {
		lab.Oracle.Mode = def.Lab.Oracle.Mode
	}
	lab.Oracle.FeedURL = strings.TrimSpace(lab.Oracle.FeedURL)
	if lab.Oracle.TWAPWindow == 0 {
		lab.Oracle.TWAPWindow = def.Lab.Oracle.TWAPWindow
	}
	if lab.Oracle.TWAPDelayUnits == 0 {
		lab.Oracle.TWAPDelayUnits = def.Lab.Oracle.TWAPDelayUnits
	}
}

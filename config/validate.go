package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/holiman/uint256"

	"defilab/native/oracle"
	"defilab/native/safemath"
	"defilab/native/token"
)

// ValidateConfig checks every field that would otherwise fail at wiring time.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	var problems []error
	lab := c.Lab
	collateral, debt := token.NormalizeAsset(lab.Assets.Collateral), token.NormalizeAsset(lab.Assets.Debt)
	if collateral == "" || debt == "" {
		problems = append(problems, fmt.Errorf("assets: collateral and debt required"))
	} else if collateral == debt {
		problems = append(problems, fmt.Errorf("assets: collateral and debt must differ"))
	}
	if lab.Pool.FeeBps >= safemath.BasisPoints {
		problems = append(problems, fmt.Errorf("pool: fee_bps must be below %d", safemath.BasisPoints))
	}
	if lab.Flash.FeeBps >= safemath.BasisPoints {
		problems = append(problems, fmt.Errorf("flash: fee_bps must be below %d", safemath.BasisPoints))
	}
	if lab.Lending.MaxLTVBps == 0 || lab.Lending.MaxLTVBps > safemath.BasisPoints {
		problems = append(problems, fmt.Errorf("lending: max_ltv_bps must be in (0, %d]", safemath.BasisPoints))
	}
	switch lab.Oracle.Mode {
	case OracleSpot, OracleAnchored, OracleTWAP:
	default:
		problems = append(problems, fmt.Errorf("oracle: unknown mode %q", lab.Oracle.Mode))
	}
	twap := oracle.TWAPConfig{Window: lab.Oracle.TWAPWindow, DelayUnits: lab.Oracle.TWAPDelayUnits}
	if err := twap.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("twap_window/twap_delay_units: %w", err))
	}
	if lab.Oracle.FeedURL != "" {
		if _, err := url.ParseRequestURI(lab.Oracle.FeedURL); err != nil {
			problems = append(problems, fmt.Errorf("oracle: feed_url: %w", err))
		}
	}
	if lab.Oracle.FeedRatePerMinute < 0 {
		problems = append(problems, fmt.Errorf("oracle: feed_rate_per_minute must not be negative"))
	}
	if lab.Oracle.FeedMaxAgeSeconds < 0 {
		problems = append(problems, fmt.Errorf("oracle: feed_max_age_seconds must not be negative"))
	}
	amounts, err := lab.Amounts()
	if err != nil {
		problems = append(problems, err)
	} else {
		if amounts.SeedA.IsZero() || amounts.SeedB.IsZero() {
			problems = append(problems, fmt.Errorf("pool: seeds must be positive"))
		}
		if lab.Oracle.Mode == OracleAnchored && amounts.AnchorPrice.IsZero() && lab.Oracle.FeedURL == "" {
			problems = append(problems, fmt.Errorf("oracle: anchored mode needs anchor_price or feed_url"))
		}
	}
	return errors.Join(problems...)
}

// Amounts parses every decimal amount of the lab.
func (l Lab) Amounts() (Amounts, error) {
	var (
		out      Amounts
		problems []error
	)
	parse := func(field, value string, dst **uint256.Int) {
		if value == "" {
			*dst = safemath.Zero()
			return
		}
		v, err := safemath.ParseUnits(value, safemath.Decimals)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = v
	}
	parse("pool.seed_a", l.Pool.SeedA, &out.SeedA)
	parse("pool.seed_b", l.Pool.SeedB, &out.SeedB)
	parse("flash.liquidity", l.Flash.Liquidity, &out.FlashLiquidity)
	parse("lending.liquidity", l.Lending.Liquidity, &out.LendingLiquidity)
	parse("oracle.anchor_price", l.Oracle.AnchorPrice, &out.AnchorPrice)
	parse("exploit.flash_amount", l.Exploit.FlashAmount, &out.FlashAmount)
	parse("exploit.collateral", l.Exploit.Collateral, &out.Collateral)
	parse("exploit.borrow_amount", l.Exploit.BorrowAmount, &out.BorrowAmount)
	parse("exploit.attacker_balance_a", l.Exploit.AttackerBalanceA, &out.AttackerBalanceA)
	parse("exploit.attacker_balance_b", l.Exploit.AttackerBalanceB, &out.AttackerBalanceB)
	if len(problems) > 0 {
		return Amounts{}, errors.Join(problems...)
	}
	return out, nil
}

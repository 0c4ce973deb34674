// Package scenario assembles the lab protocols from configuration and drives
// the flash-loan price manipulation against them.
package scenario

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"defilab/config"
	"defilab/core/state"
	"defilab/native/amm"
	nativecommon "defilab/native/common"
	"defilab/native/flash"
	"defilab/native/lending"
	"defilab/native/oracle"
	"defilab/native/safemath"
	"defilab/native/token"
	"defilab/observability/metrics"
	"defilab/storage"
)

// Well-known lab accounts.
var (
	Deployer = nativecommon.ModuleAddress("lab/deployer")
	Attacker = nativecommon.ModuleAddress("lab/attacker")
	Keeper   = nativecommon.ModuleAddress("lab/keeper")
	Trader   = nativecommon.ModuleAddress("lab/trader")
)

// Lab holds every protocol instance sharing one state manager.
type Lab struct {
	State    *state.Manager
	Ledger   *token.Ledger
	Pool     *amm.Pool
	Flash    *flash.Facility
	Lending  *lending.Engine
	Spot     *oracle.SpotOracle
	Anchored *oracle.AnchoredOracle
	TWAP     *oracle.TWAPOracle
	Pauses   *nativecommon.Pauses

	// Oracle is the price source lending reads, selected by Mode.
	Oracle oracle.PriceOracle
	Mode   string

	cfg     config.Lab
	amounts config.Amounts
	logger  *slog.Logger
}

// Option customises a Lab.
type Option func(*Lab)

// WithLogger sets the lab logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lab) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// OpenState opens the lab's backing store: LevelDB under dataDir, or memory
// when dataDir is empty.
func OpenState(dataDir string, opts ...state.Option) (*state.Manager, storage.Database, error) {
	var (
		db  storage.Database
		err error
	)
	if dataDir == "" {
		db = storage.NewMemDB()
	} else if db, err = storage.NewLevelDB(dataDir); err != nil {
		return nil, nil, fmt.Errorf("scenario: open %s: %w", dataDir, err)
	}
	mgr, err := state.NewManager(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return mgr, db, nil
}

// New wires the protocols described by cfg onto st. Nothing is written until
// Setup runs.
func New(st *state.Manager, cfg config.Lab, opts ...Option) (*Lab, error) {
	if st == nil {
		return nil, fmt.Errorf("scenario: state manager required")
	}
	amounts, err := cfg.Amounts()
	if err != nil {
		return nil, err
	}
	l := &Lab{State: st, cfg: cfg, amounts: amounts, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	collateral, debt := cfg.Assets.Collateral, cfg.Assets.Debt
	reg := metrics.Lab()
	l.Pauses = nativecommon.NewPauses(st)

	l.Ledger = token.NewLedger(st, collateral, debt)
	l.Ledger.SetEmitter(st)
	l.Ledger.SetPauses(l.Pauses)

	l.Pool, err = amm.NewPool(amm.Config{ID: cfg.Pool.ID, AssetA: collateral, AssetB: debt, FeeBps: cfg.Pool.FeeBps}, st, l.Ledger)
	if err != nil {
		return nil, err
	}
	l.Pool.SetEmitter(st)
	l.Pool.SetPauses(l.Pauses)
	l.Pool.SetMetrics(reg)

	l.Flash, err = flash.NewFacility(l.Ledger, st, cfg.Flash.FeeBps)
	if err != nil {
		return nil, err
	}
	l.Flash.SetEmitter(st)
	l.Flash.SetPauses(l.Pauses)
	l.Flash.SetMetrics(reg)

	l.Spot = oracle.NewSpotOracle(l.Pool, st)
	l.Spot.SetMetrics(reg)

	l.Anchored = oracle.NewAnchoredOracle(st, Keeper, debt)
	l.Anchored.SetEmitter(st)
	l.Anchored.SetPauses(l.Pauses)
	l.Anchored.SetMetrics(reg)

	l.TWAP, err = oracle.NewTWAPOracle(l.Pool, cfg.Pool.ID, st, Keeper, oracle.TWAPConfig{
		Window:     cfg.Oracle.TWAPWindow,
		DelayUnits: cfg.Oracle.TWAPDelayUnits,
	})
	if err != nil {
		return nil, err
	}
	l.TWAP.SetEmitter(st)
	l.TWAP.SetPauses(l.Pauses)
	l.TWAP.SetMetrics(reg)

	if err := l.selectOracle(cfg.Oracle.Mode); err != nil {
		return nil, err
	}

	l.Lending, err = lending.NewEngine(lending.RiskParameters{
		MaxLTVBps:       cfg.Lending.MaxLTVBps,
		CollateralAsset: collateral,
		DebtAsset:       debt,
	}, st, l.Ledger, l.Oracle)
	if err != nil {
		return nil, err
	}
	l.Lending.SetEmitter(st)
	l.Lending.SetPauses(l.Pauses)
	l.Lending.SetMetrics(reg)
	return l, nil
}

func (l *Lab) selectOracle(mode string) error {
	switch mode {
	case config.OracleSpot:
		l.Oracle = l.Spot
	case config.OracleAnchored:
		l.Oracle = l.Anchored
	case config.OracleTWAP:
		l.Oracle = l.TWAP
	default:
		return fmt.Errorf("scenario: unknown oracle mode %q", mode)
	}
	l.Mode = mode
	return nil
}

// CollateralAsset returns asset A.
func (l *Lab) CollateralAsset() string { return token.NormalizeAsset(l.cfg.Assets.Collateral) }

// DebtAsset returns asset B.
func (l *Lab) DebtAsset() string { return token.NormalizeAsset(l.cfg.Assets.Debt) }

// Amounts returns the parsed configuration amounts.
func (l *Lab) Amounts() config.Amounts { return l.amounts }

// Setup seeds the pool, funds the flash facility and the lending market,
// credits the attacker, anchors the configured price and records the first
// TWAP sample, all in one unit.
func (l *Lab) Setup(ctx context.Context) (*state.Receipt, error) {
	a, b := l.CollateralAsset(), l.DebtAsset()
	amt := l.amounts
	receipt, err := l.State.Run(ctx, "lab.setup", func(context.Context) error {
		deployerB, err := sum(amt.SeedB, amt.FlashLiquidity, amt.LendingLiquidity)
		if err != nil {
			return err
		}
		if err := l.Ledger.Mint(Deployer, a, amt.SeedA); err != nil {
			return err
		}
		if err := l.Ledger.Mint(Deployer, b, deployerB); err != nil {
			return err
		}
		if err := l.Pool.Initialize(Deployer, amt.SeedA, amt.SeedB); err != nil {
			return err
		}
		if !amt.FlashLiquidity.IsZero() {
			if err := l.Flash.Fund(Deployer, b, amt.FlashLiquidity); err != nil {
				return err
			}
		}
		if !amt.LendingLiquidity.IsZero() {
			if err := l.Lending.SupplyLiquidity(Deployer, amt.LendingLiquidity); err != nil {
				return err
			}
		}
		if err := l.Ledger.Mint(Attacker, a, amt.AttackerBalanceA); err != nil {
			return err
		}
		if err := l.Ledger.Mint(Attacker, b, amt.AttackerBalanceB); err != nil {
			return err
		}
		if !amt.AnchorPrice.IsZero() {
			if err := l.Anchored.SetPrice(Keeper, a, amt.AnchorPrice); err != nil {
				return err
			}
		}
		return l.TWAP.Sample(Keeper)
	})
	if err != nil {
		return receipt, err
	}
	l.logger.Info("lab ready",
		slog.String("oracle", l.Mode),
		slog.String("pool", l.Pool.ID()),
		slog.Uint64("unit", receipt.Seq))
	return receipt, nil
}

// Sample records a TWAP observation in its own unit.
func (l *Lab) Sample(ctx context.Context) (*state.Receipt, error) {
	return l.State.Run(ctx, "oracle.sample", func(context.Context) error {
		return l.TWAP.Sample(Keeper)
	})
}

// AnchorFromFeed refreshes the anchored price of the collateral asset from
// an external feed.
func (l *Lab) AnchorFromFeed(ctx context.Context, feed *oracle.HTTPFeed) (oracle.FeedQuote, *state.Receipt, error) {
	return oracle.Anchor(ctx, l.State, feed, l.Anchored, l.CollateralAsset())
}

func sum(values ...*uint256.Int) (*uint256.Int, error) {
	total := safemath.Zero()
	for _, v := range values {
		next, err := safemath.Add(total, v)
		if err != nil {
			return nil, err
		}
		total = next
	}
	return total, nil
}

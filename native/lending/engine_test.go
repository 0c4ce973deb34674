package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"pgregory.net/rapid"

	errs "defilab/core/errors"
	"defilab/core/state"
	"defilab/native/oracle"
	"defilab/native/safemath"
	"defilab/native/token"
	"defilab/observability/metrics"
	"defilab/storage"
)

var (
	lender   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	borrower = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type stubOracle struct {
	price *uint256.Int
	quote string
	reads int
}

func (s *stubOracle) CurrentPrice(asset string) (oracle.PriceQuote, error) {
	s.reads++
	if s.price == nil {
		return oracle.PriceQuote{}, errs.ErrPriceUnavailable
	}
	quote := s.quote
	if quote == "" {
		quote = "B"
	}
	return oracle.PriceQuote{Asset: asset, Quote: quote, Price: safemath.Clone(s.price), Source: "stub"}, nil
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	return s.modules[module]
}

func units(v string) *uint256.Int { return safemath.MustParseUnits(v) }

type fixture struct {
	mgr    *state.Manager
	ledger *token.Ledger
	oracle *stubOracle
	engine *Engine
}

func newFixture(t require.TestingT, opts ...state.Option) *fixture {
	mgr, err := state.NewManager(storage.NewMemDB(), opts...)
	require.NoError(t, err)
	ledger := token.NewLedger(mgr, "A", "B")
	stub := &stubOracle{price: safemath.WAD}
	engine, err := NewEngine(RiskParameters{MaxLTVBps: 5_000, CollateralAsset: "a", DebtAsset: "b"}, mgr, ledger, stub)
	require.NoError(t, err)
	engine.SetEmitter(mgr)
	f := &fixture{mgr: mgr, ledger: ledger, oracle: stub, engine: engine}
	require.NoError(t, f.run(func() error {
		if err := ledger.Mint(lender, "B", units("1000")); err != nil {
			return err
		}
		if err := ledger.Mint(borrower, "A", units("1000")); err != nil {
			return err
		}
		if err := ledger.Mint(borrower, "B", units("10")); err != nil {
			return err
		}
		return engine.SupplyLiquidity(lender, units("1000"))
	}))
	return f
}

func (f *fixture) run(fn func() error) error {
	_, err := f.mgr.Run(context.Background(), "test", func(context.Context) error { return fn() })
	return err
}

func TestRiskParametersValidate(t *testing.T) {
	cases := []RiskParameters{
		{MaxLTVBps: 0, CollateralAsset: "A", DebtAsset: "B"},
		{MaxLTVBps: 10_001, CollateralAsset: "A", DebtAsset: "B"},
		{MaxLTVBps: 5_000, CollateralAsset: "A", DebtAsset: ""},
		{MaxLTVBps: 5_000, CollateralAsset: "A", DebtAsset: "a"},
	}
	for _, params := range cases {
		if err := params.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", params)
		}
	}
	if err := (RiskParameters{MaxLTVBps: 10_000, CollateralAsset: "A", DebtAsset: "B"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBorrowCeiling(t *testing.T) {
	ceiling, err := BorrowCeiling(units("100"), units("1.2"), 5_000)
	require.NoError(t, err)
	require.Equal(t, units("60").Dec(), ceiling.Dec())
	require.True(t, Headroom(units("10"), units("20")).IsZero())
}

func TestDepositAndAvailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(func() error { return f.engine.DepositCollateral(borrower, units("100")) }))

	available, err := f.engine.AvailableToBorrow(borrower)
	require.NoError(t, err)
	require.Equal(t, units("50").Dec(), available.Dec())

	collateral, err := f.engine.CollateralOf(borrower)
	require.NoError(t, err)
	require.Equal(t, units("100").Dec(), collateral.Dec())

	market, err := f.engine.Market()
	require.NoError(t, err)
	require.Equal(t, units("100").Dec(), market.TotalCollateral.Dec())
	require.Equal(t, units("1000").Dec(), market.TotalSupplied.Dec())
}

func TestBorrowRespectsLimit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(func() error { return f.engine.DepositCollateral(borrower, units("100")) }))

	err := f.run(func() error { return f.engine.Borrow(borrower, units("50.000000000000000001")) })
	if !errors.Is(err, errs.ErrExceedsBorrowLimit) {
		t.Fatalf("expected ErrExceedsBorrowLimit, got %v", err)
	}

	f.oracle.reads = 0
	require.NoError(t, f.run(func() error { return f.engine.Borrow(borrower, units("50")) }))
	require.Equal(t, 1, f.oracle.reads, "borrow must read the oracle exactly once")

	debt, err := f.engine.DebtOf(borrower)
	require.NoError(t, err)
	require.Equal(t, units("50").Dec(), debt.Dec())
	bal, err := f.ledger.BalanceOf("B", borrower)
	require.NoError(t, err)
	require.Equal(t, units("60").Dec(), bal.Dec())

	available, err := f.engine.AvailableToBorrow(borrower)
	require.NoError(t, err)
	require.True(t, available.IsZero())
}

func TestBorrowOutcomesAreCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	reg := metrics.NewLabMetrics(prometheus.NewRegistry(), provider.Meter("defilab"))

	f := newFixture(t, state.WithMetrics(reg))
	f.engine.SetMetrics(reg)
	require.NoError(t, f.run(func() error { return f.engine.DepositCollateral(borrower, units("100")) }))
	require.Error(t, f.run(func() error { return f.engine.Borrow(borrower, units("51")) }))
	require.NoError(t, f.run(func() error { return f.engine.Borrow(borrower, units("10")) }))

	borrows := reg.BorrowsCollector()
	require.Equal(t, float64(1), testutil.ToFloat64(borrows.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(borrows.WithLabelValues("exceeds_limit")))
	// setup, deposit and the successful borrow commit; the rejected borrow reverts
	require.Equal(t, float64(3), testutil.ToFloat64(reg.UnitsCollector().WithLabelValues("committed")))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.UnitsCollector().WithLabelValues("reverted")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	exported := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				exported[m.Name] += dp.Value
			}
		}
	}
	require.Equal(t, int64(2), exported["defilab.lending.borrows"])
	require.Equal(t, int64(4), exported["defilab.state.units"])
}

func TestBorrowInsufficientLiquidity(t *testing.T) {
	f := newFixture(t)
	f.oracle.price = units("100")
	require.NoError(t, f.run(func() error { return f.engine.DepositCollateral(borrower, units("100")) }))
	err := f.run(func() error { return f.engine.Borrow(borrower, units("1001")) })
	require.ErrorIs(t, err, errs.ErrInsufficientLiquidity)
}

func TestBorrowRejectsMismatchedQuote(t *testing.T) {
	f := newFixture(t)
	f.oracle.quote = "C"
	require.NoError(t, f.run(func() error { return f.engine.DepositCollateral(borrower, units("100")) }))
	err := f.run(func() error { return f.engine.Borrow(borrower, units("1")) })
	require.ErrorIs(t, err, errs.ErrPriceUnavailable)
}

func TestRepayNeverPullsExcess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(func() error {
		if err := f.engine.DepositCollateral(borrower, units("100")); err != nil {
			return err
		}
		return f.engine.Borrow(borrower, units("20"))
	}))

	var applied *uint256.Int
	require.NoError(t, f.run(func() error {
		var err error
		applied, err = f.engine.Repay(borrower, units("25"))
		return err
	}))
	require.Equal(t, units("20").Dec(), applied.Dec())

	bal, err := f.ledger.BalanceOf("B", borrower)
	require.NoError(t, err)
	require.Equal(t, units("10").Dec(), bal.Dec())

	err = f.run(func() error {
		_, err := f.engine.Repay(borrower, units("1"))
		return err
	})
	require.ErrorIs(t, err, errs.ErrNoDebt)
}

func TestWithdrawCollateralHealthCheck(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(func() error {
		if err := f.engine.DepositCollateral(borrower, units("100")); err != nil {
			return err
		}
		return f.engine.Borrow(borrower, units("40"))
	}))

	err := f.run(func() error { return f.engine.WithdrawCollateral(borrower, units("30")) })
	require.ErrorIs(t, err, errs.ErrExceedsBorrowLimit)
	err = f.run(func() error { return f.engine.WithdrawCollateral(borrower, units("101")) })
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	require.NoError(t, f.run(func() error { return f.engine.WithdrawCollateral(borrower, units("20")) }))
	collateral, err := f.engine.CollateralOf(borrower)
	require.NoError(t, err)
	require.Equal(t, units("80").Dec(), collateral.Dec())
}

func TestGuardBlocksMutation(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(stubPauseView{modules: map[string]bool{"lending": true}})
	err := f.run(func() error { return f.engine.DepositCollateral(borrower, units("1")) })
	require.ErrorIs(t, err, errs.ErrModulePaused)
	bal, err := f.ledger.BalanceOf("A", borrower)
	require.NoError(t, err)
	require.Equal(t, units("1000").Dec(), bal.Dec())
}

func TestBorrowCeilingLaw(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			f.oracle.price = uint256.NewInt(rapid.Uint64Range(1, 5_000_000_000_000_000_000).Draw(rt, "price"))
			amount := uint256.NewInt(rapid.Uint64Range(1, 18_000_000_000_000_000_000).Draw(rt, "amount"))
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				_ = f.run(func() error { return f.engine.DepositCollateral(borrower, amount) })
			case 1:
				err := f.run(func() error { return f.engine.Borrow(borrower, amount) })
				if err != nil {
					continue
				}
				pos, perr := f.engine.Position(borrower)
				if perr != nil {
					rt.Fatalf("position: %v", perr)
				}
				ceiling, cerr := BorrowCeiling(pos.Collateral, f.oracle.price, 5_000)
				if cerr != nil {
					rt.Fatalf("ceiling: %v", cerr)
				}
				if pos.Debt.Gt(ceiling) {
					rt.Fatalf("debt %s above ceiling %s", pos.Debt.Dec(), ceiling.Dec())
				}
			default:
				_ = f.run(func() error {
					_, err := f.engine.Repay(borrower, amount)
					return err
				})
			}
		}
	})
}

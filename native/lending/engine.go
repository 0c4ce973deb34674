package lending

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	errs "defilab/core/errors"
	"defilab/core/events"
	nativecommon "defilab/native/common"
	"defilab/native/oracle"
	"defilab/native/safemath"
	"defilab/observability/metrics"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is the token surface the engine settles against.
type Ledger interface {
	BalanceOf(asset string, addr common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, asset string, amount *uint256.Int) error
}

// Engine orchestrates the state transitions of the lending protocol.
type Engine struct {
	state         engineState
	ledger        Ledger
	oracle        oracle.PriceOracle
	params        RiskParameters
	moduleAddress common.Address
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	metrics       *metrics.LabMetrics
}

// NewEngine constructs a lending engine that prices collateral with
// priceOracle.
func NewEngine(params RiskParameters, st engineState, ledger Ledger, priceOracle oracle.PriceOracle) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if st == nil || ledger == nil || priceOracle == nil {
		return nil, fmt.Errorf("lending engine: state, ledger and oracle required")
	}
	return &Engine{
		state:         st,
		ledger:        ledger,
		oracle:        priceOracle,
		params:        params.normalise(),
		moduleAddress: nativecommon.ModuleAddress(nativecommon.ModuleLending),
		emitter:       events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used for lending events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the pause registry consulted before mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetMetrics wires the borrow counter.
func (e *Engine) SetMetrics(m *metrics.LabMetrics) { e.metrics = m }

// Address returns the account custodying collateral and lendable liquidity.
func (e *Engine) Address() common.Address { return e.moduleAddress }

// Params returns the risk parameters.
func (e *Engine) Params() RiskParameters { return e.params }

func positionKey(addr common.Address) []byte {
	return append([]byte("lending/position/"), addr.Bytes()...)
}

var marketKey = []byte("lending/market")

// Position returns the account's collateral and debt.
func (e *Engine) Position(addr common.Address) (Position, error) {
	var rec positionRecord
	if _, err := e.state.KVGet(positionKey(addr), &rec); err != nil {
		return Position{}, err
	}
	collateral, err := safemath.FromBig(rec.Collateral)
	if err != nil {
		return Position{}, err
	}
	debt, err := safemath.FromBig(rec.Debt)
	if err != nil {
		return Position{}, err
	}
	return Position{Collateral: collateral, Debt: debt}, nil
}

func (e *Engine) putPosition(addr common.Address, pos Position) error {
	return e.state.KVPut(positionKey(addr), positionRecord{
		Collateral: safemath.ToBig(pos.Collateral),
		Debt:       safemath.ToBig(pos.Debt),
	})
}

// Market returns the protocol-wide totals.
func (e *Engine) Market() (Market, error) {
	var rec marketRecord
	if _, err := e.state.KVGet(marketKey, &rec); err != nil {
		return Market{}, err
	}
	var (
		m   Market
		err error
	)
	if m.TotalSupplied, err = safemath.FromBig(rec.TotalSupplied); err != nil {
		return Market{}, err
	}
	if m.TotalCollateral, err = safemath.FromBig(rec.TotalCollateral); err != nil {
		return Market{}, err
	}
	if m.TotalDebt, err = safemath.FromBig(rec.TotalDebt); err != nil {
		return Market{}, err
	}
	return m, nil
}

func (e *Engine) putMarket(m Market) error {
	return e.state.KVPut(marketKey, marketRecord{
		TotalSupplied:   safemath.ToBig(m.TotalSupplied),
		TotalCollateral: safemath.ToBig(m.TotalCollateral),
		TotalDebt:       safemath.ToBig(m.TotalDebt),
	})
}

// CollateralOf returns the account's pledged collateral.
func (e *Engine) CollateralOf(addr common.Address) (*uint256.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return pos.Collateral, nil
}

// DebtOf returns the account's outstanding debt.
func (e *Engine) DebtOf(addr common.Address) (*uint256.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return pos.Debt, nil
}

// Liquidity returns the debt asset the protocol can still lend.
func (e *Engine) Liquidity() (*uint256.Int, error) {
	return e.ledger.BalanceOf(e.params.DebtAsset, e.moduleAddress)
}

func (e *Engine) quote() (oracle.PriceQuote, error) {
	quote, err := e.oracle.CurrentPrice(e.params.CollateralAsset)
	if err != nil {
		return oracle.PriceQuote{}, err
	}
	if quote.Quote != e.params.DebtAsset {
		return oracle.PriceQuote{}, errs.ErrPriceUnavailable.Wrapf("lending engine: oracle quotes %s in %s, want %s", quote.Asset, quote.Quote, e.params.DebtAsset)
	}
	return quote, nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return errs.ErrInvalidAmount.Wrap("lending engine: amount must be positive")
	}
	return nil
}

// SupplyLiquidity moves debt asset from provider into the protocol.
func (e *Engine) SupplyLiquidity(provider common.Address, amount *uint256.Int) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLending); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	market, err := e.Market()
	if err != nil {
		return err
	}
	if market.TotalSupplied, err = safemath.Add(market.TotalSupplied, amount); err != nil {
		return err
	}
	if err := e.ledger.Transfer(provider, e.moduleAddress, e.params.DebtAsset, amount); err != nil {
		return err
	}
	if err := e.putMarket(market); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingSupplied{Provider: provider, Amount: safemath.Clone(amount)})
	return nil
}

// DepositCollateral pledges amount of the collateral asset.
func (e *Engine) DepositCollateral(addr common.Address, amount *uint256.Int) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLending); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	pos, err := e.Position(addr)
	if err != nil {
		return err
	}
	market, err := e.Market()
	if err != nil {
		return err
	}
	if pos.Collateral, err = safemath.Add(pos.Collateral, amount); err != nil {
		return err
	}
	if market.TotalCollateral, err = safemath.Add(market.TotalCollateral, amount); err != nil {
		return err
	}
	if err := e.ledger.Transfer(addr, e.moduleAddress, e.params.CollateralAsset, amount); err != nil {
		return err
	}
	if err := e.putPosition(addr, pos); err != nil {
		return err
	}
	if err := e.putMarket(market); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingCollateral{Account: addr, Amount: safemath.Clone(amount), Collateral: pos.Collateral})
	return nil
}

// WithdrawCollateral releases amount of collateral provided the remaining
// position still covers the debt at the current price.
func (e *Engine) WithdrawCollateral(addr common.Address, amount *uint256.Int) error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLending); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	pos, err := e.Position(addr)
	if err != nil {
		return err
	}
	if amount.Gt(pos.Collateral) {
		return errs.ErrInsufficientBalance.Wrapf("lending engine: collateral %s below %s", pos.Collateral.Dec(), amount.Dec())
	}
	remaining, err := safemath.Sub(pos.Collateral, amount)
	if err != nil {
		return err
	}
	if !pos.Debt.IsZero() {
		quote, err := e.quote()
		if err != nil {
			return err
		}
		ceiling, err := BorrowCeiling(remaining, quote.Price, e.params.MaxLTVBps)
		if err != nil {
			return err
		}
		if pos.Debt.Gt(ceiling) {
			return errs.ErrExceedsBorrowLimit.Wrapf("lending engine: debt %s would exceed limit %s", pos.Debt.Dec(), ceiling.Dec())
		}
	}
	market, err := e.Market()
	if err != nil {
		return err
	}
	if market.TotalCollateral, err = safemath.Sub(market.TotalCollateral, amount); err != nil {
		return err
	}
	pos.Collateral = remaining
	if err := e.putPosition(addr, pos); err != nil {
		return err
	}
	if err := e.putMarket(market); err != nil {
		return err
	}
	if err := e.ledger.Transfer(e.moduleAddress, addr, e.params.CollateralAsset, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingCollateral{Account: addr, Amount: safemath.Clone(amount), Collateral: remaining, Withdrawn: true})
	return nil
}

// AvailableToBorrow returns the headroom under the account's borrow ceiling.
// It reads the oracle once.
func (e *Engine) AvailableToBorrow(addr common.Address) (*uint256.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	quote, err := e.quote()
	if err != nil {
		return nil, err
	}
	ceiling, err := BorrowCeiling(pos.Collateral, quote.Price, e.params.MaxLTVBps)
	if err != nil {
		return nil, err
	}
	return Headroom(ceiling, pos.Debt), nil
}

// Borrow lends amount of the debt asset to addr. The oracle is read exactly
// once and the same quote both gates the request and bounds the resulting
// debt.
func (e *Engine) Borrow(addr common.Address, amount *uint256.Int) (err error) {
	defer func() {
		switch {
		case err == nil:
			e.metrics.ObserveBorrow("ok")
		case errors.Is(err, errs.ErrExceedsBorrowLimit):
			e.metrics.ObserveBorrow("exceeds_limit")
		default:
			e.metrics.ObserveBorrow("failed")
		}
	}()
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLending); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	pos, err := e.Position(addr)
	if err != nil {
		return err
	}
	quote, err := e.quote()
	if err != nil {
		return err
	}
	ceiling, err := BorrowCeiling(pos.Collateral, quote.Price, e.params.MaxLTVBps)
	if err != nil {
		return err
	}
	if available := Headroom(ceiling, pos.Debt); amount.Gt(available) {
		return errs.ErrExceedsBorrowLimit.Wrapf("lending engine: requested %s, available %s at price %s (%s)",
			amount.Dec(), available.Dec(), quote.PriceString(), quote.Source)
	}
	liquidity, err := e.Liquidity()
	if err != nil {
		return err
	}
	if amount.Gt(liquidity) {
		return errs.ErrInsufficientLiquidity.Wrapf("lending engine: requested %s, liquidity %s", amount.Dec(), liquidity.Dec())
	}
	newDebt, err := safemath.Add(pos.Debt, amount)
	if err != nil {
		return err
	}
	if newDebt.Gt(ceiling) {
		return errs.ErrExceedsBorrowLimit.Wrapf("lending engine: debt %s above ceiling %s", newDebt.Dec(), ceiling.Dec())
	}
	market, err := e.Market()
	if err != nil {
		return err
	}
	if market.TotalDebt, err = safemath.Add(market.TotalDebt, amount); err != nil {
		return err
	}
	pos.Debt = newDebt
	if err := e.putPosition(addr, pos); err != nil {
		return err
	}
	if err := e.putMarket(market); err != nil {
		return err
	}
	if err := e.ledger.Transfer(e.moduleAddress, addr, e.params.DebtAsset, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingBorrowed{
		Account: addr,
		Amount:  safemath.Clone(amount),
		Debt:    safemath.Clone(newDebt),
		Price:   safemath.Clone(quote.Price),
		Source:  quote.Source,
	})
	return nil
}

// Repay pulls min(amount, debt) from addr and returns the amount applied. Any
// excess stays with the caller.
func (e *Engine) Repay(addr common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleLending); err != nil {
		return nil, err
	}
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	if pos.Debt.IsZero() {
		return nil, errs.ErrNoDebt.Wrapf("lending engine: %s", addr.Hex())
	}
	applied := minAmount(amount, pos.Debt)
	if err := e.ledger.Transfer(addr, e.moduleAddress, e.params.DebtAsset, applied); err != nil {
		return nil, err
	}
	if pos.Debt, err = safemath.Sub(pos.Debt, applied); err != nil {
		return nil, err
	}
	market, err := e.Market()
	if err != nil {
		return nil, err
	}
	market.TotalDebt = safemath.SubFloor(market.TotalDebt, applied)
	if err := e.putPosition(addr, pos); err != nil {
		return nil, err
	}
	if err := e.putMarket(market); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LendingRepaid{Account: addr, Amount: safemath.Clone(applied), Debt: safemath.Clone(pos.Debt)})
	return applied, nil
}

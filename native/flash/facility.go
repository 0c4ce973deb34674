// Package flash lends any amount of the facility's liquidity for the duration
// of a callback. The loan must be settled before FlashBorrow returns; otherwise
// the enclosing execution unit aborts and every effect is discarded.
package flash

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	errs "defilab/core/errors"
	"defilab/core/events"
	nativecommon "defilab/native/common"
	"defilab/native/safemath"
	"defilab/native/token"
	"defilab/observability/metrics"
)

// Ledger is the token surface the facility settles against.
type Ledger interface {
	BalanceOf(asset string, addr common.Address) (*uint256.Int, error)
	Transfer(from, to common.Address, asset string, amount *uint256.Int) error
}

// Units reports whether an execution unit is active.
type Units interface {
	InUnit() bool
}

// Loan describes an outstanding flash loan. It only exists while the callback
// runs.
type Loan struct {
	Borrower   common.Address
	Asset      string
	Principal  *uint256.Int
	Fee        *uint256.Int
	PreBalance *uint256.Int
}

// Owed returns principal plus fee.
func (l Loan) Owed() (*uint256.Int, error) {
	return safemath.Add(l.Principal, l.Fee)
}

// Callback receives the borrowed funds. It runs synchronously inside the
// caller's execution unit.
type Callback func(ctx context.Context, loan Loan) error

// Facility holds lendable liquidity on the token ledger.
type Facility struct {
	address common.Address
	ledger  Ledger
	units   Units
	feeBps  uint64
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics *metrics.LabMetrics
}

// NewFacility builds a facility charging feeBps on every loan.
func NewFacility(ledger Ledger, units Units, feeBps uint64) (*Facility, error) {
	if ledger == nil || units == nil {
		return nil, fmt.Errorf("flash: ledger and unit tracker required")
	}
	if feeBps >= safemath.BasisPoints {
		return nil, fmt.Errorf("flash: fee %d bps must be below %d", feeBps, safemath.BasisPoints)
	}
	return &Facility{
		address: nativecommon.ModuleAddress(nativecommon.ModuleFlash),
		ledger:  ledger,
		units:   units,
		feeBps:  feeBps,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used for loan events.
func (f *Facility) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetPauses wires the pause registry consulted before lending.
func (f *Facility) SetPauses(p nativecommon.PauseView) { f.pauses = p }

// SetMetrics wires the flash loan counter.
func (f *Facility) SetMetrics(m *metrics.LabMetrics) { f.metrics = m }

// Address returns the facility's ledger account.
func (f *Facility) Address() common.Address { return f.address }

// FeeBps returns the loan fee.
func (f *Facility) FeeBps() uint64 { return f.feeBps }

// LiquidityOf returns the lendable balance of asset.
func (f *Facility) LiquidityOf(asset string) (*uint256.Int, error) {
	return f.ledger.BalanceOf(asset, f.address)
}

// Fund moves liquidity from provider into the facility.
func (f *Facility) Fund(provider common.Address, asset string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return errs.ErrInvalidAmount.Wrap("flash: funding must be positive")
	}
	return f.ledger.Transfer(provider, f.address, asset, amount)
}

// FeeFor returns the fee charged on amount, rounded up.
func (f *Facility) FeeFor(amount *uint256.Int) (*uint256.Int, error) {
	return safemath.ApplyBpsUp(amount, f.feeBps)
}

// FlashBorrow transfers amount of asset to borrower, runs cb, and verifies the
// facility balance has grown back to at least its prior level plus the fee.
// Nested loans are allowed; each checks its own pre-balance.
func (f *Facility) FlashBorrow(ctx context.Context, borrower common.Address, asset string, amount *uint256.Int, cb Callback) (err error) {
	defer func() {
		outcome := "repaid"
		if err != nil {
			outcome = "failed"
		}
		f.metrics.ObserveFlashLoan(outcome)
	}()
	if err := nativecommon.Guard(f.pauses, nativecommon.ModuleFlash); err != nil {
		return err
	}
	if !f.units.InUnit() {
		return errs.ErrNoActiveUnit.Wrap("flash: loans only exist inside an execution unit")
	}
	if cb == nil {
		return fmt.Errorf("flash: callback required")
	}
	if amount == nil || amount.IsZero() {
		return errs.ErrInvalidAmount.Wrap("flash: amount must be positive")
	}
	normalized := token.NormalizeAsset(asset)
	pre, err := f.LiquidityOf(normalized)
	if err != nil {
		return err
	}
	if amount.Gt(pre) {
		return errs.ErrInsufficientFacilityLiquidity.Wrapf("flash: requested %s, available %s", amount.Dec(), pre.Dec())
	}
	fee, err := f.FeeFor(amount)
	if err != nil {
		return err
	}
	required, err := safemath.Add(pre, fee)
	if err != nil {
		return err
	}
	loan := Loan{
		Borrower:   borrower,
		Asset:      normalized,
		Principal:  safemath.Clone(amount),
		Fee:        fee,
		PreBalance: pre,
	}
	if err := f.ledger.Transfer(f.address, borrower, normalized, amount); err != nil {
		return err
	}
	f.emitter.Emit(events.FlashBorrowed{Borrower: borrower, Asset: normalized, Principal: loan.Principal, Fee: fee})

	if err := cb(ctx, loan); err != nil {
		return err
	}

	post, err := f.LiquidityOf(normalized)
	if err != nil {
		return err
	}
	if post.Lt(required) {
		return errs.ErrLoanNotRepaid.Wrapf("flash: balance %s below required %s", post.Dec(), required.Dec())
	}
	f.emitter.Emit(events.FlashRepaid{Borrower: borrower, Asset: normalized, Balance: post})
	return nil
}

// Repay returns principal plus fee from the borrower to the facility.
func (f *Facility) Repay(loan Loan) error {
	owed, err := loan.Owed()
	if err != nil {
		return err
	}
	return f.ledger.Transfer(loan.Borrower, f.address, loan.Asset, owed)
}

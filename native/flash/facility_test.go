package flash

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	errs "defilab/core/errors"
	"defilab/core/state"
	"defilab/native/token"
	"defilab/storage"
)

var (
	funder   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	borrower = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type fixture struct {
	db       *storage.MemDB
	mgr      *state.Manager
	ledger   *token.Ledger
	facility *Facility
}

func newFixture(t *testing.T, feeBps uint64) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	mgr, err := state.NewManager(db)
	require.NoError(t, err)
	ledger := token.NewLedger(mgr, "B")
	facility, err := NewFacility(ledger, mgr, feeBps)
	require.NoError(t, err)
	facility.SetEmitter(mgr)
	_, err = mgr.Run(context.Background(), "fund", func(context.Context) error {
		if err := ledger.Mint(funder, "B", uint256.NewInt(50_000)); err != nil {
			return err
		}
		if err := ledger.Mint(borrower, "B", uint256.NewInt(100)); err != nil {
			return err
		}
		return facility.Fund(funder, "B", uint256.NewInt(50_000))
	})
	require.NoError(t, err)
	return &fixture{db: db, mgr: mgr, ledger: ledger, facility: facility}
}

func (f *fixture) borrow(amount uint64, cb Callback) (*state.Receipt, error) {
	return f.mgr.Run(context.Background(), "flash", func(ctx context.Context) error {
		return f.facility.FlashBorrow(ctx, borrower, "B", uint256.NewInt(amount), cb)
	})
}

func TestNewFacilityValidation(t *testing.T) {
	_, err := NewFacility(nil, nil, 0)
	require.Error(t, err)
	f := newFixture(t, 0)
	_, err = NewFacility(f.ledger, f.mgr, 10_000)
	require.Error(t, err)
}

func TestFlashBorrowRequiresUnit(t *testing.T) {
	f := newFixture(t, 9)
	err := f.facility.FlashBorrow(context.Background(), borrower, "B", uint256.NewInt(1), func(context.Context, Loan) error { return nil })
	require.ErrorIs(t, err, errs.ErrNoActiveUnit)
}

func TestFlashBorrowRepaidWithFee(t *testing.T) {
	f := newFixture(t, 9)
	var seen Loan
	receipt, err := f.borrow(1_000, func(ctx context.Context, loan Loan) error {
		seen = loan
		bal, err := f.ledger.BalanceOf("B", borrower)
		require.NoError(t, err)
		require.Equal(t, uint64(1_100), bal.Uint64())
		return f.facility.Repay(loan)
	})
	require.NoError(t, err)
	require.True(t, receipt.Committed())
	require.Equal(t, uint64(1), seen.Fee.Uint64())
	require.Equal(t, uint64(50_000), seen.PreBalance.Uint64())

	liquidity, err := f.facility.LiquidityOf("B")
	require.NoError(t, err)
	require.Equal(t, uint64(50_001), liquidity.Uint64())
}

func TestUnrepaidLoanLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, 9)
	before := f.db.Snapshot()
	height := f.mgr.Height()

	receipt, err := f.borrow(1_000, func(ctx context.Context, loan Loan) error {
		// Return only the principal; the fee is missing.
		return f.ledger.Transfer(borrower, f.facility.Address(), "B", loan.Principal)
	})
	require.ErrorIs(t, err, errs.ErrLoanNotRepaid)
	require.False(t, receipt.Committed())
	require.Empty(t, receipt.Events)
	require.Equal(t, before, f.db.Snapshot())
	require.Equal(t, height, f.mgr.Height())
}

func TestCallbackErrorAborts(t *testing.T) {
	f := newFixture(t, 0)
	before := f.db.Snapshot()
	_, err := f.borrow(10, func(context.Context, Loan) error { return errs.ErrExceedsBorrowLimit })
	require.ErrorIs(t, err, errs.ErrExceedsBorrowLimit)
	require.Equal(t, before, f.db.Snapshot())
}

func TestInsufficientFacilityLiquidity(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.borrow(50_001, func(context.Context, Loan) error { return nil })
	require.ErrorIs(t, err, errs.ErrInsufficientFacilityLiquidity)
	_, err = f.borrow(0, func(context.Context, Loan) error { return nil })
	require.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestNestedLoansCheckOwnBalance(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.borrow(20_000, func(ctx context.Context, outer Loan) error {
		return f.facility.FlashBorrow(ctx, borrower, "B", uint256.NewInt(30_000), func(ctx context.Context, inner Loan) error {
			require.Equal(t, uint64(30_000), inner.PreBalance.Uint64())
			if err := f.facility.Repay(inner); err != nil {
				return err
			}
			return f.facility.Repay(outer)
		})
	})
	require.NoError(t, err)
	liquidity, err := f.facility.LiquidityOf("B")
	require.NoError(t, err)
	require.Equal(t, uint64(50_000), liquidity.Uint64())
}

package state

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	errs "defilab/core/errors"
	"defilab/core/events"
	"defilab/storage"
)

type record struct {
	Amount *big.Int
	Label  string
}

type marker struct{ name string }

func (marker) EventType() string { return "test.marker" }

func (m marker) Event() *events.Event {
	return &events.Event{Type: "test.marker", Attributes: map[string]string{"name": m.name}}
}

func newTestManager(t *testing.T) (*Manager, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	mgr, err := NewManager(db)
	require.NoError(t, err)
	return mgr, db
}

func TestWritesOutsideUnitRejected(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.KVPut([]byte("k"), record{Amount: big.NewInt(1)})
	require.ErrorIs(t, err, errs.ErrNoActiveUnit)
	require.ErrorIs(t, mgr.KVDelete([]byte("k")), errs.ErrNoActiveUnit)
}

func TestRunCommitsWritesAndEvents(t *testing.T) {
	mgr, _ := newTestManager(t)
	var hooked *Receipt
	mgr.onReceipt = func(r *Receipt) { hooked = r }

	receipt, err := mgr.Run(context.Background(), "seed", func(ctx context.Context) error {
		require.True(t, mgr.InUnit())
		require.Equal(t, uint64(1), mgr.CurrentUnit())
		if err := mgr.KVPut([]byte("k"), record{Amount: big.NewInt(7), Label: "x"}); err != nil {
			return err
		}
		var got record
		ok, err := mgr.KVGet([]byte("k"), &got)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "x", got.Label)
		mgr.Emit(marker{name: "seed"})
		return nil
	})
	require.NoError(t, err)
	require.True(t, receipt.Committed())
	require.Equal(t, uint64(1), receipt.Seq)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, "seed", receipt.Events[0].Attributes["name"])
	require.Same(t, receipt, hooked)
	require.False(t, mgr.InUnit())
	require.Equal(t, uint64(1), mgr.Height())
	require.Equal(t, uint64(2), mgr.CurrentUnit())

	var got record
	ok, err := mgr.KVGet([]byte("k"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), got.Amount.Int64())
}

func TestRunRevertDiscardsEverything(t *testing.T) {
	mgr, db := newTestManager(t)
	_, err := mgr.Run(context.Background(), "seed", func(context.Context) error {
		return mgr.KVPut([]byte("k"), record{Amount: big.NewInt(1)})
	})
	require.NoError(t, err)
	before := db.Snapshot()

	receipt, err := mgr.Run(context.Background(), "fail", func(context.Context) error {
		require.NoError(t, mgr.KVPut([]byte("k"), record{Amount: big.NewInt(99)}))
		require.NoError(t, mgr.KVPut([]byte("other"), record{Amount: big.NewInt(5)}))
		mgr.Emit(marker{name: "lost"})
		return errs.ErrExceedsBorrowLimit.Wrap("too much")
	})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrExceedsBorrowLimit)
	var revert *RevertError
	require.True(t, errors.As(err, &revert))
	require.Same(t, receipt, revert.Receipt)
	require.Equal(t, StatusReverted, receipt.Status)
	require.Equal(t, errs.Codespace, receipt.Codespace)
	require.Equal(t, uint32(30), receipt.Code)
	require.Empty(t, receipt.Events)
	require.Equal(t, before, db.Snapshot())
	require.Equal(t, uint64(1), mgr.Height())

	var got record
	ok, err := mgr.KVGet([]byte("other"), &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunRecoversPanics(t *testing.T) {
	mgr, db := newTestManager(t)
	before := db.Snapshot()
	receipt, err := mgr.Run(context.Background(), "panic", func(context.Context) error {
		require.NoError(t, mgr.KVPut([]byte("k"), record{Amount: big.NewInt(1)}))
		panic("boom")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, StatusReverted, receipt.Status)
	require.Equal(t, before, db.Snapshot())
	require.False(t, mgr.InUnit())
}

func TestNestedRunRejected(t *testing.T) {
	mgr, _ := newTestManager(t)
	var inner error
	_, err := mgr.Run(context.Background(), "outer", func(ctx context.Context) error {
		_, inner = mgr.Run(ctx, "inner", func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, inner, errs.ErrUnitInProgress)

	// The gate is released once the outer unit finishes.
	_, err = mgr.Run(context.Background(), "after", func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, uint64(2), mgr.Height())
}

func TestDeleteInsideUnit(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Run(context.Background(), "put", func(context.Context) error {
		return mgr.KVPut([]byte("k"), record{Amount: big.NewInt(1)})
	})
	require.NoError(t, err)
	_, err = mgr.Run(context.Background(), "delete", func(context.Context) error {
		if err := mgr.KVDelete([]byte("k")); err != nil {
			return err
		}
		ok, err := mgr.KVGet([]byte("k"), nil)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
	ok, err := mgr.KVGet([]byte("k"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHeightSurvivesReopen(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	mgr, err := NewManager(db)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := mgr.Run(context.Background(), "tick", func(context.Context) error { return nil })
		require.NoError(t, err)
	}

	reopened, err := NewManager(db)
	require.NoError(t, err)
	require.Equal(t, uint64(3), reopened.Height())
	require.Equal(t, uint64(4), reopened.CurrentUnit())
}

func TestCancelledContextDoesNotStartUnit(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	receipt, err := mgr.Run(ctx, "never", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, receipt)
	require.Equal(t, uint64(0), mgr.Height())
}

func TestKVGetListDefaultsEmpty(t *testing.T) {
	mgr, _ := newTestManager(t)
	var list []record
	require.NoError(t, mgr.KVGetList([]byte("missing"), &list))
	require.NotNil(t, list)
	require.Empty(t, list)
}

package receipts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	errs "defilab/core/errors"
	"defilab/core/events"
	"defilab/core/state"
	"defilab/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type ping struct{}

func (ping) EventType() string { return "test.ping" }

func (ping) Event() *events.Event {
	return &events.Event{Type: "test.ping", Attributes: map[string]string{"k": "v"}}
}

func TestHookPersistsCommittedAndRevertedUnits(t *testing.T) {
	store := openStore(t)
	mgr, err := state.NewManager(storage.NewMemDB(), state.WithReceiptHook(store.Hook()))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := mgr.Run(ctx, "write", func(context.Context) error {
		mgr.Emit(ping{})
		return mgr.KVPut([]byte("k"), uint64(1))
	})
	require.NoError(t, err)
	_, err = mgr.Run(ctx, "fail", func(context.Context) error {
		return errs.ErrExceedsBorrowLimit.Wrap("over")
	})
	require.Error(t, err)

	rows, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got, err := store.Get(ctx, ok.ID)
	require.NoError(t, err)
	require.True(t, got.Committed())
	require.Equal(t, "write", got.Name)
	evts, err := got.Events()
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, "test.ping", evts[0].Type)

	reverted, err := store.List(ctx, Filter{Status: "REVERTED"})
	require.NoError(t, err)
	require.Len(t, reverted, 1)
	require.Equal(t, uint32(30), reverted[0].Code)
	require.Equal(t, errs.Codespace, reverted[0].Codespace)
	require.Contains(t, reverted[0].Reason, "over")

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"committed": 1, "reverted": 1}, counts)
}

func TestListLimitAndNameFilter(t *testing.T) {
	store := openStore(t)
	mgr, err := state.NewManager(storage.NewMemDB(), state.WithReceiptHook(store.Hook()))
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := mgr.Run(ctx, "tick", func(context.Context) error { return nil })
		require.NoError(t, err)
	}
	_, err = mgr.Run(ctx, "other", func(context.Context) error { return nil })
	require.NoError(t, err)

	rows, err := store.List(ctx, Filter{Name: "tick", Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, "tick", row.Name)
	}
}

func TestGetMissing(t *testing.T) {
	store := openStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

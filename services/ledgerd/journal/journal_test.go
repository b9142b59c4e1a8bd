package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reserveledger/core/types"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	j, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func receipt(op string, events ...types.Event) types.Receipt {
	return types.Receipt{
		ID:        uuid.NewString(),
		Operation: op,
		Committed: time.Unix(1_700_000_000, 0).UTC(),
		Events:    events,
	}
}

func TestRecordAndList(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	first := receipt("stability.provide", types.Event{Type: "stability.depositUpdated", Attributes: map[string]string{"deposit": "100"}})
	second := receipt("stability.offset",
		types.Event{Type: "stability.offset", Attributes: map[string]string{"debt": "200"}},
		types.Event{Type: "stability.productUpdated", Attributes: map[string]string{"epoch": "0"}},
	)
	third := receipt("bank.mint")
	for _, r := range []types.Receipt{first, second, third} {
		require.NoError(t, j.Record(ctx, r))
	}

	all, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, first.ID, all[0].Receipt.ID)
	require.Equal(t, "100", all[0].Receipt.Events[0].Attributes["deposit"])
	require.Len(t, all[1].Receipt.Events, 2)
	require.Equal(t, "stability.offset", all[1].Receipt.Events[0].Type)
	require.Empty(t, all[2].Receipt.Events)

	paged, err := j.List(ctx, Query{After: all[0].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, second.ID, paged[0].Receipt.ID)

	byOp, err := j.List(ctx, Query{Operation: "bank.mint"})
	require.NoError(t, err)
	require.Len(t, byOp, 1)
	require.Equal(t, third.ID, byOp[0].Receipt.ID)

	byType, err := j.List(ctx, Query{EventType: "stability.productUpdated"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, second.ID, byType[0].Receipt.ID)

	got, err := j.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, got.Receipt.EventsOfType("stability.productUpdated"), 1)

	_, err = j.Get(ctx, "missing")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestDuplicateReceiptRejected(t *testing.T) {
	j := setupJournal(t)
	r := receipt("bank.mint")
	require.NoError(t, j.Record(context.Background(), r))
	require.Error(t, j.Record(context.Background(), r))
}

func TestOpenValidates(t *testing.T) {
	_, err := Open(DriverSQLite, " ")
	require.ErrorIs(t, err, ErrDSNRequired)
	_, err = Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSQLiteDSN(t *testing.T) {
	dsn, err := SQLiteDSN("file:abc?mode=memory")
	require.NoError(t, err)
	require.Equal(t, "file:abc?mode=memory", dsn)

	dsn, err = SQLiteDSN("/tmp/journal.db")
	require.NoError(t, err)
	require.Equal(t, "file:/tmp/journal.db?"+sqlitePragmas, dsn)
}

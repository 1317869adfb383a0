package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g-dg/garnetdg-app-server/ids"
	"github.com/g-dg/garnetdg-app-server/pathtree"
	"github.com/g-dg/garnetdg-app-server/persistence"
)

func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func testStore(name string) persistence.StoreConfig {
	return persistence.StoreConfig{Namespace: "test", StoreName: name, KeepHistory: true}
}

func strp(s string) *string { return &s }

func TestCreateIsIdempotent(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("create")

	require.NoError(t, a.Create(ctx, cfg))
	require.NoError(t, a.Create(ctx, cfg))
}

func TestSetThenGetCurrent(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("setget")
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"a", "b"}
	changeID, err := a.Set(ctx, cfg, path, strp("hello"))
	require.NoError(t, err)
	assert.False(t, changeID.IsNone())

	meta, err := a.GetCurrent(ctx, cfg, path)
	require.NoError(t, err)
	assert.Equal(t, changeID, meta.ChangeID)
	assert.False(t, meta.Deleted)

	value, deleted, err := a.GetValue(ctx, cfg, meta.ChangeID)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, "hello", value)
}

func TestSetAtRootPath(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("root")
	require.NoError(t, a.Create(ctx, cfg))

	first, err := a.Set(ctx, cfg, nil, strp("v1"))
	require.NoError(t, err)
	second, err := a.Set(ctx, cfg, nil, strp("v2"))
	require.NoError(t, err)

	meta, err := a.GetCurrent(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, second, meta.ChangeID)

	history, err := a.GetHistory(ctx, cfg, nil, ids.None)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first, history[0].ChangeID)
	assert.Equal(t, second, history[1].ChangeID)
}

func TestGetCurrentNotFound(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("missing")
	require.NoError(t, a.Create(ctx, cfg))

	_, err := a.GetCurrent(ctx, cfg, pathtree.Path{"nope"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestSetDeleteMarker(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("delete")
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"x"}
	_, err := a.Set(ctx, cfg, path, strp("v1"))
	require.NoError(t, err)
	changeID, err := a.Set(ctx, cfg, path, nil)
	require.NoError(t, err)

	meta, err := a.GetCurrent(ctx, cfg, path)
	require.NoError(t, err)
	assert.Equal(t, changeID, meta.ChangeID)
	assert.True(t, meta.Deleted)

	value, deleted, err := a.GetValue(ctx, cfg, meta.ChangeID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "", value)
}

func TestGetHistoryOrderedAndCursor(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("history")
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"p"}
	c1, err := a.Set(ctx, cfg, path, strp("v1"))
	require.NoError(t, err)
	c2, err := a.Set(ctx, cfg, path, strp("v2"))
	require.NoError(t, err)
	c3, err := a.Set(ctx, cfg, path, strp("v3"))
	require.NoError(t, err)

	full, err := a.GetHistory(ctx, cfg, path, ids.None)
	require.NoError(t, err)
	require.Len(t, full, 3)
	assert.Equal(t, c1, full[0].ChangeID)
	assert.Equal(t, c2, full[1].ChangeID)
	assert.Equal(t, c3, full[2].ChangeID)

	after, err := a.GetHistory(ctx, cfg, path, c1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, c2, after[0].ChangeID)
	assert.Equal(t, c3, after[1].ChangeID)
}

// An unrecognized cursor yields the full history instead of an error or
// an empty result, so a reconnecting caller cannot silently miss data.
func TestGetHistoryUnknownCursorFailsOpen(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("failopen")
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"p"}
	_, err := a.Set(ctx, cfg, path, strp("v1"))
	require.NoError(t, err)

	unknown := ids.New()
	history, err := a.GetHistory(ctx, cfg, path, unknown)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGetHistoryMissingPathReturnsEmpty(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("nohist")
	require.NoError(t, a.Create(ctx, cfg))

	history, err := a.GetHistory(ctx, cfg, pathtree.Path{"nope"}, ids.None)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestListOnlyReportsChildrenWithLiveValues(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("list")
	require.NoError(t, a.Create(ctx, cfg))

	_, err := a.Set(ctx, cfg, pathtree.Path{"live"}, strp("v"))
	require.NoError(t, err)
	_, err = a.Set(ctx, cfg, pathtree.Path{"dead"}, strp("v"))
	require.NoError(t, err)
	_, err = a.Set(ctx, cfg, pathtree.Path{"dead"}, nil)
	require.NoError(t, err)
	_, err = a.Set(ctx, cfg, pathtree.Path{"nested", "child"}, strp("v"))
	require.NoError(t, err)

	children, err := a.List(ctx, cfg, pathtree.Path{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"live", "nested"}, children)
}

func TestCleanupWithoutHistoryKeepsOnlyCurrent(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("nohistkeep")
	cfg.KeepHistory = false
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"p"}
	_, err := a.Set(ctx, cfg, path, strp("v1"))
	require.NoError(t, err)
	last, err := a.Set(ctx, cfg, path, strp("v2"))
	require.NoError(t, err)

	require.NoError(t, a.Cleanup(ctx, cfg, path))

	history, err := a.GetHistory(ctx, cfg, path, ids.None)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, last, history[0].ChangeID)
}

func TestCleanupRespectsMaxEntries(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("maxentries")
	maxEntries := 2
	cfg.MaxEntries = &maxEntries
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"p"}
	_, err := a.Set(ctx, cfg, path, strp("v1"))
	require.NoError(t, err)
	_, err = a.Set(ctx, cfg, path, strp("v2"))
	require.NoError(t, err)
	last, err := a.Set(ctx, cfg, path, strp("v3"))
	require.NoError(t, err)

	require.NoError(t, a.Cleanup(ctx, cfg, path))

	history, err := a.GetHistory(ctx, cfg, path, ids.None)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, last, history[1].ChangeID)
}

func TestCleanupRespectsMaxAgeButKeepsCurrent(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("maxage")
	maxAge := time.Nanosecond
	cfg.MaxAge = &maxAge
	require.NoError(t, a.Create(ctx, cfg))

	path := pathtree.Path{"p"}
	_, err := a.Set(ctx, cfg, path, strp("v1"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	last, err := a.Set(ctx, cfg, path, strp("v2"))
	require.NoError(t, err)

	require.NoError(t, a.Cleanup(ctx, cfg, path))

	history, err := a.GetHistory(ctx, cfg, path, ids.None)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, last, history[0].ChangeID)
}

func TestGetValueNotFound(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfg := testStore("getvalue")
	require.NoError(t, a.Create(ctx, cfg))

	_, _, err := a.GetValue(ctx, cfg, ids.New())
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStoresAreIsolatedByPrefix(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	cfgA := testStore("iso-a")
	cfgB := testStore("iso-b")
	require.NoError(t, a.Create(ctx, cfgA))
	require.NoError(t, a.Create(ctx, cfgB))

	path := pathtree.Path{"shared"}
	_, err := a.Set(ctx, cfgA, path, strp("from-a"))
	require.NoError(t, err)

	_, err = a.GetCurrent(ctx, cfgB, path)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

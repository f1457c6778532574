package metacache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"scrunch/lib/metacache/db"
	"scrunch/lib/testutil"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t testing.TB) Cache {
	database := testutil.SetupDB(t, testutil.DBParams{
		Name:   "metacache",
		Schema: db.Schema,
	})
	cache, err := New(database)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	ds := "https://app.crunch.io/api/datasets/123/"

	_, hit, err := cache.Get(ctx, ds, "v1")
	require.NoError(t, err)
	require.False(t, hit)

	metadata := map[string]json.RawMessage{
		"00001": json.RawMessage(`{"alias":"gender","type":"categorical"}`),
		"00002": json.RawMessage(`{"alias":"age","type":"numeric"}`),
	}
	require.NoError(t, cache.Put(ctx, ds, "v1", metadata))

	got, hit, err := cache.Get(ctx, ds, "v1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, got, 2)
	require.JSONEq(t, `{"alias":"age","type":"numeric"}`, string(got["00002"]))

	_, hit, err = cache.Get(ctx, ds, "v2")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, cache.Put(ctx, ds, "v2", map[string]json.RawMessage{}))
	got, hit, err = cache.Get(ctx, ds, "v2")
	require.NoError(t, err)
	require.True(t, hit)
	require.Empty(t, got)

	count, err := cache.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, cache.Invalidate(ctx, ds))
	_, hit, err = cache.Get(ctx, ds, "v2")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metadata.db")

	cache, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, "ds", "1", map[string]json.RawMessage{"a": json.RawMessage(`1`)}))
	require.NoError(t, cache.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	_, hit, err := reopened.Get(ctx, "ds", "1")
	require.NoError(t, err)
	require.True(t, hit)

	_, err = Open("")
	require.Error(t, err)
}

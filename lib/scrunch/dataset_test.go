package scrunch

import (
	"context"
	"net/http"
	"scrunch/lib/expressions"
	"scrunch/lib/metacache"
	"scrunch/lib/shoji"
	"scrunch/lib/shoji/shojitest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExclude(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	ds := testDataset(t, srv)

	err := ds.Exclude(ctx, "age > 30")
	if err != nil {
		t.Fatal(err)
	}
	patch := srv.Last(t, http.MethodPatch)
	require.Equal(t, srv.Abs(datasetPath+"exclusion/"), patch.URL)
	require.JSONEq(t, `{"expression": {
		"function": ">",
		"args": [{"variable": "`+varURL(srv, "000003")+`"}, {"value": 30}]
	}}`, string(patch.Body))

	err = ds.Exclude(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	require.JSONEq(t, `{"expression": {}}`, string(srv.Last(t, http.MethodPatch).Body))

	err = ds.Exclude(ctx, "agee > 30")
	require.ErrorContains(t, err, "agee")

	srv.AddFixture(datasetPath+"exclusion/", map[string]any{
		"element": "shoji:entity",
		"body": map[string]any{"expression": map[string]any{
			"function": "==",
			"args":     []any{map[string]any{"variable": varURL(srv, "000004")}, map[string]any{"value": 1}},
		}},
	})
	current, err := ds.Exclusion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "==", current.Function)
	pretty, err := ds.Prettify(ctx, current)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "gender == 1", pretty)
}

func TestTableCache(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	cache, err := metacache.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })

	tableGets := func() int {
		n := 0
		for _, r := range srv.Filter(http.MethodGet) {
			if r.URL == srv.Abs(datasetPath+"table/?limit=0") {
				n++
			}
		}
		return n
	}

	for i := 0; i < 2; i++ {
		doc, err := srv.Session(t).Get(ctx, srv.Abs(datasetPath), nil)
		if err != nil {
			t.Fatal(err)
		}
		table, err := NewDataset(doc, cache).Table(ctx)
		if err != nil {
			t.Fatal(err)
		}
		v, ok := table.Lookup("gender")
		require.True(t, ok)
		require.Len(t, v.Categories, 3)
	}
	require.Equal(t, 1, tableGets())

	n, err := cache.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, n)
}

func TestVariableLookup(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	ds := testDataset(t, srv)

	v, err := ds.Variable(ctx, "gender")
	if err != nil {
		t.Fatal(err)
	}
	cats, err := v.Categories()
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "Female", cats[1].Name)

	_, err = ds.Variable(ctx, "gendr")
	require.ErrorIs(t, err, shoji.ErrNotFound)
	require.ErrorContains(t, err, "did you mean 'gender'")

	alias, err := ds.AliasForURL(ctx, varURL(srv, "000003"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "age", alias)

	require.Error(t, ds.Edit(ctx, map[string]any{"id": "2"}))
	require.NoError(t, ds.Rename(ctx, "renamed"))
	require.Equal(t, "renamed", ds.Name())
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"name": "renamed"}}`, string(srv.Last(t, http.MethodPatch).Body))
}

func TestSavepoints(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	srv.AddFixture(datasetPath+"savepoints/", map[string]any{
		"element": "shoji:catalog",
		"index": map[string]any{
			"1/": map[string]any{"description": "initial import", "revert": srv.Abs(datasetPath + "savepoints/1/revert/")},
			"2/": map[string]any{"description": "cleaned", "revert": srv.Abs(datasetPath + "savepoints/2/revert/")},
		},
	})
	ds := testDataset(t, srv)

	descriptions, err := ds.SavepointDescriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"cleaned", "initial import"}, descriptions)

	require.ErrorContains(t, ds.CreateSavepoint(ctx, "cleaned"), "already exists")
	require.NoError(t, ds.CreateSavepoint(ctx, "weighted"))
	post := srv.Last(t, http.MethodPost)
	require.Equal(t, srv.Abs(datasetPath+"savepoints/"), post.URL)
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"description": "weighted"}}`, string(post.Body))

	require.NoError(t, ds.LoadSavepoint(ctx, ""))
	require.Equal(t, srv.Abs(datasetPath+"savepoints/1/revert/"), srv.Last(t, http.MethodPost).URL)

	require.ErrorIs(t, ds.LoadSavepoint(ctx, "missing"), shoji.ErrNotFound)
}

func TestFork(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	srv.AddFixture(datasetPath+"forks/", map[string]any{
		"element": "shoji:catalog",
		"index": map[string]any{
			"b/": map[string]any{"id": "b", "name": "second", "creation_time": "2026-02-01", "owner_name": "ann"},
			"a/": map[string]any{"id": "a", "name": "first", "creation_time": "2026-01-01", "owner_name": "ann"},
		},
	})
	srv.AddFixture("/api/datasets/fork/", map[string]any{
		"element":  "shoji:entity",
		"body":     map[string]any{"name": "FORK #3 of test ds"},
		"catalogs": map[string]any{"savepoints": "savepoints/"},
	})
	srv.AddFixture("/api/datasets/fork/savepoints/", map[string]any{
		"element": "shoji:catalog",
		"index":   map[string]any{},
	})
	srv.Reply(http.MethodPost, datasetPath+"forks/", shojitest.Reply{
		Status:   http.StatusCreated,
		Location: srv.Abs("/api/datasets/fork/"),
	})
	ds := testDataset(t, srv)

	fork, err := ds.Fork(ctx, ForkOptions{PreserveOwner: true})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "FORK #3 of test ds", fork.Name())

	posts := srv.Filter(http.MethodPost)
	require.Len(t, posts, 2)
	require.JSONEq(t, `{"element": "shoji:entity", "body": {
		"name": "FORK #3 of test ds",
		"description": "a dataset",
		"is_published": false
	}}`, string(posts[0].Body))
	require.Equal(t, srv.Abs("/api/datasets/fork/savepoints/"), posts[1].URL)
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"description": "initial fork"}}`, string(posts[1].Body))
	require.JSONEq(t, `{"owner": "`+srv.Abs("/api/users/me/")+`"}`, string(srv.Last(t, http.MethodPatch).Body))

	forks, err := ds.Forks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "first", forks[0].Name)
	require.Equal(t, "second", forks[1].Name)

	tw, err := ds.ForksTable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, tw.Render(), "second")

	require.NoError(t, ds.DeleteForks(ctx))
	require.Len(t, srv.Filter(http.MethodDelete), 2)
}

func TestChangeEditor(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	srv.AddFixture("/api/users/", map[string]any{
		"element": "shoji:catalog",
		"index": map[string]any{
			"me/":  map[string]any{"email": "me@example.com"},
			"you/": map[string]any{"email": "you@example.com"},
		},
	})
	ds := testDataset(t, srv)

	require.NoError(t, ds.ChangeEditor(ctx, "you@example.com"))
	require.JSONEq(t, `{"current_editor": "`+srv.Abs("/api/users/you/")+`"}`, string(srv.Last(t, http.MethodPatch).Body))
	require.ErrorIs(t, ds.ChangeEditor(ctx, "nobody@example.com"), shoji.ErrNotFound)
}

func TestAddFilter(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	srv.AddFixture(datasetPath+"filters/", map[string]any{"element": "shoji:catalog", "index": map[string]any{}})
	srv.AddFixture(datasetPath+"filters/f/", map[string]any{"element": "shoji:entity", "body": map[string]any{"name": "men"}})
	srv.Reply(http.MethodPost, datasetPath+"filters/", shojitest.Reply{
		Status:   http.StatusCreated,
		Location: srv.Abs(datasetPath + "filters/f/"),
	})
	ds := testDataset(t, srv)

	filter, err := ds.AddFilter(ctx, "men", "gender == 'Male'", true)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "men", filter.Body.String("name"))
	require.JSONEq(t, `{"element": "shoji:entity", "body": {
		"name": "men",
		"is_public": true,
		"expression": {"function": "==", "args": [{"variable": "`+varURL(srv, "000004")+`"}, {"value": 1}]}
	}}`, string(srv.Last(t, http.MethodPost).Body))
}

func TestProcessExprUsesDataset(t *testing.T) {
	srv := testServer(t)
	ds := testDataset(t, srv)
	got, err := ds.ProcessExpr(context.Background(), "gender in ['Male', 'Female']")
	if err != nil {
		t.Fatal(err)
	}
	want := expressions.Func("in", expressions.Var(varURL(srv, "000004")), expressions.Val([]any{1, 2}))
	require.Equal(t, want.String(), got.String())
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	srv.AddFixture(datasetPath+"settings/", map[string]any{
		"element": "shoji:entity",
		"body":    map[string]any{"viewers_can_export": false, "min_base_size": 0},
	})
	ds := testDataset(t, srv)

	settings, err := ds.Settings(ctx)
	require.NoError(t, err)
	require.False(t, settings.Bool("viewers_can_export"))

	require.NoError(t, ds.EditSettings(ctx, map[string]any{"viewers_can_export": true}))
	patch := srv.Last(t, http.MethodPatch)
	require.Equal(t, srv.Abs(datasetPath+"settings/"), patch.URL)
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"viewers_can_export": true}}`, string(patch.Body))
}

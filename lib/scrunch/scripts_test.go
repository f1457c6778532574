package scrunch

import (
	"context"
	"net/http"
	"scrunch/lib/shoji/shojitest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScripts(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	scripts := srv.Abs(datasetPath + "scripts/")
	srv.AddFixture(datasetPath+"scripts/", map[string]any{
		"element": "shoji:catalog",
		"self":    scripts,
		"views":   map[string]any{"collapse": "collapse/"},
		"index": map[string]any{
			"a/": map[string]any{},
			"b/": map[string]any{},
		},
	})
	for _, s := range []struct{ id, created, body string }{
		{"a", "2026-03-01", "RENAME a TO b;"},
		{"b", "2026-01-01", "RENAME c TO d;"},
	} {
		srv.AddFixture(datasetPath+"scripts/"+s.id+"/", map[string]any{
			"element": "shoji:entity",
			"body":    map[string]any{"body": s.body, "creation_time": s.created},
			"views":   map[string]any{"revert": "revert/"},
		})
	}
	ds := testDataset(t, srv)

	require.NoError(t, ds.Scripts().Execute(ctx, "RENAME x TO y;"))
	post := srv.Last(t, http.MethodPost)
	require.Equal(t, scripts, post.URL)
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"body": "RENAME x TO y;"}}`, string(post.Body))

	srv.Reply(http.MethodPost, datasetPath+"scripts/", shojitest.Reply{
		Status: http.StatusBadRequest,
		Body: map[string]any{
			"message":     "script validation failed",
			"resolutions": []any{map[string]any{"line": 1, "message": "unknown alias"}},
		},
	})
	err := ds.Scripts().Execute(ctx, "RENAME nope TO y;")
	var serr *ScriptExecutionError
	require.ErrorAs(t, err, &serr)
	require.JSONEq(t, `[{"line": 1, "message": "unknown alias"}]`, string(serr.Resolutions))

	all, err := ds.Scripts().All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].ID())
	require.Equal(t, "RENAME a TO b;", all[1].Body())

	require.NoError(t, ds.Scripts().RevertToNumber(ctx, 2))
	require.Equal(t, srv.Abs(datasetPath+"scripts/a/revert/"), srv.Last(t, http.MethodPost).URL)
	require.NoError(t, ds.Scripts().RevertTo(ctx, "b"))
	require.Equal(t, srv.Abs(datasetPath+"scripts/b/revert/"), srv.Last(t, http.MethodPost).URL)
	require.Error(t, ds.Scripts().RevertToNumber(ctx, 3))
	require.Error(t, ds.Scripts().RevertTo(ctx, "z"))

	require.NoError(t, ds.Scripts().Collapse(ctx))
	require.Equal(t, srv.Abs(datasetPath+"scripts/collapse/"), srv.Last(t, http.MethodPost).URL)
}

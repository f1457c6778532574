package scrunch

import (
	"context"
	"net/http"
	"scrunch/lib/shoji/shojitest"
	"testing"

	"github.com/stretchr/testify/require"
)

func projectServer(t *testing.T) *shojitest.Server {
	t.Helper()
	srv := testServer(t)
	a, b, ds := srv.Abs("/api/projects/a/"), srv.Abs("/api/projects/b/"), srv.Abs(datasetPath)
	srv.AddFixture("/api/projects/", map[string]any{
		"element": "shoji:catalog",
		"index":   map[string]any{a: map[string]any{"name": "project A", "id": "a"}},
	})
	srv.AddFixture("/api/projects/a/", map[string]any{
		"element": "shoji:entity",
		"self":    a,
		"body":    map[string]any{"name": "project A"},
		"catalogs": map[string]any{
			"project":  srv.Abs("/api/projects/"),
			"datasets": "datasets/",
		},
		"index": map[string]any{
			b:  map[string]any{"name": "project B", "type": "project"},
			ds: map[string]any{"name": "test ds", "type": "dataset"},
		},
		"graph": []any{b, ds},
	})
	srv.AddFixture("/api/projects/b/", map[string]any{
		"element":  "shoji:entity",
		"self":     b,
		"body":     map[string]any{"name": "project B"},
		"catalogs": map[string]any{"project": a},
		"index":    map[string]any{},
		"graph":    []any{},
	})
	return srv
}

func testProject(t *testing.T, srv *shojitest.Server) *Project {
	t.Helper()
	p, err := NewSite(srv.Session(t)).GetProject(context.Background(), "project A")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProjectNavigation(t *testing.T) {
	ctx := context.Background()
	srv := projectServer(t)
	a := testProject(t, srv)
	require.True(t, a.IsRoot())

	b, err := a.Get(ctx, "| project B")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "project B", b.Name())
	require.False(t, b.IsRoot())

	_, err = a.Get(ctx, "| project B | project D")
	var perr *InvalidPathError
	require.ErrorAs(t, err, &perr)
	require.EqualError(t, err, "Invalid path: | project B | project D")

	_, err = a.Get(ctx, "| test ds")
	require.ErrorAs(t, err, &perr)

	children, err := a.Children(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, children, 2)
	require.IsType(t, &Project{}, children[0])
	require.IsType(t, &Dataset{}, children[1])
	require.Equal(t, "test ds", children[1].Name())
}

func TestProjectMoveHere(t *testing.T) {
	ctx := context.Background()
	b, ds := "/api/projects/b/", datasetPath

	cases := []struct {
		name      string
		placement Placement
		graph     []string
	}{
		{"end", AtEnd(), []string{b, ds}},
		{"position", AtPosition(0), []string{ds, b}},
		{"before", Before("project B"), []string{ds, b}},
		{"after", After("project B"), []string{b, ds}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := projectServer(t)
			a := testProject(t, srv)
			dataset := testDataset(t, srv)

			err := a.MoveHere(ctx, []Item{dataset}, tc.placement)
			if err != nil {
				t.Fatal(err)
			}
			patch := srv.Last(t, http.MethodPatch)
			require.Equal(t, srv.Abs("/api/projects/a/"), patch.URL)
			graph := make([]any, len(tc.graph))
			for i, p := range tc.graph {
				graph[i] = srv.Abs(p)
			}
			require.Equal(t, map[string]any{
				"element": "shoji:entity",
				"body":    map[string]any{},
				"index":   map[string]any{srv.Abs(ds): map[string]any{}},
				"graph":   graph,
			}, patch.JSON(t))
		})
	}

	srv := projectServer(t)
	a := testProject(t, srv)
	require.ErrorContains(t, a.MoveHere(ctx, []Item{testDataset(t, srv)}, Before("project Z")), "project Z")
	require.Error(t, a.MoveHere(ctx, []Item{testDataset(t, srv)}, AtPosition(5)))
	require.Empty(t, srv.Filter(http.MethodPatch))
}

func TestProjectPlaceAndReorder(t *testing.T) {
	ctx := context.Background()
	srv := projectServer(t)
	a := testProject(t, srv)
	dataset := testDataset(t, srv)

	err := a.Place(ctx, dataset, "| project B", AtEnd())
	if err != nil {
		t.Fatal(err)
	}
	patch := srv.Last(t, http.MethodPatch)
	require.Equal(t, srv.Abs("/api/projects/b/"), patch.URL)
	require.Equal(t, []any{srv.Abs(datasetPath)}, patch.JSON(t)["graph"])

	err = a.Reorder(ctx, []string{"test ds", "project B"})
	if err != nil {
		t.Fatal(err)
	}
	require.JSONEq(t, `{
		"element": "shoji:entity",
		"body": {},
		"index": {},
		"graph": ["`+srv.Abs(datasetPath)+`", "`+srv.Abs("/api/projects/b/")+`"]
	}`, string(srv.Last(t, http.MethodPatch).Body))

	require.Error(t, a.Reorder(ctx, []string{"nope"}))
}

func TestCreateAndRenameProject(t *testing.T) {
	ctx := context.Background()
	srv := projectServer(t)
	srv.AddFixture("/api/projects/c/", map[string]any{
		"element":  "shoji:entity",
		"body":     map[string]any{"name": "project C"},
		"catalogs": map[string]any{"project": srv.Abs("/api/projects/a/")},
	})
	srv.Reply(http.MethodPost, "/api/projects/a/", shojitest.Reply{
		Status:   http.StatusCreated,
		Location: srv.Abs("/api/projects/c/"),
	})
	a := testProject(t, srv)

	c, err := a.CreateProject(ctx, "project C")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "project C", c.Name())
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"name": "project C"}}`, string(srv.Last(t, http.MethodPost).Body))

	require.NoError(t, c.Rename(ctx, "project D"))
	require.Equal(t, "project D", c.Name())
	require.JSONEq(t, `{"element": "shoji:entity", "body": {"name": "project D"}}`, string(srv.Last(t, http.MethodPatch).Body))
}

func TestProjectLegacyOrder(t *testing.T) {
	ctx := context.Background()
	srv := projectServer(t)
	srv.AddFixture("/api/projects/a/datasets/", map[string]any{
		"element": "shoji:catalog",
		"orders":  map[string]any{"order": "order/"},
		"index":   map[string]any{srv.Abs(datasetPath): map[string]any{"id": "1", "name": "test ds"}},
	})
	srv.AddFixture("/api/projects/a/datasets/order/", map[string]any{
		"element": "shoji:order",
		"graph":   []any{map[string]any{"Group": []any{srv.Abs(datasetPath)}}},
	})
	a := testProject(t, srv)

	require.False(t, a.UsesLegacyOrder(ctx))
	require.Equal(t, ProjectOrder{Nested: a}, a.Order(ctx))
	a.Document().Session().SetFeatureFlags(map[string]bool{legacyProjectsOrderFlag: true})
	require.True(t, a.UsesLegacyOrder(ctx))

	order := a.Order(ctx).Legacy
	require.NotNil(t, order)
	require.Same(t, a.LegacyOrder(), order)
	require.Nil(t, a.Order(ctx).Nested)
	root, err := order.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"test ds"}, root.Variables())

	require.NoError(t, order.Move(ctx, []string{"test ds"}, -1))
	require.JSONEq(t, `{"element": "shoji:order", "graph": [{"Group": []}, "`+srv.Abs(datasetPath)+`"]}`,
		string(srv.Last(t, http.MethodPut).Body))

	_, err = order.Variable(ctx, "test ds")
	require.Error(t, err)
}

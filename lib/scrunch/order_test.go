package scrunch

import (
	"context"
	"errors"
	"net/http"
	"scrunch/lib/shoji/shojitest"
	"testing"

	"github.com/stretchr/testify/require"
)

func lastGraph(t *testing.T, srv *shojitest.Server) string {
	t.Helper()
	return string(srv.Last(t, http.MethodPut).Body)
}

func TestOrderLoad(t *testing.T) {
	srv := testServer(t)
	ds := testDataset(t, srv)
	ctx := context.Background()

	root, err := ds.Order().Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, root.IsRoot())
	require.Equal(t, []string{"id", "hobbies", "Account", "music"}, root.Names())
	require.Equal(t, []string{"id", "hobbies", "age", "gender", "music"}, root.Variables())
	require.Equal(t, "[\n    \"id\",\n    \"hobbies\",\n    \"Group(Account)\",\n    \"music\"\n]", root.String())

	personal := root.FindGroup("Personal")
	require.NotNil(t, personal)
	require.Equal(t, "Account", personal.Parent().Name())
	require.Equal(t, personal, root.Find("gender"))
	require.Nil(t, root.Find("nope"))

	require.JSONEq(t, `["id", "hobbies", {"Account": ["age", {"Personal": ["gender"]}]}, "music"]`, root.HierarchyString())

	v, err := ds.Order().Variable(ctx, "age")
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "Age", v.Name())
	require.Empty(t, srv.Filter(http.MethodPut))
}

func TestOrderMoves(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		run  func(o *Order, root *Group) error
		want string
	}{
		{
			name: "top",
			run:  func(o *Order, _ *Group) error { return o.MoveTop(ctx, "music") },
			want: `["../000005/", "../000001/", "../000002/", {"Account": ["../000003/", {"Personal": ["../000004/"]}]}]`,
		},
		{
			name: "after",
			run:  func(o *Order, _ *Group) error { return o.MoveAfter(ctx, "id", []string{"music"}) },
			want: `["../000001/", "../000005/", "../000002/", {"Account": ["../000003/", {"Personal": ["../000004/"]}]}]`,
		},
		{
			name: "before",
			run:  func(o *Order, _ *Group) error { return o.MoveBefore(ctx, "hobbies", []string{"music", "id"}) },
			want: `["../000005/", "../000001/", "../000002/", {"Account": ["../000003/", {"Personal": ["../000004/"]}]}]`,
		},
		{
			name: "into subgroup",
			run: func(_ *Order, root *Group) error {
				account, _ := root.Subgroup("Account")
				return account.Move(ctx, []string{"id"}, 0)
			},
			want: `["../000002/", {"Account": ["../000001/", "../000003/", {"Personal": ["../000004/"]}]}, "../000005/"]`,
		},
		{
			name: "up",
			run:  func(o *Order, _ *Group) error { return o.MoveUp(ctx, "hobbies") },
			want: `["../000002/", "../000001/", {"Account": ["../000003/", {"Personal": ["../000004/"]}]}, "../000005/"]`,
		},
		{
			name: "down",
			run:  func(o *Order, _ *Group) error { return o.MoveDown(ctx, "id") },
			want: `["../000002/", "../000001/", {"Account": ["../000003/", {"Personal": ["../000004/"]}]}, "../000005/"]`,
		},
		{
			name: "set",
			run:  func(o *Order, _ *Group) error { return o.Set(ctx, []string{"music", "Account", "hobbies", "id"}) },
			want: `["../000005/", {"Account": ["../000003/", {"Personal": ["../000004/"]}]}, "../000002/", "../000001/"]`,
		},
		{
			name: "create",
			run: func(o *Order, _ *Group) error {
				g, err := o.Create(ctx, "Extra", []string{"id", "gender"})
				if err == nil && g.Parent().Name() != rootGroup {
					return errors.New("group created outside the root")
				}
				return err
			},
			want: `["../000002/", {"Account": ["../000003/", {"Personal": []}]}, "../000005/", {"Extra": ["../000001/", "../000004/"]}]`,
		},
		{
			name: "remove",
			run: func(_ *Order, root *Group) error {
				return root.FindGroup("Personal").Remove(ctx, []string{"gender"})
			},
			want: `["../000001/", "../000002/", {"Account": ["../000003/", {"Personal": []}]}, "../000005/", "../000004/"]`,
		},
		{
			name: "delete",
			run: func(_ *Order, root *Group) error {
				return root.FindGroup("Account").Delete(ctx)
			},
			want: `["../000001/", "../000002/", "../000005/", "../000003/", {"Personal": ["../000004/"]}]`,
		},
		{
			name: "rename",
			run: func(_ *Order, root *Group) error {
				return root.FindGroup("Personal").Rename(ctx, "Private")
			},
			want: `["../000001/", "../000002/", {"Account": ["../000003/", {"Private": ["../000004/"]}]}, "../000005/"]`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := testServer(t)
			order := testDataset(t, srv).Order()
			root, err := order.Root(ctx)
			if err != nil {
				t.Fatal(err)
			}
			err = tc.run(order, root)
			if err != nil {
				t.Fatal(err)
			}
			require.JSONEq(t, `{"element": "shoji:order", "graph": `+tc.want+`}`, lastGraph(t, srv))
		})
	}
}

func TestOrderInvalidMoves(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	order := testDataset(t, srv).Order()
	root, err := order.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	personal := root.FindGroup("Personal")

	require.ErrorContains(t, personal.Move(ctx, []string{"Account"}, -1), "into itself")
	require.ErrorContains(t, root.Move(ctx, []string{"nope"}, 0), "invalid alias/group name 'nope'")
	require.ErrorContains(t, root.Move(ctx, []string{"id"}, 10), "invalid position")
	require.ErrorContains(t, root.MoveAfter(ctx, "gender", []string{"id"}), "invalid reference")
	require.Error(t, root.Set(ctx, []string{"id", "hobbies"}))
	require.Error(t, root.Set(ctx, []string{"id", "id", "Account", "music"}))
	require.Error(t, root.Rename(ctx, "x"))
	require.Error(t, root.Delete(ctx))
	require.Error(t, root.Remove(ctx, []string{"id"}))
	require.ErrorContains(t, personal.Rename(ctx, "age"), "already contains")
	_, err = root.Create(ctx, "music", nil)
	require.ErrorContains(t, err, "already exists")
	require.NoError(t, root.MoveUp(ctx, "id"))
	require.NoError(t, root.MoveDown(ctx, "music"))
	require.NoError(t, root.Set(ctx, root.Names()))

	require.Empty(t, srv.Filter(http.MethodPut))
}

func TestOrderRootCollisions(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	root, err := testDataset(t, srv).Order().Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	account := root.FindGroup("Account")

	_, err = root.Create(ctx, "Personal", nil)
	require.NoError(t, err)
	require.Len(t, srv.Filter(http.MethodPut), 1)

	require.ErrorContains(t, account.Remove(ctx, []string{"Personal"}), "already contains an element named 'Personal'")
	require.ErrorContains(t, account.Delete(ctx), "already contains an element named 'Personal'")
	require.Len(t, srv.Filter(http.MethodPut), 1)
	require.Equal(t, []string{"age", "Personal"}, account.Names())
	require.Equal(t, []string{"id", "hobbies", "Account", "music", "Personal"}, root.Names())

	require.NoError(t, account.Remove(ctx, []string{"age"}))
	require.JSONEq(t, `{"element": "shoji:order", "graph": [
		"../000001/", "../000002/", {"Account": [{"Personal": ["../000004/"]}]}, "../000005/", {"Personal": []}, "../000003/"
	]}`, lastGraph(t, srv))
}

func TestOrderUpdateFailureReloads(t *testing.T) {
	ctx := context.Background()
	srv := testServer(t)
	srv.Reply(http.MethodPut, datasetPath+"variables/hier/", shojitest.Reply{
		Status: http.StatusConflict,
		Body:   map[string]any{"message": "order changed"},
	})
	order := testDataset(t, srv).Order()

	err := order.MoveTop(ctx, "music")
	var oerr *OrderUpdateError
	require.ErrorAs(t, err, &oerr)
	require.ErrorContains(t, err, "order changed")

	root, err := order.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"id", "hobbies", "Account", "music"}, root.Names())
}

package scrunch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"scrunch/lib/shoji"
	"scrunch/lib/shoji/shojitest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFile)
	err := os.WriteFile(path, []byte(`{
		// local instance
		username: "ann@example.com",
		password: "secret",
		url: "https://local.crunch.io/api/",
	}`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"CRUNCH_USERNAME", "CRUNCH_PASSWORD", "CRUNCH_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("CRUNCH_API_KEY", "key")
	t.Setenv("CRUNCH_TIMEOUT", "30")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, Config{
		Username:       "ann@example.com",
		Password:       "secret",
		URL:            "https://local.crunch.io/api/",
		ApiKey:         "key",
		TimeoutSeconds: 30,
	}, cfg)

	cfg, err = LoadConfig(filepath.Join(dir, "missing.json5"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "key", cfg.ApiKey)
	require.Empty(t, cfg.Username)

	_, err = Connect(context.Background(), Config{Username: "ann"}, nil)
	require.ErrorIs(t, err, ErrNoCredentials)
}

func siteServer(t *testing.T) *shojitest.Server {
	t.Helper()
	srv := projectServer(t)
	srv.AddFixture("/api/datasets/", map[string]any{
		"element": "shoji:catalog",
		"index": map[string]any{
			"1/": map[string]any{"id": "1", "name": "test ds"},
			"2/": map[string]any{"id": "2", "name": "other ds"},
		},
	})
	srv.AddFixture("/api/projects/a/datasets/", map[string]any{
		"element": "shoji:catalog",
		"index":   map[string]any{srv.Abs(datasetPath): map[string]any{"id": "1", "name": "test ds"}},
	})
	srv.AddFixture("/api/users/me/", map[string]any{
		"element": "shoji:entity",
		"body":    map[string]any{"email": "me@example.com"},
	})
	srv.AddFixture("/api/users/", map[string]any{
		"element": "shoji:catalog",
		"index":   map[string]any{"me/": map[string]any{"email": "me@example.com"}},
	})
	return srv
}

func TestGetDataset(t *testing.T) {
	ctx := context.Background()
	srv := siteServer(t)
	site := NewSite(srv.Session(t))

	byName, err := site.GetDataset(ctx, "test ds", GetDatasetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, srv.Abs(datasetPath), byName.URL())

	byID, err := site.GetDataset(ctx, "1", GetDatasetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "test ds", byID.Name())

	_, err = site.GetDataset(ctx, "tst ds", GetDatasetOptions{})
	require.ErrorIs(t, err, shoji.ErrNotFound)
	require.ErrorContains(t, err, "test ds")

	inProject, err := site.GetDataset(ctx, "test ds", GetDatasetOptions{Project: "project A"})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "1", inProject.ID())

	_, err = site.GetDataset(ctx, "test ds", GetDatasetOptions{Project: "project Z"})
	require.ErrorIs(t, err, shoji.ErrNotFound)

	_, err = site.GetDataset(ctx, "test ds", GetDatasetOptions{Editor: true})
	if err != nil {
		t.Fatal(err)
	}
	require.JSONEq(t, `{"current_editor": "`+srv.Abs("/api/users/me/")+`"}`, string(srv.Last(t, http.MethodPatch).Body))
}

func TestCreateDataset(t *testing.T) {
	ctx := context.Background()
	srv := siteServer(t)
	srv.Reply(http.MethodPost, "/api/datasets/", shojitest.Reply{
		Status:   http.StatusCreated,
		Location: srv.Abs(datasetPath),
	})
	site := NewSite(srv.Session(t))

	ds, err := site.CreateDataset(ctx, "test ds", map[string]any{
		"age": map[string]any{"name": "Age", "type": "numeric"},
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "test ds", ds.Name())
	require.JSONEq(t, `{"element": "shoji:entity", "body": {
		"name": "test ds",
		"table": {"element": "crunch:table", "metadata": {"age": {"name": "Age", "type": "numeric"}}}
	}}`, string(srv.Last(t, http.MethodPost).Body))
}

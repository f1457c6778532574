package scrunch

import (
	"context"
	"scrunch/lib/shoji/shojitest"
	"testing"
)

const datasetPath = "/api/datasets/1/"

func variableEntity(srv *shojitest.Server, id, alias, name, typ string) map[string]any {
	return map[string]any{
		"element": "shoji:entity",
		"self":    srv.Abs(datasetPath + "variables/" + id + "/"),
		"body":    map[string]any{"id": id, "alias": alias, "name": name, "type": typ},
	}
}

// testServer serves a dataset with five variables, a hierarchical order
// and the usual sub resources.
func testServer(t *testing.T) *shojitest.Server {
	t.Helper()
	srv := shojitest.NewServer(t)
	srv.AddFixture("/api/", map[string]any{
		"element":  "shoji:catalog",
		"self":     srv.Abs("/api/"),
		"catalogs": map[string]any{"datasets": "datasets/", "projects": "projects/"},
		"urls":     map[string]any{"user_url": srv.Abs("/api/users/me/")},
		"index":    map[string]any{},
	})
	srv.AddFixture(datasetPath, map[string]any{
		"element": "shoji:entity",
		"self":    srv.Abs(datasetPath),
		"body": map[string]any{
			"id":                "1",
			"name":              "test ds",
			"description":       "a dataset",
			"owner":             srv.Abs("/api/users/me/"),
			"modification_time": "2026-01-01T00:00:00",
		},
		"catalogs": map[string]any{
			"variables":  "variables/",
			"savepoints": "savepoints/",
			"forks":      "forks/",
			"filters":    "filters/",
			"scripts":    "scripts/",
		},
		"fragments": map[string]any{
			"table":     "table/",
			"exclusion": "exclusion/",
			"settings":  "settings/",
		},
		"views": map[string]any{"export": "export/"},
		"urls":  map[string]any{"folders": srv.Abs(datasetPath + "folders/")},
	})
	srv.AddFixture(datasetPath+"variables/", map[string]any{
		"element": "shoji:catalog",
		"self":    srv.Abs(datasetPath + "variables/"),
		"orders":  map[string]any{"hier": "hier/"},
		"index": map[string]any{
			"000001/": map[string]any{"id": "000001", "alias": "id", "name": "ID", "type": "numeric"},
			"000002/": map[string]any{"id": "000002", "alias": "hobbies", "name": "Hobbies", "type": "text"},
			"000003/": map[string]any{"id": "000003", "alias": "age", "name": "Age", "type": "numeric"},
			"000004/": map[string]any{"id": "000004", "alias": "gender", "name": "Gender", "type": "categorical"},
			"000005/": map[string]any{"id": "000005", "alias": "music", "name": "Music", "type": "text"},
		},
	})
	srv.AddFixture(datasetPath+"variables/hier/", map[string]any{
		"element": "shoji:order",
		"self":    srv.Abs(datasetPath + "variables/hier/"),
		"graph": []any{
			"../000001/",
			"../000002/",
			map[string]any{"Account": []any{
				"../000003/",
				map[string]any{"Personal": []any{"../000004/"}},
			}},
			"../000005/",
		},
	})
	srv.AddFixture(datasetPath+"variables/000003/", variableEntity(srv, "000003", "age", "Age", "numeric"))
	gender := variableEntity(srv, "000004", "gender", "Gender", "categorical")
	gender["body"].(map[string]any)["categories"] = []any{
		map[string]any{"id": 1, "name": "Male", "missing": false, "numeric_value": 1},
		map[string]any{"id": 2, "name": "Female", "missing": false, "numeric_value": 2},
		map[string]any{"id": -1, "name": "No Data", "missing": true, "numeric_value": nil},
	}
	srv.AddFixture(datasetPath+"variables/000004/", gender)
	srv.AddFixture(datasetPath+"table/", map[string]any{
		"element": "crunch:table",
		"self":    srv.Abs(datasetPath + "table/"),
		"metadata": map[string]any{
			"000001": map[string]any{"alias": "id", "name": "ID", "type": "numeric"},
			"000003": map[string]any{"alias": "age", "name": "Age", "type": "numeric"},
			"000004": map[string]any{"alias": "gender", "name": "Gender", "type": "categorical", "categories": []any{
				map[string]any{"id": 1, "name": "Male", "missing": false, "numeric_value": 1},
				map[string]any{"id": 2, "name": "Female", "missing": false, "numeric_value": 2},
				map[string]any{"id": -1, "name": "No Data", "missing": true, "numeric_value": nil},
			}},
		},
	})
	return srv
}

func testDataset(t *testing.T, srv *shojitest.Server) *Dataset {
	t.Helper()
	doc, err := srv.Session(t).Get(context.Background(), srv.Abs(datasetPath), nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewDataset(doc, nil)
}

func varURL(srv *shojitest.Server, id string) string {
	return srv.Abs(datasetPath + "variables/" + id + "/")
}

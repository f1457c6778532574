package testutil

import (
	"database/sql"
	"fmt"
	"scrunch/lib/telemetry"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

type DBParams struct {
	Name string
	// if unspecified, the database is left empty
	Schema string
	// if unspecified, it will use `:memory:`
	Path string
}

// SetupDB opens a sqlite database for a test with telemetry configured
// for params.Name. Both are released when the test ends.
func SetupDB(t testing.TB, params DBParams) *sql.DB {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))
	t.Cleanup(cleanup)

	path := params.Path
	if path == "" {
		path = ":memory:"
	}
	database, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: gets its own database
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	if params.Schema != "" {
		_, err = database.Exec(params.Schema)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			t.Fatal(err)
		}
	}
	return database
}

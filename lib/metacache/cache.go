// Package metacache keeps a local copy of dataset table metadata keyed by
// the dataset's current version, so expressions can be processed without
// refetching the whole variable table on every call.
package metacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"scrunch/lib/metacache/db"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrunch/metacache")

type Cache struct {
	db  *sql.DB
	qry *db.Queries
}

// Open opens the cache at dsn. A libsql:// dsn connects to a remote
// libsql server, ":memory:" keeps everything in process and anything else
// is the path of a local sqlite file, created if it does not exist.
func Open(dsn string) (Cache, error) {
	database, err := openDB(dsn)
	if err != nil {
		return Cache{}, err
	}
	cache, err := New(database)
	if err != nil {
		database.Close()
		return Cache{}, err
	}
	return cache, nil
}

func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		return sql.Open("libsql", dsn)
	}

	if dsn != ":memory:" {
		_, statErr := os.Stat(dsn)
		if os.IsNotExist(statErr) {
			f, err := os.Create(dsn)
			if err != nil {
				return nil, err
			}
			f.Close()
		}
	}

	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)
	if dsn != ":memory:" {
		_, err = database.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			database.Close()
			return nil, err
		}
	}
	return database, nil
}

// New wraps an already opened database, creating the cache table if
// needed.
func New(database *sql.DB) (Cache, error) {
	_, err := database.Exec(db.Schema)
	if err != nil {
		return Cache{}, fmt.Errorf("create metadata cache schema: %w", err)
	}
	return Cache{
		db:  database,
		qry: db.New(database),
	}, nil
}

// Get returns the cached metadata of datasetURL. It misses when nothing
// is cached or the cached copy was taken at a different version.
func (c Cache) Get(ctx context.Context, datasetURL, version string) (map[string]json.RawMessage, bool, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset", datasetURL),
		attribute.String("version", version),
	)

	row, err := c.qry.GetTableMetadata(ctx, datasetURL)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cached metadata")
		return nil, false, err
	}
	if row.Version != version {
		slog.DebugContext(ctx, "stale table metadata", "dataset", datasetURL, "cached", row.Version, "current", version)
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, false, nil
	}

	var metadata map[string]json.RawMessage
	err = json.Unmarshal([]byte(row.Metadata), &metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode cached metadata")
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("hit", true))
	return metadata, true, nil
}

func (c Cache) Put(ctx context.Context, datasetURL, version string, metadata map[string]json.RawMessage) error {
	ctx, span := tracer.Start(ctx, "Put")
	defer span.End()
	span.SetAttributes(
		attribute.String("dataset", datasetURL),
		attribute.String("version", version),
		attribute.Int("variables", len(metadata)),
	)

	encoded, err := json.Marshal(metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode metadata")
		return err
	}
	err = c.qry.PutTableMetadata(ctx, db.PutTableMetadataParams{
		DatasetUrl: datasetURL,
		Version:    version,
		Metadata:   string(encoded),
		FetchedAt:  time.Now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write metadata")
		return err
	}
	return nil
}

func (c Cache) Invalidate(ctx context.Context, datasetURL string) error {
	ctx, span := tracer.Start(ctx, "Invalidate")
	defer span.End()
	err := c.qry.DeleteTableMetadata(ctx, datasetURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to invalidate metadata")
	}
	return err
}

// Len returns the number of cached datasets.
func (c Cache) Len(ctx context.Context) (int, error) {
	count, err := c.qry.CountTableMetadata(ctx)
	return int(count), err
}

func (c Cache) Close() error {
	return c.db.Close()
}

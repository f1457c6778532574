// Package scrunch wraps datasets, variables, projects and folders of a
// Crunch style Shoji API with higher level operations.
package scrunch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"scrunch/lib/configutil"
	"scrunch/lib/expressions"
	"scrunch/lib/restyutil"
	"scrunch/lib/shoji"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrunch/scrunch")

const ConfigFile = "crunch.json5"

type Config struct {
	Username string `json:"username" env:"CRUNCH_USERNAME"`
	Password string `json:"password" env:"CRUNCH_PASSWORD"`
	URL      string `json:"url" env:"CRUNCH_URL"`
	ApiKey   string `json:"api_key" env:"CRUNCH_API_KEY"`
	// TimeoutSeconds bounds every request, 0 uses the session default.
	TimeoutSeconds int `json:"timeout_seconds" env:"CRUNCH_TIMEOUT"`
}

// LoadConfig reads path, or the closest crunch.json5 up the directory
// tree when path is empty, and applies the CRUNCH_* environment
// variables on top. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	var config Config
	var err error
	if path == "" {
		config, err = configutil.ReadRecursively[Config](ConfigFile)
	} else {
		config, err = configutil.ReadConfig[Config](path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file found, using the environment", "path", path)
	}
	err = configutil.ApplyEnv(&config)
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

// MetadataCache stores dataset table metadata between runs.
type MetadataCache interface {
	Get(ctx context.Context, datasetURL, version string) (map[string]json.RawMessage, bool, error)
	Put(ctx context.Context, datasetURL, version string, metadata map[string]json.RawMessage) error
}

type Site struct {
	session *shoji.Session
	cache   MetadataCache
	root    *shoji.Document
}

// Connect logs in with cfg. output may be nil.
func Connect(ctx context.Context, cfg Config, output restyutil.InstrumentOutput) (*Site, error) {
	if cfg.ApiKey == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, ErrNoCredentials
	}
	session, err := shoji.NewSession(ctx, shoji.SessionOptions{
		BaseUrl:  cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		ApiKey:   cfg.ApiKey,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		Output:   output,
	})
	if err != nil {
		return nil, err
	}
	return NewSite(session), nil
}

func NewSite(session *shoji.Session) *Site {
	return &Site{session: session}
}

func (s *Site) Session() *shoji.Session {
	return s.session
}

// SetCache makes datasets fetched through this site read their variable
// table through cache.
func (s *Site) SetCache(cache MetadataCache) {
	s.cache = cache
}

func (s *Site) Root(ctx context.Context) (*shoji.Document, error) {
	if s.root != nil {
		return s.root, nil
	}
	root, err := s.session.Get(ctx, s.session.Root.String(), nil)
	if err != nil {
		return nil, err
	}
	s.root = root
	return root, nil
}

func (s *Site) catalog(ctx context.Context, name string) (*shoji.Document, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Follow(ctx, name, nil)
}

// lookup finds an entry of catalog by name first and by id second.
func lookup(catalog *shoji.Document, nameOrID string) (shoji.Entry, bool) {
	if e, ok := catalog.By("name")[nameOrID]; ok {
		return e, true
	}
	e, ok := catalog.ByID()[nameOrID]
	return e, ok
}

func notFound(kind, nameOrID string, catalog *shoji.Document) error {
	names := make([]string, 0, len(catalog.Index))
	for _, e := range catalog.Entries() {
		names = append(names, e.Tuple.String("name"))
	}
	if suggestion := expressions.Closest(nameOrID, names); suggestion != "" {
		return fmt.Errorf("%w: %s (name or id: %s), did you mean '%s'?", shoji.ErrNotFound, kind, nameOrID, suggestion)
	}
	return fmt.Errorf("%w: %s (name or id: %s)", shoji.ErrNotFound, kind, nameOrID)
}

type GetDatasetOptions struct {
	// Project looks the dataset up in a project's datasets instead of the
	// user's.
	Project string
	// Editor makes the current user the dataset's editor.
	Editor bool
}

func (s *Site) GetDataset(ctx context.Context, nameOrID string, opts GetDatasetOptions) (*Dataset, error) {
	ctx, span := tracer.Start(ctx, "site:get_dataset")
	defer span.End()
	span.SetAttributes(attribute.String("custom.dataset", nameOrID))

	var datasets *shoji.Document
	var err error
	if opts.Project != "" {
		var project *Project
		project, err = s.GetProject(ctx, opts.Project)
		if err != nil {
			span.SetStatus(codes.Error, "failed to get project")
			return nil, err
		}
		datasets, err = project.doc.Follow(ctx, "datasets", nil)
	} else {
		datasets, err = s.catalog(ctx, "datasets")
	}
	if err != nil {
		span.SetStatus(codes.Error, "failed to get datasets catalog")
		return nil, err
	}

	entry, ok := lookup(datasets, nameOrID)
	if !ok {
		span.SetStatus(codes.Error, "dataset not found")
		return nil, notFound("dataset", nameOrID, datasets)
	}
	doc, err := entry.Entity(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to get dataset")
		return nil, err
	}
	ds := s.dataset(doc)

	if opts.Editor {
		email, err := s.currentEmail(ctx)
		if err != nil {
			return nil, err
		}
		err = ds.ChangeEditor(ctx, email)
		if err != nil {
			span.SetStatus(codes.Error, "failed to change editor")
			return nil, err
		}
	}
	return ds, nil
}

func (s *Site) dataset(doc *shoji.Document) *Dataset {
	return &Dataset{doc: doc, cache: s.cache}
}

func (s *Site) currentEmail(ctx context.Context) (string, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return "", err
	}
	user, err := root.Follow(ctx, "user_url", nil)
	if err != nil {
		return "", err
	}
	email := user.Body.String("email")
	if email == "" {
		return "", fmt.Errorf("current user %s has no email", user.Self)
	}
	return email, nil
}

func (s *Site) GetProject(ctx context.Context, nameOrID string) (*Project, error) {
	projects, err := s.catalog(ctx, "projects")
	if err != nil {
		return nil, err
	}
	entry, ok := lookup(projects, nameOrID)
	if !ok {
		return nil, notFound("project", nameOrID, projects)
	}
	doc, err := entry.Entity(ctx)
	if err != nil {
		return nil, err
	}
	return NewProject(doc, s), nil
}

// CreateDataset creates a dataset from crunch:table variable metadata.
func (s *Site) CreateDataset(ctx context.Context, name string, variables map[string]any) (*Dataset, error) {
	ctx, span := tracer.Start(ctx, "site:create_dataset")
	defer span.End()

	datasets, err := s.catalog(ctx, "datasets")
	if err != nil {
		span.SetStatus(codes.Error, "failed to get datasets catalog")
		return nil, err
	}
	doc, err := datasets.Create(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body": map[string]any{
			"name": name,
			"table": map[string]any{
				"element":  shoji.ElementTable,
				"metadata": variables,
			},
		},
	})
	if err != nil {
		span.SetStatus(codes.Error, "failed to create dataset")
		return nil, err
	}
	slog.InfoContext(ctx, "created dataset", "name", name, "url", doc.Self)
	return s.dataset(doc), nil
}

// DatasetByURL wraps the dataset entity at target.
func (s *Site) DatasetByURL(ctx context.Context, target string) (*Dataset, error) {
	doc, err := s.session.Get(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return s.dataset(doc), nil
}

func tableParams() url.Values {
	return url.Values{"limit": []string{"0"}}
}

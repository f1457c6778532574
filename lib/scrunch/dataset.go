package scrunch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"scrunch/lib/expressions"
	"scrunch/lib/shoji"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var datasetMutable = []string{"name", "notes", "description", "is_published", "archived", "end_date", "start_date"}

type Dataset struct {
	doc   *shoji.Document
	cache MetadataCache

	table     *expressions.VariableTable
	variables *shoji.Document
	order     *Order
	folders   *Folders
}

// NewDataset wraps a dataset entity. cache may be nil.
func NewDataset(doc *shoji.Document, cache MetadataCache) *Dataset {
	return &Dataset{doc: doc, cache: cache}
}

func (d *Dataset) Document() *shoji.Document {
	return d.doc
}

func (d *Dataset) URL() string {
	return d.doc.Self
}

func (d *Dataset) ID() string {
	if id := d.doc.Body.String("id"); id != "" {
		return id
	}
	return shoji.LastSegment(d.doc.Self)
}

func (d *Dataset) Name() string             { return d.doc.Body.String("name") }
func (d *Dataset) Description() string      { return d.doc.Body.String("description") }
func (d *Dataset) Notes() string            { return d.doc.Body.String("notes") }
func (d *Dataset) IsPublished() bool        { return d.doc.Body.Bool("is_published") }
func (d *Dataset) Archived() bool           { return d.doc.Body.Bool("archived") }
func (d *Dataset) Owner() string            { return d.doc.Body.String("owner") }
func (d *Dataset) CreationTime() string     { return d.doc.Body.String("creation_time") }
func (d *Dataset) ModificationTime() string { return d.doc.Body.String("modification_time") }

func (d *Dataset) Refresh(ctx context.Context) error {
	d.invalidate()
	return d.doc.Refresh(ctx)
}

func (d *Dataset) invalidate() {
	d.table = nil
	d.variables = nil
	d.order = nil
}

// Edit changes mutable dataset attributes.
func (d *Dataset) Edit(ctx context.Context, attrs map[string]any) error {
	for key := range attrs {
		if !slices.Contains(datasetMutable, key) {
			return fmt.Errorf("can't edit attribute %s of dataset %s", key, d.Name())
		}
	}
	return d.doc.Edit(ctx, attrs)
}

func (d *Dataset) Rename(ctx context.Context, name string) error {
	return d.Edit(ctx, map[string]any{"name": name})
}

func (d *Dataset) variablesCatalog(ctx context.Context) (*shoji.Document, error) {
	if d.variables != nil {
		return d.variables, nil
	}
	catalog, err := d.doc.Follow(ctx, "variables", nil)
	if err != nil {
		return nil, err
	}
	d.variables = catalog
	return catalog, nil
}

func (d *Dataset) Variable(ctx context.Context, alias string) (*Variable, error) {
	catalog, err := d.variablesCatalog(ctx)
	if err != nil {
		return nil, err
	}
	byAlias := catalog.By("alias")
	entry, ok := byAlias[alias]
	if !ok {
		aliases := make([]string, 0, len(byAlias))
		for a := range byAlias {
			aliases = append(aliases, a)
		}
		if suggestion := expressions.Closest(alias, aliases); suggestion != "" {
			return nil, fmt.Errorf("%w: dataset %s has no variable %s, did you mean '%s'?", shoji.ErrNotFound, d.Name(), alias, suggestion)
		}
		return nil, fmt.Errorf("%w: dataset %s has no variable %s", shoji.ErrNotFound, d.Name(), alias)
	}
	doc, err := entry.Entity(ctx)
	if err != nil {
		return nil, err
	}
	return &Variable{doc: doc, dataset: d}, nil
}

// Table returns the dataset's variable table, read through the metadata
// cache when one is configured.
func (d *Dataset) Table(ctx context.Context) (expressions.VariableTable, error) {
	if d.table != nil {
		return *d.table, nil
	}

	ctx, span := tracer.Start(ctx, "dataset:table")
	defer span.End()
	span.SetAttributes(attribute.String("custom.dataset", d.URL()))

	version := d.ModificationTime()
	var metadata map[string]json.RawMessage
	hit := false
	if d.cache != nil && version != "" {
		var err error
		metadata, hit, err = d.cache.Get(ctx, d.URL(), version)
		if err != nil {
			slog.WarnContext(ctx, "failed to read metadata cache", "dataset", d.URL(), "err", err)
		}
	}
	span.SetAttributes(attribute.Bool("custom.cache_hit", hit))

	if !hit {
		link, ok := d.doc.Link("table")
		if !ok {
			span.SetStatus(codes.Error, "dataset has no table")
			return expressions.VariableTable{}, fmt.Errorf("%w: dataset %s has no table", shoji.ErrNotFound, d.URL())
		}
		table, err := d.doc.Session().Get(ctx, link, tableParams())
		if err != nil {
			span.SetStatus(codes.Error, "failed to fetch table")
			return expressions.VariableTable{}, err
		}
		metadata = table.Metadata
		if d.cache != nil && version != "" {
			err = d.cache.Put(ctx, d.URL(), version, metadata)
			if err != nil {
				slog.WarnContext(ctx, "failed to write metadata cache", "dataset", d.URL(), "err", err)
			}
		}
	}

	table, err := expressions.NewVariableTable(metadata)
	if err != nil {
		span.SetStatus(codes.Error, "invalid table metadata")
		return expressions.VariableTable{}, err
	}
	d.table = &table
	return table, nil
}

// ProcessExpr parses src and resolves its aliases against this dataset.
func (d *Dataset) ProcessExpr(ctx context.Context, src string) (expressions.Expr, error) {
	parsed, err := expressions.Parse(src)
	if err != nil {
		return expressions.Expr{}, err
	}
	table, err := d.Table(ctx)
	if err != nil {
		return expressions.Expr{}, err
	}
	return expressions.Process(parsed, d.URL(), table)
}

func (d *Dataset) processAll(ctx context.Context, sources []string) ([]expressions.Expr, error) {
	parsed := make([]expressions.Expr, len(sources))
	for i, src := range sources {
		e, err := expressions.Parse(src)
		if err != nil {
			return nil, err
		}
		parsed[i] = e
	}
	table, err := d.Table(ctx)
	if err != nil {
		return nil, err
	}
	return expressions.ProcessAll(parsed, d.URL(), table)
}

// AliasForURL resolves a variable url of this dataset to its alias.
func (d *Dataset) AliasForURL(ctx context.Context, ref string) (string, error) {
	table, err := d.Table(ctx)
	if err != nil {
		return "", err
	}
	return table.AliasForURL(ctx, ref)
}

func (d *Dataset) Prettify(ctx context.Context, e expressions.Expr) (string, error) {
	return expressions.Prettify(ctx, e, d)
}

// Exclude sets the exclusion filter of the dataset. An empty expression
// removes it.
func (d *Dataset) Exclude(ctx context.Context, src string) error {
	e := expressions.Expr{}
	if strings.TrimSpace(src) != "" {
		var err error
		e, err = d.ProcessExpr(ctx, src)
		if err != nil {
			return err
		}
	}
	return d.ExcludeExpr(ctx, e)
}

func (d *Dataset) ExcludeExpr(ctx context.Context, e expressions.Expr) error {
	link, ok := d.doc.Link("exclusion")
	if !ok {
		return fmt.Errorf("%w: dataset %s has no exclusion", shoji.ErrNotFound, d.URL())
	}
	_, err := d.doc.Session().Patch(ctx, link, map[string]any{"expression": e})
	return err
}

// Exclusion returns the current exclusion filter, empty when there is
// none.
func (d *Dataset) Exclusion(ctx context.Context) (expressions.Expr, error) {
	doc, err := d.doc.Follow(ctx, "exclusion", nil)
	if err != nil {
		return expressions.Expr{}, err
	}
	var out expressions.Expr
	err = decodeBody(doc.Body, "expression", &out)
	return out, err
}

func decodeBody(body shoji.Body, key string, out any) error {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil
	}
	serialized, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(serialized, out)
}

// AddFilter creates a saved filter named name.
func (d *Dataset) AddFilter(ctx context.Context, name, src string, public bool) (*shoji.Document, error) {
	e, err := d.ProcessExpr(ctx, src)
	if err != nil {
		return nil, err
	}
	filters, err := d.doc.Follow(ctx, "filters", nil)
	if err != nil {
		return nil, err
	}
	return filters.Create(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body": map[string]any{
			"name":       name,
			"expression": e,
			"is_public":  public,
		},
	})
}

// ChangeEditor makes user, an email or a user url, the current editor.
func (d *Dataset) ChangeEditor(ctx context.Context, user string) error {
	ctx, span := tracer.Start(ctx, "dataset:change_editor")
	defer span.End()

	userURL := user
	if !strings.HasPrefix(user, "https://") && !strings.HasPrefix(user, "http://") {
		session := d.doc.Session()
		users, err := session.Get(ctx, session.Resolve("users/"), nil)
		if err != nil {
			span.SetStatus(codes.Error, "failed to list users")
			return err
		}
		userURL = ""
		for _, e := range users.Entries() {
			if e.Tuple.String("email") == user {
				userURL = e.URL
				break
			}
		}
		if userURL == "" {
			span.SetStatus(codes.Error, "unknown user")
			return fmt.Errorf("%w: unable to resolve user url of %s", shoji.ErrNotFound, user)
		}
	}

	_, err := d.doc.Patch(ctx, map[string]any{"current_editor": userURL})
	if err != nil {
		span.SetStatus(codes.Error, "failed to change editor")
		return err
	}
	if d.doc.Body == nil {
		d.doc.Body = shoji.Body{}
	}
	d.doc.Body["current_editor"] = userURL
	return nil
}

// Settings returns the dataset's settings.
func (d *Dataset) Settings(ctx context.Context) (shoji.Body, error) {
	settings, err := d.doc.Follow(ctx, "settings", nil)
	if err != nil {
		return nil, err
	}
	return settings.Body, nil
}

func (d *Dataset) EditSettings(ctx context.Context, attrs map[string]any) error {
	settings, err := d.doc.Follow(ctx, "settings", nil)
	if err != nil {
		return err
	}
	return settings.Edit(ctx, attrs)
}

func (d *Dataset) Scripts() *Scripts {
	return &Scripts{dataset: d.doc}
}

// Order returns the hierarchical order of the dataset's variables.
func (d *Dataset) Order() *Order {
	if d.order == nil {
		d.order = newOrder(variablesOrder{dataset: d}, d)
	}
	return d.order
}

func (d *Dataset) Folders() *Folders {
	if d.folders == nil {
		d.folders = &Folders{dataset: d}
	}
	return d.folders
}

package scrunch

import (
	"context"
	"fmt"
	"log/slog"
	"scrunch/lib/shoji"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	typeProject = "project"
	typeDataset = "dataset"

	legacyProjectsOrderFlag = "old_projects_order"
)

type Project struct {
	doc    *shoji.Document
	site   *Site
	legacy *Order
}

func NewProject(doc *shoji.Document, site *Site) *Project {
	return &Project{doc: doc, site: site}
}

func (p *Project) Document() *shoji.Document {
	return p.doc
}

func (p *Project) URL() string {
	return p.doc.Self
}

func (p *Project) Name() string {
	return p.doc.Body.String("name")
}

func (p *Project) Description() string {
	return p.doc.Body.String("description")
}

// IsRoot reports whether the project sits directly in the projects
// catalog.
func (p *Project) IsRoot() bool {
	link, ok := p.doc.Link("project")
	return ok && strings.HasSuffix(link, "/projects/")
}

func (p *Project) Refresh(ctx context.Context) error {
	return p.doc.Refresh(ctx)
}

func (p *Project) Rename(ctx context.Context, name string) error {
	return p.doc.Edit(ctx, map[string]any{"name": name})
}

func (p *Project) child(doc *shoji.Document) *Project {
	return &Project{doc: doc, site: p.site}
}

// CreateProject creates a subproject.
func (p *Project) CreateProject(ctx context.Context, name string) (*Project, error) {
	ctx, span := tracer.Start(ctx, "project:create")
	defer span.End()
	span.SetAttributes(attribute.String("custom.name", name))

	doc, err := p.doc.Create(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body":    map[string]any{"name": name},
	})
	if err != nil {
		span.SetStatus(codes.Error, "failed to create project")
		return nil, err
	}
	err = p.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return p.child(doc), nil
}

func childNames(doc *shoji.Document) map[string]string {
	out := make(map[string]string, len(doc.Index))
	for _, e := range doc.Entries() {
		out[e.URL] = e.Tuple.String("name")
	}
	return out
}

func childEntry(doc *shoji.Document, name string) (shoji.Entry, bool) {
	for _, e := range doc.Entries() {
		if e.Tuple.String("name") == name {
			return e, true
		}
	}
	return shoji.Entry{}, false
}

// Get follows a path of project names such as "| project B | project D"
// below the project.
func (p *Project) Get(ctx context.Context, path string) (*Project, error) {
	current := p
	for _, name := range splitPath(path) {
		entry, ok := childEntry(current.doc, name)
		if !ok || entry.Tuple.String("type") != typeProject {
			return nil, &InvalidPathError{Path: path}
		}
		doc, err := entry.Entity(ctx)
		if err != nil {
			return nil, err
		}
		current = current.child(doc)
	}
	return current, nil
}

// Children returns the subprojects and datasets of the project in order.
func (p *Project) Children(ctx context.Context) ([]Item, error) {
	byURL := map[string]shoji.Entry{}
	for _, e := range p.doc.Entries() {
		byURL[e.URL] = e
	}
	var out []Item
	for _, u := range p.doc.GraphURLs() {
		entry, ok := byURL[u]
		if !ok {
			continue
		}
		switch entry.Tuple.String("type") {
		case typeProject:
			doc, err := entry.Entity(ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, p.child(doc))
		case typeDataset:
			doc, err := entry.Entity(ctx)
			if err != nil {
				return nil, err
			}
			var cache MetadataCache
			if p.site != nil {
				cache = p.site.cache
			}
			out = append(out, NewDataset(doc, cache))
		default:
			slog.DebugContext(ctx, "skipping project child", "url", u, "type", entry.Tuple.String("type"))
		}
	}
	return out, nil
}

func (p *Project) patchGraph(ctx context.Context, index map[string]any, graph []string) error {
	_, err := p.doc.Patch(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body":    map[string]any{},
		"index":   index,
		"graph":   graph,
	})
	if err != nil {
		return err
	}
	return p.doc.Refresh(ctx)
}

// MoveHere moves projects or datasets into the project at placement.
func (p *Project) MoveHere(ctx context.Context, items []Item, placement Placement) error {
	ctx, span := tracer.Start(ctx, "project:move_here")
	defer span.End()

	moved := itemURLs(items)
	graph, err := place(p.doc.GraphURLs(), moved, childNames(p.doc), placement)
	if err != nil {
		span.SetStatus(codes.Error, "invalid placement")
		return err
	}
	index := make(map[string]any, len(moved))
	for _, u := range moved {
		index[u] = map[string]any{}
	}
	err = p.patchGraph(ctx, index, graph)
	if err != nil {
		span.SetStatus(codes.Error, "failed to move items")
	}
	return err
}

// Place moves item into the project found at path below this one.
func (p *Project) Place(ctx context.Context, item Item, path string, placement Placement) error {
	target, err := p.Get(ctx, path)
	if err != nil {
		return err
	}
	return target.MoveHere(ctx, []Item{item}, placement)
}

// Reorder sets the order of the project's children by name.
func (p *Project) Reorder(ctx context.Context, names []string) error {
	graph := make([]string, 0, len(names))
	for _, name := range names {
		entry, ok := childEntry(p.doc, name)
		if !ok {
			return fmt.Errorf("%w: project %s has no child %s", shoji.ErrNotFound, p.Name(), name)
		}
		graph = append(graph, entry.URL)
	}
	return p.patchGraph(ctx, map[string]any{}, graph)
}

// datasetsOrder is the legacy order of a project's datasets, keyed by
// dataset name.
type datasetsOrder struct {
	project *Project
}

func (o datasetsOrder) load(ctx context.Context) (*shoji.Document, map[string]shoji.Entry, error) {
	datasets, err := o.project.doc.Follow(ctx, "datasets", nil)
	if err != nil {
		return nil, nil, err
	}
	order, err := datasets.Follow(ctx, "order", nil)
	if err != nil {
		return nil, nil, err
	}
	return order, datasets.ByID(), nil
}

func (datasetsOrder) key(e shoji.Entry) string {
	return e.Tuple.String("name")
}

func (datasetsOrder) ref(_ string, e shoji.Entry) string {
	return e.URL
}

// NewProjectDatasetsOrder arranges the datasets of a project in groups
// through the project's datasets order.
func NewProjectDatasetsOrder(p *Project) *Order {
	return newOrder(datasetsOrder{project: p}, nil)
}

// UsesLegacyOrder reports whether the server still orders projects
// through their datasets order instead of nesting.
func (p *Project) UsesLegacyOrder(ctx context.Context) bool {
	return p.doc.Session().Flag(ctx, legacyProjectsOrderFlag)
}

func (p *Project) LegacyOrder() *Order {
	if p.legacy == nil {
		p.legacy = NewProjectDatasetsOrder(p)
	}
	return p.legacy
}

// ProjectOrder is how the content of a project is ordered. Exactly one
// of Legacy and Nested is set.
type ProjectOrder struct {
	// Legacy groups the project's datasets, on servers still flagged
	// with old_projects_order.
	Legacy *Order
	// Nested is the project itself, ordered through its graph.
	Nested *Project
}

// Order picks the ordering the server uses for this project.
func (p *Project) Order(ctx context.Context) ProjectOrder {
	if p.UsesLegacyOrder(ctx) {
		return ProjectOrder{Legacy: p.LegacyOrder()}
	}
	return ProjectOrder{Nested: p}
}

package scrunch

import (
	"context"
	"errors"
	"fmt"
	"scrunch/lib/shoji"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const typeFolder = "folder"

// Folders is the folder tree of a dataset's variables.
type Folders struct {
	dataset *Dataset
	root    *Folder
}

// Root returns the top level folder, fetching it on first use.
func (f *Folders) Root(ctx context.Context) (*Folder, error) {
	if f.root != nil {
		return f.root, nil
	}
	doc, err := f.dataset.doc.Follow(ctx, "folders", nil)
	if err != nil {
		return nil, err
	}
	f.root = &Folder{doc: doc, folders: f}
	return f.root, nil
}

// Get resolves a path such as "| Demographics | Age" to a folder or a
// variable.
func (f *Folders) Get(ctx context.Context, path string) (Item, error) {
	root, err := f.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Get(ctx, path)
}

func (f *Folders) Folder(ctx context.Context, path string) (*Folder, error) {
	root, err := f.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Folder(ctx, path)
}

type Folder struct {
	doc     *shoji.Document
	folders *Folders
	parent  *Folder
}

func (f *Folder) Document() *shoji.Document {
	return f.doc
}

func (f *Folder) URL() string {
	return f.doc.Self
}

func (f *Folder) Name() string {
	return f.doc.Body.String("name")
}

func (f *Folder) Parent() *Folder {
	return f.parent
}

func (f *Folder) IsRoot() bool {
	return f.parent == nil
}

func (f *Folder) Path() string {
	switch {
	case f.parent == nil:
		return "|"
	case f.parent.parent == nil:
		return "| " + f.Name()
	default:
		return f.parent.Path() + " | " + f.Name()
	}
}

func (f *Folder) item(ctx context.Context, entry shoji.Entry) (Item, error) {
	doc, err := entry.Entity(ctx)
	if err != nil {
		return nil, err
	}
	if entry.Tuple.String("type") == typeFolder {
		return &Folder{doc: doc, folders: f.folders, parent: f}, nil
	}
	return &Variable{doc: doc, dataset: f.folders.dataset}, nil
}

// GetChild returns the direct child named name.
func (f *Folder) GetChild(ctx context.Context, name string) (Item, error) {
	entry, ok := childEntry(f.doc, name)
	if !ok {
		return nil, fmt.Errorf("%w: folder %s has no child %s", shoji.ErrNotFound, f.Path(), name)
	}
	return f.item(ctx, entry)
}

// Get resolves a path relative to the folder. An empty path is the folder
// itself.
func (f *Folder) Get(ctx context.Context, path string) (Item, error) {
	names := splitPath(path)
	var current Item = f
	for _, name := range names {
		folder, ok := current.(*Folder)
		if !ok {
			return nil, &InvalidPathError{Path: path}
		}
		child, err := folder.GetChild(ctx, name)
		if errors.Is(err, shoji.ErrNotFound) {
			return nil, &InvalidPathError{Path: path}
		}
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

func (f *Folder) Folder(ctx context.Context, path string) (*Folder, error) {
	item, err := f.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	folder, ok := item.(*Folder)
	if !ok {
		return nil, &InvalidPathError{Path: path}
	}
	return folder, nil
}

// Children returns subfolders and variables in display order.
func (f *Folder) Children(ctx context.Context) ([]Item, error) {
	byURL := map[string]shoji.Entry{}
	for _, e := range f.doc.Entries() {
		byURL[e.URL] = e
	}
	var out []Item
	for _, u := range f.doc.GraphURLs() {
		entry, ok := byURL[u]
		if !ok {
			continue
		}
		item, err := f.item(ctx, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// MakeSubfolder creates a folder inside f, at the end unless placement
// says otherwise.
func (f *Folder) MakeSubfolder(ctx context.Context, name string, placement Placement) (*Folder, error) {
	ctx, span := tracer.Start(ctx, "folder:make_subfolder")
	defer span.End()
	span.SetAttributes(attribute.String("custom.name", name))

	doc, err := f.doc.Create(ctx, map[string]any{
		"element": shoji.ElementCatalog,
		"body":    map[string]any{"name": name},
	})
	if err != nil {
		span.SetStatus(codes.Error, "failed to create folder")
		return nil, err
	}
	sub := &Folder{doc: doc, folders: f.folders, parent: f}
	if placement.isEnd() {
		return sub, f.doc.Refresh(ctx)
	}
	return sub, f.MoveHere(ctx, []Item{sub}, placement)
}

func (f *Folder) patchGraph(ctx context.Context, index map[string]any, graph []string) error {
	payload := map[string]any{
		"element": shoji.ElementCatalog,
		"graph":   graph,
	}
	if index != nil {
		payload["index"] = index
	}
	_, err := f.doc.Patch(ctx, payload)
	if err != nil {
		return err
	}
	return f.doc.Refresh(ctx)
}

// MoveHere moves folders or variables into f at placement.
func (f *Folder) MoveHere(ctx context.Context, items []Item, placement Placement) error {
	ctx, span := tracer.Start(ctx, "folder:move_here")
	defer span.End()

	moved := itemURLs(items)
	graph, err := place(f.doc.GraphURLs(), moved, childNames(f.doc), placement)
	if err != nil {
		span.SetStatus(codes.Error, "invalid placement")
		return err
	}
	index := make(map[string]any, len(moved))
	for _, u := range moved {
		index[u] = map[string]any{}
	}
	err = f.patchGraph(ctx, index, graph)
	if err != nil {
		span.SetStatus(codes.Error, "failed to move items")
		return err
	}
	for _, item := range items {
		if sub, ok := item.(*Folder); ok {
			sub.parent = f
		}
	}
	return nil
}

// Reorder sets the order of the folder's children. items must be the
// current children.
func (f *Folder) Reorder(ctx context.Context, items []Item) error {
	graph := itemURLs(items)
	current := f.doc.GraphURLs()
	if len(graph) != len(current) {
		return fmt.Errorf("reorder of %s needs all %d children, got %d", f.Path(), len(current), len(graph))
	}
	for _, u := range graph {
		if !slices.Contains(current, u) {
			return fmt.Errorf("reorder of %s got %s, which is not one of its children", f.Path(), u)
		}
	}
	return f.patchGraph(ctx, nil, graph)
}

func (f *Folder) Rename(ctx context.Context, name string) error {
	if f.IsRoot() {
		return fmt.Errorf("can't rename the root folder")
	}
	_, err := f.doc.Patch(ctx, map[string]any{
		"element": shoji.ElementCatalog,
		"body":    map[string]any{"name": name},
	})
	if err != nil {
		return err
	}
	if f.doc.Body == nil {
		f.doc.Body = shoji.Body{}
	}
	f.doc.Body["name"] = name
	return nil
}

// Delete removes the folder. Its variables go back to the root.
func (f *Folder) Delete(ctx context.Context) error {
	if f.IsRoot() {
		return fmt.Errorf("can't delete the root folder")
	}
	err := f.doc.Delete(ctx)
	if err != nil {
		return err
	}
	return f.parent.doc.Refresh(ctx)
}

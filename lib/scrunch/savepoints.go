package scrunch

import (
	"context"
	"fmt"
	"scrunch/lib/shoji"
	"slices"
)

const initialSavepoint = "initial import"

func (d *Dataset) savepoints(ctx context.Context) (*shoji.Document, error) {
	return d.doc.Follow(ctx, "savepoints", nil)
}

// CreateSavepoint saves the current state of the dataset. Descriptions
// must be unique.
func (d *Dataset) CreateSavepoint(ctx context.Context, description string) error {
	savepoints, err := d.savepoints(ctx)
	if err != nil {
		return err
	}
	if _, exists := savepoints.By("description")[description]; exists {
		return fmt.Errorf("a checkpoint with the description '%s' already exists", description)
	}
	_, err = savepoints.Post(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body":    map[string]any{"description": description},
	})
	return err
}

// LoadSavepoint reverts the dataset to the savepoint with the given
// description, "initial import" when empty. Later savepoints are lost.
func (d *Dataset) LoadSavepoint(ctx context.Context, description string) error {
	if description == "" {
		description = initialSavepoint
	}
	savepoints, err := d.savepoints(ctx)
	if err != nil {
		return err
	}
	entry, ok := savepoints.By("description")[description]
	if !ok {
		return fmt.Errorf("%w: no checkpoint with the description '%s' exists", shoji.ErrNotFound, description)
	}
	revert := entry.Tuple.String("revert")
	if revert == "" {
		return fmt.Errorf("savepoint %s has no revert url", entry.URL)
	}
	_, err = d.doc.Session().Post(ctx, revert, nil)
	if err != nil {
		return err
	}
	d.invalidate()
	return nil
}

// SavepointAttributes lists attr of every savepoint, ordered by url.
// Available attributes include creation_time, description, last_update,
// revert, user_name and version.
func (d *Dataset) SavepointAttributes(ctx context.Context, attr string) ([]any, error) {
	savepoints, err := d.savepoints(ctx)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for _, e := range savepoints.Entries() {
		out = append(out, e.Tuple[attr])
	}
	return out, nil
}

// SavepointDescriptions is SavepointAttributes for descriptions.
func (d *Dataset) SavepointDescriptions(ctx context.Context) ([]string, error) {
	attrs, err := d.SavepointAttributes(ctx, "description")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if s, ok := a.(string); ok {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out, nil
}

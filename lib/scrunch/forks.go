package scrunch

import (
	"context"
	"fmt"
	"log/slog"
	"scrunch/lib/shoji"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ForkOptions struct {
	// Name defaults to "FORK #<n> of <dataset name>".
	Name string
	// Description defaults to the parent's description.
	Description string
	IsPublished bool
	// PreserveOwner gives the fork the owner of its parent. Forks of
	// datasets owned by a project always keep the project.
	PreserveOwner bool
	// Extra attributes for the fork's body.
	Extra map[string]any
}

// Fork creates a fork of the dataset and saves an "initial fork"
// savepoint on it.
func (d *Dataset) Fork(ctx context.Context, opts ForkOptions) (*Dataset, error) {
	ctx, span := tracer.Start(ctx, "dataset:fork")
	defer span.End()

	forks, err := d.doc.Follow(ctx, "forks", nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to get forks catalog")
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("FORK #%d of %s", len(forks.Index)+1, d.Name())
	}
	description := opts.Description
	if description == "" {
		description = d.Description()
	}
	body := map[string]any{}
	for k, v := range opts.Extra {
		body[k] = v
	}
	body["name"] = name
	body["description"] = description
	body["is_published"] = opts.IsPublished
	span.SetAttributes(attribute.String("custom.fork_name", name))

	doc, err := forks.Create(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body":    body,
	})
	if err != nil {
		span.SetStatus(codes.Error, "failed to create fork")
		return nil, err
	}
	fork := NewDataset(doc, d.cache)
	err = fork.CreateSavepoint(ctx, "initial fork")
	if err != nil {
		span.SetStatus(codes.Error, "failed to create initial savepoint")
		return nil, err
	}

	owner := d.Owner()
	if owner != "" && (opts.PreserveOwner || strings.Contains(owner, "/api/projects/")) {
		_, err = doc.Patch(ctx, map[string]any{"owner": owner})
		if err == nil {
			err = doc.Refresh(ctx)
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to give fork the parent's owner", "fork", doc.Self, "owner", owner, "err", err)
		}
	}
	return fork, nil
}

type ForkInfo struct {
	ID                string
	URL               string
	Name              string
	Description       string
	IsPublished       bool
	OwnerName         string
	CurrentEditorName string
	CreationTime      string
	ModificationTime  string
}

// Forks lists the forks of the dataset, oldest first.
func (d *Dataset) Forks(ctx context.Context) ([]ForkInfo, error) {
	forks, err := d.doc.Follow(ctx, "forks", nil)
	if err != nil {
		return nil, err
	}
	out := make([]ForkInfo, 0, len(forks.Index))
	for _, e := range forks.Entries() {
		t := shoji.Body(e.Tuple)
		id := t.String("id")
		if id == "" {
			id = shoji.LastSegment(e.URL)
		}
		out = append(out, ForkInfo{
			ID:                id,
			URL:               e.URL,
			Name:              t.String("name"),
			Description:       t.String("description"),
			IsPublished:       t.Bool("is_published"),
			OwnerName:         t.String("owner_name"),
			CurrentEditorName: t.String("current_editor_name"),
			CreationTime:      t.String("creation_time"),
			ModificationTime:  t.String("modification_time"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationTime < out[j].CreationTime
	})
	return out, nil
}

// ForksTable summarizes the forks of the dataset.
func (d *Dataset) ForksTable(ctx context.Context) (table.Writer, error) {
	forks, err := d.Forks(ctx)
	if err != nil {
		return nil, err
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		"name",
		"description",
		"is_published",
		"owner_name",
		"current_editor_name",
		"creation_time",
		"modification_time",
		"id",
	})
	for _, f := range forks {
		t.AppendRow(table.Row{
			f.Name,
			f.Description,
			f.IsPublished,
			f.OwnerName,
			f.CurrentEditorName,
			f.CreationTime,
			f.ModificationTime,
			f.ID,
		})
	}
	return t, nil
}

// DeleteForks deletes every fork of the dataset.
func (d *Dataset) DeleteForks(ctx context.Context) error {
	forks, err := d.Forks(ctx)
	if err != nil {
		return err
	}
	for _, f := range forks {
		err = d.doc.Session().Delete(ctx, f.URL)
		if err != nil {
			return fmt.Errorf("delete fork %s: %w", f.Name, err)
		}
		slog.InfoContext(ctx, "deleted fork", "name", f.Name, "url", f.URL)
	}
	return nil
}

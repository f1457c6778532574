package scrunch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"scrunch/lib/shoji"
	"slices"

	"go.opentelemetry.io/otel/codes"
)

// Scripts is the catalog of scripts run against a dataset.
type Scripts struct {
	dataset *shoji.Document
}

type Script struct {
	doc *shoji.Document
}

func (s *Script) Document() *shoji.Document {
	return s.doc
}

func (s *Script) URL() string {
	return s.doc.Self
}

func (s *Script) ID() string {
	return shoji.LastSegment(s.doc.Self)
}

func (s *Script) Body() string {
	return s.doc.Body.String("body")
}

func (s *Script) CreationTime() string {
	return s.doc.Body.String("creation_time")
}

// Revert brings the dataset back to its state before the script ran.
func (s *Script) Revert(ctx context.Context) error {
	link, ok := s.doc.Link("revert")
	if !ok {
		return fmt.Errorf("%w: script %s can't be reverted", shoji.ErrNotFound, s.URL())
	}
	res, err := s.doc.Session().Post(ctx, link, map[string]any{})
	if err != nil {
		return err
	}
	return s.doc.Session().WaitProgress(ctx, res, ProgressInterval)
}

func (s *Scripts) catalog(ctx context.Context) (*shoji.Document, error) {
	return s.dataset.Follow(ctx, "scripts", nil)
}

// Execute runs a crunch automation script. A script the server rejects
// returns a *ScriptExecutionError carrying its resolutions.
func (s *Scripts) Execute(ctx context.Context, script string) error {
	ctx, span := tracer.Start(ctx, "scripts:execute")
	defer span.End()

	link, ok := s.dataset.Link("scripts")
	if !ok {
		span.SetStatus(codes.Error, "dataset has no scripts")
		return fmt.Errorf("%w: dataset %s has no scripts", shoji.ErrNotFound, s.dataset.Self)
	}
	res, err := s.dataset.Session().Post(ctx, link, map[string]any{
		"element": shoji.ElementEntity,
		"body":    map[string]any{"body": script},
	})
	var serr *shoji.Error
	if errors.As(err, &serr) && serr.StatusCode == http.StatusBadRequest {
		span.SetStatus(codes.Error, "script rejected")
		var body struct {
			Resolutions json.RawMessage `json:"resolutions"`
		}
		_ = serr.JSON(&body)
		return &ScriptExecutionError{Err: err, Resolutions: body.Resolutions}
	}
	if err != nil {
		span.SetStatus(codes.Error, "failed to execute script")
		return err
	}
	return s.dataset.Session().WaitProgress(ctx, res, ProgressInterval)
}

// Collapse merges all scripts of the dataset into one.
func (s *Scripts) Collapse(ctx context.Context) error {
	catalog, err := s.catalog(ctx)
	if err != nil {
		return err
	}
	link, ok := catalog.Link("collapse")
	if !ok {
		return fmt.Errorf("%w: scripts can't be collapsed", shoji.ErrNotFound)
	}
	res, err := catalog.Session().Post(ctx, link, map[string]any{})
	if err != nil {
		return err
	}
	return catalog.Session().WaitProgress(ctx, res, ProgressInterval)
}

// All returns the dataset's scripts, oldest first.
func (s *Scripts) All(ctx context.Context) ([]*Script, error) {
	catalog, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Script
	for _, e := range catalog.Entries() {
		doc, err := e.Entity(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, &Script{doc: doc})
	}
	slices.SortStableFunc(out, func(a, b *Script) int {
		switch {
		case a.CreationTime() < b.CreationTime():
			return -1
		case a.CreationTime() > b.CreationTime():
			return 1
		}
		return 0
	})
	return out, nil
}

// RevertTo reverts the script with the given id.
func (s *Scripts) RevertTo(ctx context.Context, id string) error {
	all, err := s.All(ctx)
	if err != nil {
		return err
	}
	for _, script := range all {
		if script.ID() == id {
			return script.Revert(ctx)
		}
	}
	return fmt.Errorf("%w: no script with id %s", shoji.ErrNotFound, id)
}

// RevertToNumber reverts the n-th script, counting from 1.
func (s *Scripts) RevertToNumber(ctx context.Context, n int) error {
	all, err := s.All(ctx)
	if err != nil {
		return err
	}
	if n < 1 || n > len(all) {
		return fmt.Errorf("%w: no script number %d, there are %d", shoji.ErrNotFound, n, len(all))
	}
	return all[n-1].Revert(ctx)
}

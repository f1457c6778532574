package scrunch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"scrunch/lib/expressions"
	"scrunch/lib/shoji"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ProgressInterval is how often long running jobs are polled.
var ProgressInterval = time.Second

type DownloadOptions struct {
	// Filter restricts the exported rows.
	Filter string
	// Variables restricts the exported columns, by alias.
	Variables []string
	// Hidden includes hidden variables when Variables is empty.
	Hidden bool
}

func selectMap(urls []string) expressions.Expr {
	columns := make(map[string]expressions.Expr, len(urls))
	for _, u := range urls {
		columns[u] = expressions.Var(u)
	}
	return expressions.Func("select", expressions.Expr{Map: columns})
}

// ExportPayload builds the csv export request of the dataset.
func (d *Dataset) ExportPayload(ctx context.Context, opts DownloadOptions) (map[string]any, error) {
	body := map[string]any{
		"options": map[string]any{"use_category_ids": true},
	}
	if opts.Filter != "" {
		filter, err := d.ProcessExpr(ctx, opts.Filter)
		if err != nil {
			return nil, err
		}
		body["filter"] = filter
	}
	switch {
	case len(opts.Variables) > 0:
		urls := make([]string, len(opts.Variables))
		for i, alias := range opts.Variables {
			v, err := d.Variable(ctx, alias)
			if err != nil {
				return nil, err
			}
			urls[i] = v.URL()
		}
		body["where"] = selectMap(urls)
	case opts.Hidden:
		catalog, err := d.variablesCatalog(ctx)
		if err != nil {
			return nil, err
		}
		urls := make([]string, 0, len(catalog.Index))
		for _, e := range catalog.Entries() {
			urls = append(urls, e.URL)
		}
		body["where"] = selectMap(urls)
	}
	return map[string]any{
		"element": shoji.ElementEntity,
		"body":    body,
	}, nil
}

// Download exports the dataset as csv to path, with category ids instead
// of names.
func (d *Dataset) Download(ctx context.Context, path string, opts DownloadOptions) error {
	ctx, span := tracer.Start(ctx, "dataset:download")
	defer span.End()
	span.SetAttributes(attribute.String("custom.path", path))

	payload, err := d.ExportPayload(ctx, opts)
	if err != nil {
		span.SetStatus(codes.Error, "failed to build export")
		return err
	}
	export, err := d.doc.Follow(ctx, "export", nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to get export view")
		return err
	}
	link, ok := export.Link("csv")
	if !ok {
		return fmt.Errorf("%w: dataset %s cannot be exported as csv", shoji.ErrNotFound, d.URL())
	}

	session := d.doc.Session()
	res, err := session.Post(ctx, link, payload)
	if err != nil {
		span.SetStatus(codes.Error, "failed to start export")
		return err
	}
	err = session.WaitProgress(ctx, res, ProgressInterval)
	if err != nil {
		span.SetStatus(codes.Error, "export failed")
		return err
	}
	if res.Location == "" {
		span.SetStatus(codes.Error, "export has no location")
		return fmt.Errorf("export of %s returned no location", d.URL())
	}
	slog.DebugContext(ctx, "downloading export", "url", res.Location, "path", path)
	return session.Download(ctx, res.Location, path)
}

type JoinOptions struct {
	// Columns restricts the joined variables of the right dataset, by
	// alias.
	Columns []string
	// Filter restricts the joined rows, evaluated on the right dataset.
	Filter string
	// Wait polls the join until it finishes.
	Wait bool
}

type joinBody struct {
	expressions.Expr
	Filter map[string]any `json:"filter,omitempty"`
}

// Join left joins right into the dataset, matching leftVar with
// rightVar. It returns the url of the join's progress.
func (d *Dataset) Join(ctx context.Context, leftVar string, right *Dataset, rightVar string, opts JoinOptions) (string, error) {
	ctx, span := tracer.Start(ctx, "dataset:join")
	defer span.End()

	left, err := d.Variable(ctx, leftVar)
	if err != nil {
		return "", err
	}
	rightKey, err := right.Variable(ctx, rightVar)
	if err != nil {
		return "", err
	}

	adapter := expressions.Func("adapt",
		expressions.Expr{Dataset: right.URL()},
		expressions.Var(rightKey.URL()),
		expressions.Var(left.URL()),
	)
	body := adapter
	if len(opts.Columns) > 0 {
		urls := make([]string, len(opts.Columns))
		for i, alias := range opts.Columns {
			v, err := right.Variable(ctx, alias)
			if err != nil {
				return "", err
			}
			urls[i] = v.URL()
		}
		body = selectMap(urls)
		body.Frame = &adapter
	}

	joined := joinBody{Expr: body}
	if opts.Filter != "" {
		filter, err := right.ProcessExpr(ctx, opts.Filter)
		if err != nil {
			return "", err
		}
		joined.Filter = map[string]any{"expression": filter}
	}
	payload := map[string]any{
		"element": shoji.ElementEntity,
		"body":    joined,
	}

	catalog, err := d.variablesCatalog(ctx)
	if err != nil {
		return "", err
	}
	res, err := catalog.Post(ctx, payload)
	if err != nil {
		span.SetStatus(codes.Error, "join request failed")
		return "", err
	}
	d.invalidate()

	progress, _ := shoji.ProgressURL(res)
	if opts.Wait {
		err = d.doc.Session().WaitProgress(ctx, res, ProgressInterval)
		if err != nil {
			span.SetStatus(codes.Error, "join failed")
			return progress, err
		}
	}
	return progress, nil
}

// AppendDataset appends the rows of other to the dataset. filter
// restricts the appended rows and is evaluated on other.
func (d *Dataset) AppendDataset(ctx context.Context, other *Dataset, filter string) error {
	ctx, span := tracer.Start(ctx, "dataset:append")
	defer span.End()

	body := map[string]any{
		"dataset":      other.URL(),
		"autorollback": true,
	}
	if filter != "" {
		e, err := other.ProcessExpr(ctx, filter)
		if err != nil {
			return err
		}
		body["filter"] = e
	}
	batches, err := d.doc.Follow(ctx, "batches", nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to get batches catalog")
		return err
	}
	res, err := batches.Post(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body":    body,
	})
	if err != nil {
		span.SetStatus(codes.Error, "append request failed")
		return err
	}
	d.invalidate()
	return d.doc.Session().WaitProgress(ctx, res, ProgressInterval)
}

// StreamRows sends rows, given as equally long columns keyed by alias,
// to the dataset's stream. They become visible after PushRows. It
// returns the number of rows streamed.
func (d *Dataset) StreamRows(ctx context.Context, columns map[string][]any) (int, error) {
	aliases := make([]string, 0, len(columns))
	for alias := range columns {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	if len(aliases) == 0 {
		return 0, nil
	}
	count := len(columns[aliases[0]])
	for _, alias := range aliases {
		if len(columns[alias]) != count {
			return 0, fmt.Errorf("column %s has %d rows, expected %d", alias, len(columns[alias]), count)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < count; i++ {
		row := make(map[string]any, len(aliases))
		for _, alias := range aliases {
			row[alias] = columns[alias][i]
		}
		err := enc.Encode(row)
		if err != nil {
			return 0, err
		}
	}

	link, ok := d.doc.Link("stream")
	if !ok {
		return 0, fmt.Errorf("%w: dataset %s has no stream", shoji.ErrNotFound, d.URL())
	}
	_, err := d.doc.Session().Post(ctx, link, buf.Bytes())
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PushRows batches count streamed rows into the dataset.
func (d *Dataset) PushRows(ctx context.Context, count int) error {
	batches, err := d.doc.Follow(ctx, "batches", nil)
	if err != nil {
		return err
	}
	res, err := batches.Post(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body": map[string]any{
			"stream": count,
			"type":   "ldjson",
		},
	})
	if err != nil {
		return err
	}
	d.invalidate()
	return d.doc.Session().WaitProgress(ctx, res, ProgressInterval)
}

package shoji

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

const (
	ElementEntity  = "shoji:entity"
	ElementCatalog = "shoji:catalog"
	ElementOrder   = "shoji:order"
	ElementView    = "shoji:view"
	ElementTable   = "crunch:table"
)

// Body holds the attributes of an entity.
type Body map[string]any

func (b Body) String(key string) string {
	v, _ := b[key].(string)
	return v
}

func (b Body) Bool(key string) bool {
	v, _ := b[key].(bool)
	return v
}

func (b Body) Int(key string) int {
	switch v := b[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (b Body) Strings(key string) []string {
	raw, _ := b[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Tuple is one catalog index entry.
type Tuple map[string]any

func (t Tuple) String(key string) string {
	return Body(t).String(key)
}

// Document is any shoji (or crunch) JSON document returned by the API.
type Document struct {
	Element   string                     `json:"element,omitempty"`
	Self      string                     `json:"self,omitempty"`
	Body      Body                       `json:"body,omitempty"`
	Catalogs  map[string]string          `json:"catalogs,omitempty"`
	Fragments map[string]string          `json:"fragments,omitempty"`
	Views     map[string]string          `json:"views,omitempty"`
	Orders    map[string]string          `json:"orders,omitempty"`
	URLs      map[string]string          `json:"urls,omitempty"`
	Index     map[string]Tuple           `json:"index,omitempty"`
	Graph     []any                      `json:"graph,omitempty"`
	Value     json.RawMessage            `json:"value,omitempty"`
	Metadata  map[string]json.RawMessage `json:"metadata,omitempty"`

	session *Session
}

func (d *Document) Session() *Session {
	return d.session
}

// Link looks a name up in catalogs, fragments, views, orders and urls,
// in that order, returning an absolute url.
func (d *Document) Link(name string) (string, bool) {
	for _, links := range []map[string]string{d.Catalogs, d.Fragments, d.Views, d.Orders, d.URLs} {
		if link, ok := links[name]; ok {
			return d.resolve(link), true
		}
	}
	return "", false
}

func (d *Document) resolve(ref string) string {
	base, err := url.Parse(d.Self)
	if err != nil {
		return ref
	}
	abs, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return abs.String()
}

func (d *Document) Follow(ctx context.Context, name string, params url.Values) (*Document, error) {
	link, ok := d.Link(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no link %q", ErrNotFound, d.Self, name)
	}
	return d.session.Get(ctx, link, params)
}

func (d *Document) Refresh(ctx context.Context) error {
	fresh, err := d.session.Get(ctx, d.Self, nil)
	if err != nil {
		return err
	}
	*d = *fresh
	return nil
}

func (d *Document) Patch(ctx context.Context, payload any) (*Response, error) {
	return d.session.Patch(ctx, d.Self, payload)
}

func (d *Document) Put(ctx context.Context, payload any) (*Response, error) {
	return d.session.Put(ctx, d.Self, payload)
}

func (d *Document) Post(ctx context.Context, payload any) (*Response, error) {
	return d.session.Post(ctx, d.Self, payload)
}

func (d *Document) Delete(ctx context.Context) error {
	return d.session.Delete(ctx, d.Self)
}

// Edit PATCHes the given body attributes and mirrors them locally.
func (d *Document) Edit(ctx context.Context, attrs map[string]any) error {
	_, err := d.Patch(ctx, map[string]any{
		"element": ElementEntity,
		"body":    attrs,
	})
	if err != nil {
		return err
	}
	if d.Body == nil {
		d.Body = Body{}
	}
	for k, v := range attrs {
		d.Body[k] = v
	}
	return nil
}

// Create POSTs payload to the catalog and returns the created entity
// found at the response's Location.
func (d *Document) Create(ctx context.Context, payload any) (*Document, error) {
	ctx, span := tracer.Start(ctx, "catalog:create")
	defer span.End()

	res, err := d.Post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if res.Location == "" {
		return nil, fmt.Errorf("create in %s: response has no location", d.Self)
	}
	return d.session.Get(ctx, res.Location, nil)
}

// Entry is a catalog index tuple together with its url.
type Entry struct {
	URL   string
	Tuple Tuple
	doc   *Document
}

func (e Entry) Entity(ctx context.Context) (*Document, error) {
	return e.doc.session.Get(ctx, e.URL, nil)
}

// Entries returns the index tuples ordered by url.
func (d *Document) Entries() []Entry {
	urls := make([]string, 0, len(d.Index))
	for u := range d.Index {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	out := make([]Entry, 0, len(urls))
	for _, u := range urls {
		out = append(out, Entry{URL: d.resolve(u), Tuple: d.Index[u], doc: d})
	}
	return out
}

// By keys the catalog index by one tuple attribute. Entries missing the
// attribute are skipped.
func (d *Document) By(attr string) map[string]Entry {
	out := make(map[string]Entry, len(d.Index))
	for _, e := range d.Entries() {
		v, ok := e.Tuple[attr]
		if !ok || v == nil {
			continue
		}
		out[fmt.Sprint(v)] = e
	}
	return out
}

// ByID keys the catalog index by the trailing path segment of each url
// when tuples carry no "id".
func (d *Document) ByID() map[string]Entry {
	out := make(map[string]Entry, len(d.Index))
	for _, e := range d.Entries() {
		id := e.Tuple.String("id")
		if id == "" {
			id = LastSegment(e.URL)
		}
		out[id] = e
	}
	return out
}

// GraphURLs returns the graph of a catalog as absolute urls, skipping
// nested groups.
func (d *Document) GraphURLs() []string {
	out := make([]string, 0, len(d.Graph))
	for _, g := range d.Graph {
		if s, ok := g.(string); ok {
			out = append(out, d.resolve(s))
		}
	}
	return out
}

// LastSegment returns the final non-empty path segment of a url.
func LastSegment(u string) string {
	end := len(u)
	for end > 0 && u[end-1] == '/' {
		end--
	}
	start := end
	for start > 0 && u[start-1] != '/' {
		start--
	}
	return u[start:end]
}

package scrunch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"scrunch/lib/shoji"
	"slices"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const rootGroup = "__root__"

// orderSource loads a shoji:order and the catalog its leaves point into.
type orderSource interface {
	// load returns the order document and the catalog entries keyed by id.
	load(ctx context.Context) (*shoji.Document, map[string]shoji.Entry, error)
	// key names a leaf inside its group.
	key(e shoji.Entry) string
	// ref is how a leaf is written back into the graph.
	ref(id string, e shoji.Entry) string
}

// variablesOrder is the hierarchical order of a dataset's variables,
// keyed by alias.
type variablesOrder struct {
	dataset *Dataset
}

func (o variablesOrder) load(ctx context.Context) (*shoji.Document, map[string]shoji.Entry, error) {
	catalog, err := o.dataset.doc.Follow(ctx, "variables", nil)
	if err != nil {
		return nil, nil, err
	}
	o.dataset.variables = catalog
	hier, err := catalog.Follow(ctx, "hier", nil)
	if err != nil {
		return nil, nil, err
	}
	return hier, catalog.ByID(), nil
}

func (variablesOrder) key(e shoji.Entry) string {
	return e.Tuple.String("alias")
}

func (variablesOrder) ref(id string, _ shoji.Entry) string {
	return "../" + id + "/"
}

type element struct {
	name   string
	group  *Group
	id     string
	entry  shoji.Entry
	entity *shoji.Document
}

// Order is an ordered tree of named groups whose leaves are catalog
// entries. Every change is written back to the server as a whole.
type Order struct {
	src     orderSource
	dataset *Dataset

	doc     *shoji.Document
	entries map[string]shoji.Entry
	root    *Group
}

func newOrder(src orderSource, dataset *Dataset) *Order {
	return &Order{src: src, dataset: dataset}
}

// Load (re)reads the order and its catalog from the server.
func (o *Order) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "order:load")
	defer span.End()

	doc, entries, err := o.src.load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to load order")
		return err
	}
	o.doc = doc
	o.entries = entries
	o.root = o.buildGroup(rootGroup, doc.Graph, nil)
	return nil
}

func (o *Order) Root(ctx context.Context) (*Group, error) {
	if o.root == nil {
		err := o.Load(ctx)
		if err != nil {
			return nil, err
		}
	}
	return o.root, nil
}

func (o *Order) buildGroup(name string, graph []any, parent *Group) *Group {
	g := &Group{name: name, parent: parent, order: o}
	for _, item := range graph {
		switch v := item.(type) {
		case string:
			id := shoji.LastSegment(v)
			entry, ok := o.entries[id]
			if !ok {
				slog.Debug("order references an unknown entry", "ref", v)
				continue
			}
			g.elements = append(g.elements, &element{name: o.src.key(entry), id: id, entry: entry})
		case map[string]any:
			names := make([]string, 0, len(v))
			for n := range v {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				children, _ := v[n].([]any)
				g.elements = append(g.elements, &element{name: n, group: o.buildGroup(n, children, g)})
			}
		}
	}
	return g
}

func (o *Order) graph(g *Group) []any {
	out := make([]any, 0, len(g.elements))
	for _, el := range g.elements {
		if el.group != nil {
			out = append(out, map[string]any{el.name: o.graph(el.group)})
			continue
		}
		out = append(out, o.src.ref(el.id, el.entry))
	}
	return out
}

// update PUTs the whole tree. When the server refuses it the tree is
// reloaded and an *OrderUpdateError returned.
func (o *Order) update(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "order:update")
	defer span.End()
	span.SetAttributes(attribute.String("custom.order", o.doc.Self))

	_, err := o.doc.Put(ctx, map[string]any{
		"element": shoji.ElementOrder,
		"graph":   o.graph(o.root),
	})
	if err == nil {
		return nil
	}
	span.SetStatus(codes.Error, "order update failed")

	var serr *shoji.Error
	if !errors.As(err, &serr) {
		return err
	}
	o.root = nil
	reloadErr := o.Load(ctx)
	if reloadErr != nil {
		slog.WarnContext(ctx, "failed to reload order", "err", reloadErr)
	}
	return &OrderUpdateError{Err: err}
}

// Variable resolves a leaf of a dataset's variable order.
func (o *Order) Variable(ctx context.Context, alias string) (*Variable, error) {
	if o.dataset == nil {
		return nil, fmt.Errorf("order does not hold variables")
	}
	root, err := o.Root(ctx)
	if err != nil {
		return nil, err
	}
	g := root.Find(alias)
	if g == nil {
		return nil, fmt.Errorf("%w: no variable %s in the order", shoji.ErrNotFound, alias)
	}
	doc, err := g.Entity(ctx, alias)
	if err != nil {
		return nil, err
	}
	return &Variable{doc: doc, dataset: o.dataset}, nil
}

func (o *Order) Find(ctx context.Context, name string) (*Group, error) {
	root, err := o.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Find(name), nil
}

func (o *Order) FindGroup(ctx context.Context, name string) (*Group, error) {
	root, err := o.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.FindGroup(name), nil
}

func (o *Order) Hierarchy(ctx context.Context) ([]any, error) {
	root, err := o.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Hierarchy(), nil
}

func (o *Order) Variables(ctx context.Context) ([]string, error) {
	root, err := o.Root(ctx)
	if err != nil {
		return nil, err
	}
	return root.Variables(), nil
}

func (o *Order) withRoot(ctx context.Context, fn func(root *Group) error) error {
	root, err := o.Root(ctx)
	if err != nil {
		return err
	}
	return fn(root)
}

func (o *Order) Move(ctx context.Context, names []string, position int) error {
	return o.withRoot(ctx, func(root *Group) error { return root.Move(ctx, names, position) })
}

func (o *Order) MoveBefore(ctx context.Context, reference string, names []string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.MoveBefore(ctx, reference, names) })
}

func (o *Order) MoveAfter(ctx context.Context, reference string, names []string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.MoveAfter(ctx, reference, names) })
}

func (o *Order) MoveUp(ctx context.Context, name string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.MoveUp(ctx, name) })
}

func (o *Order) MoveDown(ctx context.Context, name string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.MoveDown(ctx, name) })
}

func (o *Order) MoveTop(ctx context.Context, name string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.MoveTop(ctx, name) })
}

func (o *Order) MoveBottom(ctx context.Context, name string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.MoveBottom(ctx, name) })
}

func (o *Order) Set(ctx context.Context, names []string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.Set(ctx, names) })
}

func (o *Order) Create(ctx context.Context, name string, names []string) (*Group, error) {
	var created *Group
	err := o.withRoot(ctx, func(root *Group) error {
		var err error
		created, err = root.Create(ctx, name, names)
		return err
	})
	return created, err
}

func (o *Order) Remove(ctx context.Context, names []string) error {
	return o.withRoot(ctx, func(root *Group) error { return root.Remove(ctx, names) })
}

// Group is a named, ordered set of leaves and subgroups.
type Group struct {
	name     string
	parent   *Group
	order    *Order
	elements []*element
}

func (g *Group) Name() string {
	return g.name
}

func (g *Group) Parent() *Group {
	return g.parent
}

func (g *Group) IsRoot() bool {
	return g.parent == nil && g.name == rootGroup
}

// Names lists the direct elements of the group in order.
func (g *Group) Names() []string {
	out := make([]string, len(g.elements))
	for i, el := range g.elements {
		out[i] = el.name
	}
	return out
}

func (g *Group) index(name string) int {
	return slices.IndexFunc(g.elements, func(el *element) bool { return el.name == name })
}

func (g *Group) get(name string) *element {
	i := g.index(name)
	if i < 0 {
		return nil
	}
	return g.elements[i]
}

func (g *Group) remove(name string) {
	g.elements = slices.DeleteFunc(g.elements, func(el *element) bool { return el.name == name })
}

// put replaces the element of the same name in place or appends el.
func (g *Group) put(el *element) {
	if el.group != nil {
		el.group.parent = g
	}
	if i := g.index(el.name); i >= 0 {
		g.elements[i] = el
		return
	}
	g.elements = append(g.elements, el)
}

// within reports whether g is ancestor or lies beneath it.
func (g *Group) within(ancestor *Group) bool {
	for p := g; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

func (g *Group) Contains(name string) bool {
	return g.index(name) >= 0
}

func (g *Group) Subgroup(name string) (*Group, bool) {
	el := g.get(name)
	if el == nil || el.group == nil {
		return nil, false
	}
	return el.group, true
}

// Entry returns the catalog entry of a direct leaf.
func (g *Group) Entry(name string) (shoji.Entry, bool) {
	el := g.get(name)
	if el == nil || el.group != nil {
		return shoji.Entry{}, false
	}
	return el.entry, true
}

// Entity fetches the entity of a direct leaf once.
func (g *Group) Entity(ctx context.Context, name string) (*shoji.Document, error) {
	el := g.get(name)
	if el == nil || el.group != nil {
		return nil, fmt.Errorf("%w: %s is not a leaf of group %s", shoji.ErrNotFound, name, g.name)
	}
	if el.entity == nil {
		doc, err := el.entry.Entity(ctx)
		if err != nil {
			return nil, err
		}
		el.entity = doc
	}
	return el.entity, nil
}

func (g *Group) String() string {
	names := make([]string, len(g.elements))
	for i, el := range g.elements {
		if el.group != nil {
			names[i] = fmt.Sprintf("Group(%s)", el.name)
			continue
		}
		names[i] = el.name
	}
	return indentJSON(names)
}

// Hierarchy renders the nested structure: leaves as names, subgroups as
// single key maps.
func (g *Group) Hierarchy() []any {
	out := make([]any, 0, len(g.elements))
	for _, el := range g.elements {
		if el.group != nil {
			out = append(out, map[string]any{el.name: el.group.Hierarchy()})
			continue
		}
		out = append(out, el.name)
	}
	return out
}

func (g *Group) HierarchyString() string {
	return indentJSON(g.Hierarchy())
}

// Variables lists every leaf under the group, depth first.
func (g *Group) Variables() []string {
	var out []string
	for _, el := range g.elements {
		if el.group != nil {
			out = append(out, el.group.Variables()...)
			continue
		}
		out = append(out, el.name)
	}
	return out
}

func indentJSON(v any) string {
	serialized, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(serialized)
}

// Find returns the group holding the leaf name.
func (g *Group) Find(name string) *Group {
	for _, el := range g.elements {
		if el.group != nil {
			if found := el.group.Find(name); found != nil {
				return found
			}
			continue
		}
		if el.name == name {
			return g
		}
	}
	return nil
}

// FindGroup returns the group called name, g included.
func (g *Group) FindGroup(name string) *Group {
	if g.name == name {
		return g
	}
	for _, el := range g.elements {
		if el.group == nil {
			continue
		}
		if found := el.group.FindGroup(name); found != nil {
			return found
		}
	}
	return nil
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

type pendingMove struct {
	el   *element
	from *Group
}

// locate finds every named element anywhere in the tree, refusing to
// move a group under target when target lies inside it.
func (g *Group) locate(names []string, target *Group) ([]pendingMove, error) {
	root := g.order.root
	moves := make([]pendingMove, 0, len(names))
	for _, name := range names {
		if el := g.get(name); el != nil && target == g {
			moves = append(moves, pendingMove{el: el, from: g})
			continue
		}
		if from := root.Find(name); from != nil {
			moves = append(moves, pendingMove{el: from.get(name), from: from})
			continue
		}
		if sub := root.FindGroup(name); sub != nil {
			if target.within(sub) {
				return nil, fmt.Errorf("cannot move group '%s' into itself or one of its subgroups", name)
			}
			moves = append(moves, pendingMove{el: sub.parent.get(name), from: sub.parent})
			continue
		}
		return nil, fmt.Errorf("invalid alias/group name '%s'", name)
	}
	return moves, nil
}

// Move places the named elements at position, -1 being the end. Elements
// found elsewhere in the tree migrate into the group.
func (g *Group) Move(ctx context.Context, names []string, position int) error {
	names = dedupe(names)
	if position < -1 || position > len(g.elements) {
		return fmt.Errorf("invalid position %d", position)
	}
	if position == -1 {
		position = len(g.elements)
	}
	moves, err := g.locate(names, g)
	if err != nil {
		return err
	}

	rest := make([]*element, 0, len(g.elements))
	for _, el := range g.elements {
		if !slices.Contains(names, el.name) {
			rest = append(rest, el)
		}
	}
	moved := make([]*element, 0, len(moves))
	for _, m := range moves {
		if m.from != g {
			m.from.remove(m.el.name)
			if m.el.group != nil {
				m.el.group.parent = g
			}
		}
		moved = append(moved, m.el)
	}

	position = min(position, len(rest))
	elements := make([]*element, 0, len(rest)+len(moved))
	elements = append(elements, rest[:position]...)
	elements = append(elements, moved...)
	elements = append(elements, rest[position:]...)
	g.elements = elements

	return g.order.update(ctx)
}

func (g *Group) reference(name string) error {
	if !g.Contains(name) {
		return fmt.Errorf("invalid reference '%s', it is not part of group %s", name, g.name)
	}
	return nil
}

// positionOf is the index of reference among the elements that are not
// being moved.
func (g *Group) positionOf(reference string, names []string) int {
	i := 0
	for _, el := range g.elements {
		if slices.Contains(names, el.name) {
			continue
		}
		if el.name == reference {
			return i
		}
		i++
	}
	return -1
}

func (g *Group) MoveBefore(ctx context.Context, reference string, names []string) error {
	err := g.reference(reference)
	if err != nil {
		return err
	}
	position := g.positionOf(reference, names)
	if position < 0 {
		position = 0
	}
	return g.Move(ctx, names, position)
}

func (g *Group) MoveAfter(ctx context.Context, reference string, names []string) error {
	err := g.reference(reference)
	if err != nil {
		return err
	}
	position := g.positionOf(reference, names) + 1
	return g.Move(ctx, names, position)
}

// MoveUp swaps name with its predecessor, nothing happens at the top.
func (g *Group) MoveUp(ctx context.Context, name string) error {
	err := g.reference(name)
	if err != nil {
		return err
	}
	i := g.index(name)
	if i == 0 {
		return nil
	}
	return g.Move(ctx, []string{name}, i-1)
}

// MoveDown swaps name with its successor, nothing happens at the bottom.
func (g *Group) MoveDown(ctx context.Context, name string) error {
	err := g.reference(name)
	if err != nil {
		return err
	}
	i := g.index(name)
	if i+1 == len(g.elements) {
		return nil
	}
	return g.Move(ctx, []string{name}, i+1)
}

func (g *Group) MoveTop(ctx context.Context, name string) error {
	return g.Move(ctx, []string{name}, 0)
}

func (g *Group) MoveBottom(ctx context.Context, name string) error {
	return g.Move(ctx, []string{name}, -1)
}

// Set reorders the group. names must be exactly the group's elements.
func (g *Group) Set(ctx context.Context, names []string) error {
	current := g.Names()
	if len(names) != len(current) || len(dedupe(names)) != len(names) {
		return fmt.Errorf("invalid list of element references")
	}
	for _, n := range names {
		if !slices.Contains(current, n) {
			return fmt.Errorf("invalid list of element references")
		}
	}
	if slices.Equal(names, current) {
		return nil
	}
	elements := make([]*element, len(names))
	for i, n := range names {
		elements[i] = g.get(n)
	}
	g.elements = elements
	return g.order.update(ctx)
}

// Create appends a new subgroup holding the named elements, taken from
// wherever they are in the tree.
func (g *Group) Create(ctx context.Context, name string, names []string) (*Group, error) {
	if g.Contains(name) {
		return nil, fmt.Errorf("a variable/sub-group named '%s' already exists", name)
	}
	names = dedupe(names)
	created := &Group{name: name, parent: g, order: g.order}
	moves, err := created.locate(names, g)
	if err != nil {
		return nil, err
	}
	for _, m := range moves {
		m.from.remove(m.el.name)
		created.put(m.el)
	}
	g.elements = append(g.elements, &element{name: name, group: created})

	err = g.order.update(ctx)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (g *Group) Rename(ctx context.Context, name string) error {
	if g.IsRoot() {
		return fmt.Errorf("renaming the root group is not allowed")
	}
	if name == g.name {
		return nil
	}
	if g.parent.Contains(name) {
		return fmt.Errorf("parent group '%s' already contains an element named '%s'", g.parent.name, name)
	}
	g.parent.get(g.name).name = name
	g.name = name
	return g.order.update(ctx)
}

// Remove sends the named elements of the group to the root.
func (g *Group) Remove(ctx context.Context, names []string) error {
	if g.IsRoot() {
		return fmt.Errorf("removing elements from the root group is not allowed")
	}
	names = dedupe(names)
	for _, n := range names {
		if !g.Contains(n) {
			return fmt.Errorf("a variable/sub-group named '%s' does not exist within the group", n)
		}
	}
	root := g.order.root
	err := root.checkCollisions(names, "")
	if err != nil {
		return err
	}
	for _, n := range names {
		el := g.get(n)
		g.remove(n)
		root.put(el)
	}
	return g.order.update(ctx)
}

// Delete removes the group, its elements go to the root.
func (g *Group) Delete(ctx context.Context) error {
	if g.IsRoot() {
		return fmt.Errorf("deleting the root group is not allowed")
	}
	root := g.order.root
	leaving := ""
	if g.parent == root {
		leaving = g.name
	}
	err := root.checkCollisions(g.Names(), leaving)
	if err != nil {
		return err
	}
	elements := g.elements
	g.elements = nil
	g.parent.remove(g.name)
	for _, el := range elements {
		root.put(el)
	}
	return g.order.update(ctx)
}

// checkCollisions fails when g already holds an element named like one
// of names, other than leaving.
func (g *Group) checkCollisions(names []string, leaving string) error {
	for _, n := range names {
		if n != leaving && g.Contains(n) {
			return fmt.Errorf("group '%s' already contains an element named '%s'", g.name, n)
		}
	}
	return nil
}

package scrunch

import (
	"fmt"
	"slices"
	"strings"
)

// Item is anything that can live in a project or a folder.
type Item interface {
	URL() string
	Name() string
}

// Placement tells where moved items land among the children of a
// project or folder. The zero value is the end.
type Placement struct {
	before  string
	after   string
	index   int
	atIndex bool
}

func AtEnd() Placement {
	return Placement{}
}

func AtPosition(i int) Placement {
	return Placement{index: i, atIndex: true}
}

// Before places items before the child named name.
func Before(name string) Placement {
	return Placement{before: name}
}

// After places items after the child named name.
func After(name string) Placement {
	return Placement{after: name}
}

func (p Placement) isEnd() bool {
	return p == Placement{}
}

// place removes moved from graph and inserts it back at p. names maps the
// urls of graph to the names p refers to.
func place(graph, moved []string, names map[string]string, p Placement) ([]string, error) {
	rest := make([]string, 0, len(graph))
	for _, u := range graph {
		if !slices.Contains(moved, u) {
			rest = append(rest, u)
		}
	}

	position := len(rest)
	switch {
	case p.before != "" || p.after != "":
		reference := p.before
		if reference == "" {
			reference = p.after
		}
		i := slices.IndexFunc(rest, func(u string) bool { return names[u] == reference })
		if i < 0 {
			return nil, fmt.Errorf("invalid reference '%s'", reference)
		}
		position = i
		if p.after != "" {
			position++
		}
	case p.atIndex:
		if p.index < 0 || p.index > len(rest) {
			return nil, fmt.Errorf("invalid position %d", p.index)
		}
		position = p.index
	}

	out := make([]string, 0, len(rest)+len(moved))
	out = append(out, rest[:position]...)
	out = append(out, moved...)
	out = append(out, rest[position:]...)
	return out, nil
}

func itemURLs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !slices.Contains(out, item.URL()) {
			out = append(out, item.URL())
		}
	}
	return out
}

// splitPath turns "| a | b" into its names.
func splitPath(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "|") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

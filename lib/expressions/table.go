package expressions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// TableVariable is one variable of a dataset table as seen by the
// expression processor.
type TableVariable struct {
	ID           string     `json:"id"`
	Alias        string     `json:"alias"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Categories   []Category `json:"categories,omitempty"`
	Subvariables []string   `json:"subvariables,omitempty"`
	ParentID     string     `json:"parent_id,omitempty"`
	IsSubvar     bool       `json:"is_subvar,omitempty"`
}

func (v TableVariable) IsArray() bool {
	return IsArrayType(v.Type)
}

func IsArrayType(t string) bool {
	return t == "categorical_array" || t == "multiple_response"
}

func (v TableVariable) Category(name string) (Category, bool) {
	for _, c := range v.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// VariableTable indexes a dataset's variables, including the subvariables
// of arrays, by alias and by id.
type VariableTable struct {
	byAlias map[string]TableVariable
	byID    map[string]TableVariable
}

type tableEntry struct {
	Alias         string          `json:"alias"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Categories    []Category      `json:"categories"`
	Subvariables  []string        `json:"subvariables"`
	Subreferences json.RawMessage `json:"subreferences"`
}

type subreference struct {
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

// subreferences come as a list aligned with subvariables on older
// datasets and as a map keyed by subvariable id on newer ones.
func (e tableEntry) subreferences() ([]subreference, error) {
	raw := bytes.TrimSpace(e.Subreferences)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []subreference
		err := json.Unmarshal(raw, &out)
		return out, err
	}
	var byID map[string]subreference
	err := json.Unmarshal(raw, &byID)
	if err != nil {
		return nil, err
	}
	out := make([]subreference, 0, len(e.Subvariables))
	for _, id := range e.Subvariables {
		out = append(out, byID[id])
	}
	return out, nil
}

// NewVariableTable builds a table from the metadata of a crunch:table
// document, which maps variable ids to their definitions.
func NewVariableTable(metadata map[string]json.RawMessage) (VariableTable, error) {
	t := VariableTable{
		byAlias: map[string]TableVariable{},
		byID:    map[string]TableVariable{},
	}
	for id, raw := range metadata {
		var entry tableEntry
		err := json.Unmarshal(raw, &entry)
		if err != nil {
			return VariableTable{}, fmt.Errorf("decode table metadata of %s: %w", id, err)
		}
		v := TableVariable{
			ID:           id,
			Alias:        entry.Alias,
			Name:         entry.Name,
			Type:         entry.Type,
			Categories:   entry.Categories,
			Subvariables: entry.Subvariables,
		}
		t.add(v)

		if !v.IsArray() {
			continue
		}
		refs, err := entry.subreferences()
		if err != nil {
			return VariableTable{}, fmt.Errorf("decode subreferences of %s: %w", id, err)
		}
		for i, ref := range refs {
			if i >= len(entry.Subvariables) {
				break
			}
			t.add(TableVariable{
				ID:         entry.Subvariables[i],
				Alias:      ref.Alias,
				Name:       ref.Name,
				Type:       "categorical",
				Categories: slices.Clone(entry.Categories),
				ParentID:   id,
				IsSubvar:   true,
			})
		}
	}
	return t, nil
}

// NewVariableTableFrom builds a table from already decoded variables.
func NewVariableTableFrom(vars ...TableVariable) VariableTable {
	t := VariableTable{
		byAlias: map[string]TableVariable{},
		byID:    map[string]TableVariable{},
	}
	for _, v := range vars {
		t.add(v)
	}
	return t
}

func (t VariableTable) add(v TableVariable) {
	t.byAlias[v.Alias] = v
	t.byID[v.ID] = v
}

func (t VariableTable) Lookup(alias string) (TableVariable, bool) {
	v, ok := t.byAlias[alias]
	return v, ok
}

func (t VariableTable) ByID(id string) (TableVariable, bool) {
	v, ok := t.byID[id]
	return v, ok
}

func (t VariableTable) Len() int {
	return len(t.byAlias)
}

// Aliases returns every alias in the table, sorted.
func (t VariableTable) Aliases() []string {
	out := make([]string, 0, len(t.byAlias))
	for alias := range t.byAlias {
		out = append(out, alias)
	}
	slices.Sort(out)
	return out
}

// Subvariables returns the subvariables of an array in order.
func (t VariableTable) Subvariables(v TableVariable) []TableVariable {
	out := make([]TableVariable, 0, len(v.Subvariables))
	for _, id := range v.Subvariables {
		if sub, ok := t.byID[id]; ok {
			out = append(out, sub)
		}
	}
	return out
}

// Suggest returns the known alias closest to alias, or "" when nothing is
// reasonably close.
func (t VariableTable) Suggest(alias string) string {
	return Closest(alias, t.Aliases())
}

// Closest picks the candidate with the highest Jaro-Winkler similarity to
// name.
func Closest(name string, candidates []string) string {
	best := ""
	bestScore := 0.8
	lowered := strings.ToLower(name)
	for _, c := range candidates {
		score := matchr.JaroWinkler(lowered, strings.ToLower(c), false)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

var variableURLPattern = regexp.MustCompile(`^https?://.+/api/datasets/[^/]+/variables/[^/]+/(subvariables/[^/]+/)?$`)

// IsVariableURL reports whether ref is an absolute variable or
// subvariable url.
func IsVariableURL(ref string) bool {
	return variableURLPattern.MatchString(ref)
}

// AliasForURL resolves a variable url to its alias using the table.
func (t VariableTable) AliasForURL(_ context.Context, ref string) (string, error) {
	id := lastSegment(ref)
	v, ok := t.byID[id]
	if !ok {
		return "", fmt.Errorf("variable %s is not part of the dataset", ref)
	}
	return v.Alias, nil
}

func lastSegment(ref string) string {
	trimmed := strings.TrimSuffix(ref, "/")
	idx := strings.LastIndex(trimmed, "/")
	return trimmed[idx+1:]
}

// Package variables builds the derivation expressions used to create
// recoded and combined variables.
package variables

import (
	"fmt"
	"scrunch/lib/expressions"
	"slices"
	"strconv"
)

// Combination is one category of a combine_categories derivation.
type Combination struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Missing     bool   `json:"missing"`
	CombinedIDs []int  `json:"combined_ids"`
}

// Response is one subvariable of a combine_responses derivation.
// CombinedIDs holds subvariable urls.
type Response struct {
	Name        string   `json:"name"`
	Alias       string   `json:"alias,omitempty"`
	CombinedIDs []string `json:"combined_ids"`
}

func boolPtr(b bool) *bool {
	return &b
}

// SelectedCategories are the two categories of a derived multiple
// response subvariable.
func SelectedCategories() []expressions.Category {
	return []expressions.Category{
		{ID: 1, Name: "Selected", Selected: boolPtr(true)},
		{ID: 2, Name: "Not selected", Selected: boolPtr(false)},
	}
}

// CaseExpr wraps rules in a case function producing a Selected / Not
// selected categorical named name and alias.
func CaseExpr(rules expressions.Expr, name, alias string) expressions.Expr {
	return expressions.Expr{
		Function: "case",
		References: map[string]any{
			"name":  name,
			"alias": alias,
		},
		Args: []expressions.Expr{
			{
				Column: []any{1, 2},
				Type: &expressions.TypeDef{Value: expressions.TypeValue{
					Class:      "categorical",
					Categories: SelectedCategories(),
				}},
			},
			rules,
		},
	}
}

// CombinationsFromMap turns a mapping of new category ids to existing ones
// into combine_categories definitions, sorted by id. categories names the
// new categories and missing lists the ids that count as missing.
func CombinationsFromMap(mapping map[int][]int, categories map[int]string, missing []int) []Combination {
	out := make([]Combination, 0, len(mapping))
	for id, combined := range mapping {
		name, ok := categories[id]
		if !ok {
			name = strconv.Itoa(id)
		}
		out = append(out, Combination{
			ID:          id,
			Name:        name,
			Missing:     slices.Contains(missing, id),
			CombinedIDs: slices.Clone(combined),
		})
	}
	slices.SortFunc(out, func(a, b Combination) int { return a.ID - b.ID })
	return out
}

func CombineCategoriesExpr(variableURL string, combinations []Combination) expressions.Expr {
	return expressions.Func("combine_categories",
		expressions.Var(variableURL),
		expressions.Val(combinations),
	)
}

// ResponsesFromMap builds combine_responses definitions. mapping keys are
// the positions of the new subvariables and its values the existing
// subvariables, either by alias or by their position under parentAlias.
// subvarURLs maps existing subvariable aliases to urls.
func ResponsesFromMap(subvarURLs map[string]string, mapping map[int][]string, categories map[int]string, alias, parentAlias string) ([]Response, error) {
	ids := make([]int, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Response, 0, len(ids))
	for _, id := range ids {
		urls := make([]string, 0, len(mapping[id]))
		for _, ref := range mapping[id] {
			u, ok := subvarURLs[ref]
			if !ok {
				if n, err := strconv.Atoi(ref); err == nil {
					u, ok = subvarURLs[SubvarAlias(parentAlias, n)]
				}
			}
			if !ok {
				return nil, fmt.Errorf("unknown subvariable %q of %s", ref, parentAlias)
			}
			urls = append(urls, u)
		}
		name, ok := categories[id]
		if !ok {
			name = strconv.Itoa(id)
		}
		out = append(out, Response{
			Name:        name,
			Alias:       SubvarAlias(alias, id),
			CombinedIDs: urls,
		})
	}
	return out, nil
}

func CombineResponsesExpr(variableURL string, responses []Response) expressions.Expr {
	return expressions.Func("combine_responses",
		expressions.Var(variableURL),
		expressions.Val(responses),
	)
}

// SubvarAlias names the n-th subvariable of parent.
func SubvarAlias(parent string, n int) string {
	return fmt.Sprintf("%s_%d", parent, n)
}

// ValidateCategoryRules checks that there is one rule per category, or one
// fewer when the last category catches everything else.
func ValidateCategoryRules(categories []expressions.Category, rules []string) error {
	if len(rules) < len(categories)-1 || len(rules) > len(categories) {
		return fmt.Errorf("amount of rules (%d) should match categories (%d) or categories - 1", len(rules), len(categories))
	}
	return nil
}

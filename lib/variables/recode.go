package variables

import (
	"fmt"
	"scrunch/lib/expressions"
	"slices"
	"strings"
)

const (
	DefaultMissing = "missing"
	DefaultCopy    = "copy"
)

// Recode describes an spss-like recode of a categorical variable.
type Recode struct {
	// Map assigns every new category id the existing categories it
	// combines, by id (int) or by name (string).
	Map map[int][]any
	// Names are assigned to the new categories in id order. One extra
	// name labels the category collecting unmapped codes.
	Names []string
	// NamesByID overrides Names for specific ids.
	NamesByID map[int]string
	// Default is DefaultMissing to collect unmapped categories into a
	// missing category or DefaultCopy to keep them as they are.
	Default string
}

// RecodeCategories turns r into combine_categories definitions over the
// existing categories.
func RecodeCategories(existing []expressions.Category, r Recode) ([]Combination, error) {
	if len(r.Map) == 0 {
		return nil, fmt.Errorf("invalid recode map")
	}
	if len(r.Names) == 0 && len(r.NamesByID) == 0 {
		return nil, fmt.Errorf("missing category names")
	}
	def := r.Default
	if def == "" {
		def = DefaultMissing
	}
	if def != DefaultMissing && def != DefaultCopy {
		return nil, fmt.Errorf(`the default must be either "missing" or "copy", got %q`, r.Default)
	}

	byID := map[int]expressions.Category{}
	byName := map[string]int{}
	for _, c := range existing {
		byID[c.ID] = c
		byName[c.Name] = c.ID
	}

	var defs []Combination
	processed := map[int]bool{}
	maxID, first := 0, true
	for id, values := range r.Map {
		combined := make([]int, 0, len(values))
		for _, value := range values {
			var code int
			switch v := value.(type) {
			case int:
				code = v
			case string:
				found, ok := byName[v]
				if !ok {
					return nil, fmt.Errorf("invalid category name %s", v)
				}
				code = found
			default:
				return nil, fmt.Errorf("invalid mapped value %v", value)
			}
			if _, ok := byID[code]; !ok {
				return nil, fmt.Errorf("invalid numeric code %d", code)
			}
			combined = append(combined, code)
			processed[code] = true
		}
		defs = append(defs, Combination{
			ID:          id,
			Name:        fmt.Sprint(id),
			CombinedIDs: combined,
		})
		if first || id > maxID {
			maxID, first = id, false
		}
	}
	slices.SortFunc(defs, func(a, b Combination) int { return a.ID - b.ID })

	missingName := "Missing"
	for i, name := range r.Names {
		switch {
		case i < len(defs):
			defs[i].Name = name
		case i == len(defs):
			missingName = name
		}
	}
	for i := range defs {
		if name, ok := r.NamesByID[defs[i].ID]; ok {
			defs[i].Name = name
		}
	}

	missing := Combination{ID: maxID + 1, Name: missingName, Missing: true, CombinedIDs: []int{}}
	for _, c := range existing {
		if processed[c.ID] {
			continue
		}
		processed[c.ID] = true
		switch def {
		case DefaultMissing:
			missing.CombinedIDs = append(missing.CombinedIDs, c.ID)
		case DefaultCopy:
			defs = append(defs, Combination{
				ID:          c.ID,
				Name:        c.Name,
				Missing:     c.Missing,
				CombinedIDs: []int{c.ID},
			})
		}
	}
	if def == DefaultMissing {
		defs = append(defs, missing)
	}
	return defs, nil
}

// RecodeResponses turns a mapping of new response names to existing
// subvariable aliases into combine_responses definitions sorted by name.
func RecodeResponses(subvarURLs map[string]string, mapping map[string][]string) ([]Response, error) {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]Response, 0, len(names))
	for _, name := range names {
		urls := make([]string, 0, len(mapping[name]))
		var unknown []string
		for _, alias := range mapping[name] {
			u, ok := subvarURLs[alias]
			if !ok {
				unknown = append(unknown, alias)
				continue
			}
			urls = append(urls, u)
		}
		if len(unknown) > 0 {
			return nil, fmt.Errorf("invalid subvariable alias(es) %s", strings.Join(unknown, ", "))
		}
		out = append(out, Response{Name: name, CombinedIDs: urls})
	}
	return out, nil
}

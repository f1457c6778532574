package scrunch

import (
	"context"
	"fmt"
	"log/slog"
	"scrunch/lib/expressions"
	"scrunch/lib/shoji"
	"scrunch/lib/variables"
	"slices"
)

var variableMutable = []string{"name", "description", "discarded", "view", "notes", "format"}

type Variable struct {
	doc     *shoji.Document
	dataset *Dataset
}

func (v *Variable) Document() *shoji.Document {
	return v.doc
}

func (v *Variable) Dataset() *Dataset {
	return v.dataset
}

func (v *Variable) URL() string {
	return v.doc.Self
}

func (v *Variable) ID() string {
	if id := v.doc.Body.String("id"); id != "" {
		return id
	}
	return shoji.LastSegment(v.doc.Self)
}

func (v *Variable) Alias() string       { return v.doc.Body.String("alias") }
func (v *Variable) Name() string        { return v.doc.Body.String("name") }
func (v *Variable) Type() string        { return v.doc.Body.String("type") }
func (v *Variable) Description() string { return v.doc.Body.String("description") }
func (v *Variable) Notes() string       { return v.doc.Body.String("notes") }
func (v *Variable) Discarded() bool     { return v.doc.Body.Bool("discarded") }

func (v *Variable) Categories() ([]expressions.Category, error) {
	var out []expressions.Category
	err := decodeBody(v.doc.Body, "categories", &out)
	return out, err
}

// SubvariableURLs maps the aliases of the subvariables to their urls.
func (v *Variable) SubvariableURLs(ctx context.Context) (map[string]string, error) {
	subvariables, err := v.doc.Follow(ctx, "subvariables", nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(subvariables.Index))
	for alias, e := range subvariables.By("alias") {
		out[alias] = e.URL
	}
	return out, nil
}

// Edit changes mutable variable attributes.
func (v *Variable) Edit(ctx context.Context, attrs map[string]any) error {
	for key := range attrs {
		if !slices.Contains(variableMutable, key) {
			return fmt.Errorf("can't edit attribute %s of variable %s", key, v.Name())
		}
	}
	return v.doc.Edit(ctx, attrs)
}

func (v *Variable) Hide(ctx context.Context) error {
	slog.DebugContext(ctx, "hiding variable", "alias", v.Alias())
	return v.doc.Edit(ctx, map[string]any{"discarded": true})
}

func (v *Variable) Unhide(ctx context.Context) error {
	slog.DebugContext(ctx, "unhiding variable", "alias", v.Alias())
	return v.doc.Edit(ctx, map[string]any{"discarded": false})
}

type RecodeOptions struct {
	Alias string
	// Name defaults to the variable's name followed by " (recoded)".
	Name string
	// Description defaults to the variable's description.
	Description string
	// Categories recodes categorical and categorical_array variables.
	Categories variables.Recode
	// Responses recodes multiple_response variables, mapping new
	// subvariable names to existing subvariable aliases.
	Responses map[string][]string
}

// Combine creates a recoded copy of a categorical, categorical_array or
// multiple_response variable, spss style.
func (v *Variable) Combine(ctx context.Context, opts RecodeOptions) (*Variable, error) {
	if opts.Alias == "" {
		return nil, fmt.Errorf("missing alias for the recoded variable")
	}
	if v.dataset == nil {
		return nil, fmt.Errorf("variable %s is not bound to a dataset", v.URL())
	}
	if v.doc.Body == nil {
		err := v.doc.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	}

	name := opts.Name
	if name == "" {
		name = v.Name() + " (recoded)"
	}
	description := opts.Description
	if description == "" {
		description = v.Description()
	}

	var derivation expressions.Expr
	switch v.Type() {
	case typeCategorical, typeCategoricalArray:
		existing, err := v.Categories()
		if err != nil {
			return nil, err
		}
		defs, err := variables.RecodeCategories(existing, opts.Categories)
		if err != nil {
			return nil, err
		}
		derivation = variables.CombineCategoriesExpr(v.URL(), defs)
	case typeMultipleResponse:
		if len(opts.Responses) == 0 {
			return nil, fmt.Errorf("invalid recode map")
		}
		urls, err := v.SubvariableURLs(ctx)
		if err != nil {
			return nil, err
		}
		defs, err := variables.RecodeResponses(urls, opts.Responses)
		if err != nil {
			return nil, err
		}
		derivation = variables.CombineResponsesExpr(v.URL(), defs)
	default:
		return nil, fmt.Errorf("only categorical, categorical_array and multiple_response variables are supported, %s is %s", v.Alias(), v.Type())
	}

	return v.dataset.createVariable(ctx, variablePayload(name, opts.Alias, description, derivation))
}

// EditCategorical replaces the expression of a derived categorical with
// one rule per category.
func (v *Variable) EditCategorical(ctx context.Context, categories []expressions.Category, rules []string) error {
	err := variables.ValidateCategoryRules(categories, rules)
	if err != nil {
		return err
	}
	if v.dataset == nil {
		return fmt.Errorf("variable %s is not bound to a dataset", v.URL())
	}

	column := make([]any, len(categories))
	for i, c := range categories {
		column[i] = c.ID
	}
	processed, err := v.dataset.processAll(ctx, rules)
	if err != nil {
		return err
	}
	args := []expressions.Expr{{
		Column: column,
		Type: &expressions.TypeDef{Value: expressions.TypeValue{
			Class:      typeCategorical,
			Categories: categories,
		}},
	}}
	expr := expressions.Func("case", append(args, processed...)...)

	_, err = v.doc.Patch(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body":    map[string]any{"expr": expr},
	})
	return err
}

func (v *Variable) EditDerived(ctx context.Context) error {
	return fmt.Errorf("%w: edit derived variables with Dataset.CombineCategories", ErrNotImplemented)
}

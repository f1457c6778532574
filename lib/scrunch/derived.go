package scrunch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"scrunch/lib/expressions"
	"scrunch/lib/shoji"
	"scrunch/lib/variables"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	typeCategorical      = "categorical"
	typeCategoricalArray = "categorical_array"
	typeMultipleResponse = "multiple_response"
)

// CaseCategory is a category of a derived single response variable
// together with the rule selecting it.
type CaseCategory struct {
	expressions.Category
	Case string
}

// CaseResponse is a subvariable of a derived multiple response variable.
// Rules is used when Case is empty.
type CaseResponse struct {
	ID    int
	Name  string
	Case  string
	Rules expressions.Expr
}

func variablePayload(name, alias, description string, derivation expressions.Expr) map[string]any {
	return map[string]any{
		"element": shoji.ElementEntity,
		"body": map[string]any{
			"name":        name,
			"alias":       alias,
			"description": description,
			"derivation":  derivation,
		},
	}
}

func (d *Dataset) createVariable(ctx context.Context, payload any) (*Variable, error) {
	ctx, span := tracer.Start(ctx, "dataset:create_variable")
	defer span.End()

	catalog, err := d.variablesCatalog(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to get variables catalog")
		return nil, err
	}
	doc, err := catalog.Create(ctx, payload)
	if err != nil {
		span.SetStatus(codes.Error, "failed to create variable")
		return nil, err
	}
	d.invalidate()
	span.SetAttributes(attribute.String("custom.variable", doc.Self))
	slog.DebugContext(ctx, "created variable", "alias", doc.Body.String("alias"), "url", doc.Self)
	return &Variable{doc: doc, dataset: d}, nil
}

// CreateSingleResponse derives a categorical variable where each category
// is selected by a rule. When missing is set a "No Data" category
// catches rows matching no rule.
func (d *Dataset) CreateSingleResponse(ctx context.Context, categories []CaseCategory, name, alias, description string, missing bool) (*Variable, error) {
	cats := make([]expressions.Category, 0, len(categories)+1)
	column := make([]any, 0, len(categories)+1)
	cases := make([]string, len(categories))
	for i, c := range categories {
		cats = append(cats, c.Category)
		column = append(column, c.ID)
		cases[i] = c.Case
	}
	if missing {
		column = append(column, -1)
		cats = append(cats, expressions.Category{ID: -1, Name: "No Data", Missing: true})
	}

	rules, err := d.processAll(ctx, cases)
	if err != nil {
		return nil, err
	}

	args := []expressions.Expr{{
		Column: column,
		Type: &expressions.TypeDef{Value: expressions.TypeValue{
			Class:      typeCategorical,
			Categories: cats,
		}},
	}}
	expr := expressions.Func("case", append(args, rules...)...)

	return d.createVariable(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body": map[string]any{
			"alias":       alias,
			"name":        name,
			"expr":        expr,
			"description": description,
		},
	})
}

// CreateMultipleResponse derives a multiple response variable with one
// subvariable per response, selected by its rule.
func (d *Dataset) CreateMultipleResponse(ctx context.Context, responses []CaseResponse, name, alias, description string) (*Variable, error) {
	subvariables := make(map[string]expressions.Expr, len(responses))
	for _, resp := range responses {
		rules := resp.Rules
		if resp.Case != "" {
			var err error
			rules, err = d.ProcessExpr(ctx, resp.Case)
			if err != nil {
				return nil, fmt.Errorf("response %s: %w", resp.Name, err)
			}
		}
		subvariables[fmt.Sprintf("%04d", resp.ID)] = variables.CaseExpr(rules, resp.Name, variables.SubvarAlias(alias, resp.ID))
	}

	derivation := expressions.Func("array",
		expressions.Func("select", expressions.Expr{Map: subvariables}),
	)
	return d.createVariable(ctx, variablePayload(name, alias, description, derivation))
}

// CreateCategorical creates a multiple response variable when multiple
// is set and a single response one otherwise.
func (d *Dataset) CreateCategorical(ctx context.Context, categories []CaseCategory, alias, name string, multiple bool, description string) (*Variable, error) {
	if !multiple {
		return d.CreateSingleResponse(ctx, categories, name, alias, description, true)
	}
	responses := make([]CaseResponse, len(categories))
	for i, c := range categories {
		responses[i] = CaseResponse{ID: c.ID, Name: c.Name, Case: c.Case}
	}
	return d.CreateMultipleResponse(ctx, responses, name, alias, description)
}

var subvarAliasPattern = regexp.MustCompile(`.+_(\d+)$`)

type subreference struct {
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// copySubreferences names the subvariables of a copy of v aliased alias,
// keeping the position suffix of subvariables that follow the
// parent_n pattern.
func copySubreferences(ctx context.Context, v *Variable, alias string) ([]subreference, error) {
	subvariables, err := v.doc.Follow(ctx, "subvariables", nil)
	if err != nil {
		return nil, err
	}
	out := make([]subreference, 0, len(subvariables.Index))
	for _, e := range subvariables.Entries() {
		svAlias := e.Tuple.String("alias")
		if match := subvarAliasPattern.FindStringSubmatch(svAlias); match != nil {
			n, err := strconv.Atoi(match[1])
			if err == nil {
				svAlias = variables.SubvarAlias(alias, n)
			}
		}
		out = append(out, subreference{Name: e.Tuple.String("name"), Alias: svAlias})
	}
	return out, nil
}

// CopyVariable makes a copy of v. Derived variables get their derivation
// executed again, anything else is copied with copy_variable.
func (d *Dataset) CopyVariable(ctx context.Context, v *Variable, name, alias string) (*Variable, error) {
	var derivation expressions.Expr
	if raw, ok := v.doc.Body["derivation"]; ok && raw != nil {
		err := decodeBody(v.doc.Body, "derivation", &derivation)
		if err != nil {
			return nil, fmt.Errorf("decode derivation of %s: %w", v.Alias(), err)
		}
		derivation, err = variables.AbsURL(derivation, v.URL())
		if err != nil {
			return nil, err
		}
		derivation.References = nil

		if v.Type() == typeMultipleResponse && len(derivation.Args) > 0 && len(derivation.Args[0].Args) > 0 {
			subrefs, err := copySubreferences(ctx, v, alias)
			if err != nil {
				return nil, err
			}
			mapped := derivation.Args[0].Args[0].Map
			for _, ref := range subrefs {
				for key, subvar := range mapped {
					if subvar.References == nil || subvar.References["name"] != ref.Name {
						continue
					}
					subvar.References["alias"] = ref.Alias
					mapped[key] = subvar
					break
				}
			}
		}
	} else {
		derivation = expressions.Func("copy_variable", expressions.Var(v.URL()))
		if v.Type() == typeMultipleResponse {
			subrefs, err := copySubreferences(ctx, v, alias)
			if err != nil {
				return nil, err
			}
			derivation.References = map[string]any{"subreferences": subrefs}
		}
	}

	return d.createVariable(ctx, map[string]any{
		"element": shoji.ElementEntity,
		"body": map[string]any{
			"name":       name,
			"alias":      alias,
			"derivation": derivation,
		},
	})
}

type CombineOptions struct {
	Name        string
	Alias       string
	Description string
	// Categories maps new category ids to the existing ids they combine.
	Categories map[int][]int
	// Responses maps new subvariable positions to the existing
	// subvariables they combine, by alias or position.
	Responses map[int][]string
	// Names labels the new categories or subvariables by id.
	Names   map[int]string
	Missing []int
}

// CombineCategories combines the responses of a multiple response
// variable and the categories of anything else.
func (d *Dataset) CombineCategories(ctx context.Context, v *Variable, opts CombineOptions) (*Variable, error) {
	if opts.Name == "" || opts.Alias == "" {
		return nil, fmt.Errorf("name and alias are required")
	}
	if v.Type() == typeMultipleResponse {
		return d.CombineMultipleResponse(ctx, v, opts)
	}
	return d.CombineCategorical(ctx, v, opts)
}

func (d *Dataset) CombineCategorical(ctx context.Context, v *Variable, opts CombineOptions) (*Variable, error) {
	combinations := variables.CombinationsFromMap(opts.Categories, opts.Names, opts.Missing)
	derivation := variables.CombineCategoriesExpr(v.URL(), combinations)
	return d.createVariable(ctx, variablePayload(opts.Name, opts.Alias, opts.Description, derivation))
}

func (d *Dataset) CombineMultipleResponse(ctx context.Context, v *Variable, opts CombineOptions) (*Variable, error) {
	urls, err := v.SubvariableURLs(ctx)
	if err != nil {
		return nil, err
	}
	responses, err := variables.ResponsesFromMap(urls, opts.Responses, opts.Names, opts.Alias, v.Alias())
	if err != nil {
		return nil, err
	}
	derivation := variables.CombineResponsesExpr(v.URL(), responses)
	return d.createVariable(ctx, variablePayload(opts.Name, opts.Alias, opts.Description, derivation))
}

package expressions

import (
	"fmt"
	"strings"
)

// UnknownAliasError is returned when an expression names a variable the
// dataset does not have.
type UnknownAliasError struct {
	Alias      string
	Suggestion string
}

func (e *UnknownAliasError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("invalid variable alias '%s', did you mean '%s'?", e.Alias, e.Suggestion)
	}
	return fmt.Sprintf("invalid variable alias '%s'", e.Alias)
}

func (e *UnknownAliasError) Is(target error) bool {
	return target == ErrInvalidExpression
}

type processor struct {
	base  string
	table VariableTable
}

// Process returns a copy of e with variable aliases replaced by the urls
// of datasetURL's variables, category names replaced by category ids and
// functions over arrays expanded into functions over their subvariables.
func Process(e Expr, datasetURL string, table VariableTable) (Expr, error) {
	if !strings.HasSuffix(datasetURL, "/") {
		datasetURL += "/"
	}
	p := processor{base: datasetURL, table: table}
	out, err := p.process(e.Clone())
	if err != nil {
		return Expr{}, err
	}
	out.subvariables = nil
	return out, nil
}

func ProcessAll(exprs []Expr, datasetURL string, table VariableTable) ([]Expr, error) {
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		processed, err := Process(e, datasetURL, table)
		if err != nil {
			return nil, err
		}
		out[i] = processed
	}
	return out, nil
}

func (p processor) variableURL(v TableVariable) string {
	if v.IsSubvar {
		return fmt.Sprintf("%svariables/%s/subvariables/%s/", p.base, v.ParentID, v.ID)
	}
	return fmt.Sprintf("%svariables/%s/", p.base, v.ID)
}

func (p processor) resolveVariable(e Expr) (Expr, error) {
	if IsVariableURL(e.Variable) {
		return e, nil
	}
	v, ok := p.table.Lookup(e.Variable)
	if !ok {
		return Expr{}, &UnknownAliasError{Alias: e.Variable, Suggestion: p.table.Suggest(e.Variable)}
	}
	e.Variable = p.variableURL(v)
	if v.IsArray() && len(v.Subvariables) > 0 {
		e.subvariables = make([]string, len(v.Subvariables))
		for i, id := range v.Subvariables {
			e.subvariables[i] = fmt.Sprintf("%svariables/%s/subvariables/%s/", p.base, v.ID, id)
		}
	}
	return e, nil
}

func (p processor) process(e Expr) (Expr, error) {
	var err error
	if e.Variable != "" {
		return p.resolveVariable(e)
	}
	if e.Frame != nil {
		frame, err := p.process(*e.Frame)
		if err != nil {
			return Expr{}, err
		}
		frame.subvariables = nil
		e.Frame = &frame
	}
	for k, v := range e.Map {
		v, err = p.process(v)
		if err != nil {
			return Expr{}, err
		}
		v.subvariables = nil
		e.Map[k] = v
	}
	if len(e.Args) == 0 {
		return e, nil
	}

	if column, ok := p.subvariableColumn(e); ok {
		return column, nil
	}

	var arrays [][]string
	hasValue, hasVariable := false, false
	for i, arg := range e.Args {
		arg, err = p.process(arg)
		if err != nil {
			return Expr{}, err
		}
		if arg.subvariables != nil {
			arrays = append(arrays, arg.subvariables)
			arg.subvariables = nil
		}
		hasValue = hasValue || arg.IsValue()
		hasVariable = hasVariable || arg.IsVariable()
		e.Args[i] = arg
	}
	if hasValue && hasVariable {
		err = p.ensureCategoryIDs(e.Args)
		if err != nil {
			return Expr{}, err
		}
	}

	if len(arrays) == 0 {
		return e, nil
	}
	switch e.Function {
	case "any", "all", "is_valid", "is_missing":
		return p.expandArray(e, arrays)
	}
	return e, nil
}

// subvariableColumn handles arr.any([sub_1, sub_2]) where the list names
// subvariables of the array, which selects those columns instead of
// matching categories.
func (p processor) subvariableColumn(e Expr) (Expr, bool) {
	if (e.Function != "any" && e.Function != "all") || len(e.Args) != 2 || !e.Args[0].IsVariable() {
		return Expr{}, false
	}
	array, ok := p.table.Lookup(e.Args[0].Variable)
	if !ok || !array.IsArray() {
		return Expr{}, false
	}
	items, ok := e.Args[1].Value.([]any)
	if !ok || len(items) == 0 {
		return Expr{}, false
	}
	ids := make([]any, 0, len(items))
	for _, item := range items {
		alias, ok := item.(string)
		if !ok {
			return Expr{}, false
		}
		sub, ok := p.table.Lookup(alias)
		if !ok || !sub.IsSubvar || sub.ParentID != array.ID {
			return Expr{}, false
		}
		ids = append(ids, sub.ID)
	}
	return Func(e.Function, Var(p.variableURL(array)), Expr{Column: ids}), true
}

// ensureCategoryIDs rewrites category names in value arguments into the
// ids of the categories of the closest preceding variable.
func (p processor) ensureCategoryIDs(args []Expr) error {
	var current *TableVariable
	for i := range args {
		switch {
		case args[i].IsVariable():
			current = nil
			if v, ok := p.table.ByID(lastSegment(args[i].Variable)); ok {
				current = &v
			}
		case args[i].IsValue():
			if current == nil {
				continue
			}
			value, err := categoryIDs(*current, args[i].Value)
			if err != nil {
				return err
			}
			args[i].Value = value
		}
	}
	return nil
}

func categoryIDs(v TableVariable, value any) (any, error) {
	if v.Type == "datetime" || len(v.Categories) == 0 {
		return value, nil
	}
	switch t := value.(type) {
	case string:
		if isDigits(t) {
			return t, nil
		}
		c, ok := v.Category(t)
		if !ok {
			return nil, fmt.Errorf("%w: couldn't find a category id for category %s in filter for variable %s",
				ErrInvalidExpression, t, v.Alias)
		}
		return c.ID, nil
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			name, ok := item.(string)
			if !ok || isDigits(name) {
				out = append(out, item)
				continue
			}
			c, ok := v.Category(name)
			if !ok {
				return nil, fmt.Errorf("%w: couldn't find a category id for category %s in filter for variable %s",
					ErrInvalidExpression, name, v.Alias)
			}
			out = append(out, c.ID)
		}
		return out, nil
	}
	return value, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func (p processor) expandArray(e Expr, arrays [][]string) (Expr, error) {
	if len(arrays) != 1 {
		return Expr{}, fmt.Errorf("%w: %s accepts exactly one array variable", ErrInvalidExpression, e.Function)
	}
	var values []Expr
	for _, arg := range e.Args {
		if arg.IsValue() {
			values = append(values, arg)
		}
	}

	switch e.Function {
	case "is_valid", "is_missing":
		if len(values) != 0 {
			return Expr{}, fmt.Errorf("%w: %s does not take values", ErrInvalidExpression, e.Function)
		}
		e.Function = "all_" + strings.TrimPrefix(e.Function, "is_")
		return e, nil
	}

	if len(values) != 1 {
		return Expr{}, fmt.Errorf("%w: %s needs exactly one list of values", ErrInvalidExpression, e.Function)
	}
	subvariables := arrays[0]
	if len(subvariables) == 0 {
		return e, nil
	}
	value := values[0]
	realOp, expansionOp := "in", "or"
	if e.Function == "all" {
		realOp, expansionOp = "==", "and"
		items, ok := value.Value.([]any)
		if !ok || len(items) != 1 {
			return Expr{}, fmt.Errorf("%w: all() over an array needs exactly one value", ErrInvalidExpression)
		}
		value = Val(items[0])
	}

	terms := make([]Expr, len(subvariables))
	for i, sub := range subvariables {
		terms[i] = Func(realOp, Var(sub), value.Clone())
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return nestPairs(terms, expansionOp), nil
}

// nestPairs joins terms into a right nested chain of binary op calls.
func nestPairs(terms []Expr, op string) Expr {
	if len(terms) == 2 {
		return Func(op, terms[0], terms[1])
	}
	return Func(op, terms[0], nestPairs(terms[1:], op))
}

package expressions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AliasResolver maps variable urls back to aliases.
type AliasResolver interface {
	AliasForURL(ctx context.Context, ref string) (string, error)
}

var ErrResolverRequired = errors.New("a resolver is required to turn variable urls into aliases")

var prettyOperators = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "//": true, "^": true,
	"%": true, "&": true, "|": true, "~": true,
	"==": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
	"~=": true, "in": true, "and": true, "or": true, "not": true,
}

var prettyFunctions = map[string]string{
	"is_valid":   "valid",
	"is_missing": "missing",
}

// Prettify renders e back into expression source. Variable urls are turned
// into aliases through resolver, which may be nil when e only uses
// aliases.
func Prettify(ctx context.Context, e Expr, resolver AliasResolver) (string, error) {
	if !e.IsFunction() {
		return "", fmt.Errorf("%w: only function expressions can be prettified", ErrInvalidExpression)
	}
	resolved, err := resolveAliases(ctx, e, resolver)
	if err != nil {
		return "", err
	}
	return prettify(resolved, "")
}

func resolveAliases(ctx context.Context, e Expr, resolver AliasResolver) (Expr, error) {
	out := Expr{Function: e.Function, Args: make([]Expr, len(e.Args))}
	for i, arg := range e.Args {
		switch {
		case arg.IsFunction():
			resolved, err := resolveAliases(ctx, arg, resolver)
			if err != nil {
				return Expr{}, err
			}
			out.Args[i] = resolved
		case arg.IsVariable() && IsVariableURL(arg.Variable):
			if resolver == nil {
				return Expr{}, ErrResolverRequired
			}
			alias, err := resolver.AliasForURL(ctx, arg.Variable)
			if err != nil {
				return Expr{}, fmt.Errorf("resolve %s: %w", arg.Variable, err)
			}
			out.Args[i] = Var(alias)
		default:
			out.Args[i] = arg
		}
	}
	return out, nil
}

func prettify(e Expr, parent string) (string, error) {
	if !e.IsFunction() {
		switch {
		case e.IsVariable():
			return e.Variable, nil
		case e.Column != nil:
			return formatList(e.Column), nil
		default:
			return formatValue(e.Value), nil
		}
	}

	args := make([]string, len(e.Args))
	childFunctions := 0
	hasChildOr := false
	for i, arg := range e.Args {
		s, err := prettify(arg, e.Function)
		if err != nil {
			return "", err
		}
		args[i] = s
		if arg.IsFunction() {
			childFunctions++
			hasChildOr = hasChildOr || arg.Function == "or"
		}
	}
	nested := parent != "" && (hasChildOr || (parent == "or" && childFunctions > 1) || e.Function == "or")

	var out string
	switch {
	case prettyOperators[e.Function]:
		if len(args) == 1 {
			out = e.Function + " " + args[0]
		} else {
			out = strings.Join(args, " "+e.Function+" ")
		}
	case methodNames[e.Function] != "":
		if len(args) == 0 {
			return "", fmt.Errorf("%w: method %s without receiver", ErrInvalidExpression, e.Function)
		}
		out = fmt.Sprintf("%s.%s(%s)", args[0], e.Function, strings.Join(args[1:], ", "))
	case prettyFunctions[e.Function] != "":
		if len(args) == 0 {
			return "", fmt.Errorf("%w: %s without arguments", ErrInvalidExpression, e.Function)
		}
		out = fmt.Sprintf("%s(%s)", prettyFunctions[e.Function], args[0])
	default:
		return "", fmt.Errorf("%w: unknown function %q", ErrInvalidExpression, e.Function)
	}
	if nested {
		out = "(" + out + ")"
	}
	return out, nil
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func formatList(items []any) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = formatValue(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case string:
		return quote(t)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case []any:
		return formatList(t)
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return formatList(items)
	case []int:
		items := make([]any, len(t))
		for i, n := range t {
			items[i] = n
		}
		return formatList(items)
	}
	return fmt.Sprint(v)
}

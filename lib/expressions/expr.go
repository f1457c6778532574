// Package expressions converts a small python-like filter language into
// crunch expression objects and back.
//
// The expression 'disposition == 0 or exit_status == 0' parses into
//
//	{"function": "or", "args": [
//	    {"function": "==", "args": [{"variable": "disposition"}, {"value": 0}]},
//	    {"function": "==", "args": [{"variable": "exit_status"}, {"value": 0}]}
//	]}
//
// Parsed expressions refer to variables by alias. Process rewrites them
// against a dataset's variable table into the url form the api expects.
package expressions

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidExpression = errors.New("invalid expression")

// SyntaxError reports where in the source parsing failed.
type SyntaxError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q at offset %d: %s", e.Source, e.Pos, e.Msg)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrInvalidExpression
}

// Category is one category of a categorical variable.
type Category struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Missing      bool     `json:"missing"`
	NumericValue *float64 `json:"numeric_value"`
	Selected     *bool    `json:"selected,omitempty"`
}

type TypeValue struct {
	Class      string     `json:"class"`
	Categories []Category `json:"categories,omitempty"`
}

type TypeDef struct {
	Value TypeValue `json:"value"`
}

// Expr is one node of a crunch expression. Exactly one of Function,
// Variable, Value or Column is normally set; derivations also use Type,
// References and Map.
type Expr struct {
	Function   string          `json:"function,omitempty"`
	Args       []Expr          `json:"args,omitempty"`
	Variable   string          `json:"variable,omitempty"`
	Value      any             `json:"value,omitempty"`
	Column     []any           `json:"column,omitempty"`
	Type       *TypeDef        `json:"type,omitempty"`
	References map[string]any  `json:"references,omitempty"`
	Map        map[string]Expr `json:"map,omitempty"`
	Dataset    string          `json:"dataset,omitempty"`
	Frame      *Expr           `json:"frame,omitempty"`

	// urls of the subvariables when Variable names an array, set while
	// processing and never serialized
	subvariables []string
}

func Func(name string, args ...Expr) Expr {
	return Expr{Function: name, Args: args}
}

func Var(ref string) Expr {
	return Expr{Variable: ref}
}

func Val(v any) Expr {
	return Expr{Value: v}
}

func (e Expr) IsEmpty() bool {
	return e.Function == "" && e.Variable == "" && e.Value == nil &&
		e.Column == nil && e.Type == nil && e.Map == nil && e.Dataset == "" && e.Frame == nil
}

func (e Expr) IsFunction() bool {
	return e.Function != ""
}

func (e Expr) IsVariable() bool {
	return e.Variable != ""
}

func (e Expr) IsValue() bool {
	return e.Value != nil
}

// Clone returns a deep copy of e.
func (e Expr) Clone() Expr {
	out := e
	if e.Args != nil {
		out.Args = make([]Expr, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = a.Clone()
		}
	}
	out.Value = cloneValue(e.Value)
	if e.Column != nil {
		out.Column = append([]any(nil), e.Column...)
	}
	if e.Type != nil {
		t := *e.Type
		t.Value.Categories = append([]Category(nil), e.Type.Value.Categories...)
		out.Type = &t
	}
	if e.References != nil {
		out.References = make(map[string]any, len(e.References))
		for k, v := range e.References {
			out.References[k] = cloneValue(v)
		}
	}
	if e.Map != nil {
		out.Map = make(map[string]Expr, len(e.Map))
		for k, v := range e.Map {
			out.Map[k] = v.Clone()
		}
	}
	if e.Frame != nil {
		f := e.Frame.Clone()
		out.Frame = &f
	}
	out.subvariables = append([]string(nil), e.subvariables...)
	if e.subvariables == nil {
		out.subvariables = nil
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	}
	return v
}

func (e Expr) String() string {
	serialized, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("<invalid expression: %s>", err)
	}
	return string(serialized)
}

// nest chains and/or (and the is_valid/is_missing wrappers) as right
// nested binary calls under concatenator. other functions keep a flat
// argument list.
func nest(args []Expr, function, concatenator string) Expr {
	if concatenator == "" {
		concatenator = function
	}
	switch function {
	case "or", "and", "is_missing", "is_valid":
	default:
		return Func(concatenator, args...)
	}
	if len(args) < 3 {
		return Func(concatenator, args...)
	}
	return Func(concatenator, args[0], nest(args[1:], function, concatenator))
}

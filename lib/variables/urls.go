package variables

import (
	"fmt"
	"net/url"
	"scrunch/lib/expressions"
)

// ValidateVariableURL reports whether ref is an absolute variable url.
func ValidateVariableURL(ref string) bool {
	return expressions.IsVariableURL(ref)
}

// AbsURL returns a copy of e where relative variable references are
// resolved against base.
func AbsURL(e expressions.Expr, base string) (expressions.Expr, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return expressions.Expr{}, fmt.Errorf("parse base url %q: %w", base, err)
	}
	out := e.Clone()
	err = absURL(&out, baseURL)
	if err != nil {
		return expressions.Expr{}, err
	}
	return out, nil
}

func absURL(e *expressions.Expr, base *url.URL) error {
	if e.Variable != "" && !ValidateVariableURL(e.Variable) {
		ref, err := url.Parse(e.Variable)
		if err != nil {
			return fmt.Errorf("parse variable reference %q: %w", e.Variable, err)
		}
		e.Variable = base.ResolveReference(ref).String()
	}
	for i := range e.Args {
		err := absURL(&e.Args[i], base)
		if err != nil {
			return err
		}
	}
	for k, v := range e.Map {
		err := absURL(&v, base)
		if err != nil {
			return err
		}
		e.Map[k] = v
	}
	if e.Frame != nil {
		return absURL(e.Frame, base)
	}
	return nil
}

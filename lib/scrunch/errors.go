package scrunch

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotImplemented = errors.New("not implemented")
var ErrNoCredentials = errors.New("couldn't find existing session, crunch.json5 file or environment variables")

// OrderUpdateError is returned when the server rejects an updated order.
// The local tree has been reloaded from the server by the time it is
// returned.
type OrderUpdateError struct {
	Err error
}

func (e *OrderUpdateError) Error() string {
	return fmt.Sprintf("order update failed: %s", e.Err)
}

func (e *OrderUpdateError) Unwrap() error {
	return e.Err
}

type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("Invalid path: %s", e.Path)
}

// ScriptExecutionError carries the resolutions the server suggests for
// a script that failed validation.
type ScriptExecutionError struct {
	Err         error
	Resolutions json.RawMessage
}

func (e *ScriptExecutionError) Error() string {
	if len(e.Resolutions) == 0 {
		return fmt.Sprintf("script execution failed: %s", e.Err)
	}
	return fmt.Sprintf("script execution failed: %s: %s", e.Err, e.Resolutions)
}

func (e *ScriptExecutionError) Unwrap() error {
	return e.Err
}

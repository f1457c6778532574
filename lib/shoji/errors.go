package shoji

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")
var ErrNotFound = errors.New("not found")
var ErrProgressFailed = errors.New("progress reported failure")

// Error is returned for any response with a 4xx or 5xx status.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	msg := e.message()
	if msg == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, msg)
}

func (e *Error) message() string {
	var shaped struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if json.Unmarshal(e.Body, &shaped) != nil {
		return ""
	}
	if shaped.Message != "" {
		return shaped.Message
	}
	return shaped.Description
}

func (e *Error) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func (e *Error) IsServerError() bool {
	return e.StatusCode >= 500
}

func (e *Error) JSON(v any) error {
	return json.Unmarshal(e.Body, v)
}

// StatusCode returns the http status carried by err, or 0.
func StatusCode(err error) int {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	return 0
}

func IsClientError(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.IsClientError()
}

func IsServerError(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.IsServerError()
}

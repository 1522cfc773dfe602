package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Pipeline error taxonomy. Callers always receive one of these shapes, never
// a bare panic.
var (
	ErrMalformedInput   = New(http.StatusBadRequest, "malformed_input", errors.New("malformed input"))
	ErrNotFound         = New(http.StatusNotFound, "not_found", errors.New("report not found"))
	ErrNotReady         = New(http.StatusBadRequest, "report_not_ready", errors.New("report not completed"))
	ErrAccessDenied     = New(http.StatusUnauthorized, "access_denied", errors.New("no unlock grant"))
	ErrGenerationFailed = New(http.StatusBadGateway, "generation_failed", errors.New("report generation failed"))
)

// From extracts the typed API error from a wrapped chain, defaulting to a
// 500 when no taxonomy entry matches.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "internal_error", err)
}

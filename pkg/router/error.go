package router

import (
	"encoding/json"
	"io"
	"strings"
)

// Error is an error that knows how to render itself as an http response.
type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// JsonError renders as {"code": ..., "error": ..., "reason": ...}.
// Reason is a stable snake_case identifier clients can switch on; Err is for humans.
type JsonError struct {
	Code   int    `json:"code"`
	Err    string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

// WithReason returns a copy of e carrying reason.
func (e JsonError) WithReason(reason string) JsonError {
	e.Reason = reason
	return e
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}

// ReasonOf derives a reason from the message of err: "message not found" becomes "message_not_found".
func ReasonOf(err error) string {
	return strings.Join(strings.Fields(strings.ToLower(err.Error())), "_")
}

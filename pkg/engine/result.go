package engine

import (
	"fmt"
	"net/http"
)

// Result is the per-document outcome of a write. Error entries carry the
// status and name of the failure instead of an id and revision.
type Result struct {
	OK      bool   `json:"ok,omitempty"`
	ID      string `json:"id,omitempty"`
	Rev     string `json:"rev,omitempty"`
	Error   bool   `json:"error,omitempty"`
	Status  int    `json:"status,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Err returns the error of a failed entry, nil for a successful one.
func (r Result) Err() error {
	if !r.Error {
		return nil
	}
	return &Error{Status: r.Status, Name: r.Name, Message: r.Message, Reason: r.Reason}
}

// Error is the native failure of a single-document operation.
type Error struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *Error) Error() string {
	if e.Reason != "" && e.Reason != e.Message {
		return fmt.Sprintf("%s (%d): %s: %s", e.Name, e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Status, e.Message)
}

// Result renders the error in the bulk shape.
func (e *Error) Result() Result {
	return Result{Error: true, Status: e.Status, Name: e.Name, Message: e.Message, Reason: e.Reason}
}

const (
	ReasonMissing = "missing"
	ReasonDeleted = "deleted"
)

func NotFound(reason string) *Error {
	return &Error{Status: http.StatusNotFound, Name: "not_found", Message: "missing", Reason: reason}
}

func Conflict() *Error {
	return &Error{Status: http.StatusConflict, Name: "conflict", Message: "Document update conflict"}
}

func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Name: "bad_request", Message: msg}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Name: "internal_error", Message: err.Error()}
}

// Written builds the successful result for a committed write.
func Written(id, rev string) Result {
	return Result{OK: true, ID: id, Rev: rev}
}

package shelfdb

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
)

// Kinds of Error. Match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrUpdateConflict    = errors.New("update conflict")
	ErrValidationFailed  = errors.New("validation failed")
	ErrIllegalEvent      = errors.New("illegal event")
	ErrProtectedProperty = errors.New("protected property")
	ErrGeneric           = errors.New("engine error")
)

// ErrRegistryClosed is returned by a Registry after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Error is the only error shape the store operations return.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind  error
	Op    string
	Field string
	// Message describes the failure, for engine failures it is the
	// engine's own message.
	Message string
	// Response is the engine entry that carried the failure, if any.
	Response *engine.Result
	// Err is the original error.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("shelfdb: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		b.WriteString(" (field ")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// translate scans engine results for the first error entry. A single
// document operation is translated by passing its one result.
func translate(op string, results ...engine.Result) error {
	for _, res := range results {
		if !res.Error {
			continue
		}
		return &Error{
			Kind:     kindOf(res.Status),
			Op:       op,
			Message:  res.Message,
			Response: &res,
			Err:      res.Err(),
		}
	}
	return nil
}

// translateErr maps the error of an engine call into the taxonomy.
func translateErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var shelfErr *Error
	if errors.As(err, &shelfErr) {
		return err
	}

	var engErr *engine.Error
	if errors.As(err, &engErr) {
		res := engErr.Result()
		return &Error{
			Kind:     kindOf(engErr.Status),
			Op:       op,
			Message:  engErr.Message,
			Response: &res,
			Err:      err,
		}
	}

	return &Error{Kind: ErrGeneric, Op: op, Message: err.Error(), Err: err}
}

func kindOf(status int) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrUpdateConflict
	default:
		return ErrGeneric
	}
}

package edit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoChanges is returned by Submit when the draft equals the original.
	// No request is made.
	ErrNoChanges = errors.New("edit: nothing changed")
	// ErrSubmitInFlight rejects a submission while another is running.
	ErrSubmitInFlight = errors.New("edit: a submission is already in flight")
	// ErrNotConfirmed is returned by Remove when confirmation was declined
	// or could not be obtained. It is never a server error.
	ErrNotConfirmed = errors.New("edit: deletion not confirmed")
	// ErrStale is returned when a response arrives for a submission the
	// controller has since discarded. The response is not applied.
	ErrStale = errors.New("edit: response belongs to a discarded submission")
	// ErrNotPersisted rejects Remove on a draft that was never created.
	ErrNotPersisted = errors.New("edit: entity has not been created yet")
	// ErrRemoved rejects edits to an entity that has been deleted.
	ErrRemoved = errors.New("edit: entity has been deleted")

	ErrUnknownField    = errors.New("edit: unknown field")
	ErrNotList         = errors.New("edit: field is not a list")
	ErrIndexOutOfRange = errors.New("edit: index out of range")
)

// ValidationError carries per-field errors returned by the backend.
type ValidationError struct {
	Fields  map[string][]string
	Message string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], "; ")))
	}
	msg := "edit: validation failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg + " (" + strings.Join(parts, ", ") + ")"
}

// ServerError is an unstructured rejection from the backend.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "edit: " + e.Message }

// TransportError wraps a network or parse failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "edit: transport failed: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

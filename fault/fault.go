// Package fault defines the error kinds shared by every marketplace component.
//
// Components return *Error values whose Kind is one of the sentinels below so
// callers (the engine, the HTTP layer, tests) can branch with errors.Is without
// caring which component raised the failure.
package fault

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyExists     = errors.New("already exists")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrPaused            = errors.New("operations paused")
)

// Error carries the kind of failure plus the entity it concerns.
type Error struct {
	Kind   error
	Entity string
	ID     string
	Msg    string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	subject := e.Entity
	if e.ID != "" {
		subject = fmt.Sprintf("%s %s", e.Entity, e.ID)
	}
	switch {
	case subject == "" && e.Msg == "":
		return e.Kind.Error()
	case subject == "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %s", subject, e.Kind.Error())
	}
	return fmt.Sprintf("%s: %s: %s", subject, e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, entity string, id any, format string, args ...any) error {
	e := &Error{Kind: kind, Entity: entity}
	if id != nil {
		e.ID = fmt.Sprint(id)
	}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}

func NotFound(entity string, id any) error {
	return newf(ErrNotFound, entity, id, "")
}

func Unauthorized(entity string, id any, format string, args ...any) error {
	return newf(ErrUnauthorized, entity, id, format, args...)
}

func InvalidTransition(entity string, id any, format string, args ...any) error {
	return newf(ErrInvalidTransition, entity, id, format, args...)
}

func Validation(entity string, id any, format string, args ...any) error {
	return newf(ErrValidation, entity, id, format, args...)
}

func AlreadyExists(entity string, id any, format string, args ...any) error {
	return newf(ErrAlreadyExists, entity, id, format, args...)
}

func TransferFailed(format string, args ...any) error {
	return newf(ErrTransferFailed, "", nil, format, args...)
}

func Paused() error {
	return &Error{Kind: ErrPaused}
}

var kinds = []error{
	ErrUnauthorized,
	ErrNotFound,
	ErrInvalidTransition,
	ErrValidation,
	ErrAlreadyExists,
	ErrTransferFailed,
	ErrPaused,
}

// KindOf reports the sentinel err matches, or nil for infrastructure failures.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Name returns a stable label for the kind of err, used in logs and API bodies.
func Name(err error) string {
	switch KindOf(err) {
	case ErrUnauthorized:
		return "authorization_error"
	case ErrNotFound:
		return "not_found"
	case ErrInvalidTransition:
		return "invalid_state_transition"
	case ErrValidation:
		return "validation_error"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrTransferFailed:
		return "transfer_failure"
	case ErrPaused:
		return "paused"
	}
	if err == nil {
		return ""
	}
	return "internal"
}

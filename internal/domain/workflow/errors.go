package workflow

import "errors"

// Kind classifies workflow failures for callers.
type Kind string

const (
	KindUnauthorized      Kind = "Unauthorized"
	KindInvalidTransition Kind = "InvalidTransition"
	KindStateConflict     Kind = "StateConflict"
	KindInvalidInput      Kind = "InvalidInput"
	KindNotFound          Kind = "NotFound"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test against the
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrStateConflict     = &Error{Kind: KindStateConflict}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// KindOf reports the kind of err, or "" when err is not a workflow error.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return ""
}

func unauthorized(msg string) error      { return &Error{Kind: KindUnauthorized, Message: msg} }
func invalidTransition(msg string) error { return &Error{Kind: KindInvalidTransition, Message: msg} }
func stateConflict(msg string) error     { return &Error{Kind: KindStateConflict, Message: msg} }
func invalidInput(msg string) error      { return &Error{Kind: KindInvalidInput, Message: msg} }

// NotFoundError is used by store implementations for missing rows.
func NotFoundError(what string, err error) error {
	return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
}

// ConflictError is used by store implementations when a compare-and-set misses.
func ConflictError(msg string, err error) error {
	return &Error{Kind: KindStateConflict, Message: msg, Err: err}
}

// DuplicateError is used by store implementations when a unique key is taken.
func DuplicateError(what string, err error) error {
	return &Error{Kind: KindInvalidInput, Message: what + " already exists", Err: err}
}

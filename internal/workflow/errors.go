package workflow

import "fmt"

// Error kinds returned by engine operations. Callers branch with
// errors.Is; the kind constants double as stable strings for transport
// surfaces.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindInvalidState  ErrorKind = "invalid_state"
	KindNotMergeable  ErrorKind = "not_mergeable"
	KindMergeConflict ErrorKind = "merge_conflict"
	KindMergeTimeout  ErrorKind = "merge_timeout"
	KindStorage       ErrorKind = "storage"
)

// Error is the typed failure returned by every engine operation.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two workflow errors by kind so errors.Is(err, ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel values for errors.Is checks.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrNotMergeable  = &Error{Kind: KindNotMergeable}
	ErrMergeConflict = &Error{Kind: KindMergeConflict}
	ErrMergeTimeout  = &Error{Kind: KindMergeTimeout}
	ErrStorage       = &Error{Kind: KindStorage}
)

func validationErr(format string, a ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, a...)}
}

func notFoundErr(format string, a ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, a...)}
}

func conflictErr(format string, a ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, a...)}
}

func invalidStateErr(format string, a ...any) error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, a...)}
}

func notMergeableErr(format string, a ...any) error {
	return &Error{Kind: KindNotMergeable, Msg: fmt.Sprintf(format, a...)}
}

func storageErr(msg string, err error) error {
	return &Error{Kind: KindStorage, Msg: msg, Err: err}
}

// Package certerr defines the typed error kinds shared across the
// cert-storage engine.
package certerr

import "errors"

// Kind identifies one of the fixed error categories the engine can return.
type Kind string

const (
	KindWrongThread     Kind = "wrong_thread"
	KindNullArgument    Kind = "null_argument"
	KindNotInitialized  Kind = "not_initialized"
	KindMalformedRecord Kind = "malformed_record"
	KindMalformedList   Kind = "malformed_list"
	KindInvalidFilter   Kind = "invalid_filter"
	KindTooLong         Kind = "too_long"
	KindIO              Kind = "io"
	KindClock           Kind = "clock"
	KindInternal        Kind = "internal"
)

// UserError wraps a problem caused by bad caller input: the caller can fix
// it by supplying different arguments. It is the analog of Vault's
// errutil.UserError.
type UserError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UserError) Unwrap() error { return e.Err }

// InternalError wraps a problem the caller cannot fix by changing its
// arguments: I/O failures, clock failures, unreachable states. It is the
// analog of Vault's errutil.InternalError.
type InternalError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *InternalError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *InternalError) Unwrap() error { return e.Err }

func User(kind Kind, msg string, cause error) error {
	return &UserError{Kind: kind, Msg: msg, Err: cause}
}

func Internal(kind Kind, msg string, cause error) error {
	return &InternalError{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err (or any error it wraps) is a UserError or
// InternalError carrying the given kind.
func Is(err error, kind Kind) bool {
	var ue *UserError
	if errors.As(err, &ue) && ue.Kind == kind {
		return true
	}
	var ie *InternalError
	if errors.As(err, &ie) && ie.Kind == kind {
		return true
	}
	return false
}

var (
	ErrWrongThread    = User(KindWrongThread, "called from the wrong thread", nil)
	ErrNullArgument   = User(KindNullArgument, "required argument was nil", nil)
	ErrNotInitialized = Internal(KindNotInitialized, "security state not initialized", nil)
)

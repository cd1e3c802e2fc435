// Package relayerr defines the error kinds shared by the relay components.
//
// Every component reports failures as *Error values carrying a Kind. The HTTP
// layer maps kinds to status codes; callers test for a kind with errors.Is
// against the exported sentinels:
//
//	if errors.Is(err, relayerr.ErrNotAuthenticated) {
//	    // ask the user to authorize again
//	}
package relayerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindValidation indicates missing or malformed caller input.
	KindValidation Kind = "validation_error"

	// KindAuthExchange indicates the authorization code could not be exchanged.
	KindAuthExchange Kind = "auth_exchange_error"

	// KindRefresh indicates the refresh token was rejected; reauthorization is required.
	KindRefresh Kind = "refresh_error"

	// KindProfileLookup indicates the email address could not be resolved from a token.
	KindProfileLookup Kind = "profile_lookup_error"

	// KindNotAuthenticated indicates no usable credentials exist for the email.
	KindNotAuthenticated Kind = "not_authenticated"

	// KindFetch indicates the mail API could not be read.
	KindFetch Kind = "fetch_error"

	// KindForbidden indicates the caller failed the access key check.
	KindForbidden Kind = "forbidden"

	// KindStorage indicates the credential store failed.
	KindStorage Kind = "storage_error"
)

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrAuthExchange     = &Error{Kind: KindAuthExchange}
	ErrRefresh          = &Error{Kind: KindRefresh}
	ErrProfileLookup    = &Error{Kind: KindProfileLookup}
	ErrNotAuthenticated = &Error{Kind: KindNotAuthenticated}
	ErrFetch            = &Error{Kind: KindFetch}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrStorage          = &Error{Kind: KindStorage}
)

// Error is a classified failure of one relay operation.
type Error struct {
	Kind Kind   // failure class
	Op   string // operation that failed, e.g. "inbox.list"
	Err  error  // underlying cause, may be nil
}

// New creates an Error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates an Error of the given kind with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ClientMessage returns the message sent to the client for err. Validation
// errors describe the caller's own input, so their cause is returned as is;
// every other kind gets the fixed Message text.
func ClientMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return Message("")
	}
	if e.Kind == KindValidation && e.Err != nil {
		return e.Err.Error()
	}
	return Message(e.Kind)
}

// Message returns a human-readable description of kind for the client.
// Causes are not included since they may carry provider details.
func Message(kind Kind) string {
	switch kind {
	case KindValidation:
		return "invalid request"
	case KindAuthExchange:
		return "authorization code exchange failed"
	case KindRefresh:
		return "refresh token rejected, authorize again"
	case KindProfileLookup:
		return "unable to fetch email"
	case KindNotAuthenticated:
		return "email not authenticated"
	case KindFetch:
		return "failed to fetch messages"
	case KindForbidden:
		return "invalid access key"
	case KindStorage:
		return "credential store unavailable"
	default:
		return "internal error"
	}
}

package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abramin/dynlink/internal/typemodel"
)

// ErrorKind classifies dispatch failures.
type ErrorKind string

const (
	KindNoSuchMethod          ErrorKind = "no such method"
	KindInvalidInvocationMode ErrorKind = "invalid invocation mode"
	KindInvalidStrategyFlag   ErrorKind = "invalid strategy flag"
	KindMissingStrategy       ErrorKind = "missing strategy"
	KindTypeMismatch          ErrorKind = "type mismatch"
	KindWrongMethodType       ErrorKind = "wrong method type"
	KindNilReceiver           ErrorKind = "nil receiver"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its kind.
var (
	ErrNoSuchMethod          = &Error{Kind: KindNoSuchMethod}
	ErrInvalidInvocationMode = &Error{Kind: KindInvalidInvocationMode}
	ErrInvalidStrategyFlag   = &Error{Kind: KindInvalidStrategyFlag}
	ErrMissingStrategy       = &Error{Kind: KindMissingStrategy}
	ErrTypeMismatch          = &Error{Kind: KindTypeMismatch}
	ErrWrongMethodType       = &Error{Kind: KindWrongMethodType}
	ErrNilReceiver           = &Error{Kind: KindNilReceiver}
)

// Error is a dispatch failure. Suppressed holds the failed attempts of a
// widening search, in attempt order.
type Error struct {
	Kind       ErrorKind
	Op         string
	Method     string
	Type       string
	Err        error
	Suppressed []error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Method != "" {
		b.WriteString(" ")
		b.WriteString(e.Method)
		b.WriteString(e.Type)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if n := len(e.Suppressed); n > 0 {
		fmt.Fprintf(&b, " (%d suppressed)", n)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsFatal reports whether err is a configuration defect rather than a
// recoverable lookup failure. Fatal errors must not be retried.
func IsFatal(err error) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	switch de.Kind {
	case KindInvalidInvocationMode, KindInvalidStrategyFlag, KindMissingStrategy:
		return true
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func noSuchMethod(op string, owner *typemodel.Type, name string, sig typemodel.Signature, cause error) *Error {
	return &Error{
		Kind:   KindNoSuchMethod,
		Op:     op,
		Method: owner.Name() + "." + name,
		Type:   sig.String(),
		Err:    cause,
	}
}

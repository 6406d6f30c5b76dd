// Package errors defines the error taxonomy of the capsule runtime.
//
// Every failure the runtime reports is an *Error carrying a Kind. Callers
// branch on the kind with the standard library:
//
//	if errors.Is(err, cerrors.ErrNotImplemented) {
//	    // the object does not offer that interface, try another
//	}
//
// Discovery outcomes (NotImplemented, NotFound, VersionMismatch) are ordinary
// return values. Contract violations (RefCountMisuse, Locked) signal a bug in
// the caller.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindNotImplemented     Kind = "not_implemented"
	KindVersionMismatch    Kind = "version_mismatch"
	KindNotFound           Kind = "not_found"
	KindDuplicateAttribute Kind = "duplicate_attribute"
	KindLocked             Kind = "locked"
	KindConstructionFailed Kind = "construction_failed"
	KindRefCountMisuse     Kind = "refcount_misuse"
	KindTypeMismatch       Kind = "type_mismatch"
	KindLossy              Kind = "lossy"
	KindInvalidArgument    Kind = "invalid_argument"
)

// Sentinel values for errors.Is. Only the Kind is compared.
var (
	ErrNotImplemented     = &Error{Kind: KindNotImplemented}
	ErrVersionMismatch    = &Error{Kind: KindVersionMismatch}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrDuplicateAttribute = &Error{Kind: KindDuplicateAttribute}
	ErrLocked             = &Error{Kind: KindLocked}
	ErrConstructionFailed = &Error{Kind: KindConstructionFailed}
	ErrRefCountMisuse     = &Error{Kind: KindRefCountMisuse}
	ErrTypeMismatch       = &Error{Kind: KindTypeMismatch}
	ErrLossy              = &Error{Kind: KindLossy}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
)

// Error is the structured error used throughout capsule.
type Error struct {
	Cause error

	// Op names the operation, e.g. "class.create" or "event.add".
	Op   string
	Kind Kind

	// Subject is the class ID, interface name or attribute name involved.
	Subject string
	Detail  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteByte('[')
		b.WriteString(e.Op)
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Subject != "" {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%q", e.Subject))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, and on Op when the target names one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder constructs an *Error step by step.
type Builder struct {
	err Error
}

// New starts a builder for the given operation and kind.
func New(op string, kind Kind) *Builder {
	return &Builder{err: Error{Op: op, Kind: kind}}
}

// Subject sets the subject.
func (b *Builder) Subject(s string) *Builder {
	b.err.Subject = s
	return b
}

// Detail sets the detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Cause sets the wrapped error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// NotImplemented reports that an object does not offer an interface.
func NotImplemented(op, iface string) *Error {
	return &Error{Op: op, Kind: KindNotImplemented, Subject: iface}
}

// NotFound reports an unknown class, attribute or interface.
func NotFound(op, subject string) *Error {
	return &Error{Op: op, Kind: KindNotFound, Subject: subject}
}

// VersionMismatch reports an interface present with an incompatible version.
func VersionMismatch(op, iface, have, want string) *Error {
	return &Error{
		Op:      op,
		Kind:    KindVersionMismatch,
		Subject: iface,
		Detail:  fmt.Sprintf("implements %s, requested %s", have, want),
	}
}

// Locked reports a mutation of an already dispatched event.
func Locked(op, subject string) *Error {
	return &Error{Op: op, Kind: KindLocked, Subject: subject, Detail: "event already dispatched"}
}

// ConstructionFailed wraps a factory failure.
func ConstructionFailed(op, classID string, cause error) *Error {
	return &Error{Op: op, Kind: KindConstructionFailed, Subject: classID, Cause: cause}
}

// InvalidArgument reports a rejected argument.
func InvalidArgument(op, detail string) *Error {
	return &Error{Op: op, Kind: KindInvalidArgument, Detail: detail}
}

package registry

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected transition or read.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAccessDenied
	KindInvalidArgument
	KindAlreadyRegistered
	KindNotOwnerOrIssuer
	KindNotFound
	KindForbidden
	KindAlreadyInitialized
	KindNotInitialized
	KindOutOfOrder
)

var kindNames = map[Kind]string{
	KindUnknown:            "Unknown",
	KindAccessDenied:       "AccessDenied",
	KindInvalidArgument:    "InvalidArgument",
	KindAlreadyRegistered:  "AlreadyRegistered",
	KindNotOwnerOrIssuer:   "NotOwnerOrIssuer",
	KindNotFound:           "NotFound",
	KindForbidden:          "Forbidden",
	KindAlreadyInitialized: "AlreadyInitialized",
	KindNotInitialized:     "NotInitialized",
	KindOutOfOrder:         "OutOfOrder",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a kind name back to its Kind. Unrecognized names yield KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Error is returned for every rejected operation. A transition that fails
// with an Error has not changed any state.
type Error struct {
	Kind Kind
	Op   Op
	Msg  string
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Msg == "":
		return e.Kind.String()
	case e.Op == "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	}
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

var (
	ErrAccessDenied       = &Error{Kind: KindAccessDenied}
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrAlreadyRegistered  = &Error{Kind: KindAlreadyRegistered}
	ErrNotOwnerOrIssuer   = &Error{Kind: KindNotOwnerOrIssuer}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrAlreadyInitialized = &Error{Kind: KindAlreadyInitialized}
	ErrNotInitialized     = &Error{Kind: KindNotInitialized}
	ErrOutOfOrder         = &Error{Kind: KindOutOfOrder}
)

// KindOf returns the kind carried by err, or KindUnknown if err is not a registry error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op Op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ErrorType labels the error in metrics by its kind.
func (e *Error) ErrorType() string { return e.Kind.String() }

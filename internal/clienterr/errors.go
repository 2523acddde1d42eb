// Package clienterr is the failure taxonomy shared by the pool and relayer
// clients. Every error either client returns is a *Error with one Kind.
package clienterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers connection, DNS and TLS failures, node-side RPC
	// errors and undecodable success bodies from the relayer.
	KindTransport
	KindTimeout
	// KindNodeInconsistency is a decoded chain value that breaks a domain
	// invariant, e.g. a root that is not a field element.
	KindNodeInconsistency
	KindABI
	KindConfiguration
	KindService
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport failure"
	case KindTimeout:
		return "timeout"
	case KindNodeInconsistency:
		return "node inconsistency"
	case KindABI:
		return "abi error"
	case KindConfiguration:
		return "configuration error"
	case KindService:
		return "service error"
	case KindProtocol:
		return "protocol error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrTransport         = &Error{Kind: KindTransport}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrNodeInconsistency = &Error{Kind: KindNodeInconsistency}
	ErrABI               = &Error{Kind: KindABI}
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrService           = &Error{Kind: KindService}
	ErrProtocol          = &Error{Kind: KindProtocol}
)

// Error carries the failure kind, the operation that produced it and, for
// service errors, the HTTP status and raw response body.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == KindService {
		msg = fmt.Sprintf("%s (status %d): %s", msg, e.Status, e.Body)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New wraps err with a kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an error with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Service records a relayer answer whose status was not 200.
func Service(op string, status int, body string) *Error {
	return &Error{Kind: KindService, Op: op, Status: status, Body: body}
}

// KindOf reports the kind of err, or KindUnknown when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

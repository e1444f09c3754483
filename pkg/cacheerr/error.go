// Package cacheerr defines the failure taxonomy shared by the annotation caches.
// Callers switch on KindOf(err) instead of matching concrete error types.
package cacheerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers network errors, timeouts and non-2xx upstream responses.
	KindTransport
	// KindMapping means an upstream payload did not have the expected shape.
	KindMapping
	// KindPersistence covers failures reading or writing the document store.
	KindPersistence
	// KindNotFound means a lookup produced no record.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindMapping:
		return "mapping"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Status and Body are only set for transport
// failures that produced an HTTP response.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Body   []byte
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d %s)", e.Status, http.StatusText(e.Status))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if body := strings.TrimSpace(string(e.Body)); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport returns a transport failure. status and body may be zero when the
// request never produced a response.
func Transport(op string, status int, body []byte, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Body: body, Err: err}
}

// Mapping returns a failure for an upstream payload of the wrong shape.
func Mapping(op string, err error) *Error {
	return &Error{Kind: KindMapping, Op: op, Err: err}
}

// Persistence returns a document store failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// NotFound returns a failure for a lookup that found nothing.
func NotFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// Wrap classifies err as kind unless it already carries a classification.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf returns the upstream HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

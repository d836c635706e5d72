// Package dnserr defines the error categories shared by the txtchat pipeline.
//
// Every specific error returned by the pipeline stages wraps exactly one of the
// category sentinels below, so callers can branch on the category with
// errors.Is while still matching the precise failure:
//
//	if errors.Is(err, dnserr.ErrValidation) {
//		// rejected before any I/O happened
//	}
//	if errors.Is(err, label.ErrEmptyAfterSanitization) {
//		// the prompt produced nothing usable
//	}
package dnserr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the category of input problems detected before any I/O.
	ErrValidation = errors.New("validation error")
	// ErrTransport is the category of failures moving bytes to and from a server.
	ErrTransport = errors.New("transport error")
	// ErrProtocol is the category of malformed or mismatching DNS responses.
	ErrProtocol = errors.New("protocol error")
	// ErrReassembly is the category of well-formed responses that carry no usable answer.
	ErrReassembly = errors.New("reassembly error")
)

// New returns a sentinel error that wraps category.
func New(category error, msg string) error {
	return fmt.Errorf("%w: %s", category, msg)
}

// Category reports which category err belongs to, or nil when it belongs to none.
func Category(err error) error {
	for _, c := range []error{ErrValidation, ErrTransport, ErrProtocol, ErrReassembly} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// Name returns a short lowercase name for the category of err, e.g. "protocol".
func Name(err error) string {
	switch Category(err) {
	case ErrValidation:
		return "validation"
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrReassembly:
		return "reassembly"
	default:
		return "internal"
	}
}

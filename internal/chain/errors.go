package chain

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/lc/txtchat/internal/dnserr"
)

// ErrExhausted matches any *ExhaustedError with errors.Is.
var ErrExhausted = dnserr.New(dnserr.ErrTransport, "all transports failed")

// ExhaustedError reports that every transport in the order failed. It
// unwraps to each attempt's error, so errors.Is(err, transport.ErrTimeout)
// holds when any attempt timed out.
type ExhaustedError struct {
	Attempts []Attempt
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v after %d attempts", ErrExhausted, len(e.Attempts))
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Variant, a.Err)
	}
	return b.String()
}

// Is matches ErrExhausted and the transport category.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted || target == dnserr.ErrTransport
}

// Unwrap returns the error of every attempt.
func (e *ExhaustedError) Unwrap() []error {
	var err error
	for _, a := range e.Attempts {
		err = multierr.Append(err, a.Err)
	}
	return multierr.Errors(err)
}

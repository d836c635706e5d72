// Package transport moves an encoded DNS query to a server and returns the raw
// response bytes.
//
// Four variants share the Transport interface:
//
//   - native: a github.com/miekg/dns client exchange, optionally against the
//     system resolver from resolv.conf
//   - udp: a plain UDP datagram exchange, upgraded to tcp when TC=1
//   - tcp: a 2-byte length-prefixed exchange over a TCP connection
//   - mock: an offline transport that answers every query with canned text
//
// Every failure returned by a transport wraps dnserr.ErrTransport and one of
// ErrTimeout, ErrRefused, ErrPortBlocked, ErrUnreachable, ErrIO or
// ErrUnavailable.
// Cancellation by the caller is reported as the context's error.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/lc/txtchat/internal/dnserr"
)

// Variant names a transport.
type Variant string

const (
	Native Variant = "native"
	UDP    Variant = "udp"
	TCP    Variant = "tcp"
	Mock   Variant = "mock"
)

// DefaultPort is the DNS port used when a Request carries none.
const DefaultPort = 53

// DefaultOrder is the fallback order of a networked build.
var DefaultOrder = []Variant{Native, UDP, TCP}

var (
	// ErrTimeout is returned when an attempt runs out of time.
	ErrTimeout = dnserr.New(dnserr.ErrTransport, "timeout")
	// ErrRefused is returned when the server actively refuses the connection.
	ErrRefused = dnserr.New(dnserr.ErrTransport, "connection refused")
	// ErrPortBlocked is returned when the local system or network forbids the exchange.
	ErrPortBlocked = dnserr.New(dnserr.ErrTransport, "port blocked")
	// ErrUnreachable is returned when the server cannot be reached.
	ErrUnreachable = dnserr.New(dnserr.ErrTransport, "server unreachable")
	// ErrIO is returned for any other network failure.
	ErrIO = dnserr.New(dnserr.ErrTransport, "i/o failure")
	// ErrUnavailable is returned for a variant that is not available in this build.
	ErrUnavailable = dnserr.New(dnserr.ErrTransport, "transport unavailable")
	// ErrUnknownVariant is returned by ParseVariant.
	ErrUnknownVariant = dnserr.New(dnserr.ErrValidation, "unknown transport")
)

// Request is one encoded query bound for Server.
type Request struct {
	// Query is the wire-format query.
	Query []byte
	// Server is a hostname or IP literal without a port.
	Server string
	// Port defaults to DefaultPort when zero.
	Port int
}

func (r Request) port() int {
	if r.Port == 0 {
		return DefaultPort
	}
	return r.Port
}

// Transport sends one query and returns the raw response.
type Transport interface {
	Variant() Variant
	Send(ctx context.Context, req Request) ([]byte, error)
}

// Set maps each available variant to its transport.
type Set map[Variant]Transport

// Get returns the transport registered for v.
func (s Set) Get(v Variant) (Transport, bool) {
	t, ok := s[v]
	return t, ok
}

// ParseVariant parses a variant name case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case Native, UDP, TCP, Mock:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// ParseOrder parses a list of variant names, rejecting duplicates.
func ParseOrder(names []string) ([]Variant, error) {
	out := make([]Variant, 0, len(names))
	seen := make(map[Variant]bool, len(names))
	for _, n := range names {
		v, err := ParseVariant(n)
		if err != nil {
			return nil, err
		}
		if seen[v] {
			return nil, fmt.Errorf("%w: %q listed twice", ErrUnknownVariant, n)
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// Strings returns the names of order.
func Strings(order []Variant) []string {
	out := make([]string, len(order))
	for i, v := range order {
		out[i] = string(v)
	}
	return out
}

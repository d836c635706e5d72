// Package wire encodes DNS TXT queries and decodes DNS responses (RFC 1035).
//
// Only the parts of the protocol the txtchat pipeline needs are modelled: the
// header, the question section and the answer section. Authority and
// additional records are bounds-checked and skipped.
//
// Error handling:
//
// Every error returned by this package wraps dnserr.ErrProtocol together with
// one of the specific sentinels below, so callers can match either:
//
//	errors.Is(err, wire.ErrCompressionLoop)
//	errors.Is(err, dnserr.ErrProtocol)
package wire

import (
	"fmt"

	"github.com/lc/txtchat/internal/dnserr"
)

// DNS header flags and masks (RFC 1035 Section 4.1.1).
//
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|QR|   Opcode  |AA|TC|RD|RA| Z|AD|CD|   RCODE   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
const (
	QRFlag     uint16 = 0x8000
	OpcodeMask uint16 = 0x7800
	AAFlag     uint16 = 0x0400
	TCFlag     uint16 = 0x0200
	RDFlag     uint16 = 0x0100
	RAFlag     uint16 = 0x0080
	RCodeMask  uint16 = 0x000F
)

// Record types and classes used by the pipeline.
const (
	TypeA     uint16 = 1
	TypeCNAME uint16 = 5
	TypeTXT   uint16 = 16
	TypeAAAA  uint16 = 28
	TypeOPT   uint16 = 41

	ClassIN uint16 = 1
)

// Response codes.
const (
	RcodeSuccess  uint8 = 0
	RcodeFormErr  uint8 = 1
	RcodeServFail uint8 = 2
	RcodeNXDomain uint8 = 3
	RcodeNotImp   uint8 = 4
	RcodeRefused  uint8 = 5
)

const (
	// HeaderSize is the fixed size of a DNS header in bytes.
	HeaderSize = 12
	// MaxLabelLength is the maximum length of one label.
	MaxLabelLength = 63
	// MaxNameLength is the maximum length of an encoded name.
	MaxNameLength = 255
	// MaxStringLength is the maximum length of one character-string.
	MaxStringLength = 255
	// MaxPointerJumps bounds how many compression pointers a single name may follow.
	MaxPointerJumps = 16
	// MaxRecordsPerSection caps allocations driven by header counts.
	MaxRecordsPerSection = 256
)

var (
	// ErrMalformed reports a structurally invalid message.
	ErrMalformed = dnserr.New(dnserr.ErrProtocol, "malformed message")
	// ErrTruncated reports a read past the end of the message.
	ErrTruncated = dnserr.New(dnserr.ErrProtocol, "message truncated")
	// ErrCompressionLoop reports a name that follows too many compression pointers.
	ErrCompressionLoop = dnserr.New(dnserr.ErrProtocol, "compression pointer loop")
	// ErrIDMismatch reports a response whose ID differs from the query's.
	ErrIDMismatch = dnserr.New(dnserr.ErrProtocol, "transaction id mismatch")
	// ErrQuestionMismatch reports a response echoing a different question.
	ErrQuestionMismatch = dnserr.New(dnserr.ErrProtocol, "question mismatch")
	// ErrMalformedQuestionCount reports a response with QDCOUNT other than one.
	ErrMalformedQuestionCount = dnserr.New(dnserr.ErrProtocol, "malformed question count")
	// ErrTruncatedResponse reports TC=1: the answer should be requested over TCP.
	ErrTruncatedResponse = dnserr.New(dnserr.ErrProtocol, "response truncated, retry over tcp")
	// ErrServer is wrapped by every *ServerError.
	ErrServer = dnserr.New(dnserr.ErrProtocol, "server error")
)

// ServerError reports a response the server flagged as failed (RCODE != 0) or
// that is not a standard query response.
type ServerError struct {
	Rcode  uint8
	Reason string
}

// Error implements error.
func (e *ServerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v: %s (rcode=%s)", ErrServer, e.Reason, RcodeName(e.Rcode))
	}
	return fmt.Sprintf("%v: rcode=%s", ErrServer, RcodeName(e.Rcode))
}

// Unwrap returns ErrServer so errors.Is matches the protocol category.
func (e *ServerError) Unwrap() error { return ErrServer }

// Definitive reports whether the server gave an authoritative negative answer.
// Asking the same server again over another transport cannot change it.
func (e *ServerError) Definitive() bool {
	return e.Reason == "" && e.Rcode == RcodeNXDomain
}

// RcodeName returns the mnemonic for rcode, e.g. "NXDOMAIN".
func RcodeName(rcode uint8) string {
	switch rcode {
	case RcodeSuccess:
		return "NOERROR"
	case RcodeFormErr:
		return "FORMERR"
	case RcodeServFail:
		return "SERVFAIL"
	case RcodeNXDomain:
		return "NXDOMAIN"
	case RcodeNotImp:
		return "NOTIMP"
	case RcodeRefused:
		return "REFUSED"
	default:
		return fmt.Sprintf("RCODE%d", rcode)
	}
}

package wire

import "fmt"

// Validate checks that response answers query. Checks run in order and stop
// at the first failure:
//
//  1. matching transaction ID (ErrIDMismatch)
//  2. QR=1 and Opcode=0 (*ServerError), TC=0 (ErrTruncatedResponse),
//     RCODE=0 (*ServerError)
//  3. exactly one question (ErrMalformedQuestionCount)
//  4. the echoed question matches the sent one (ErrQuestionMismatch)
func Validate(query, response *Message) error {
	if response.Header.ID != query.Header.ID {
		return fmt.Errorf("%w: sent %d, got %d", ErrIDMismatch, query.Header.ID, response.Header.ID)
	}

	h := response.Header
	switch {
	case !h.Response():
		return &ServerError{Rcode: h.Rcode(), Reason: "QR flag not set"}
	case h.Opcode() != 0:
		return &ServerError{Rcode: h.Rcode(), Reason: fmt.Sprintf("unexpected opcode %d", h.Opcode())}
	case h.Truncated():
		return ErrTruncatedResponse
	case h.Rcode() != RcodeSuccess:
		return &ServerError{Rcode: h.Rcode()}
	}

	if h.QDCount != 1 || len(response.Questions) != 1 {
		return fmt.Errorf("%w: QDCOUNT=%d", ErrMalformedQuestionCount, h.QDCount)
	}
	if len(query.Questions) != 1 {
		return fmt.Errorf("%w: query carries %d questions", ErrMalformedQuestionCount, len(query.Questions))
	}

	sent, got := query.Questions[0], response.Questions[0]
	if !EqualNames(sent.Name, got.Name) {
		return fmt.Errorf("%w: sent %q, got %q", ErrQuestionMismatch, sent.Name, got.Name)
	}
	if got.Type != TypeTXT || got.Class != ClassIN || got.Type != sent.Type || got.Class != sent.Class {
		return fmt.Errorf("%w: got type=%d class=%d", ErrQuestionMismatch, got.Type, got.Class)
	}
	return nil
}

package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lc/txtchat/internal/wire"
)

// MockTransport answers every query locally with a valid TXT response. It
// never touches the network and serves offline builds.
type MockTransport struct {
	// Response is the answer text. Empty echoes the asked label.
	Response string
	// PartSize splits longer answers into "n/N:" fragments. Zero sends one fragment.
	PartSize int
	// Delay is waited before answering, bounded by the context.
	Delay time.Duration
	TTL   uint32
}

var _ Transport = (*MockTransport)(nil)

// NewMock returns a mock transport answering with response.
func NewMock(response string) *MockTransport {
	return &MockTransport{Response: response}
}

// Variant implements Transport.
func (m *MockTransport) Variant() Variant { return Mock }

// Send implements Transport.
func (m *MockTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	if m.Delay > 0 {
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, classify(ctx, ctx.Err(), "udp")
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, classify(ctx, err, "udp")
	}

	q, err := wire.Decode(req.Query)
	if err != nil {
		return nil, err
	}
	if len(q.Questions) != 1 {
		return nil, fmt.Errorf("%w: %d questions", wire.ErrMalformedQuestionCount, len(q.Questions))
	}
	name := q.Questions[0].Name

	text := m.Response
	if text == "" {
		lbl, _, _ := strings.Cut(name, ".")
		text = "mock reply to " + strings.ReplaceAll(lbl, "-", " ")
	}

	resp := &wire.Message{
		Header:    wire.Header{ID: q.Header.ID, Flags: wire.QRFlag | wire.RDFlag | wire.RAFlag},
		Questions: q.Questions,
	}
	for _, frag := range m.fragments(text) {
		resp.Answers = append(resp.Answers, wire.TXTRecord(name, m.TTL, frag))
	}
	return resp.Marshal()
}

func (m *MockTransport) fragments(text string) []string {
	if m.PartSize <= 0 || len(text) <= m.PartSize {
		return []string{text}
	}
	size := m.partSize(len(text))
	var chunks []string
	for len(text) > size {
		chunks = append(chunks, text[:size])
		text = text[size:]
	}
	chunks = append(chunks, text)

	total := strconv.Itoa(len(chunks))
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = strconv.Itoa(i+1) + "/" + total + ":" + c
	}
	return out
}

// partSize shrinks PartSize until a prefixed fragment fits one
// character-string, so TXTRecord never splits it.
func (m *MockTransport) partSize(n int) int {
	size := min(m.PartSize, wire.MaxStringLength)
	for {
		parts := (n + size - 1) / size
		prefix := 2*len(strconv.Itoa(parts)) + 2
		if size+prefix <= wire.MaxStringLength {
			return size
		}
		size = wire.MaxStringLength - prefix
	}
}

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lc/txtchat/internal/wire"
)

// TCPTransport sends the query with a 2-byte big-endian length prefix and
// reads one length-prefixed reply.
type TCPTransport struct {
	base
}

var _ Transport = (*TCPTransport)(nil)

// NewTCP returns a TCP transport.
func NewTCP(opts ...Opt) *TCPTransport {
	return &TCPTransport{base: newBase(opts)}
}

// Variant implements Transport.
func (t *TCPTransport) Variant() Variant { return TCP }

// Send implements Transport. Answers without TXT records are not re-asked
// over TCP.
func (t *TCPTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	if len(req.Query) < wire.HeaderSize || len(req.Query) > 0xFFFF {
		return nil, fmt.Errorf("%w: query length %d", wire.ErrMalformed, len(req.Query))
	}
	addr, err := t.serverAddr(ctx, req)
	if err != nil {
		return nil, err
	}

	conn, err := t.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classify(ctx, err, "tcp")
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	frame := make([]byte, 2, 2+len(req.Query))
	binary.BigEndian.PutUint16(frame, uint16(len(req.Query)))
	frame = append(frame, req.Query...)
	if _, err := conn.Write(frame); err != nil {
		return nil, classify(ctx, err, "tcp")
	}

	var size [2]byte
	if _, err := io.ReadFull(conn, size[:]); err != nil {
		return nil, classify(ctx, err, "tcp")
	}
	resp := make([]byte, binary.BigEndian.Uint16(size[:]))
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, classify(ctx, err, "tcp")
	}
	return resp, nil
}

package transport

import (
	"context"
	"fmt"

	"github.com/lc/txtchat/internal/wire"
)

// DefaultUDPBufferSize fits any EDNS-sized answer.
const DefaultUDPBufferSize = 4096

// UDPTransport exchanges one datagram with the server over a connected socket,
// so datagrams from other peers never reach it. Replies with a foreign
// transaction ID are discarded until the attempt's deadline.
type UDPTransport struct {
	base
	BufferSize int
	// Upgrade receives the query again when the reply has TC=1. Nil returns
	// the truncated reply unchanged.
	Upgrade Transport
}

var _ Transport = (*UDPTransport)(nil)

// NewUDP returns a UDP transport that upgrades truncated replies to upgrade.
func NewUDP(bufferSize int, upgrade Transport, opts ...Opt) *UDPTransport {
	if bufferSize <= 0 {
		bufferSize = DefaultUDPBufferSize
	}
	return &UDPTransport{
		base:       newBase(opts),
		BufferSize: bufferSize,
		Upgrade:    upgrade,
	}
}

// Variant implements Transport.
func (u *UDPTransport) Variant() Variant { return UDP }

// Send implements Transport.
func (u *UDPTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	id, ok := wire.MessageID(req.Query)
	if !ok {
		return nil, fmt.Errorf("%w: query too short", wire.ErrMalformed)
	}
	addr, err := u.serverAddr(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := retryEmpty(ctx, u.Retry, func() ([]byte, error) {
		return u.exchange(ctx, addr, req.Query, id)
	})
	if err != nil {
		return nil, err
	}
	if wire.IsTruncated(resp) && u.Upgrade != nil {
		return u.Upgrade.Send(ctx, req)
	}
	return resp, nil
}

func (u *UDPTransport) exchange(ctx context.Context, addr string, query []byte, id uint16) ([]byte, error) {
	conn, err := u.Dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, classify(ctx, err, "udp")
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if _, err := conn.Write(query); err != nil {
		return nil, classify(ctx, err, "udp")
	}

	buf := make([]byte, u.BufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, classify(ctx, err, "udp")
		}
		if got, ok := wire.MessageID(buf[:n]); !ok || got != id {
			continue
		}
		return append([]byte(nil), buf[:n]...), nil
	}
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/lc/txtchat/internal/dnsresolver"
	"github.com/lc/txtchat/internal/wire"
)

// DefaultResolvConf is where the system resolver configuration is read from.
const DefaultResolvConf = "/etc/resolv.conf"

// NativeTransport exchanges the query through a github.com/miekg/dns client.
// Truncated replies are asked again over TCP within the same call.
//
// When Nameservers is set the query goes to the first of them instead of the
// requested server, which is how the host's own resolver is used.
type NativeTransport struct {
	base
	UDPClient   dnsresolver.Exchanger
	TCPClient   dnsresolver.Exchanger
	Nameservers []string
}

var _ Transport = (*NativeTransport)(nil)

// NewNative returns a native transport whose clients give up after timeout.
func NewNative(timeout time.Duration, opts ...Opt) *NativeTransport {
	b := newBase(opts)
	return &NativeTransport{
		base:      b,
		UDPClient: &dns.Client{Net: "udp", Timeout: timeout, Dialer: b.Dialer},
		TCPClient: &dns.Client{Net: "tcp", Timeout: timeout, Dialer: b.Dialer},
	}
}

// UseSystemResolver points t at the nameservers listed in path.
func (t *NativeTransport) UseSystemResolver(path string) error {
	if path == "" {
		path = DefaultResolvConf
	}
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return fmt.Errorf("read resolver config: %w", err)
	}
	if len(cc.Servers) == 0 {
		return fmt.Errorf("%w: no nameservers in %s", ErrUnavailable, path)
	}
	t.Nameservers = t.Nameservers[:0]
	for _, s := range cc.Servers {
		t.Nameservers = append(t.Nameservers, net.JoinHostPort(s, cc.Port))
	}
	return nil
}

// Variant implements Transport.
func (t *NativeTransport) Variant() Variant { return Native }

// Send implements Transport.
func (t *NativeTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	var addr string
	if len(t.Nameservers) > 0 {
		addr = t.Nameservers[0]
	} else {
		var err error
		if addr, err = t.serverAddr(ctx, req); err != nil {
			return nil, err
		}
	}

	return retryEmpty(ctx, t.Retry, func() ([]byte, error) {
		return t.exchange(ctx, req.Query, addr)
	})
}

func (t *NativeTransport) exchange(ctx context.Context, query []byte, addr string) ([]byte, error) {
	// Fresh message per exchange: the client mutates it.
	msg := new(dns.Msg)
	if err := msg.Unpack(query); err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrMalformed, err)
	}

	resp, _, err := t.UDPClient.ExchangeContext(ctx, msg, addr)
	if resp != nil && resp.Truncated && t.TCPClient != nil {
		msg = new(dns.Msg)
		if uerr := msg.Unpack(query); uerr != nil {
			return nil, fmt.Errorf("%w: %w", wire.ErrMalformed, uerr)
		}
		resp, _, err = t.TCPClient.ExchangeContext(ctx, msg, addr)
		if err != nil {
			return nil, exchangeError(ctx, err, "tcp")
		}
	} else if err != nil {
		return nil, exchangeError(ctx, err, "udp")
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty reply", wire.ErrMalformed)
	}

	b, err := resp.Pack()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrMalformed, err)
	}
	return b, nil
}

func exchangeError(ctx context.Context, err error, network string) error {
	if errors.Is(err, dns.ErrId) {
		return fmt.Errorf("%w: %w", wire.ErrIDMismatch, err)
	}
	return classify(ctx, err, network)
}

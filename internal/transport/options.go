package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/lc/txtchat/internal/wire"
)

const (
	// DefaultEmptyTries bounds how often an answer without TXT records is re-asked.
	DefaultEmptyTries = 3
	// DefaultEmptyBackoff is the first wait between such tries; it doubles each time.
	DefaultEmptyBackoff = 200 * time.Millisecond
)

// HostResolver resolves a hostname server to addresses.
// *dnsresolver.Client satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, hostname string) ([]net.IPAddr, error)
}

// Retry controls re-asking a server that answered without TXT records.
type Retry struct {
	Tries   int
	Backoff time.Duration
}

// base holds what every network transport shares.
type base struct {
	Resolver HostResolver
	Dialer   *net.Dialer
	Retry    Retry
}

func newBase(opts []Opt) base {
	b := base{
		Dialer: &net.Dialer{},
		Retry:  Retry{Tries: DefaultEmptyTries, Backoff: DefaultEmptyBackoff},
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Opt configures a network transport.
type Opt func(b *base)

// WithResolver sets the resolver used for hostname servers. Without one the
// system resolver is used.
func WithResolver(r HostResolver) Opt {
	return func(b *base) {
		b.Resolver = r
	}
}

// WithDialer sets the dialer used to open sockets.
func WithDialer(d *net.Dialer) Opt {
	return func(b *base) {
		b.Dialer = d
	}
}

// WithRetry sets how often an answer without TXT records is re-asked.
// tries <= 1 disables re-asking.
func WithRetry(tries int, backoff time.Duration) Opt {
	return func(b *base) {
		b.Retry = Retry{Tries: tries, Backoff: backoff}
	}
}

// serverAddr returns host:port for req, resolving hostnames first. IPv4
// addresses are preferred.
func (b *base) serverAddr(ctx context.Context, req Request) (string, error) {
	host := strings.Trim(strings.TrimSpace(req.Server), "[]")
	if host == "" {
		return "", fmt.Errorf("%w: empty server", ErrUnreachable)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip, uint16(req.port())).String(), nil
	}

	var (
		addrs []net.IPAddr
		err   error
	)
	if b.Resolver != nil {
		addrs, err = b.Resolver.LookupHost(ctx, host)
	} else {
		addrs, err = net.DefaultResolver.LookupIPAddr(ctx, host)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", classify(ctx, err, "udp")
		}
		return "", fmt.Errorf("%w: resolve %q: %w", ErrUnreachable, host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: %q has no addresses", ErrUnreachable, host)
	}

	pick := addrs[0].IP
	for _, a := range addrs {
		if a.IP.To4() != nil {
			pick = a.IP
			break
		}
	}
	return net.JoinHostPort(pick.String(), strconv.Itoa(req.port())), nil
}

// retryEmpty calls send until it returns an answer carrying TXT records, at
// most r.Tries times, waiting r.Backoff·2^n between tries. When ctx ends
// during a wait the last answer is returned as is.
func retryEmpty(ctx context.Context, r Retry, send func() ([]byte, error)) ([]byte, error) {
	for n := 0; ; n++ {
		resp, err := send()
		if err != nil {
			return nil, err
		}
		if n+1 >= r.Tries || !noRecords(resp) {
			return resp, nil
		}

		t := time.NewTimer(r.Backoff << n)
		select {
		case <-ctx.Done():
			t.Stop()
			return resp, nil
		case <-t.C:
		}
	}
}

// noRecords reports whether resp is a successful answer without TXT strings.
func noRecords(resp []byte) bool {
	m, err := wire.Decode(resp)
	if err != nil {
		return false
	}
	return m.Header.Rcode() == wire.RcodeSuccess && !m.Header.Truncated() && len(m.TXT()) == 0
}

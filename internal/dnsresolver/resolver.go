// Package dnsresolver looks up the addresses of hostname DNS servers before a
// query is sent to them. A and AAAA lookups run concurrently against a set of
// bootstrap resolvers and answers are cached for their TTL.
package dnsresolver

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lc/txtchat/internal/dnserr"
)

var (
	// ErrNoRecords is returned when no address records are found for a hostname.
	ErrNoRecords = dnserr.New(dnserr.ErrTransport, "no address records")
	// ErrEmptyMsg is returned when the bootstrap resolver returns no message.
	ErrEmptyMsg = dnserr.New(dnserr.ErrProtocol, "empty message")
	// ErrEmptyHostname is returned when an empty hostname is provided.
	ErrEmptyHostname = dnserr.New(dnserr.ErrValidation, "empty hostname")
)

// DefaultBootstrap is asked when no bootstrap resolvers are configured.
const DefaultBootstrap = "1.1.1.1:53"

// MaxCacheTTL caps how long an answer is reused.
const MaxCacheTTL = 5 * time.Minute

var _ Clienter = (*Client)(nil)

// Clienter defines the interface for hostname resolution.
type Clienter interface {
	// LookupHost resolves a hostname to IPv4 & IPv6 addresses.
	LookupHost(ctx context.Context, hostname string) ([]net.IPAddr, error)
}

// Exchanger defines the interface for DNS message exchange.
// *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, a string) (r *dns.Msg, rtt time.Duration, err error)
}

// Client resolves hostnames through the bootstrap resolvers.
type Client struct {
	Client    Exchanger
	Timeout   time.Duration
	Resolvers []string
	Retries   uint
	// CacheTTL caps the lifetime of cached answers; zero disables the cache.
	CacheTTL time.Duration
	Now      func() time.Time

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	addrs   []net.IPAddr
	expires time.Time
}

// Opt is a function option for configuring the Client.
type Opt func(r *Client)

// New creates a new Client with the given timeout and optional configurations.
func New(timeout time.Duration, opts ...Opt) *Client {
	res := &Client{
		Client: &dns.Client{
			Timeout: timeout,
		},
		Timeout:  timeout,
		CacheTTL: MaxCacheTTL,
		Now:      time.Now,
		cache:    make(map[string]cached),
	}

	for _, o := range opts {
		o(res)
	}

	return res
}

// WithResolvers sets the bootstrap resolvers (host:port).
// If not provided, DefaultBootstrap is used.
func WithResolvers(resolvers []string) Opt {
	return func(r *Client) {
		r.Resolvers = resolvers
	}
}

// WithTimeout overrides the timeout provided to New.
func WithTimeout(timeout time.Duration) Opt {
	return func(r *Client) {
		r.Timeout = timeout
	}
}

// WithRetries sets how many extra times each lookup is tried.
func WithRetries(n uint) Opt {
	return func(r *Client) {
		r.Retries = n
	}
}

// WithCacheTTL caps cached answers at ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Opt {
	return func(r *Client) {
		r.CacheTTL = ttl
	}
}

// LookupHost resolves hostname to its addresses. IP literals are returned as is.
func (r *Client) LookupHost(ctx context.Context, hostname string) ([]net.IPAddr, error) {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if host == "" {
		return nil, ErrEmptyHostname
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}

	if addrs, ok := r.cached(host); ok {
		return addrs, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	addrs, ttl, err := r.lookupIPs(ctx, host)
	if err != nil {
		return nil, err
	}
	r.store(host, addrs, ttl)
	return addrs, nil
}

// Flush drops every cached answer.
func (r *Client) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cached)
}

func (r *Client) cached(host string) ([]net.IPAddr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[host]
	if !ok {
		return nil, false
	}
	if !r.now().Before(c.expires) {
		delete(r.cache, host)
		return nil, false
	}
	return append([]net.IPAddr(nil), c.addrs...), true
}

func (r *Client) store(host string, addrs []net.IPAddr, ttl time.Duration) {
	ttl = min(ttl, r.CacheTTL)
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = make(map[string]cached)
	}
	r.cache[host] = cached{addrs: append([]net.IPAddr(nil), addrs...), expires: r.now().Add(ttl)}
}

func (r *Client) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// lookupIPs resolves A and AAAA records concurrently. It returns every address
// that succeeded with the smallest TTL seen, or the aggregated error if both
// queries fail.
func (r *Client) lookupIPs(ctx context.Context, host string) ([]net.IPAddr, time.Duration, error) {
	grp, ctx := errgroup.WithContext(ctx)

	var (
		mu   sync.Mutex
		ips  []net.IPAddr
		ttl  = time.Duration(-1)
		errs error
	)

	for _, qt := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		grp.Go(func() error {
			addrs, t, err := r.lookup(ctx, host, qt)
			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			ips = append(ips, addrs...)
			if ttl < 0 || t < ttl {
				ttl = t
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if len(ips) == 0 {
		return nil, 0, fmt.Errorf("dns lookup for %q: %w", host, errs)
	}
	return ips, ttl, nil
}

// lookup resolves qtype for host, retrying r.Retries additional times.
func (r *Client) lookup(ctx context.Context, host string, qtype uint16) ([]net.IPAddr, time.Duration, error) {
	var lastErr error
	for attempt := uint(0); attempt <= r.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		// ExchangeContext mutates the message, so build a fresh one each time.
		req := &dns.Msg{}
		req.SetQuestion(dns.Fqdn(host), qtype)

		resp, _, err := r.Client.ExchangeContext(ctx, req, r.getResolver())
		if err != nil {
			lastErr = err
			continue
		}
		if resp == nil {
			return nil, 0, ErrEmptyMsg
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, 0, fmt.Errorf("%w: %s does not exist", ErrNoRecords, host)
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%w: %s", ErrNoRecords, dns.RcodeToString[resp.Rcode])
			continue
		}

		ips, ttl, err := parseIPs(resp)
		if err != nil {
			return nil, 0, err
		}
		return ips, ttl, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("dns lookup failed for %q", host)
	}
	return nil, 0, lastErr
}

// parseIPs returns the A and AAAA answers of resp and their smallest TTL.
func parseIPs(resp *dns.Msg) ([]net.IPAddr, time.Duration, error) {
	if resp == nil {
		return nil, 0, ErrEmptyMsg
	}

	var (
		ips    []net.IPAddr
		minTTL uint32
	)
	for _, rr := range resp.Answer {
		var ip net.IP
		switch record := rr.(type) {
		case *dns.A:
			ip = record.A
		case *dns.AAAA:
			ip = record.AAAA
		default:
			continue
		}
		if ttl := rr.Header().Ttl; len(ips) == 0 || ttl < minTTL {
			minTTL = ttl
		}
		ips = append(ips, net.IPAddr{IP: ip})
	}

	if len(ips) == 0 {
		return nil, 0, ErrNoRecords
	}

	return ips, time.Duration(minTTL) * time.Second, nil
}

// getResolver returns a random resolver from the list of resolvers.
func (r *Client) getResolver() string {
	if len(r.Resolvers) == 0 {
		return DefaultBootstrap
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(r.Resolvers))))
	if err != nil {
		return r.Resolvers[0]
	}

	return r.Resolvers[n.Int64()]
}

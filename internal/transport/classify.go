package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/lc/txtchat/internal/dnserr"
)

// classify maps a low-level I/O error onto the transport sentinels. network is
// "udp" or "tcp": a refused UDP exchange means an ICMP port-unreachable, which
// is reported as ErrPortBlocked rather than ErrRefused.
func classify(ctx context.Context, err error, network string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dnserr.ErrTransport) {
		return err
	}
	// A closed socket after cancellation surfaces as a generic I/O error, so
	// the context decides first.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	switch {
	case isRefused(err):
		if network == "udp" {
			return fmt.Errorf("%w: %w", ErrPortBlocked, err)
		}
		return fmt.Errorf("%w: %w", ErrRefused, err)
	case isBlocked(err):
		return fmt.Errorf("%w: %w", ErrPortBlocked, err)
	case isUnreachable(err):
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

package socket

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	// DefaultWait bounds how long a Dialer retries while the daemon process exists.
	DefaultWait = 3 * time.Second
	// DefaultRetry is the pause between dial attempts.
	DefaultRetry = 100 * time.Millisecond
)

// Dialer connects to the daemon socket at Path.
type Dialer struct {
	Path string
	// Wait bounds the retries made while the daemon process is alive.
	Wait  time.Duration
	Retry time.Duration
	// Daemon is the executable name looked up by Checker.
	Daemon  string
	Checker ProcessChecker
}

// NewDialer returns a Dialer for path using the process table.
func NewDialer(path string) *Dialer {
	return &Dialer{
		Path:    path,
		Wait:    DefaultWait,
		Retry:   DefaultRetry,
		Daemon:  DaemonProcess,
		Checker: ProcessTable,
	}
}

// DialContext connects to d.Path. network and addr are ignored so the method
// can be used as http.Transport.DialContext.
//
// A failed dial returns ErrNotRunning as soon as the daemon process is gone.
// While it exists, dialing is retried for up to d.Wait and then fails with
// ErrUnresponsive.
func (d *Dialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	var dialer net.Dialer
	deadline := time.Now().Add(d.Wait)

	for {
		conn, err := dialer.DialContext(ctx, "unix", d.Path)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.Checker == nil || !d.Checker.IsRunning(d.Daemon) {
			return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnresponsive, d.Path, err)
		}

		t := time.NewTimer(d.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

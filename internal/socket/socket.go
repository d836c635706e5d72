// Package socket carries the txtchatd API over a per-user Unix domain socket.
// The daemon side is Listen; the client side is a Dialer that tells a
// stopped daemon apart from one still starting up.
package socket

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

var (
	// ErrAddressInUse is returned by Listen when a live daemon already owns the path.
	ErrAddressInUse = errors.New("address already in use")
	// ErrNotRunning is returned by the Dialer when no daemon process exists.
	ErrNotRunning = errors.New("daemon not running")
	// ErrUnresponsive is returned by the Dialer when the daemon runs but never accepts.
	ErrUnresponsive = errors.New("daemon not responding")
)

const (
	// DaemonProcess is the executable name of the daemon.
	DaemonProcess = "txtchatd"

	socketPerm = 0o600
	dirPerm    = 0o700
)

// Listen creates the daemon socket at path. A leftover socket file nobody
// answers on is replaced; a live one yields ErrAddressInUse. The socket is
// readable by its owner only.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("creating socket listener: %w", err)
	}
	if err := os.Chmod(path, socketPerm); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}
	return ln, nil
}

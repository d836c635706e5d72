//go:build unix

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}

func isBlocked(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)
}

func isUnreachable(err error) bool {
	return errors.Is(err, unix.ENETUNREACH) ||
		errors.Is(err, unix.EHOSTUNREACH) ||
		errors.Is(err, unix.ENETDOWN)
}

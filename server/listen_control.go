//go:build linux || freebsd || darwin || openbsd || netbsd || dragonfly

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/migadu/ftrd/logger"
	"golang.org/x/sys/unix"
)

// ListenReuseAddr creates a TCP listener with SO_REUSEADDR set before bind,
// so a restarted server can rebind while old sockets sit in TIME_WAIT.
func ListenReuseAddr(ctx context.Context, network, address string) (net.Listener, error) {
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	listener, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	return listener, nil
}

// ListenFirst tries each candidate address in order and returns the first
// listener that binds. The error lists every failed attempt.
func ListenFirst(ctx context.Context, candidates []string) (net.Listener, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate addresses to bind")
	}

	var errs []error
	for _, addr := range candidates {
		l, err := ListenReuseAddr(ctx, networkFor(addr), addr)
		if err == nil {
			return l, nil
		}
		logger.Debug("Bind attempt failed", "addr", addr, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, errors.Join(errs...)
}

// networkFor pins the address family of literal hosts.
func networkFor(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "tcp"
	}
	ip := net.ParseIP(host)
	switch {
	case ip == nil:
		return "tcp"
	case ip.To4() != nil:
		return "tcp4"
	default:
		return "tcp6"
	}
}

package server

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// peerGone lists the errnos a socket reports when the other side went away.
var peerGone = []error{
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
}

// IsConnectionError reports whether err only means the peer disconnected,
// the socket was closed locally, or a deadline expired. Such errors end a
// control or data connection and are logged at debug level.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// net.OpError and os.SyscallError both unwrap to the errno.
	for _, errno := range peerGone {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package ftp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	serverPkg "github.com/migadu/ftrd/server"
)

// Data connection modes.
const (
	ModePassive = "passive"
	ModeActive  = "active"
)

var (
	errDataChannelAborted = errors.New("data connection aborted")
	errDataChannelTimeout = errors.New("timed out waiting for data connection")
)

// dataChannel is one negotiation cycle: not-ready → ready → done.
//
// The background goroutine started by newPassiveChannel or newActiveChannel
// owns the socket. It closes ready once the socket exists (or failed), waits
// for done, then closes every socket exactly once and closes closed.
type dataChannel struct {
	mode     string
	listener net.Listener

	ready  chan struct{}
	done   chan struct{}
	closed chan struct{}

	// conn and err are written once before ready is closed.
	conn net.Conn
	err  error

	doneOnce     sync.Once
	listenerOnce sync.Once
	isDone       atomic.Bool

	// Handshake instrumentation, only read by the data channel tests.
	isReady    atomic.Bool
	closeCount atomic.Int32
}

// newPassiveChannel accepts exactly one connection on ln. An accept that has
// not completed within timeout fails the cycle.
func newPassiveChannel(ln net.Listener, timeout time.Duration) *dataChannel {
	dc := newDataChannel(ModePassive)
	dc.listener = ln
	go dc.serve(func() (net.Conn, error) {
		if timeout > 0 {
			if tl, ok := ln.(*net.TCPListener); ok {
				_ = tl.SetDeadline(time.Now().Add(timeout))
			}
		}
		conn, err := ln.Accept()
		// The listener is no longer needed once the single peer arrived.
		dc.closeListener()
		if err != nil {
			if dc.isDone.Load() {
				return nil, errDataChannelAborted
			}
			if serverPkg.IsTimeout(err) {
				return nil, errDataChannelTimeout
			}
			return nil, err
		}
		return conn, nil
	})
	return dc
}

// newActiveChannel wraps an already connected socket.
func newActiveChannel(conn net.Conn) *dataChannel {
	dc := newDataChannel(ModeActive)
	go dc.serve(func() (net.Conn, error) { return conn, nil })
	return dc
}

func newDataChannel(mode string) *dataChannel {
	return &dataChannel{
		mode:   mode,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (dc *dataChannel) serve(establish func() (net.Conn, error)) {
	defer close(dc.closed)

	dc.conn, dc.err = establish()
	dc.isReady.Store(dc.err == nil)
	close(dc.ready)

	<-dc.done
	if dc.conn != nil {
		dc.closeCount.Add(1)
		dc.conn.Close()
	}
	dc.closeListener()
}

// wait blocks until the socket is ready, the cycle is aborted, ctx ends, or
// timeout expires. A zero timeout waits without bound.
func (dc *dataChannel) wait(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-dc.ready:
		if dc.err != nil {
			return nil, dc.err
		}
		if dc.isDone.Load() {
			return nil, errDataChannelAborted
		}
		return dc.conn, nil
	case <-dc.done:
		return nil, errDataChannelAborted
	case <-expired:
		return nil, errDataChannelTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// failed reports whether the cycle ended without a usable socket: the
// accept failed or timed out, or the sockets are already released.
func (dc *dataChannel) failed() bool {
	select {
	case <-dc.closed:
		return true
	default:
	}
	select {
	case <-dc.ready:
		return dc.err != nil
	default:
		return false
	}
}

// finish signals done. Safe to call more than once.
func (dc *dataChannel) finish() {
	dc.doneOnce.Do(func() {
		dc.isDone.Store(true)
		close(dc.done)
	})
}

// abort signals done and unblocks a pending accept.
func (dc *dataChannel) abort() {
	dc.finish()
	dc.closeListener()
}

func (dc *dataChannel) closeListener() {
	if dc.listener == nil {
		return
	}
	dc.listenerOnce.Do(func() { dc.listener.Close() })
}

// awaitClosed blocks until the background goroutine has released the sockets.
func (dc *dataChannel) awaitClosed(timeout time.Duration) bool {
	select {
	case <-dc.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

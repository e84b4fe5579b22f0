package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ftrderrors "github.com/migadu/ftrd/pkg/errors"
	"github.com/migadu/ftrd/pkg/metrics"
	serverPkg "github.com/migadu/ftrd/server"
)

const (
	controlWriteTimeout = 30 * time.Second
	dataCloseTimeout    = 5 * time.Second
)

// TransferType is the TYPE selected by the client. It is bookkeeping only;
// bytes are never translated.
type TransferType string

const (
	TransferTypeASCII TransferType = "A"
	TransferTypeImage TransferType = "I"
)

var (
	errSessionClosed = errors.New("session closed")
	errLineTooLong   = errors.New("command line too long")
)

type Session struct {
	serverPkg.Session
	srv       *Server
	conn      net.Conn
	reader    *bufio.Reader
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	writeMutex sync.Mutex
	lastReply  atomic.Int32

	// mutex guards the protocol state below.
	mutex        sync.Mutex
	pendingUser  string
	cwd          string // relative to the account root, no leading slash
	renameFrom   string
	transferType TransferType
	passive      bool
	data         *dataChannel
	transfer     *transfer

	transferWg sync.WaitGroup
	closeOnce  sync.Once
}

func (s *Session) handleConnection() {
	defer s.close()

	if err := s.reply(StatusServiceReady, ""); err != nil {
		s.DebugLog("greeting failed: %v", err)
		return
	}
	s.Log("connected")

	for {
		line, err := s.readCommand()
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				if werr := s.reply(StatusSyntaxError, err.Error()); werr != nil {
					return
				}
				continue
			}
			if serverPkg.IsTimeout(err) {
				if s.transferInProgress() {
					continue
				}
				_ = s.reply(StatusServiceNotAvailable, "Idle timeout")
				s.Log("timed out")
				return
			}
			if s.ctx.Err() != nil {
				s.DebugLog("session stopped")
				return
			}
			if errors.Is(err, io.EOF) {
				s.Log("client dropped connection")
				return
			}
			if serverPkg.IsConnectionError(err) {
				s.DebugLog("connection error: %v", err)
				return
			}
			s.WarnLog("read error: %v", err)
			_ = s.reply(StatusServiceNotAvailable, "")
			return
		}

		cmd, params := serverPkg.ParseCommandLine(line)
		if cmd == "" {
			continue
		}

		if err := s.dispatch(cmd, params); err != nil {
			if !errors.Is(err, errSessionClosed) {
				s.WarnLog("%v", ftrderrors.NewSessionError(s.Id, cmd, err))
			}
			return
		}
	}
}

// readCommand reads one line of at most maxCommandLength bytes. Longer lines
// are discarded whole and reported as errLineTooLong.
func (s *Session) readCommand() (string, error) {
	if s.srv.idleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.idleTimeout))
	}

	line, err := s.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = s.reader.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", errLineTooLong
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return string(line), nil
		}
		return "", err
	}
	return string(line), nil
}

func (s *Session) dispatch(cmd, params string) error {
	spec, known := lookupCommand(cmd)

	var err error
	switch {
	case s.transferInProgress() && !spec.duringTransfer:
		err = s.reply(StatusBadSequence, "Transfer in progress")
	case spec.auth && !s.isLoggedIn():
		err = s.reply(StatusNotLoggedIn, "")
	default:
		err = spec.handler(s, params)
	}

	label := cmd
	if !known {
		label = "unknown"
	}
	metrics.CommandsTotal.WithLabelValues(label, metrics.StatusClass(int(s.lastReply.Load()))).Inc()
	return err
}

// reply is the single write path to the control connection. A write error is
// fatal to the session.
func (s *Session) reply(code StatusCode, extra string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	s.lastReply.Store(int32(code))
	_ = s.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	if _, err := io.WriteString(s.conn, FormatResponse(code, extra)); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return nil
}

func (s *Session) isLoggedIn() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.User != nil
}

func (s *Session) transferInProgress() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.transfer != nil
}

func (s *Session) setUser(u *serverPkg.User) {
	s.mutex.Lock()
	wasLoggedIn := s.User != nil
	s.User = u
	s.pendingUser = ""
	s.cwd = ""
	s.mutex.Unlock()

	if !wasLoggedIn {
		s.srv.authenticatedConnections.Add(1)
		metrics.AuthenticatedConnectionsCurrent.WithLabelValues(protocolName).Inc()
	}
}

// resetState returns the session to its initial, unauthenticated state and
// releases any pending data channel.
func (s *Session) resetState() {
	s.mutex.Lock()
	wasLoggedIn := s.User != nil
	s.User = nil
	s.pendingUser = ""
	s.cwd = ""
	s.renameFrom = ""
	s.transferType = TransferTypeASCII
	s.passive = false
	dc := s.data
	s.data = nil
	s.mutex.Unlock()

	if dc != nil {
		dc.abort()
		dc.awaitClosed(dataCloseTimeout)
	}
	if wasLoggedIn {
		s.srv.authenticatedConnections.Add(-1)
		metrics.AuthenticatedConnectionsCurrent.WithLabelValues(protocolName).Dec()
	}
}

// takeChannel hands the negotiated channel to a transfer command.
func (s *Session) takeChannel() *dataChannel {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	dc := s.data
	s.data = nil
	return dc
}

// forceClose unblocks every socket of the session. The read loop then exits
// and close runs.
func (s *Session) forceClose() {
	s.cancel()

	s.mutex.Lock()
	dc := s.data
	t := s.transfer
	s.mutex.Unlock()

	if t != nil {
		t.aborted.Store(true)
		t.dc.abort()
	}
	if dc != nil {
		dc.abort()
	}
	s.conn.Close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.forceClose()
		s.transferWg.Wait()
		s.resetState()

		s.srv.totalConnections.Add(-1)
		metrics.ConnectionsCurrent.WithLabelValues(protocolName).Dec()
		metrics.ConnectionDuration.WithLabelValues(protocolName).Observe(time.Since(s.startTime).Seconds())
		s.Log("closed")
	})
}

func (s *Session) info() SessionInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	info := SessionInfo{
		ID:                 s.Id,
		Remote:             s.RemoteIP,
		Cwd:                "/" + s.cwd,
		TransferInProgress: s.transfer != nil,
		StartedAt:          s.startTime,
	}
	if s.User != nil {
		info.User = s.User.Username
	}
	switch {
	case s.transfer != nil:
		info.Mode = s.transfer.dc.mode
	case s.data != nil:
		info.Mode = s.data.mode
	}
	return info
}

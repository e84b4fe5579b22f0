package ftp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/migadu/ftrd/db"
	"github.com/migadu/ftrd/logger"
	"github.com/migadu/ftrd/pkg/metrics"
	"github.com/migadu/ftrd/server/idgen"
	"lukechampine.com/blake3"
)

// Transfer directions, used as the TransferBytes label.
const (
	directionDownload = "download"
	directionUpload   = "upload"
	directionListing  = "listing"
)

const (
	historyWriteTimeout = 5 * time.Second
	maxUniqueAttempts   = 5
)

// transfer is one in-flight data transfer bound to a consumed data channel.
type transfer struct {
	command   string
	path      string
	direction string
	dc        *dataChannel

	// run streams over conn. hasher is nil for listings.
	run     func(conn net.Conn, hasher hash.Hash) (int64, error)
	cleanup func() error
	// failCode answers an I/O error during the transfer.
	failCode    StatusCode
	successNote string

	aborted atomic.Bool
}

// startTransfer runs t on its own goroutine and returns immediately. The
// final status line is written by that goroutine.
func (s *Session) startTransfer(t *transfer) error {
	s.mutex.Lock()
	s.transfer = t
	s.mutex.Unlock()

	s.transferWg.Add(1)
	go func() {
		defer s.transferWg.Done()
		s.runTransfer(t)
	}()
	return nil
}

func (s *Session) runTransfer(t *transfer) {
	start := time.Now()

	var hasher hash.Hash
	if t.direction != directionListing {
		hasher = blake3.New(32, nil)
	}

	var (
		n       int64
		connErr error
		ioErr   error
	)
	conn, connErr := t.dc.wait(s.ctx, s.srv.dataTimeout)
	if connErr == nil {
		metrics.DataConnectionsTotal.WithLabelValues(t.dc.mode, "established").Inc()
		n, ioErr = t.run(conn, hasher)
	} else if !t.aborted.Load() {
		metrics.DataConnectionsTotal.WithLabelValues(t.dc.mode, "failed").Inc()
	}

	// done: the channel goroutine may now close the socket.
	t.dc.finish()
	if !t.dc.awaitClosed(dataCloseTimeout) {
		s.WarnLog("data connection for %s did not close in time", t.command)
	}
	if t.cleanup != nil {
		if err := t.cleanup(); err != nil && ioErr == nil {
			ioErr = err
		}
	}

	s.mutex.Lock()
	s.transfer = nil
	s.mutex.Unlock()

	duration := time.Since(start)
	record := db.Transfer{
		SessionID: s.Id,
		Username:  s.User.Username,
		Command:   t.command,
		Path:      t.path,
		Bytes:     n,
		Duration:  duration,
		Result:    db.ResultOK,
	}

	code, extra := StatusOK, t.successNote
	switch {
	case t.aborted.Load():
		code, extra = StatusConnClosed, ""
		record.Result = db.ResultAborted
	case connErr != nil:
		code, extra = StatusCantOpenDataConn, connErr.Error()
		record.Result, record.Error = db.ResultFailed, connErr.Error()
	case ioErr != nil:
		code, extra = t.failCode, ioErr.Error()
		record.Result, record.Error = db.ResultFailed, ioErr.Error()
	}
	if hasher != nil && record.Result == db.ResultOK {
		record.Digest = hex.EncodeToString(hasher.Sum(nil))
	}

	s.recordTransfer(t, record)

	if err := s.reply(code, extra); err != nil {
		s.WarnLog("%v", err)
		s.forceClose()
	}
}

func (s *Session) recordTransfer(t *transfer, record db.Transfer) {
	metrics.TransfersTotal.WithLabelValues(t.command, record.Result).Inc()
	metrics.TransferBytes.WithLabelValues(t.direction).Add(float64(record.Bytes))
	metrics.TransferDuration.WithLabelValues(t.command).Observe(record.Duration.Seconds())

	logger.Access("transfer",
		"session", s.Id,
		"remote", s.RemoteIP,
		"user", record.Username,
		"command", record.Command,
		"path", record.Path,
		"bytes", record.Bytes,
		"duration", record.Duration,
		"result", record.Result,
		"digest", record.Digest,
	)
	if record.Error != "" {
		s.WarnLog("%s %s failed: %s", t.command, t.path, record.Error)
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := s.srv.history.RecordTransfer(ctx, record); err != nil {
		s.WarnLog("failed to record transfer history: %v", err)
	}
}

// armDataDeadline bounds the next read or write on the data socket.
func (s *Session) armDataDeadline(conn net.Conn) {
	if s.srv.dataTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.srv.dataTimeout))
	}
}

// copyChunks moves src to dst in transferChunkSize pieces until src reports
// EOF.
func (s *Session) copyChunks(conn net.Conn, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, transferChunkSize)
	var total int64
	for {
		s.armDataDeadline(conn)
		nr, rerr := src.Read(buf)
		if nr > 0 {
			s.armDataDeadline(conn)
			nw, werr := dst.Write(buf[:nr])
			total += int64(nw)
			if werr != nil {
				return total, werr
			}
			if nw != nr {
				return total, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

// requireChannel consumes the negotiated channel or answers 425.
func (s *Session) requireChannel() (*dataChannel, error) {
	dc := s.takeChannel()
	if dc == nil {
		return nil, s.reply(StatusCantOpenDataConn, "Use PORT, EPRT, PASV or EPSV first")
	}
	return dc, nil
}

// listTarget strips ls style flags ("-la") from a LIST argument.
func listTarget(params string) string {
	fields := strings.Fields(params)
	kept := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "-") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func (s *Session) handleList(params string) error {
	return s.startListing(CommandList, params, false)
}

func (s *Session) handleNlst(params string) error {
	return s.startListing(CommandNameList, params, true)
}

func (s *Session) startListing(command, params string, namesOnly bool) error {
	dc, err := s.requireChannel()
	if dc == nil {
		return err
	}

	rel := s.resolvePath(listTarget(params))
	entries, err := readListing(s.fsPath(rel))
	if err != nil {
		dc.abort()
		return s.reply(StatusFileNotFound, err.Error())
	}
	lines := formatListing(entries, namesOnly)

	return s.startTransfer(&transfer{
		command:   command,
		path:      displayPath(rel),
		direction: directionListing,
		dc:        dc,
		failCode:  StatusFileActionNotTaken,
		run: func(conn net.Conn, _ hash.Hash) (int64, error) {
			var b strings.Builder
			for _, line := range lines {
				b.WriteString(line)
				b.WriteString("\r\n")
			}
			return s.copyChunks(conn, conn, strings.NewReader(b.String()))
		},
	})
}

// handleStat answers over the control connection. With a path it lists like
// LIST and needs a login, but no data connection.
func (s *Session) handleStat(params string) error {
	if params == "" {
		return s.reply(StatusSystemStatus, "Server OK")
	}
	if !s.isLoggedIn() {
		return s.reply(StatusNotLoggedIn, "")
	}

	rel := s.resolvePath(listTarget(params))
	entries, err := readListing(s.fsPath(rel))
	if err != nil {
		return s.reply(StatusFileNotFound, err.Error())
	}
	return s.reply(StatusSystemStatus, strings.Join(formatListing(entries, false), "\n"))
}

func (s *Session) handleRetr(params string) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	dc, err := s.requireChannel()
	if dc == nil {
		return err
	}

	rel := s.resolvePath(params)
	f, err := os.Open(s.fsPath(rel))
	if err != nil {
		dc.abort()
		return s.reply(StatusActionAborted, err.Error())
	}
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		f.Close()
		dc.abort()
		if err == nil {
			err = fmt.Errorf("%s: is a directory", displayPath(rel))
		}
		return s.reply(StatusActionAborted, err.Error())
	}

	return s.startTransfer(&transfer{
		command:   CommandRetrieve,
		path:      displayPath(rel),
		direction: directionDownload,
		dc:        dc,
		failCode:  StatusActionAborted,
		cleanup:   f.Close,
		run: func(conn net.Conn, hasher hash.Hash) (int64, error) {
			return s.copyChunks(conn, conn, io.TeeReader(f, hasher))
		},
	})
}

func (s *Session) handleStor(params string) error {
	return s.startUpload(CommandStore, params, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

func (s *Session) handleAppe(params string) error {
	return s.startUpload(CommandAppend, params, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

func (s *Session) startUpload(command, params string, flag int) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	dc, err := s.requireChannel()
	if dc == nil {
		return err
	}

	rel := s.resolvePath(params)
	f, err := os.OpenFile(s.fsPath(rel), flag, 0644)
	if err != nil {
		dc.abort()
		return s.reply(StatusActionAborted, err.Error())
	}
	return s.startTransfer(s.uploadTransfer(command, rel, dc, f, ""))
}

// handleStou stores under a server generated name in the working directory.
func (s *Session) handleStou(_ string) error {
	dc, err := s.requireChannel()
	if dc == nil {
		return err
	}

	var (
		rel string
		f   *os.File
	)
	for attempt := 0; attempt < maxUniqueAttempts; attempt++ {
		rel = s.resolvePath("ftrd." + idgen.Short())
		f, err = os.OpenFile(s.fsPath(rel), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil || !errors.Is(err, os.ErrExist) {
			break
		}
	}
	if err != nil {
		dc.abort()
		return s.reply(StatusActionAborted, err.Error())
	}
	name := rel[strings.LastIndex(rel, "/")+1:]
	return s.startTransfer(s.uploadTransfer(CommandStoreUnique, rel, dc, f, "Stored as "+name))
}

func (s *Session) uploadTransfer(command, rel string, dc *dataChannel, f *os.File, note string) *transfer {
	return &transfer{
		command:     command,
		path:        displayPath(rel),
		direction:   directionUpload,
		dc:          dc,
		failCode:    StatusActionAborted,
		cleanup:     f.Close,
		successNote: note,
		run: func(conn net.Conn, hasher hash.Hash) (int64, error) {
			return s.copyChunks(conn, io.MultiWriter(f, hasher), conn)
		},
	}
}

// handleAbor stops the in-flight transfer, which answers 426, then answers
// 226. Without a transfer it releases an idle negotiated channel.
func (s *Session) handleAbor(_ string) error {
	s.mutex.Lock()
	t := s.transfer
	dc := s.data
	s.data = nil
	s.mutex.Unlock()

	if t != nil {
		t.aborted.Store(true)
		t.dc.abort()
		s.transferWg.Wait()
		s.Log("aborted %s %s", t.command, t.path)
		return s.reply(StatusClosingDataConn, "")
	}
	if dc != nil {
		dc.abort()
		dc.awaitClosed(dataCloseTimeout)
	}
	return s.reply(StatusClosingDataConn, "")
}

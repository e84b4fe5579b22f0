package ftp

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/migadu/ftrd/logger"
	"github.com/migadu/ftrd/pkg/metrics"
)

func (s *Session) handleUser(params string) error {
	if params == "" {
		return s.reply(StatusSyntaxError, "")
	}
	if _, ok := s.srv.lookupUser(params); !ok {
		metrics.AuthenticationAttempts.WithLabelValues(protocolName, "unknown_user").Inc()
		s.Log("unknown user %q", params)
		return s.reply(StatusInvalidCredentials, "")
	}

	// A new USER starts a new login.
	if s.isLoggedIn() {
		s.resetState()
	}
	s.mutex.Lock()
	s.pendingUser = params
	s.mutex.Unlock()
	return s.reply(StatusUsernameOK, "")
}

func (s *Session) handlePass(params string) error {
	s.mutex.Lock()
	username := s.pendingUser
	s.mutex.Unlock()
	if username == "" {
		return s.reply(StatusBadSequence, "Send USER first")
	}

	user, ok := s.srv.lookupUser(username)
	if !ok || !user.CheckPassword(params) {
		metrics.AuthenticationAttempts.WithLabelValues(protocolName, "failure").Inc()
		s.Log("authentication failed for %q", username)
		logger.Access("login", "session", s.Id, "remote", s.RemoteIP, "user", username, "result", "failure")
		return s.reply(StatusInvalidCredentials, "")
	}

	root := filepath.Join(s.srv.root, user.Root)
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", root)
		}
		s.ErrorLog("cannot enter root of %q: %v", username, err)
		return s.reply(StatusFileNotFound, err.Error())
	}

	s.setUser(user)
	metrics.AuthenticationAttempts.WithLabelValues(protocolName, "success").Inc()
	s.Log("authenticated")
	logger.Access("login", "session", s.Id, "remote", s.RemoteIP, "user", username, "result", "success")
	return s.reply(StatusUserLoggedIn, "")
}

func (s *Session) handleAcct(params string) error {
	if params == "" {
		return s.reply(StatusBadSequence, "")
	}
	if params != s.User.Username {
		return s.reply(StatusBadSequence, "The account was not found")
	}
	return s.reply(StatusUserLoggedIn, fmt.Sprintf("Username: %s, Root: %s", s.User.Username, s.User.Root))
}

func (s *Session) handleRein(_ string) error {
	s.transferWg.Wait()
	s.resetState()
	s.Log("reinitialized")
	return s.reply(StatusServiceReady, "")
}

func (s *Session) handleQuit(_ string) error {
	if s.isLoggedIn() {
		s.transferWg.Wait()
	}
	err := s.reply(StatusClosingControlConn, "")
	if tcp, ok := s.conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	s.Log("quit")
	if err != nil {
		return err
	}
	return errSessionClosed
}

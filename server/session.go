package server

import (
	"fmt"

	"github.com/migadu/ftrd/logger"
)

// ConnectionStatsProvider defines an interface for getting connection statistics
type ConnectionStatsProvider interface {
	GetTotalConnections() int64
	GetAuthenticatedConnections() int64
}

// Session carries the identity every protocol session logs with.
type Session struct {
	Id       string
	RemoteIP string
	*User
	HostName   string
	ServerName string // Name of the server instance, e.g. "ftrd"
	Protocol   string
	Stats      ConnectionStatsProvider
}

func (s *Session) logArgs(format string, args []any) []any {
	user := "none"
	if s.User != nil {
		user = s.Username
	}

	protocolPrefix := s.Protocol
	if s.ServerName != "" {
		protocolPrefix = fmt.Sprintf("%s-%s", s.Protocol, s.ServerName)
	}

	kv := []any{"protocol", protocolPrefix, "remote", s.RemoteIP, "user", user, "session", s.Id}
	if s.Stats != nil {
		kv = append(kv, "conn_total", s.Stats.GetTotalConnections(), "conn_auth", s.Stats.GetAuthenticatedConnections())
	}
	return append(kv, "msg", fmt.Sprintf(format, args...))
}

func (s *Session) Log(format string, args ...any) {
	logger.Info("Session", s.logArgs(format, args)...)
}

func (s *Session) DebugLog(format string, args ...any) {
	logger.Debug("Session", s.logArgs(format, args)...)
}

func (s *Session) WarnLog(format string, args ...any) {
	logger.Warn("Session", s.logArgs(format, args)...)
}

func (s *Session) ErrorLog(format string, args ...any) {
	logger.Error("Session", s.logArgs(format, args)...)
}

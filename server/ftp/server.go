package ftp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/migadu/ftrd/config"
	"github.com/migadu/ftrd/db"
	"github.com/migadu/ftrd/logger"
	ftrderrors "github.com/migadu/ftrd/pkg/errors"
	"github.com/migadu/ftrd/pkg/metrics"
	serverPkg "github.com/migadu/ftrd/server"
	"github.com/migadu/ftrd/server/idgen"
)

const (
	protocolName        = "ftp"
	maxCommandLength    = 512
	transferChunkSize   = 4096
	sessionDrainTimeout = 30 * time.Second
)

type Server struct {
	name     string
	hostname string
	port     int
	root     string
	users    map[string]*serverPkg.User
	history  *db.Database
	resolver serverPkg.Resolver

	idleTimeout time.Duration
	dataTimeout time.Duration

	appCtx context.Context
	cancel context.CancelFunc

	listenerMutex sync.Mutex
	listener      net.Listener

	// Connection counters
	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64

	// Session registry for shutdown broadcast
	activeSessionsMutex sync.RWMutex
	activeSessions      map[string]*Session
	sessionsWg          sync.WaitGroup

	closeOnce sync.Once
}

type Options struct {
	// History records finished transfers. Nil disables history.
	History *db.Database
	// Resolver resolves a domain name host. Nil uses net.DefaultResolver.
	Resolver serverPkg.Resolver
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	ID                 string    `json:"id"`
	Remote             string    `json:"remote"`
	User               string    `json:"user,omitempty"`
	Cwd                string    `json:"cwd"`
	Mode               string    `json:"mode,omitempty"`
	TransferInProgress bool      `json:"transfer_in_progress"`
	StartedAt          time.Time `json:"started_at"`
}

// New builds a server from a configuration snapshot. The snapshot is not
// consulted again; a reload builds a new Server.
func New(appCtx context.Context, cfg *config.Config, options Options) (*Server, error) {
	idleTimeout, err := cfg.GetIdleTimeout()
	if err != nil {
		return nil, err
	}
	dataTimeout, err := cfg.GetDataTimeout()
	if err != nil {
		return nil, err
	}

	users := make(map[string]*serverPkg.User, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = serverPkg.NewUser(u)
	}

	serverCtx, serverCancel := context.WithCancel(appCtx)

	return &Server{
		name:           cfg.ServerName,
		hostname:       cfg.Host,
		port:           cfg.Port,
		root:           cfg.Root,
		users:          users,
		history:        options.History,
		resolver:       options.Resolver,
		idleTimeout:    idleTimeout,
		dataTimeout:    dataTimeout,
		appCtx:         serverCtx,
		cancel:         serverCancel,
		activeSessions: make(map[string]*Session),
	}, nil
}

// Listen binds the control listener, trying every resolved candidate address
// in order. Start calls it when it has not been called yet.
func (s *Server) Listen() error {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	if s.listener != nil {
		return nil
	}

	candidates, err := serverPkg.ResolveHost(s.appCtx, s.resolver, s.hostname, s.port)
	if err != nil {
		return ftrderrors.NewServerError("resolve", s.hostname, err)
	}
	listener, err := serverPkg.ListenFirst(s.appCtx, candidates)
	if err != nil {
		return ftrderrors.NewServerError("listen", fmt.Sprintf("%s:%d", s.hostname, s.port), err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound control address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start(errChan chan error) {
	if err := s.Listen(); err != nil {
		s.cancel()
		errChan <- err
		return
	}

	s.listenerMutex.Lock()
	listener := s.listener
	s.listenerMutex.Unlock()
	defer listener.Close()

	logger.Info("FTP server listening", "name", s.name, "addr", listener.Addr().String(), "idle_timeout", s.idleTimeout, "data_timeout", s.dataTimeout)

	go func() {
		<-s.appCtx.Done()
		logger.Debug("FTP: stopping", "name", s.name)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("FTP server stopped gracefully", "name", s.name)
				return
			default:
				if serverPkg.IsTimeout(err) {
					continue
				}
				errChan <- ftrderrors.NewServerError("accept", listener.Addr().String(), err)
				return
			}
		}

		sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

		totalCount := s.totalConnections.Add(1)
		authCount := s.authenticatedConnections.Load()

		metrics.ConnectionsTotal.WithLabelValues(protocolName).Inc()
		metrics.ConnectionsCurrent.WithLabelValues(protocolName).Inc()

		session := &Session{
			srv:          s,
			conn:         conn,
			reader:       bufio.NewReaderSize(conn, maxCommandLength),
			ctx:          sessionCtx,
			cancel:       sessionCancel,
			transferType: TransferTypeASCII,
			startTime:    time.Now(),
		}
		session.RemoteIP, _ = serverPkg.GetHostPortFromAddr(conn.RemoteAddr())
		session.Protocol = "FTP"
		session.ServerName = s.name
		session.Id = idgen.New()
		session.HostName = s.hostname
		session.Stats = s

		logger.Debug("FTP: new connection", "name", s.name, "remote", session.RemoteIP, "total_connections", totalCount, "authenticated_connections", authCount)

		s.addSession(session)
		s.sessionsWg.Add(1)

		go func() {
			defer s.sessionsWg.Done()
			defer s.removeSession(session)
			session.handleConnection()
		}()
	}
}

// Close notifies live sessions, stops accepting and waits for sessions to
// drain.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		// Step 1: tell every client before sockets go away
		s.sendGracefulShutdownMessage()

		// Step 2: cancel the server context; closes the listener
		s.cancel()

		// Step 3: force-quit sessions still blocked on reads
		for _, session := range s.sessionsSnapshot() {
			session.forceClose()
		}

		s.waitForSessionsDrain(sessionDrainTimeout)
	})
}

func (s *Server) waitForSessionsDrain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("FTP: All sessions drained gracefully", "name", s.name)
	case <-time.After(timeout):
		logger.Warn("FTP: Session drain timeout, forcing shutdown", "name", s.name, "timeout", timeout)
	}
}

func (s *Server) addSession(session *Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	s.activeSessions[session.Id] = session
}

func (s *Server) removeSession(session *Session) {
	s.activeSessionsMutex.Lock()
	defer s.activeSessionsMutex.Unlock()
	delete(s.activeSessions, session.Id)
}

func (s *Server) sessionsSnapshot() []*Session {
	s.activeSessionsMutex.RLock()
	defer s.activeSessionsMutex.RUnlock()
	sessions := make([]*Session, 0, len(s.activeSessions))
	for _, session := range s.activeSessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (s *Server) sendGracefulShutdownMessage() {
	sessions := s.sessionsSnapshot()
	if len(sessions) == 0 {
		return
	}

	logger.Debug("FTP: Sending shutdown notice to active connections", "name", s.name, "count", len(sessions))
	for _, session := range sessions {
		// Best effort; the client may already be gone.
		_ = session.reply(StatusServiceNotAvailable, "")
	}
}

// Sessions lists live sessions ordered by start time.
func (s *Server) Sessions() []SessionInfo {
	sessions := s.sessionsSnapshot()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.activeSessionsMutex.RLock()
	defer s.activeSessionsMutex.RUnlock()
	return len(s.activeSessions)
}

func (s *Server) lookupUser(username string) (*serverPkg.User, bool) {
	u, ok := s.users[username]
	return u, ok
}

// GetTotalConnections returns the current total connection count
func (s *Server) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}

// GetAuthenticatedConnections returns the current authenticated connection count
func (s *Server) GetAuthenticatedConnections() int64 {
	return s.authenticatedConnections.Load()
}

package errors

import "fmt"

// ConfigurationError is a malformed, missing or unreadable configuration.
// Fatal at startup; on reload the previous configuration stays in effect.
type ConfigurationError struct {
	Path string
	Err  error
}

func NewConfigurationError(path string, err error) *ConfigurationError {
	return &ConfigurationError{Path: path, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in '%s': %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ServerError is a socket, bind, listen or address resolution failure.
type ServerError struct {
	Op   string
	Addr string
	Err  error
}

func NewServerError(op, addr string, err error) *ServerError {
	return &ServerError{Op: op, Addr: addr, Err: err}
}

func (e *ServerError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("server %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// SessionError is a per-connection failure. It never terminates the process.
type SessionError struct {
	SessionID string
	Command   string
	Err       error
}

func NewSessionError(sessionID, command string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Command: command, Err: err}
}

func (e *SessionError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Command, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

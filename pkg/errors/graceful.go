package errors

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/migadu/ftrd/logger"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

type GracefulError struct {
	Operation string
	Err       error
}

func (g *GracefulError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", g.Operation, g.Err)
}

func (g *GracefulError) Unwrap() error {
	return g.Err
}

func NewGracefulError(operation string, err error) *GracefulError {
	return &GracefulError{
		Operation: operation,
		Err:       err,
	}
}

type ErrorHandler struct {
	exitChannel chan int
	logger      *log.Logger
}

func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		exitChannel: make(chan int, 1),
		logger:      log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
	}
}

func (eh *ErrorHandler) exit(code int) {
	select {
	case eh.exitChannel <- code:
	default:
	}
}

func (eh *ErrorHandler) FatalError(operation string, err error) {
	gracefulErr := NewGracefulError(operation, err)
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		eh.logger.Printf("FATAL: server error: %v", gracefulErr)
	} else {
		eh.logger.Printf("FATAL: %v", gracefulErr)
	}
	eh.exit(ExitFailure)
}

func (eh *ErrorHandler) ConfigError(configPath string, err error) {
	if os.IsNotExist(err) {
		eh.logger.Printf("ERROR: configuration file '%s' not found: %v", configPath, err)
	} else {
		eh.logger.Printf("ERROR: %v", NewConfigurationError(configPath, err))
	}
	eh.exit(ExitFailure)
}

func (eh *ErrorHandler) ValidationError(field string, err error) {
	eh.logger.Printf("ERROR: invalid configuration - %s: %v", field, err)
	eh.exit(ExitFailure)
}

// CleanExit records a successful shutdown.
func (eh *ErrorHandler) CleanExit() {
	eh.exit(ExitOK)
}

func (eh *ErrorHandler) WaitForExit() int {
	return <-eh.exitChannel
}

func (eh *ErrorHandler) WaitForExitWithTimeout(timeout time.Duration) (int, bool) {
	select {
	case code := <-eh.exitChannel:
		return code, true
	case <-time.After(timeout):
		return 0, false
	}
}

func (eh *ErrorHandler) Shutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		logger.Info("Graceful shutdown initiated")
	default:
		logger.Warn("Unexpected shutdown")
	}
}

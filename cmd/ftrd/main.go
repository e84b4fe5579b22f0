package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/migadu/ftrd/config"
	"github.com/migadu/ftrd/db"
	"github.com/migadu/ftrd/logger"
	ftrderrors "github.com/migadu/ftrd/pkg/errors"
	"github.com/migadu/ftrd/pkg/metrics"
	"github.com/migadu/ftrd/server/ftp"
	"github.com/migadu/ftrd/server/httpapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultPrefix        = "/usr/local/ftrd"
	historyStatsInterval = time.Minute
	serviceStopTimeout   = 10 * time.Second
	httpShutdownTimeout  = 5 * time.Second
)

type options struct {
	configPath  string
	prefix      string
	testConfig  bool
	showVersion bool
	daemonize   bool
}

var errDaemonUnsupported = errors.New("daemon mode is not supported, run ftrd under a service manager instead")

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("ftrd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "c", "", "Use the specified configuration file")
	fs.StringVar(&opts.configPath, "config", "", "Use the specified configuration file")
	fs.StringVar(&opts.prefix, "p", defaultPrefix, "Set the path of the prefix")
	fs.BoolVar(&opts.testConfig, "t", false, "Test the configuration file and exit")
	fs.BoolVar(&opts.showVersion, "v", false, "Show server version and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Show server version and exit")
	fs.BoolVar(&opts.daemonize, "d", false, "Run the server in the background (unsupported)")
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: ftrd -[htv] [-p prefix] [-c conf]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if opts.configPath == "" {
		opts.configPath = filepath.Join(opts.prefix, config.DefaultConfigFile)
	}
	return opts, nil
}

// loadConfig reads a full configuration snapshot. Relative log and history
// paths are anchored to prefix.
func loadConfig(path, prefix string) (config.Config, error) {
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolvePaths(prefix)
	return cfg, nil
}

func main() {
	errorHandler := ftrderrors.NewErrorHandler()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(ftrderrors.ExitOK)
		}
		fmt.Fprintf(os.Stderr, "ftrd: %v\n", err)
		os.Exit(ftrderrors.ExitFailure)
	}

	if opts.showVersion {
		fmt.Fprintf(os.Stderr, "ftrd version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(ftrderrors.ExitOK)
	}

	if opts.testConfig {
		os.Exit(testConfig(opts, os.Stderr))
	}

	if opts.daemonize {
		errorHandler.ValidationError("-d", errDaemonUnsupported)
		os.Exit(errorHandler.WaitForExit())
	}

	cfg, err := loadConfig(opts.configPath, opts.prefix)
	if err != nil {
		errorHandler.ConfigError(opts.configPath, err)
		os.Exit(errorHandler.WaitForExit())
	}

	signalChan := make(chan os.Signal, 8)
	signal.Notify(signalChan, unix.SIGTERM, unix.SIGINT, unix.SIGQUIT, unix.SIGHUP, unix.SIGCHLD)
	defer signal.Stop(signalChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Each cycle owns one configuration snapshot. A reload ends the cycle and
	// starts the next one with the new snapshot.
	for {
		next, err := runServer(ctx, cfg, opts, signalChan)
		if err != nil {
			errorHandler.FatalError("run server", err)
			os.Exit(errorHandler.WaitForExit())
		}
		if next == nil {
			break
		}
		cfg = *next
		logger.Info("Restarting with reloaded configuration")
	}

	errorHandler.Shutdown(ctx)
	errorHandler.CleanExit()
	os.Exit(errorHandler.WaitForExit())
}

func testConfig(opts options, w io.Writer) int {
	fmt.Fprint(w, "Testing the configuration file...")
	if _, err := loadConfig(opts.configPath, opts.prefix); err != nil {
		fmt.Fprintf(w, "Failed. %v\n", err)
		return ftrderrors.ExitFailure
	}
	fmt.Fprint(w, "OK.\n")
	return ftrderrors.ExitOK
}

// runServer runs one server cycle. It returns the configuration for the next
// cycle after a successful reload, or nil when the process should exit.
func runServer(parent context.Context, cfg config.Config, opts options, signals <-chan os.Signal) (*config.Config, error) {
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ftrd: warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	serverLogs, err := logger.OpenServerLogs(cfg.AccessLog, cfg.ErrorLog)
	if err != nil {
		return nil, ftrderrors.NewConfigurationError(opts.configPath, err)
	}
	defer serverLogs.Close()

	logger.Info("ftrd starting", "version", version, "commit", commit, "built", date)
	logger.Info("Logging configured", "format", cfg.Logging.Format, "level", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(parent)

	var (
		services sync.WaitGroup
		history  *db.Database
		srv      *ftp.Server
	)
	defer func() {
		if srv != nil {
			srv.Close()
		}
		cancel()
		waitForServices(&services)
		history.Close()
	}()

	if cfg.History.Enabled {
		history, err = db.Open(ctx, cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transfer history: %w", err)
		}

		retention, _ := cfg.GetHistoryRetention()
		history.StartCleaner(ctx, retention)

		collector := metrics.NewCollector(history, historyStatsInterval)
		services.Add(1)
		go func() {
			defer services.Done()
			collector.Start(ctx)
		}()
	}

	srv, err = ftp.New(ctx, &cfg, ftp.Options{History: history})
	if err != nil {
		return nil, ftrderrors.NewConfigurationError(opts.configPath, err)
	}
	if err := srv.Listen(); err != nil {
		return nil, err
	}

	errChan := make(chan error, 4)
	services.Add(1)
	go func() {
		defer services.Done()
		srv.Start(errChan)
	}()

	// Metrics share the API listener when both are configured on one address.
	shareMetrics := cfg.Metrics.Enabled && cfg.HTTPAPI.Enabled && cfg.Metrics.Addr == cfg.HTTPAPI.Addr
	if cfg.HTTPAPI.Enabled {
		apiOptions := httpapi.ServerOptions{
			Addr:         cfg.HTTPAPI.Addr,
			APIKey:       cfg.HTTPAPI.APIKey,
			AllowedHosts: cfg.HTTPAPI.AllowedHosts,
		}
		if history != nil {
			apiOptions.History = history
		}
		if shareMetrics {
			apiOptions.MetricsPath = cfg.Metrics.Path
		}
		services.Add(1)
		go func() {
			defer services.Done()
			httpapi.Start(ctx, srv, apiOptions, errChan)
		}()
	}
	if cfg.Metrics.Enabled && !shareMetrics {
		services.Add(1)
		go func() {
			defer services.Done()
			startMetricsServer(ctx, cfg.Metrics, errChan)
		}()
	}

	for {
		select {
		case sig := <-signals:
			switch sig {
			case unix.SIGTERM, unix.SIGINT, unix.SIGQUIT:
				logger.Info("Received signal, shutting down", "signal", sig)
				return nil, nil
			case unix.SIGHUP:
				next, err := loadConfig(opts.configPath, opts.prefix)
				if err != nil {
					metrics.ConfigReloadsTotal.WithLabelValues("failure").Inc()
					logger.Error("Configuration reload failed, keeping the current configuration", "path", opts.configPath, "error", err)
					continue
				}
				metrics.ConfigReloadsTotal.WithLabelValues("success").Inc()
				logger.Info("Configuration reloaded", "path", opts.configPath)
				return &next, nil
			case unix.SIGCHLD:
				reapChildren()
			}
		case err := <-errChan:
			return nil, err
		}
	}
}

func waitForServices(services *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		services.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(serviceStopTimeout):
		logger.Warn("Service shutdown timeout reached", "timeout", serviceStopTimeout)
	}
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down metrics server", "error", err)
		}
	}()

	logger.Info("Starting metrics server", "addr", cfg.Addr, "path", path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}

// reapChildren collects every exited child without blocking.
func reapChildren() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		logger.Debug("Reaped child process", "pid", pid, "status", status.ExitStatus())
	}
}

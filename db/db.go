// Package db stores the transfer history in a local SQLite database.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/migadu/ftrd/logger"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

const cleanupInterval = time.Hour

// Database is the transfer history. A nil *Database is valid and records nothing.
type Database struct {
	db   *sql.DB
	path string

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

type migrationLogger struct{}

func (l *migrationLogger) Printf(format string, v ...any) {
	logger.Infof("[MIGRATE] "+format, v...)
}

func (l *migrationLogger) Verbose() bool {
	return false
}

// Open opens (creating if needed) the history database at path and brings
// its schema up to date.
func Open(ctx context.Context, path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("history database path is not set")
	}

	if err := runMigrations(path); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("History: failed to set PRAGMA journal_mode = WAL", "error", err)
	}
	if _, err := sqlDB.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		logger.Warn("History: failed to set PRAGMA busy_timeout", "error", err)
	}

	logger.Info("History: database ready", "path", path)
	return &Database{db: sqlDB, path: path, stop: make(chan struct{})}, nil
}

// runMigrations applies the embedded migrations on a dedicated connection;
// the sqlite migrate driver closes its *sql.DB when the migrator is closed.
func runMigrations(path string) error {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sql.DB for migrations: %w", err)
	}

	migrations, err := fs.Sub(MigrationsFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to get migrations subdirectory: %w", err)
	}
	sourceDriver, err := iofs.New(migrations, ".")
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrationLogger{}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close stops the cleaner and closes the database.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
	return d.db.Close()
}

// StartCleaner purges rows older than retention once an hour until Close or
// ctx cancellation. A zero retention disables the cleaner.
func (d *Database) StartCleaner(ctx context.Context, retention time.Duration) {
	if d == nil || retention <= 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		d.purge(ctx, retention)
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-ticker.C:
				d.purge(ctx, retention)
			}
		}
	}()
}

func (d *Database) purge(ctx context.Context, retention time.Duration) {
	n, err := d.PurgeOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warn("History: purge failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("History: purged old transfers", "count", n, "retention", retention)
	}
}

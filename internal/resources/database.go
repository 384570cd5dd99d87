package resources

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/Proton-105/shutdown-sequencer/pkg/config"
)

// Database is a PostgreSQL connection pool released on shutdown.
type Database struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenDatabase opens and pings a PostgreSQL pool.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Database, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewDatabase(db, log), nil
}

// NewDatabase wraps an existing pool.
func NewDatabase(db *sql.DB, log *slog.Logger) *Database {
	if log == nil {
		log = slog.Default()
	}
	return &Database{db: db, log: log}
}

// DB exposes the underlying pool.
func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Name() string { return config.ResourceDatabase }

// Close waits for checked-out connections to be returned, then closes the pool.
func (d *Database) Close(ctx context.Context) error {
	if d == nil || d.db == nil {
		return nil
	}

	stats := d.db.Stats()
	d.log.Info("closing database connection", slog.Int("open_connections", stats.OpenConnections), slog.Int("in_use", stats.InUse))

	return closeWithContext(ctx, d.db.Close)
}

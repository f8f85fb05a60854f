package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/treesync/internal/utils"
)

const memoryPath = ":memory:"

type pragma struct {
	name, value string
}

// applied in order to every new database
var defaultPragmas = []pragma{
	{"journal_mode", "WAL"},
	{"busy_timeout", "5000"},
	{"foreign_keys", "ON"},
	{"temp_store", "MEMORY"},
	{"cache_size", "8000"},
}

type sqliteConfig struct {
	path         string
	pragmas      []pragma
	maxOpenConns int
}

// SqliteOption configures NewSqliteDB
type SqliteOption func(*sqliteConfig)

// WithPath sets the database file. ":memory:" keeps everything in memory.
func WithPath(path string) SqliteOption {
	return func(c *sqliteConfig) {
		c.path = path
	}
}

// WithPragma sets one pragma, replacing its default when there is one.
func WithPragma(name, value string) SqliteOption {
	return func(c *sqliteConfig) {
		for i, p := range c.pragmas {
			if p.name == name {
				c.pragmas[i].value = value
				return
			}
		}
		c.pragmas = append(c.pragmas, pragma{name, value})
	}
}

func WithMaxOpenConns(n int) SqliteOption {
	return func(c *sqliteConfig) {
		c.maxOpenConns = n
	}
}

func (c *sqliteConfig) dsn() string {
	if c.path == memoryPath {
		return memoryPath
	}
	return fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", c.path)
}

func (c *sqliteConfig) pragmaSQL() string {
	var b strings.Builder
	for _, p := range c.pragmas {
		fmt.Fprintf(&b, "PRAGMA %s=%s;\n", p.name, p.value)
	}
	return b.String()
}

// NewSqliteDB opens a SQLite database with the driver picked at build time.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &sqliteConfig{
		path:    memoryPath,
		pragmas: append([]pragma(nil), defaultPragmas...),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.path == memoryPath {
		// every connection to :memory: is a separate database
		cfg.maxOpenConns = 1
	} else if err := utils.EnsureParent(cfg.path); err != nil {
		return nil, fmt.Errorf("ensure parent directory: %w", err)
	}

	slog.Debug("db", "driver", driverID, "path", cfg.path)
	db, err := sqlx.Connect(driverName, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxOpenConns)
	}

	if _, err := db.Exec(cfg.pragmaSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// ApplySchema runs each statement in order inside one transaction
func ApplySchema(ctx context.Context, db *sqlx.DB, statements ...string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return tx.Commit()
}

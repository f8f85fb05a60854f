package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/treesync/internal/db"
	"github.com/openmined/treesync/internal/treesync"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
    path TEXT PRIMARY KEY,
    parent_path TEXT NOT NULL,
    name TEXT NOT NULL,
    is_dir INTEGER NOT NULL,
    remote_id TEXT,
    remote_parent_id TEXT,
    etag TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL, -- fixed width UTC, see timeLayout
    size INTEGER NOT NULL DEFAULT 0,
    content BLOB
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_remote_id ON nodes(remote_id) WHERE remote_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_nodes_parent_path ON nodes(parent_path);
CREATE INDEX IF NOT EXISTS idx_nodes_remote_parent_id ON nodes(remote_parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_last_modified ON nodes(last_modified);

CREATE TABLE IF NOT EXISTS sync_state (
    direction TEXT PRIMARY KEY,
    last_sync TEXT NOT NULL
);
`

// timeLayout keeps every stored timestamp the same width so string order is
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now for the timestamps user operations write.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the local document tree, kept in SQLite. Every read and write goes
// through a Tx.
type Store struct {
	db   *sqlx.DB
	path string
	now  func() time.Time
}

// Open opens (or creates) the store at path and makes sure the root exists.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := db.ApplySchema(ctx, conn, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize local store schema: %w", err)
	}

	s := &Store{db: conn, path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Update(ctx, func(tx *Tx) error { return tx.EnsureRoot(ctx) }); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close local store", "error", err)
		return err
	}
	slog.Debug("local store closed", "path", s.path)
	return nil
}

// Begin starts a transaction. The caller must Commit or Rollback it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, now: s.now}, nil
}

// Update runs fn in a transaction and commits when it returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return tx.Commit()
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	return fn(tx)
}

var (
	_ treesync.LocalStore       = (*Tx)(nil)
	_ treesync.LocalSnapshotter = (*Tx)(nil)
)

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/treesync/internal/treesync"
)

const selectNode = `
SELECT n.path, n.parent_path, n.name, n.is_dir, n.remote_id, n.remote_parent_id,
       n.etag, n.last_modified, n.size, p.remote_id AS parent_remote_id
FROM nodes n
LEFT JOIN nodes p ON p.path = n.parent_path`

// dbNode is a row of the nodes table plus the actual parent's remote id.
type dbNode struct {
	Path           string         `db:"path"`
	ParentPath     string         `db:"parent_path"`
	Name           string         `db:"name"`
	IsDir          bool           `db:"is_dir"`
	RemoteID       sql.NullString `db:"remote_id"`
	RemoteParentID sql.NullString `db:"remote_parent_id"`
	ETag           string         `db:"etag"`
	LastModified   string         `db:"last_modified"`
	Size           int64          `db:"size"`
	ParentRemoteID sql.NullString `db:"parent_remote_id"`
}

func (n dbNode) entry() (treesync.Entry, error) {
	modTime, err := parseTime(n.LastModified)
	if err != nil {
		return treesync.Entry{}, fmt.Errorf("failed to parse stored timestamp for %s: %w", n.Path, err)
	}
	return treesync.Entry{
		Side:         treesync.SideLocal,
		Path:         n.Path,
		ETag:         n.ETag,
		ID:           n.RemoteID.String,
		ParentID:     n.ParentRemoteID.String,
		LastModified: modTime,
		Ref:          n.Path,
	}, nil
}

// Node is a record as the CLI shows it.
type Node struct {
	treesync.Entry
	Size int64 `json:"size" yaml:"size"`
}

// Tx is one transaction on the store. It implements treesync.LocalStore.
type Tx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// prefixRange returns bounds matching every path strictly below dir. The
// character after the separator in byte order is '0'.
func prefixRange(dir string) (lo, hi string) {
	return dir, dir[:len(dir)-1] + "0"
}

func (t *Tx) getNode(ctx context.Context, where string, args ...any) (*dbNode, error) {
	var n dbNode
	err := t.tx.GetContext(ctx, &n, selectNode+" WHERE "+where, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (t *Tx) selectEntries(ctx context.Context, where string, args ...any) ([]treesync.Entry, error) {
	var rows []dbNode
	if err := t.tx.SelectContext(ctx, &rows, selectNode+" WHERE "+where+" ORDER BY n.path", args...); err != nil {
		return nil, err
	}
	out := make([]treesync.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *Tx) lookup(ctx context.Context, where string, args ...any) (*treesync.Entry, error) {
	n, err := t.getNode(ctx, where, args...)
	if err != nil || n == nil {
		return nil, err
	}
	e, err := n.entry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *Tx) ByID(ctx context.Context, id string) (*treesync.Entry, error) {
	if id == "" {
		return nil, nil
	}
	e, err := t.lookup(ctx, "n.remote_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query id %s: %w", id, err)
	}
	return e, nil
}

func (t *Tx) ByPath(ctx context.Context, path string) (*treesync.Entry, error) {
	e, err := t.lookup(ctx, "n.path = ?", path)
	if err != nil {
		return nil, fmt.Errorf("failed to query path %s: %w", path, err)
	}
	return e, nil
}

// ChildIDs lists the remote ids last synced under dir.
func (t *Tx) ChildIDs(ctx context.Context, dir treesync.Entry) ([]string, error) {
	if dir.ID == "" {
		return nil, nil
	}
	var ids []string
	err := t.tx.SelectContext(ctx, &ids,
		"SELECT remote_id FROM nodes WHERE remote_parent_id = ? AND remote_id IS NOT NULL ORDER BY path", dir.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", dir.Path, err)
	}
	return ids, nil
}

// Children lists the records directly inside dir.
func (t *Tx) Children(ctx context.Context, dir treesync.Entry) ([]treesync.Entry, error) {
	entries, err := t.selectEntries(ctx, "n.parent_path = ?", dir.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", dir.Path, err)
	}
	return entries, nil
}

// List returns the records directly inside dir with their sizes.
func (t *Tx) List(ctx context.Context, dir string) ([]Node, error) {
	var rows []dbNode
	err := t.tx.SelectContext(ctx, &rows, selectNode+" WHERE n.parent_path = ? ORDER BY n.path", dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, Node{Entry: e, Size: row.Size})
	}
	return nodes, nil
}

func (t *Tx) Content(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := t.tx.GetContext(ctx, &data, "SELECT content FROM nodes WHERE path = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", key, treesync.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read content of %s: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Snapshot lists the root and every record modified after since. A zero
// since lists everything.
func (t *Tx) Snapshot(ctx context.Context, since time.Time) ([]treesync.Entry, error) {
	if since.IsZero() {
		entries, err := t.selectEntries(ctx, "1 = 1")
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot: %w", err)
		}
		return entries, nil
	}
	entries, err := t.selectEntries(ctx, "n.path = ? OR n.last_modified > ?", treesync.RootPath, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot since %s: %w", since, err)
	}
	return entries, nil
}

// Stats summarizes the store for status output.
type Stats struct {
	Files     int   `db:"files" json:"files"`
	Dirs      int   `db:"dirs" json:"dirs"`
	Unlinked  int   `db:"unlinked" json:"unlinked"`
	TotalSize int64 `db:"total_size" json:"total_size"`
}

func (t *Tx) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := t.tx.GetContext(ctx, &s, `
SELECT
    COALESCE(SUM(CASE WHEN is_dir = 0 THEN 1 ELSE 0 END), 0) AS files,
    COALESCE(SUM(CASE WHEN is_dir = 1 THEN 1 ELSE 0 END), 0) AS dirs,
    COALESCE(SUM(CASE WHEN remote_id IS NULL THEN 1 ELSE 0 END), 0) AS unlinked,
    COALESCE(SUM(size), 0) AS total_size
FROM nodes`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return s, nil
}

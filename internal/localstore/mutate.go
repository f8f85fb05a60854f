package localstore

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openmined/treesync/internal/treesync"
)

// EnsureRoot creates the root directory record when it is missing.
func (t *Tx) EnsureRoot(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT OR IGNORE INTO nodes (path, parent_path, name, is_dir, etag, last_modified)
VALUES (?, '', '', 1, ?, ?)`, treesync.RootPath, listingETag(nil), formatTime(t.now()))
	if err != nil {
		return fmt.Errorf("%w: %w", treesync.ErrRootCreate, err)
	}
	return nil
}

func (t *Tx) exists(ctx context.Context, path string) (bool, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM nodes WHERE path = ?", path); err != nil {
		return false, fmt.Errorf("failed to query path %s: %w", path, err)
	}
	return n > 0, nil
}

// requireParent checks that the directory holding path exists.
func (t *Tx) requireParent(ctx context.Context, path string) error {
	parent := treesync.ParentPath(path)
	ok, err := t.exists(ctx, parent)
	if err != nil {
		return err
	}
	if !ok || !treesync.IsDirPath(parent) {
		return fmt.Errorf("parent %s: %w", parent, treesync.ErrNotFound)
	}
	return nil
}

// Create inserts a record under an existing parent.
func (t *Tx) Create(ctx context.Context, rec treesync.Record) error {
	if rec.Path == treesync.RootPath {
		return fmt.Errorf("%s: %w", rec.Path, treesync.ErrExists)
	}
	if err := t.requireParent(ctx, rec.Path); err != nil {
		return err
	}
	taken, err := t.exists(ctx, rec.Path)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%s: %w", rec.Path, treesync.ErrExists)
	}

	_, err = t.tx.NamedExecContext(ctx, `
INSERT INTO nodes (path, parent_path, name, is_dir, remote_id, remote_parent_id, etag, last_modified, size, content)
VALUES (:path, :parent_path, :name, :is_dir, :remote_id, :remote_parent_id, :etag, :last_modified, :size, :content)`,
		map[string]any{
			"path":             rec.Path,
			"parent_path":      treesync.ParentPath(rec.Path),
			"name":             treesync.BaseName(rec.Path),
			"is_dir":           treesync.IsDirPath(rec.Path),
			"remote_id":        nullable(rec.ID),
			"remote_parent_id": nullable(rec.ParentID),
			"etag":             rec.ETag,
			"last_modified":    formatTime(rec.LastModified),
			"size":             len(rec.Content),
			"content":          rec.Content,
		})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", rec.Path, err)
	}
	return nil
}

// SetFields updates the columns selected by f.
func (t *Tx) SetFields(ctx context.Context, key string, f treesync.Fields) error {
	var (
		sets []string
		args []any
	)
	if f.ID != nil {
		sets = append(sets, "remote_id = ?")
		args = append(args, nullable(*f.ID))
	}
	if f.ParentID != nil {
		sets = append(sets, "remote_parent_id = ?")
		args = append(args, nullable(*f.ParentID))
	}
	if f.ETag != nil {
		sets = append(sets, "etag = ?")
		args = append(args, *f.ETag)
	}
	if f.LastModified != nil {
		sets = append(sets, "last_modified = ?")
		args = append(args, formatTime(*f.LastModified))
	}
	if f.Content != nil {
		sets = append(sets, "content = ?", "size = ?")
		args = append(args, f.Content, len(f.Content))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, key)
	res, err := t.tx.ExecContext(ctx, "UPDATE nodes SET "+strings.Join(sets, ", ")+" WHERE path = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", key, treesync.ErrNotFound)
	}
	return nil
}

// Delete removes key and, for a directory, everything below it. An absent key
// is not an error.
func (t *Tx) Delete(ctx context.Context, key string) error {
	if key == treesync.RootPath {
		return fmt.Errorf("%w: refusing to delete the root", treesync.ErrInvariant)
	}
	query := "DELETE FROM nodes WHERE path = ?"
	args := []any{key}
	if treesync.IsDirPath(key) {
		lo, hi := prefixRange(key)
		query += " OR (path > ? AND path < ?)"
		args = append(args, lo, hi)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Rename moves key to newKey, carrying every descendant along.
func (t *Tx) Rename(ctx context.Context, key, newKey string) error {
	if key == newKey {
		return nil
	}
	if key == treesync.RootPath || newKey == treesync.RootPath {
		return fmt.Errorf("%w: cannot rename the root", treesync.ErrInvariant)
	}
	if treesync.IsDirPath(key) != treesync.IsDirPath(newKey) {
		return fmt.Errorf("%w: rename %s to %s changes kind", treesync.ErrInvariant, key, newKey)
	}
	if treesync.IsDirPath(key) && treesync.IsUnder(newKey, key) {
		return fmt.Errorf("%w: cannot move %s into itself", treesync.ErrInvariant, key)
	}

	found, err := t.exists(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", key, treesync.ErrNotFound)
	}
	taken, err := t.exists(ctx, newKey)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%s: %w", newKey, treesync.ErrExists)
	}
	if err := t.requireParent(ctx, newKey); err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, "UPDATE nodes SET path = ?, parent_path = ?, name = ? WHERE path = ?",
		newKey, treesync.ParentPath(newKey), treesync.BaseName(newKey), key)
	if err != nil {
		return fmt.Errorf("failed to rename %s: %w", key, err)
	}

	if treesync.IsDirPath(key) {
		// substr counts characters, not bytes
		start := utf8.RuneCountInString(key) + 1
		lo, hi := prefixRange(key)
		_, err = t.tx.ExecContext(ctx, `
UPDATE nodes
SET path = ? || substr(path, ?),
    parent_path = ? || substr(parent_path, ?)
WHERE path > ? AND path < ?`, newKey, start, newKey, start, lo, hi)
		if err != nil {
			return fmt.Errorf("failed to rename children of %s: %w", key, err)
		}
	}
	return nil
}

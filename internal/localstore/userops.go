package localstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openmined/treesync/internal/treesync"
	"github.com/openmined/treesync/internal/utils"
)

// The user operations below edit the tree the way an application would.
// They stamp the touched node with the current time and recompute the
// fingerprint of every ancestor directory, which is how the next local pass
// finds them. Ancestor timestamps stay as they are.

type childETag struct {
	Name  string `db:"name"`
	IsDir bool   `db:"is_dir"`
	ETag  string `db:"etag"`
}

// listingETag fingerprints a directory listing.
func listingETag(children []childETag) string {
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	var b strings.Builder
	for _, c := range children {
		b.WriteString(c.Name)
		if c.IsDir {
			b.WriteString(treesync.Separator)
		}
		b.WriteByte(0)
		b.WriteString(c.ETag)
		b.WriteByte(0)
	}
	return utils.BytesHash([]byte(b.String()))
}

func (t *Tx) refreshAncestors(ctx context.Context, path string) error {
	for _, dir := range treesync.Ancestors(path) {
		var children []childETag
		if err := t.tx.SelectContext(ctx, &children,
			"SELECT name, is_dir, etag FROM nodes WHERE parent_path = ?", dir); err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		if _, err := t.tx.ExecContext(ctx, "UPDATE nodes SET etag = ? WHERE path = ?", listingETag(children), dir); err != nil {
			return fmt.Errorf("failed to update %s: %w", dir, err)
		}
	}
	return nil
}

func checkUserPath(path string, dir bool) (string, error) {
	clean := treesync.NormalizePath(path, dir)
	if clean == treesync.RootPath {
		return "", fmt.Errorf("%w: the root cannot be changed", treesync.ErrInvariant)
	}
	if strings.HasPrefix(treesync.BaseName(clean), treesync.TempPrefix) {
		return "", fmt.Errorf("%w: %s uses a reserved name", treesync.ErrInvariant, clean)
	}
	return clean, nil
}

// PutFile writes a file, creating it when needed. It returns the stored path.
func (t *Tx) PutFile(ctx context.Context, path string, data []byte) (string, error) {
	clean, err := checkUserPath(path, false)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = []byte{}
	}
	now := t.now()
	etag := utils.BytesHash(data)

	found, err := t.exists(ctx, clean)
	if err != nil {
		return "", err
	}
	if found {
		err = t.SetFields(ctx, clean, treesync.Fields{ETag: &etag, LastModified: &now, Content: data})
	} else {
		err = t.Create(ctx, treesync.Record{Path: clean, ETag: etag, LastModified: now, Content: data})
	}
	if err != nil {
		return "", err
	}
	return clean, t.refreshAncestors(ctx, clean)
}

// MakeDir creates an empty directory.
func (t *Tx) MakeDir(ctx context.Context, path string) (string, error) {
	clean, err := checkUserPath(path, true)
	if err != nil {
		return "", err
	}
	rec := treesync.Record{Path: clean, ETag: listingETag(nil), LastModified: t.now()}
	if err := t.Create(ctx, rec); err != nil {
		return "", err
	}
	return clean, t.refreshAncestors(ctx, clean)
}

// Remove deletes a file or a directory tree.
func (t *Tx) Remove(ctx context.Context, path string) error {
	rec, err := t.resolveUserPath(ctx, path)
	if err != nil {
		return err
	}
	if err := t.Delete(ctx, rec.Path); err != nil {
		return err
	}
	return t.refreshAncestors(ctx, rec.Path)
}

// Move renames a file or directory. to names the new location in the same
// form as from.
func (t *Tx) Move(ctx context.Context, from, to string) (string, error) {
	rec, err := t.resolveUserPath(ctx, from)
	if err != nil {
		return "", err
	}
	dst, err := checkUserPath(to, rec.IsDir())
	if err != nil {
		return "", err
	}
	if err := t.Rename(ctx, rec.Path, dst); err != nil {
		return "", err
	}
	now := t.now()
	if err := t.SetFields(ctx, dst, treesync.Fields{LastModified: &now}); err != nil {
		return "", err
	}
	if err := t.refreshAncestors(ctx, rec.Path); err != nil {
		return "", err
	}
	return dst, t.refreshAncestors(ctx, dst)
}

// resolveUserPath accepts a path with or without the trailing separator.
func (t *Tx) resolveUserPath(ctx context.Context, path string) (*treesync.Entry, error) {
	clean, err := checkUserPath(path, false)
	if err != nil {
		return nil, err
	}
	for _, candidate := range []string{clean, treesync.AlternatePath(clean)} {
		rec, err := t.ByPath(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", clean, treesync.ErrNotFound)
}

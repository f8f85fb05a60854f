package sync

import (
	"context"
	"time"

	"github.com/openmined/treesync/internal/syncignore"
	"github.com/openmined/treesync/internal/treesync"
)

// ignoredRemote hides ignored paths from every listing of the remote.
type ignoredRemote struct {
	treesync.Remote
	ignore *syncignore.List
}

func (r *ignoredRemote) FetchAll(ctx context.Context) ([]treesync.Entry, error) {
	entries, err := r.Remote.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return r.ignore.Filter(entries), nil
}

func (r *ignoredRemote) FetchSince(ctx context.Context, since time.Time) ([]treesync.Entry, error) {
	entries, err := r.Remote.FetchSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return r.ignore.Filter(entries), nil
}

func (r *ignoredRemote) Children(ctx context.Context, dir treesync.Entry) ([]treesync.Entry, error) {
	entries, err := r.Remote.Children(ctx, dir)
	if err != nil {
		return nil, err
	}
	return r.ignore.Filter(entries), nil
}

// ignoredTree hides ignored local records from the diff, so they are neither
// pushed nor treated as missing on the remote.
type ignoredTree struct {
	treesync.Tree
	ignore *syncignore.List
}

func (t *ignoredTree) Children(ctx context.Context, dir treesync.Entry) ([]treesync.Entry, error) {
	entries, err := t.Tree.Children(ctx, dir)
	if err != nil {
		return nil, err
	}
	return t.ignore.Filter(entries), nil
}

func (t *ignoredTree) ChildIDs(ctx context.Context, dir treesync.Entry) ([]string, error) {
	ids, err := t.Tree.ChildIDs(ctx, dir)
	if err != nil {
		return nil, err
	}
	kept := ids[:0]
	for _, id := range ids {
		e, err := t.Tree.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil && t.ignore.ShouldIgnore(e.Path) {
			continue
		}
		kept = append(kept, id)
	}
	return kept, nil
}

package treesync

import (
	"context"
	"sort"
)

// SnapshotTree answers Tree lookups from a fetched list of entries. Children
// come from the lister when one is set, so a partial snapshot (an incremental
// fetch) can still descend into changed directories; otherwise they are
// derived from the snapshot itself.
type SnapshotTree struct {
	entries []Entry
	byID    map[string]Entry
	byPath  map[string]Entry
	lister  ChildLister
}

func NewSnapshotTree(entries []Entry, lister ChildLister) *SnapshotTree {
	t := &SnapshotTree{
		entries: entries,
		byID:    make(map[string]Entry, len(entries)),
		byPath:  make(map[string]Entry, len(entries)),
		lister:  lister,
	}
	for _, e := range entries {
		if e.ID != "" {
			t.byID[e.ID] = e
		}
		t.byPath[e.Path] = e
	}
	return t
}

// Entries returns the snapshot in path order.
func (t *SnapshotTree) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Root returns the root entry if the snapshot holds one.
func (t *SnapshotTree) Root() (Entry, bool) {
	e, ok := t.byPath[RootPath]
	return e, ok
}

func (t *SnapshotTree) ByID(_ context.Context, id string) (*Entry, error) {
	if e, ok := t.byID[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (t *SnapshotTree) ByPath(_ context.Context, path string) (*Entry, error) {
	if e, ok := t.byPath[path]; ok {
		return &e, nil
	}
	return nil, nil
}

func (t *SnapshotTree) Children(ctx context.Context, dir Entry) ([]Entry, error) {
	if t.lister != nil {
		return t.lister.Children(ctx, dir)
	}
	var out []Entry
	for _, e := range t.entries {
		if ParentPath(e.Path) == dir.Path {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (t *SnapshotTree) ChildIDs(ctx context.Context, dir Entry) ([]string, error) {
	children, err := t.Children(ctx, dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(children))
	for _, c := range children {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

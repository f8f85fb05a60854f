package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/treesync/internal/treesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func setupStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "local.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func beginTx(t *testing.T, s *Store) *Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func strPtr(s string) *string { return &s }

func TestOpen_CreatesRoot(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)

	root, err := tx.ByPath(context.Background(), treesync.RootPath)
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.True(t, root.IsDir())
	assert.False(t, root.Linked())
	assert.Equal(t, treesync.SideLocal, root.Side)
	assert.Equal(t, treesync.RootPath, root.Ref)
}

func TestCreate_LookupByIDAndPath(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, tx.SetFields(ctx, "/", treesync.Fields{ID: strPtr("r")}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/docs/", ID: "d", ParentID: "r", ETag: "e1", LastModified: ts}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/docs/a.txt", ID: "f", ParentID: "d", ETag: "e2", LastModified: ts, Content: []byte("hello")}))

	byID, err := tx.ByID(ctx, "f")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "/docs/a.txt", byID.Path)
	assert.Equal(t, "d", byID.ParentID)
	assert.True(t, byID.LastModified.Equal(ts))

	byPath, err := tx.ByPath(ctx, "/docs/")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "d", byPath.ID)
	assert.Equal(t, "r", byPath.ParentID)

	missing, err := tx.ByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	data, err := tx.Content(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestCreate_Errors(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()

	err := tx.Create(ctx, treesync.Record{Path: "/missing/a.txt"})
	assert.ErrorIs(t, err, treesync.ErrNotFound)

	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a.txt"}))
	err = tx.Create(ctx, treesync.Record{Path: "/a.txt"})
	assert.ErrorIs(t, err, treesync.ErrExists)

	err = tx.Create(ctx, treesync.Record{Path: "/a.txt/b"})
	assert.ErrorIs(t, err, treesync.ErrNotFound)
}

func TestParentIDFollowsActualParent(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()

	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/", ID: "A"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/b/", ID: "B"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/f", ID: "F", ParentID: "A"}))

	require.NoError(t, tx.Rename(ctx, "/a/f", "/b/f"))

	f, err := tx.ByID(ctx, "F")
	require.NoError(t, err)
	assert.Equal(t, "B", f.ParentID)

	// the last synced parent is still A until the runner says otherwise
	ids, err := tx.ChildIDs(ctx, treesync.Entry{Path: "/a/", ID: "A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"F"}, ids)
}

func TestRename_CascadesChildren(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()

	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/sub/"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/sub/x.txt", ID: "x"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a0.txt"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/ab/"}))

	require.NoError(t, tx.Rename(ctx, "/a/", "/z/"))

	x, err := tx.ByID(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "/z/sub/x.txt", x.Path)

	sub, err := tx.ByPath(ctx, "/z/sub/")
	require.NoError(t, err)
	require.NotNil(t, sub)

	children, err := tx.Children(ctx, *sub)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "/z/sub/x.txt", children[0].Path)

	// siblings sharing the prefix are untouched
	for _, p := range []string{"/a0.txt", "/ab/"} {
		e, err := tx.ByPath(ctx, p)
		require.NoError(t, err)
		assert.NotNil(t, e, p)
	}
	gone, err := tx.ByPath(ctx, "/a/")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRename_Errors(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()

	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/b/"}))

	assert.ErrorIs(t, tx.Rename(ctx, "/a/", "/b/"), treesync.ErrExists)
	assert.ErrorIs(t, tx.Rename(ctx, "/nope/", "/c/"), treesync.ErrNotFound)
	assert.ErrorIs(t, tx.Rename(ctx, "/a/", "/a/in/"), treesync.ErrInvariant)
	assert.ErrorIs(t, tx.Rename(ctx, "/a/", "/c"), treesync.ErrInvariant)
	assert.NoError(t, tx.Rename(ctx, "/a/", "/a/"))
}

func TestDelete_CascadesAndIsIdempotent(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()

	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a/x.txt"}))
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/a.txt"}))

	require.NoError(t, tx.Delete(ctx, "/a/"))
	require.NoError(t, tx.Delete(ctx, "/a/"))

	x, err := tx.ByPath(ctx, "/a/x.txt")
	require.NoError(t, err)
	assert.Nil(t, x)

	kept, err := tx.ByPath(ctx, "/a.txt")
	require.NoError(t, err)
	assert.NotNil(t, kept)

	assert.ErrorIs(t, tx.Delete(ctx, "/"), treesync.ErrInvariant)
}

func TestSetFields(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()
	ts := time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC)

	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/f", ETag: "old", Content: []byte("a")}))
	require.NoError(t, tx.SetFields(ctx, "/f", treesync.Fields{
		ID:           strPtr("F"),
		ETag:         strPtr("new"),
		LastModified: &ts,
		Content:      []byte("abc"),
	}))

	f, err := tx.ByPath(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "F", f.ID)
	assert.Equal(t, "new", f.ETag)
	assert.True(t, f.LastModified.Equal(ts))

	// empty id unlinks
	require.NoError(t, tx.SetFields(ctx, "/f", treesync.Fields{ID: strPtr("")}))
	f, err = tx.ByPath(ctx, "/f")
	require.NoError(t, err)
	assert.False(t, f.Linked())

	assert.ErrorIs(t, tx.SetFields(ctx, "/nope", treesync.Fields{ETag: strPtr("x")}), treesync.ErrNotFound)
	assert.NoError(t, tx.SetFields(ctx, "/nope", treesync.Fields{}))
}

func TestSnapshot_Since(t *testing.T) {
	s, clock := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.PutFile(ctx, "/old.txt", []byte("1")); err != nil {
			return err
		}
		return nil
	}))
	cutoff := clock.now
	clock.Advance(time.Minute)
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		_, err := tx.PutFile(ctx, "/new.txt", []byte("2"))
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		all, err := tx.Snapshot(ctx, time.Time{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		recent, err := tx.Snapshot(ctx, cutoff)
		require.NoError(t, err)
		var paths []string
		for _, e := range recent {
			paths = append(paths, e.Path)
		}
		assert.Equal(t, []string{"/", "/new.txt"}, paths)
		return nil
	}))
}

func TestLastSync(t *testing.T) {
	s, _ := setupStore(t)
	tx := beginTx(t, s)
	ctx := context.Background()

	ts, err := tx.LastSync(ctx, treesync.SideRemote)
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	when := time.Date(2025, 6, 1, 8, 0, 0, 123, time.UTC)
	require.NoError(t, tx.SetLastSync(ctx, treesync.SideRemote, when))

	ts, err = tx.LastSync(ctx, treesync.SideRemote)
	require.NoError(t, err)
	assert.True(t, ts.Equal(when))

	other, err := tx.LastSync(ctx, treesync.SideLocal)
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestRollbackDiscardsChanges(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(ctx, treesync.Record{Path: "/tmp.txt"}))
	require.NoError(t, tx.Rollback())

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		e, err := tx.ByPath(ctx, "/tmp.txt")
		require.NoError(t, err)
		assert.Nil(t, e)
		return nil
	}))
}

func TestStats(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.MakeDir(ctx, "/d"); err != nil {
			return err
		}
		_, err := tx.PutFile(ctx, "/d/f.txt", []byte("12345"))
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		st, err := tx.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Files)
		assert.Equal(t, 2, st.Dirs)
		assert.Equal(t, 3, st.Unlinked)
		assert.Equal(t, int64(5), st.TotalSize)
		return nil
	}))
}

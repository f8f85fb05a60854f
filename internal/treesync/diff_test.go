package treesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func loc(path, id, parentID, etag string) Entry {
	return Entry{Side: SideLocal, Path: path, ID: id, ParentID: parentID, ETag: etag, LastModified: t0, Ref: path}
}

func rem(path, id, parentID, etag string) Entry {
	return Entry{Side: SideRemote, Path: path, ID: id, ParentID: parentID, ETag: etag, LastModified: t0, Ref: path}
}

func typesOf(actions []Action) []ActionType {
	out := make([]ActionType, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Type)
	}
	return out
}

func pullActions(t *testing.T, local, remote []Entry, opts DiffOptions) []Action {
	t.Helper()
	d := NewRemoteDiff(NewSnapshotTree(local, nil), nil, remote, opts)
	actions, err := Collect(context.Background(), d)
	require.NoError(t, err)
	return actions
}

func pushActions(t *testing.T, remote, local []Entry, opts DiffOptions) []Action {
	t.Helper()
	localTree := NewSnapshotTree(local, nil)
	d := NewLocalDiff(NewSnapshotTree(remote, nil), localTree, local, opts)
	actions, err := Collect(context.Background(), d)
	require.NoError(t, err)
	return actions
}

func TestDiffPair_NoOp(t *testing.T) {
	tests := []struct {
		name string
		l, r Entry
	}{
		{"file", loc("/a", "1", "0", "x"), rem("/a", "1", "0", "x")},
		{"dir", loc("/d/", "2", "0", "y"), rem("/d/", "2", "0", "y")},
		{"root", loc("/", "0", "", "r"), rem("/", "0", "", "r")},
	}
	for _, tt := range tests {
		for _, side := range []Side{SideRemote, SideLocal} {
			t.Run(tt.name+"/"+side.String(), func(t *testing.T) {
				actions, err := DiffPair(context.Background(), Pair{Local: &tt.l, Remote: &tt.r}, side,
					DiffOptions{DetectConflicts: true})
				require.NoError(t, err)
				assert.Empty(t, actions)
			})
		}
	}
}

func TestDiffPair_RenameOnly(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/b", "1", "0", "X")
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote, DiffOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{LocalFileMoveRename}, typesOf(actions))
	assert.Equal(t, "/a", actions[0].Local.Path)
	assert.Equal(t, "/b", actions[0].Remote.Path)
}

func TestDiffPair_ContentAndMove(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/b", "1", "0", "Y")
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote, DiffOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{LocalFileMoveRename, LocalFileUpdateContent}, typesOf(actions))
}

func TestDiffPair_PushDirectionIsMirrored(t *testing.T) {
	l, r := loc("/b", "1", "0", "Y"), rem("/a", "1", "0", "X")
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideLocal, DiffOptions{})
	require.NoError(t, err)
	require.Equal(t, []ActionType{RemoteFileMoveRename, RemoteFileUpdateContent}, typesOf(actions))
	for _, a := range actions {
		assert.Equal(t, SideLocal, a.Local.Side)
		assert.Equal(t, SideRemote, a.Remote.Side)
	}
}

func TestDiffPair_ParentChangeIsAMove(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/a", "1", "9", "X")
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote, DiffOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{LocalFileMoveRename}, typesOf(actions))
}

func TestDiffPair_KindChangeReplaces(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/a/", "1", "0", "X")
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote, DiffOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{LocalDelete, LocalCreate}, typesOf(actions))
}

func TestDiffPair_RequiresAuthoritativeSide(t *testing.T) {
	l := loc("/a", "1", "0", "X")
	_, err := DiffPair(context.Background(), Pair{Local: &l}, SideRemote, DiffOptions{})
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = DiffPair(context.Background(), Pair{}, SideRemote, DiffOptions{})
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestDiffPair_ConflictNonOverwrite(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/a", "1", "0", "Y")
	l.LastModified = t0.Add(time.Hour)

	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote,
		DiffOptions{DetectConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{ConflictLocalIsNewer}, typesOf(actions))

	actions, err = DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote,
		DiffOptions{DetectConflicts: true, ContinueAfterConflict: true})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{ConflictLocalIsNewer, LocalFileUpdateContent}, typesOf(actions))

	// without detection the remote simply wins
	actions, err = DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote, DiffOptions{})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{LocalFileUpdateContent}, typesOf(actions))
}

func TestDiffPair_StaleButEqualIsSilent(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/a", "1", "0", "X")
	l.LastModified = t0.Add(time.Hour)
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote,
		DiffOptions{DetectConflicts: true})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestDiffPair_ConflictKinds(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/a/", "2", "0", "X")
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideRemote,
		DiffOptions{DetectConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{ConflictDifferentIDs, ConflictIncompatibleTypes}, typesOf(actions))
}

func TestDiffPair_PushConflictIsRemoteIsNewer(t *testing.T) {
	l, r := loc("/a", "1", "0", "X"), rem("/a", "1", "0", "Y")
	r.LastModified = t0.Add(time.Hour)
	actions, err := DiffPair(context.Background(), Pair{Local: &l, Remote: &r}, SideLocal,
		DiffOptions{DetectConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, []ActionType{ConflictRemoteIsNewer}, typesOf(actions))
}

func TestDiff_CreateAndEtagPropagation(t *testing.T) {
	local := []Entry{loc("/", "0", "", "r1")}
	remote := []Entry{rem("/", "0", "", "r2"), rem("/a", "5", "0", "e")}

	actions := pullActions(t, local, remote, DiffOptions{DetectConflicts: true})
	require.Len(t, actions, 2)
	assert.ElementsMatch(t, []ActionType{LocalCreate, MetaUpdateEtag}, typesOf(actions))
	for _, a := range actions {
		switch a.Type {
		case LocalCreate:
			assert.Equal(t, "5", a.Remote.ID)
			assert.Nil(t, a.Local)
		case MetaUpdateEtag:
			assert.Equal(t, RootPath, a.Remote.Path)
			assert.Equal(t, "r2", a.Remote.ETag)
		}
	}
}

func TestDiff_UnchangedTreeIsSilent(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "r"),
		loc("/d/", "1", "0", "d"),
		loc("/d/f", "2", "1", "f"),
	}
	remote := []Entry{
		rem("/", "0", "", "r"),
		rem("/d/", "1", "0", "d"),
		rem("/d/f", "2", "1", "f"),
	}
	assert.Empty(t, pullActions(t, local, remote, DiffOptions{DetectConflicts: true}))
	assert.Empty(t, pushActions(t, remote, local, DiffOptions{DetectConflicts: true}))
}

func TestDiff_DeletionDeferral(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "r1"),
		loc("/A/", "1", "0", "a1"),
		loc("/A/f", "5", "1", "f"),
		loc("/B/", "2", "0", "b1"),
	}
	remote := []Entry{
		rem("/", "0", "", "r2"),
		rem("/A/", "1", "0", "a2"),
		rem("/B/", "2", "0", "b2"),
		rem("/B/f", "5", "2", "f"),
	}

	actions := pullActions(t, local, remote, DiffOptions{})
	types := typesOf(actions)
	assert.NotContains(t, types, LocalDelete)
	assert.Contains(t, types, LocalFileMoveRename)
	for _, a := range actions {
		if a.Type == LocalFileMoveRename {
			assert.Equal(t, "/A/f", a.Local.Path)
			assert.Equal(t, "/B/f", a.Remote.Path)
		}
	}
}

func TestDiff_MissingChildIsDeleted(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "r1"),
		loc("/A/", "1", "0", "a1"),
		loc("/A/f", "5", "1", "f"),
		loc("/A/g", "6", "1", "g"),
	}
	remote := []Entry{
		rem("/", "0", "", "r2"),
		rem("/A/", "1", "0", "a2"),
		rem("/A/g", "6", "1", "g"),
	}

	actions := pullActions(t, local, remote, DiffOptions{})
	require.NotEmpty(t, actions)
	last := actions[len(actions)-1]
	assert.Equal(t, LocalDelete, last.Type)
	assert.Equal(t, "/A/f", last.Local.Path)
	assert.Nil(t, last.Remote)
}

func TestDiff_DeletedDirCoversChildren(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "r1"),
		loc("/A/", "1", "0", "a"),
		loc("/A/f", "5", "1", "f"),
		loc("/A/B/", "7", "1", "b"),
		loc("/A/B/g", "8", "7", "g"),
	}
	remote := []Entry{rem("/", "0", "", "r2")}

	actions := pullActions(t, local, remote, DiffOptions{})
	var deleted []string
	for _, a := range actions {
		if a.Type == LocalDelete {
			deleted = append(deleted, a.Local.Path)
		}
	}
	assert.Equal(t, []string{"/A/"}, deleted)
}

func TestDiff_CrossRenameOfDirectories(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "r1"),
		loc("/a/", "1", "0", "d1"),
		loc("/x/", "2", "0", "d2"),
	}
	remote := []Entry{
		rem("/", "0", "", "r2"),
		rem("/a/", "2", "0", "d2"),
		rem("/x/", "1", "0", "d1"),
	}

	actions := pullActions(t, local, remote, DiffOptions{DetectConflicts: true})
	var moves [][2]string
	for _, a := range actions {
		if a.Type == LocalDirMoveRename {
			moves = append(moves, [2]string{a.Local.Path, a.Remote.Path})
		}
	}
	assert.Equal(t, [][2]string{{"/x/", "/a/"}, {"/a/", "/x/"}}, moves)
	assert.NotContains(t, typesOf(actions), LocalDelete)
	assert.NotContains(t, typesOf(actions), ConflictDifferentIDs)
}

func TestDiff_RenamedParentDoesNotMoveChildren(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "r1"),
		loc("/a/", "1", "0", "d"),
		loc("/a/f", "2", "1", "f"),
	}
	remote := []Entry{
		rem("/", "0", "", "r2"),
		rem("/b/", "1", "0", "d"),
		rem("/b/f", "2", "1", "f"),
	}

	actions := pullActions(t, local, remote, DiffOptions{})
	assert.Equal(t, []ActionType{MetaUpdateEtag, LocalDirMoveRename}, typesOf(actions))
}

func TestDiff_JoinsUnlinkedNodes(t *testing.T) {
	local := []Entry{
		loc("/", "", "", "l"),
		loc("/d/", "", "", "ld"),
	}
	remote := []Entry{
		rem("/", "0", "", "r"),
		rem("/d/", "1", "0", "rd"),
	}

	actions := pullActions(t, local, remote, DiffOptions{DetectConflicts: true})
	assert.Equal(t, []ActionType{LocalJoin, LocalJoin}, typesOf(actions))
}

func TestDiff_PushCreatesUnlinkedLocalNodes(t *testing.T) {
	local := []Entry{
		loc("/", "0", "", "l2"),
		loc("/new.txt", "", "0", "n"),
	}
	remote := []Entry{rem("/", "0", "", "r")}

	actions := pushActions(t, remote, local, DiffOptions{})
	require.Len(t, actions, 2)
	assert.ElementsMatch(t, []ActionType{RemoteCreate, MetaUpdateEtag}, typesOf(actions))
	for _, a := range actions {
		if a.Type == RemoteCreate {
			assert.Equal(t, "/new.txt", a.Local.Path)
			assert.Nil(t, a.Remote)
		}
	}
}

func TestDiff_MissingRemoteRoot(t *testing.T) {
	d := NewRemoteDiff(NewSnapshotTree(nil, nil), nil, []Entry{rem("/a", "1", "0", "x")}, DiffOptions{})
	_, _, err := d.Next(context.Background())
	assert.ErrorIs(t, err, ErrMissingRemoteRoot)

	// sticky
	_, ok, err := d.Next(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMissingRemoteRoot)
}

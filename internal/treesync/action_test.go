package treesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionType_Inverted(t *testing.T) {
	tests := []struct {
		in   ActionType
		want ActionType
	}{
		{LocalCreate, RemoteCreate},
		{RemoteCreate, LocalCreate},
		{LocalDirMoveRename, RemoteDirMoveRename},
		{RemoteFileUpdateContent, LocalFileUpdateContent},
		{LocalJoin, RemoteJoin},
		{RemoteCreateOrForceUpdate, RemoteCreateOrForceUpdate},
		{MetaUpdateEtag, MetaUpdateEtag},
		{ConflictLocalIsNewer, ConflictLocalIsNewer},
		{Conflict, Conflict},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Inverted())
		})
	}
}

func TestActionType_Classify(t *testing.T) {
	assert.True(t, Conflict.IsConflict())
	assert.True(t, ConflictDifferentIDs.IsConflict())
	assert.False(t, LocalCreate.IsConflict())
	assert.False(t, MetaUpdateEtag.IsConflict())

	side, ok := LocalDelete.Target()
	assert.True(t, ok)
	assert.Equal(t, SideLocal, side)
	side, ok = RemoteCreateOrForceUpdate.Target()
	assert.True(t, ok)
	assert.Equal(t, SideRemote, side)
	_, ok = MetaUpdateEtag.Target()
	assert.False(t, ok)
}

func TestNewAction_RequiresAnEntry(t *testing.T) {
	_, err := NewAction(LocalCreate, nil, nil)
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = NewAction("", &Entry{Path: "/a"}, nil)
	assert.ErrorIs(t, err, ErrInvariant)

	a, err := NewAction(LocalCreate, nil, &Entry{Side: SideRemote, Path: "/a"})
	require.NoError(t, err)
	assert.Equal(t, "/a", a.Path())
}

func TestAction_EqualIsFieldWise(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func() Action {
		return Action{
			Type:   LocalFileMoveRename,
			Local:  &Entry{Side: SideLocal, Path: "/a", ID: "1", ETag: "x", LastModified: ts},
			Remote: &Entry{Side: SideRemote, Path: "/b", ID: "1", ETag: "x", LastModified: ts},
		}
	}
	a, b := mk(), mk()
	assert.True(t, a.Equal(b))

	// same instant in another zone
	b.Local.LastModified = ts.In(time.FixedZone("x", 3600))
	assert.True(t, a.Equal(b))

	b.Remote.ETag = "y"
	assert.False(t, a.Equal(b))

	c := mk()
	c.Remote = nil
	assert.False(t, a.Equal(c))
}

func TestAction_InvertedSwapsEntries(t *testing.T) {
	l := &Entry{Side: SideLocal, Path: "/a"}
	r := &Entry{Side: SideRemote, Path: "/b"}
	a := Action{Type: LocalFileMoveRename, Local: l, Remote: r}.Inverted()

	assert.Equal(t, RemoteFileMoveRename, a.Type)
	assert.Same(t, r, a.Local)
	assert.Same(t, l, a.Remote)
	assert.Equal(t, []string{"/b", "/a"}, a.Paths())
	assert.Equal(t, "remote.file.moveRename /b -> /a", a.String())
}

func TestEntry_Validate(t *testing.T) {
	assert.NoError(t, Entry{Path: "/"}.Validate())
	assert.ErrorIs(t, Entry{Path: "a"}.Validate(), ErrInvariant)
	assert.ErrorIs(t, Entry{Path: "/", ParentID: "p"}.Validate(), ErrInvariant)
}

func TestPair_Path(t *testing.T) {
	l := &Entry{Path: "/l"}
	r := &Entry{Path: "/r"}
	assert.Equal(t, "/r", Pair{Local: l, Remote: r}.Path())
	assert.Equal(t, "/l", Pair{Local: l}.Path())
	assert.ErrorIs(t, Pair{}.Validate(), ErrInvariant)
}

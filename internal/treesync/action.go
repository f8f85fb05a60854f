package treesync

import (
	"fmt"
	"strings"
)

// ActionType is one member of the closed action vocabulary.
type ActionType string

const (
	LocalCreate               ActionType = "local.create"
	RemoteCreate              ActionType = "remote.create"
	LocalFileMoveRename       ActionType = "local.file.moveRename"
	RemoteFileMoveRename      ActionType = "remote.file.moveRename"
	LocalDirMoveRename        ActionType = "local.dir.moveRenamePlusChildren"
	RemoteDirMoveRename       ActionType = "remote.dir.moveRenamePlusChildren"
	LocalDelete               ActionType = "local.delete"
	RemoteDelete              ActionType = "remote.delete"
	LocalFileUpdateContent    ActionType = "local.file.updateContent"
	RemoteFileUpdateContent   ActionType = "remote.file.updateContent"
	MetaUpdateEtag            ActionType = "meta.updateEtag"
	LocalJoin                 ActionType = "local.join"
	RemoteJoin                ActionType = "remote.join"
	RemoteCreateOrForceUpdate ActionType = "remote.createOrForceUpdate"

	Conflict                  ActionType = "conflict"
	ConflictLocalIsNewer      ActionType = "conflict.localIsNewer"
	ConflictRemoteIsNewer     ActionType = "conflict.remoteIsNewer"
	ConflictIncompatibleTypes ActionType = "conflict.incompatibleTypesDirVsFile"
	ConflictDifferentIDs      ActionType = "conflict.differentIds"
)

const (
	localPrefix    = "local."
	remotePrefix   = "remote."
	conflictPrefix = "conflict"
)

// IsConflict reports whether t is a conflict marker.
func (t ActionType) IsConflict() bool {
	return t == Conflict || strings.HasPrefix(string(t), conflictPrefix+".")
}

// Inverted swaps the local/remote prefix. Conflict and meta types are
// returned unchanged, and so is remote.createOrForceUpdate, which has no
// local counterpart.
func (t ActionType) Inverted() ActionType {
	if t == RemoteCreateOrForceUpdate {
		return t
	}
	s := string(t)
	switch {
	case strings.HasPrefix(s, localPrefix):
		return ActionType(remotePrefix + strings.TrimPrefix(s, localPrefix))
	case strings.HasPrefix(s, remotePrefix):
		return ActionType(localPrefix + strings.TrimPrefix(s, remotePrefix))
	}
	return t
}

// Target is the side an action mutates. Markers and meta actions report false.
func (t ActionType) Target() (Side, bool) {
	s := string(t)
	switch {
	case strings.HasPrefix(s, localPrefix):
		return SideLocal, true
	case strings.HasPrefix(s, remotePrefix):
		return SideRemote, true
	}
	return SideLocal, false
}

func (t ActionType) String() string {
	return string(t)
}

// Action is one step towards agreement between the two trees.
type Action struct {
	Type   ActionType `json:"type" yaml:"type"`
	Local  *Entry     `json:"local,omitempty" yaml:"local,omitempty"`
	Remote *Entry     `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// NewAction builds an action and checks its invariant.
func NewAction(t ActionType, local, remote *Entry) (Action, error) {
	a := Action{Type: t, Local: local, Remote: remote}
	return a, a.Validate()
}

func (a Action) Validate() error {
	if a.Local == nil && a.Remote == nil {
		return fmt.Errorf("%w: action %s has neither local nor remote entry", ErrInvariant, a.Type)
	}
	if a.Type == "" {
		return fmt.Errorf("%w: action without type", ErrInvariant)
	}
	return nil
}

// Equal compares type and both entries field by field.
func (a Action) Equal(b Action) bool {
	return a.Type == b.Type && equalEntryPtr(a.Local, b.Local) && equalEntryPtr(a.Remote, b.Remote)
}

// Inverted swaps the type prefix and the two entries, turning a
// target-relative action into its mirror.
func (a Action) Inverted() Action {
	return Action{Type: a.Type.Inverted(), Local: a.Remote, Remote: a.Local}
}

// Path is the path that names the action in logs: the remote path when known,
// else the local one.
func (a Action) Path() string {
	return Pair{Local: a.Local, Remote: a.Remote}.Path()
}

// Paths returns every distinct path the action touches.
func (a Action) Paths() []string {
	var out []string
	if a.Local != nil {
		out = append(out, a.Local.Path)
	}
	if a.Remote != nil && (a.Local == nil || a.Remote.Path != a.Local.Path) {
		out = append(out, a.Remote.Path)
	}
	return out
}

func (a Action) String() string {
	switch {
	case a.Local != nil && a.Remote != nil && a.Local.Path != a.Remote.Path:
		return fmt.Sprintf("%s %s -> %s", a.Type, a.Local.Path, a.Remote.Path)
	default:
		return fmt.Sprintf("%s %s", a.Type, a.Path())
	}
}

package treesync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side names one half of the sync.
type Side uint8

const (
	SideLocal Side = iota
	SideRemote
)

var sideNames = []string{"local", "remote"}

func (s Side) String() string {
	if int(s) < len(sideNames) {
		return sideNames[s]
	}
	return "side(" + strconv.Itoa(int(s)) + ")"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	for i, name := range sideNames {
		if name == string(b) {
			*s = Side(i)
			return nil
		}
	}
	return fmt.Errorf("unknown side %q", b)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLocal {
		return SideRemote
	}
	return SideLocal
}

// Entry is one file or directory as known on one side of the sync.
type Entry struct {
	Side         Side      `json:"side" yaml:"side"`
	Path         string    `json:"path" yaml:"path"`
	ETag         string    `json:"etag" yaml:"etag"`
	ID           string    `json:"id,omitempty" yaml:"id,omitempty"`
	ParentID     string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	// Ref is the local store's primary key for local entries and the raw
	// listing href for remote ones.
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

func (e Entry) IsDir() bool {
	return IsDirPath(e.Path)
}

// Linked reports whether the entry carries a stable id.
func (e Entry) Linked() bool {
	return e.ID != ""
}

func (e Entry) IsRoot() bool {
	return e.Path == RootPath
}

// Equal compares every field, including the side.
func (e Entry) Equal(o Entry) bool {
	return e.Side == o.Side &&
		e.Path == o.Path &&
		e.ETag == o.ETag &&
		e.ID == o.ID &&
		e.ParentID == o.ParentID &&
		e.LastModified.Equal(o.LastModified) &&
		e.Ref == o.Ref
}

// Validate checks the path invariants.
func (e Entry) Validate() error {
	if !strings.HasPrefix(e.Path, Separator) {
		return fmt.Errorf("%w: entry path %q is not absolute", ErrInvariant, e.Path)
	}
	if e.IsRoot() && e.ParentID != "" {
		return fmt.Errorf("%w: root entry has parent id %q", ErrInvariant, e.ParentID)
	}
	return nil
}

func (e Entry) String() string {
	if e.ID == "" {
		return e.Side.String() + ":" + e.Path
	}
	return e.Side.String() + ":" + e.Path + "#" + e.ID
}

// key is a stable string form of every field, used for set membership.
func (e *Entry) key() string {
	if e == nil {
		return "-"
	}
	var b strings.Builder
	b.WriteString(e.Side.String())
	b.WriteByte(0)
	b.WriteString(e.Path)
	b.WriteByte(0)
	b.WriteString(e.ETag)
	b.WriteByte(0)
	b.WriteString(e.ID)
	b.WriteByte(0)
	b.WriteString(e.ParentID)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(e.LastModified.UnixNano(), 10))
	b.WriteByte(0)
	b.WriteString(e.Ref)
	return b.String()
}

// Pair couples the local and remote view of one node. At least one side is
// present.
type Pair struct {
	Local  *Entry
	Remote *Entry
}

// Path is the remote path when known, else the local one.
func (p Pair) Path() string {
	if p.Remote != nil {
		return p.Remote.Path
	}
	if p.Local != nil {
		return p.Local.Path
	}
	return ""
}

func (p Pair) Validate() error {
	if p.Local == nil && p.Remote == nil {
		return fmt.Errorf("%w: pair with both sides absent", ErrInvariant)
	}
	return nil
}

func entryPtr(e Entry) *Entry {
	return &e
}

func equalEntryPtr(a, b *Entry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

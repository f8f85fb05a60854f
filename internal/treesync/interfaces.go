package treesync

import (
	"context"
	"time"
)

// Tree is read access to one side of the sync. Lookups return nil, nil when
// nothing matches.
type Tree interface {
	ByID(ctx context.Context, id string) (*Entry, error)
	ByPath(ctx context.Context, path string) (*Entry, error)
	// ChildIDs lists the stable ids this side knows under dir.
	ChildIDs(ctx context.Context, dir Entry) ([]string, error)
	ChildLister
}

// ChildLister lists the direct children of a directory.
type ChildLister interface {
	Children(ctx context.Context, dir Entry) ([]Entry, error)
}

// RemoteFetcher supplies snapshots of the remote tree. Both calls include the
// root, even when unchanged, and leave out ignored paths.
type RemoteFetcher interface {
	FetchAll(ctx context.Context) ([]Entry, error)
	FetchSince(ctx context.Context, since time.Time) ([]Entry, error)
}

// Record is a node about to be created in the local store.
type Record struct {
	Path         string
	ID           string
	ParentID     string
	ETag         string
	LastModified time.Time
	Content      []byte
}

// Fields selects which columns SetFields writes. Nil pointers, and a nil
// Content, leave the stored value alone.
type Fields struct {
	ID           *string
	ParentID     *string
	ETag         *string
	LastModified *time.Time
	Content      []byte
}

// LinkFields copies identity, fingerprint and timestamp from e.
func LinkFields(e Entry) Fields {
	return Fields{
		ID:           &e.ID,
		ParentID:     &e.ParentID,
		ETag:         &e.ETag,
		LastModified: &e.LastModified,
	}
}

// LocalStore is everything the diff engine and the runner need from the local
// document store. Keys are the Ref of local entries.
type LocalStore interface {
	Tree
	Create(ctx context.Context, rec Record) error
	SetFields(ctx context.Context, key string, f Fields) error
	// Delete removes key and everything below it. Deleting an absent key
	// succeeds.
	Delete(ctx context.Context, key string) error
	// Rename moves key, and everything below it, to newKey. It fails with
	// ErrExists when newKey is taken and ErrNotFound when key is absent.
	Rename(ctx context.Context, key, newKey string) error
	Content(ctx context.Context, key string) ([]byte, error)
}

// LocalSnapshotter lists local entries changed after since, plus the root. A
// zero since lists everything.
type LocalSnapshotter interface {
	Snapshot(ctx context.Context, since time.Time) ([]Entry, error)
}

// RemoteClient mutates the remote store. Returned entries carry the server's
// view right after the call, which may still change (see the two-phase push
// in the runner).
type RemoteClient interface {
	// Stat returns nil, nil for an absent path.
	Stat(ctx context.Context, path string) (*Entry, error)
	Mkdir(ctx context.Context, path string) (*Entry, error)
	PutContent(ctx context.Context, path string, data []byte) (*Entry, error)
	GetContent(ctx context.Context, e Entry) ([]byte, error)
	Move(ctx context.Context, from, to string) (*Entry, error)
	// Delete succeeds when the path is already gone.
	Delete(ctx context.Context, path string) error
}

// Remote bundles what a full remote implementation provides.
type Remote interface {
	RemoteFetcher
	ChildLister
	RemoteClient
}

// Package memremote is an in-memory remote file store. It assigns stable ids,
// fingerprints file content, propagates directory fingerprints upward and
// keeps modification times at second precision, the way a WebDAV server
// reports them.
package memremote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openmined/treesync/internal/treesync"
	"github.com/openmined/treesync/internal/utils"
)

const RootID = "root"

type node struct {
	id      string
	path    string
	content []byte
	etag    string
	mtime   time.Time
}

func (n *node) isDir() bool {
	return treesync.IsDirPath(n.path)
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithProvisionalETags makes PutContent answer with a placeholder fingerprint,
// as servers that hash uploads asynchronously do. Stat returns the real one.
func WithProvisionalETags() Option {
	return func(s *Store) {
		s.provisional = true
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	nodes       map[string]*node // keyed by path without trailing separator
	nextID      int
	now         func() time.Time
	provisional bool
}

func New(opts ...Option) *Store {
	s := &Store{
		nodes: make(map[string]*node),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nodes[key(treesync.RootPath)] = &node{id: RootID, path: treesync.RootPath, mtime: s.clock()}
	s.refreshDir(treesync.RootPath)
	return s
}

func key(path string) string {
	if path == treesync.RootPath {
		return ""
	}
	return strings.TrimSuffix(path, treesync.Separator)
}

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) get(path string) *node {
	return s.nodes[key(path)]
}

func (s *Store) entry(n *node) treesync.Entry {
	e := treesync.Entry{
		Side:         treesync.SideRemote,
		Path:         n.path,
		ETag:         n.etag,
		ID:           n.id,
		LastModified: n.mtime,
		Ref:          n.path,
	}
	if parent := treesync.ParentPath(n.path); parent != "" {
		if p := s.get(parent); p != nil {
			e.ParentID = p.id
		}
	}
	return e
}

func (s *Store) children(dir string) []*node {
	var out []*node
	for _, n := range s.nodes {
		if treesync.ParentPath(n.path) == dir && n.path != dir {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// refreshDir recomputes the fingerprint of dir and every ancestor.
func (s *Store) refreshDir(dir string) {
	for p := dir; p != ""; p = treesync.ParentPath(p) {
		n := s.get(p)
		if n == nil {
			return
		}
		var b strings.Builder
		for _, c := range s.children(p) {
			b.WriteString(treesync.BaseName(c.path))
			if c.isDir() {
				b.WriteString(treesync.Separator)
			}
			b.WriteByte(0)
			b.WriteString(c.etag)
			b.WriteByte(0)
		}
		n.etag = "d-" + utils.BytesHash([]byte(b.String()))
	}
}

// touch stamps a directory whose direct listing changed.
func (s *Store) touch(dir string) {
	if n := s.get(dir); n != nil {
		n.mtime = s.clock()
	}
	s.refreshDir(dir)
}

func (s *Store) newID() string {
	s.nextID++
	return "n" + strconv.Itoa(s.nextID)
}

func (s *Store) parentOf(path string) (*node, error) {
	parent := treesync.ParentPath(path)
	p := s.get(parent)
	if p == nil || !p.isDir() {
		return nil, fmt.Errorf("parent of %s: %w", path, treesync.ErrNotFound)
	}
	return p, nil
}

// FetchAll lists every node, root first.
func (s *Store) FetchAll(ctx context.Context) ([]treesync.Entry, error) {
	return s.FetchSince(ctx, time.Time{})
}

// FetchSince lists the root and every node modified after since.
func (s *Store) FetchSince(_ context.Context, since time.Time) ([]treesync.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []treesync.Entry
	for _, n := range s.nodes {
		if n.path == treesync.RootPath || since.IsZero() || n.mtime.After(since) {
			out = append(out, s.entry(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) Children(_ context.Context, dir treesync.Entry) ([]treesync.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.get(dir.Path)
	if n == nil || !n.isDir() {
		return nil, fmt.Errorf("list %s: %w", dir.Path, treesync.ErrNotFound)
	}
	var out []treesync.Entry
	for _, c := range s.children(n.path) {
		out = append(out, s.entry(c))
	}
	return out, nil
}

// Stat finds the node at path in either form.
func (s *Store) Stat(_ context.Context, path string) (*treesync.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.get(path)
	if n == nil {
		return nil, nil
	}
	e := s.entry(n)
	return &e, nil
}

func (s *Store) Mkdir(_ context.Context, path string) (*treesync.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path = treesync.CleanPath(path, true)
	if s.get(path) != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path, treesync.ErrExists)
	}
	if _, err := s.parentOf(path); err != nil {
		return nil, err
	}
	n := &node{id: s.newID(), path: path, mtime: s.clock()}
	s.nodes[key(path)] = n
	s.refreshDir(path)
	s.touch(treesync.ParentPath(path))

	e := s.entry(n)
	return &e, nil
}

func (s *Store) PutContent(_ context.Context, path string, data []byte) (*treesync.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.get(path)
	if n != nil && n.isDir() {
		return nil, fmt.Errorf("%w: put onto directory %s", treesync.ErrInvariant, path)
	}
	if _, err := s.parentOf(path); err != nil {
		return nil, err
	}
	if n == nil {
		n = &node{id: s.newID(), path: treesync.CleanPath(path, false)}
		s.nodes[key(path)] = n
		s.touch(treesync.ParentPath(n.path))
	}
	n.content = append([]byte(nil), data...)
	n.etag = utils.BytesHash(data)
	n.mtime = s.clock()
	s.refreshDir(treesync.ParentPath(n.path))

	e := s.entry(n)
	if s.provisional {
		e.ETag = "pending-" + n.id
	}
	return &e, nil
}

func (s *Store) GetContent(_ context.Context, e treesync.Entry) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.get(e.Path)
	if n == nil || n.isDir() {
		return nil, fmt.Errorf("get %s: %w", e.Path, treesync.ErrNotFound)
	}
	return append([]byte{}, n.content...), nil
}

// Move renames a node and its subtree. It never overwrites.
func (s *Store) Move(_ context.Context, from, to string) (*treesync.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.get(from)
	if n == nil {
		return nil, fmt.Errorf("move %s: %w", from, treesync.ErrNotFound)
	}
	if n.path == treesync.RootPath {
		return nil, fmt.Errorf("%w: cannot move the root", treesync.ErrInvariant)
	}
	to = treesync.CleanPath(to, n.isDir())
	if s.get(to) != nil {
		return nil, fmt.Errorf("move to %s: %w", to, treesync.ErrExists)
	}
	if n.isDir() && treesync.IsUnder(to, n.path) {
		return nil, fmt.Errorf("%w: cannot move %s into itself", treesync.ErrInvariant, n.path)
	}
	if _, err := s.parentOf(to); err != nil {
		return nil, err
	}

	old := n.path
	var moved []*node
	for _, c := range s.nodes {
		if c.path == old || (n.isDir() && treesync.IsUnder(c.path, old)) {
			moved = append(moved, c)
		}
	}
	for _, c := range moved {
		delete(s.nodes, key(c.path))
	}
	for _, c := range moved {
		if c.path == old {
			c.path = to
		} else {
			c.path = treesync.Rebase(c.path, old, to)
		}
		s.nodes[key(c.path)] = c
	}
	s.touch(treesync.ParentPath(old))
	s.touch(treesync.ParentPath(to))

	e := s.entry(n)
	return &e, nil
}

// Delete removes a node and its subtree. A missing node is not an error.
func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.get(path)
	if n == nil {
		return nil
	}
	if n.path == treesync.RootPath {
		return fmt.Errorf("%w: cannot delete the root", treesync.ErrInvariant)
	}
	for k, c := range s.nodes {
		if c.path == n.path || (n.isDir() && treesync.IsUnder(c.path, n.path)) {
			delete(s.nodes, k)
		}
	}
	s.touch(treesync.ParentPath(n.path))
	return nil
}

// Paths lists every path held, sorted. Handy in tests.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.path)
	}
	sort.Strings(out)
	return out
}

var _ treesync.Remote = (*Store)(nil)

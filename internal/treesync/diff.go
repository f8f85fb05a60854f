package treesync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/treesync/internal/queue"
)

// DiffOptions tunes conflict handling.
type DiffOptions struct {
	// DetectConflicts runs the staleness, identity and kind checks before a
	// pair is diffed structurally.
	DetectConflicts bool
	// ContinueAfterConflict keeps diffing a pair (and its subtree) after a
	// conflict was emitted for it.
	ContinueAfterConflict bool
}

type diffState uint8

const (
	stateSeed diffState = iota
	stateQueue
	stateDeletions
	stateDone
)

// queued is one pair waiting in the pairing queue. src, the authoritative
// side, is always present.
type queued struct {
	tgt  *Entry
	src  *Entry
	path string
}

// DiffEngine walks the authoritative side's snapshot against the other side
// and yields the actions that bring the other side in line.
//
// Internally everything is expressed relative to the target: the engine emits
// local.* actions carrying the target entry in Local and the source entry in
// Remote. When the local side is authoritative each action is inverted on the
// way out, so both directions share the pairing, rename and conflict logic.
//
// An engine is single use. It is not safe for concurrent use.
type DiffEngine struct {
	authoritative Side
	source        *SnapshotTree
	sourceIndex   Tree
	target        Tree
	opts          DiffOptions

	queue              *queue.OrderedQueue[queued]
	seen               mapset.Set[string]
	potentialDeletions mapset.Set[string]
	matched            mapset.Set[string]
	proj               projection

	pending []Action
	state   diffState
	err     error
}

// NewRemoteDiff builds an engine for the remote-to-local direction. snapshot
// is the result of a remote fetch; children of changed directories are listed
// through lister.
func NewRemoteDiff(local Tree, lister ChildLister, snapshot []Entry, opts DiffOptions) *DiffEngine {
	source := NewSnapshotTree(snapshot, lister)
	return newDiffEngine(SideRemote, source, source, local, opts)
}

// NewLocalDiff builds an engine for the local-to-remote direction. snapshot
// lists the local records changed since the last pass; local is the full
// local store and remote a complete remote snapshot.
func NewLocalDiff(remote Tree, local Tree, snapshot []Entry, opts DiffOptions) *DiffEngine {
	source := NewSnapshotTree(snapshot, local)
	return newDiffEngine(SideLocal, source, local, remote, opts)
}

func newDiffEngine(authoritative Side, source *SnapshotTree, sourceIndex, target Tree, opts DiffOptions) *DiffEngine {
	return &DiffEngine{
		authoritative:      authoritative,
		source:             source,
		sourceIndex:        sourceIndex,
		target:             target,
		opts:               opts,
		queue:              queue.NewOrderedQueue(func(a, b queued) bool { return a.path < b.path }),
		seen:               mapset.NewThreadUnsafeSet[string](),
		potentialDeletions: mapset.NewThreadUnsafeSet[string](),
		matched:            mapset.NewThreadUnsafeSet[string](),
	}
}

// DiffPair diffs a single pair without walking any further. It is the
// per-pair step of the engine, exposed for callers that already hold both
// sides of a node.
func DiffPair(ctx context.Context, p Pair, authoritative Side, opts DiffOptions) ([]Action, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	src, tgt := p.Remote, p.Local
	if authoritative == SideLocal {
		src, tgt = p.Local, p.Remote
	}
	if src == nil {
		return nil, fmt.Errorf("%w: pair has no %s entry", ErrInvariant, authoritative)
	}

	var targetEntries []Entry
	if tgt != nil {
		targetEntries = append(targetEntries, *tgt)
	}
	source := NewSnapshotTree([]Entry{*src}, nil)
	d := newDiffEngine(authoritative, source, source, NewSnapshotTree(targetEntries, nil), opts)
	if err := d.diffPair(ctx, tgt, src); err != nil {
		return nil, err
	}
	return d.pending, nil
}

// Next returns the next action. The engine is exhausted once ok is false; an
// error is sticky.
func (d *DiffEngine) Next(ctx context.Context) (Action, bool, error) {
	for {
		if d.err != nil {
			return Action{}, false, d.err
		}
		if len(d.pending) > 0 {
			a := d.pending[0]
			d.pending = d.pending[1:]
			return a, true, nil
		}

		switch d.state {
		case stateSeed:
			d.err = d.seed(ctx)
			d.state = stateQueue
		case stateQueue:
			q, ok := d.queue.Dequeue()
			if !ok {
				d.state = stateDeletions
				continue
			}
			d.err = d.diffPair(ctx, q.tgt, q.src)
		case stateDeletions:
			d.err = d.emitDeletions(ctx)
			d.state = stateDone
		default:
			return Action{}, false, nil
		}
	}
}

func (d *DiffEngine) seed(ctx context.Context) error {
	if _, ok := d.source.Root(); !ok {
		if d.authoritative == SideRemote {
			return ErrMissingRemoteRoot
		}
		return fmt.Errorf("%w: local snapshot has no root", ErrInvariant)
	}

	for _, e := range d.source.Entries() {
		if err := e.Validate(); err != nil {
			return err
		}
		src := e
		var tgt *Entry
		if src.ID != "" {
			found, err := d.target.ByID(ctx, src.ID)
			if err != nil {
				return fmt.Errorf("lookup %s by id: %w", d.authoritative.Opposite(), err)
			}
			tgt = found
		}
		d.push(tgt, &src)
	}
	return nil
}

func (d *DiffEngine) push(tgt, src *Entry) {
	key := tgt.key() + "\x01" + src.key()
	if d.seen.Contains(key) {
		return
	}
	d.seen.Add(key)
	d.queue.Enqueue(queued{tgt: tgt, src: src, path: src.Path})
}

// emit orients a target-relative action for the engine's direction.
func (d *DiffEngine) emit(t ActionType, tgt, src *Entry) {
	a := Action{Type: t, Local: tgt, Remote: src}
	if d.authoritative == SideLocal {
		a = a.Inverted()
	}
	slog.Debug("diff", "action", a.Type, "path", a.Path())
	d.pending = append(d.pending, a)
}

func (d *DiffEngine) match(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		d.matched.Add(id)
		d.potentialDeletions.Remove(id)
	}
}

// differs reports whether a pair needs any structural action, reading the
// target path through the directory renames emitted so far.
func (d *DiffEngine) differs(tgt, src *Entry) bool {
	return d.proj.forward(tgt.Path) != src.Path ||
		tgt.ParentID != src.ParentID ||
		tgt.ETag != src.ETag
}

func (d *DiffEngine) diffPair(ctx context.Context, tgt, src *Entry) error {
	if tgt == nil {
		return d.diffSourceOnly(ctx, src)
	}

	d.match(tgt.ID, src.ID)

	if d.opts.DetectConflicts {
		if d.checkConflicts(tgt, src) == verdictHalt {
			return nil
		}
	}

	if tgt.IsDir() != src.IsDir() {
		d.emit(LocalDelete, tgt, nil)
		d.emit(LocalCreate, nil, src)
		if src.IsDir() {
			return d.pushSourceChildren(ctx, src)
		}
		return nil
	}

	projected := d.proj.forward(tgt.Path)
	moved := projected != src.Path || tgt.ParentID != src.ParentID

	if src.IsDir() {
		if moved {
			d.emit(LocalDirMoveRename, tgt, src)
			d.proj.add(tgt.Path, src.Path)
		}
		if tgt.ETag != src.ETag {
			if err := d.diffChildren(ctx, tgt, src); err != nil {
				return err
			}
			d.emit(MetaUpdateEtag, tgt, src)
		}
		return nil
	}

	if moved {
		d.emit(LocalFileMoveRename, tgt, src)
	}
	if tgt.ETag != src.ETag {
		d.emit(LocalFileUpdateContent, tgt, src)
	}
	return nil
}

// diffSourceOnly handles a source entry with no counterpart by id. An
// unlinked node of the same kind already sitting at the path is joined rather
// than duplicated.
func (d *DiffEngine) diffSourceOnly(ctx context.Context, src *Entry) error {
	origin := d.proj.backward(src.Path)
	occupant, err := d.target.ByPath(ctx, origin)
	if err == nil && occupant == nil {
		occupant, err = d.target.ByPath(ctx, AlternatePath(origin))
	}
	if err != nil {
		return fmt.Errorf("lookup %s by path: %w", d.authoritative.Opposite(), err)
	}

	if occupant != nil {
		join, err := d.joinable(ctx, occupant, src)
		if err != nil {
			return err
		}
		if join {
			d.match(occupant.ID, src.ID)
			d.emit(LocalJoin, occupant, src)
			if src.IsDir() {
				return d.pushSourceChildren(ctx, src)
			}
			return nil
		}

		leaving, err := d.movingAway(ctx, occupant, src)
		if err != nil {
			return err
		}
		if !leaving && d.opts.DetectConflicts {
			if d.checkConflicts(occupant, src) == verdictHalt {
				return nil
			}
		}
	}

	d.emit(LocalCreate, nil, src)
	if src.IsDir() {
		return d.pushSourceChildren(ctx, src)
	}
	return nil
}

func (d *DiffEngine) joinable(ctx context.Context, occupant, src *Entry) (bool, error) {
	if occupant.IsDir() != src.IsDir() {
		return false, nil
	}
	if occupant.ID == "" {
		return true, nil
	}
	if src.ID != "" {
		return false, nil
	}
	// the occupant is linked, but to nothing the source side still holds
	owner, err := d.sourceIndex.ByID(ctx, occupant.ID)
	if err != nil {
		return false, fmt.Errorf("lookup %s by id: %w", d.authoritative, err)
	}
	return owner == nil, nil
}

// movingAway reports whether the occupant of a path is itself headed
// somewhere else in this pass.
func (d *DiffEngine) movingAway(ctx context.Context, occupant, src *Entry) (bool, error) {
	if occupant.ID == "" || occupant.ID == src.ID {
		return false, nil
	}
	dest, err := d.source.ByID(ctx, occupant.ID)
	if err != nil {
		return false, fmt.Errorf("lookup %s by id: %w", d.authoritative, err)
	}
	return dest != nil && dest.Path != src.Path, nil
}

func (d *DiffEngine) pushSourceChildren(ctx context.Context, dir *Entry) error {
	children, err := d.source.Children(ctx, *dir)
	if err != nil {
		return fmt.Errorf("list %s children of %s: %w", d.authoritative, dir.Path, err)
	}
	for _, c := range children {
		child := c
		var tgt *Entry
		if child.ID != "" {
			tgt, err = d.target.ByID(ctx, child.ID)
			if err != nil {
				return fmt.Errorf("lookup %s by id: %w", d.authoritative.Opposite(), err)
			}
		}
		d.push(tgt, &child)
	}
	return nil
}

// emitDeletions runs once the queue is drained. Every id that went missing
// from a listing and never turned up anywhere else is deleted. Nodes inside a
// directory that is itself deleted are covered by that delete.
func (d *DiffEngine) emitDeletions(ctx context.Context) error {
	ids := d.potentialDeletions.Difference(d.matched).ToSlice()
	doomed := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := d.target.ByID(ctx, id)
		if err != nil {
			return fmt.Errorf("lookup %s by id: %w", d.authoritative.Opposite(), err)
		}
		if e != nil {
			doomed = append(doomed, *e)
		}
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].Path < doomed[j].Path })

	var dirs []string
	for _, e := range doomed {
		covered := false
		for _, dir := range dirs {
			if IsUnder(e.Path, dir) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e.Path)
		}
		d.emit(LocalDelete, entryPtr(e), nil)
	}
	return nil
}

package treesync

import (
	"context"
	"fmt"
	"log/slog"
)

func (r *Runner) stat(ctx context.Context, path string) (*Entry, error) {
	st, err := r.remote.Stat(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return st, nil
}

// remoteParentReady checks that the remote directory a node is headed for
// exists and, when the local parent is linked, is that node.
func (r *Runner) remoteParentReady(ctx context.Context, dst Entry) (bool, error) {
	parent, err := r.stat(ctx, ParentPath(dst.Path))
	if err != nil {
		return false, err
	}
	if parent == nil || !parent.IsDir() {
		return false, nil
	}
	if parent.ID != "" && dst.ParentID != "" && parent.ID != dst.ParentID {
		return false, nil
	}
	return true, nil
}

// moveRemote moves a remote node and keeps the path tracker in step, so later
// actions that still carry the starting path find it.
func (r *Runner) moveRemote(ctx context.Context, from, to string) (*Entry, error) {
	moved, err := r.remote.Move(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	r.paths.add(from, to)
	r.markSettle(from)
	r.markSettle(to)
	return moved, nil
}

// parkRemote moves a remote node out of the way and deletes it at the end of
// the run unless something claimed it.
func (r *Runner) parkRemote(ctx context.Context, occ Entry) error {
	tmp := tempPath(occ.Path)
	if _, err := r.moveRemote(ctx, occ.Path, tmp); err != nil {
		return err
	}
	slog.Debug("sync park", "side", SideRemote, "path", occ.Path, "tmp", tmp)

	mark := r.paths.mark()
	r.addLate("unpark "+tmp, func(ctx context.Context) error {
		p := r.paths.currentFrom(tmp, mark)
		st, err := r.stat(ctx, p)
		if err != nil || st == nil || st.ID != occ.ID {
			return err
		}
		r.markSettle(p)
		return r.remote.Delete(ctx, p)
	})
	return nil
}

// link writes the server's view of a node into the local record.
func (r *Runner) link(ctx context.Context, rec Entry, remote Entry) error {
	return r.local.SetFields(ctx, rec.Ref, LinkFields(remote))
}

// pushContent uploads a local file and records the result. The recorded
// values are checked again after the batch.
func (r *Runner) pushContent(ctx context.Context, rec Entry, path string) error {
	data, err := r.local.Content(ctx, rec.Ref)
	if err != nil {
		return fmt.Errorf("read %s: %w", rec.Path, err)
	}
	pushed, err := r.remote.PutContent(ctx, path, data)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	r.markSettle(path)
	if err := r.link(ctx, rec, *pushed); err != nil {
		return err
	}
	r.verifyLater(path, *pushed)
	return nil
}

// materialize creates rec on the remote at path.
func (r *Runner) materialize(ctx context.Context, rec Entry, path string) error {
	if !rec.IsDir() {
		return r.pushContent(ctx, rec, path)
	}
	created, err := r.remote.Mkdir(ctx, path)
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	r.markSettle(path)
	return r.link(ctx, rec, *created)
}

func (r *Runner) handleRemoteCreate(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	src := *a.Local
	return r.attempt(ctx, "create remote "+src.Path, func(ctx context.Context) (bool, error) {
		return r.createRemote(ctx, src)
	})
}

func (r *Runner) createRemote(ctx context.Context, src Entry) (bool, error) {
	rec, err := r.resolveLocal(ctx, &src)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, fmt.Errorf("%w: no local record for %s", ErrInvariant, src)
	}

	if src.IsRoot() {
		root, err := r.stat(ctx, RootPath)
		if err != nil {
			return false, err
		}
		if root == nil {
			return false, ErrMissingRemoteRoot
		}
		return true, r.link(ctx, *rec, *root)
	}

	ready, err := r.remoteParentReady(ctx, src)
	if err != nil || !ready {
		return false, err
	}

	occ, err := r.stat(ctx, src.Path)
	if err != nil {
		return false, err
	}
	if occ != nil {
		if rec.ID != "" && occ.ID == rec.ID {
			return true, r.link(ctx, *rec, *occ)
		}
		if occ.IsDir() == src.IsDir() {
			owner, err := r.local.ByID(ctx, occ.ID)
			if err != nil {
				return false, err
			}
			if owner == nil {
				return true, r.joinRemote(ctx, *rec, *occ)
			}
		}
		if err := r.parkRemote(ctx, *occ); err != nil {
			return false, err
		}
	}
	return true, r.materialize(ctx, *rec, src.Path)
}

// joinRemote links a local record to a remote node nobody claims. The local
// side is authoritative, so file content is pushed over the remote one.
func (r *Runner) joinRemote(ctx context.Context, rec Entry, occ Entry) error {
	if occ.IsDir() {
		return r.link(ctx, rec, occ)
	}
	return r.pushContent(ctx, rec, occ.Path)
}

func (r *Runner) handleRemoteJoin(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	src := *a.Local
	rec, err := r.resolveLocal(ctx, &src)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: no local record for %s", ErrInvariant, src)
	}

	var occ *Entry
	if a.Remote != nil {
		occ, err = r.stat(ctx, r.paths.current(a.Remote.Path))
		if err != nil {
			return err
		}
	}
	if occ == nil || occ.IsDir() != src.IsDir() {
		return r.handleRemoteCreate(ctx, Action{Type: RemoteCreate, Local: a.Local})
	}
	return r.joinRemote(ctx, *rec, *occ)
}

func (r *Runner) handleRemoteMove(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	src, tgt := *a.Local, *a.Remote
	return r.attempt(ctx, "move remote "+tgt.Path+" -> "+src.Path, func(ctx context.Context) (bool, error) {
		return r.relocateRemote(ctx, tgt, src)
	})
}

// relocateRemote brings the remote node tgt to src's path, going through a
// temporary name when the destination is still taken.
func (r *Runner) relocateRemote(ctx context.Context, tgt, src Entry) (bool, error) {
	from := r.paths.current(tgt.Path)
	node, err := r.stat(ctx, from)
	if err != nil {
		return false, err
	}
	if node == nil || (tgt.ID != "" && node.ID != tgt.ID) {
		there, err := r.stat(ctx, src.Path)
		if err != nil {
			return false, err
		}
		if there != nil && there.ID == tgt.ID {
			return true, nil
		}
		return false, fmt.Errorf("%w: remote node %s for move is gone", ErrInvariant, tgt)
	}
	if from == src.Path {
		return true, nil
	}

	ready, err := r.remoteParentReady(ctx, src)
	if err != nil || !ready {
		return false, err
	}

	occ, err := r.stat(ctx, src.Path)
	if err != nil {
		return false, err
	}
	if occ != nil && occ.ID != node.ID {
		owner, err := r.local.ByID(ctx, occ.ID)
		if err != nil {
			return false, err
		}
		if owner != nil && !r.force {
			if !isTempPath(from) {
				if _, err := r.moveRemote(ctx, from, tempPath(from)); err != nil {
					return false, err
				}
			}
			return false, nil
		}
		if err := r.parkRemote(ctx, *occ); err != nil {
			return false, err
		}
	}

	moved, err := r.moveRemote(ctx, from, src.Path)
	if err != nil {
		return false, err
	}
	rec, err := r.resolveLocal(ctx, &src)
	if err != nil || rec == nil {
		return true, err
	}
	return true, r.local.SetFields(ctx, rec.Ref, Fields{ParentID: &moved.ParentID})
}

func (r *Runner) handleRemoteUpdateContent(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	rec, err := r.resolveLocal(ctx, a.Local)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: no local record for %s", ErrInvariant, a.Local)
	}
	return r.pushContent(ctx, *rec, r.paths.current(a.Remote.Path))
}

func (r *Runner) handleRemoteDelete(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	tgt := *a.Remote
	r.addLate("delete remote "+tgt.Path, func(ctx context.Context) error {
		p := r.paths.current(tgt.Path)
		st, err := r.stat(ctx, p)
		if err != nil || st == nil {
			return err
		}
		if tgt.ID != "" && st.ID != tgt.ID {
			slog.Debug("sync skip delete of replaced node", "path", p)
			return nil
		}
		r.markSettle(p)
		return r.remote.Delete(ctx, p)
	})
	return nil
}

// handleRemoteForceUpdate pushes a local node whether or not the remote has
// a counterpart.
func (r *Runner) handleRemoteForceUpdate(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	src := *a.Local
	return r.attempt(ctx, "force "+src.Path, func(ctx context.Context) (bool, error) {
		rec, err := r.resolveLocal(ctx, &src)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return false, fmt.Errorf("%w: no local record for %s", ErrInvariant, src)
		}
		if rec.IsRoot() {
			return r.createRemote(ctx, *rec)
		}

		ready, err := r.remoteParentReady(ctx, Entry{Path: rec.Path})
		if err != nil || !ready {
			return false, err
		}
		if !rec.IsDir() {
			return true, r.pushContent(ctx, *rec, rec.Path)
		}

		st, err := r.stat(ctx, rec.Path)
		if err != nil {
			return false, err
		}
		if st != nil && st.IsDir() {
			return true, r.link(ctx, *rec, *st)
		}
		return true, r.materialize(ctx, *rec, rec.Path)
	})
}

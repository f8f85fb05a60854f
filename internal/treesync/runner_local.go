package treesync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
)

// resolveLocal finds the current record for an entry: by id when it has one,
// else by its store key.
func (r *Runner) resolveLocal(ctx context.Context, e *Entry) (*Entry, error) {
	if e == nil {
		return nil, nil
	}
	if e.ID != "" {
		rec, err := r.local.ByID(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		// an id reused by a node of the other kind does not name e
		if rec != nil && rec.IsDir() == e.IsDir() {
			return rec, nil
		}
	}
	key := e.Ref
	if key == "" {
		key = e.Path
	}
	rec, err := r.local.ByPath(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if e.ID != "" && rec.ID != "" && rec.ID != e.ID {
		return nil, nil
	}
	return rec, nil
}

// localOccupant returns whatever sits at path in either its file or its
// directory form.
func (r *Runner) localOccupant(ctx context.Context, path string) (*Entry, error) {
	rec, err := r.local.ByPath(ctx, path)
	if err != nil || rec != nil {
		return rec, err
	}
	return r.local.ByPath(ctx, AlternatePath(path))
}

// localParentReady checks that the directory a node is headed for exists and,
// when linked, is the one the remote names.
func (r *Runner) localParentReady(ctx context.Context, dst Entry) (bool, error) {
	parent, err := r.local.ByPath(ctx, ParentPath(dst.Path))
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

// parkLocal moves a record out of the way. It is removed at the end of the
// run unless something claimed it in the meantime.
func (r *Runner) parkLocal(ctx context.Context, occ Entry) error {
	tmp := tempPath(occ.Path)
	if err := r.local.Rename(ctx, occ.Ref, tmp); err != nil {
		return fmt.Errorf("park %s: %w", occ.Path, err)
	}
	slog.Debug("sync park", "side", SideLocal, "path", occ.Path, "tmp", tmp)

	r.addLate("unpark "+tmp, func(ctx context.Context) error {
		rec, err := r.local.ByPath(ctx, tmp)
		if err != nil || rec == nil || rec.ID != occ.ID {
			return err
		}
		return r.local.Delete(ctx, tmp)
	})
	return nil
}

// unlinkLocal clears a record's remote id so another record can claim it.
func (r *Runner) unlinkLocal(ctx context.Context, rec Entry) error {
	none := ""
	if err := r.local.SetFields(ctx, rec.Ref, Fields{ID: &none}); err != nil {
		return fmt.Errorf("unlink %s: %w", rec.Path, err)
	}
	slog.Debug("sync unlink", "side", SideLocal, "path", rec.Path, "id", rec.ID)
	return nil
}

func (r *Runner) fetchContent(ctx context.Context, src Entry) ([]byte, error) {
	data, err := r.remote.GetContent(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", src.Path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// refreshLocal links rec to src and pulls the content when it changed.
func (r *Runner) refreshLocal(ctx context.Context, rec Entry, src Entry) error {
	fields := LinkFields(src)
	if !src.IsDir() && rec.ETag != src.ETag {
		data, err := r.fetchContent(ctx, src)
		if err != nil {
			return err
		}
		if rec.ID == "" {
			r.warnOverwrite(ctx, rec, data)
		}
		fields.Content = data
	}
	return r.local.SetFields(ctx, rec.Ref, fields)
}

// warnOverwrite logs when joining an unlinked file drops local bytes the
// remote does not have.
func (r *Runner) warnOverwrite(ctx context.Context, rec Entry, data []byte) {
	old, err := r.local.Content(ctx, rec.Ref)
	if err != nil || bytes.Equal(old, data) {
		return
	}
	slog.Warn("sync join replaces local content", "path", rec.Path, "localBytes", len(old), "remoteBytes", len(data))
}

func (r *Runner) handleLocalCreate(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	src := *a.Remote
	return r.attempt(ctx, "create "+src.Path, func(ctx context.Context) (bool, error) {
		return r.createLocal(ctx, src)
	})
}

func (r *Runner) createLocal(ctx context.Context, src Entry) (bool, error) {
	if src.ID != "" {
		rec, err := r.local.ByID(ctx, src.ID)
		if err != nil {
			return false, err
		}
		if rec != nil && rec.IsDir() != src.IsDir() {
			// the id now names a node of the other kind
			if err := r.unlinkLocal(ctx, *rec); err != nil {
				return false, err
			}
			rec = nil
		}
		if rec != nil && rec.Path != src.Path {
			return r.moveLocal(ctx, *rec, src)
		}
		if rec != nil {
			return true, r.refreshLocal(ctx, *rec, src)
		}
	}

	if src.IsRoot() {
		root, err := r.local.ByPath(ctx, RootPath)
		if err != nil {
			return false, err
		}
		if root == nil {
			return false, ErrRootCreate
		}
		return true, r.refreshLocal(ctx, *root, src)
	}

	ready, err := r.localParentReady(ctx, src)
	if err != nil || !ready {
		return false, err
	}

	occ, err := r.localOccupant(ctx, src.Path)
	if err != nil {
		return false, err
	}
	if occ != nil {
		if occ.ID == "" && occ.IsDir() == src.IsDir() {
			return true, r.refreshLocal(ctx, *occ, src)
		}
		if err := r.parkLocal(ctx, *occ); err != nil {
			return false, err
		}
	}

	rec := Record{
		Path:         src.Path,
		ID:           src.ID,
		ParentID:     src.ParentID,
		ETag:         src.ETag,
		LastModified: src.LastModified,
	}
	if !src.IsDir() {
		data, err := r.fetchContent(ctx, src)
		if err != nil {
			return false, err
		}
		rec.Content = data
	}
	if err := r.local.Create(ctx, rec); err != nil {
		return false, fmt.Errorf("create %s: %w", src.Path, err)
	}
	return true, nil
}

func (r *Runner) handleLocalJoin(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	src := *a.Remote
	rec, err := r.resolveLocal(ctx, a.Local)
	if err != nil {
		return err
	}
	if rec == nil || (rec.ID != "" && rec.ID != src.ID) {
		// the unlinked record is gone, fall back to a plain create
		return r.handleLocalCreate(ctx, Action{Type: LocalCreate, Remote: a.Remote})
	}
	return r.refreshLocal(ctx, *rec, src)
}

func (r *Runner) handleLocalMove(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	tgt, src := *a.Local, *a.Remote
	return r.attempt(ctx, "move "+tgt.Path+" -> "+src.Path, func(ctx context.Context) (bool, error) {
		rec, err := r.resolveLocal(ctx, &tgt)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return false, fmt.Errorf("%w: local record %s for move is gone", ErrInvariant, tgt)
		}
		return r.moveLocal(ctx, *rec, src)
	})
}

// moveLocal renames rec to dst's path. An occupied destination sends rec to
// a temporary name first; the caller retries once the occupant has moved on.
func (r *Runner) moveLocal(ctx context.Context, rec Entry, dst Entry) (bool, error) {
	parentID := dst.ParentID
	if rec.Path == dst.Path {
		return true, r.local.SetFields(ctx, rec.Ref, Fields{ParentID: &parentID})
	}

	ready, err := r.localParentReady(ctx, dst)
	if err != nil || !ready {
		return false, err
	}

	occ, err := r.localOccupant(ctx, dst.Path)
	if err != nil {
		return false, err
	}
	if occ != nil && occ.Ref != rec.Ref {
		if occ.ID != "" && !r.force {
			if !isTempPath(rec.Path) {
				tmp := tempPath(rec.Path)
				if err := r.local.Rename(ctx, rec.Ref, tmp); err != nil {
					return false, fmt.Errorf("rename %s to %s: %w", rec.Path, tmp, err)
				}
				slog.Debug("sync rename via temp", "path", rec.Path, "tmp", tmp, "dst", dst.Path)
			}
			return false, nil
		}
		if err := r.parkLocal(ctx, *occ); err != nil {
			return false, err
		}
	}

	if err := r.local.Rename(ctx, rec.Ref, dst.Path); err != nil {
		return false, fmt.Errorf("rename %s to %s: %w", rec.Path, dst.Path, err)
	}
	return true, r.local.SetFields(ctx, dst.Path, Fields{ParentID: &parentID})
}

func (r *Runner) handleLocalUpdateContent(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	src := *a.Remote
	rec, err := r.resolveLocal(ctx, a.Local)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: no local record for %s", ErrInvariant, src)
	}
	data, err := r.fetchContent(ctx, src)
	if err != nil {
		return err
	}
	return r.local.SetFields(ctx, rec.Ref, Fields{
		ETag:         &src.ETag,
		LastModified: &src.LastModified,
		Content:      data,
	})
}

func (r *Runner) handleLocalDelete(ctx context.Context, a Action) error {
	if err := requireEntry(a, a.Local, SideLocal); err != nil {
		return err
	}
	tgt := *a.Local
	r.addLate("delete "+tgt.Path, func(ctx context.Context) error {
		rec, err := r.resolveLocal(ctx, &tgt)
		if err != nil || rec == nil {
			return err
		}
		return r.local.Delete(ctx, rec.Ref)
	})
	return nil
}

// handleMetaUpdateEtag copies a remote directory's fingerprint into the local
// record. When the local side is authoritative the remote fingerprint is only
// known after the pushes, so the settle step takes care of it.
func (r *Runner) handleMetaUpdateEtag(ctx context.Context, a Action) error {
	if r.authoritative == SideLocal {
		return nil
	}
	if err := requireEntry(a, a.Remote, SideRemote); err != nil {
		return err
	}
	src := *a.Remote
	rec, err := r.resolveLocal(ctx, a.Local)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: no local record for %s", ErrInvariant, src)
	}
	return r.local.SetFields(ctx, rec.Ref, Fields{
		ETag:         &src.ETag,
		LastModified: &src.LastModified,
	})
}

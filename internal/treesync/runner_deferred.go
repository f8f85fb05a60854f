package treesync

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
)

// taskFunc reports done=false when it has to wait for another task.
type taskFunc func(ctx context.Context) (done bool, err error)

type task struct {
	name string
	run  taskFunc
}

type settleMark struct {
	path string
	mark int
}

func (r *Runner) deferTask(name string, fn taskFunc) {
	r.report.Deferred++
	r.deferred = append(r.deferred, &task{name: name, run: fn})
	slog.Debug("sync defer", "task", name)
}

// addLate queues work that must wait until every move has had its chance:
// deletes, and cleanup of nodes parked under a temporary name.
func (r *Runner) addLate(name string, fn func(ctx context.Context) error) {
	r.late = append(r.late, &task{name: name, run: func(ctx context.Context) (bool, error) {
		return true, fn(ctx)
	}})
}

// drain runs deferred rounds until nothing is left. Tasks added during a
// round run in the next one. When a round makes no progress the late queue
// runs early, and if that does not help either, blocked moves start pushing
// their occupants aside.
func (r *Runner) drain(ctx context.Context) error {
	for {
		if len(r.deferred) == 0 {
			if len(r.late) == 0 {
				return nil
			}
			if err := r.runLate(ctx); err != nil {
				return err
			}
			continue
		}

		if r.report.Rounds >= r.maxRounds {
			return fmt.Errorf("%w: %d tasks left after %d rounds", ErrUnsettled, len(r.deferred), r.report.Rounds)
		}
		r.report.Rounds++

		round := r.deferred
		r.deferred = nil
		var blocked []*task
		progress := false

		for _, t := range round {
			done, err := t.run(ctx)
			if err != nil {
				return fmt.Errorf("deferred %s: %w", t.name, err)
			}
			if done {
				progress = true
			} else {
				blocked = append(blocked, t)
			}
		}
		r.deferred = append(blocked, r.deferred...)

		if progress {
			continue
		}
		switch {
		case len(r.late) > 0:
			if err := r.runLate(ctx); err != nil {
				return err
			}
		case !r.force:
			slog.Debug("sync deferred tasks stuck, forcing", "tasks", len(r.deferred))
			r.force = true
		}
	}
}

func (r *Runner) runLate(ctx context.Context) error {
	late := r.late
	r.late = nil
	for _, t := range late {
		if _, err := t.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
	}
	return nil
}

// markSettle remembers the ancestors of a remote path that was just mutated.
// Their fingerprints changed on the server and get copied into the local
// store once everything else is done.
func (r *Runner) markSettle(path string) {
	mark := r.paths.mark()
	for _, dir := range Ancestors(path) {
		r.settle = append(r.settle, settleMark{path: dir, mark: mark})
	}
}

func (r *Runner) settleDirs(ctx context.Context) error {
	done := mapset.NewThreadUnsafeSet[string]()
	for _, m := range r.settle {
		p := r.paths.currentFrom(m.path, m.mark)
		if !done.Add(p) {
			continue
		}

		st, err := r.remote.Stat(ctx, p)
		if err != nil {
			return fmt.Errorf("settle %s: %w", p, err)
		}
		if st == nil || !st.IsDir() {
			continue
		}
		rec, err := r.local.ByPath(ctx, p)
		if err != nil {
			return fmt.Errorf("settle %s: %w", p, err)
		}
		if rec == nil || (rec.ID != "" && rec.ID != st.ID) {
			continue
		}
		if rec.ETag == st.ETag && rec.ID == st.ID && rec.LastModified.Equal(st.LastModified) {
			continue
		}
		if err := r.local.SetFields(ctx, rec.Ref, LinkFields(*st)); err != nil {
			return fmt.Errorf("settle %s: %w", p, err)
		}
		r.report.Settled++
	}
	return nil
}

// verifyLater is the second phase of a push: the server's answer to the
// upload may not be final, so the node is looked up again once the batch is
// through and the local record corrected if it drifted.
func (r *Runner) verifyLater(path string, recorded Entry) {
	mark := r.paths.mark()
	r.deferTask("verify "+path, func(ctx context.Context) (bool, error) {
		p := r.paths.currentFrom(path, mark)
		st, err := r.remote.Stat(ctx, p)
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", p, err)
		}
		if st == nil || (recorded.ID != "" && st.ID != recorded.ID) {
			return true, nil
		}
		if st.ETag == recorded.ETag && st.ID == recorded.ID && st.LastModified.Equal(recorded.LastModified) {
			return true, nil
		}

		rec, err := r.local.ByID(ctx, st.ID)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return true, nil
		}
		if err := r.local.SetFields(ctx, rec.Ref, LinkFields(*st)); err != nil {
			return false, err
		}
		r.report.Corrected++
		slog.Debug("sync corrected", "path", p, "etag", st.ETag)
		return true, nil
	})
}

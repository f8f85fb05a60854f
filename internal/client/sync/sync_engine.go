package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/treesync/internal/localstore"
	"github.com/openmined/treesync/internal/syncignore"
	"github.com/openmined/treesync/internal/treesync"
)

const (
	defaultInterval = 30 * time.Second
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrInvalidOption      = errors.New("invalid sync option")
)

type Options struct {
	// Directions run in order on every tick of Start.
	Directions            []Direction
	Policy                PolicyKind
	DetectConflicts       bool
	ContinueAfterConflict bool
	Interval              time.Duration
	// MaxRounds bounds the deferred-task drain; zero keeps the runner default.
	MaxRounds int
	// Now stamps pass start times; defaults to time.Now.
	Now func() time.Time
}

func (o Options) diffOptions() treesync.DiffOptions {
	return treesync.DiffOptions{
		DetectConflicts:       o.DetectConflicts,
		ContinueAfterConflict: o.ContinueAfterConflict,
	}
}

// SyncEngine runs passes between one local store and one remote.
type SyncEngine struct {
	store  *localstore.Store
	remote treesync.Remote
	opts   Options
	wg     sync.WaitGroup
	muSync sync.Mutex
}

func NewSyncEngine(store *localstore.Store, remote treesync.Remote, ignore *syncignore.List, opts Options) *SyncEngine {
	if len(opts.Directions) == 0 {
		opts.Directions = []Direction{DirectionPull, DirectionPush}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyTrack
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if ignore != nil {
		remote = &ignoredRemote{Remote: remote, ignore: ignore}
	}
	return &SyncEngine{
		store:  store,
		remote: remote,
		opts:   opts,
	}
}

// Start runs every configured direction once, then again on each interval
// until ctx is done.
func (se *SyncEngine) Start(ctx context.Context) error {
	slog.Info("sync start", "directions", se.opts.Directions, "interval", se.opts.Interval)

	slog.Info("running initial sync")
	if err := se.RunAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("failed to run initial sync", "error", err)
	}

	se.wg.Add(1)
	go func() {
		defer se.wg.Done()

		// a timer, not a ticker, so a slow pass never queues up ticks
		timer := time.NewTimer(se.opts.Interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				err := se.RunAll(ctx)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrSyncAlreadyRunning) {
					slog.Error("failed to run sync", "error", err)
				}
				timer.Reset(se.opts.Interval)
			}
		}
	}()

	return nil
}

// Stop waits for the background loop to return. Cancel the context given to
// Start first.
func (se *SyncEngine) Stop() {
	se.wg.Wait()
	slog.Info("sync stop")
}

// RunAll runs one pass per configured direction and stops at the first error.
func (se *SyncEngine) RunAll(ctx context.Context) error {
	for _, dir := range se.opts.Directions {
		if _, err := se.RunPass(ctx, dir); err != nil {
			return fmt.Errorf("%s pass: %w", dir, err)
		}
	}
	return nil
}

// RunPass diffs and applies one direction inside a single local transaction.
// The last-sync timestamp moves only when the whole pass commits.
func (se *SyncEngine) RunPass(ctx context.Context, dir Direction) (*PassReport, error) {
	if !se.muSync.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer se.muSync.Unlock()

	started := se.opts.Now()
	tStart := time.Now()
	source := dir.Source()

	tx, err := se.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	since, err := tx.LastSync(ctx, source)
	if err != nil {
		return nil, err
	}

	policy := newPassPolicy(se.opts.Policy)
	engine, fetched, err := se.diff(ctx, tx, dir, since)
	if err != nil {
		return nil, err
	}
	actions, err := treesync.Collect(ctx, treesync.Apply(engine, policy))
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	tDiff := time.Since(tStart)

	var runnerOpts []treesync.RunnerOption
	if se.opts.MaxRounds > 0 {
		runnerOpts = append(runnerOpts, treesync.WithMaxRounds(se.opts.MaxRounds))
	}
	runReport, err := treesync.NewRunner(tx, se.remote, source, runnerOpts...).Run(ctx, treesync.NewSliceStream(actions))
	if err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	if err := tx.SetLastSync(ctx, source, started); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	report := &PassReport{
		Direction: dir,
		Started:   started,
		Duration:  time.Since(tStart),
		Fetched:   fetched,
		Applied:   runReport.Applied,
		Conflicts: treesync.ConflictPaths(policy.tracker),
		Dropped:   policy.dropped(),
		Resolved:  policy.resolved(),
		Deferred:  runReport.Deferred,
		Rounds:    runReport.Rounds,
		Corrected: runReport.Corrected,
		Settled:   runReport.Settled,
	}

	if report.HasChanges() {
		slog.Info("sync pass",
			"direction", dir,
			"fetched", fetched,
			"applied", report.Total(),
			"conflicts", len(report.Conflicts),
			"dropped", report.Dropped,
			"deferred", report.Deferred,
			"rounds", report.Rounds,
			"tsDiff", tDiff,
			"tsTotal", report.Duration,
		)
	} else {
		slog.Debug("sync pass", "direction", dir, "fetched", fetched, "tsTotal", report.Duration)
	}
	return report, nil
}

// Plan computes what a pass would do from since on, without applying it. A
// zero since compares the full trees.
func (se *SyncEngine) Plan(ctx context.Context, dir Direction, since time.Time) (*Plan, error) {
	plan := &Plan{Direction: dir, Since: since}
	err := se.store.View(ctx, func(tx *localstore.Tx) error {
		policy := newPassPolicy(PolicyTrack)
		engine, fetched, err := se.diff(ctx, tx, dir, since)
		if err != nil {
			return err
		}
		actions, err := treesync.Collect(ctx, treesync.Apply(engine, policy))
		if err != nil {
			return fmt.Errorf("diff: %w", err)
		}
		plan.Fetched = fetched
		plan.Actions = actions
		plan.Conflicts = policy.tracker.Conflicts()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// LastSync reports when the last committed pass in dir started.
func (se *SyncEngine) LastSync(ctx context.Context, dir Direction) (time.Time, error) {
	var last time.Time
	err := se.store.View(ctx, func(tx *localstore.Tx) error {
		var err error
		last, err = tx.LastSync(ctx, dir.Source())
		return err
	})
	return last, err
}

// diff builds the engine for one direction. Pulls fetch only what changed
// after since; pushes always need the full remote tree to pair against.
func (se *SyncEngine) diff(ctx context.Context, tx *localstore.Tx, dir Direction, since time.Time) (*treesync.DiffEngine, int, error) {
	var local treesync.Tree = tx
	if ir, ok := se.remote.(*ignoredRemote); ok {
		local = &ignoredTree{Tree: tx, ignore: ir.ignore}
	}

	switch dir {
	case DirectionPull:
		var remote []treesync.Entry
		var err error
		if since.IsZero() {
			remote, err = se.remote.FetchAll(ctx)
		} else {
			remote, err = se.remote.FetchSince(ctx, since)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("fetch remote: %w", err)
		}
		return treesync.NewRemoteDiff(local, se.remote, remote, se.opts.diffOptions()), len(remote), nil

	case DirectionPush:
		remote, err := se.remote.FetchAll(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch remote: %w", err)
		}
		snapshot, err := tx.Snapshot(ctx, since)
		if err != nil {
			return nil, 0, fmt.Errorf("local snapshot: %w", err)
		}
		if ir, ok := se.remote.(*ignoredRemote); ok {
			snapshot = ir.ignore.Filter(snapshot)
		}
		remoteTree := treesync.NewSnapshotTree(remote, se.remote)
		return treesync.NewLocalDiff(remoteTree, local, snapshot, se.opts.diffOptions()), len(snapshot), nil
	}
	return nil, 0, fmt.Errorf("%w: direction %q", ErrInvalidOption, dir)
}

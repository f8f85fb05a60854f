package treesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxRounds = 64
	// TempPrefix starts the names of nodes moved aside during a pass.
	TempPrefix = ".treesync-"
)

// RunReport summarizes what a runner did in one Run.
type RunReport struct {
	Applied   map[ActionType]int `json:"applied" yaml:"applied"`
	Skipped   int                `json:"skipped" yaml:"skipped"`
	Deferred  int                `json:"deferred" yaml:"deferred"`
	Rounds    int                `json:"rounds" yaml:"rounds"`
	Corrected int                `json:"corrected" yaml:"corrected"`
	Settled   int                `json:"settled" yaml:"settled"`
}

// Total is the number of actions applied.
func (r RunReport) Total() int {
	n := 0
	for _, c := range r.Applied {
		n += c
	}
	return n
}

type RunnerOption func(*Runner)

// WithMaxRounds caps the number of deferred-task rounds before Run gives up
// with ErrUnsettled.
func WithMaxRounds(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxRounds = n
		}
	}
}

type handler func(ctx context.Context, a Action) error

// Runner applies actions to the local store and the remote client. Work that
// cannot happen yet (a rename onto an occupied path, a node whose parent has
// not arrived, the second phase of a push) is deferred and retried in rounds
// after the whole batch has run once. Deletes run last.
type Runner struct {
	local         LocalStore
	remote        RemoteClient
	authoritative Side
	maxRounds     int
	handlers      map[ActionType]handler

	deferred []*task
	late     []*task
	force    bool
	paths    pathTracker
	settle   []settleMark
	report   RunReport
}

// NewRunner creates a runner for one sync direction. authoritative is the side
// whose state the actions come from.
func NewRunner(local LocalStore, remote RemoteClient, authoritative Side, opts ...RunnerOption) *Runner {
	r := &Runner{
		local:         local,
		remote:        remote,
		authoritative: authoritative,
		maxRounds:     defaultMaxRounds,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.handlers = map[ActionType]handler{
		LocalCreate:               r.handleLocalCreate,
		LocalJoin:                 r.handleLocalJoin,
		LocalFileMoveRename:       r.handleLocalMove,
		LocalDirMoveRename:        r.handleLocalMove,
		LocalFileUpdateContent:    r.handleLocalUpdateContent,
		LocalDelete:               r.handleLocalDelete,
		MetaUpdateEtag:            r.handleMetaUpdateEtag,
		RemoteCreate:              r.handleRemoteCreate,
		RemoteJoin:                r.handleRemoteJoin,
		RemoteFileMoveRename:      r.handleRemoteMove,
		RemoteDirMoveRename:       r.handleRemoteMove,
		RemoteFileUpdateContent:   r.handleRemoteUpdateContent,
		RemoteDelete:              r.handleRemoteDelete,
		RemoteCreateOrForceUpdate: r.handleRemoteForceUpdate,
	}
	return r
}

func (r *Runner) reset() {
	r.deferred = nil
	r.late = nil
	r.force = false
	r.paths = pathTracker{}
	r.settle = nil
	r.report = RunReport{Applied: make(map[ActionType]int)}
}

// Run drains s, applies every action in order, then works off deferred tasks
// and deletes until nothing is left. The stream is read to the end before the
// first action is applied.
func (r *Runner) Run(ctx context.Context, s Stream) (RunReport, error) {
	r.reset()

	actions, err := Collect(ctx, s)
	if err != nil {
		return r.report, err
	}

	tStart := time.Now()
	for _, a := range actions {
		if err := r.apply(ctx, a); err != nil {
			return r.report, fmt.Errorf("apply %s: %w", a, err)
		}
	}
	if err := r.drain(ctx); err != nil {
		return r.report, err
	}
	if err := r.settleDirs(ctx); err != nil {
		return r.report, err
	}

	slog.Debug("sync run", "actions", len(actions), "deferred", r.report.Deferred, "rounds", r.report.Rounds, "took", time.Since(tStart))
	return r.report, nil
}

func (r *Runner) apply(ctx context.Context, a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	h, ok := r.handlers[a.Type]
	if !ok {
		r.report.Skipped++
		slog.Debug("sync skip", "action", a.Type, "path", a.Path())
		return nil
	}
	if err := h(ctx, a); err != nil {
		return err
	}
	r.report.Applied[a.Type]++
	slog.Info("sync", "op", a.Type, "path", a.Path())
	return nil
}

// attempt runs fn now and, when it reports that it could not finish, queues
// it for the next deferred round.
func (r *Runner) attempt(ctx context.Context, name string, fn taskFunc) error {
	done, err := fn(ctx)
	if err != nil || done {
		return err
	}
	r.deferTask(name, fn)
	return nil
}

func isTempPath(p string) bool {
	return strings.HasPrefix(BaseName(p), TempPrefix)
}

// tempPath returns a fresh sibling of p for moving a node out of the way.
func tempPath(p string) string {
	return JoinPath(ParentPath(p), TempPrefix+uuid.NewString(), IsDirPath(p))
}

func requireEntry(a Action, e *Entry, side Side) error {
	if e == nil {
		return fmt.Errorf("%w: %s needs a %s entry", ErrInvariant, a.Type, side)
	}
	return nil
}

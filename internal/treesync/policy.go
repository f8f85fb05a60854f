package treesync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Verdict is a policy's answer for one action.
type Verdict uint8

const (
	Pass Verdict = iota
	Drop
	Replace
)

var verdictNames = []string{"pass", "drop", "replace"}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", v)
}

// Decision carries a verdict and, for Replace, the actions to forward instead.
type Decision struct {
	Verdict Verdict
	Actions []Action
}

func PassDecision() Decision { return Decision{Verdict: Pass} }
func DropDecision() Decision { return Decision{Verdict: Drop} }
func ReplaceDecision(actions ...Action) Decision {
	return Decision{Verdict: Replace, Actions: actions}
}

// Policy inspects every action of a stream before it reaches the runner.
type Policy interface {
	Decide(a Action) (Decision, error)
}

// ConflictRecord is one conflict a policy has seen.
type ConflictRecord struct {
	Type ActionType `json:"type" yaml:"type"`
	Path string     `json:"path" yaml:"path"`
	// Prefix covers the subtree when the conflicting node is a directory.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Action Action `json:"action" yaml:"action"`
}

// Tracker records conflicts and lets every action through.
type Tracker struct {
	conflicts []ConflictRecord
	paths     mapset.Set[string]
	prefixes  mapset.Set[string]
}

func NewTracker() *Tracker {
	return &Tracker{
		paths:    mapset.NewThreadUnsafeSet[string](),
		prefixes: mapset.NewThreadUnsafeSet[string](),
	}
}

func (t *Tracker) Decide(a Action) (Decision, error) {
	t.observe(a)
	return PassDecision(), nil
}

func (t *Tracker) observe(a Action) {
	if !a.Type.IsConflict() {
		return
	}
	rec := ConflictRecord{Type: a.Type, Path: a.Path(), Action: a}
	for _, p := range a.Paths() {
		t.paths.Add(p)
		if IsDirPath(p) {
			t.prefixes.Add(p)
			if rec.Prefix == "" {
				rec.Prefix = p
			}
		}
	}
	t.conflicts = append(t.conflicts, rec)
	slog.Info("sync conflict", "type", a.Type, "path", rec.Path)
}

// Conflicts returns the conflicts seen so far in arrival order.
func (t *Tracker) Conflicts() []ConflictRecord {
	out := make([]ConflictRecord, len(t.conflicts))
	copy(out, t.conflicts)
	return out
}

// Blocks reports whether path is a recorded conflict path or lies under a
// recorded directory conflict.
func (t *Tracker) Blocks(path string) bool {
	if t.paths.Contains(path) {
		return true
	}
	blocked := false
	t.prefixes.Each(func(prefix string) bool {
		if IsUnder(path, prefix) {
			blocked = true
			return true
		}
		return false
	})
	return blocked
}

// Stopper forwards conflicts but drops every later action that touches a
// conflicting node or its subtree.
type Stopper struct {
	*Tracker
	dropped int
}

func NewStopper() *Stopper {
	return &Stopper{Tracker: NewTracker()}
}

func (s *Stopper) Decide(a Action) (Decision, error) {
	if a.Type.IsConflict() {
		s.observe(a)
		return PassDecision(), nil
	}
	for _, p := range a.Paths() {
		if s.Blocks(p) {
			s.dropped++
			slog.Debug("sync blocked by conflict", "action", a.Type, "path", p)
			return DropDecision(), nil
		}
	}
	return PassDecision(), nil
}

// Dropped counts the actions held back so far.
func (s *Stopper) Dropped() int {
	return s.dropped
}

// Resolver replaces conflicts it knows how to settle with compensating
// actions. A local node that changed after the remote snapshot is pushed to
// the remote. Every other conflict kind fails with
// ErrConflictNotAutomatable.
type Resolver struct {
	*Tracker
	resolved int
}

func NewResolver() *Resolver {
	return &Resolver{Tracker: NewTracker()}
}

func (r *Resolver) Decide(a Action) (Decision, error) {
	if !a.Type.IsConflict() {
		return PassDecision(), nil
	}
	r.observe(a)

	switch a.Type {
	case ConflictLocalIsNewer:
		if a.Local == nil {
			return Decision{}, fmt.Errorf("%w: %s without local entry", ErrInvariant, a.Type)
		}
		r.resolved++
		return ReplaceDecision(Action{Type: RemoteCreateOrForceUpdate, Local: a.Local}), nil
	default:
		return Decision{}, fmt.Errorf("%w: %s at %s", ErrConflictNotAutomatable, a.Type, a.Path())
	}
}

// Resolved counts the conflicts replaced with compensating actions.
func (r *Resolver) Resolved() int {
	return r.resolved
}

// PolicyStream runs every action of an inner stream through a policy.
type PolicyStream struct {
	inner   Stream
	policy  Policy
	pending []Action
}

// Apply wraps s with p. A nil policy passes everything through.
func Apply(s Stream, p Policy) Stream {
	if p == nil {
		return s
	}
	return &PolicyStream{inner: s, policy: p}
}

func (ps *PolicyStream) Next(ctx context.Context) (Action, bool, error) {
	for {
		if len(ps.pending) > 0 {
			a := ps.pending[0]
			ps.pending = ps.pending[1:]
			return a, true, nil
		}

		a, ok, err := ps.inner.Next(ctx)
		if err != nil || !ok {
			return Action{}, ok, err
		}

		d, err := ps.policy.Decide(a)
		if err != nil {
			return Action{}, false, err
		}
		switch d.Verdict {
		case Pass:
			return a, true, nil
		case Drop:
			continue
		case Replace:
			ps.pending = append(ps.pending, d.Actions...)
		default:
			return Action{}, false, fmt.Errorf("%w: unknown verdict %s", ErrInvariant, d.Verdict)
		}
	}
}

// ConflictPaths lists the distinct conflict paths a tracker recorded, sorted.
func ConflictPaths(t *Tracker) []string {
	out := t.paths.ToSlice()
	sort.Strings(out)
	return out
}

package sync

import (
	"fmt"
	"time"

	"github.com/openmined/treesync/internal/treesync"
)

// Direction names which side a pass takes as the source of truth.
type Direction string

const (
	// DirectionPull makes the local store follow the remote.
	DirectionPull Direction = "pull"
	// DirectionPush makes the remote follow the local store.
	DirectionPush Direction = "push"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionPull, DirectionPush:
		return d, nil
	}
	return "", fmt.Errorf("%w: direction %q (want pull or push)", ErrInvalidOption, s)
}

// Source is the authoritative side of a pass in this direction.
func (d Direction) Source() treesync.Side {
	if d == DirectionPush {
		return treesync.SideLocal
	}
	return treesync.SideRemote
}

// PolicyKind selects how a pass treats conflicts.
type PolicyKind string

const (
	// PolicyTrack records conflicts and applies everything else.
	PolicyTrack PolicyKind = "track"
	// PolicyStop holds back every action touching a conflicting subtree.
	PolicyStop PolicyKind = "stop"
	// PolicyResolve pushes newer local edits and fails on other conflicts.
	PolicyResolve PolicyKind = "resolve"
)

func ParsePolicy(s string) (PolicyKind, error) {
	switch k := PolicyKind(s); k {
	case PolicyTrack, PolicyStop, PolicyResolve:
		return k, nil
	}
	return "", fmt.Errorf("%w: policy %q (want track, stop or resolve)", ErrInvalidOption, s)
}

// passPolicy keeps the concrete policy next to its tracker so the report can
// read conflicts and counters after the pass.
type passPolicy struct {
	treesync.Policy
	tracker  *treesync.Tracker
	stopper  *treesync.Stopper
	resolver *treesync.Resolver
}

func newPassPolicy(kind PolicyKind) *passPolicy {
	switch kind {
	case PolicyStop:
		s := treesync.NewStopper()
		return &passPolicy{Policy: s, tracker: s.Tracker, stopper: s}
	case PolicyResolve:
		r := treesync.NewResolver()
		return &passPolicy{Policy: r, tracker: r.Tracker, resolver: r}
	default:
		t := treesync.NewTracker()
		return &passPolicy{Policy: t, tracker: t}
	}
}

func (p *passPolicy) dropped() int {
	if p.stopper == nil {
		return 0
	}
	return p.stopper.Dropped()
}

func (p *passPolicy) resolved() int {
	if p.resolver == nil {
		return 0
	}
	return p.resolver.Resolved()
}

// Plan is what a pass would do, computed without touching either side.
type Plan struct {
	Direction Direction                 `json:"direction" yaml:"direction"`
	Since     time.Time                 `json:"since" yaml:"since"`
	Fetched   int                       `json:"fetched" yaml:"fetched"`
	Actions   []treesync.Action         `json:"actions" yaml:"actions"`
	Conflicts []treesync.ConflictRecord `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// PassReport summarizes one completed pass.
type PassReport struct {
	Direction Direction                   `json:"direction" yaml:"direction"`
	Started   time.Time                   `json:"started" yaml:"started"`
	Duration  time.Duration               `json:"duration" yaml:"duration"`
	Fetched   int                         `json:"fetched" yaml:"fetched"`
	Applied   map[treesync.ActionType]int `json:"applied" yaml:"applied"`
	Conflicts []string                    `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Dropped   int                         `json:"dropped" yaml:"dropped"`
	Resolved  int                         `json:"resolved" yaml:"resolved"`
	Deferred  int                         `json:"deferred" yaml:"deferred"`
	Rounds    int                         `json:"rounds" yaml:"rounds"`
	Corrected int                         `json:"corrected" yaml:"corrected"`
	Settled   int                         `json:"settled" yaml:"settled"`
}

// Total counts the actions applied to either side.
func (r *PassReport) Total() int {
	n := 0
	for _, c := range r.Applied {
		n += c
	}
	return n
}

func (r *PassReport) HasChanges() bool {
	return r.Total() > 0 || len(r.Conflicts) > 0 || r.Dropped > 0
}

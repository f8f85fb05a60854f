package treesync

import "context"

// Stream is a pull-based, single-use sequence of actions.
type Stream interface {
	// Next returns the next action. ok is false once the stream is exhausted.
	Next(ctx context.Context) (a Action, ok bool, err error)
}

// Collect drains s into a slice.
func Collect(ctx context.Context, s Stream) ([]Action, error) {
	var out []Action
	for {
		a, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, a)
	}
}

// SliceStream replays a fixed list of actions.
type SliceStream struct {
	actions []Action
	pos     int
}

func NewSliceStream(actions []Action) *SliceStream {
	return &SliceStream{actions: actions}
}

func (s *SliceStream) Next(_ context.Context) (Action, bool, error) {
	if s.pos >= len(s.actions) {
		return Action{}, false, nil
	}
	a := s.actions[s.pos]
	s.pos++
	return a, true, nil
}

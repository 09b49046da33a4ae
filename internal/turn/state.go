package turn

import (
	"context"

	"github.com/looplab/fsm"
)

// Per-turn states: Idle → Processing → (Done | Cancelled | Failed) → Idle.
const (
	idle       = "idle"
	processing = "processing"
	done_      = "done"
	cancelled  = "cancelled"
	failed     = "failed"
)

// state wraps a looplab/fsm.FSM so the pipeline's own transition calls read
// as plain method calls; a bad transition is ignored rather than panicking,
// since the dispatch loop must never be taken down by a state bug.
type state struct {
	machine *fsm.FSM
}

func newState() *fsm.FSM {
	return fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: processing, Src: []string{idle, done_, cancelled, failed}, Dst: processing},
			{Name: done_, Src: []string{processing}, Dst: done_},
			{Name: cancelled, Src: []string{processing}, Dst: cancelled},
			{Name: failed, Src: []string{processing}, Dst: failed},
			{Name: idle, Src: []string{done_, cancelled, failed}, Dst: idle},
		},
		fsm.Callbacks{},
	)
}

func (s *state) transition(to string) {
	if s.machine == nil {
		s.machine = newState()
	}
	// Best-effort: an out-of-order transition (e.g. two "processing"
	// events racing) makes the fsm package return an error, which is
	// discarded without logging; the state stays where it was.
	_ = s.machine.Event(context.Background(), to)
}

func (s *state) current() string {
	if s.machine == nil {
		return idle
	}
	return s.machine.Current()
}

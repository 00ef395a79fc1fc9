package playback

import "time"

// State is the narration state.
type State int

const (
	// StateStopped means nothing is playing or being synthesized.
	StateStopped State = iota
	// StateBuffering means the chunk at the active index is being synthesized.
	StateBuffering
	// StatePlaying means a chunk is playing, with the next one prefetching.
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Reasons attached to a transition into StateStopped.
const (
	ReasonUser     = "user"
	ReasonComplete = "complete"
	ReasonError    = "error"
	ReasonSeek     = "seek"
)

// StateChange describes one transition.
type StateChange struct {
	From   State
	To     State
	Index  int    // active word index at the time of the change
	Reason string // set when To is StateStopped
	At     time.Time
}

// StateMachine validates narration transitions and runs enter/exit hooks.
// It is not safe for concurrent use; the scheduler guards it.
type StateMachine struct {
	current     State
	transitions map[State][]State
	onEnter     map[State]func()
	onExit      map[State]func()
}

// NewStateMachine creates a state machine in StateStopped.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateStopped,
		transitions: map[State][]State{
			StateStopped:   {StateBuffering},
			StateBuffering: {StatePlaying, StateStopped},
			// Playing to Playing chains a prefetched chunk without a gap.
			StatePlaying: {StateBuffering, StatePlaying, StateStopped},
		},
		onEnter: make(map[State]func()),
		onExit:  make(map[State]func()),
	}
}

// Can reports whether moving to the given state is allowed.
func (sm *StateMachine) Can(to State) bool {
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given state, running the exit hook of the current
// state and the enter hook of the new one. It returns false and changes
// nothing when the transition is not allowed.
func (sm *StateMachine) Transition(to State) bool {
	if !sm.Can(to) {
		return false
	}
	if fn := sm.onExit[sm.current]; fn != nil {
		fn()
	}
	sm.current = to
	if fn := sm.onEnter[to]; fn != nil {
		fn()
	}
	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine) OnEnter(state State, fn func()) {
	sm.onEnter[state] = fn
}

// OnExit registers a callback for exiting a state.
func (sm *StateMachine) OnExit(state State, fn func()) {
	sm.onExit[state] = fn
}

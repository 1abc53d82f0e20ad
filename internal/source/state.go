package source

// State is the host's view of a source.
type State int

const (
	Pending State = iota
	Displayed
	Hidden
	Terminated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Displayed:
		return "displayed"
	case Hidden:
		return "hidden"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Action drives a state transition.
type Action int

const (
	ActionDisplay Action = iota
	ActionHide
	ActionEnd      // owning guest stopped the source
	ActionRemove   // host removed the source
	ActionPeerGone // owning guest's record was destroyed
)

func (a Action) String() string {
	switch a {
	case ActionDisplay:
		return "display"
	case ActionHide:
		return "hide"
	case ActionEnd:
		return "end"
	case ActionRemove:
		return "remove"
	case ActionPeerGone:
		return "peer-gone"
	default:
		return "unknown"
	}
}

var transitions = map[State]map[Action]State{
	Pending: {
		ActionDisplay:  Displayed,
		ActionEnd:      Terminated,
		ActionRemove:   Terminated,
		ActionPeerGone: Terminated,
	},
	Displayed: {
		ActionHide:     Hidden,
		ActionEnd:      Terminated,
		ActionRemove:   Terminated,
		ActionPeerGone: Terminated,
	},
	Hidden: {
		ActionDisplay:  Displayed,
		ActionEnd:      Terminated,
		ActionRemove:   Terminated,
		ActionPeerGone: Terminated,
	},
}

// Next returns the state reached from s by a. ok is false for pairs the
// table does not list; callers treat those as no-ops.
func Next(s State, a Action) (State, bool) {
	to, ok := transitions[s][a]
	return to, ok
}

package model

import "fmt"

// Action is a remediating action the planner can recommend or execute.
type Action int

const (
	ActionKeep Action = iota
	ActionRenice
	ActionPause
	ActionThrottle
	ActionQuarantine
	ActionRestart
	ActionKill
)

// Actions lists all actions in canonical order.
var Actions = []Action{
	ActionKeep, ActionRenice, ActionPause, ActionThrottle,
	ActionQuarantine, ActionRestart, ActionKill,
}

// String returns the snake_case action name used in JSON outputs and logs.
func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionRenice:
		return "renice"
	case ActionPause:
		return "pause"
	case ActionThrottle:
		return "throttle"
	case ActionQuarantine:
		return "quarantine"
	case ActionRestart:
		return "restart"
	case ActionKill:
		return "kill"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps an action name back to its Action. Unknown names
// resolve to (ActionKeep, false).
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if a.String() == s {
			return a, true
		}
	}
	return ActionKeep, false
}

// Irreversible reports whether the action cannot be undone once executed.
// Irreversible actions pass through alpha-investing and rate-limit gates.
func (a Action) Irreversible() bool {
	return a == ActionKill || a == ActionRestart
}

// BlastRank orders actions by the size of their blast radius. Used as the
// first tie-break when two actions have identical expected loss: lower rank
// wins, then lexicographic name.
func (a Action) BlastRank() int {
	switch a {
	case ActionKeep:
		return 0
	case ActionRenice:
		return 1
	case ActionThrottle:
		return 2
	case ActionPause:
		return 3
	case ActionQuarantine:
		return 4
	case ActionRestart:
		return 5
	case ActionKill:
		return 6
	}
	return 7
}

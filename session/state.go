package session

import (
	"fmt"

	"github.com/user/papersync/protocol"
)

// State is the link lifecycle state of a Session.
type State int

const (
	Disconnected State = iota
	Scanning
	Connecting
	Activating // subscribing to notify channels in order
	Ready
	Error
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Scanning:     "scanning",
	Connecting:   "connecting",
	Activating:   "activating",
	Ready:        "ready",
	Error:        "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Step is one activation step: subscribe to Channel and wait for the answer.
type Step struct {
	Channel protocol.Channel
}

// ActivationPlan lists the steps that take a fresh link to Ready.
func ActivationPlan() []Step {
	order := protocol.ActivationOrder()
	plan := make([]Step, len(order))
	for i, ch := range order {
		plan[i] = Step{Channel: ch}
	}
	return plan
}

package provisioning

import (
	"fmt"

	"github.com/imamik/fleetrun/internal/fault"
)

// State is the lifecycle state of an instance.
type State int

const (
	StateRequested State = iota
	StateSpotPending
	StateFulfilled
	StatePending
	StateActive
	StateReachable
	StateTerminated
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateRequested:   "requested",
	StateSpotPending: "spot-pending",
	StateFulfilled:   "fulfilled",
	StatePending:     "pending",
	StateActive:      "active",
	StateReachable:   "reachable",
	StateTerminated:  "terminated",
	StateStopped:     "stopped",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateStopped || s == StateFailed
}

// Instance is one vendor machine.
type Instance struct {
	ID              string
	Name            string
	Address         string
	ExternalAddress string
	// User is the login user of the image.
	User          string
	Image         string
	SpotRequestID string
	State         State
	// FailReason explains why the instance ended in StateFailed.
	FailReason string
}

// Advance moves the instance forward to next. Moving backwards, or out of a
// terminal state, is refused so an instance seen Active is never seen
// Pending again. Advancing to the current state is a no-op.
func (i *Instance) Advance(next State) error {
	if next == i.State {
		return nil
	}
	if i.State.Terminal() || next < i.State {
		return fault.New(fault.Provisioning, "instance %s cannot go from %s to %s", i.ID, i.State, next)
	}
	i.State = next
	return nil
}

// Fail marks the instance Failed unless it already reached a terminal state.
func (i *Instance) Fail(reason string) {
	if i.State.Terminal() {
		return
	}
	i.State = StateFailed
	i.FailReason = reason
}

func (i *Instance) String() string {
	if i.Name != "" {
		return fmt.Sprintf("%s (%s)", i.Name, i.ID)
	}
	return i.ID
}

package domain

import (
	"fmt"
	"time"
)

// GovernanceState is the authoritative control state gating execution.
type GovernanceState string

const (
	GovernanceActive GovernanceState = "ACTIVE"
	GovernancePaused GovernanceState = "PAUSED"
)

// ParseGovernanceState validates a raw state string.
func ParseGovernanceState(raw string) (GovernanceState, error) {
	switch GovernanceState(raw) {
	case GovernanceActive, GovernancePaused:
		return GovernanceState(raw), nil
	default:
		return "", fmt.Errorf("unknown governance state %q", raw)
	}
}

// GovernanceStatus is the versioned singleton row written only by the risk
// governor or an explicit manual override. Version increments on every write;
// writers must present the last version they observed.
type GovernanceStatus struct {
	State     GovernanceState
	Reason    string
	Version   uint64
	UpdatedAt time.Time
}

// Paused reports whether execution is currently gated.
func (s *GovernanceStatus) Paused() bool {
	return s.State == GovernancePaused
}

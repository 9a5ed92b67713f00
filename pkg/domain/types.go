package domain

import (
	"fmt"
	"time"
)

// UnitHandle identifies an installed unit within one runtime lifetime.
// Handle 0 is the runtime's system unit.
type UnitHandle int64

const SystemUnitHandle UnitHandle = 0

// UnitState is a lifecycle state ordinal. States are ordered so that
// "reached at least" is a plain comparison.
type UnitState int

const (
	UnitStateUninstalled UnitState = 1
	UnitStateInstalled   UnitState = 2
	UnitStateResolved    UnitState = 4
	UnitStateStarting    UnitState = 8
	UnitStateStopping    UnitState = 16
	UnitStateActive      UnitState = 32
)

func (s UnitState) String() string {
	switch s {
	case UnitStateUninstalled:
		return "uninstalled"
	case UnitStateInstalled:
		return "installed"
	case UnitStateResolved:
		return "resolved"
	case UnitStateStarting:
		return "starting"
	case UnitStateStopping:
		return "stopping"
	case UnitStateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseUnitState accepts a state name or its ordinal.
func ParseUnitState(value string) (UnitState, error) {
	for _, state := range []UnitState{
		UnitStateUninstalled, UnitStateInstalled, UnitStateResolved,
		UnitStateStarting, UnitStateStopping, UnitStateActive,
	} {
		if value == state.String() || value == fmt.Sprintf("%d", int(state)) {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown unit state: %s", value)
}

// Timeout sentinels shared by every blocking operation
const (
	NoWait      time.Duration = 0
	WaitForever time.Duration = -1
)

// Wire form of timeouts
const (
	NoWaitMillis      int64 = 0
	WaitForeverMillis int64 = -1
)

// TimeoutToMillis converts a timeout for transport, preserving both sentinels.
func TimeoutToMillis(timeout time.Duration) int64 {
	if timeout < 0 {
		return WaitForeverMillis
	}
	millis := timeout.Milliseconds()
	if millis == 0 && timeout > 0 {
		// sub-millisecond timeouts must not collapse into NoWait
		millis = 1
	}
	return millis
}

// TimeoutFromMillis is the inverse of TimeoutToMillis.
func TimeoutFromMillis(millis int64) time.Duration {
	if millis < 0 {
		return WaitForever
	}
	return time.Duration(millis) * time.Millisecond
}

package domain

import "github.com/lenslabs/chordfield/internal/realtime"

// Phase is the replicated session phase.
type Phase int

const (
	// PhaseCollecting indicates participants are still submitting
	// progressions.
	PhaseCollecting Phase = 0
	// PhaseDisplay indicates every participant has submitted. Once a session
	// reaches PhaseDisplay it never reverts.
	PhaseDisplay Phase = 1
)

// IsValid reports whether the phase value is supported.
func (p Phase) IsValid() bool {
	return p == PhaseCollecting || p == PhaseDisplay
}

// StoreInfo describes a tracked shared store.
type StoreInfo struct {
	Store        realtime.Store
	Owner        realtime.UserInfo
	CreationInfo string
}

// FlowState is the flag bag of session setup milestones. Each flag is set
// exactly once per session; Reset is called only on hard reconnect.
type FlowState struct {
	Connected              bool
	Shared                 bool
	WaitingForSessionStore bool
	WaitingForScopedStore  bool
	ColocatedSetupStarted  bool
	ColocatedSetupFinished bool
}

// Reset clears every milestone flag.
func (f *FlowState) Reset() {
	*f = FlowState{}
}

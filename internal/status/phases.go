// Package status tracks the lifecycle of a vmkeep run: the phase it has
// reached and a condition per job recording how that job ended.
package status

import (
	"fmt"
	"time"
)

// Phase is a step in the run lifecycle.
type Phase string

const (
	PhasePending            Phase = "Pending"
	PhaseConfigLoaded       Phase = "ConfigLoaded"
	PhaseLoggingReady       Phase = "LoggingReady"
	PhaseValidated          Phase = "Validated"
	PhaseToolsPresent       Phase = "ToolsPresent"
	PhaseTargetsResolved    Phase = "TargetsResolved"
	PhaseSourceMountChecked Phase = "SourceMountChecked"
	PhaseConfigArchived     Phase = "ConfigArchived"
	PhaseSnapshotted        Phase = "Snapshotted"
	PhaseBackedUp           Phase = "BackedUp"
	PhaseDone               Phase = "Done"
	PhaseFailed             Phase = "Failed"
)

// order lists the non-failed phases in lifecycle order.
var order = []Phase{
	PhasePending,
	PhaseConfigLoaded,
	PhaseLoggingReady,
	PhaseValidated,
	PhaseToolsPresent,
	PhaseTargetsResolved,
	PhaseSourceMountChecked,
	PhaseConfigArchived,
	PhaseSnapshotted,
	PhaseBackedUp,
	PhaseDone,
}

func index(p Phase) int {
	for i, o := range order {
		if o == p {
			return i
		}
	}
	return -1
}

// Transition records one phase change.
type Transition struct {
	From Phase     `json:"from" yaml:"from"`
	To   Phase     `json:"to" yaml:"to"`
	At   time.Time `json:"at" yaml:"at"`
}

// Run is the lifecycle state of one invocation.
type Run struct {
	Phase       Phase        `json:"phase" yaml:"phase"`
	Conditions  []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Transitions []Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	// FailureReason is set once the run enters PhaseFailed.
	FailureReason string `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`

	now func() time.Time
}

// NewRun returns a run in PhasePending.
func NewRun() *Run {
	return &Run{Phase: PhasePending, now: time.Now}
}

// TransitionTo advances the run to next.
//
// The setup phases (through SourceMountChecked) must be entered one after
// another. After that the job phases may be skipped, since a job that is not
// enabled never runs, but the run can never move backwards.
func (r *Run) TransitionTo(next Phase) error {
	if IsTerminal(r.Phase) {
		return fmt.Errorf("cannot transition to %s from terminal phase %s", next, r.Phase)
	}
	if next == PhaseFailed {
		return fmt.Errorf("use Fail to enter %s", PhaseFailed)
	}

	cur, nxt := index(r.Phase), index(next)
	if nxt < 0 {
		return fmt.Errorf("unknown phase %s", next)
	}
	if nxt <= cur {
		return fmt.Errorf("cannot transition to %s from phase %s", next, r.Phase)
	}
	setupEnd := index(PhaseSourceMountChecked)
	if nxt <= setupEnd+1 && nxt != cur+1 {
		return fmt.Errorf("cannot transition to %s from phase %s", next, r.Phase)
	}
	if cur < setupEnd && nxt > setupEnd {
		return fmt.Errorf("cannot transition to %s from phase %s", next, r.Phase)
	}

	r.record(next)
	return nil
}

// Fail moves the run to PhaseFailed. This can happen from any non-terminal
// phase.
func (r *Run) Fail(reason string) {
	if IsTerminal(r.Phase) {
		return
	}
	r.FailureReason = reason
	r.record(PhaseFailed)
}

func (r *Run) record(next Phase) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	r.Transitions = append(r.Transitions, Transition{From: r.Phase, To: next, At: now()})
	r.Phase = next
}

// IsTerminal returns true if the phase is terminal (Done or Failed).
func IsTerminal(phase Phase) bool {
	return phase == PhaseDone || phase == PhaseFailed
}

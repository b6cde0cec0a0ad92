// Package lifecycle governs a release's progression through its phases:
// CANDIDATE_DRAFT -> CANDIDATE -> PREVIEW -> RELEASE, with a failed vote
// returning CANDIDATE to CANDIDATE_DRAFT. Only the draft phase is mutable.
package lifecycle

import (
	"github.com/felixgeelhaar/statekit"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// Events driving phase transitions.
const (
	EventPromote    statekit.EventType = "PROMOTE"
	EventVotePassed statekit.EventType = "VOTE_PASSED"
	EventVoteFailed statekit.EventType = "VOTE_FAILED"
	EventAnnounce   statekit.EventType = "ANNOUNCE"
)

var (
	stateDraft     = statekit.StateID(storage.PhaseCandidateDraft)
	stateCandidate = statekit.StateID(storage.PhaseCandidate)
	statePreview   = statekit.StateID(storage.PhasePreview)
	stateRelease   = statekit.StateID(storage.PhaseRelease)
)

type machineContext struct{}

// newInterpreter builds the phase machine config and wraps it in a fresh
// interpreter positioned at the initial state.
func newInterpreter() (*statekit.Interpreter[machineContext], error) {
	machine, err := statekit.NewMachine[machineContext]("release-phase").
		WithInitial(stateDraft).
		State(stateDraft).
		On(EventPromote).Target(stateCandidate).
		Done().
		State(stateCandidate).
		On(EventVotePassed).Target(statePreview).
		On(EventVoteFailed).Target(stateDraft).
		Done().
		State(statePreview).
		On(EventAnnounce).Target(stateRelease).
		Done().
		State(stateRelease).
		Final().
		Done().
		Build()
	if err != nil {
		return nil, err
	}
	return statekit.NewInterpreter(machine), nil
}

// replayPath is the canonical event sequence reaching each phase from the
// initial draft state.
var replayPath = map[storage.Phase][]statekit.EventType{
	storage.PhaseCandidateDraft: nil,
	storage.PhaseCandidate:      {EventPromote},
	storage.PhasePreview:        {EventPromote, EventVotePassed},
	storage.PhaseRelease:        {EventPromote, EventVotePassed, EventAnnounce},
}

// PhaseMachine validates phase transitions for one release, positioned at
// its current phase.
type PhaseMachine struct {
	interpreter *statekit.Interpreter[machineContext]
}

// NewPhaseMachine builds the machine and advances it to current.
func NewPhaseMachine(current storage.Phase) (*PhaseMachine, error) {
	const op = "lifecycle.NewPhaseMachine"

	path, ok := replayPath[current]
	if !ok {
		return nil, atrerrors.Newf(atrerrors.KindValidation, "unknown phase %q", current)
	}
	interp, err := newInterpreter()
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to build phase machine")
	}
	interp.Start()
	for _, event := range path {
		interp.Send(statekit.Event{Type: event})
	}
	return &PhaseMachine{interpreter: interp}, nil
}

// Phase returns the machine's current phase.
func (m *PhaseMachine) Phase() storage.Phase {
	return storage.Phase(m.interpreter.State().Value)
}

// Fire applies one event and returns the resulting phase. An event the
// current phase does not accept is a Conflict.
func (m *PhaseMachine) Fire(event statekit.EventType) (storage.Phase, error) {
	before := m.interpreter.State().Value
	m.interpreter.Send(statekit.Event{Type: event})
	after := m.interpreter.State().Value
	if before == after {
		return "", atrerrors.Newf(atrerrors.KindConflict,
			"release in phase %s does not accept %s", before, event)
	}
	return storage.Phase(after), nil
}

// NextPhase computes the phase an event would move from into, without any
// machine state.
func NextPhase(from storage.Phase, event statekit.EventType) (storage.Phase, error) {
	m, err := NewPhaseMachine(from)
	if err != nil {
		return "", err
	}
	return m.Fire(event)
}

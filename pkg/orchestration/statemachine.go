package orchestration

import (
	"fmt"
	"slices"
)

var transitions = map[Phase][]Phase{
	Idle:              {DispatchingRound, Aborted},
	DispatchingRound:  {CollectingResults},
	CollectingResults: {Aggregating, Aborted},
	Aggregating:       {Checkpointing, Aborted},
	Checkpointing:     {DispatchingRound, Completed, Aborted},
	Completed:         {},
	Aborted:           {},
}

type StateMachine struct {
	phase Phase
}

func NewStateMachine() *StateMachine {
	return &StateMachine{phase: Idle}
}

func (sm *StateMachine) Phase() Phase {
	return sm.phase
}

func (sm *StateMachine) ValidateTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}

func (sm *StateMachine) Transition(to Phase) error {
	if !sm.ValidateTransition(sm.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, sm.phase, to)
	}
	sm.phase = to

	return nil
}

func (sm *StateMachine) IsTerminal() bool {
	return sm.phase == Completed || sm.phase == Aborted
}

// Reset returns a terminal machine to Idle for the next run.
func (sm *StateMachine) Reset() error {
	if sm.phase != Idle && !sm.IsTerminal() {
		return ErrRunInProgress
	}
	sm.phase = Idle

	return nil
}

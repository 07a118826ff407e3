package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Lifecycle event names
const (
	eventStart    = "start"
	eventSelect   = "select"
	eventAnswer   = "answer"
	eventComplete = "complete"
	eventReset    = "reset"
	eventResume   = "resume"
	eventCancel   = "cancel"
)

var (
	idle      = string(models.StateIdle)
	selecting = string(models.StateSelectingTest)
	answering = string(models.StateAnswering)
	completed = string(models.StateCompleted)
)

var lifecycle = fsm.Events{
	{Name: eventStart, Src: []string{idle, selecting}, Dst: selecting},
	{Name: eventSelect, Src: []string{selecting}, Dst: answering},
	{Name: eventAnswer, Src: []string{answering}, Dst: answering},
	{Name: eventComplete, Src: []string{answering}, Dst: completed},
	{Name: eventReset, Src: []string{idle, selecting, answering}, Dst: selecting},
	{Name: eventResume, Src: []string{answering}, Dst: answering},
	{Name: eventCancel, Src: []string{idle, selecting, answering}, Dst: idle},
}

// transition applies event to the state and returns the next state.
// Sessions keep their own state, so each call runs on a fresh FSM.
func transition(ctx context.Context, from models.SessionState, event string) (models.SessionState, error) {
	f := fsm.NewFSM(string(from), lifecycle, nil)

	if err := f.Event(ctx, event); err != nil {
		var same fsm.NoTransitionError
		if !errors.As(err, &same) {
			return from, fmt.Errorf("%w: %s in state %s", ErrUnexpectedEvent, event, from)
		}
	}
	return models.SessionState(f.Current()), nil
}

// allowed reports whether event is valid in state
func allowed(from models.SessionState, event string) bool {
	return fsm.NewFSM(string(from), lifecycle, nil).Can(event)
}

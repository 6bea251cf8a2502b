package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts a callback that returns an error into an fsm.Callback.
// A non-nil error is stored on the event and returned from FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Before returns the callback key of the guard run before event.
func Before(event string) string { return "before_" + event }

// OnEnter returns the callback key fired after entering state.
func OnEnter(state string) string { return "enter_" + state }

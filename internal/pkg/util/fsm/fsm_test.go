package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
)

func TestWrapEventCancelsTransition(t *testing.T) {
	errDenied := errors.New("denied")
	entered := false

	f := fsm.NewFSM("idle",
		fsm.Events{{Name: "go", Src: []string{"idle"}, Dst: "busy"}},
		fsm.Callbacks{
			Before("go"): WrapEvent(func(ctx context.Context, e *fsm.Event) error {
				if len(e.Args) > 0 && e.Args[0] == "deny" {
					e.Cancel(errDenied)
				}
				return nil
			}),
			OnEnter("busy"): WrapEvent(func(ctx context.Context, e *fsm.Event) error {
				entered = true
				return nil
			}),
		},
	)

	var canceled fsm.CanceledError
	if err := f.Event(context.Background(), "go", "deny"); !errors.As(err, &canceled) {
		t.Fatalf("Event() error = %v, want a cancellation", err)
	}
	if f.Current() != "idle" || entered {
		t.Fatalf("transition should have been cancelled, state=%s entered=%v", f.Current(), entered)
	}

	if err := f.Event(context.Background(), "go"); err != nil {
		t.Fatalf("Event() error = %v", err)
	}
	if f.Current() != "busy" || !entered {
		t.Fatalf("state=%s entered=%v, want busy and entered", f.Current(), entered)
	}
}

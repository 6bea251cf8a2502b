package modem

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/metrics"
	fsmutil "github.com/tanay1904/Drone/internal/pkg/util/fsm"
)

// Bring-up states.
const (
	StateInit        = "INIT"
	StateCheckingSIM = "CHECKING_SIM"
	StateRegistering = "REGISTERING"
	StateESIMProbe   = "ESIM_PROBE"
	StateDataActive  = "DATA_ACTIVE"
	StateError       = "ERROR"
)

var allStates = []string{StateInit, StateCheckingSIM, StateRegistering, StateESIMProbe, StateDataActive, StateError}

const (
	EventCheckSIM  = "event_check_sim"
	EventRegister  = "event_register"
	EventProbeESIM = "event_probe_esim"
	EventActivate  = "event_activate"
	EventFail      = "event_fail"
	EventReset     = "event_reset"
)

var errSimUnknown = errors.New("sim kind not determined")

func (c *Controller) newFSM() *fsm.FSM {
	events := fsm.Events{
		{Name: EventCheckSIM, Src: []string{StateInit}, Dst: StateCheckingSIM},
		{Name: EventRegister, Src: []string{StateCheckingSIM}, Dst: StateRegistering},
		{Name: EventProbeESIM, Src: []string{StateRegistering}, Dst: StateESIMProbe},
		{Name: EventActivate, Src: []string{StateESIMProbe}, Dst: StateDataActive},

		// ERROR is absorbing until the link is reopened.
		{Name: EventFail, Src: []string{StateInit, StateCheckingSIM, StateRegistering, StateESIMProbe, StateDataActive}, Dst: StateError},
		{Name: EventReset, Src: allStates, Dst: StateInit},
	}

	callbacks := fsm.Callbacks{
		fsmutil.Before(EventActivate): fsmutil.WrapEvent(c.guardSimKnown),

		"enter_state":                    fsmutil.WrapEvent(c.actionEnterState),
		fsmutil.OnEnter(StateDataActive): fsmutil.WrapEvent(c.actionEnterDataActive),
		fsmutil.OnEnter(StateError):      fsmutil.WrapEvent(c.actionEnterError),
		fsmutil.OnEnter(StateInit):       fsmutil.WrapEvent(c.actionEnterInit),
	}

	return fsm.NewFSM(StateInit, events, callbacks)
}

// guardSimKnown refuses to activate data before the sim probe has run.
func (c *Controller) guardSimKnown(ctx context.Context, e *fsm.Event) error {
	s := e.Args[0].(*session)
	if s.simKind() == state.SimNone {
		e.Cancel(errSimUnknown)
	}
	return nil
}

func (c *Controller) actionEnterState(ctx context.Context, e *fsm.Event) error {
	metrics.SetModemState(e.Dst, allStates)
	c.log.Info("Modem state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	if c.onStateChange != nil {
		c.onStateChange(e.Dst)
	}
	return nil
}

func (c *Controller) actionEnterDataActive(ctx context.Context, e *fsm.Event) error {
	c.cell.UpdateCellular(func(cell *state.Cellular) {
		cell.Enabled = true
		cell.APN = c.apn
	})
	return nil
}

func (c *Controller) actionEnterError(ctx context.Context, e *fsm.Event) error {
	var cause error
	if len(e.Args) > 1 {
		cause, _ = e.Args[1].(error)
	}
	c.log.Error(cause, "Modem bring-up failed")
	c.cell.UpdateCellular(func(cell *state.Cellular) { cell.Enabled = false })
	return nil
}

func (c *Controller) actionEnterInit(ctx context.Context, e *fsm.Event) error {
	c.cell.UpdateCellular(func(cell *state.Cellular) { cell.Enabled = false })
	return nil
}

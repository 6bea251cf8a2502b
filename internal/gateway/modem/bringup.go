package modem

import (
	"context"
	"fmt"
	"strings"

	"github.com/tanay1904/Drone/internal/gateway/state"
)

// step is one command of a state's bring-up script. apply decides whether the
// response lets the script advance; a rejected response is ignored and the
// command's timeout stays in charge. An ERROR final code fails bring-up
// unless errorIsAnswer is set.
type step struct {
	command       string
	when          func(s *session) bool
	apply         func(s *session, r Response) bool
	errorIsAnswer bool
}

// next names the event fired once a state's script has completed.
var next = map[string]string{
	StateInit:        EventCheckSIM,
	StateCheckingSIM: EventRegister,
	StateRegistering: EventProbeESIM,
	StateESIMProbe:   EventActivate,
}

func (c *Controller) bringUpScripts() map[string][]step {
	return map[string][]step{
		StateInit: {
			{command: "AT", apply: expectOK},
		},
		StateCheckingSIM: {
			{command: "AT+CPIN?", apply: c.applyCPIN},
		},
		StateRegistering: {
			{command: "AT+CREG?", apply: c.applyCREG},
			{command: "AT+CSQ", apply: c.applyCSQ},
			{command: "AT+COPS?", apply: c.applyCOPS},
		},
		StateESIMProbe: {
			{command: "AT+CEUICC?", apply: c.applyEUICC, errorIsAnswer: true},
			{command: "AT+CEUICCPROFILE?", when: isESIM, apply: applyProfiles},
			{command: "AT+CGATT=1", apply: expectOK},
			{command: fmt.Sprintf(`AT+CGDCONT=1,"IP","%s"`, c.apn), apply: expectOK},
			{command: "AT+CGACT=1,1", apply: expectOK},
		},
	}
}

func (c *Controller) startScript(ctx context.Context, s *session, st string) {
	s.script = c.scripts[st]
	s.stepIdx = -1
	c.nextStep(ctx, s)
}

func (c *Controller) nextStep(ctx context.Context, s *session) {
	for {
		s.stepIdx++
		if s.stepIdx >= len(s.script) {
			break
		}
		st := s.script[s.stepIdx]
		if st.when != nil && !st.when(s) {
			continue
		}
		s.queue = append(s.queue, &request{
			cmd: st.command,
			accept: func(r Response) bool {
				return (!r.OK() && !st.errorIsAnswer) || st.apply(s, r)
			},
			onDone: func(r Response) {
				if !r.OK() && !st.errorIsAnswer {
					c.teardown(ctx, s, EventFail, fmt.Errorf("%w: %s returned %s", ErrCommandFailed, r.Command, r.Final))
					return
				}
				c.nextStep(ctx, s)
			},
		})
		return
	}

	current := c.fsm.Current()
	event, ok := next[current]
	if !ok {
		return
	}
	if err := c.fire(ctx, s, event); err != nil {
		c.teardown(ctx, s, EventFail, fmt.Errorf("bring-up stopped in %s: %w", current, err))
		return
	}
	c.startScript(ctx, s, c.fsm.Current())
}

func expectOK(_ *session, r Response) bool { return r.OK() }

func isESIM(s *session) bool { return s.simKind() == state.SimESIM }

func (c *Controller) applyCPIN(_ *session, r Response) bool {
	status, ok := parseCPIN(r.Lines)
	if !ok || !r.OK() {
		return false
	}
	if status != "READY" {
		c.log.Warn("SIM not ready", "status", status)
		return false
	}
	return true
}

func (c *Controller) applyCREG(_ *session, r Response) bool {
	registered, roaming, ok := parseCREG(r.Lines)
	if !ok || !r.OK() {
		return false
	}
	c.cell.UpdateCellular(func(cell *state.Cellular) {
		cell.Enabled = registered
		cell.Roaming = roaming
	})
	return registered
}

func (c *Controller) applyCSQ(_ *session, r Response) bool {
	dbm, known, ok := parseCSQ(r.Lines)
	if !ok || !r.OK() {
		return false
	}
	if known {
		c.cell.UpdateCellular(func(cell *state.Cellular) { cell.Signal = dbm })
	}
	return true
}

func (c *Controller) applyCOPS(_ *session, r Response) bool {
	carrier, technology, ok := parseCOPS(r.Lines)
	if !ok || !r.OK() {
		return false
	}
	c.cell.UpdateCellular(func(cell *state.Cellular) {
		cell.Carrier = carrier
		if technology != "" {
			cell.Technology = technology
		}
	})
	return true
}

// applyEUICC records the sim kind: the eUICC query only succeeds on an eSIM.
func (c *Controller) applyEUICC(s *session, r Response) bool {
	kind := state.SimPhysical
	if r.OK() {
		kind = state.SimESIM
	}

	s.mu.Lock()
	s.sim = kind
	s.mu.Unlock()

	c.cell.UpdateCellular(func(cell *state.Cellular) { cell.SimType = kind })
	c.log.Info("SIM kind detected", "sim", kind)
	return true
}

func applyProfiles(s *session, r Response) bool {
	var profiles []string
	for _, l := range r.Lines {
		if p, ok := strings.CutPrefix(l, "+CEUICCPROFILE:"); ok {
			profiles = append(profiles, strings.TrimSpace(p))
		}
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return true
}

package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/serialio"
	"github.com/tanay1904/Drone/pkg/log"
)

var (
	ErrNotConnected   = errors.New("modem not connected")
	ErrTimeout        = errors.New("modem command timed out")
	ErrRetryExhausted = errors.New("modem retry budget exhausted")
	ErrNotESIM        = errors.New("profile switch requires an esim")
	ErrCommandFailed  = errors.New("modem rejected command")
)

// CellularWriter is the part of the state store the controller may write.
type CellularWriter interface {
	UpdateCellular(fn func(c *state.Cellular)) *state.VehicleState
}

// Config holds the dependencies and tuning of a Controller.
type Config struct {
	Dial           serialio.Dialer
	APN            string
	CommandTimeout time.Duration
	RetryBudget    int
	Clock          clock.Clock
	Cellular       CellularWriter

	// OnStateChange is called from the controller goroutine after every transition.
	OnStateChange func(state string)
}

// Controller brings a cellular data connection online over an AT command link.
// Commands are strictly sequential: at most one is written and unanswered at
// any time, and every other request waits in a queue.
type Controller struct {
	dial          serialio.Dialer
	apn           string
	timeout       time.Duration
	settle        time.Duration
	budget        int
	clock         clock.Clock
	cell          CellularWriter
	onStateChange func(string)
	log           log.Logger

	scripts map[string][]step
	fsm     *fsm.FSM

	// opMu serializes Connect and Close.
	opMu sync.Mutex

	mu   sync.Mutex
	sess *session
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     string   `json:"state"`
	Connected bool     `json:"connected"`
	Session   string   `json:"session,omitempty"`
	SimType   string   `json:"simType"`
	Profiles  []string `json:"profiles,omitempty"`
}

func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.RetryBudget < 1 {
		cfg.RetryBudget = 1
	}

	c := &Controller{
		dial:          cfg.Dial,
		apn:           cfg.APN,
		timeout:       cfg.CommandTimeout,
		settle:        cfg.CommandTimeout / 2,
		budget:        cfg.RetryBudget,
		clock:         cfg.Clock,
		cell:          cfg.Cellular,
		onStateChange: cfg.OnStateChange,
		log:           log.WithName("modem"),
	}
	c.scripts = c.bringUpScripts()
	c.fsm = c.newFSM()
	return c
}

// Connect opens the link and starts bring-up in the background. It is a no-op
// while a session exists. A failed open leaves the controller in INIT.
func (c *Controller) Connect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.session() != nil {
		return nil
	}

	if err := c.fire(ctx, nil, EventReset); err != nil {
		return err
	}

	link, err := c.dial(ctx)
	if err != nil {
		c.cell.UpdateCellular(func(cell *state.Cellular) { cell.Enabled = false })
		c.log.Error(err, "Failed to open modem link")
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := newSession(link, cancel)

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.log.Info("Modem link opened", "session", s.id)
	go c.run(sctx, s)
	return nil
}

// Close closes the link and destroys the session. The controller returns to INIT.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return nil
	}

	s.cancel()
	err := s.link.Close()
	<-s.done

	if ferr := c.fire(context.Background(), nil, EventReset); ferr != nil {
		c.log.Warn("Failed to reset modem state", "error", ferr.Error())
	}
	c.log.Info("Modem link closed", "session", s.id)
	return err
}

// Do queues cmd and waits for its final result code. A result other than OK
// is returned as ErrCommandFailed together with the response.
func (c *Controller) Do(ctx context.Context, cmd string) (Response, error) {
	if strings.ContainsAny(cmd, "\r\n") || cmd == "" {
		return Response{}, fmt.Errorf("invalid modem command %q", cmd)
	}

	s := c.session()
	if s == nil {
		return Response{}, ErrNotConnected
	}

	req := &request{cmd: cmd, reply: make(chan result, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return Response{}, ErrNotConnected
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		if r.err == nil && !r.resp.OK() {
			r.err = fmt.Errorf("%w: %s returned %s", ErrCommandFailed, cmd, r.resp.Final)
		}
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// SwitchProfile activates another eSIM profile. It fails with ErrNotESIM
// without touching the link unless the probe found an eSIM.
func (c *Controller) SwitchProfile(ctx context.Context, profileID string) error {
	s := c.session()
	if s == nil {
		return ErrNotConnected
	}
	if kind := s.simKind(); kind != state.SimESIM {
		return fmt.Errorf("%w: sim is %s", ErrNotESIM, kind)
	}
	if profileID == "" {
		return errors.New("profile id is required")
	}

	if _, err := c.Do(ctx, "AT+CEUICCSWITCH="+profileID); err != nil {
		return err
	}
	c.log.Info("Switched eSIM profile", "profile", profileID)
	return nil
}

func (c *Controller) Status() Status {
	st := Status{State: c.fsm.Current(), SimType: state.SimNone}
	if s := c.session(); s != nil {
		st.Connected = true
		st.Session = s.id
		s.mu.RLock()
		st.SimType = s.sim
		st.Profiles = append([]string(nil), s.profiles...)
		s.mu.RUnlock()
	}
	return st
}

// State returns the current bring-up state.
func (c *Controller) State() string {
	return c.fsm.Current()
}

func (c *Controller) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Controller) detach(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == s {
		c.sess = nil
	}
}

// fire triggers event, treating a transition to the current state as success.
func (c *Controller) fire(ctx context.Context, s *session, event string, args ...any) error {
	err := c.fsm.Event(ctx, event, append([]any{s}, args...)...)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/internal/gateway/state"
	"github.com/tanay1904/Drone/internal/pkg/metrics"
)

// session is one open modem link. Everything below the mutex is owned by the
// run goroutine.
type session struct {
	id       string
	link     io.ReadWriteCloser
	requests chan *request
	done     chan struct{}
	cancel   context.CancelFunc

	mu       sync.RWMutex
	sim      string
	profiles []string

	queue []*request

	// pending maps a request id to the command written for it. It holds at
	// most one entry, the one named by current.
	pending  map[string]*pendingEntry
	current  string
	settling bool
	timer    clock.Timer
	timerC   <-chan time.Time
	closed   bool

	script  []step
	stepIdx int
}

type request struct {
	cmd      string
	accept   func(Response) bool
	onDone   func(Response)
	reply    chan result
	attempts int
}

type pendingEntry struct {
	req      *request
	sentAt   time.Time
	deadline time.Time
	lines    []string
}

type result struct {
	resp Response
	err  error
}

func newSession(link io.ReadWriteCloser, cancel context.CancelFunc) *session {
	return &session{
		id:       uuid.NewString(),
		link:     link,
		requests: make(chan *request),
		done:     make(chan struct{}),
		cancel:   cancel,
		sim:      state.SimNone,
		pending:  make(map[string]*pendingEntry, 1),
	}
}

func (s *session) simKind() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sim
}

func (r *request) complete(resp Response, err error) {
	if r.reply == nil {
		return
	}
	select {
	case r.reply <- result{resp: resp, err: err}:
	default:
	}
}

func (s *session) arm(clk clock.Clock, d time.Duration) {
	s.stopTimer()
	s.timer = clk.NewTimer(d)
	s.timerC = s.timer.C()
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerC = nil
}

func (s *session) failAll(err error) {
	for id, e := range s.pending {
		e.req.complete(Response{Command: e.req.cmd}, err)
		delete(s.pending, id)
	}
	s.current = ""
	for _, req := range s.queue {
		req.complete(Response{Command: req.cmd}, err)
	}
	s.queue = nil
}

// run owns the session until the link closes, bring-up fails fatally or the
// session is cancelled.
func (c *Controller) run(ctx context.Context, s *session) {
	defer close(s.done)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go readLines(ctx, s.link, lines, readErr)

	c.startScript(ctx, s, StateInit)

	for {
		if err := c.sendNext(s); err != nil {
			c.teardown(ctx, s, EventReset, err)
			return
		}

		select {
		case <-ctx.Done():
			s.stopTimer()
			s.failAll(ErrNotConnected)
			return

		case req := <-s.requests:
			s.queue = append(s.queue, req)

		case line := <-lines:
			c.handleLine(ctx, s, line)

		case err := <-readErr:
			if ctx.Err() != nil {
				s.stopTimer()
				s.failAll(ErrNotConnected)
				return
			}
			c.log.Warn("Modem link lost", "session", s.id, "error", err.Error())
			c.teardown(ctx, s, EventReset, fmt.Errorf("%w: %w", ErrNotConnected, err))
			return

		case <-s.timerC:
			c.handleTimer(ctx, s)
		}

		if s.closed {
			return
		}
	}
}

func (c *Controller) sendNext(s *session) error {
	if s.closed || s.settling || s.current != "" || len(s.queue) == 0 {
		return nil
	}

	req := s.queue[0]
	s.queue = s.queue[1:]

	if _, err := io.WriteString(s.link, req.cmd+"\r\n"); err != nil {
		err = fmt.Errorf("%w: write %s: %w", ErrNotConnected, req.cmd, err)
		req.complete(Response{Command: req.cmd}, err)
		return err
	}

	id := uuid.NewString()
	now := c.clock.Now()
	s.pending[id] = &pendingEntry{req: req, sentAt: now, deadline: now.Add(c.timeout)}
	s.current = id
	s.arm(c.clock, c.timeout)

	c.log.Debug("Modem command sent", "command", req.cmd, "id", id, "attempt", req.attempts+1)
	return nil
}

func (c *Controller) handleLine(ctx context.Context, s *session, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	e, ok := s.pending[s.current]
	if !ok || s.settling || !c.clock.Now().Before(e.deadline) {
		metrics.ModemCommandTotal.WithLabelValues("unsolicited", "discarded").Inc()
		c.log.Debug("Discarding modem line with no command in flight", "line", line)
		return
	}

	if line == e.req.cmd {
		return // echo
	}
	if !isFinal(line) {
		e.lines = append(e.lines, line)
		return
	}

	resp := Response{Command: e.req.cmd, Lines: e.lines, Final: line}
	label := commandLabel(e.req.cmd)

	if e.req.accept != nil && !e.req.accept(resp) {
		// The deadline keeps running; a usable answer may still follow.
		metrics.ModemCommandTotal.WithLabelValues(label, "ignored").Inc()
		c.log.Debug("Ignoring unexpected modem response", "command", e.req.cmd, "final", line, "lines", resp.Lines)
		e.lines = nil
		return
	}

	delete(s.pending, s.current)
	s.current = ""
	s.stopTimer()

	outcome := "ok"
	if !resp.OK() {
		outcome = "error"
	}
	metrics.ModemCommandTotal.WithLabelValues(label, outcome).Inc()
	metrics.ModemCommandLatency.WithLabelValues(label).Observe(c.clock.Since(e.sentAt).Seconds())

	e.req.complete(resp, nil)
	if e.req.onDone != nil {
		e.req.onDone(resp)
	}
}

func (c *Controller) handleTimer(ctx context.Context, s *session) {
	s.timerC = nil
	s.timer = nil

	if s.settling {
		s.settling = false
		return
	}

	e, ok := s.pending[s.current]
	if !ok {
		return
	}
	delete(s.pending, s.current)
	s.current = ""

	req := e.req
	req.attempts++
	metrics.ModemCommandTotal.WithLabelValues(commandLabel(req.cmd), "timeout").Inc()

	if req.attempts >= c.budget {
		err := fmt.Errorf("%w: %s after %d attempts: %w", ErrRetryExhausted, req.cmd, req.attempts, ErrTimeout)
		req.complete(Response{Command: req.cmd}, err)
		c.teardown(ctx, s, EventFail, err)
		return
	}

	c.log.Warn("Modem command timed out, retrying", "command", req.cmd, "attempt", req.attempts, "budget", c.budget)
	s.queue = append([]*request{req}, s.queue...)

	// Lines arriving while settling belong to the abandoned attempt.
	s.settling = true
	s.arm(c.clock, c.settle)
}

// teardown destroys the session and moves the state machine with event.
func (c *Controller) teardown(ctx context.Context, s *session, event string, cause error) {
	s.closed = true
	s.cancel()
	s.stopTimer()
	_ = s.link.Close()
	s.failAll(cause)
	c.detach(s)

	// ctx belongs to the session cancelled above; the transition must still run.
	if err := c.fire(context.WithoutCancel(ctx), s, event, cause); err != nil {
		c.log.Warn("Modem transition failed", "event", event, "error", err.Error())
	}
}

func readLines(ctx context.Context, r io.Reader, lines chan<- string, errc chan<- error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			errc <- ctx.Err()
			return
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	if errors.Is(err, io.ErrClosedPipe) {
		err = io.EOF
	}
	errc <- err
}

// commandLabel drops arguments so metric labels stay bounded.
func commandLabel(cmd string) string {
	label, _, _ := strings.Cut(cmd, "=")
	return label
}

package cluster

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type probeResult struct {
	latency time.Duration
	up      bool
}

type fakeProber struct {
	mu      sync.Mutex
	results map[string]probeResult
}

func (p *fakeProber) set(url string, up bool, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[url] = probeResult{latency: latency, up: up}
}

func (p *fakeProber) Probe(_ context.Context, url string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.results[url]
	if !r.up {
		return 0, ErrProbeFailed
	}
	return r.latency, nil
}

type fakeNotifier struct {
	mu          sync.Mutex
	notices     []string
	repoints    []string
	failRepoint map[string]bool
}

func (n *fakeNotifier) SwitchNotice(_ context.Context, from string, to Member) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, from+"->"+to.Name)
}

func (n *fakeNotifier) Repoint(_ context.Context, to Member) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.repoints = append(n.repoints, to.Name)
	if n.failRepoint[to.Name] {
		return errors.New("broker unreachable")
	}
	return nil
}

func (n *fakeNotifier) snapshot() (notices, repoints []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...), append([]string(nil), n.repoints...)
}

type fakeMigrator struct {
	mu      sync.Mutex
	fail    map[string]bool
	calls   []string
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeMigrator) Migrate(_ context.Context, url string) (int, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return 0, errors.New("replication refused")
	}
	return 1, nil
}

type fixture struct {
	m        *Manager
	prober   *fakeProber
	notifier *fakeNotifier
	migrator *fakeMigrator
	changes  []string
}

func newFixture(t *testing.T, members ...Member) *fixture {
	t.Helper()
	f := &fixture{
		prober:   &fakeProber{results: map[string]probeResult{}},
		notifier: &fakeNotifier{failRepoint: map[string]bool{}},
		migrator: &fakeMigrator{fail: map[string]bool{}},
	}
	f.m = NewManager(Config{
		Members:        members,
		Interval:       time.Second,
		ProbeTimeout:   100 * time.Millisecond,
		Concurrency:    2,
		Margin:         50 * time.Millisecond,
		Prober:         f.prober,
		Notifier:       f.notifier,
		Migrator:       f.migrator,
		OnActiveChange: func(name string) { f.changes = append(f.changes, name) },
	})
	return f
}

func member(name string, priority int) Member {
	return Member{Name: name, URL: "http://" + name, Priority: priority}
}

func (f *fixture) up(name string, latency time.Duration) { f.prober.set("http://"+name, true, latency) }
func (f *fixture) down(name string)                      { f.prober.set("http://"+name, false, 0) }

func (f *fixture) checkSingleActive(t *testing.T) {
	t.Helper()
	active := 0
	for _, mem := range f.m.Members() {
		if mem.Active {
			active++
			if !mem.Available {
				t.Errorf("active member %s is unavailable", mem.Name)
			}
		}
	}
	switch {
	case active > 1:
		t.Errorf("%d members active at once", active)
	case active == 0 && !f.m.Local():
		t.Error("no active member outside local mode")
	case active == 1 && f.m.Local():
		t.Error("active member while in local mode")
	}
}

func TestInitialSelection(t *testing.T) {
	tests := []struct {
		name    string
		latency map[string]time.Duration // missing means down
		want    string
	}{
		{"priority wins over latency", map[string]time.Duration{"a": 300 * time.Millisecond, "b": 10 * time.Millisecond}, "a"},
		{"latency breaks priority ties", map[string]time.Duration{"a": 90 * time.Millisecond, "a2": 30 * time.Millisecond, "b": 10 * time.Millisecond}, "a2"},
		{"skips unavailable", map[string]time.Duration{"b": 10 * time.Millisecond}, "b"},
		{"none available", map[string]time.Duration{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, member("a", 1), member("a2", 1), member("b", 2))
			for _, n := range []string{"a", "a2", "b"} {
				if l, ok := tt.latency[n]; ok {
					f.up(n, l)
				} else {
					f.down(n)
				}
			}

			f.m.Tick(context.Background())

			if got := f.m.ActiveName(); got != tt.want {
				t.Errorf("active = %q, want %q", got, tt.want)
			}
			if got := f.m.Local(); got != (tt.want == "") {
				t.Errorf("Local() = %v", got)
			}
			f.checkSingleActive(t)
		})
	}
}

func TestFailoverToNextAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("B", 2))
	f.up("A", 20*time.Millisecond)
	f.up("B", 20*time.Millisecond)
	f.m.Tick(ctx)

	f.down("A")
	f.m.Tick(ctx)

	if got := f.m.ActiveName(); got != "B" {
		t.Fatalf("active = %q, want B", got)
	}

	notices, repoints := f.notifier.snapshot()
	if diff := cmp.Diff([]string{"->A", "A->B"}, notices); diff != "" {
		t.Errorf("notices (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B"}, repoints); diff != "" {
		t.Errorf("repoints (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B"}, f.changes); diff != "" {
		t.Errorf("active changes (-want +got):\n%s", diff)
	}
	f.checkSingleActive(t)
}

func TestOptimizationHysteresis(t *testing.T) {
	tests := []struct {
		name     string
		alt      Member
		altLat   time.Duration
		wantName string
	}{
		{"worse priority never wins", member("B", 2), 40 * time.Millisecond, "A"},
		{"same priority past margin", member("A2", 1), 50 * time.Millisecond, "A2"},
		{"same priority within margin", member("A2", 1), 80 * time.Millisecond, "A"},
		{"exactly the margin", member("A2", 1), 70 * time.Millisecond, "A2"},
		{"just short of the margin", member("A2", 1), 71 * time.Millisecond, "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, member("A", 1), tt.alt)

			// A is selected first, then the alternative comes up.
			f.up("A", 120*time.Millisecond)
			f.down(tt.alt.Name)
			f.m.Tick(ctx)
			if f.m.ActiveName() != "A" {
				t.Fatalf("initial active = %q", f.m.ActiveName())
			}

			f.up(tt.alt.Name, tt.altLat)
			f.m.Tick(ctx)

			if got := f.m.ActiveName(); got != tt.wantName {
				t.Errorf("active = %q, want %q", got, tt.wantName)
			}
		})
	}
}

func TestMarginIsAdjustable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("A2", 1))
	f.up("A", 120*time.Millisecond)
	f.down("A2")
	f.m.Tick(ctx)

	f.up("A2", 80*time.Millisecond)
	f.m.Tick(ctx)
	if f.m.ActiveName() != "A" {
		t.Fatalf("switched within the default margin")
	}

	f.m.SetMargin(10 * time.Millisecond)
	f.m.Tick(ctx)
	if got := f.m.ActiveName(); got != "A2" {
		t.Errorf("active = %q after lowering the margin, want A2", got)
	}
}

func TestLocalModeAndRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("B", 2))
	f.up("A", 10*time.Millisecond)
	f.down("B")
	f.m.Tick(ctx)

	f.down("A")
	f.m.Tick(ctx)

	if !f.m.Local() || f.m.ActiveName() != "" {
		t.Fatalf("want local mode, got active=%q local=%v", f.m.ActiveName(), f.m.Local())
	}
	f.checkSingleActive(t)

	// Staying down does not re-announce local mode.
	f.m.Tick(ctx)

	f.up("B", 10*time.Millisecond)
	f.m.Tick(ctx)
	if got := f.m.ActiveName(); got != "B" || f.m.Local() {
		t.Errorf("active = %q local=%v, want B", got, f.m.Local())
	}
	if diff := cmp.Diff([]string{"A", "", "B"}, f.changes); diff != "" {
		t.Errorf("active changes (-want +got):\n%s", diff)
	}
}

func TestMigrationFailureTriesNextCandidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("B", 2), member("C", 3))
	f.up("A", 10*time.Millisecond)
	f.up("B", 10*time.Millisecond)
	f.up("C", 10*time.Millisecond)
	f.m.Tick(ctx)

	f.migrator.fail["http://B"] = true
	f.down("A")
	f.m.Tick(ctx)

	if got := f.m.ActiveName(); got != "C" {
		t.Fatalf("active = %q, want C", got)
	}
	_, repoints := f.notifier.snapshot()
	if diff := cmp.Diff([]string{"A", "C"}, repoints); diff != "" {
		t.Errorf("repoints (-want +got):\n%s", diff)
	}

	// Every candidate refusing migration degrades to local mode.
	f.migrator.fail["http://A"] = true
	f.down("C")
	f.m.Tick(ctx)
	if !f.m.Local() {
		t.Errorf("want local mode after every candidate failed, active=%q", f.m.ActiveName())
	}
}

func TestRepointFailureRestoresActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("B", 2))
	f.up("A", 10*time.Millisecond)
	f.up("B", 10*time.Millisecond)
	f.m.Tick(ctx)

	f.notifier.failRepoint["B"] = true
	err := f.m.Select(ctx, "B")
	if err == nil {
		t.Fatal("Select() succeeded although the repoint failed")
	}

	if got := f.m.ActiveName(); got != "A" {
		t.Errorf("active = %q, want A restored", got)
	}
	_, repoints := f.notifier.snapshot()
	if diff := cmp.Diff([]string{"A", "B", "A"}, repoints); diff != "" {
		t.Errorf("repoints (-want +got):\n%s", diff)
	}
	f.checkSingleActive(t)
}

func TestSelectErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("B", 2))
	f.up("A", 10*time.Millisecond)
	f.down("B")
	f.m.Tick(ctx)

	if err := f.m.Select(ctx, "nope"); !errors.Is(err, ErrUnknownMember) {
		t.Errorf("Select(unknown) = %v, want ErrUnknownMember", err)
	}
	if err := f.m.Select(ctx, "B"); !errors.Is(err, ErrMemberUnavailable) {
		t.Errorf("Select(unavailable) = %v, want ErrMemberUnavailable", err)
	}
	if err := f.m.Select(ctx, "A"); err != nil {
		t.Errorf("Select(active) = %v, want nil", err)
	}
}

func TestConcurrentSwitchesCoalesce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("A", 1), member("B", 2), member("C", 3))
	f.up("A", 10*time.Millisecond)
	f.up("B", 10*time.Millisecond)
	f.up("C", 10*time.Millisecond)
	f.m.Tick(ctx)

	f.migrator.block = make(chan struct{})
	f.migrator.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- f.m.Select(ctx, "B") }()
	<-f.migrator.entered

	if err := f.m.Select(ctx, "C"); !errors.Is(err, ErrSwitchInProgress) {
		t.Errorf("second Select() = %v, want ErrSwitchInProgress", err)
	}
	f.down("A")
	f.m.Tick(ctx) // its failover is coalesced into the running switch

	close(f.migrator.block)
	if err := <-done; err != nil {
		t.Fatalf("first Select() = %v", err)
	}

	if got := f.m.ActiveName(); got != "B" {
		t.Errorf("active = %q, want B", got)
	}
	notices, _ := f.notifier.snapshot()
	if diff := cmp.Diff([]string{"->A", "A->B"}, notices); diff != "" {
		t.Errorf("notices (-want +got):\n%s", diff)
	}
}

func TestActiveIsAlwaysAvailable(t *testing.T) {
	ctx := context.Background()
	names := []string{"m1", "m2", "m3", "m4"}
	var members []Member
	for i, n := range names {
		members = append(members, member(n, i%2+1))
	}
	f := newFixture(t, members...)

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		for _, n := range names {
			if rng.Intn(3) == 0 {
				f.down(n)
			} else {
				f.up(n, time.Duration(rng.Intn(200))*time.Millisecond)
			}
		}
		f.m.Tick(ctx)
		f.checkSingleActive(t)
		if t.Failed() {
			t.Fatalf("invariant broken in round %d: %+v", round, f.m.Members())
		}
	}
}

func TestHTTPProber(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	p := NewHTTPProber()

	if _, err := p.Probe(context.Background(), healthy.URL+"/"); err != nil {
		t.Errorf("healthy probe error = %v", err)
	}
	if _, err := p.Probe(context.Background(), failing.URL); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("failing probe error = %v, want ErrProbeFailed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Probe(ctx, slow.URL); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("slow probe error = %v, want ErrProbeFailed", err)
	}
}

package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

// Prober measures the health of one member.
type Prober interface {
	// Probe returns the round trip of a successful health check.
	Probe(ctx context.Context, memberURL string) (time.Duration, error)
}

// HTTPProber checks GET <url>/health and accepts any 2xx status.
type HTTPProber struct {
	client *http.Client
	clock  clock.PassiveClock
}

var _ Prober = (*HTTPProber)(nil)

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{},
		clock:  clock.RealClock{},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, memberURL string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(memberURL, "/")+"/health", nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	start := p.clock.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: status %s", ErrProbeFailed, resp.Status)
	}
	return p.clock.Since(start), nil
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tanay1904/Drone/pkg/log"
)

// ReplicatePath is served by every cluster member to accept session copies.
const ReplicatePath = "/api/session/replicate"

// ReplicateRequest is the body of a replication call.
type ReplicateRequest struct {
	Key  string `json:"key"`
	Data string `json:"data"`
}

// Replicator copies one session to another cluster member.
type Replicator interface {
	Replicate(ctx context.Context, memberURL, key, data string) error
}

// HTTPReplicator posts sessions to a member's replication endpoint.
type HTTPReplicator struct {
	client *http.Client
}

var _ Replicator = (*HTTPReplicator)(nil)

func NewHTTPReplicator(timeout time.Duration) *HTTPReplicator {
	return &HTTPReplicator{client: &http.Client{Timeout: timeout}}
}

func (r *HTTPReplicator) Replicate(ctx context.Context, memberURL, key, data string) error {
	body, err := json.Marshal(ReplicateRequest{Key: key, Data: data})
	if err != nil {
		return err
	}

	url := strings.TrimRight(memberURL, "/") + ReplicatePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build replication request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("replicate %s to %s: %w", key, memberURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("replicate %s to %s: unexpected status %s", key, memberURL, resp.Status)
	}
	return nil
}

// Migrator copies the whole session table of this gateway to a member.
type Migrator struct {
	store      Store
	replicator Replicator
	log        log.Logger
}

func NewMigrator(store Store, replicator Replicator) *Migrator {
	return &Migrator{store: store, replicator: replicator, log: log.WithName("session")}
}

// Migrate copies every live session to memberURL and stops at the first
// failure. Sessions are copied, never moved, and the receiving side replaces
// existing keys, so replaying a migration is harmless.
func (m *Migrator) Migrate(ctx context.Context, memberURL string) (int, error) {
	sessions, err := m.store.All(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for key, data := range sessions {
		if err := m.replicator.Replicate(ctx, memberURL, key, data); err != nil {
			return n, err
		}
		n++
	}

	m.log.Info("Sessions migrated", "member", memberURL, "count", n)
	return n, nil
}

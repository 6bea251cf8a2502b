package state

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"k8s.io/utils/clock"

	"github.com/tanay1904/Drone/pkg/log"
)

// Origin tags where a delta came from. Only OriginTelemetry deltas are
// recorded in the telemetry history.
type Origin string

const (
	OriginTelemetry Origin = "telemetry"
	OriginStatus    Origin = "status"
	OriginMission   Origin = "mission"
	OriginControl   Origin = "control"
	OriginCellular  Origin = "cellular"
	OriginSystem    Origin = "system"
)

// Delta is a partial VehicleState using the JSON field names of the snapshot.
// Nil values are ignored at every level.
type Delta map[string]any

// Store owns the vehicle state. Writers are serialized; readers get an
// immutable snapshot without taking the writer lock.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[VehicleState]
	history *ring

	clock clock.PassiveClock
	log   log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to timestamp history records.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) { s.clock = c }
}

// WithInitial replaces the default initial state.
func WithInitial(v *VehicleState) Option {
	return func(s *Store) { s.current.Store(v.Clone()) }
}

// NewStore creates a Store whose telemetry history holds at most historySize records.
func NewStore(historySize int, opts ...Option) *Store {
	s := &Store{
		history: newRing(historySize),
		clock:   clock.RealClock{},
		log:     log.WithName("state"),
	}
	s.current.Store(NewVehicleState())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current state. The result must not be modified.
func (s *Store) Snapshot() *VehicleState {
	return s.current.Load()
}

// Merge applies d field by field and returns the new snapshot. Nil values and
// unknown fields are ignored, and a value of the wrong type leaves the
// existing field untouched, so Merge never fails.
func (s *Store) Merge(origin Origin, d Delta) *VehicleState {
	clean := prune(d)
	// The history is owned by the store; a delta can never replace it.
	delete(clean, "telemetry")

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if len(clean) == 0 {
		return cur
	}

	raw, err := json.Marshal(clean)
	if err != nil {
		s.log.Warn("Discarding delta that cannot be encoded", "origin", origin, "error", err.Error())
		return cur
	}

	next := cur.Clone()
	resetReplacedSlices(next, clean)
	if err := json.Unmarshal(raw, next); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			s.log.Warn("Discarding undecodable delta", "origin", origin, "error", err.Error())
			return cur
		}
		s.log.Debug("Ignoring field with unexpected type", "origin", origin, "field", typeErr.Field)
	}

	s.current.Store(next)

	if origin == OriginTelemetry {
		s.history.push(Record{Timestamp: s.clock.Now(), Data: clean})
	}

	return next
}

// Update applies fn to a private copy of the state and publishes it.
func (s *Store) Update(fn func(v *VehicleState)) *VehicleState {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	fn(next)
	s.current.Store(next)
	return next
}

// UpdateCellular is Update restricted to the cellular block.
func (s *Store) UpdateCellular(fn func(c *Cellular)) *VehicleState {
	return s.Update(func(v *VehicleState) { fn(&v.Cellular) })
}

// Record appends d to the telemetry history without touching the state.
func (s *Store) Record(d Delta) {
	clean := prune(d)
	if len(clean) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.push(Record{Timestamp: s.clock.Now(), Data: clean})
}

// History returns the telemetry history, oldest first.
func (s *Store) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.items()
}

// HistoryCapacity returns the maximum number of history records kept.
func (s *Store) HistoryCapacity() int {
	return s.history.capacity()
}

// prune returns a copy of d without nil values, recursing into nested objects.
func prune(d map[string]any) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		switch val := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = prune(val)
		case Delta:
			out[k] = prune(val)
		default:
			out[k] = v
		}
	}
	return out
}

// resetReplacedSlices clears the slices a delta replaces. encoding/json
// decodes into existing slice elements, which would mix old and new entries.
func resetReplacedSlices(v *VehicleState, d map[string]any) {
	if isSlice(nested(d, "battery", "cells")) {
		v.Battery.Cells = nil
	}
	if isSlice(nested(d, "mission", "waypoints")) {
		v.Mission.Waypoints = nil
	}
	if isSlice(nested(d, "system", "errors")) {
		v.System.Errors = nil
	}
	if isSlice(nested(d, "system", "warnings")) {
		v.System.Warnings = nil
	}
}

func nested(d map[string]any, block, field string) any {
	m, ok := d[block].(map[string]any)
	if !ok {
		return nil
	}
	return m[field]
}

func isSlice(v any) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Slice
}

package status

import (
	"sync"
	"time"
)

// Login summarizes the startup handshake.
type Login struct {
	Attempted  bool       `json:"attempted"`
	Accepted   bool       `json:"accepted"`
	StatusCode int        `json:"statusCode,omitempty"`
	Error      string     `json:"error,omitempty"`
	At         *time.Time `json:"at,omitempty"` // nil until a login was attempted
}

// Delivery describes the most recent forwarding attempt.
type Delivery struct {
	Build      string    `json:"build"`
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"statusCode,omitempty"`
	Retries    int       `json:"retries"`
	DryRun     bool      `json:"dryRun"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Snapshot is a copy of the observer state.
type Snapshot struct {
	Namespace      string    `json:"namespace"`
	DryRun         bool      `json:"dryRun"`
	StartedAt      time.Time `json:"startedAt"`
	Watching       bool      `json:"watching"`
	Login          Login     `json:"login"`
	EventsObserved int64     `json:"eventsObserved"`
	EventsRelevant int64     `json:"eventsRelevant"`
	Delivered      int64     `json:"delivered"`
	Failed         int64     `json:"failed"`
	LastDelivery   *Delivery `json:"lastDelivery,omitempty"`
	StreamError    string    `json:"streamError,omitempty"`
}

// Store keeps the observer state in memory for the status API.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStore constructs a store for the given namespace.
func NewStore(namespace string, dryRun bool, startedAt time.Time) *Store {
	return &Store{snap: Snapshot{Namespace: namespace, DryRun: dryRun, StartedAt: startedAt.UTC()}}
}

// SetLogin records the login outcome.
func (s *Store) SetLogin(l Login) {
	s.mu.Lock()
	s.snap.Login = l
	s.mu.Unlock()
}

// SetWatching flags whether the event watch is running.
func (s *Store) SetWatching(watching bool) {
	s.mu.Lock()
	s.snap.Watching = watching
	s.mu.Unlock()
}

// ObserveEvent counts a pulled event.
func (s *Store) ObserveEvent(relevant bool) {
	s.mu.Lock()
	s.snap.EventsObserved++
	if relevant {
		s.snap.EventsRelevant++
	}
	s.mu.Unlock()
}

// RecordDelivery stores the outcome of a forwarding attempt.
func (s *Store) RecordDelivery(d Delivery) {
	s.mu.Lock()
	if d.Error == "" {
		s.snap.Delivered++
	} else {
		s.snap.Failed++
	}
	s.snap.LastDelivery = &d
	s.mu.Unlock()
}

// SetStreamError records the error that ended the watch.
func (s *Store) SetStreamError(err error) {
	s.mu.Lock()
	s.snap.Watching = false
	if err != nil {
		s.snap.StreamError = err.Error()
	}
	s.mu.Unlock()
}

// Latest returns a copy of the current state.
func (s *Store) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Login.At != nil {
		at := *snap.Login.At
		snap.Login.At = &at
	}
	if snap.LastDelivery != nil {
		d := *snap.LastDelivery
		snap.LastDelivery = &d
	}
	return snap
}

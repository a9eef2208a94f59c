// Package store is the client-side Event Store: the single authoritative,
// ordered collection of events. It changes only by full replacement after a
// refresh or by single-entry replacement/removal after a per-event action.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/session"
)

// Listener is called with a fresh snapshot after every mutation.
type Listener func([]model.Event)

// Fetcher is the part of the backend gateway a refresh needs.
type Fetcher interface {
	GetEvents(ctx context.Context, token string) ([]model.Event, error)
}

// Store holds events in backend order.
type Store struct {
	mu     sync.RWMutex
	events []model.Event
	index  map[string]int

	// Latest sequence number issued per event id, and for refreshes.
	seq        map[string]uint64
	nextSeq    uint64
	refreshSeq uint64

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

func New() *Store {
	return &Store{
		index:     make(map[string]int),
		seq:       make(map[string]uint64),
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns a deep copy of the collection in store order.
func (s *Store) Snapshot() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.events)
}

// Len returns the number of events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Get returns the event with id.
func (s *Store) Get(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.Event{}, false
	}
	return s.events[i].Clone(), true
}

// Replace swaps in a whole new collection. A missing id or start, or a
// duplicate id, rejects the whole batch so the store is never half-applied.
// An end before the start is dropped and the event kept.
func (s *Store) Replace(events []model.Event) error {
	next, index, err := build(events)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.events = next
	s.index = index
	s.mu.Unlock()
	s.emit()
	return nil
}

// Patch replaces the event with the same id. It reports false, and changes
// nothing, when the id is unknown.
func (s *Store) Patch(ev model.Event) bool {
	s.mu.Lock()
	ok := s.patchLocked(ev)
	s.mu.Unlock()
	if ok {
		s.emit()
	}
	return ok
}

// Remove deletes the event with id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	ok := s.removeLocked(id)
	s.mu.Unlock()
	if ok {
		s.emit()
	}
	return ok
}

// Begin issues the next sequence number for id. A response is applied only
// if it carries the latest number issued for its id.
func (s *Store) Begin(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.seq[id] = s.nextSeq
	return s.nextSeq
}

// IsLatest reports whether seq is the latest number issued for id.
func (s *Store) IsLatest(id string, seq uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq[id] == seq
}

// PatchIfLatest applies ev only when seq is still current for ev.ID.
func (s *Store) PatchIfLatest(seq uint64, ev model.Event) bool {
	s.mu.Lock()
	ok := s.seq[ev.ID] == seq && s.patchLocked(ev)
	s.mu.Unlock()
	if ok {
		s.emit()
	}
	return ok
}

// RemoveIfLatest removes id only when seq is still current for it.
func (s *Store) RemoveIfLatest(id string, seq uint64) bool {
	s.mu.Lock()
	ok := s.seq[id] == seq && s.removeLocked(id)
	s.mu.Unlock()
	if ok {
		s.emit()
	}
	return ok
}

// BeginRefresh issues the next store-wide refresh number.
func (s *Store) BeginRefresh() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.refreshSeq = s.nextSeq
	return s.nextSeq
}

// ReplaceIfLatest replaces the collection only when seq is the latest
// refresh. It reports whether the batch was applied.
func (s *Store) ReplaceIfLatest(seq uint64, events []model.Event) (bool, error) {
	next, index, err := build(events)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	if s.refreshSeq != seq {
		s.mu.Unlock()
		return false, nil
	}
	s.events = next
	s.index = index
	s.mu.Unlock()
	s.emit()
	return true, nil
}

// Refresh refetches every event with the credential carried by ctx and
// replaces the collection. On failure the store is left untouched.
func (s *Store) Refresh(ctx context.Context, f Fetcher) error {
	seq := s.BeginRefresh()
	events, err := f.GetEvents(ctx, session.CredentialFrom(ctx))
	if err != nil {
		return err
	}
	_, err = s.ReplaceIfLatest(seq, events)
	return err
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) emit() {
	s.listenersMu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	if len(fns) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) patchLocked(ev model.Event) bool {
	i, ok := s.index[ev.ID]
	if !ok {
		return false
	}
	s.events[i] = sanitize(ev)
	return true
}

func (s *Store) removeLocked(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.events = append(s.events[:i], s.events[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.events); j++ {
		s.index[s.events[j].ID] = j
	}
	return true
}

func build(events []model.Event) ([]model.Event, map[string]int, error) {
	next := make([]model.Event, 0, len(events))
	index := make(map[string]int, len(events))
	for _, ev := range events {
		ev = sanitize(ev)
		if err := ev.Validate(); err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		if _, dup := index[ev.ID]; dup {
			return nil, nil, fmt.Errorf("store: duplicate event id %q", ev.ID)
		}
		index[ev.ID] = len(next)
		next = append(next, ev)
	}
	return next, index, nil
}

// sanitize returns a copy of ev without an end_time that precedes its
// start_time. The backend does not enforce end >= start.
func sanitize(ev model.Event) model.Event {
	out := ev.Clone()
	if out.End != nil && !out.End.IsZero() && !out.Start.IsZero() && out.End.Before(out.Start.Time) {
		appLog.Error("dropping end_time before start_time", fmt.Errorf("event %s: end %s < start %s", out.ID, out.End.Format(time.RFC3339), out.Start.Format(time.RFC3339)), "id", out.ID)
		out.End = nil
	}
	return out
}

func cloneAll(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

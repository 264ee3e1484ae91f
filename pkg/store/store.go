// Package store keeps the authoritative in-memory view of the messages of one room, merging the
// initial snapshot with live update events.
package store

import (
	"sync"

	"github.com/astromechza/ama-live/pkg/ama"
)

// Store maps message id to message for a single room. Events applied before the first Load are
// buffered and replayed once the snapshot arrives.
type Store struct {
	roomID string

	mu       sync.RWMutex
	messages map[string]ama.Message
	loaded   bool
	pending  []ama.Event
	onChange func()

	// version counts applied events; touched records the version that last changed each id.
	version uint64
	touched map[string]uint64
}

func New(roomID string) *Store {
	return &Store{
		roomID:   roomID,
		messages: make(map[string]ama.Message),
		touched:  make(map[string]uint64),
	}
}

// RoomID is the room this store belongs to.
func (s *Store) RoomID() string {
	return s.roomID
}

// OnChange registers fn to run after every mutation, outside the store lock. Only one callback is
// kept.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Loaded reports whether a snapshot has been loaded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Version increases with every applied event. Take it before fetching a snapshot that will be
// passed to LoadSince.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Load seeds the store from a snapshot, or merges a later snapshot into it. Snapshot fields win
// over what is known, except that an answered message stays answered. Known messages missing
// from the snapshot are kept. Buffered events are replayed after the first load.
func (s *Store) Load(snapshot []ama.Message) {
	s.load(snapshot, false, 0)
}

// LoadSince merges a snapshot fetched when the store was at version since. Reaction counts of
// messages changed by a live event after that point are newer than the snapshot and are kept.
func (s *Store) LoadSince(snapshot []ama.Message, since uint64) {
	s.load(snapshot, true, since)
}

func (s *Store) load(snapshot []ama.Message, guarded bool, since uint64) {
	s.mu.Lock()
	for _, m := range snapshot {
		if m.RoomID != s.roomID || m.ID == "" {
			continue
		}
		if m.ReactionCount < 0 {
			m.ReactionCount = 0
		}
		if prev, ok := s.messages[m.ID]; ok {
			if prev.Answered {
				m.Answered = true
			}
			if guarded && s.touched[m.ID] > since {
				m.ReactionCount = prev.ReactionCount
			}
		}
		s.messages[m.ID] = m
	}
	s.loaded = true
	pending := s.pending
	s.pending = nil
	for _, ev := range pending {
		if s.applyLocked(ev) {
			s.version++
			s.touched[ev.MessageID()] = s.version
		}
	}
	s.mu.Unlock()
	s.changed()
}

// Apply merges one live event and reports whether the store changed. Before the first Load the
// event is buffered and Apply returns false.
func (s *Store) Apply(ev ama.Event) bool {
	if ev == nil {
		return false
	}
	s.mu.Lock()
	if !s.loaded {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return false
	}
	changed := s.applyLocked(ev)
	if changed {
		s.version++
		s.touched[ev.MessageID()] = s.version
	}
	s.mu.Unlock()
	if changed {
		s.changed()
	}
	return changed
}

func (s *Store) applyLocked(ev ama.Event) bool {
	switch e := ev.(type) {
	case ama.MessageCreated:
		m := e.Message
		if m.ID == "" || m.RoomID != s.roomID {
			return false
		}
		if _, exists := s.messages[m.ID]; exists {
			return false
		}
		if m.ReactionCount < 0 {
			m.ReactionCount = 0
		}
		s.messages[m.ID] = m
		return true

	case ama.ReactionChanged:
		m, ok := s.messages[e.ID]
		if !ok || e.Count < 0 || m.ReactionCount == e.Count {
			return false
		}
		m.ReactionCount = e.Count
		s.messages[e.ID] = m
		return true

	case ama.MessageAnswered:
		m, ok := s.messages[e.ID]
		if !ok || m.Answered {
			return false
		}
		m.Answered = true
		s.messages[e.ID] = m
		return true
	}
	return false
}

// Get returns one message.
func (s *Store) Get(id string) (ama.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// Len is the number of known messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Pending is the number of events waiting for the first Load.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Messages returns a copy of the current contents in no particular order.
func (s *Store) Messages() []ama.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ama.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	return out
}

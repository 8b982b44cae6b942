package session

import (
	"sync"
	"time"
)

// Event types delivered to subscribers.
const (
	EventRender = "render"
	EventStatus = "status"
)

// Event is one change pushed to a session's subscribers.
type Event struct {
	Type     string   `json:"type"`
	Snapshot Snapshot `json:"snapshot"`
	HTML     string   `json:"html,omitempty"`
}

const subscriberBuffer = 16

// Store is a thread-safe in-memory session registry with TTL eviction.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	subs     map[string]map[chan Event]struct{}
	ttl      time.Duration
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		subs:     make(map[string]map[chan Event]struct{}),
		ttl:      ttl,
	}
}

// Put registers s. A session already stored under the same ID is cancelled
// and replaced; it can no longer publish. Subscribers stay attached to the ID.
func (st *Store) Put(s *Session) {
	st.mu.Lock()
	old := st.sessions[s.ID]
	st.sessions[s.ID] = s
	st.mu.Unlock()

	if old != nil && old != s {
		old.Cancel()
	}
	s.mu.Lock()
	s.notify = func(s *Session) {
		st.Publish(s, Event{Type: EventStatus, Snapshot: s.Snapshot()})
	}
	s.mu.Unlock()
	st.Publish(s, Event{Type: EventStatus, Snapshot: s.Snapshot()})
}

func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessions[id]
}

// Delete cancels and removes the session and closes its subscriptions.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	s := st.sessions[id]
	delete(st.sessions, id)
	subs := st.subs[id]
	delete(st.subs, id)
	st.mu.Unlock()

	for ch := range subs {
		close(ch)
	}
	if s == nil {
		return false
	}
	s.Cancel()
	return true
}

// Len returns the number of stored sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Cleanup removes sessions idle for longer than the TTL. A session with a
// run in progress is never idle.
func (st *Store) Cleanup() {
	now := time.Now()
	var expired []string
	st.mu.Lock()
	for id, s := range st.sessions {
		if s.Running() {
			continue
		}
		s.mu.Lock()
		idle := now.Sub(s.UpdatedAt)
		s.mu.Unlock()
		if idle > st.ttl {
			expired = append(expired, id)
		}
	}
	st.mu.Unlock()

	for _, id := range expired {
		st.Delete(id)
	}
}

// CancelAll cancels every stored session.
func (st *Store) CancelAll() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()
	for _, s := range sessions {
		s.Cancel()
	}
}

// Subscribe returns a channel of events for the session ID and a function
// that ends the subscription. The channel is closed when the session is
// deleted or the subscription ends. A slow subscriber loses older events,
// never the latest one.
func (st *Store) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	st.mu.Lock()
	if st.subs[id] == nil {
		st.subs[id] = make(map[chan Event]struct{})
	}
	st.subs[id][ch] = struct{}{}
	st.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if _, ok := st.subs[id][ch]; ok {
				delete(st.subs[id], ch)
				close(ch)
			}
		})
	}
}

// Publish sends ev to the subscribers of s. Events from a session that has
// been replaced or deleted are dropped.
func (st *Store) Publish(s *Session, ev Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sessions[s.ID] != s {
		return
	}
	for ch := range st.subs[s.ID] {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest queued event to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

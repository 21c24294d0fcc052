// Package session implements the scheduling-poll session engine: the
// per-conversation state store, the phase transition logic, and the
// formatting of ranked vote results.
//
// One Session exists per conversation key from "start" until "end". The
// key is an opaque stable string (the Telegram surface uses the decimal
// chat ID); the engine never interprets it.
package session

import (
	"sync"
	"time"
)

// Phase governs which inputs a session accepts.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitingParticipants
	PhaseWaitingWeeks
	PhaseVoteActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingParticipants:
		return "waiting_participants"
	case PhaseWaitingWeeks:
		return "waiting_weeks"
	case PhaseVoteActive:
		return "vote_active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Participant is one roster entry. ID is the platform identity (Telegram
// user ID in decimal, or "guest:<name>" for free-text additions); Name is
// the display name registered with the vote service.
type Participant struct {
	ID   string
	Name string
}

// Session is the mutable state of one scheduling conversation.
// All fields are guarded by mu; the engine exposes copies only.
type Session struct {
	mu sync.Mutex

	key   string
	phase Phase

	// Roster keeps insertion order for non-voter listings.
	order      []string
	names      map[string]string
	registered map[string]bool // forwarded to the vote service post-creation

	voteID     int64 // 0 = no active vote
	shareURL   string
	createdAt  time.Time
	weekOffset int

	// hadVote survives the voteID clearing done by Revote, so
	// HasPreviousVote stays true across revote cycles.
	hadVote bool

	// seq invalidates in-flight vote creations when the session is reset,
	// revoted, or ended while the gateway call is running.
	seq uint64

	creating     bool
	lastActivity time.Time
	ended        bool
}

func (s *Session) resetLocked(now time.Time) {
	s.phase = PhaseWaitingParticipants
	s.order = nil
	s.names = map[string]string{}
	s.registered = map[string]bool{}
	s.voteID = 0
	s.shareURL = ""
	s.createdAt = time.Time{}
	s.weekOffset = 0
	s.hadVote = false
	s.creating = false
	s.seq++
	s.lastActivity = now
}

func (s *Session) rosterLocked() []Participant {
	out := make([]Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, Participant{ID: id, Name: s.names[id]})
	}
	return out
}

// Store holds all live sessions keyed by conversation key. Map-level
// operations are guarded by mu; per-session state has its own lock so a
// long operation on one conversation never blocks another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}}
}

func (st *Store) get(key string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[key]
	st.mu.RUnlock()
	return s, ok
}

// getOrCreate returns the session for key, creating an empty one if needed.
func (st *Store) getOrCreate(key string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[key]; ok {
		return s
	}
	s := &Session{key: key, names: map[string]string{}, registered: map[string]bool{}}
	st.sessions[key] = s
	return s
}

func (st *Store) remove(key string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[key]
	if ok {
		delete(st.sessions, key)
	}
	return s, ok
}

// Keys returns a snapshot of all live session keys.
func (st *Store) Keys() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.sessions))
	for k := range st.sessions {
		out = append(out, k)
	}
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

package flow

import (
	"io"
	"sync"
)

// Key addresses one conversation: a user inside a chat.
type Key struct {
	ChatID int64
	UserID int64
}

// Purchase is the tallied pending vending purchase awaiting confirmation.
type Purchase struct {
	// ItemCounts maps product id to the number of scanned occurrences.
	ItemCounts map[string]int
	TotalPrice int
}

// Session is the mutable per-conversation state of a purchase flow. At most
// one session exists per key; starting a new top-level command resets it,
// abandoning whatever was in flight.
type Session struct {
	mu sync.Mutex

	State    State
	Purpose  Purpose
	Account  AccountClient
	DeviceID string
	// Codes accumulates decoded item barcodes across batches.
	Codes   []string
	Pending *Purchase
}

// Lock serializes event handling for this session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// reset discards all flow progress and returns the session to idle.
func (s *Session) reset() {
	s.State = StateIdle
	s.Purpose = ""
	s.Account = nil
	s.DeviceID = ""
	s.Codes = nil
	s.Pending = nil
}

// Photo is one inbound image, opened lazily so the transport download only
// happens when the batch is actually processed.
type Photo struct {
	// Label identifies the photo in user-facing reports, e.g. "photo 2".
	Label string
	Open  func() (io.ReadCloser, error)
}

// Store keeps sessions per conversation key, creating them lazily.
type Store struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewStore builds an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[Key]*Session)}
}

// Get returns the session for key, creating an idle one if absent.
func (st *Store) Get(key Key) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[key]; ok {
		return sess
	}
	sess := &Session{State: StateIdle}
	st.sessions[key] = sess
	return sess
}

// Delete removes the session for key, if any.
func (st *Store) Delete(key Key) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, key)
}

// Len reports how many sessions currently exist.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

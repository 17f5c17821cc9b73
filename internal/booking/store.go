package booking

import "sync"

// State enumerates the booking conversation steps, in order.
type State int

const (
	StateNone State = iota
	StateChoosingMaster
	StateChoosingService
	StateChoosingDate
	StateChoosingTime
)

// Selection is the in-progress booking of one chat participant.
type Selection struct {
	State     State
	MasterID  uint
	ServiceID uint
	Date      string // YYYY-MM-DD
}

type conversationKey struct {
	businessID uint
	chatID     int64
}

// Store holds in-flight booking conversations keyed by (business, chat).
// State is deliberately in-memory only: an abandoned conversation costs one
// small struct, and a restart simply overwrites it. Loss on process restart
// is accepted; the flow is short and user-driven.
type Store struct {
	mu     sync.Mutex
	states map[conversationKey]Selection
}

func NewStore() *Store {
	return &Store{states: make(map[conversationKey]Selection)}
}

// Get returns the current selection for a conversation, if any.
func (s *Store) Get(businessID uint, chatID int64) (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.states[conversationKey{businessID, chatID}]
	return sel, ok
}

// Put replaces the conversation state. A new booking intent always lands
// here with a fresh Selection, which is what makes restarts single-flight.
func (s *Store) Put(businessID uint, chatID int64, sel Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[conversationKey{businessID, chatID}] = sel
}

// Clear drops the conversation state after a commit or an aborted flow.
func (s *Store) Clear(businessID uint, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationKey{businessID, chatID})
}

package cart

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/xid"
)

var (
	ErrCartNotFound   = errors.New("cart not found")
	ErrCommitInFlight = errors.New("checkout already in progress for this cart")
)

type Session struct {
	ID      string
	OwnerID string
	Engine  *Engine

	// mu orders mutations against the start of a checkout, so nothing
	// lands between the in-flight check and the change it guards.
	mu       sync.Mutex
	inFlight atomic.Bool
	lastUsed atomic.Int64
}

// BeginCommit claims the single checkout slot of the session. It waits for
// a running Mutate to finish.
func (s *Session) BeginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrCommitInFlight
	}
	return nil
}

// Mutate runs fn against the engine unless a checkout is in flight.
func (s *Session) Mutate(fn func(*Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight.Load() {
		return ErrCommitInFlight
	}
	return fn(s.Engine)
}

func (s *Session) EndCommit() {
	s.inFlight.Store(false)
}

func (s *Session) CommitInFlight() bool {
	return s.inFlight.Load()
}

func (s *Session) View() domain.CartView {
	snap := s.Engine.Snapshot()
	items := snap.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return domain.CartView{
		ID:                s.ID,
		OwnerID:           s.OwnerID,
		Items:             items,
		CustomAmountDraft: snap.CustomAmountDraft,
		CustomAmount:      snap.CustomAmount,
		TotalAmount:       snap.TotalAmount,
		CommitInFlight:    s.CommitInFlight(),
	}
}

// Registry owns the cart sessions of the process. Each session has its own
// Engine; nothing is shared between sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{sessions: make(map[string]*Session), now: now}
}

func (r *Registry) Create(ownerID string) *Session {
	if ownerID == "" {
		ownerID = domain.GuestUserID
	}
	session := &Session{
		ID:      xid.New("cart"),
		OwnerID: ownerID,
		Engine:  New(nil),
	}
	session.lastUsed.Store(r.now().UnixNano())

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return session
}

// Get returns the session only to its owner.
func (r *Registry) Get(id string, ownerID string) (*Session, error) {
	if ownerID == "" {
		ownerID = domain.GuestUserID
	}
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || session.OwnerID != ownerID {
		return nil, ErrCartNotFound
	}
	session.lastUsed.Store(r.now().UnixNano())
	return session, nil
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// PruneIdle drops sessions untouched for longer than idle. Sessions with a
// checkout in flight are kept.
func (r *Registry) PruneIdle(idle time.Duration) int {
	cutoff := r.now().Add(-idle).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if session.CommitInFlight() {
			continue
		}
		if session.lastUsed.Load() < cutoff {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

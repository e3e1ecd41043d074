package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
)

// Store errors
var (
	ErrStoreClosed = errors.New("credential store closed")
)

// Origin tells listeners where a change came from
type Origin int

const (
	// OriginLocal is a write made through this store instance
	OriginLocal Origin = iota
	// OriginExternal is a write observed from another context sharing the storage
	OriginExternal
)

func (o Origin) String() string {
	if o == OriginExternal {
		return "external"
	}
	return "local"
}

// Change is delivered to listeners after every write
type Change struct {
	Session  domain.Session
	Previous domain.Session
	Origin   Origin
}

// Listener is called synchronously on every change
type Listener func(Change)

// Unsubscribe removes a listener; calling it twice is a no-op
type Unsubscribe func()

// UpdateFunc receives the current session and returns its replacement and
// whether to install it. It runs while the store is locked and must not
// call the store.
type UpdateFunc func(current domain.Session) (domain.Session, bool)

// CredentialStore persists the session of one client context
type CredentialStore interface {
	// Read returns the current session snapshot without I/O
	Read() domain.Session
	// Write replaces the session. A session without an access token is stored as Guest.
	Write(s domain.Session) error
	// Clear resets the session to Guest
	Clear() error
	// Update installs the session returned by fn, atomically with respect to
	// every other write through this store. It reports whether fn asked for
	// the write; listeners run after the store is unlocked.
	Update(fn UpdateFunc) (bool, error)
	// Subscribe registers listener for local and external changes
	Subscribe(listener Listener) Unsubscribe
}

// Syncer is implemented by stores whose storage is shared between contexts
type Syncer interface {
	// Start begins observing external writes; it returns once observation is active
	Start(ctx context.Context) error
	// Close stops observing and releases resources
	Close() error
}

// hub holds the session snapshot and the listener set shared by every backend
type hub struct {
	mu      sync.RWMutex
	session domain.Session
	seq     uint64

	lmu       sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	delivered uint64
}

func newHub(initial domain.Session) *hub {
	return &hub{
		session:   initial.Normalize(),
		listeners: make(map[uint64]Listener),
	}
}

// Read returns the current session snapshot
func (h *hub) Read() domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Subscribe registers a listener
func (h *hub) Subscribe(listener Listener) Unsubscribe {
	h.lmu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = listener
	h.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.lmu.Lock()
			delete(h.listeners, id)
			h.lmu.Unlock()
		})
	}
}

// swap installs s and returns the previous snapshot with the sequence
// number of this change
func (h *hub) swap(s domain.Session) (domain.Session, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.session
	h.session = s
	h.seq++
	return prev, h.seq
}

// swapIfChanged installs s unless it equals the snapshot
func (h *hub) swapIfChanged(s domain.Session) (domain.Session, uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.session
	if prev == s {
		return prev, 0, false
	}
	h.session = s
	h.seq++
	return prev, h.seq, true
}

// update runs fn and installs its result under the snapshot lock
func (h *hub) update(fn UpdateFunc) (prev, next domain.Session, seq uint64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev = h.session
	next, ok = fn(prev)
	if !ok {
		return prev, prev, 0, false
	}
	next = next.Normalize()
	h.session = next
	h.seq++
	return prev, next, h.seq, true
}

// notify calls listeners in subscription order without holding any lock.
// A change older than one already delivered is dropped, so the last change
// a listener sees always matches the snapshot.
func (h *hub) notify(c Change, seq uint64) {
	h.lmu.Lock()
	if seq <= h.delivered {
		h.lmu.Unlock()
		return
	}
	h.delivered = seq
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	h.lmu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// MemoryStore keeps the session in process memory only
type MemoryStore struct {
	*hub
}

// NewMemoryStore creates a store holding initial
func NewMemoryStore(initial domain.Session) *MemoryStore {
	return &MemoryStore{hub: newHub(initial)}
}

// Write replaces the session and notifies listeners
func (m *MemoryStore) Write(s domain.Session) error {
	s = s.Normalize()
	prev, seq := m.swap(s)
	m.notify(Change{Session: s, Previous: prev, Origin: OriginLocal}, seq)
	return nil
}

// Update installs the result of fn if it asks for a write
func (m *MemoryStore) Update(fn UpdateFunc) (bool, error) {
	prev, next, seq, ok := m.update(fn)
	if ok {
		m.notify(Change{Session: next, Previous: prev, Origin: OriginLocal}, seq)
	}
	return ok, nil
}

// Clear resets the session to Guest
func (m *MemoryStore) Clear() error {
	return m.Write(domain.GuestSession())
}

// ApplyExternal installs a session written by another context sharing this
// store's storage. Listeners are notified only when the snapshot changes.
func (m *MemoryStore) ApplyExternal(s domain.Session) {
	s = s.Normalize()
	if prev, seq, changed := m.swapIfChanged(s); changed {
		m.notify(Change{Session: s, Previous: prev, Origin: OriginExternal}, seq)
	}
}

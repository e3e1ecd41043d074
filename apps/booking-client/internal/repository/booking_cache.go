package repository

import (
	"sort"
	"sync"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
)

// Event is delivered to observers after every cache change
type Event struct {
	Booking *domain.Booking
	// Optimistic is set while the change awaits server confirmation
	Optimistic bool
	// Removed is set when a reload no longer lists the booking
	Removed bool
}

// Observer is called synchronously, without cache locks held
type Observer func(Event)

// Pending is the handle of an optimistic change, used to roll it back
type Pending struct {
	ID       string
	Status   domain.Status
	Previous *domain.Booking
	Revision uint64
}

type entry struct {
	booking    *domain.Booking
	revision   uint64
	optimistic bool
}

// BookingCache mirrors the bookings the backend returned for this session.
// Server values replace local ones; optimistic values are provisional.
type BookingCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	revision uint64

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// NewBookingCache creates an empty cache
func NewBookingCache() *BookingCache {
	return &BookingCache{
		entries:   make(map[string]*entry),
		observers: make(map[int]Observer),
	}
}

// Load replaces the cache content with a full server listing
func (c *BookingCache) Load(bookings []*domain.Booking) {
	c.mu.Lock()
	seen := make(map[string]bool, len(bookings))
	events := make([]Event, 0, len(bookings))
	for _, b := range bookings {
		if b == nil || b.ID == "" {
			continue
		}
		seen[b.ID] = true
		c.revision++
		c.entries[b.ID] = &entry{booking: b.Clone(), revision: c.revision}
		events = append(events, Event{Booking: b.Clone()})
	}
	for id, e := range c.entries {
		if !seen[id] {
			delete(c.entries, id)
			events = append(events, Event{Booking: e.booking.Clone(), Removed: true})
		}
	}
	c.mu.Unlock()

	c.notify(events...)
}

// Get returns a copy of the cached booking
func (c *BookingCache) Get(id string) (*domain.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return e.booking.Clone(), nil
}

// List returns copies of every cached booking, newest first
func (c *BookingCache) List() []*domain.Booking {
	c.mu.Lock()
	out := make([]*domain.Booking, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.booking.Clone())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Len returns the number of cached bookings
func (c *BookingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ApplyOptimistic sets the status of a cached booking ahead of the server
func (c *BookingCache) ApplyOptimistic(id string, status domain.Status) (Pending, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return Pending{}, domain.ErrBookingNotFound
	}

	p := Pending{ID: id, Status: status, Previous: e.booking.Clone()}
	c.revision++
	next := e.booking.Clone()
	next.Status = status
	c.entries[id] = &entry{booking: next, revision: c.revision, optimistic: true}
	p.Revision = c.revision
	c.mu.Unlock()

	c.notify(Event{Booking: next.Clone(), Optimistic: true})
	return p, nil
}

// Commit installs the server's version of a booking. Partial records are
// merged onto the cached value.
func (c *BookingCache) Commit(b *domain.Booking) *domain.Booking {
	if b == nil || b.ID == "" {
		return nil
	}

	c.mu.Lock()
	merged := b.Clone()
	if e, ok := c.entries[b.ID]; ok {
		merged = e.booking.Merge(b)
	}
	c.revision++
	c.entries[b.ID] = &entry{booking: merged, revision: c.revision}
	c.mu.Unlock()

	c.notify(Event{Booking: merged.Clone()})
	return merged.Clone()
}

// Insert adds a booking created by this client
func (c *BookingCache) Insert(b *domain.Booking) *domain.Booking {
	return c.Commit(b)
}

// Rollback restores the value held before p was applied. It does nothing
// when the entry changed since, so a later server value is kept.
func (c *BookingCache) Rollback(p Pending) bool {
	c.mu.Lock()
	e, ok := c.entries[p.ID]
	if !ok || e.revision != p.Revision || p.Previous == nil {
		c.mu.Unlock()
		return false
	}
	c.revision++
	c.entries[p.ID] = &entry{booking: p.Previous.Clone(), revision: c.revision}
	c.mu.Unlock()

	c.notify(Event{Booking: p.Previous.Clone()})
	return true
}

// Subscribe registers an observer and returns its removal function
func (c *BookingCache) Subscribe(obs Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = obs
	c.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			delete(c.observers, id)
			c.obsMu.Unlock()
		})
	}
}

func (c *BookingCache) notify(events ...Event) {
	if len(events) == 0 {
		return
	}

	c.obsMu.Lock()
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.obsMu.Unlock()

	for _, ev := range events {
		for _, obs := range observers {
			obs(ev)
		}
	}
}

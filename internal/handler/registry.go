package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/cart"
	"storefront-bridge/internal/events"
	"storefront-bridge/internal/session"
	"storefront-bridge/internal/variation"
	"storefront-bridge/internal/woocommerce"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// maxRecentEvents bounds the per-session event log.
const maxRecentEvents = 50

// Session is one shopper's bridge state: the storefront connection with its
// cookies, the live document and the per-product resolvers.
type Session struct {
	ID        string
	CreatedAt time.Time

	storefront adapter.Storefront
	store      *session.MemoryStore
	bus        *events.Bus
	logger     *slog.Logger

	mu        sync.Mutex
	lastSeen  time.Time
	pageURL   string
	page      *woocommerce.PageInfo
	cart      *cart.Manager
	resolvers map[int]*variation.Resolver
	recent    []EventRecord
	stop      context.CancelFunc
}

// EventRecord is a published event as reported to clients.
type EventRecord struct {
	Name    events.Name `json:"name"`
	Message string      `json:"message,omitempty"`
	At      time.Time   `json:"at"`
}

// Cart returns the session's cart manager.
func (s *Session) Cart() *cart.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart
}

// Page returns what was learned from the current page.
func (s *Session) Page() (pageURL string, info *woocommerce.PageInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageURL, s.page
}

// Resolver returns the resolver of one product on the current page.
func (s *Session) Resolver(productID int) (*variation.Resolver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolvers[productID]
	return r, ok
}

// Events returns the most recent events, oldest first.
func (s *Session) Events() []EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EventRecord(nil), s.recent...)
}

func (s *Session) record(e events.Event, at time.Time) {
	rec := EventRecord{Name: e.Name, At: at}
	switch p := e.Payload.(type) {
	case events.Notice:
		rec.Message = p.Message
	case events.AjaxError:
		if p.Err != nil {
			rec.Message = p.Err.Error()
		}
	case events.LookupFailed:
		if p.Err != nil {
			rec.Message = p.Err.Error()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, rec)
	if over := len(s.recent) - maxRecentEvents; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

// replacePage swaps in a newly loaded page and returns the previous cart
// manager so the caller can close it.
func (s *Session) replacePage(pageURL string, info *woocommerce.PageInfo, mgr *cart.Manager, resolvers map[int]*variation.Resolver, stop context.CancelFunc) (prev *cart.Manager, prevStop context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, prevStop = s.cart, s.stop
	s.pageURL = pageURL
	s.page = info
	s.cart = mgr
	s.resolvers = resolvers
	s.stop = stop
	return prev, prevStop
}

func (s *Session) close() {
	prev, stop := s.replacePage("", nil, nil, nil, nil)
	if stop != nil {
		stop()
	}
	if prev != nil {
		prev.Close()
	}
}

// Registry holds live sessions and evicts those idle longer than the TTL.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A non-positive ttl uses
// DefaultSessionTTL.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// add registers a new session around sf.
func (r *Registry) add(sf adapter.Storefront) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := r.now()
	logger := r.logger.With(slog.String("session_id", id.String()))
	s := &Session{
		ID:         id.String(),
		CreatedAt:  now,
		storefront: sf,
		store:      session.NewMemoryStore(),
		bus:        events.NewBus(logger),
		logger:     logger,
		lastSeen:   now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns a live session and marks it used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	now := r.now()
	s.mu.Lock()
	expired := now.Sub(s.lastSeen) > r.ttl
	if !expired {
		s.lastSeen = now
	}
	s.mu.Unlock()

	if expired {
		r.Remove(id)
		return nil, false
	}
	return s, true
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions idle longer than the TTL and returns how many.
func (r *Registry) Sweep() int {
	now := r.now()
	var expired []string

	r.mu.Lock()
	for id, s := range r.sessions {
		s.mu.Lock()
		if now.Sub(s.lastSeen) > r.ttl {
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.Remove(id)
	}
	if len(expired) > 0 {
		r.logger.Info("expired sessions removed", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Janitor sweeps every interval until ctx is done.
func (r *Registry) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close removes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Remove(id)
	}
}

package fragment

import (
	"sync"
	"time"
)

// DefaultActivityWindow is how long after the last shopper input background
// refreshes stay suppressed.
const DefaultActivityWindow = 10 * time.Second

// GateState is a snapshot of a Gate.
type GateState struct {
	PanelOpen        bool          `json:"panel_open"`
	OperationPending bool          `json:"operation_pending"`
	SinceActivity    time.Duration `json:"since_activity"`
}

// ShouldAllowBackgroundRefresh decides whether an unsolicited fragment refresh
// may run. A pending shopper operation always wins; otherwise an open panel or
// input within window suppresses the refresh.
func ShouldAllowBackgroundRefresh(s GateState, window time.Duration) bool {
	if s.OperationPending {
		return true
	}
	if s.PanelOpen {
		return false
	}
	return s.SinceActivity >= window
}

// Gate tracks panel visibility, in-flight mutating operations and shopper
// activity for one session.
type Gate struct {
	mu           sync.Mutex
	panelOpen    bool
	pending      int
	lastActivity time.Time
	window       time.Duration
	now          func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate with the panel closed, nothing pending and activity
// recorded at construction time. A non-positive window uses
// DefaultActivityWindow.
func NewGate(window time.Duration, opts ...GateOption) *Gate {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	g := &Gate{window: window, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.lastActivity = g.now()
	return g
}

// SetPanelOpen records panel visibility and reports whether it changed.
func (g *Gate) SetPanelOpen(open bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := g.panelOpen != open
	g.panelOpen = open
	return changed
}

// Touch records shopper input now.
func (g *Gate) Touch() {
	g.mu.Lock()
	g.lastActivity = g.now()
	g.mu.Unlock()
}

// TouchIdle records that the shopper's last input was idle ago, as reported
// by the client. It never moves activity backwards.
func (g *Gate) TouchIdle(idle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idle < 0 {
		idle = 0
	}
	at := g.now().Add(-idle)
	if at.After(g.lastActivity) {
		g.lastActivity = at
	}
}

// Begin marks a mutating operation as in flight. The returned release must be
// called when the operation settles (use defer); extra calls are ignored.
// Overlapping operations keep the gate pending until all have released.
func (g *Gate) Begin() (release func()) {
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.pending--
			g.mu.Unlock()
		})
	}
}

// State returns a snapshot.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateState{
		PanelOpen:        g.panelOpen,
		OperationPending: g.pending > 0,
		SinceActivity:    g.now().Sub(g.lastActivity),
	}
}

// AllowBackgroundRefresh applies ShouldAllowBackgroundRefresh to the current
// state.
func (g *Gate) AllowBackgroundRefresh() bool {
	return ShouldAllowBackgroundRefresh(g.State(), g.window)
}

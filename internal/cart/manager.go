// Package cart drives cart mutations for one shopper session. A Manager ties
// together the storefront endpoints, the live document, the refresh gate, the
// fragment cache and the event bus; every mutation marks the gate pending for
// its whole duration and splices the returned fragments into the document.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/events"
	"storefront-bridge/internal/fragment"
	"storefront-bridge/internal/model"
	"storefront-bridge/internal/reconcile"
	"storefront-bridge/internal/session"
)

// Endpoint names reported in FragmentsAjaxError events.
const (
	opRefresh  = "get_refreshed_fragments"
	opQuantity = "nasa_quantity_mini_cart"
	opNote     = "nasa_mini_cart_note"
)

// DefaultRefreshInterval is the background refresh period used by Run.
const DefaultRefreshInterval = 30 * time.Second

// Config holds the collaborators of a Manager.
type Config struct {
	Storefront adapter.Storefront
	Reconciler *fragment.Reconciler
	Gate       *fragment.Gate
	Cache      *session.FragmentCache // optional
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Result is the outcome of a cart operation.
type Result struct {
	Report   fragment.Report `json:"report"`
	CartHash string          `json:"cart_hash,omitempty"`
	Message  string          `json:"message,omitempty"`
	// Changed lists the keys whose markup differs from the cached payload.
	Changed []string `json:"changed,omitempty"`
}

// Manager performs cart operations for one session. Safe for concurrent use;
// document writes serialize on the document lock.
type Manager struct {
	store  adapter.Storefront
	rec    *fragment.Reconciler
	gate   *fragment.Gate
	cache  *session.FragmentCache
	bus    *events.Bus
	logger *slog.Logger

	unsubscribe func()
}

// New creates a Manager and subscribes the cart count badge updater.
func New(cfg Config) (*Manager, error) {
	switch {
	case cfg.Storefront == nil:
		return nil, errors.New("cart: storefront is required")
	case cfg.Reconciler == nil:
		return nil, errors.New("cart: reconciler is required")
	case cfg.Gate == nil:
		return nil, errors.New("cart: gate is required")
	case cfg.Bus == nil:
		return nil, errors.New("cart: event bus is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:  cfg.Storefront,
		rec:    cfg.Reconciler,
		gate:   cfg.Gate,
		cache:  cfg.Cache,
		bus:    cfg.Bus,
		logger: logger,
	}
	m.unsubscribe = cfg.Bus.Subscribe(events.CartTotalsUpdated, m.onCartTotals)
	return m, nil
}

// Close detaches the manager from the bus.
func (m *Manager) Close() {
	m.unsubscribe()
}

// Gate returns the session's refresh gate.
func (m *Manager) Gate() *fragment.Gate { return m.gate }

// Document returns the live document.
func (m *Manager) Document() *fragment.Document { return m.rec.Document() }

// Restore applies cached fragments from an earlier page load. It reports
// false when nothing usable was cached.
func (m *Manager) Restore() (fragment.Report, bool) {
	if m.cache == nil {
		return fragment.Report{}, false
	}
	snap, ok := m.cache.Load()
	if !ok {
		return fragment.Report{}, false
	}
	m.logger.Debug("restoring cached fragments",
		slog.Int("fragments", len(snap.Fragments)),
		slog.String("cart_hash", snap.CartHash),
	)
	return m.rec.Apply(snap.Fragments), true
}

// Refresh fetches fresh fragments unless the gate forbids a background
// refresh right now. refreshed is false when the gate held it back.
func (m *Manager) Refresh(ctx context.Context) (*Result, bool, error) {
	if !m.gate.AllowBackgroundRefresh() {
		m.logger.Debug("background refresh gated", slog.Any("state", m.gate.State()))
		return nil, false, nil
	}
	resp, err := m.store.BackgroundRefresh(ctx)
	if err != nil {
		m.ajaxError(opRefresh, err)
		return nil, false, err
	}
	return m.apply(resp), true, nil
}

// ForceRefresh fetches fresh fragments regardless of the gate. It never
// shares a request with a background refresh.
func (m *Manager) ForceRefresh(ctx context.Context) (*Result, error) {
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (*Result, error) {
	resp, err := m.store.RefreshFragments(ctx)
	if err != nil {
		m.ajaxError(opRefresh, err)
		return nil, err
	}
	return m.apply(resp), nil
}

// Run refreshes in the background every interval until ctx is done. Each tick
// goes through the gate.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("background refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// AddToCart adds a product, applies the returned fragments and opens the
// cart panel.
func (m *Manager) AddToCart(ctx context.Context, req *adapter.AddToCartRequest) (*Result, error) {
	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	resp, err := m.store.AddToCart(ctx, req)
	if err != nil {
		m.failed(err)
		return nil, err
	}
	res := m.apply(resp)
	m.bus.Publish(events.Event{Name: events.AddedToCart, Payload: events.CartChanged{
		Fragments: resp.Fragments,
		CartHash:  resp.CartHash,
	}})
	m.OpenPanel(ctx)
	return res, nil
}

// RemoveItem removes one cart line.
func (m *Manager) RemoveItem(ctx context.Context, itemKey string) (*Result, error) {
	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	resp, err := m.store.RemoveFromCart(ctx, itemKey)
	if err != nil {
		m.failed(err)
		return nil, err
	}
	res := m.apply(resp)
	m.removed(resp, itemKey)
	return res, nil
}

// UpdateQuantity sets the quantity of a cart line. A quantity of zero or less
// removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, itemKey string, quantity int) (*Result, error) {
	if quantity <= 0 {
		return m.RemoveItem(ctx, itemKey)
	}

	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	resp, err := m.store.UpdateQuantity(ctx, itemKey, quantity)
	if err != nil {
		var redirect *model.RedirectError
		if errors.As(err, &redirect) && resp != nil {
			// The store asks for a reload; its fragments are still current.
			m.apply(resp)
		}
		m.ajaxError(opQuantity, err)
		return nil, err
	}
	res := m.apply(resp)
	m.removed(resp, itemKey)
	return res, nil
}

// ApplyCoupon applies a coupon code and refreshes the cart while the
// operation is still pending.
func (m *Manager) ApplyCoupon(ctx context.Context, code string) (*Result, error) {
	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	msg, err := m.store.ApplyCoupon(ctx, code)
	return m.afterCoupon(ctx, msg, err)
}

// RemoveCoupon removes a coupon code and refreshes the cart while the
// operation is still pending.
func (m *Manager) RemoveCoupon(ctx context.Context, code string) (*Result, error) {
	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	msg, err := m.store.RemoveCoupon(ctx, code)
	return m.afterCoupon(ctx, msg, err)
}

func (m *Manager) afterCoupon(ctx context.Context, msg string, err error) (*Result, error) {
	if err != nil {
		m.failed(err)
		if !errors.Is(err, model.ErrBusiness) {
			return nil, err
		}
		// A rejected coupon can still change totals; refresh anyway.
		if _, rerr := m.refresh(ctx); rerr != nil {
			m.logger.Warn("refresh after coupon failed", slog.String("error", rerr.Error()))
		}
		return nil, err
	}

	m.notice(events.NoticeSuccess, msg)
	res, err := m.refresh(ctx)
	if err != nil {
		return nil, err
	}
	res.Message = msg
	return res, nil
}

// SaveNote stores the order note.
func (m *Manager) SaveNote(ctx context.Context, note string) (*Result, error) {
	release := m.gate.Begin()
	defer release()
	m.gate.Touch()

	resp, err := m.store.SaveNote(ctx, note)
	if err != nil {
		m.ajaxError(opNote, err)
		m.failed(err)
		return nil, err
	}
	res := m.apply(resp)
	res.Message = resp.Message
	if resp.Message != "" {
		m.notice(events.NoticeSuccess, resp.Message)
	}
	return res, nil
}

// ApplyFragments splices a payload received outside a cart operation, such as
// one relayed by the shopper's browser.
func (m *Manager) ApplyFragments(fragments model.FragmentMap, cartHash string) *Result {
	return m.apply(&model.CartResponse{Fragments: fragments, CartHash: cartHash})
}

// apply splices the response fragments into the document and caches them.
func (m *Manager) apply(resp *model.CartResponse) *Result {
	res := &Result{CartHash: resp.CartHash}
	if len(resp.Fragments) == 0 {
		return res
	}
	res.Report = m.rec.Apply(resp.Fragments)
	if m.cache != nil {
		var prev model.FragmentMap
		if snap, ok := m.cache.Load(); ok {
			prev = snap.Fragments
		}
		res.Changed = reconcile.DiffFragments(prev, resp.Fragments)
		if err := m.cache.Save(resp.Fragments, resp.CartHash); err != nil {
			m.logger.Warn("caching fragments failed", slog.String("error", err.Error()))
		}
	}
	return res
}

func (m *Manager) removed(resp *model.CartResponse, itemKey string) {
	m.bus.Publish(events.Event{Name: events.RemovedFromCart, Payload: events.CartChanged{
		Fragments: resp.Fragments,
		CartHash:  resp.CartHash,
		ItemKey:   itemKey,
	}})
}

// failed shows store-reported failures to the shopper.
func (m *Manager) failed(err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && errors.Is(err, model.ErrBusiness) {
		m.notice(events.NoticeError, apiErr.Message)
		return
	}
	m.logger.Warn("cart operation failed", slog.String("error", err.Error()))
}

func (m *Manager) ajaxError(endpoint string, err error) {
	m.bus.Publish(events.Event{Name: events.FragmentsAjaxError, Payload: events.AjaxError{
		Endpoint: endpoint,
		Err:      err,
	}})
}

func (m *Manager) notice(level events.NoticeLevel, msg string) {
	if msg == "" {
		return
	}
	m.bus.Publish(events.Event{Name: events.NoticeShown, Payload: events.Notice{
		Level:   level,
		Message: msg,
	}})
}

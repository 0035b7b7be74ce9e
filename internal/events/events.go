// Package events is the in-process notification channel between the cart,
// fragment and variation components and any widget that mirrors their state.
//
// Catalog (name → payload type):
//
//	updated_cart_totals                  CartTotals        cart count / totals widgets refresh
//	nasa_init_shipping_free_notification ShippingThreshold free-shipping progress recompute
//	wc_fragments_refreshed               FragmentsApplied  fragments spliced into the document
//	wc_fragments_ajax_error              AjaxError         a fragment-producing call failed
//	added_to_cart                        CartChanged       add-to-cart succeeded
//	removed_from_cart                    CartChanged       item removed or quantity changed
//	nasa_opened_cart_sidebar             PanelToggled      cart panel opened
//	nasa_closed_cart_sidebar             PanelToggled      cart panel closed
//	found_variation                      VariationState    resolver committed a match
//	reset_data                           VariationState    resolver committed a non-match
//	variation_lookup_failed              LookupFailed      remote lookup diagnostic
//	storefront_notice                    Notice            transient shopper-visible message
package events

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"storefront-bridge/internal/model"
)

// Name identifies an event in the catalog.
type Name string

const (
	CartTotalsUpdated     Name = "updated_cart_totals"
	ShippingThreshold     Name = "nasa_init_shipping_free_notification"
	FragmentsRefreshed    Name = "wc_fragments_refreshed"
	FragmentsAjaxError    Name = "wc_fragments_ajax_error"
	AddedToCart           Name = "added_to_cart"
	RemovedFromCart       Name = "removed_from_cart"
	PanelOpened           Name = "nasa_opened_cart_sidebar"
	PanelClosed           Name = "nasa_closed_cart_sidebar"
	VariationFound        Name = "found_variation"
	VariationReset        Name = "reset_data"
	VariationLookupFailed Name = "variation_lookup_failed"
	NoticeShown           Name = "storefront_notice"
)

// Event is one published notification. Payload holds the catalog type for Name.
type Event struct {
	Name    Name
	Payload any
}

// CartTotals accompanies CartTotalsUpdated.
type CartTotals struct {
	Fragments model.FragmentMap
}

// ShippingThresholdPayload accompanies ShippingThreshold.
type ShippingThresholdPayload struct {
	Fragments model.FragmentMap
}

// FragmentsApplied accompanies FragmentsRefreshed.
type FragmentsApplied struct {
	Applied []string // keys that replaced at least one element
	Skipped []string // keys with no live element
	Failed  []string // keys that could not be parsed or located
}

// AjaxError accompanies FragmentsAjaxError.
type AjaxError struct {
	Endpoint string
	Err      error
}

// CartChanged accompanies AddedToCart and RemovedFromCart.
type CartChanged struct {
	Fragments model.FragmentMap
	CartHash  string
	ItemKey   string
}

// PanelToggled accompanies PanelOpened and PanelClosed.
type PanelToggled struct {
	Open bool
}

// VariationState accompanies VariationFound and VariationReset.
type VariationState struct {
	ProductID int
	Variation *model.VariationRecord // nil for VariationReset
}

// LookupFailed accompanies VariationLookupFailed.
type LookupFailed struct {
	ProductID int
	Err       error
}

// NoticeLevel is the visual class of a Notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice accompanies NoticeShown.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Handler receives events. Handlers run synchronously on the publisher's
// goroutine in subscription order.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is not usable; use NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Name][]subscription
	nextID uint64
	logger *slog.Logger
}

type subscription struct {
	id uint64
	fn Handler
}

// NewBus creates an empty bus. Panics raised by handlers are recovered and
// logged so one misbehaving widget cannot break the publisher.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Name][]subscription),
		logger: logger,
	}
}

// Subscribe registers fn for name and returns a function that removes it.
func (b *Bus) Subscribe(name Name, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[name]
			for i, s := range list {
				if s.id == id {
					b.subs[name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers the event to every current subscriber of its name and
// returns once all of them have run.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	list := make([]subscription, len(b.subs[e.Name]))
	copy(list, b.subs[e.Name])
	b.mu.RUnlock()

	for _, s := range list {
		b.deliver(s.fn, e)
	}
}

func (b *Bus) deliver(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				slog.String("event", string(e.Name)),
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(e)
}

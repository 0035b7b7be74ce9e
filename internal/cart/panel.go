package cart

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"storefront-bridge/internal/events"
	"storefront-bridge/internal/fragment"
)

// CountFragment is the fragment key carrying the cart item count.
const CountFragment = ".cart-items-count"

var (
	htmlRoot     = fragment.MustCompile("html")
	bodyTag      = fragment.MustCompile("body")
	cartSidebar  = fragment.MustCompile("#cart-sidebar")
	blackWindow  = fragment.MustCompile(".black-window")
	countBadges  = fragment.MustCompile(".nasa-cart-count, .cart-number")
	emptyBadge   = []string{"nasa-product-empty", "hidden-tag"}
	sidebarEmpty = "nasa-cart-empty"
)

// OpenPanel marks the cart panel visible, which holds back background
// refreshes, and loads the coupon nonces the panel's forms need.
func (m *Manager) OpenPanel(ctx context.Context) {
	if m.gate.SetPanelOpen(true) {
		m.showPanel(true)
		m.bus.Publish(events.Event{Name: events.PanelOpened, Payload: events.PanelToggled{Open: true}})
	}
	if err := m.store.LoadNonces(ctx); err != nil {
		m.logger.Warn("loading coupon nonces failed", slog.String("error", err.Error()))
	}
}

// ClosePanel marks the cart panel hidden.
func (m *Manager) ClosePanel() {
	if m.gate.SetPanelOpen(false) {
		m.showPanel(false)
		m.bus.Publish(events.Event{Name: events.PanelClosed, Payload: events.PanelToggled{Open: false}})
	}
}

// showPanel mirrors panel visibility onto the document classes the theme
// styles against.
func (m *Manager) showPanel(open bool) {
	m.rec.Document().Update(func(root *html.Node) error {
		if n := htmlRoot.MatchFirst(root); n != nil {
			fragment.ToggleClass(n, open, "nasa-minicart-shown")
			fragment.ToggleClass(n, !open, "nasa-minicart-hidden")
		}
		if n := cartSidebar.MatchFirst(root); n != nil {
			fragment.ToggleClass(n, open, "nasa-active")
		}
		if n := blackWindow.MatchFirst(root); n != nil {
			fragment.ToggleClass(n, open, "desk-window")
		}
		if n := bodyTag.MatchFirst(root); n != nil {
			fragment.ToggleClass(n, open, "nasa-minicart-active", "m-ovhd")
		}
		return nil
	})
}

// onCartTotals writes the item count into the header badges. A payload
// without a count fragment means an empty cart.
func (m *Manager) onCartTotals(e events.Event) {
	p, ok := e.Payload.(events.CartTotals)
	if !ok {
		return
	}
	count := ItemCount(p.Fragments[CountFragment])
	text := strconv.Itoa(count)

	m.rec.Document().Update(func(root *html.Node) error {
		for _, n := range countBadges.MatchAll(root) {
			fragment.SetTextContent(n, text)
			fragment.ToggleClass(n, count == 0, emptyBadge...)
		}
		if n := cartSidebar.MatchFirst(root); n != nil {
			fragment.ToggleClass(n, count == 0, sidebarEmpty)
		}
		return nil
	})
}

// ItemCount reads the count from a count fragment, which is either a bare
// number or markup around one.
func ItemCount(value string) int {
	text := strings.TrimSpace(value)
	if strings.Contains(text, "<") {
		if doc, err := fragment.ParseDocumentString(text); err == nil {
			doc.View(func(root *html.Node) error {
				text = fragment.TextContent(root)
				return nil
			})
		}
	}
	end := 0
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(text[:end])
	return n
}

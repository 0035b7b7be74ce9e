package fragment

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"storefront-bridge/internal/events"
	"storefront-bridge/internal/model"
)

// Report describes what one Apply call did, per fragment key.
type Report struct {
	Applied map[string]int   `json:"applied"` // key → elements replaced
	Skipped []string         `json:"skipped"` // keys with no live element
	Failed  map[string]error `json:"-"`       // keys that could not be applied
}

// Empty reports whether nothing was attempted.
func (r Report) Empty() bool {
	return len(r.Applied) == 0 && len(r.Skipped) == 0 && len(r.Failed) == 0
}

// followUps is the notification sequence fired after every non-empty
// application, in this order.
var followUps = []events.Name{
	events.CartTotalsUpdated,
	events.ShippingThreshold,
	events.FragmentsRefreshed,
}

// Reconciler splices fragment maps into a Document.
type Reconciler struct {
	doc    *Document
	bus    *events.Bus
	logger *slog.Logger

	mu        sync.Mutex
	selectors map[string]*Selector
}

// NewReconciler creates a reconciler bound to one document.
func NewReconciler(doc *Document, bus *events.Bus, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		doc:       doc,
		bus:       bus,
		logger:    logger,
		selectors: make(map[string]*Selector),
	}
}

// Document returns the document this reconciler writes to.
func (r *Reconciler) Document() *Document { return r.doc }

// Apply replaces every element matching each key with that key's markup.
// Each matching element is swapped independently; keys without a live element
// are skipped. A key that fails is logged and the remaining keys still apply.
// Follow-up notifications fire only after the whole map is in the document.
// A nil or empty map is a no-op.
func (r *Reconciler) Apply(fragments model.FragmentMap) Report {
	report := Report{
		Applied: make(map[string]int),
		Failed:  make(map[string]error),
	}
	if len(fragments) == 0 {
		return report
	}

	r.doc.Update(func(root *html.Node) error {
		for _, key := range fragments.Keys() {
			n, err := r.applyKey(root, key, fragments[key])
			switch {
			case err != nil:
				report.Failed[key] = err
				r.logger.Warn("fragment not applied",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			case n == 0:
				report.Skipped = append(report.Skipped, key)
			default:
				report.Applied[key] = n
			}
		}
		return nil
	})

	r.logger.Debug("fragments applied",
		slog.Int("applied", len(report.Applied)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
	)

	r.publishFollowUps(fragments, report)
	return report
}

// applyKey replaces all matches of one key. Panics from the HTML tree are
// converted to errors so they stay confined to the key.
func (r *Reconciler) applyKey(root *html.Node, key, markup string) (replaced int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("replacing %q: %v", key, p)
		}
	}()

	sel, err := r.selector(key)
	if err != nil {
		return 0, err
	}
	for _, target := range sel.MatchAll(root) {
		if err := replaceNode(root, target, markup); err != nil {
			if err == errDetached {
				continue
			}
			return replaced, err
		}
		replaced++
	}
	return replaced, nil
}

func (r *Reconciler) selector(key string) (*Selector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.selectors[key]; ok {
		return s, nil
	}
	s, err := Compile(key)
	if err != nil {
		return nil, err
	}
	r.selectors[key] = s
	return s, nil
}

func (r *Reconciler) publishFollowUps(fragments model.FragmentMap, report Report) {
	failed := make([]string, 0, len(report.Failed))
	for k := range report.Failed {
		failed = append(failed, k)
	}
	applied := make([]string, 0, len(report.Applied))
	for _, k := range fragments.Keys() {
		if report.Applied[k] > 0 {
			applied = append(applied, k)
		}
	}

	for _, name := range followUps {
		var payload any
		switch name {
		case events.CartTotalsUpdated:
			payload = events.CartTotals{Fragments: fragments}
		case events.ShippingThreshold:
			payload = events.ShippingThresholdPayload{Fragments: fragments}
		case events.FragmentsRefreshed:
			payload = events.FragmentsApplied{
				Applied: applied,
				Skipped: report.Skipped,
				Failed:  failed,
			}
		}
		r.bus.Publish(events.Event{Name: name, Payload: payload})
	}
}

// Package variation maps a shopper's attribute selection on a variable product
// to the variation it denotes, using the inline variation list when the page
// carries one and a remote lookup otherwise.
package variation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"storefront-bridge/internal/events"
	"storefront-bridge/internal/model"
)

// DefaultLookupTimeout bounds a remote lookup before it is treated as NoMatch.
const DefaultLookupTimeout = 10 * time.Second

// Status is the resolved purchase state of a selection.
type Status string

const (
	NoSelection Status = "no_selection"
	Incomplete  Status = "incomplete"
	NoMatch     Status = "no_match"
	Matched     Status = "matched"
)

// State is the outcome of Resolve. Variation is set only for Matched.
type State struct {
	Status    Status                 `json:"status"`
	Variation *model.VariationRecord `json:"variation,omitempty"`
}

// Purchasable reports whether the purchase action should be enabled.
func (s State) Purchasable() bool {
	return s.Status == Matched && s.Variation != nil && s.Variation.Purchasable()
}

// Lookup fetches the variation for a complete selection from the store.
// A nil record with a nil error means the store knows no such variation.
type Lookup interface {
	GetVariation(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error)

// GetVariation calls f.
func (f LookupFunc) GetVariation(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error) {
	return f(ctx, productID, sel)
}

// Config holds resolver dependencies.
type Config struct {
	ProductID int
	// Attributes are the product's attribute names in control order. When
	// empty they are derived from Variations.
	Attributes []string
	// Variations is the inline catalog in declaration order. Empty means
	// remote mode.
	Variations []model.VariationRecord
	Lookup     Lookup
	Timeout    time.Duration
	Bus        *events.Bus
	Logger     *slog.Logger
}

// Resolver resolves selections for one product. It is safe for concurrent
// use; only the most recently issued Resolve may change Current.
type Resolver struct {
	productID  int
	attributes []string
	variations []model.VariationRecord
	lookup     Lookup
	timeout    time.Duration
	bus        *events.Bus
	logger     *slog.Logger

	seq atomic.Uint64

	mu       sync.Mutex
	inflight context.CancelFunc
	current  State
}

// New creates a resolver. The variation list is copied; its order is kept.
func New(cfg Config) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	variations := make([]model.VariationRecord, len(cfg.Variations))
	copy(variations, cfg.Variations)

	attrs := make([]string, 0, len(cfg.Attributes))
	for _, a := range cfg.Attributes {
		attrs = append(attrs, model.CanonicalAttribute(a))
	}
	if len(attrs) == 0 {
		attrs = attributesOf(variations)
	}

	return &Resolver{
		productID:  cfg.ProductID,
		attributes: attrs,
		variations: variations,
		lookup:     cfg.Lookup,
		timeout:    timeout,
		bus:        cfg.Bus,
		logger:     logger.With(slog.Int("product_id", cfg.ProductID)),
		current:    State{Status: NoSelection},
	}
}

// attributesOf collects attribute names in first-seen order. Names within one
// record are sorted since the record holds them in a map.
func attributesOf(variations []model.VariationRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range variations {
		names := make([]string, 0, len(v.Attributes))
		for n := range v.Attributes {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// ProductID returns the product this resolver serves.
func (r *Resolver) ProductID() int { return r.productID }

// Attributes returns the attribute names in control order.
func (r *Resolver) Attributes() []string {
	out := make([]string, len(r.attributes))
	copy(out, r.attributes)
	return out
}

// Remote reports whether the resolver has no inline catalog.
func (r *Resolver) Remote() bool { return len(r.variations) == 0 }

// Selection builds a selection over this product's attributes. Unknown
// attribute names are rejected.
func (r *Resolver) Selection(chosen map[string]string) (model.Selection, error) {
	return model.SelectionFor(r.attributes, chosen)
}

// Current returns the last committed state.
func (r *Resolver) Current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Resolve computes the state for sel and commits it unless a later Resolve
// was issued meanwhile. applied reports whether the result was committed.
// Failures never escape: they resolve to NoMatch and are reported through the
// VariationLookupFailed event.
func (r *Resolver) Resolve(ctx context.Context, sel model.Selection) (state State, applied bool) {
	seq := r.seq.Add(1)
	r.supersede()

	switch {
	case sel.Len() == 0 || sel.Chosen() == 0:
		state = State{Status: NoSelection}
	case !sel.Complete():
		state = State{Status: Incomplete}
	case !r.Remote():
		state = r.matchLocal(sel)
	default:
		var stale bool
		state, stale = r.matchRemote(ctx, seq, sel)
		if stale {
			return state, false
		}
	}

	return state, r.commit(seq, state)
}

// supersede cancels the in-flight lookup, if any. The cancelled call may
// still return; its result is discarded by sequence comparison.
func (r *Resolver) supersede() {
	r.mu.Lock()
	if r.inflight != nil {
		r.inflight()
		r.inflight = nil
	}
	r.mu.Unlock()
}

func (r *Resolver) matchLocal(sel model.Selection) State {
	for i := range r.variations {
		if r.variations[i].Matches(sel) {
			v := r.variations[i]
			return State{Status: Matched, Variation: &v}
		}
	}
	return State{Status: NoMatch}
}

func (r *Resolver) matchRemote(ctx context.Context, seq uint64, sel model.Selection) (State, bool) {
	if r.lookup == nil {
		return State{Status: NoMatch}, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.mu.Lock()
	if seq != r.seq.Load() {
		r.mu.Unlock()
		return State{Status: NoMatch}, true
	}
	r.inflight = cancel
	r.mu.Unlock()

	rec, err := r.lookup.GetVariation(ctx, r.productID, sel)

	if seq != r.seq.Load() {
		r.logger.Debug("discarding superseded variation lookup", slog.Uint64("seq", seq))
		return State{Status: NoMatch}, true
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = model.NewNetworkError("variation lookup", err)
		}
		r.logger.Warn("variation lookup failed",
			slog.Any("selection", sel.Map()),
			slog.String("error", err.Error()),
		)
		r.publish(events.Event{
			Name:    events.VariationLookupFailed,
			Payload: events.LookupFailed{ProductID: r.productID, Err: err},
		})
		return State{Status: NoMatch}, false
	}
	if rec == nil {
		return State{Status: NoMatch}, false
	}
	return State{Status: Matched, Variation: rec}, false
}

// commit stores state if seq is still the latest request.
func (r *Resolver) commit(seq uint64, state State) bool {
	r.mu.Lock()
	if seq != r.seq.Load() {
		r.mu.Unlock()
		return false
	}
	r.current = state
	r.mu.Unlock()

	payload := events.VariationState{ProductID: r.productID, Variation: state.Variation}
	if state.Status == Matched {
		r.publish(events.Event{Name: events.VariationFound, Payload: payload})
	} else {
		r.publish(events.Event{Name: events.VariationReset, Payload: payload})
	}
	return true
}

func (r *Resolver) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

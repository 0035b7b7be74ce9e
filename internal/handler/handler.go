// Package handler provides the HTTP and MCP surface of the storefront bridge.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/cart"
	"storefront-bridge/internal/events"
	"storefront-bridge/internal/fragment"
	"storefront-bridge/internal/model"
	"storefront-bridge/internal/session"
	"storefront-bridge/internal/variation"
	"storefront-bridge/internal/woocommerce"
)

// StorefrontFactory creates the storefront connection of a new session. Each
// call must return a client with its own cookie jar.
type StorefrontFactory func() (adapter.Storefront, error)

// Options tune per-session behavior.
type Options struct {
	ActivityWindow time.Duration
	LookupTimeout  time.Duration
	// RefreshInterval enables periodic gated refreshes when positive.
	RefreshInterval time.Duration
	// CartHashKey and FragmentName are used when the page does not name them.
	CartHashKey  string
	FragmentName string
}

// pageConfigurer is implemented by storefronts that adopt page parameters.
type pageConfigurer interface {
	ConfigurePage(p *woocommerce.PageInfo)
}

// recordedEvents are kept in each session's event log.
var recordedEvents = []events.Name{
	events.CartTotalsUpdated,
	events.FragmentsRefreshed,
	events.FragmentsAjaxError,
	events.AddedToCart,
	events.RemovedFromCart,
	events.PanelOpened,
	events.PanelClosed,
	events.VariationFound,
	events.VariationReset,
	events.VariationLookupFailed,
	events.NoticeShown,
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	newStorefront StorefrontFactory
	registry      *Registry
	opts          Options
	logger        *slog.Logger
}

// New creates a Handler.
func New(factory StorefrontFactory, registry *Registry, opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		newStorefront: factory,
		registry:      registry,
		opts:          opts,
		logger:        logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Sessions
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", h.withSession(h.handleGetSession))
	mux.HandleFunc("DELETE /sessions/{id}", h.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/page", h.withSession(h.handleLoadPage))
	mux.HandleFunc("GET /sessions/{id}/document", h.withSession(h.handleDocument))
	mux.HandleFunc("GET /sessions/{id}/events", h.withSession(h.handleEvents))

	// Variations
	mux.HandleFunc("POST /sessions/{id}/products/{pid}/resolve", h.withSession(h.handleResolve))
	mux.HandleFunc("POST /sessions/{id}/products/{pid}/available", h.withSession(h.handleAvailable))

	// Fragments and cart
	mux.HandleFunc("POST /sessions/{id}/fragments", h.withSession(h.handleApplyFragments))
	mux.HandleFunc("POST /sessions/{id}/cart/refresh", h.withSession(h.handleRefresh))
	mux.HandleFunc("GET /sessions/{id}/cart/items", h.withSession(h.handleListItems))
	mux.HandleFunc("POST /sessions/{id}/cart/items", h.withSession(h.handleAddItem))
	mux.HandleFunc("PUT /sessions/{id}/cart/items", h.withSession(h.handleSyncItems))
	mux.HandleFunc("PATCH /sessions/{id}/cart/items/{key}", h.withSession(h.handleUpdateItem))
	mux.HandleFunc("DELETE /sessions/{id}/cart/items/{key}", h.withSession(h.handleRemoveItem))
	mux.HandleFunc("POST /sessions/{id}/cart/coupons", h.withSession(h.handleApplyCoupon))
	mux.HandleFunc("PUT /sessions/{id}/cart/coupons", h.withSession(h.handleSyncCoupons))
	mux.HandleFunc("DELETE /sessions/{id}/cart/coupons/{code}", h.withSession(h.handleRemoveCoupon))
	mux.HandleFunc("PUT /sessions/{id}/cart/note", h.withSession(h.handleSaveNote))
	mux.HandleFunc("POST /sessions/{id}/panel", h.withSession(h.handlePanel))

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// sessionHandler is a handler that runs against a resolved session.
type sessionHandler func(w http.ResponseWriter, r *http.Request, s *Session)

// withSession resolves {id}, applies the Storefront-State header to the
// session gate and calls next.
func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.registry.Get(r.PathValue("id"))
		if !ok {
			h.writeError(w, model.NewNotFoundError("session"))
			return
		}
		if err := h.applyClientState(r.Context(), r.Header.Get(StateHeader), s); err != nil {
			h.writeError(w, err)
			return
		}
		next(w, r, s)
	}
}

func (h *Handler) applyClientState(ctx context.Context, header string, s *Session) error {
	if header == "" {
		return nil
	}
	st, err := ParseClientState(header)
	if err != nil {
		return model.NewValidationError(StateHeader, err.Error())
	}
	mgr := s.Cart()
	if mgr == nil {
		return nil
	}
	if st.PanelOpen != nil {
		if *st.PanelOpen {
			mgr.OpenPanel(ctx)
		} else {
			mgr.ClosePanel()
		}
	}
	if st.Idle != nil {
		mgr.Gate().TouchIdle(*st.Idle)
	}
	return nil
}

// newSession creates a session and loads its first page.
func (h *Handler) newSession(ctx context.Context, pageURL string) (*Session, error) {
	sf, err := h.newStorefront()
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	s, err := h.registry.add(sf)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	for _, name := range recordedEvents {
		s.bus.Subscribe(name, func(e events.Event) { s.record(e, h.registry.now()) })
	}

	if _, err := h.loadPage(ctx, s, pageURL); err != nil {
		h.registry.Remove(s.ID)
		return nil, err
	}
	return s, nil
}

// loadPage fetches and parses a storefront page, rebuilds the session's cart
// manager and resolvers around it and restores cached fragments. restored
// reports whether the cache had a payload to apply.
func (h *Handler) loadPage(ctx context.Context, s *Session, pageURL string) (restored bool, err error) {
	if pageURL == "" {
		return false, model.NewValidationError("page_url", "required")
	}
	body, err := s.storefront.FetchPage(ctx, pageURL)
	if err != nil {
		return false, err
	}
	doc, err := fragment.ParseDocument(bytes.NewReader(body))
	if err != nil {
		return false, model.NewMalformedResponseError("storefront page", err)
	}

	var info *woocommerce.PageInfo
	doc.View(func(root *html.Node) error {
		info = woocommerce.ParsePage(root)
		return nil
	})
	if pc, ok := s.storefront.(pageConfigurer); ok {
		pc.ConfigurePage(info)
	}

	hashKey, fragName := h.opts.CartHashKey, h.opts.FragmentName
	if info.CartHashKey != "" {
		hashKey = info.CartHashKey
	}
	if info.FragmentName != "" {
		fragName = info.FragmentName
	}

	mgr, err := cart.New(cart.Config{
		Storefront: s.storefront,
		Reconciler: fragment.NewReconciler(doc, s.bus, s.logger),
		Gate:       fragment.NewGate(h.opts.ActivityWindow),
		Cache:      session.NewFragmentCache(s.store, session.WithKeys(hashKey, fragName)),
		Bus:        s.bus,
		Logger:     s.logger,
	})
	if err != nil {
		return false, model.NewInternalError(err)
	}

	resolvers := make(map[int]*variation.Resolver)
	for _, form := range info.Products {
		if !form.Variable {
			continue
		}
		resolvers[form.ProductID] = variation.New(variation.Config{
			ProductID:  form.ProductID,
			Attributes: form.AttributeNames(),
			Variations: form.Variations,
			Lookup:     s.storefront,
			Timeout:    h.opts.LookupTimeout,
			Bus:        s.bus,
			Logger:     s.logger,
		})
	}

	_, restored = mgr.Restore()

	var stop context.CancelFunc
	if h.opts.RefreshInterval > 0 {
		var runCtx context.Context
		runCtx, stop = context.WithCancel(context.Background())
		go mgr.Run(runCtx, h.opts.RefreshInterval)
	}

	prev, prevStop := s.replacePage(pageURL, info, mgr, resolvers, stop)
	if prevStop != nil {
		prevStop()
	}
	if prev != nil {
		prev.Close()
	}

	s.logger.InfoContext(ctx, "page loaded",
		slog.String("page_url", pageURL),
		slog.String("store_version", info.Version),
		slog.Int("products", len(info.Products)),
		slog.Bool("restored", restored),
	)
	return restored, nil
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., fmt.Errorf wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var redirect *model.RedirectError
	if errors.As(err, &redirect) {
		h.writeJSON(w, http.StatusConflict, errorResponse{
			Error:    errorBody{Code: "REDIRECT", Message: "the store requires navigation"},
			Redirect: redirect.URL,
		})
		return
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		// Wrap unexpected errors
		apiErr = model.NewInternalError(err)
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error    errorBody `json:"error"`
	Redirect string    `json:"redirect,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: h.registry.Len()})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

package handler

import (
	"log/slog"
	"net/http"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/cart"
	"storefront-bridge/internal/fragment"
	"storefront-bridge/internal/model"
	"storefront-bridge/internal/reconcile"
	"storefront-bridge/internal/variation"
)

type cartResponse struct {
	Report   reportResponse `json:"report"`
	CartHash string         `json:"cart_hash,omitempty"`
	Message  string         `json:"message,omitempty"`
	Changed  []string       `json:"changed,omitempty"`
}

func newCartResponse(res *cart.Result) cartResponse {
	if res == nil {
		return cartResponse{Report: newReportResponse(fragment.Report{})}
	}
	return cartResponse{
		Report:   newReportResponse(res.Report),
		CartHash: res.CartHash,
		Message:  res.Message,
		Changed:  res.Changed,
	}
}

// cartManager returns the session's manager or writes 404.
func (h *Handler) cartManager(w http.ResponseWriter, s *Session) (*cart.Manager, bool) {
	mgr := s.Cart()
	if mgr == nil {
		h.writeError(w, model.NewNotFoundError("cart"))
		return nil, false
	}
	return mgr, true
}

// handleRefresh refreshes fragments through the gate; ?force=1 bypasses it.
// Responds 204 when the gate held the refresh back.
// POST /sessions/{id}/cart/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}

	if force := r.URL.Query().Get("force"); force == "1" || force == "true" {
		res, err := mgr.ForceRefresh(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, newCartResponse(res))
		return
	}

	res, refreshed, err := mgr.Refresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !refreshed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

// GET /sessions/{id}/cart/items
func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	items := mgr.CartItems()
	if items == nil {
		items = []reconcile.CurrentItem{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]reconcile.CurrentItem{"items": items})
}

// handleAddItem adds a product. For a variable product sent without a
// variation id, the variation the session last resolved is used.
// POST /sessions/{id}/cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req adapter.AddToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if res, ok := s.Resolver(req.ProductID); ok {
		req.Variable = true
		if req.VariationID == 0 {
			if st := res.Current(); st.Status == variation.Matched && st.Variation != nil {
				req.VariationID = int(st.Variation.ID)
				if req.Attributes == nil {
					req.Attributes = st.Variation.Attributes
				}
			}
		}
	}

	h.logger.InfoContext(r.Context(), "adding to cart",
		slog.String("session_id", s.ID),
		slog.Int("product_id", req.ProductID),
		slog.Int("variation_id", req.VariationID),
		slog.Int("quantity", req.Quantity),
	)

	res, err := mgr.AddToCart(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

type syncItemsRequest struct {
	Items []reconcile.DesiredItem `json:"items"`
}

// PUT /sessions/{id}/cart/items
func (h *Handler) handleSyncItems(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req syncItemsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	diff, err := mgr.SyncItems(r.Context(), req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, diff)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// PATCH /sessions/{id}/cart/items/{key}
func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req quantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := mgr.UpdateQuantity(r.Context(), r.PathValue("key"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

// DELETE /sessions/{id}/cart/items/{key}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	res, err := mgr.RemoveItem(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

type couponRequest struct {
	Code string `json:"code"`
}

// POST /sessions/{id}/cart/coupons
func (h *Handler) handleApplyCoupon(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req couponRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := mgr.ApplyCoupon(r.Context(), req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

// DELETE /sessions/{id}/cart/coupons/{code}
func (h *Handler) handleRemoveCoupon(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	res, err := mgr.RemoveCoupon(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

type syncCouponsRequest struct {
	Applied []string `json:"applied"`
	Desired []string `json:"desired"`
}

type syncCouponsResponse struct {
	Applied []string     `json:"applied"`
	Removed []string     `json:"removed"`
	Cart    cartResponse `json:"cart"`
}

// PUT /sessions/{id}/cart/coupons
func (h *Handler) handleSyncCoupons(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req syncCouponsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	diff, res, err := mgr.SyncCoupons(r.Context(), req.Applied, req.Desired)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := syncCouponsResponse{Applied: diff.ToApply, Removed: diff.ToRemove, Cart: newCartResponse(res)}
	if out.Applied == nil {
		out.Applied = []string{}
	}
	if out.Removed == nil {
		out.Removed = []string{}
	}
	h.writeJSON(w, http.StatusOK, out)
}

type noteRequest struct {
	Note string `json:"note"`
}

// PUT /sessions/{id}/cart/note
func (h *Handler) handleSaveNote(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := mgr.SaveNote(r.Context(), req.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newCartResponse(res))
}

type panelRequest struct {
	Open bool `json:"open"`
}

type panelResponse struct {
	Open              bool `json:"open"`
	BackgroundRefresh bool `json:"background_refresh"`
}

// POST /sessions/{id}/panel
func (h *Handler) handlePanel(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr, ok := h.cartManager(w, s)
	if !ok {
		return
	}
	var req panelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Open {
		mgr.OpenPanel(r.Context())
	} else {
		mgr.ClosePanel()
	}
	h.writeJSON(w, http.StatusOK, panelResponse{
		Open:              mgr.Gate().State().PanelOpen,
		BackgroundRefresh: mgr.Gate().AllowBackgroundRefresh(),
	})
}

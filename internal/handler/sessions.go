package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"storefront-bridge/internal/fragment"
	"storefront-bridge/internal/model"
	"storefront-bridge/internal/variation"
	"storefront-bridge/internal/woocommerce"
)

type pageRequest struct {
	PageURL string `json:"page_url"`
}

type sessionResponse struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"created_at"`
	PageURL   string                `json:"page_url"`
	Page      *woocommerce.PageInfo `json:"page,omitempty"`
	Restored  bool                  `json:"restored,omitempty"`
}

func newSessionResponse(s *Session) sessionResponse {
	pageURL, info := s.Page()
	return sessionResponse{ID: s.ID, CreatedAt: s.CreatedAt, PageURL: pageURL, Page: info}
}

// handleCreateSession opens a shopper session on a storefront page.
// POST /sessions
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	s, err := h.newSession(ctx, req.PageURL)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "session created",
		slog.String("session_id", s.ID),
		slog.String("page_url", req.PageURL),
	)
	h.writeJSON(w, http.StatusCreated, newSessionResponse(s))
}

// GET /sessions/{id}
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request, s *Session) {
	h.writeJSON(w, http.StatusOK, newSessionResponse(s))
}

// DELETE /sessions/{id}
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Remove(r.PathValue("id")) {
		h.writeError(w, model.NewNotFoundError("session"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadPage navigates the session to another page, keeping cookies and
// the fragment cache.
// POST /sessions/{id}/page
func (h *Handler) handleLoadPage(w http.ResponseWriter, r *http.Request, s *Session) {
	var req pageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	restored, err := h.loadPage(r.Context(), s, req.PageURL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := newSessionResponse(s)
	resp.Restored = restored
	h.writeJSON(w, http.StatusOK, resp)
}

// handleDocument renders the live document, or the outer HTML of the
// elements matching ?selector=.
// GET /sessions/{id}/document
func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr := s.Cart()
	if mgr == nil {
		h.writeError(w, model.NewNotFoundError("document"))
		return
	}

	if sel := r.URL.Query().Get("selector"); sel != "" {
		out, err := mgr.Document().OuterHTML(sel)
		if err != nil {
			h.writeError(w, model.NewValidationError("selector", err.Error()))
			return
		}
		h.writeJSON(w, http.StatusOK, map[string][]string{"elements": out})
		return
	}

	markup, err := mgr.Document().Render()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(markup))
}

// GET /sessions/{id}/events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, s *Session) {
	h.writeJSON(w, http.StatusOK, map[string][]EventRecord{"events": s.Events()})
}

type resolveRequest struct {
	Attributes map[string]string `json:"attributes"`
}

// resolvedState is the purchase state shown for a selection.
type resolvedState struct {
	Status           variation.Status       `json:"status"`
	Variation        *model.VariationRecord `json:"variation,omitempty"`
	Purchasable      bool                   `json:"purchasable"`
	Applied          bool                   `json:"applied"`
	PriceHTML        string                 `json:"price_html,omitempty"`
	AvailabilityHTML string                 `json:"availability_html,omitempty"`
	ButtonText       string                 `json:"button_text"`
}

// DefaultButtonText labels the purchase action when no variation supplies
// its own.
const DefaultButtonText = "Add to cart"

func newResolvedState(st variation.State, applied bool) resolvedState {
	out := resolvedState{
		Status:      st.Status,
		Variation:   st.Variation,
		Purchasable: st.Purchasable(),
		Applied:     applied,
		ButtonText:  DefaultButtonText,
	}
	if v := st.Variation; v != nil {
		out.PriceHTML = v.PriceHTML
		out.AvailabilityHTML = v.AvailabilityHTML
		if v.AddToCartText != "" {
			out.ButtonText = v.AddToCartText
		}
	}
	return out
}

// productResolver looks up {pid} on the session's current page.
func (h *Handler) productResolver(r *http.Request, s *Session) (*variation.Resolver, error) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		return nil, model.NewValidationError("product id", "must be a positive integer")
	}
	res, ok := s.Resolver(pid)
	if !ok {
		return nil, model.NewNotFoundError("variable product")
	}
	return res, nil
}

// POST /sessions/{id}/products/{pid}/resolve
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request, s *Session) {
	res, err := h.productResolver(r, s)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sel, err := res.Selection(req.Attributes)
	if err != nil {
		h.writeError(w, model.NewValidationError("attributes", err.Error()))
		return
	}

	st, applied := res.Resolve(r.Context(), sel)
	h.writeJSON(w, http.StatusOK, newResolvedState(st, applied))
}

type availableRequest struct {
	Attribute  string            `json:"attribute,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

type valueSet struct {
	Any    bool     `json:"any"`
	Values []string `json:"values"`
}

func newValueSet(vs variation.ValueSet) valueSet {
	out := valueSet{Any: vs.Any, Values: vs.Values}
	if out.Values == nil {
		out.Values = []string{}
	}
	return out
}

// handleAvailable returns the values still offered for one attribute, or for
// every attribute when none is named.
// POST /sessions/{id}/products/{pid}/available
func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request, s *Session) {
	res, err := h.productResolver(r, s)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req availableRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	sel, err := res.Selection(req.Attributes)
	if err != nil {
		h.writeError(w, model.NewValidationError("attributes", err.Error()))
		return
	}

	if req.Attribute != "" {
		attr := model.CanonicalAttribute(req.Attribute)
		h.writeJSON(w, http.StatusOK, map[string]valueSet{attr: newValueSet(res.AvailableValues(attr, sel))})
		return
	}
	all := res.AvailableAll(sel)
	out := make(map[string]valueSet, len(all))
	for name, vs := range all {
		out[name] = newValueSet(vs)
	}
	h.writeJSON(w, http.StatusOK, out)
}

type fragmentsRequest struct {
	Fragments model.FragmentMap `json:"fragments"`
	CartHash  string            `json:"cart_hash,omitempty"`
}

// reportResponse is the JSON form of fragment.Report.
type reportResponse struct {
	Applied map[string]int    `json:"applied"`
	Skipped []string          `json:"skipped"`
	Failed  map[string]string `json:"failed"`
}

func newReportResponse(rep fragment.Report) reportResponse {
	out := reportResponse{
		Applied: rep.Applied,
		Skipped: rep.Skipped,
		Failed:  make(map[string]string, len(rep.Failed)),
	}
	if out.Applied == nil {
		out.Applied = map[string]int{}
	}
	if out.Skipped == nil {
		out.Skipped = []string{}
	}
	for k, err := range rep.Failed {
		out.Failed[k] = err.Error()
	}
	return out
}

// handleApplyFragments splices a caller-supplied fragment payload.
// POST /sessions/{id}/fragments
func (h *Handler) handleApplyFragments(w http.ResponseWriter, r *http.Request, s *Session) {
	mgr := s.Cart()
	if mgr == nil {
		h.writeError(w, model.NewNotFoundError("document"))
		return
	}
	var req fragmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res := mgr.ApplyFragments(req.Fragments, req.CartHash)
	h.writeJSON(w, http.StatusOK, newReportResponse(res.Report))
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storefront-bridge/internal/adapter"
	"storefront-bridge/internal/events"
	"storefront-bridge/internal/model"
)

const productPage = `<!DOCTYPE html>
<html><head>
<meta name="generator" content="WooCommerce 8.2.1">
<script>var wc_cart_fragments_params = {"wc_ajax_url":"\/?wc-ajax=%%endpoint%%","cart_hash_key":"wc_cart_hash_t","fragment_name":"wc_fragments_t"};</script>
</head><body>
<a class="cart-link mini-cart"><span class="nasa-cart-count">0</span></a>
<form class="variations_form cart" data-product_id="42"
  data-product_variations="[{&quot;variation_id&quot;:57,&quot;attributes&quot;:{&quot;attribute_pa_color&quot;:&quot;red&quot;,&quot;attribute_size&quot;:&quot;S&quot;},&quot;is_purchasable&quot;:true,&quot;is_in_stock&quot;:true,&quot;variation_is_visible&quot;:true,&quot;price_html&quot;:&quot;$20&quot;},{&quot;variation_id&quot;:58,&quot;attributes&quot;:{&quot;attribute_pa_color&quot;:&quot;blue&quot;,&quot;attribute_size&quot;:&quot;&quot;},&quot;is_purchasable&quot;:true,&quot;is_in_stock&quot;:false,&quot;variation_is_visible&quot;:true,&quot;add_to_cart_text&quot;:&quot;Sold out&quot;}]">
  <select name="attribute_pa_color" data-attribute_name="attribute_pa_color">
    <option value="">Choose</option><option value="red">Red</option><option value="blue">Blue</option>
  </select>
  <select name="attribute_size" data-attribute_name="attribute_size">
    <option value="">Choose</option><option value="S">S</option><option value="M">M</option>
  </select>
</form>
<div id="cart-sidebar"><div class="widget_shopping_cart_content"><p>Empty</p></div></div>
</body></html>`

func testHandler(mock *adapter.Mock) (*Handler, *http.ServeMux) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if mock.FetchPageFunc == nil {
		mock.FetchPageFunc = func(ctx context.Context, pageURL string) ([]byte, error) {
			return []byte(productPage), nil
		}
	}
	factory := func() (adapter.Storefront, error) { return mock, nil }
	// A one-nanosecond window lets background refreshes through right away.
	h := New(factory, NewRegistry(time.Hour, logger), Options{ActivityWindow: time.Nanosecond}, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func do(t *testing.T, mux *http.ServeMux, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	w := do(t, mux, "POST", "/sessions", map[string]string{"page_url": "/product/hoodie/"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", w.Code, w.Body.String())
	}
	var resp sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.ID
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Code
}

func TestHandleHealth(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})

	w := do(t, mux, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp healthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %s, want ok", resp.Status)
	}
}

func TestCreateSession(t *testing.T) {
	var fetched string
	mock := &adapter.Mock{
		FetchPageFunc: func(ctx context.Context, pageURL string) ([]byte, error) {
			fetched = pageURL
			return []byte(productPage), nil
		},
	}
	h, mux := testHandler(mock)

	id := createSession(t, mux)
	if id == "" {
		t.Fatal("empty session id")
	}
	if fetched != "/product/hoodie/" {
		t.Errorf("fetched %q", fetched)
	}

	w := do(t, mux, "GET", "/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	var resp sessionResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Page == nil || len(resp.Page.Products) != 1 || resp.Page.Products[0].ProductID != 42 {
		t.Fatalf("page = %+v", resp.Page)
	}
	if resp.Page.Version != "v8.2.1" || resp.Page.CartHashKey != "wc_cart_hash_t" {
		t.Errorf("page info = %+v", resp.Page)
	}
	if h.registry.Len() != 1 {
		t.Errorf("sessions = %d", h.registry.Len())
	}
}

func TestCreateSession_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		fetchErr   error
		wantStatus int
		wantCode   string
	}{
		{"missing page", map[string]string{}, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid json", "not an object", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"store down", map[string]string{"page_url": "/"}, model.NewNetworkError("WooCommerce", errors.New("refused")), http.StatusBadGateway, "NETWORK_FAILURE"},
		{"page missing", map[string]string{"page_url": "/gone/"}, model.NewNotFoundError("page"), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &adapter.Mock{
				FetchPageFunc: func(ctx context.Context, pageURL string) ([]byte, error) {
					if tt.fetchErr != nil {
						return nil, tt.fetchErr
					}
					return []byte(productPage), nil
				},
			}
			h, mux := testHandler(mock)
			w := do(t, mux, "POST", "/sessions", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if h.registry.Len() != 0 {
				t.Errorf("failed session kept: %d", h.registry.Len())
			}
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	for _, path := range []string{"/sessions/nope", "/sessions/nope/document", "/sessions/nope/events"} {
		if w := do(t, mux, "GET", path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, w.Code)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	id := createSession(t, mux)

	if w := do(t, mux, "DELETE", "/sessions/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(t, mux, "GET", "/sessions/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
	if w := do(t, mux, "DELETE", "/sessions/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}

func TestResolve(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	id := createSession(t, mux)
	path := "/sessions/" + id + "/products/42/resolve"

	tests := []struct {
		name       string
		attrs      map[string]string
		want       resolvedState
		wantStatus int
	}{
		{
			name:  "matched",
			attrs: map[string]string{"attribute_pa_color": "red", "size": "S"},
			want: resolvedState{
				Status: "matched", Purchasable: true, Applied: true,
				PriceHTML: "$20", ButtonText: DefaultButtonText,
			},
		},
		{
			name:  "wildcard size, out of stock",
			attrs: map[string]string{"pa_color": "blue", "size": "M"},
			want:  resolvedState{Status: "matched", Applied: true, ButtonText: "Sold out"},
		},
		{
			name:  "incomplete",
			attrs: map[string]string{"pa_color": "red"},
			want:  resolvedState{Status: "incomplete", Applied: true, ButtonText: DefaultButtonText},
		},
		{
			name:  "no selection",
			attrs: map[string]string{},
			want:  resolvedState{Status: "no_selection", Applied: true, ButtonText: DefaultButtonText},
		},
		{
			name:  "no match",
			attrs: map[string]string{"pa_color": "red", "size": "M"},
			want:  resolvedState{Status: "no_match", Applied: true, ButtonText: DefaultButtonText},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, mux, "POST", path, map[string]interface{}{"attributes": tt.attrs})
			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
			}
			var got resolvedState
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got.Variation = nil
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if w := do(t, mux, "POST", "/sessions/"+id+"/products/99/resolve", map[string]interface{}{}); w.Code != http.StatusNotFound {
		t.Errorf("unknown product = %d", w.Code)
	}
	if w := do(t, mux, "POST", "/sessions/"+id+"/products/abc/resolve", map[string]interface{}{}); w.Code != http.StatusBadRequest {
		t.Errorf("bad product id = %d", w.Code)
	}
}

func TestAvailable(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	id := createSession(t, mux)
	path := "/sessions/" + id + "/products/42/available"

	w := do(t, mux, "POST", path, map[string]interface{}{
		"attribute":  "attribute_size",
		"attributes": map[string]string{"pa_color": "red"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}
	var one map[string]valueSet
	json.NewDecoder(w.Body).Decode(&one)
	if diff := cmp.Diff(map[string]valueSet{"size": {Values: []string{"S"}}}, one); diff != "" {
		t.Errorf("size values mismatch (-want +got):\n%s", diff)
	}

	w = do(t, mux, "POST", path, map[string]interface{}{
		"attributes": map[string]string{"pa_color": "blue"},
	})
	var all map[string]valueSet
	json.NewDecoder(w.Body).Decode(&all)
	want := map[string]valueSet{
		"pa_color": {Values: []string{"red", "blue"}},
		"size":     {Any: true, Values: []string{}},
	}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("all values mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFragmentsAndDocument(t *testing.T) {
	_, mux := testHandler(&adapter.Mock{})
	id := createSession(t, mux)

	w := do(t, mux, "POST", "/sessions/"+id+"/fragments", map[string]interface{}{
		"fragments": map[string]string{
			"div.widget_shopping_cart_content": `<div class="widget_shopping_cart_content"><ul><li class="mini_cart_item"><a data-product_id="42" data-cart_item_key="k1">x</a><span class="quantity">1 ×</span></li></ul></div>`,
			".cart-items-count":                "1",
			"div..broken":                      "<p></p>",
		},
		"cart_hash": "h1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}
	var rep reportResponse
	json.NewDecoder(w.Body).Decode(&rep)
	if rep.Applied["div.widget_shopping_cart_content"] != 1 {
		t.Errorf("applied = %v", rep.Applied)
	}
	if diff := cmp.Diff([]string{".cart-items-count"}, rep.Skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if _, ok := rep.Failed["div..broken"]; !ok {
		t.Errorf("failed = %v", rep.Failed)
	}

	w = do(t, mux, "GET", "/sessions/"+id+"/document?selector=.nasa-cart-count", nil)
	var els map[string][]string
	json.NewDecoder(w.Body).Decode(&els)
	if len(els["elements"]) != 1 || !strings.Contains(els["elements"][0], ">1<") {
		t.Errorf("badge = %v", els)
	}

	w = do(t, mux, "GET", "/sessions/"+id+"/document", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %s", ct)
	}
	if !strings.Contains(w.Body.String(), `data-cart_item_key="k1"`) {
		t.Error("rendered document lacks the applied fragment")
	}

	w = do(t, mux, "GET", "/sessions/"+id+"/cart/items", nil)
	var items map[string][]map[string]interface{}
	json.NewDecoder(w.Body).Decode(&items)
	if len(items["items"]) != 1 || items["items"][0]["item_key"] != "k1" {
		t.Errorf("items = %v", items)
	}

	// Navigating restores the cached payload into the new page.
	w = do(t, mux, "POST", "/sessions/"+id+"/page", map[string]string{"page_url": "/shop/"})
	var resp sessionResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Restored || resp.PageURL != "/shop/" {
		t.Errorf("page load = %+v", resp)
	}
}

func TestRefresh(t *testing.T) {
	calls := 0
	mock := &adapter.Mock{
		RefreshFragmentsFunc: func(ctx context.Context) (*model.CartResponse, error) {
			calls++
			return &model.CartResponse{CartHash: "h"}, nil
		},
	}
	_, mux := testHandler(mock)
	id := createSession(t, mux)
	path := "/sessions/" + id + "/cart/refresh"

	if w := do(t, mux, "POST", path, nil); w.Code != http.StatusOK {
		t.Fatalf("idle refresh = %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, mux, "POST", path, nil, StateHeader, "panel-open=?1"); w.Code != http.StatusNoContent {
		t.Errorf("refresh with panel open = %d, want 204", w.Code)
	}
	if w := do(t, mux, "POST", path+"?force=1", nil); w.Code != http.StatusOK {
		t.Errorf("forced refresh = %d", w.Code)
	}
	if w := do(t, mux, "POST", path, nil, StateHeader, "panel-open=?0"); w.Code != http.StatusOK {
		t.Errorf("refresh after panel closed = %d", w.Code)
	}
	if calls != 3 {
		t.Errorf("store refreshes = %d, want 3", calls)
	}

	if w := do(t, mux, "POST", path, nil, StateHeader, "idle=soon"); w.Code != http.StatusBadRequest {
		t.Errorf("malformed state header = %d, want 400", w.Code)
	}
}

func TestAddItem_UsesResolvedVariation(t *testing.T) {
	var got *adapter.AddToCartRequest
	mock := &adapter.Mock{
		AddToCartFunc: func(ctx context.Context, req *adapter.AddToCartRequest) (*model.CartResponse, error) {
			got = req
			return &model.CartResponse{CartHash: "h2", Fragments: model.FragmentMap{".cart-items-count": "1"}}, nil
		},
	}
	_, mux := testHandler(mock)
	id := createSession(t, mux)

	do(t, mux, "POST", "/sessions/"+id+"/products/42/resolve", map[string]interface{}{
		"attributes": map[string]string{"pa_color": "red", "size": "S"},
	})
	w := do(t, mux, "POST", "/sessions/"+id+"/cart/items", map[string]interface{}{"product_id": 42, "quantity": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}
	if got == nil || got.VariationID != 57 || !got.Variable || got.Attributes["pa_color"] != "red" {
		t.Fatalf("add request = %+v", got)
	}
	var resp cartResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.CartHash != "h2" {
		t.Errorf("cart_hash = %q", resp.CartHash)
	}

	w = do(t, mux, "GET", "/sessions/"+id+"/events", nil)
	var evs map[string][]EventRecord
	json.NewDecoder(w.Body).Decode(&evs)
	names := make(map[events.Name]bool)
	for _, e := range evs["events"] {
		names[e.Name] = true
	}
	for _, want := range []events.Name{events.VariationFound, events.AddedToCart, events.PanelOpened, events.FragmentsRefreshed} {
		if !names[want] {
			t.Errorf("event %s not recorded: %v", want, evs["events"])
		}
	}
}

func TestCartErrors(t *testing.T) {
	mock := &adapter.Mock{
		AddToCartFunc: func(ctx context.Context, req *adapter.AddToCartRequest) (*model.CartResponse, error) {
			return nil, &model.RedirectError{URL: "https://shop.example.com/product/hoodie/"}
		},
		ApplyCouponFunc: func(ctx context.Context, code string) (string, error) {
			return "", model.NewBusinessError("Coupon \"x\" does not exist!")
		},
	}
	_, mux := testHandler(mock)
	id := createSession(t, mux)

	w := do(t, mux, "POST", "/sessions/"+id+"/cart/items", map[string]interface{}{"product_id": 42})
	if w.Code != http.StatusConflict {
		t.Fatalf("redirect status = %d", w.Code)
	}
	var body errorResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Redirect != "https://shop.example.com/product/hoodie/" || body.Error.Code != "REDIRECT" {
		t.Errorf("redirect body = %+v", body)
	}

	w = do(t, mux, "POST", "/sessions/"+id+"/cart/coupons", map[string]string{"code": "x"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("coupon status = %d", w.Code)
	}
	if code := errorCode(t, w); code != "BUSINESS_ERROR" {
		t.Errorf("code = %s", code)
	}
}

func TestCartItemRoutes(t *testing.T) {
	var calls []string
	mock := &adapter.Mock{
		UpdateQuantityFunc: func(ctx context.Context, key string, qty int) (*model.CartResponse, error) {
			calls = append(calls, "update "+key)
			return &model.CartResponse{}, nil
		},
		RemoveFromCartFunc: func(ctx context.Context, key string) (*model.CartResponse, error) {
			calls = append(calls, "remove "+key)
			return &model.CartResponse{}, nil
		},
		RemoveCouponFunc: func(ctx context.Context, code string) (string, error) {
			calls = append(calls, "uncoupon "+code)
			return "Coupon has been removed.", nil
		},
		SaveNoteFunc: func(ctx context.Context, note string) (*model.CartResponse, error) {
			calls = append(calls, "note")
			return &model.CartResponse{}, nil
		},
	}
	_, mux := testHandler(mock)
	id := createSession(t, mux)
	base := "/sessions/" + id + "/cart"

	steps := []struct {
		method, path string
		body         interface{}
	}{
		{"PATCH", base + "/items/k1", map[string]int{"quantity": 3}},
		{"PATCH", base + "/items/k2", map[string]int{"quantity": 0}},
		{"DELETE", base + "/items/k3", nil},
		{"DELETE", base + "/coupons/save10", nil},
		{"PUT", base + "/note", map[string]string{"note": "gift wrap"}},
	}
	for _, s := range steps {
		if w := do(t, mux, s.method, s.path, s.body); w.Code != http.StatusOK {
			t.Errorf("%s %s = %d: %s", s.method, s.path, w.Code, w.Body.String())
		}
	}
	want := []string{"update k1", "remove k2", "remove k3", "uncoupon save10", "note"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncCoupons(t *testing.T) {
	mock := &adapter.Mock{
		ApplyCouponFunc: func(ctx context.Context, code string) (string, error) { return "ok", nil },
	}
	_, mux := testHandler(mock)
	id := createSession(t, mux)

	w := do(t, mux, "PUT", "/sessions/"+id+"/cart/coupons", map[string][]string{
		"applied": {},
		"desired": {"SAVE10"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d: %s", w.Code, w.Body.String())
	}
	var resp syncCouponsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if diff := cmp.Diff([]string{"save10"}, resp.Applied); diff != "" {
		t.Errorf("applied mismatch (-want +got):\n%s", diff)
	}
}

func TestPanel(t *testing.T) {
	nonceLoads := 0
	mock := &adapter.Mock{
		LoadNoncesFunc: func(ctx context.Context) error {
			nonceLoads++
			return nil
		},
	}
	_, mux := testHandler(mock)
	id := createSession(t, mux)

	w := do(t, mux, "POST", "/sessions/"+id+"/panel", map[string]bool{"open": true})
	var resp panelResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Open || resp.BackgroundRefresh {
		t.Errorf("open panel = %+v", resp)
	}
	if nonceLoads != 1 {
		t.Errorf("nonce loads = %d", nonceLoads)
	}

	w = do(t, mux, "POST", "/sessions/"+id+"/panel", map[string]bool{"open": false})
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Open {
		t.Errorf("closed panel = %+v", resp)
	}
}

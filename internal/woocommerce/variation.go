package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"storefront-bridge/internal/model"
)

var errMissingID = errors.New("variation without id")

// GetVariation resolves a complete selection with get_variation. The store
// answers false when no variation matches.
func (c *Client) GetVariation(ctx context.Context, productID int, sel model.Selection) (*model.VariationRecord, error) {
	if productID <= 0 {
		return nil, model.NewValidationError("product_id", "must be positive")
	}
	form := url.Values{}
	form.Set("product_id", strconv.Itoa(productID))
	for k, v := range sel.Wire() {
		form.Set(k, v)
	}

	resp, err := c.post(ctx, EndpointGetVariation, form)
	if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.body)
	switch string(body) {
	case "false", "null", "":
		if resp.status >= 400 {
			return nil, c.htmlFailure(resp, EndpointGetVariation)
		}
		return nil, nil
	}
	if !resp.isJSON() {
		return nil, c.htmlFailure(resp, EndpointGetVariation)
	}

	var v model.VariationRecord
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, model.NewMalformedResponseError(service+" "+EndpointGetVariation, err)
	}
	if v.ID == 0 {
		return nil, model.NewMalformedResponseError(service+" "+EndpointGetVariation,
			errMissingID)
	}
	return &v, nil
}

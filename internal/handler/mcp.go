// MCP transport handler for the storefront bridge using the official MCP Go SDK.
// Exposes variation resolution and fragment/cart refresh as MCP tools.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront-bridge/internal/model"
)

// === MCP Tool Input/Output Types ===
// Every tool addresses a session created over REST (POST /sessions).

// ResolveVariationInput is the input schema for resolve_variation.
type ResolveVariationInput struct {
	SessionID  string            `json:"session_id" jsonschema:"bridge session ID,required"`
	ProductID  int               `json:"product_id" jsonschema:"variable product ID on the session page,required"`
	Attributes map[string]string `json:"attributes" jsonschema:"chosen attribute values keyed by attribute name"`
}

// AvailableValuesInput is the input schema for available_values.
type AvailableValuesInput struct {
	SessionID  string            `json:"session_id" jsonschema:"bridge session ID,required"`
	ProductID  int               `json:"product_id" jsonschema:"variable product ID on the session page,required"`
	Attribute  string            `json:"attribute,omitempty" jsonschema:"attribute to list values for; all attributes when empty"`
	Attributes map[string]string `json:"attributes" jsonschema:"current selection keyed by attribute name"`
}

// AvailableValuesOutput maps attribute names to the values still offered.
type AvailableValuesOutput struct {
	Values map[string]valueSet `json:"values"`
}

// ApplyFragmentsInput is the input schema for apply_fragments.
type ApplyFragmentsInput struct {
	SessionID string            `json:"session_id" jsonschema:"bridge session ID,required"`
	Fragments map[string]string `json:"fragments" jsonschema:"selector to replacement markup,required"`
	CartHash  string            `json:"cart_hash,omitempty" jsonschema:"cart hash reported with the fragments"`
}

// RefreshCartInput is the input schema for refresh_cart.
type RefreshCartInput struct {
	SessionID string `json:"session_id" jsonschema:"bridge session ID,required"`
	Force     bool   `json:"force,omitempty" jsonschema:"refresh even when the panel is open or the shopper is active"`
}

// RefreshCartOutput reports whether the refresh ran.
type RefreshCartOutput struct {
	Refreshed bool          `json:"refreshed"`
	Cart      *cartResponse `json:"cart,omitempty"`
}

// NewMCPServer creates an MCP server with the bridge tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront-bridge",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront bridge - resolve product variations and keep a shopper's page in sync with the cart. " +
				"Create a session over REST first, then pass its session_id to every tool.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_variation",
		Description: "Resolve an attribute selection to a variation: no_selection, incomplete, no_match or matched.",
	}, h.mcpResolveVariation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "available_values",
		Description: "List the attribute values that can still lead to a variation given the current selection.",
	}, h.mcpAvailableValues)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_fragments",
		Description: "Replace page regions with server-rendered fragments and report what changed.",
	}, h.mcpApplyFragments)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_cart",
		Description: "Fetch fresh cart fragments. Without force the refresh is skipped while the cart panel is open or the shopper is active.",
	}, h.mcpRefreshCart)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpResolveVariation(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ResolveVariationInput,
) (*mcp.CallToolResult, *resolvedState, error) {
	s, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	res, ok := s.Resolver(input.ProductID)
	if !ok {
		return nil, nil, h.mcpError(model.NewNotFoundError("variable product"))
	}
	sel, err := res.Selection(input.Attributes)
	if err != nil {
		return nil, nil, h.mcpError(model.NewValidationError("attributes", err.Error()))
	}

	st, applied := res.Resolve(ctx, sel)
	out := newResolvedState(st, applied)
	return nil, &out, nil
}

func (h *Handler) mcpAvailableValues(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AvailableValuesInput,
) (*mcp.CallToolResult, *AvailableValuesOutput, error) {
	s, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	res, ok := s.Resolver(input.ProductID)
	if !ok {
		return nil, nil, h.mcpError(model.NewNotFoundError("variable product"))
	}
	sel, err := res.Selection(input.Attributes)
	if err != nil {
		return nil, nil, h.mcpError(model.NewValidationError("attributes", err.Error()))
	}

	out := &AvailableValuesOutput{Values: make(map[string]valueSet)}
	if input.Attribute != "" {
		attr := model.CanonicalAttribute(input.Attribute)
		out.Values[attr] = newValueSet(res.AvailableValues(attr, sel))
		return nil, out, nil
	}
	for name, vs := range res.AvailableAll(sel) {
		out.Values[name] = newValueSet(vs)
	}
	return nil, out, nil
}

func (h *Handler) mcpApplyFragments(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ApplyFragmentsInput,
) (*mcp.CallToolResult, *reportResponse, error) {
	s, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	mgr := s.Cart()
	if mgr == nil {
		return nil, nil, h.mcpError(model.NewNotFoundError("document"))
	}
	res := mgr.ApplyFragments(model.FragmentMap(input.Fragments), input.CartHash)
	out := newReportResponse(res.Report)
	return nil, &out, nil
}

func (h *Handler) mcpRefreshCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RefreshCartInput,
) (*mcp.CallToolResult, *RefreshCartOutput, error) {
	s, err := h.mcpSession(input.SessionID)
	if err != nil {
		return nil, nil, err
	}
	mgr := s.Cart()
	if mgr == nil {
		return nil, nil, h.mcpError(model.NewNotFoundError("cart"))
	}

	if input.Force {
		res, err := mgr.ForceRefresh(ctx)
		if err != nil {
			return nil, nil, h.mcpError(err)
		}
		cr := newCartResponse(res)
		return nil, &RefreshCartOutput{Refreshed: true, Cart: &cr}, nil
	}

	res, refreshed, err := mgr.Refresh(ctx)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	out := &RefreshCartOutput{Refreshed: refreshed}
	if refreshed {
		cr := newCartResponse(res)
		out.Cart = &cr
	}
	return nil, out, nil
}

// mcpSession resolves a session ID.
func (h *Handler) mcpSession(id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	s, ok := h.registry.Get(id)
	if !ok {
		return nil, h.mcpError(model.NewNotFoundError("session"))
	}
	return s, nil
}

// mcpError converts bridge errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	var redirect *model.RedirectError
	if errors.As(err, &redirect) {
		return fmt.Errorf("REDIRECT: %s", redirect.URL)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}

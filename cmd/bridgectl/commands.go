package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	sessionCmd := &cobra.Command{Use: "session", Short: "Create, inspect and delete bridge sessions"}
	sessionCmd.AddCommand(sessionCreateCmd(), sessionGetCmd(), sessionDeleteCmd(), sessionPageCmd())

	couponCmd := &cobra.Command{Use: "coupon", Short: "Apply, remove and sync coupon codes"}
	couponCmd.AddCommand(couponApplyCmd(), couponRemoveCmd(), couponSyncCmd())

	rootCmd.AddCommand(
		sessionCmd,
		couponCmd,
		resolveCmd(),
		availableCmd(),
		refreshCmd(),
		addCmd(),
		itemsCmd(),
		qtyCmd(),
		removeCmd(),
		noteCmd(),
		panelCmd(),
		eventsCmd(),
		documentCmd(),
	)
}

func sessionPath(id string, parts ...string) string {
	p := "/sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

type sessionView struct {
	ID      string `json:"id"`
	PageURL string `json:"page_url"`
	Page    *struct {
		Version  string `json:"version"`
		Products []struct {
			ProductID int  `json:"product_id"`
			Variable  bool `json:"variable"`
			Remote    bool `json:"remote"`
		} `json:"products"`
	} `json:"page"`
	Restored bool `json:"restored"`
}

func (c *apiClient) showSession(verb string, s sessionView) {
	if c.quiet {
		fmt.Fprintln(c.out, s.ID)
		return
	}
	c.success("Session %s", verb)
	fmt.Fprintf(c.out, "  ID: %s%s%s\n", colorCyan, s.ID, colorReset)
	fmt.Fprintf(c.out, "  Page: %s\n", s.PageURL)
	if s.Page != nil {
		if s.Page.Version != "" {
			fmt.Fprintf(c.out, "  Store version: %s\n", s.Page.Version)
		}
		for _, p := range s.Page.Products {
			kind := "simple"
			switch {
			case p.Remote:
				kind = "variable, remote lookup"
			case p.Variable:
				kind = "variable"
			}
			fmt.Fprintf(c.out, "    - product %d (%s)\n", p.ProductID, kind)
		}
	}
	if s.Restored {
		c.info("cached cart restored")
	}
}

func sessionCreateCmd() *cobra.Command {
	var page string
	cmd := &cobra.Command{
		Use:   "create --page URL",
		Short: "Open a session on a storefront page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var s sessionView
			if err := c.doJSON("POST", "/sessions", map[string]string{"page_url": page}, &s); err != nil {
				return fmt.Errorf("creating session: %w", err)
			}
			c.showSession("created", s)
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "/", "Storefront page path or URL")
	return cmd
}

func sessionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var s sessionView
			if err := c.doJSON("GET", sessionPath(args[0]), nil, &s); err != nil {
				return err
			}
			c.showSession("retrieved", s)
			return nil
		},
	}
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			if _, err := c.do("DELETE", sessionPath(args[0]), nil); err != nil {
				return err
			}
			c.success("Session deleted")
			return nil
		},
	}
}

func sessionPageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "page <session> <url>",
		Short: "Navigate a session to another page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var s sessionView
			if err := c.doJSON("POST", sessionPath(args[0], "page"), map[string]string{"page_url": args[1]}, &s); err != nil {
				return err
			}
			c.showSession("navigated", s)
			return nil
		},
	}
}

func productArgs(args []string) (string, int, error) {
	pid, err := strconv.Atoi(args[1])
	if err != nil || pid <= 0 {
		return "", 0, fmt.Errorf("product id %q must be a positive integer", args[1])
	}
	return args[0], pid, nil
}

func resolveCmd() *cobra.Command {
	var attrs map[string]string
	cmd := &cobra.Command{
		Use:   "resolve <session> <product> [--attr name=value ...]",
		Short: "Resolve an attribute selection to a variation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, pid, err := productArgs(args)
			if err != nil {
				return err
			}
			c := newAPIClient()
			var st struct {
				Status    string `json:"status"`
				Variation *struct {
					ID int `json:"variation_id"`
				} `json:"variation"`
				Purchasable bool   `json:"purchasable"`
				ButtonText  string `json:"button_text"`
			}
			path := sessionPath(id, "products", strconv.Itoa(pid), "resolve")
			if err := c.doJSON("POST", path, map[string]interface{}{"attributes": attrs}, &st); err != nil {
				return err
			}
			if c.quiet {
				fmt.Fprintln(c.out, st.Status)
				return nil
			}
			c.success("Selection %s", st.Status)
			if st.Variation != nil {
				fmt.Fprintf(c.out, "  Variation: %s%d%s\n", colorCyan, st.Variation.ID, colorReset)
			}
			fmt.Fprintf(c.out, "  Purchasable: %t (%s)\n", st.Purchasable, st.ButtonText)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "Chosen attribute value, name=value (repeatable)")
	return cmd
}

func availableCmd() *cobra.Command {
	var attrs map[string]string
	var attribute string
	cmd := &cobra.Command{
		Use:   "available <session> <product>",
		Short: "List attribute values still compatible with a selection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, pid, err := productArgs(args)
			if err != nil {
				return err
			}
			c := newAPIClient()
			var out map[string]struct {
				Any    bool     `json:"any"`
				Values []string `json:"values"`
			}
			body := map[string]interface{}{"attributes": attrs, "attribute": attribute}
			if err := c.doJSON("POST", sessionPath(id, "products", strconv.Itoa(pid), "available"), body, &out); err != nil {
				return err
			}
			for name, vs := range out {
				values := strings.Join(vs.Values, ", ")
				if vs.Any {
					values = "(any)"
				}
				fmt.Fprintf(c.out, "%s: %s\n", name, values)
			}
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "Chosen attribute value, name=value (repeatable)")
	cmd.Flags().StringVar(&attribute, "attribute", "", "Only list this attribute")
	return cmd
}

type cartView struct {
	Report struct {
		Applied map[string]int `json:"applied"`
		Skipped []string       `json:"skipped"`
	} `json:"report"`
	CartHash string   `json:"cart_hash"`
	Message  string   `json:"message"`
	Changed  []string `json:"changed"`
}

func (c *apiClient) showCart(verb string, cv cartView) {
	if c.quiet {
		fmt.Fprintln(c.out, cv.CartHash)
		return
	}
	c.success("%s", verb)
	if cv.Message != "" {
		fmt.Fprintf(c.out, "  %s\n", cv.Message)
	}
	if cv.CartHash != "" {
		fmt.Fprintf(c.out, "  Cart hash: %s%s%s\n", colorCyan, cv.CartHash, colorReset)
	}
	fmt.Fprintf(c.out, "  Fragments applied: %d, skipped: %d\n", len(cv.Report.Applied), len(cv.Report.Skipped))
	if len(cv.Changed) > 0 {
		fmt.Fprintf(c.out, "  Changed: %s\n", strings.Join(cv.Changed, ", "))
	}
}

func refreshCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh <session>",
		Short: "Refresh cart fragments (gated unless --force)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			path := sessionPath(args[0], "cart", "refresh")
			if force {
				path += "?force=1"
			}
			data, err := c.do("POST", path, nil)
			if err != nil {
				return err
			}
			if data == nil {
				if c.quiet {
					fmt.Fprintln(c.out, "gated")
				} else {
					c.info("Refresh held back: panel open, operation pending or shopper active")
				}
				return nil
			}
			var cv cartView
			if err := decode(data, &cv); err != nil {
				return err
			}
			c.showCart("Cart refreshed", cv)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the refresh gate")
	return cmd
}

func addCmd() *cobra.Command {
	var qty, variation int
	var attrs map[string]string
	cmd := &cobra.Command{
		Use:   "add <session> <product>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, pid, err := productArgs(args)
			if err != nil {
				return err
			}
			c := newAPIClient()
			body := map[string]interface{}{"product_id": pid, "quantity": qty}
			if variation > 0 {
				body["variation_id"] = variation
			}
			if len(attrs) > 0 {
				body["attributes"] = attrs
			}
			var cv cartView
			if err := c.doJSON("POST", sessionPath(id, "cart", "items"), body, &cv); err != nil {
				return fmt.Errorf("adding to cart: %w", err)
			}
			c.showCart("Added to cart", cv)
			return nil
		},
	}
	cmd.Flags().IntVar(&qty, "qty", 1, "Quantity")
	cmd.Flags().IntVar(&variation, "variation", 0, "Variation ID (defaults to the last resolved variation)")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "Attribute value, name=value (repeatable)")
	return cmd
}

func itemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items <session>",
		Short: "List the lines shown in the mini cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var out struct {
				Items []struct {
					ItemKey     string `json:"item_key"`
					ProductID   int    `json:"product_id"`
					VariationID int    `json:"variation_id"`
					Quantity    int    `json:"quantity"`
				} `json:"items"`
			}
			if err := c.doJSON("GET", sessionPath(args[0], "cart", "items"), nil, &out); err != nil {
				return err
			}
			for _, it := range out.Items {
				fmt.Fprintf(c.out, "%s\tproduct=%d variation=%d qty=%d\n", it.ItemKey, it.ProductID, it.VariationID, it.Quantity)
			}
			return nil
		},
	}
}

func qtyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qty <session> <item-key> <quantity>",
		Short: "Set the quantity of a cart line (0 removes it)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("quantity %q is not a number", args[2])
			}
			c := newAPIClient()
			var cv cartView
			if err := c.doJSON("PATCH", sessionPath(args[0], "cart", "items", args[1]), map[string]int{"quantity": n}, &cv); err != nil {
				return err
			}
			c.showCart("Quantity updated", cv)
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <session> <item-key>",
		Short: "Remove a cart line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var cv cartView
			if err := c.doJSON("DELETE", sessionPath(args[0], "cart", "items", args[1]), nil, &cv); err != nil {
				return err
			}
			c.showCart("Item removed", cv)
			return nil
		},
	}
}

func couponApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <session> <code>",
		Short: "Apply a coupon code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var cv cartView
			if err := c.doJSON("POST", sessionPath(args[0], "cart", "coupons"), map[string]string{"code": args[1]}, &cv); err != nil {
				return err
			}
			c.showCart("Coupon applied", cv)
			return nil
		},
	}
}

func couponRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <session> <code>",
		Short: "Remove a coupon code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var cv cartView
			if err := c.doJSON("DELETE", sessionPath(args[0], "cart", "coupons", args[1]), nil, &cv); err != nil {
				return err
			}
			c.showCart("Coupon removed", cv)
			return nil
		},
	}
}

func couponSyncCmd() *cobra.Command {
	var applied, desired []string
	cmd := &cobra.Command{
		Use:   "sync <session> --desired CODE[,CODE]",
		Short: "Bring the applied coupons to the desired set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var out struct {
				Applied []string `json:"applied"`
				Removed []string `json:"removed"`
				Cart    cartView `json:"cart"`
			}
			body := map[string][]string{"applied": applied, "desired": desired}
			if err := c.doJSON("PUT", sessionPath(args[0], "cart", "coupons"), body, &out); err != nil {
				return err
			}
			c.success("Coupons synced")
			fmt.Fprintf(c.out, "  Applied: %s\n  Removed: %s\n", strings.Join(out.Applied, ", "), strings.Join(out.Removed, ", "))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&applied, "applied", nil, "Codes currently applied")
	cmd.Flags().StringSliceVar(&desired, "desired", nil, "Codes that should be applied")
	return cmd
}

func noteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <session> <text>",
		Short: "Save the order note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var cv cartView
			if err := c.doJSON("PUT", sessionPath(args[0], "cart", "note"), map[string]string{"note": args[1]}, &cv); err != nil {
				return err
			}
			c.showCart("Note saved", cv)
			return nil
		},
	}
}

func panelCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "panel <session> open|close",
		Short:     "Open or close the cart panel",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"open", "close"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var open bool
			switch args[1] {
			case "open":
				open = true
			case "close":
			default:
				return fmt.Errorf("panel state must be open or close, got %q", args[1])
			}
			c := newAPIClient()
			var out struct {
				Open              bool `json:"open"`
				BackgroundRefresh bool `json:"background_refresh"`
			}
			if err := c.doJSON("POST", sessionPath(args[0], "panel"), map[string]bool{"open": open}, &out); err != nil {
				return err
			}
			c.success("Panel open=%t, background refresh allowed=%t", out.Open, out.BackgroundRefresh)
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <session>",
		Short: "Show the session's recent events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			var out struct {
				Events []struct {
					Name    string `json:"name"`
					Message string `json:"message"`
					At      string `json:"at"`
				} `json:"events"`
			}
			if err := c.doJSON("GET", sessionPath(args[0], "events"), nil, &out); err != nil {
				return err
			}
			for _, e := range out.Events {
				line := fmt.Sprintf("%s  %s", e.At, e.Name)
				if e.Message != "" {
					line += "  " + e.Message
				}
				fmt.Fprintln(c.out, line)
			}
			return nil
		},
	}
}

func documentCmd() *cobra.Command {
	var selector string
	cmd := &cobra.Command{
		Use:   "document <session>",
		Short: "Print the live document, or the elements matching --selector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newAPIClient()
			c.quiet = true
			path := sessionPath(args[0], "document")
			if selector == "" {
				data, err := c.do("GET", path, nil)
				if err != nil {
					return err
				}
				_, err = c.out.Write(data)
				return err
			}
			var out struct {
				Elements []string `json:"elements"`
			}
			if err := c.doJSON("GET", path+"?selector="+url.QueryEscape(selector), nil, &out); err != nil {
				return err
			}
			for _, el := range out.Elements {
				fmt.Fprintln(c.out, el)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector")
	return cmd
}

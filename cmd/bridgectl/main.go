// bridgectl is a CLI for exercising a running storefront bridge.
// Each command performs a single operation, making it composable for scripts.
//
// Examples:
//
//	ID=$(bridgectl session create --page /product/hoodie/ -q)
//	bridgectl resolve $ID 42 --attr pa_color=red --attr size=M
//	bridgectl add $ID 42 --qty 2
//	bridgectl coupon apply $ID SAVE10
//	bridgectl refresh $ID --force
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Global flags (apply to all commands)
var (
	bridgeURL  string
	quiet      bool
	noColor    bool
	verbose    bool
	stateValue string
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

var rootCmd = &cobra.Command{
	Use:           "bridgectl",
	Short:         "Drive a storefront bridge from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			disableColors()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&bridgeURL, "bridge", envOr("BRIDGE_URL", "http://localhost:8080"), "Bridge base URL")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Quiet mode - only print the essential value")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose - show full request/response")
	pf.StringVar(&stateValue, "state", "", `Storefront-State header, e.g. 'panel-open=?1, idle=30'`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// apiClient talks to the bridge's REST surface.
type apiClient struct {
	base  string
	http  *http.Client
	out   io.Writer
	state string
	quiet bool
}

func newAPIClient() *apiClient {
	return &apiClient{
		base:  strings.TrimSuffix(bridgeURL, "/"),
		http:  &http.Client{Timeout: 60 * time.Second},
		out:   os.Stdout,
		state: stateValue,
		quiet: quiet,
	}
}

// httpError is a non-2xx bridge response.
type httpError struct {
	Status int
	Code   string
	Msg    string
}

func (e *httpError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Msg)
}

// do sends a JSON request and returns the raw response body. A 204 yields a
// nil body.
func (c *apiClient) do(method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	var reqJSON []byte
	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.state != "" {
		req.Header.Set("Storefront-State", c.state)
	}

	if !c.quiet {
		c.printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !c.quiet {
		c.printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		herr := &httpError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(respBody))}
		var eb struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Redirect string `json:"redirect"`
		}
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Code != "" {
			herr.Code, herr.Msg = eb.Error.Code, eb.Error.Message
			if eb.Redirect != "" {
				herr.Msg += " (" + eb.Redirect + ")"
			}
		}
		return nil, herr
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return respBody, nil
}

// doJSON is do followed by decoding into out when the body is non-empty.
func (c *apiClient) doJSON(method, path string, body, out interface{}) error {
	data, err := c.do(method, path, body)
	if err != nil || data == nil || out == nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func (c *apiClient) printRequest(method, path string, body []byte) {
	fmt.Fprintf(c.out, "\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		c.printJSON(body, "  ")
	}
}

func (c *apiClient) printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Fprintf(c.out, "\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	if len(body) > 0 {
		c.printJSON(body, "  ")
	}
}

func (c *apiClient) printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Fprintf(c.out, "%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Fprintln(c.out, output)
}

func (c *apiClient) success(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.out, "%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func (c *apiClient) info(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(c.out, "%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func decode(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/switchboard-core/internal/api"
	"github.com/nerrad567/switchboard-core/internal/bridge"
)

const (
	defaultServerURL = "http://127.0.0.1:8470"
	serverEnvVar     = "SWITCHBOARD_SERVER"
	tokenEnvVar      = "SWITCHBOARD_TOKEN"

	clientTimeout = 10 * time.Second
)

// apiClient talks to the HTTP API of a running core.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// do sends a request to /api/v1{path} and decodes a 2xx JSON response into
// out. Error responses are returned as *api.Error when the body allows it.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only response body

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &api.Error{}
		if json.NewDecoder(resp.Body).Decode(apiErr) != nil || apiErr.Message == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type statusResult struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

func (c *apiClient) start(ctx context.Context, service string) (statusResult, error) {
	var res statusResult
	err := c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(service)+"/start", nil, &res)
	return res, err
}

func (c *apiClient) send(ctx context.Context, service string, body any) error {
	return c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(service)+"/send", body, nil)
}

func (c *apiClient) status(ctx context.Context, service string) (statusResult, error) {
	var res statusResult
	err := c.do(ctx, http.MethodGet, "/bridges/"+url.PathEscape(service)+"/status", nil, &res)
	return res, err
}

type autostartResult struct {
	Service   string `json:"service"`
	Autostart bool   `json:"autostart"`
}

func (c *apiClient) setAutostart(ctx context.Context, service string, enabled bool) (autostartResult, error) {
	var res autostartResult
	body := map[string]bool{"enabled": enabled}
	err := c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(service)+"/autostart", body, &res)
	return res, err
}

func (c *apiClient) list(ctx context.Context) ([]bridge.ServiceInfo, error) {
	var res struct {
		Bridges []bridge.ServiceInfo `json:"bridges"`
	}
	err := c.do(ctx, http.MethodGet, "/bridges", nil, &res)
	return res.Bridges, err
}

// clientOptions holds the connection flags of the bridge subcommands.
type clientOptions struct {
	server string
	token  string
}

func (o *clientOptions) client() *apiClient {
	return newAPIClient(o.server, o.token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newBridgeCmd() *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Control bridges on a running core",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr(serverEnvVar, defaultServerURL),
		"base URL of the core HTTP API (env "+serverEnvVar+")")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(tokenEnvVar),
		"bearer token, see \"switchboard token\" (env "+tokenEnvVar+")")

	cmd.AddCommand(
		newBridgeStartCmd(opts),
		newBridgeSendCmd(opts),
		newBridgeStatusCmd(opts),
		newBridgeListCmd(opts),
		newBridgeAutostartCmd(opts),
	)
	return cmd
}

func newBridgeStartCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <service>",
		Short: "Start supervising a bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().start(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Service, res.Status)
			return nil
		},
	}
}

func newBridgeSendCmd(opts *clientOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "send <service> <message>...",
		Short: "Send a command line to a running bridge",
		Long: `Send a command to a running bridge. The arguments are joined with spaces
and sent as the message text. With --json the single message argument must
be a JSON object and is forwarded as-is.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := sendBody(args[1:], raw)
			if err != nil {
				return err
			}
			if err := opts.client().send(cmd.Context(), args[0], body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "send the message argument as a raw JSON object")
	return cmd
}

// sendBody builds the request body for "bridge send".
func sendBody(args []string, raw bool) (any, error) {
	if !raw {
		return map[string]string{"message": strings.Join(args, " ")}, nil
	}
	if len(args) != 1 {
		return nil, errors.New("--json takes exactly one message argument")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args[0]), &obj); err != nil || obj == nil {
		return nil, errors.New("--json message must be a JSON object")
	}
	return json.RawMessage(args[0]), nil
}

func newBridgeStatusCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <service>",
		Short: "Show the connection status of a bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Status)
			return nil
		},
	}
}

func newBridgeAutostartCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "autostart <service> on|off",
		Short:     "Choose whether a bridge starts when the core boots",
		Long:      `Turn autostart on or off for a bridge that has been started at least once.`,
		Args:      cobra.ExactArgs(2), //nolint:mnd // service and state
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[1])
			if err != nil {
				return err
			}
			res, err := opts.client().setAutostart(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			state := "off"
			if res.Autostart {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: autostart %s\n", res.Service, state)
			return nil
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("autostart state must be on or off, got %q", s)
	}
}

func newBridgeListCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supervised bridges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bridges, err := opts.client().list(cmd.Context())
			if err != nil {
				return err
			}
			return printBridges(cmd.OutOrStdout(), bridges)
		},
	}
}

func printBridges(w io.Writer, bridges []bridge.ServiceInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0) //nolint:mnd // column padding
	fmt.Fprintln(tw, "SERVICE\tSTATUS\tPID\tRESTARTS\tUPTIME\tAUTOSTART")
	for _, b := range bridges {
		pid := "-"
		if b.PID > 0 {
			pid = fmt.Sprint(b.PID)
		}
		uptime := "-"
		if b.Uptime > 0 {
			uptime = b.Uptime.Truncate(time.Second).String()
		}
		autostart := "-"
		if b.Autostart != nil {
			autostart = "off"
			if *b.Autostart {
				autostart = "on"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", b.Service, b.Status, pid, b.Restarts, uptime, autostart)
	}
	return tw.Flush()
}

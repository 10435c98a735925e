// Package asksqlctl implements the asksql command line client for the HTTP API.
package asksqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/asksql/asksql/internal/auth"
)

// SecretPrompter asks the user for a secret without echoing it.
type SecretPrompter func(message string) (string, error)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
	// Keys opens the keyring lazily. Nil disables keyring lookups.
	Keys         func() (KeyStore, error)
	PromptSecret SecretPrompter
}

// commandError marks failures that happen after arguments were accepted.
type commandError struct {
	err error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func failed(format string, args ...any) error {
	return &commandError{err: fmt.Errorf(format, args...)}
}

// Run executes one CLI invocation and returns the process exit code:
// 0 on success, 1 when a command fails and 2 for usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	defaults.Stdout, defaults.Stderr = stdout, stderr

	root := newRootCommand(&defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	var cmdErr *commandError
	if errors.As(err, &cmdErr) {
		return 1
	}
	_, _ = fmt.Fprintln(stderr, root.UsageString())
	return 2
}

type cli struct {
	opts    *Options
	baseURL string
	apiKey  string
	timeout time.Duration
}

func newRootCommand(opts *Options) *cobra.Command {
	c := &cli{opts: opts}
	root := &cobra.Command{
		Use:           "asksql",
		Short:         "Ask questions about your database in natural language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "asksql API base URL")
	root.PersistentFlags().StringVar(&c.apiKey, "api-key", opts.APIKey, "LLM API key sent with each request")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", durationOr(opts.Timeout, 90*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		c.getCommand("health", "Check API liveness", "/v1/health"),
		c.getCommand("ready", "Check API readiness", "/v1/ready"),
		c.schemaCommand(),
		c.askCommand(),
		c.keyCommand(),
	)
	return root
}

func (c *cli) getCommand(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, body, err := c.request(cmd.Context(), http.MethodGet, path, nil, "", true)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), body)
			return nil
		},
	}
}

func (c *cli) client() *http.Client {
	if c.opts.HTTPClient != nil {
		return c.opts.HTTPClient
	}
	return &http.Client{Timeout: c.timeout}
}

// request sends one API call. With strict set, any status of 400 or above
// becomes a commandError carrying the server message.
func (c *cli) request(ctx context.Context, method, path string, payload any, apiKey string, strict bool) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, failed("encode request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, failed("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set(auth.HeaderAPIKey, key)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return 0, nil, failed("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, failed("read response: %v", err)
	}
	if strict && resp.StatusCode >= 400 {
		return resp.StatusCode, raw, failed("http %d: %s", resp.StatusCode, errorMessage(raw))
	}
	return resp.StatusCode, raw, nil
}

func errorMessage(raw []byte) string {
	var envelope struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != "" {
		if envelope.ErrorCode != "" {
			return envelope.ErrorCode + ": " + envelope.Message
		}
		return envelope.Message
	}
	return strings.TrimSpace(string(raw))
}

func printJSON(w io.Writer, raw []byte) {
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(w, string(raw))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

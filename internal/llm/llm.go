// Package llm sends rendered prompts to a hosted model and classifies its failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/asksql/asksql/internal/observability"
	"github.com/asksql/asksql/internal/prompt"
)

// Credential is the API key used for one request. Source records where it
// was resolved from and is only used for logging.
type Credential struct {
	APIKey string
	Source string
}

func (c Credential) Empty() bool {
	return strings.TrimSpace(c.APIKey) == ""
}

type GenerateRequest struct {
	System      string
	User        string
	Temperature float64
	TopP        float64
	APIKey      string
}

type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Check(ctx context.Context, apiKey string) error
	Name() string
	Model() string
}

// ParseFunc turns a raw completion into the stage output.
type ParseFunc func(raw string) (string, error)

type Options struct {
	Temperature float64
	TopP        float64
	Logger      *slog.Logger
}

type Client struct {
	provider    Provider
	prompts     *prompt.Set
	temperature float64
	topP        float64
	logger      *slog.Logger
}

func NewClient(provider Provider, prompts *prompt.Set, opts Options) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt set is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider:    provider,
		prompts:     prompts,
		temperature: opts.Temperature,
		topP:        opts.TopP,
		logger:      logger,
	}, nil
}

func (c *Client) Provider() string { return c.provider.Name() }

func (c *Client) Model() string { return c.provider.Model() }

// Complete renders the stage prompt, calls the provider and applies parse.
// Transient and malformed responses are retried once.
func (c *Client) Complete(ctx context.Context, stage prompt.Stage, vars any, cred Credential, parse ParseFunc) (string, error) {
	if cred.Empty() {
		return "", &AuthError{Err: ErrMissingCredential}
	}
	rendered, err := c.prompts.Render(stage, vars)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", stage, err)
	}
	req := GenerateRequest{
		System:      rendered.System,
		User:        rendered.User,
		Temperature: c.temperature,
		TopP:        c.topP,
		APIKey:      strings.TrimSpace(cred.APIKey),
	}
	if rendered.Temperature != nil {
		req.Temperature = *rendered.Temperature
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			observability.IncrementLLMRetry(string(stage))
		}
		started := time.Now()
		out, err := c.attempt(ctx, req, parse)
		observability.ObserveLLMCall(string(stage), err)
		if err == nil {
			return out, nil
		}
		lastErr = err
		c.logger.WarnContext(ctx, "llm call failed",
			"stage", stage,
			"attempt", attempt,
			"provider", c.provider.Name(),
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, req GenerateRequest, parse ParseFunc) (string, error) {
	raw, err := c.provider.Generate(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", &MalformedResponseError{Raw: raw, Err: errors.New("empty completion")}
	}
	if parse == nil {
		return strings.TrimSpace(raw), nil
	}
	out, err := parse(raw)
	if err != nil {
		return "", &MalformedResponseError{Raw: raw, Err: err}
	}
	return out, nil
}

// CheckCredential asks the provider whether the key is accepted.
func (c *Client) CheckCredential(ctx context.Context, cred Credential) error {
	if cred.Empty() {
		return &AuthError{Err: ErrMissingCredential}
	}
	if err := c.provider.Check(ctx, strings.TrimSpace(cred.APIKey)); err != nil {
		return classify(ctx, err)
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	var (
		authErr      *AuthError
		transientErr *TransientError
		malformedErr *MalformedResponseError
		serviceErr   *ServiceError
	)
	switch {
	case errors.As(err, &authErr), errors.As(err, &transientErr),
		errors.As(err, &malformedErr), errors.As(err, &serviceErr):
		return err
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == nil && errors.Is(err, context.Canceled):
		return &TransientError{Err: err}
	default:
		return &ServiceError{Err: err}
	}
}

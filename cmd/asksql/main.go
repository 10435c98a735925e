package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asksql/asksql/internal/cli/asksqlctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	options := asksqlctl.Options{
		BaseURL:      envOr("ASKSQL_API_URL", "http://localhost:5010"),
		APIKey:       strings.TrimSpace(os.Getenv("ASKSQL_LLM_API_KEY")),
		Timeout:      parseDurationWithDefault(strings.TrimSpace(os.Getenv("ASKSQL_CLI_TIMEOUT")), 90*time.Second),
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Keys:         asksqlctl.OpenKeyring,
		PromptSecret: asksqlctl.PromptPassword,
	}

	code := asksqlctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid ASKSQL_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}

// Package auth resolves the LLM credential used for each request.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/asksql/asksql/internal/llm"
	"github.com/asksql/asksql/internal/session"
)

const (
	HeaderAPIKey = "X-LLM-API-Key"

	SourceHeader  = "header"
	SourceSession = "session"
	SourceConfig  = "config"
)

// SessionReader is the part of the session store the resolver needs.
type SessionReader interface {
	APIKey(r *http.Request) (string, error)
}

// Resolver picks a credential from the request header, then the session
// cookie, then the configured fallback key.
type Resolver struct {
	sessions SessionReader
	fallback string
}

func NewResolver(sessions SessionReader, fallbackKey string) *Resolver {
	return &Resolver{sessions: sessions, fallback: strings.TrimSpace(fallbackKey)}
}

// Resolve returns the credential for r. A broken session cookie is reported
// alongside the next credential in line so callers can clear it.
func (res *Resolver) Resolve(r *http.Request) (llm.Credential, error) {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return llm.Credential{APIKey: key, Source: SourceHeader}, nil
	}

	var sessionErr error
	if res.sessions != nil {
		key, err := res.sessions.APIKey(r)
		switch {
		case err == nil && strings.TrimSpace(key) != "":
			return llm.Credential{APIKey: strings.TrimSpace(key), Source: SourceSession}, nil
		case err != nil && !errors.Is(err, session.ErrNoSession):
			sessionErr = err
		}
	}

	if res.fallback != "" {
		return llm.Credential{APIKey: res.fallback, Source: SourceConfig}, sessionErr
	}
	return llm.Credential{}, sessionErr
}

package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/asksql/asksql/internal/llm"
)

type contextKey string

const credentialKey contextKey = "llm_credential"

func WithCredential(ctx context.Context, cred llm.Credential) context.Context {
	return context.WithValue(ctx, credentialKey, cred)
}

func CredentialFromContext(ctx context.Context) (llm.Credential, bool) {
	cred, ok := ctx.Value(credentialKey).(llm.Credential)
	return cred, ok
}

// Middleware stores the resolved credential in the request context. It never
// rejects a request; a missing credential is reported by the handler that needs it.
func Middleware(logger *slog.Logger, resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := resolver.Resolve(r)
			if err != nil && logger != nil {
				logger.WarnContext(r.Context(), "ignoring unreadable session cookie",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
		})
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/asksql/asksql/internal/auth"
	"github.com/asksql/asksql/internal/config"
	"github.com/asksql/asksql/internal/nl2sql"
	"github.com/asksql/asksql/internal/present"
	"github.com/asksql/asksql/internal/web"
)

const maxAskBodyBytes = 64 << 10

type askRequest struct {
	Question string `json:"question"`
	Query    string `json:"query"`
	Debug    *bool  `json:"debug"`
}

func handleAsk(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request, html bool) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	if html && deps.Pages == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PAGES_NOT_CONFIGURED", "html pages are not configured", false, nil)
		return
	}

	req, err := decodeAskRequest(w, r, html)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, nl2sql.CodeQuestionRequired, "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	debug := cfg.Pipeline.Debug
	if req.Debug != nil {
		debug = *req.Debug
	}
	cred, _ := auth.CredentialFromContext(r.Context())

	ctx := r.Context()
	if cfg.Pipeline.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.RequestTimeout)
		defer cancel()
	}
	bundle := deps.Pipeline.Ask(ctx, nl2sql.Request{
		Question:   req.question(),
		Credential: cred,
		Debug:      debug,
	})
	view := present.Format(bundle)
	status := statusForCode(view.ErrorCode)

	if view.ErrorCode == nl2sql.CodeCredentialInvalid && cred.Source == auth.SourceSession && deps.Sessions != nil {
		deps.Sessions.Clear(w)
	}

	if !html {
		writeJSON(w, status, view)
		return
	}
	writePage(w, r, status, func(out io.Writer) error {
		return deps.Pages.RenderResult(out, view)
	})
}

func handleIndex(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pages == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PAGES_NOT_CONFIGURED", "html pages are not configured", false, nil)
		return
	}
	cred, _ := auth.CredentialFromContext(r.Context())
	data := web.IndexData{HasCredential: !cred.Empty()}
	if deps.Schema != nil {
		data.Tables = deps.Schema.Tables()
	}
	writePage(w, r, http.StatusOK, func(out io.Writer) error {
		return deps.Pages.RenderIndex(out, data)
	})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema descriptor is not loaded", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Schema)
}

func decodeAskRequest(w http.ResponseWriter, r *http.Request, form bool) (askRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if form {
		if err := r.ParseForm(); err != nil {
			return askRequest{}, err
		}
		req := askRequest{Query: r.PostFormValue("query"), Question: r.PostFormValue("question")}
		if raw := r.PostFormValue("debug"); raw != "" {
			debug, err := strconv.ParseBool(raw)
			if err != nil {
				return askRequest{}, err
			}
			req.Debug = &debug
		}
		return req, nil
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return askRequest{}, err
	}
	return req, nil
}

func (a askRequest) question() string {
	if strings.TrimSpace(a.Question) != "" {
		return a.Question
	}
	return a.Query
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func statusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case nl2sql.CodeQuestionRequired:
		return http.StatusBadRequest
	case nl2sql.CodeCredentialMissing, nl2sql.CodeCredentialInvalid:
		return http.StatusUnauthorized
	case nl2sql.CodeLLMService:
		return http.StatusBadGateway
	case nl2sql.CodeSchemaMismatch, nl2sql.CodeStatementRejected, nl2sql.CodeExecutionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writePage(w http.ResponseWriter, r *http.Request, status int, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RENDER_FAILED", "failed to render page", false, map[string]any{"details": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/asksql/asksql/internal/llm"
)

const maxCredentialBodyBytes = 4 << 10

type credentialRequest struct {
	GeminiAPIKey string `json:"gemini_api_key"`
}

func handleValidateKey(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Credentials == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "LLM_NOT_CONFIGURED", "llm client is not configured", false, nil)
		return
	}
	key, ok := decodeCredential(w, r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "message": "API key is required"})
		return
	}

	err := deps.Credentials.CheckCredential(r.Context(), llm.Credential{APIKey: key, Source: "validate"})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "API key is valid"})
	case llm.IsAuth(err):
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "message": "Invalid API key"})
	default:
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "api key validation failed", "error", err)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"valid": false, "message": "Could not validate the API key: " + err.Error()})
	}
}

func handleSaveKey(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	key, ok := decodeCredential(w, r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "API key is required"})
		return
	}
	if err := deps.Sessions.SaveAPIKey(w, key); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_WRITE_FAILED", "failed to store the API key", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API key saved for this session"})
}

func handleClearKey(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	deps.Sessions.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "API key removed from this session"})
}

func decodeCredential(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCredentialBodyBytes)
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	key := strings.TrimSpace(req.GeminiAPIKey)
	return key, key != ""
}

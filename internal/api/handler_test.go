package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/asksql/asksql/internal/auth"
	"github.com/asksql/asksql/internal/config"
	"github.com/asksql/asksql/internal/llm"
	"github.com/asksql/asksql/internal/nl2sql"
	"github.com/asksql/asksql/internal/query"
	"github.com/asksql/asksql/internal/schema"
	"github.com/asksql/asksql/internal/session"
	"github.com/asksql/asksql/internal/sqlcheck"
	"github.com/asksql/asksql/internal/web"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckArchiveConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	if err := CheckArchiveConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("disabled archive error = %v", err)
	}
	cfg.Archive.Enabled = true
	cfg.Archive.Endpoint = ""
	if err := CheckArchiveConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestAskJSONUsesHeaderCredential(t *testing.T) {
	asker := &fakeAsker{bundle: nl2sql.Bundle{
		RunID:          "run-1",
		UserQuery:      "customers in casablanca",
		CorrectedQuery: "customers in Casablanca",
		GeneratedSQL:   "SELECT name FROM customers WHERE city = 'Casablanca';",
		ColumnNames:    []string{"name"},
		QueryResults:   [][]any{{"Amina"}, {"Karim"}},
	}}
	h := newTestHandler(t, asker, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"customers in casablanca"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAPIKey, "header-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if asker.last.Credential != (llm.Credential{APIKey: "header-key", Source: auth.SourceHeader}) {
		t.Fatalf("credential = %+v", asker.last.Credential)
	}
	if !asker.last.Debug {
		t.Fatal("debug should default to the configured value")
	}
	body := decodeBody(t, rr)
	if body["corrected_query"] != "customers in Casablanca" || body["error"] != nil {
		t.Fatalf("body = %v", body)
	}
	if diff := cmp.Diff([]any{[]any{"Amina"}, []any{"Karim"}}, body["query_results"]); diff != "" {
		t.Fatalf("query_results mismatch (-want +got):\n%s", diff)
	}
}

func TestAskMapsErrorsToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&nl2sql.ValidationError{Err: nl2sql.ErrEmptyQuestion}, http.StatusBadRequest, "QUESTION_REQUIRED"},
		{&nl2sql.CredentialError{Missing: true}, http.StatusUnauthorized, "CREDENTIAL_MISSING"},
		{&nl2sql.CredentialError{Err: errors.New("API_KEY_INVALID")}, http.StatusUnauthorized, "CREDENTIAL_INVALID"},
		{&nl2sql.LLMServiceError{Stage: "sql", Err: errors.New("boom")}, http.StatusBadGateway, "LLM_SERVICE_ERROR"},
		{&sqlcheck.SchemaMismatchError{UnknownColumns: []string{"email"}}, http.StatusUnprocessableEntity, "SCHEMA_MISMATCH"},
		{&query.RejectedStatementError{Keyword: "DELETE", Reason: "write"}, http.StatusUnprocessableEntity, "STATEMENT_REJECTED"},
		{&query.ExecutionError{Err: errors.New("relation does not exist")}, http.StatusUnprocessableEntity, "EXECUTION_FAILED"},
		{errors.New("unexpected"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		h := newTestHandler(t, &fakeAsker{bundle: nl2sql.Bundle{UserQuery: "q", Err: tc.err}}, nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("%T status = %d, want %d", tc.err, rr.Code, tc.status)
		}
		body := decodeBody(t, rr)
		if body["error_code"] != tc.code {
			t.Fatalf("%T error_code = %v, want %s", tc.err, body["error_code"], tc.code)
		}
		if body["query_results"] != nil {
			t.Fatalf("%T query_results = %v", tc.err, body["query_results"])
		}
	}
}

func TestAskRejectsMalformedBody(t *testing.T) {
	asker := &fakeAsker{}
	h := newTestHandler(t, asker, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if asker.calls != 0 {
		t.Fatalf("pipeline calls = %d", asker.calls)
	}
}

func TestAskFormRendersResultPage(t *testing.T) {
	asker := &fakeAsker{bundle: nl2sql.Bundle{
		UserQuery:    "list products",
		GeneratedSQL: "SELECT name FROM products;",
		ColumnNames:  []string{"name"},
		QueryResults: [][]any{{"Mint tea"}},
	}}
	h := newTestHandler(t, asker, nil)

	form := url.Values{"query": {"list products"}, "debug": {"false"}}
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(auth.HeaderAPIKey, "k")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "<td>Mint tea</td>") {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if asker.last.Question != "list products" || asker.last.Debug {
		t.Fatalf("request = %+v", asker.last)
	}
}

func TestAskWithJSONContentTypeReturnsJSON(t *testing.T) {
	h := newTestHandler(t, &fakeAsker{bundle: nl2sql.Bundle{UserQuery: "q", ColumnNames: []string{}, QueryResults: [][]any{}}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"query":"q","debug":false}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestSavedKeyIsUsedAndInvalidKeyClearsSession(t *testing.T) {
	asker := &fakeAsker{bundle: nl2sql.Bundle{UserQuery: "q", Err: &nl2sql.CredentialError{Err: errors.New("API_KEY_INVALID")}}}
	h := newTestHandler(t, asker, nil)

	save := httptest.NewRequest(http.MethodPost, "/save-api-keys", strings.NewReader(`{"gemini_api_key":"saved-key"}`))
	saveResp := httptest.NewRecorder()
	h.ServeHTTP(saveResp, save)
	if saveResp.Code != http.StatusOK {
		t.Fatalf("save status = %d", saveResp.Code)
	}
	if body := decodeBody(t, saveResp); body["success"] != true {
		t.Fatalf("save body = %v", body)
	}
	cookies := saveResp.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d", len(cookies))
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`))
	req.AddCookie(cookies[0])
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if asker.last.Credential != (llm.Credential{APIKey: "saved-key", Source: auth.SourceSession}) {
		t.Fatalf("credential = %+v", asker.last.Credential)
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("session cookie not cleared: %+v", cleared)
	}
}

func TestClearCredentials(t *testing.T) {
	h := newTestHandler(t, &fakeAsker{}, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/credentials", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("cookies = %+v", cookies)
	}
}

func TestValidateAPIKey(t *testing.T) {
	checker := &fakeChecker{}
	h := newTestHandler(t, &fakeAsker{}, checker)

	cases := []struct {
		path   string
		body   string
		err    error
		status int
		valid  bool
	}{
		{"/validate-api-key", `{"gemini_api_key":"good"}`, nil, http.StatusOK, true},
		{"/v1/credentials/validate", `{"gemini_api_key":"bad"}`, &llm.AuthError{StatusCode: 400, Err: errors.New("API_KEY_INVALID")}, http.StatusOK, false},
		{"/validate-api-key", `{"gemini_api_key":"k"}`, &llm.TransientError{StatusCode: 503, Err: errors.New("unavailable")}, http.StatusBadGateway, false},
		{"/validate-api-key", `{"gemini_api_key":"  "}`, nil, http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		checker.err = tc.err
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
		if rr.Code != tc.status {
			t.Fatalf("%s %s status = %d, want %d", tc.path, tc.body, rr.Code, tc.status)
		}
		body := decodeBody(t, rr)
		if body["valid"] != tc.valid {
			t.Fatalf("%s %s body = %v", tc.path, tc.body, body)
		}
	}
	if checker.last != "k" {
		t.Fatalf("last checked key = %q", checker.last)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	h := newTestHandler(t, &fakeAsker{}, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Tables []schema.Table `json:"tables"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body.Tables) != 1 || body.Tables[0].Name != "customers" {
		t.Fatalf("tables = %+v", body.Tables)
	}
}

func TestIndexPage(t *testing.T) {
	h := newTestHandler(t, &fakeAsker{}, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<strong>customers</strong>") {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("static status = %d", rr.Code)
	}
}

func TestAskWithoutPipelineIsNotImplemented(t *testing.T) {
	h := NewHandler(loadTestConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

type fakeAsker struct {
	bundle nl2sql.Bundle
	last   nl2sql.Request
	calls  int
}

func (f *fakeAsker) Ask(_ context.Context, req nl2sql.Request) nl2sql.Bundle {
	f.calls++
	f.last = req
	return f.bundle
}

type fakeChecker struct {
	err  error
	last string
}

func (f *fakeChecker) CheckCredential(_ context.Context, cred llm.Credential) error {
	f.last = cred.APIKey
	return f.err
}

func newTestHandler(t *testing.T, asker Asker, checker CredentialChecker) http.Handler {
	t.Helper()
	cfg := loadTestConfig(t)
	sessions, err := session.NewStore(cfg.Session)
	if err != nil {
		t.Fatalf("session.NewStore() error = %v", err)
	}
	pages, err := web.LoadPages()
	if err != nil {
		t.Fatalf("web.LoadPages() error = %v", err)
	}
	deps := Dependencies{
		Pipeline: asker,
		Schema: schema.New([]schema.Table{
			{Name: "customers", Columns: []schema.Column{{Name: "name", Type: "text"}, {Name: "city", Type: "text"}}},
		}),
		Sessions: sessions,
		Resolver: auth.NewResolver(sessions, ""),
		Pages:    pages,
	}
	if checker != nil {
		deps.Credentials = checker
	}
	return NewHandler(cfg, deps)
}

func loadTestConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("asksql-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v body=%s", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/ledger"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc := ledger.NewService(memory.New(), nil, ledger.DefaultConfig())
	s := NewServer(":0", svc)
	t.Cleanup(func() { s.rateLimiter.stop() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set(tenantHeader, tenant)
	}
	req.Header.Set(actorHeader, "tester")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func seedCategory(t *testing.T, s *Server, tenant, id, direction string) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/categories", tenant,
		`{"id":"`+id+`","name":"`+id+`","direction":"`+direction+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed category: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
}

func TestCreateEntry(t *testing.T) {
	s := newTestServer(t)
	seedCategory(t, s, "acme", "cat-sales", "CREDIT")

	rec := doJSON(t, s, http.MethodPost, "/api/entries", "acme",
		`{"category_id":"cat-sales","occurred_at":"2025-03-10","amount":"150.50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	e := decode[entryDTO](t, rec)
	if e.ID == "" {
		t.Error("entry ID must be assigned")
	}
	if e.Credit != "150.50" || e.Debit != "0.00" {
		t.Errorf("credit/debit = %s/%s, want 150.50/0.00", e.Credit, e.Debit)
	}
	if e.Balance != "150.50" {
		t.Errorf("balance = %s, want 150.50", e.Balance)
	}
	if e.Status != "ACTIVE" {
		t.Errorf("status = %s, want ACTIVE", e.Status)
	}
}

func TestCreateEntry_Errors(t *testing.T) {
	s := newTestServer(t)
	seedCategory(t, s, "acme", "cat-sales", "CREDIT")

	tests := []struct {
		name       string
		tenant     string
		body       string
		wantStatus int
	}{
		{
			name:       "missing tenant header",
			body:       `{"category_id":"cat-sales","occurred_at":"2025-03-10","amount":"10"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown category",
			tenant:     "acme",
			body:       `{"category_id":"nope","occurred_at":"2025-03-10","amount":"10"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "negative amount",
			tenant:     "acme",
			body:       `{"category_id":"cat-sales","occurred_at":"2025-03-10","amount":"-10"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "bad date",
			tenant:     "acme",
			body:       `{"category_id":"cat-sales","occurred_at":"10/03/2025","amount":"10"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			tenant:     "acme",
			body:       `{"category_id":`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/entries", tt.tenant, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCancelEntry(t *testing.T) {
	s := newTestServer(t)
	seedCategory(t, s, "acme", "cat-rent", "DEBIT")

	rec := doJSON(t, s, http.MethodPost, "/api/entries", "acme",
		`{"category_id":"cat-rent","occurred_at":"2025-02-01","amount":"900"}`)
	created := decode[entryDTO](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/api/entries/"+created.ID+"/cancel", "acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decode[map[string]entryDTO](t, rec)
	if result["cancelled"].Status != "CANCELLED" {
		t.Errorf("cancelled status = %s", result["cancelled"].Status)
	}
	if result["reversal"].Credit != "900.00" {
		t.Errorf("reversal credit = %s, want 900.00", result["reversal"].Credit)
	}

	// Second cancel conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/entries/"+created.ID+"/cancel", "acme", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat cancel status = %d, want 409", rec.Code)
	}

	// Cross-tenant access is a 404, never a leak.
	rec = doJSON(t, s, http.MethodGet, "/api/entries/"+created.ID, "globex", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant status = %d, want 404", rec.Code)
	}
}

func TestRecategorizeEntry_DirectionMismatch(t *testing.T) {
	s := newTestServer(t)
	seedCategory(t, s, "acme", "cat-rent", "DEBIT")
	seedCategory(t, s, "acme", "cat-sales", "CREDIT")

	rec := doJSON(t, s, http.MethodPost, "/api/entries", "acme",
		`{"category_id":"cat-rent","occurred_at":"2025-02-01","amount":"50"}`)
	created := decode[entryDTO](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/api/entries/"+created.ID+"/category", "acme",
		`{"category_id":"cat-sales"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestAnchorEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/anchors", "acme",
		`{"year":2025,"effective_month":1,"amount":"-250.00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("set anchor status = %d, body %s", rec.Code, rec.Body.String())
	}
	a := decode[anchorDTO](t, rec)
	if a.Amount != "-250.00" {
		t.Errorf("anchor amount = %s, want -250.00", a.Amount)
	}

	// One anchor per tenant-year.
	rec = doJSON(t, s, http.MethodPost, "/api/anchors", "acme",
		`{"year":2025,"effective_month":6,"amount":"0"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate anchor status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/anchors/resolve?year=2025&month=3", "acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body %s", rec.Code, rec.Body.String())
	}
	resolved := decode[resolvedAnchorDTO](t, rec)
	if resolved.Source != string(core.AnchorExplicit) || resolved.Amount != "-250.00" {
		t.Errorf("resolved = %+v", resolved)
	}

	// No anchor anywhere for this tenant.
	rec = doJSON(t, s, http.MethodGet, "/api/anchors/resolve?year=2025&month=3", "globex", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("resolve without anchor status = %d, want 404", rec.Code)
	}
}

func TestBalanceAndStatement(t *testing.T) {
	s := newTestServer(t)
	seedCategory(t, s, "acme", "cat-sales", "CREDIT")
	seedCategory(t, s, "acme", "cat-rent", "DEBIT")

	doJSON(t, s, http.MethodPost, "/api/anchors", "acme",
		`{"year":2025,"effective_month":1,"amount":"1000"}`)
	doJSON(t, s, http.MethodPost, "/api/entries", "acme",
		`{"category_id":"cat-sales","occurred_at":"2025-01-10","amount":"500"}`)
	doJSON(t, s, http.MethodPost, "/api/entries", "acme",
		`{"category_id":"cat-rent","occurred_at":"2025-01-20","amount":"200"}`)

	rec := doJSON(t, s, http.MethodGet, "/api/balance?year=2025&month=1", "acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, body %s", rec.Code, rec.Body.String())
	}
	b := decode[balanceDTO](t, rec)
	if b.Amount != "1300.00" {
		t.Errorf("balance = %s, want 1300.00", b.Amount)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/statement?year=2025&month=1", "acme", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("statement status = %d, body %s", rec.Code, rec.Body.String())
	}
	stmt := decode[statementDTO](t, rec)
	if stmt.Opening != "1000.00" || stmt.Closing != "1300.00" {
		t.Errorf("opening/closing = %s/%s, want 1000.00/1300.00", stmt.Opening, stmt.Closing)
	}
	if stmt.TotalDebit != "200.00" || stmt.TotalCredit != "500.00" {
		t.Errorf("totals = %s/%s", stmt.TotalDebit, stmt.TotalCredit)
	}
	if len(stmt.Entries) != 2 || len(stmt.ByCategory) != 2 {
		t.Errorf("entries = %d, categories = %d", len(stmt.Entries), len(stmt.ByCategory))
	}

	rec = doJSON(t, s, http.MethodGet, "/api/balance?year=2025&month=13", "acme", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("month 13 status = %d, want 400", rec.Code)
	}
}

func TestListCategories(t *testing.T) {
	s := newTestServer(t)
	seedCategory(t, s, "acme", "cat-sales", "CREDIT")
	seedCategory(t, s, "globex", "cat-rent", "DEBIT")

	rec := doJSON(t, s, http.MethodGet, "/api/categories", "acme", "")
	cats := decode[[]categoryDTO](t, rec)
	if len(cats) != 1 || cats[0].ID != "cat-sales" {
		t.Fatalf("categories = %+v, want only cat-sales", cats)
	}
}

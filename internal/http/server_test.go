package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellbooks/internal/core"
	"wellbooks/internal/services"
	"wellbooks/internal/storage/memory"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	srv := NewServer(":0", store, nil, opts...)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, store
}

// seedAccount creates the 1000 / +500 / -200 account used across the tests.
func seedAccount(t *testing.T, store *memory.Store) core.Account {
	t.Helper()
	ctx := context.Background()
	acct := core.Account{
		ID:             "acct-1",
		Name:           "Operating",
		AccountType:    core.Checking,
		Status:         core.Active,
		InitialBalance: decimal.NewFromInt(1000),
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateAccount(ctx, acct))
	for i, tx := range []struct {
		amount int64
		at     time.Time
	}{
		{500, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{-200, time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)},
	} {
		_, err := store.RecordTransaction(ctx, core.Transaction{
			ID:        "tx-" + string(rune('a'+i)),
			AccountID: acct.ID,
			Amount:    decimal.NewFromInt(tx.amount),
			Timestamp: tx.at,
			CreatedAt: tx.at,
		})
		require.NoError(t, err)
	}
	return acct
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	}

	ready := decode[map[string]any](t, do(t, srv, http.MethodGet, "/readyz", ""))
	assert.Equal(t, "ready", ready["status"])
}

type downStore struct{ *memory.Store }

func (downStore) Ping(context.Context) error { return errors.New("database is locked") }

func TestReadyReportsStoreFailure(t *testing.T) {
	srv := NewServer(":0", downStore{memory.New()}, nil)
	t.Cleanup(func() { _ = srv.Close() })

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "database is locked")
}

func TestSecurityAndTraceHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := do(t, srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(rr.Header().Get("X-Request-ID"), "req_"))
}

func TestBalanceEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
	}{
		{"before any transaction", "/api/accounts/acct-1/balance?as_of=2024-01-10", http.StatusOK, "1000.00"},
		{"end of january", "/api/accounts/acct-1/balance?as_of=2024-01-31", http.StatusOK, "1500.00"},
		{"mid february", "/api/accounts/acct-1/balance?as_of=2024-02-15", http.StatusOK, "1300.00"},
		{"defaults to today", "/api/accounts/acct-1/balance", http.StatusOK, "1300.00"},
		{"before creation", "/api/accounts/acct-1/balance?as_of=2023-12-31", http.StatusUnprocessableEntity, ""},
		{"malformed date", "/api/accounts/acct-1/balance?as_of=31-01-2024", http.StatusBadRequest, ""},
		{"unknown account", "/api/accounts/nope/balance?as_of=2024-01-31", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				body := decode[map[string]string](t, rr)
				assert.NotEmpty(t, body["error"])
				return
			}
			body := decode[map[string]string](t, rr)
			assert.Equal(t, "acct-1", body["account_id"])
			assert.Equal(t, tt.wantBody, body["balance"])
		})
	}
}

func TestTrendEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)

	rr := do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends?years=1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))

	assert.True(t, strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "["), rr.Body.String())
	body := decode[[]trendYearResponse](t, rr)
	require.Len(t, body, 1)
	assert.Equal(t, 2024, body[0].Year)
	require.Len(t, body[0].MonthlyData, 3)
	assert.Equal(t, "1500.00", body[0].MonthlyData[0].Amount)
	assert.Equal(t, "1300.00", body[0].MonthlyData[1].Amount)
	assert.Equal(t, "1300.00", body[0].MonthlyData[2].Amount)

	rr = do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends?years=1", "")
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	cached := decode[[]trendYearResponse](t, rr)
	assert.Equal(t, body, cached)

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends?years=4", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends?years=two", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/accounts/nope/trends", "").Code)
}

func TestRecordTransactionInvalidatesTrendCache(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends?years=1", "").Code)

	rr := do(t, srv, http.MethodPost, "/api/transactions",
		`{"account_id":"acct-1","amount":"-50.00","timestamp":"2024-03-01T08:00:00Z","description":"fee"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends?years=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	body := decode[[]trendYearResponse](t, rr)
	require.Len(t, body, 1)
	assert.Equal(t, "1250.00", body[0].MonthlyData[2].Amount)
}

func TestTrendCacheDisabled(t *testing.T) {
	srv, store := newTestServer(t, WithTrendCache(0, 0))
	seedAccount(t, store)

	do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends", "")
	rr := do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends", "")
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
}

func TestCreateAndGetAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/accounts",
		`{"name":"  Savings  ","account_type":"Savings","initial_balance":"250,5","created_at":"2024-02-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	created := decode[accountResponse](t, rr)
	assert.Equal(t, "Savings", created.Name)
	assert.Equal(t, "savings", created.AccountType)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "250.50", created.InitialBalance)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), created.CreatedAt)
	assert.Equal(t, "/api/accounts/"+created.ID, rr.Header().Get("Location"))

	rr = do(t, srv, http.MethodGet, "/api/accounts/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.ID, decode[accountResponse](t, rr).ID)

	list := decode[map[string][]accountResponse](t, do(t, srv, http.MethodGet, "/api/accounts", ""))
	assert.Len(t, list["accounts"], 1)
}

func TestCreateAccountDefaultsCreationToNow(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/accounts", `{"name":"Cash","initial_balance":0}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[accountResponse](t, rr)
	assert.Equal(t, fixedNow, created.CreatedAt)
	assert.Equal(t, "checking", created.AccountType)
	assert.Equal(t, "0.00", created.InitialBalance)
}

func TestCreateAccountErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty name", `{"name":"  "}`, http.StatusUnprocessableEntity},
		{"bad type", `{"name":"x","account_type":"crypto"}`, http.StatusUnprocessableEntity},
		{"bad balance", `{"name":"x","initial_balance":"abc"}`, http.StatusUnprocessableEntity},
		{"bad created_at", `{"name":"x","created_at":"yesterday"}`, http.StatusBadRequest},
		{"unknown field", `{"name":"x","owner":"me"}`, http.StatusBadRequest},
		{"not json", `name=x`, http.StatusBadRequest},
		{"trailing data", `{"name":"x"}{"name":"y"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/accounts", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rr)["error"])
		})
	}
}

func TestRecordTransactionErrors(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing account", `{"amount":"10"}`, http.StatusUnprocessableEntity},
		{"unknown account", `{"account_id":"nope","amount":"10"}`, http.StatusNotFound},
		{"zero amount", `{"account_id":"acct-1","amount":"0"}`, http.StatusUnprocessableEntity},
		{"before account creation", `{"account_id":"acct-1","amount":"10","timestamp":"2023-06-01"}`, http.StatusUnprocessableEntity},
		{"bad timestamp", `{"account_id":"acct-1","amount":"10","timestamp":"soon"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/transactions", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestBackdatedTransactionThroughAPI(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)

	gen := services.NewSnapshotGenerator(store, store, store)
	_, err := gen.Run(context.Background(), fixedNow)
	require.NoError(t, err)

	snaps := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/accounts/acct-1/snapshots", ""))
	require.Len(t, snaps["snapshots"], 1)

	rr := do(t, srv, http.MethodPost, "/api/transactions",
		`{"account_id":"acct-1","amount":75,"timestamp":"2024-01-20"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	resp := decode[recordTransactionResponse](t, rr)
	assert.Equal(t, 1, resp.InvalidatedSnapshots)
	assert.Equal(t, "75.00", resp.Transaction.Amount)

	bal := decode[map[string]string](t, do(t, srv, http.MethodGet, "/api/accounts/acct-1/balance?as_of=2024-02-29", ""))
	assert.Equal(t, "1375.00", bal["balance"])

	txs := decode[map[string]any](t, do(t, srv, http.MethodGet, "/api/accounts/acct-1/transactions", ""))
	assert.Len(t, txs["transactions"], 3)
}

func TestListEndpointsUnknownAccount(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/api/accounts/nope", "/api/accounts/nope/snapshots", "/api/accounts/nope/transactions"} {
		assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, path, "").Code, path)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)
	rr := do(t, srv, http.MethodPost, "/api/transactions",
		`{"account_id":"acct-1","amount":"-30","timestamp":"2024-02-10T15:00:00Z","property_id":"well-7","company_id":"acme"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	type listBody struct {
		Transactions []transactionResponse `json:"transactions"`
		Total        string                `json:"total"`
	}

	tests := []struct {
		name      string
		query     string
		wantCount int
		wantTotal string
	}{
		{"all", "", 3, "270.00"},
		{"january", "?from=2024-01-01&to=2024-01-31", 1, "500.00"},
		{"to is inclusive", "?to=2024-02-10", 3, "270.00"},
		{"from only", "?from=2024-02-01", 2, "-230.00"},
		{"property", "?property_id=well-7", 1, "-30.00"},
		{"company and range", "?company_id=acme&from=2024-03-01", 0, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/accounts/acct-1/transactions"+tt.query, "")
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			body := decode[listBody](t, rr)
			assert.Len(t, body.Transactions, tt.wantCount)
			assert.Equal(t, tt.wantTotal, body.Total)
		})
	}

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/accounts/acct-1/transactions?from=march", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodGet, "/api/accounts/acct-1/transactions?from=2024-03-01&to=2024-02-01", "").Code)
}

func TestListAccountsFilters(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)
	rr := do(t, srv, http.MethodPost, "/api/accounts",
		`{"name":"Reserve","account_type":"savings","bank_name":"First Bank","initial_balance":"50","created_at":"2024-02-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?type=savings", 1},
		{"?type=Checking", 1},
		{"?status=inactive", 0},
		{"?bank=First%20Bank", 1},
		{"?status=active&type=credit", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/accounts"+tt.query, "")
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Len(t, decode[map[string][]accountResponse](t, rr)["accounts"], tt.want)
		})
	}

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodGet, "/api/accounts?status=closed", "").Code)
}

func TestTotalBalanceEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)
	rr := do(t, srv, http.MethodPost, "/api/accounts",
		`{"name":"Reserve","account_type":"savings","initial_balance":"50","created_at":"2024-02-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	tests := []struct {
		name     string
		query    string
		want     string
		accounts int
	}{
		{"today", "", "1350.00", 2},
		{"before reserve opened", "?as_of=2024-01-31", "1500.00", 1},
		{"savings only", "?type=savings", "50.00", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/balances"+tt.query, "")
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			body := decode[totalBalanceResponse](t, rr)
			assert.Equal(t, tt.want, body.Total)
			assert.Len(t, body.Accounts, tt.accounts)
		})
	}

	body := decode[totalBalanceResponse](t, do(t, srv, http.MethodGet, "/api/balances?as_of=2024-02-29", ""))
	assert.Equal(t, "2024-02-29", body.AsOf.String())

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/balances?as_of=soon", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, srv, http.MethodGet, "/api/balances?type=loan", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := do(t, srv, http.MethodDelete, "/api/accounts", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWriteRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, WithWriteRateLimit(2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, srv, http.MethodPost, "/api/accounts", `{"name":"acct"}`).Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)

	// reads are not limited
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/accounts", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seedAccount(t, store)
	do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends", "")
	do(t, srv, http.MethodGet, "/api/accounts/acct-1/trends", "")

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "trend_cache_hits_total 1")
	assert.Contains(t, rr.Body.String(), "trend_cache_misses_total 1")
	assert.Contains(t, rr.Body.String(), "http_requests_total 2")
}

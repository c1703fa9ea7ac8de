package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"count-backend/internal/auth"
	"count-backend/internal/cache"
	"count-backend/internal/handlers"
	"count-backend/internal/health"
	"count-backend/internal/middleware"
	"count-backend/internal/models"
	"count-backend/internal/services"
	"count-backend/internal/testutil"
	"count-backend/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	companyID  = 1
	counterA   = 10
	counterB   = 11
	operatorID = 90
)

type stubHealth struct{ status string }

func (s stubHealth) CheckBasic(ctx context.Context) health.HealthStatus {
	return health.HealthStatus{Status: s.status}
}

type server struct {
	t      *testing.T
	router *mux.Router
	store  *testutil.MemStore
	tokens map[int]string
	logs   *observer.ObservedLogs // report handler output
}

func newServer(t *testing.T, healthStatus string) *server {
	t.Helper()
	clock := testutil.NewFakeClock()
	store := testutil.NewMemStore(clock)
	store.AddSector(models.Sector{ID: 1, CompanyID: companyID, Name: "Cold room A", IsActive: true})
	store.AddProduct(models.Product{ID: 1, CompanyID: companyID, SKU: "P-001", Name: "Potatoes", SystemStock: decimal.NewFromInt(10)})
	store.AddProduct(models.Product{ID: 2, CompanyID: companyID, SKU: "P-002", Name: "Onions", SystemStock: decimal.NewFromInt(5)})

	users := []models.User{
		{ID: counterA, Name: "Ana", Role: models.RoleCounter, IsActive: true},
		{ID: counterB, Name: "Ben", Role: models.RoleCounter, IsActive: true},
		{ID: operatorID, Name: "Olga", Role: models.RoleOperator, IsActive: true},
	}
	for _, u := range users {
		store.AddUser(u)
	}

	logger := zap.NewNop()
	cycles := services.NewInventoryCycleService(store, store, clock, logger)
	counts := services.NewSectorCountService(store, store, cycles, cache.NewConsolidationCache(nil, 0, logger), clock, logger)
	reports := services.NewReportService(counts, cycles, nil, clock, logger)

	core, logs := observer.New(zap.WarnLevel)
	jwtManager := auth.NewJWTManager("test-secret", "count-backend", clock)
	router := NewRouter(
		handlers.NewCycleHandler(cycles),
		handlers.NewSectorCountHandler(counts),
		handlers.NewReportHandler(reports, zap.New(core)),
		handlers.NewHealthHandler(stubHealth{status: healthStatus}),
		middleware.NewAuthMiddleware(jwtManager, store, logger),
		logger,
	)

	s := &server{t: t, router: router, store: store, tokens: map[int]string{}, logs: logs}
	for i := range users {
		token, err := jwtManager.GenerateToken(&users[i], time.Hour)
		require.NoError(t, err)
		s.tokens[users[i].ID] = token
	}
	return s
}

func (s *server) do(method, path string, userID int, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	if token, ok := s.tokens[userID]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// startAssigned starts a cycle and assigns both counters to its only sector
func (s *server) startAssigned() int {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/cycles", operatorID, models.StartCycleRequest{CompanyID: companyID})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	cycle := decode[models.InventoryCycle](s.t, rec)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/cycles/%d/sectors", cycle.ID), counterA, nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	sectors := decode[[]models.SectorCount](s.t, rec)
	require.Len(s.t, sectors, 1)

	id := sectors[0].ID
	rec = s.do(http.MethodPut, fmt.Sprintf("/api/sector-counts/%d/assignees", id), operatorID,
		models.AssignUsersRequest{UserAID: counterA, UserBID: counterB})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func (s *server) submit(id, userID, productID int, qty string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, fmt.Sprintf("/api/sector-counts/%d/entries", id), userID,
		models.SubmitCountRequest{ProductID: productID, Quantity: decimal.RequireFromString(qty)})
}

func TestCountingWorkflowOverHTTP(t *testing.T) {
	s := newServer(t, "healthy")
	id := s.startAssigned()
	base := fmt.Sprintf("/api/sector-counts/%d", id)

	rec := s.do(http.MethodPost, base+"/start", counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.SectorInProgress, decode[models.SectorCount](t, rec).Status)

	for _, userID := range []int{counterA, counterB} {
		require.Equal(t, http.StatusCreated, s.submit(id, userID, 1, "10").Code)
		require.Equal(t, http.StatusCreated, s.submit(id, userID, 2, "5").Code)
	}

	// counters cannot see the other side before both finalize
	rec = s.do(http.MethodGet, base+"/comparison", counterA, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, base+"/finalize", counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.OutcomeAwaitingVerification, decode[services.FinalizeResult](t, rec).Outcome)

	rec = s.do(http.MethodPost, base+"/finalize", counterA, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[utils.ErrorBody](t, rec)
	assert.Equal(t, string(services.KindInvalidTransition), body.Code)
	assert.Equal(t, id, body.SectorCountID)

	rec = s.do(http.MethodPost, base+"/finalize", counterB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.OutcomeCompleted, decode[services.FinalizeResult](t, rec).Outcome)

	rec = s.do(http.MethodGet, base+"/comparison", counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[services.ComparisonView](t, rec)
	assert.False(t, view.HasDifferences)
	assert.Len(t, view.Rows, 2)

	rec = s.do(http.MethodGet, base+"/round", counterB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"sector_count_id":%d,"round":0}`, id), rec.Body.String())

	rec = s.do(http.MethodGet, base+"/report.pdf", operatorID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "variance.pdf")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestRecountRoundOverHTTP(t *testing.T) {
	s := newServer(t, "healthy")
	id := s.startAssigned()
	base := fmt.Sprintf("/api/sector-counts/%d", id)

	s.submit(id, counterA, 1, "10")
	s.submit(id, counterB, 1, "10")
	s.submit(id, counterA, 2, "5")
	s.submit(id, counterB, 2, "4")
	s.do(http.MethodPost, base+"/finalize", counterA, nil)
	rec := s.do(http.MethodPost, base+"/finalize", counterB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[services.FinalizeResult](t, rec)
	assert.Equal(t, services.OutcomeWithDifferences, res.Outcome)
	assert.Equal(t, []int{2}, res.DifferingProducts)

	rec = s.do(http.MethodGet, base+"/differences", operatorID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	diffs := decode[[]services.ProductDifference](t, rec)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].TotalUserB.Equal(decimal.NewFromInt(4)))

	// counters learn which products to recount, not the numbers
	rec = s.do(http.MethodGet, base+"/differences", counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"product_id":2,"classification":"MISMATCH"}]`, rec.Body.String())

	rec = s.submit(id, counterA, 1, "11")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(services.KindProductNotInRecountScope), decode[utils.ErrorBody](t, rec).Code)

	rec = s.submit(id, counterA, 2, "0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.submit(id, counterA, 2, "6")
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decode[services.SubmitResult](t, rec).Entry
	require.NotNil(t, entry)
	assert.True(t, entry.QuantityUserA.Decimal.Equal(decimal.NewFromInt(6)))
	assert.False(t, entry.QuantityUserB.Valid, "working row keeps B's number but the response does not")

	rec = s.do(http.MethodGet, base+"/comparison", counterB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[services.ComparisonView](t, rec)
	require.Len(t, view.Rows, 2)
	assert.False(t, view.Rows[0].OtherHidden)
	assert.True(t, view.Rows[1].OtherHidden)
	assert.True(t, view.Rows[1].TotalUserA.IsZero(), "A's recount is not shown to B")
	assert.True(t, view.Rows[1].TotalUserB.Equal(decimal.NewFromInt(4)))

	rec = s.do(http.MethodGet, base+"/my-counts", counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ModeRecount, decode[services.UserCountsView](t, rec).Mode)

	rec = s.do(http.MethodGet, base+"/progress", counterB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[services.ProgressView](t, rec).Round)

	rec = s.do(http.MethodPost, base+"/finalize-recount", counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.OutcomeAwaitingVerification, decode[services.FinalizeResult](t, rec).Outcome)

	require.Equal(t, http.StatusCreated, s.submit(id, counterB, 2, "6").Code)
	rec = s.do(http.MethodPost, base+"/finalize-recount", counterB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.OutcomeCompleted, decode[services.FinalizeResult](t, rec).Outcome)
}

func TestOperatorRoutes(t *testing.T) {
	s := newServer(t, "healthy")

	rec := s.do(http.MethodPost, "/api/cycles", counterA, models.StartCycleRequest{CompanyID: companyID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	id := s.startAssigned()
	base := fmt.Sprintf("/api/sector-counts/%d", id)

	rec = s.do(http.MethodPost, "/api/cycles", operatorID, models.StartCycleRequest{CompanyID: companyID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(services.KindAlreadyActiveCycle), decode[utils.ErrorBody](t, rec).Code)

	// only a sector waiting on verification or recount can be forced
	rec = s.do(http.MethodPost, base+"/force-complete", operatorID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, http.StatusCreated, s.submit(id, counterA, 1, "10").Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/finalize", counterA, nil).Code)

	rec = s.do(http.MethodPost, base+"/force-complete", counterA, models.ForceCompleteRequest{Reason: "done"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, base+"/force-complete", operatorID, models.ForceCompleteRequest{Reason: "stock audit closed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sc := decode[models.SectorCount](t, rec)
	assert.Equal(t, models.SectorCompleted, sc.Status)
	require.NotNil(t, sc.ForceReason)
	assert.Equal(t, "stock audit closed", *sc.ForceReason)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/cycles/%d", sc.CycleID), counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CycleCompleted, decode[models.InventoryCycle](t, rec).Status)

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/cycles/%d/cancel", sc.CycleID), operatorID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAssignSectorJoinedAfterStart(t *testing.T) {
	s := newServer(t, "healthy")
	id := s.startAssigned()
	rec := s.do(http.MethodGet, fmt.Sprintf("/api/sector-counts/%d", id), operatorID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cycleID := decode[models.SectorCount](t, rec).CycleID

	s.store.AddSector(models.Sector{ID: 2, CompanyID: companyID, Name: "Cold room B", IsActive: true})
	path := fmt.Sprintf("/api/cycles/%d/sectors/2/assignees", cycleID)
	body := models.AssignUsersRequest{UserAID: counterB, UserBID: counterA}

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPut, path, counterA, body).Code)

	rec = s.do(http.MethodPut, path, operatorID, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[models.SectorCount](t, rec)
	assert.NotEqual(t, id, created.ID)
	assert.Equal(t, 2, created.SectorID)
	assert.Equal(t, models.SectorPending, created.Status)
	require.NotNil(t, created.UserAID)
	assert.Equal(t, counterB, *created.UserAID)

	// the second call finds the same sector count
	rec = s.do(http.MethodPut, path, operatorID, models.AssignUsersRequest{UserAID: counterA, UserBID: counterB})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[models.SectorCount](t, rec)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, counterA, *again.UserAID)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/cycles/%d/sectors", cycleID), counterA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.SectorCount](t, rec), 2)

	rec = s.do(http.MethodPut, fmt.Sprintf("/api/cycles/%d/sectors/404/assignees", cycleID), operatorID, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodPut, fmt.Sprintf("/api/cycles/%d/sectors/abc/assignees", cycleID), operatorID, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPut, path, operatorID, models.AssignUsersRequest{UserAID: counterA, UserBID: counterA})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// brokenWriter accepts headers but fails every body write
type brokenWriter struct {
	header http.Header
	code   int
}

func (w *brokenWriter) Header() http.Header         { return w.header }
func (w *brokenWriter) WriteHeader(code int)        { w.code = code }
func (w *brokenWriter) Write(b []byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestReportWriteFailureIsLogged(t *testing.T) {
	s := newServer(t, "healthy")
	id := s.startAssigned()
	require.Equal(t, http.StatusCreated, s.submit(id, counterA, 1, "10").Code)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/sector-counts/%d/report.pdf", id), nil)
	req.Header.Set("Authorization", "Bearer "+s.tokens[operatorID])
	w := &brokenWriter{header: http.Header{}}
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "application/pdf", w.header.Get("Content-Type"))
	entries := s.logs.FilterMessage("failed to write variance report").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(id), entries[0].ContextMap()["sector_count_id"])
	assert.Equal(t, "connection reset by peer", entries[0].ContextMap()["error"])
}

func TestRequestValidation(t *testing.T) {
	s := newServer(t, "healthy")

	tests := []struct {
		name   string
		method string
		path   string
		user   int
		want   int
	}{
		{"no token", http.MethodGet, "/api/cycles/1", 0, http.StatusUnauthorized},
		{"bad cycle id", http.MethodGet, "/api/cycles/abc", counterA, http.StatusBadRequest},
		{"zero sector id", http.MethodGet, "/api/sector-counts/0/progress", counterA, http.StatusBadRequest},
		{"unknown cycle", http.MethodGet, "/api/cycles/404", counterA, http.StatusNotFound},
		{"unknown sector", http.MethodPost, "/api/sector-counts/404/finalize", counterA, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.user, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/cycles", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+s.tokens[operatorID])
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, "healthy")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", 0, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health/ready", 0, nil).Code)

	rec := s.do(http.MethodGet, "/metrics", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	down := newServer(t, "unhealthy")
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/health/ready", 0, nil).Code)
}

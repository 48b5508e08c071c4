package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/interceptor"
	"github.com/mealhelper/tracelog/internal/middleware"
	"github.com/mealhelper/tracelog/internal/model"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
	"github.com/mealhelper/tracelog/internal/repository"
	"github.com/mealhelper/tracelog/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	audit  *service.AuditService
	repo   *repository.MemoryAuditRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prev := logger.Get()
	logger.Set(logger.New("debug", &buf))
	t.Cleanup(func() { logger.Set(prev) })

	repo := repository.NewMemoryAuditRepo(1000)
	audit := service.NewAuditService(service.AuditOptions{Workers: 2, QueueSize: 100}, repo)
	t.Cleanup(func() { _ = audit.Close(context.Background()) })
	ic := interceptor.New(audit)

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(&bytes.Buffer{}), middleware.TraceMiddleware(), middleware.ErrorHandler())
	api := r.Group("/api")
	writes := api.Group("")
	writes.Use(middleware.IdempotencyMiddleware(middleware.NewInMemIdempotencyStore(time.Hour)))
	NewMealHandler(service.NewMealService(ic), ic).Register(writes)
	NewAuditHandler(audit, ic).Register(api)

	return &testServer{router: r, audit: audit, repo: repo}
}

func (s *testServer) do(method, path, user string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// flush waits for the async writes queued so far.
func (s *testServer) flush(t *testing.T, want int) []*model.AuditRecord {
	t.Helper()
	var records []*model.AuditRecord
	require.Eventually(t, func() bool {
		records, _ = s.repo.Recent(context.Background(), 1000)
		return len(records) >= want
	}, 2*time.Second, 10*time.Millisecond)
	return records
}

func TestMealFlowIsAudited(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/meals", "alice", map[string]any{"name": "oatmeal", "calories": 350})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var meal model.Meal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meal))
	assert.Equal(t, "alice", meal.UserID)
	traceID := w.Header().Get(middleware.HeaderTraceID)

	// service and controller layer each audit the call
	records := s.flush(t, 2)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, traceID, r.TraceID)
		assert.Equal(t, "alice", r.UserID)
		assert.Equal(t, "MEAL", r.BusinessType)
		assert.Equal(t, "CREATE", r.OperationType)
		assert.Equal(t, model.StatusSuccess, r.Status)
		assert.Equal(t, "handler-test", r.UserAgent)
		assert.Equal(t, "Meal Management", r.ModuleName)
	}
	names := []string{records[0].MethodName, records[1].MethodName}
	assert.ElementsMatch(t, []string{"MealService.Create", "MealHandler.Create"}, names)
}

func TestMealNotFoundIsFailedRecord(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/meals/nope", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	records := s.flush(t, 2)
	for _, r := range records {
		assert.Equal(t, model.StatusFailed, r.Status)
		assert.Equal(t, "meal not found", r.ExceptionInfo)
	}
}

func TestMealCreateValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/meals", "", map[string]any{"calories": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFailedCreateIsNotReplayed(t *testing.T) {
	s := newTestServer(t)

	post := func(name string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(map[string]any{"name": name, "calories": 100})
		req := httptest.NewRequest(http.MethodPost, "/api/meals", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, "frank")
		req.Header.Set(middleware.HeaderIdempotencyKey, "retry-1")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		w := post("")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
		assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	}

	// the key is still free for a corrected retry
	w := post("porridge")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	replay := post("porridge")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, w.Body.String(), replay.Body.String())
}

func TestMealDeleteAndSummary(t *testing.T) {
	s := newTestServer(t)

	for _, cal := range []int{200, 400} {
		w := s.do(http.MethodPost, "/api/meals", "carol", map[string]any{"name": "snack", "calories": cal})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(http.MethodGet, "/api/meals/summary", "carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary model.NutritionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Meals)
	assert.Equal(t, 600, summary.TotalCalories)
	assert.Equal(t, 300, summary.AvgCalories)

	w = s.do(http.MethodGet, "/api/meals", "carol", nil)
	var meals []model.Meal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meals))
	require.Len(t, meals, 2)

	w = s.do(http.MethodDelete, "/api/meals/"+meals[0].ID, "carol", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/api/meals/"+meals[0].ID, "carol", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditQueryRoutes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.audit.LogException(ctx, "dave", "Job.run", errors.New("boom"))
	}
	for _, bt := range []model.BusinessType{model.BusinessMeal, model.BusinessMeal, model.BusinessRAG, model.BusinessAuth, model.BusinessAuth} {
		s.audit.LogBusinessOperation(ctx, "dave", bt, model.OperationQuery, "Svc.Do", "{}", "", 5, model.StatusSuccess)
	}
	s.flush(t, 8)

	w := s.do(http.MethodGet, "/api/logs/statistics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"errorCount":3,"businessTypeStats":{"SYSTEM":3,"MEAL":2,"RAG":1,"AUTH":2}}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/logs/user/dave?page=0&size=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page model.Page[*model.AuditRecord]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(8), page.Total)
	assert.Len(t, page.Items, 5)

	w = s.do(http.MethodGet, "/api/logs/business/meal", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var meal []*model.AuditRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meal))
	assert.Len(t, meal, 2)

	w = s.do(http.MethodGet, "/api/logs/business/LUNCH", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/logs/user/dave?size=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/logs/user/dave?page=100000000000000000&size=100", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")

	w = s.do(http.MethodGet, "/api/logs/recent?limit=4", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var recent []*model.AuditRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recent))
	assert.Len(t, recent, 4)
}

func TestAuditListBetween(t *testing.T) {
	s := newTestServer(t)
	s.audit.LogBusinessOperation(context.Background(), "erin", model.BusinessSync, model.OperationUpdate, "Sync.Pull", "{}", "", 1, model.StatusSuccess)
	s.flush(t, 1)

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	w := s.do(http.MethodGet, "/api/logs?from="+from, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []*model.AuditRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	w = s.do(http.MethodGet, "/api/logs?from=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/logs?from=2000&to=1000", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())

	got, err = parseTime("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	_, err = parseTime("soon")
	assert.Error(t, err)
}

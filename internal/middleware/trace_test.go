package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/pkg/apperrors"
	"github.com/mealhelper/tracelog/internal/pkg/clientmeta"
	"github.com/mealhelper/tracelog/internal/pkg/logger"
	"github.com/mealhelper/tracelog/internal/pkg/tracectx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.Get()
	logger.Set(logger.New("debug", &buf))
	t.Cleanup(func() { logger.Set(prev) })
	return &buf
}

func TestTraceMiddlewareBindsAndClears(t *testing.T) {
	buf := captureLogs(t)

	var handlerCtx context.Context
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		handlerCtx = c.Request.Context()
		id, ok := tracectx.TraceID(handlerCtx)
		require.True(t, ok)
		user, _ := tracectx.UserID(handlerCtx)
		meta, _ := clientmeta.FromContext(handlerCtx)
		c.JSON(http.StatusOK, gin.H{"trace": id, "user": user, "ip": meta.IP})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderUserID, "u-9")
	req.Header.Set(clientmeta.HeaderForwardedFor, "1.2.3.4, 5.6.7.8")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, w.Header().Get(HeaderTraceID), body["trace"])
	assert.Len(t, body["trace"], 32)
	assert.Equal(t, "u-9", body["user"])
	assert.Equal(t, "1.2.3.4", body["ip"])

	_, ok := tracectx.TraceID(handlerCtx)
	assert.False(t, ok, "trace must be cleared once the request is done")

	// request line precedes response line, both carry the trace id
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	var first, last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, "Request started", first["msg"])
	assert.Equal(t, body["trace"], first["trace_id"])
	found := false
	for _, l := range lines {
		if strings.Contains(l, `"msg":"Request completed"`) {
			found = true
			assert.Contains(t, l, `"status":200`)
		}
	}
	assert.True(t, found)
}

func TestTraceMiddlewareClearsOnPanic(t *testing.T) {
	captureLogs(t)

	var handlerCtx context.Context
	r := gin.New()
	r.Use(gin.RecoveryWithWriter(&bytes.Buffer{}))
	r.Use(TraceMiddleware())
	r.GET("/boom", func(c *gin.Context) {
		handlerCtx = c.Request.Context()
		panic("handler exploded")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, handlerCtx)
	_, ok := tracectx.TraceID(handlerCtx)
	assert.False(t, ok)
}

func TestTraceMiddlewareNoCrossRequestLeakage(t *testing.T) {
	captureLogs(t)

	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/work", func(c *gin.Context) {
		ctx := c.Request.Context()
		before, _ := tracectx.TraceID(ctx)
		time.Sleep(2 * time.Millisecond)
		after, _ := tracectx.TraceID(ctx)
		if before != after {
			c.String(http.StatusConflict, "changed")
			return
		}
		c.String(http.StatusOK, after)
	})

	const n = 100
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/work", nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, w.Header().Get(HeaderTraceID), w.Body.String())
			_, dup := seen.LoadOrStore(w.Body.String(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}

func TestErrorHandlerRendersAppError(t *testing.T) {
	captureLogs(t)

	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("meal not found"))
	})
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("db exploded"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":"NOT_FOUND","message":"meal not found"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestTraceMiddlewareLogsRenderedErrorStatus(t *testing.T) {
	buf := captureLogs(t)

	r := gin.New()
	r.Use(TraceMiddleware(), ErrorHandler())
	r.GET("/meals/:id", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("meal not found"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/meals/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	traceID := w.Header().Get(HeaderTraceID)
	require.NotEmpty(t, traceID)

	var completed, warned map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &entry))
		switch entry["msg"] {
		case "Request completed":
			completed = entry
		case "meal not found":
			warned = entry
		}
	}
	require.NotNil(t, completed)
	require.NotNil(t, warned)
	assert.EqualValues(t, http.StatusNotFound, completed["status"])
	assert.Equal(t, "WARN", warned["level"])
	assert.Equal(t, traceID, warned["trace_id"])
}

func TestRateLimitMiddleware(t *testing.T) {
	captureLogs(t)

	limiter := NewIPRateLimiter(1, 2)
	r := gin.New()
	r.Use(TraceMiddleware(), ErrorHandler(), RateLimitMiddleware(limiter))
	r.GET("/q", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/q", nil)
		req.Header.Set(clientmeta.HeaderForwardedFor, ip)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, hit("9.9.9.9"))
	assert.Equal(t, http.StatusNoContent, hit("9.9.9.9"))
	assert.Equal(t, http.StatusTooManyRequests, hit("9.9.9.9"))
	// another client has its own bucket
	assert.Equal(t, http.StatusNoContent, hit("8.8.8.8"))
}

func TestIPRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Now()
	l := NewIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, l.Allow("b"))

	l.mu.Lock()
	_, kept := l.clients["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestRateLimitDisabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(NewIPRateLimiter(0, 0)))
	r.GET("/q", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/q", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

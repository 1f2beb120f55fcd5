package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/healthgate/internal/middleware"
	"github.com/aman-churiwal/healthgate/internal/ratelimit"
	"github.com/aman-churiwal/healthgate/internal/service"
	"github.com/aman-churiwal/healthgate/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newFacade(t *testing.T, opts ratelimit.Options) *ratelimit.Facade {
	t.Helper()
	f, err := ratelimit.New(opts)
	require.NoError(t, err)
	return f
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestRateLimit_BlocksWithLimiterResponse(t *testing.T) {
	reg, err := ratelimit.DefaultRegistry().Override(ratelimit.FetchURL, 2, time.Minute)
	require.NoError(t, err)
	f := newFacade(t, ratelimit.Options{Registry: reg})

	r := gin.New()
	r.POST("/fetch", middleware.RateLimit(f, ratelimit.FetchURL, middleware.ByClientIP), ok)

	newReq := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/fetch", nil)
		req.Header.Set("X-Forwarded-For", ip)
		return req
	}

	for range 2 {
		assert.Equal(t, http.StatusOK, serve(r, newReq("203.0.113.1")).Code)
	}

	w := serve(r, newReq("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get(ratelimit.HeaderLimit))
	assert.Equal(t, "0", w.Header().Get(ratelimit.HeaderRemaining))
	assert.NotEmpty(t, w.Header().Get(ratelimit.HeaderRetryAfter))

	var body ratelimit.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body.Error)
	assert.Equal(t, w.Header().Get(ratelimit.HeaderRetryAfter), jsonInt(body.RetryAfter))

	// another address has its own quota
	assert.Equal(t, http.StatusOK, serve(r, newReq("203.0.113.2")).Code)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRateLimit_PerUser(t *testing.T) {
	reg, err := ratelimit.DefaultRegistry().Override(ratelimit.Email, 1, time.Hour)
	require.NoError(t, err)
	f := newFacade(t, ratelimit.Options{Registry: reg})

	r := gin.New()
	r.POST("/email", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.GetHeader("X-Test-User"))
		c.Next()
	}, middleware.RateLimit(f, ratelimit.Email, middleware.ByUser), ok)

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/email", nil)
		req.Header.Set("X-Test-User", user)
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"))
}

func TestRateLimitHeaders_SetOnAdmittedResponses(t *testing.T) {
	f := newFacade(t, ratelimit.Options{})

	r := gin.New()
	r.GET("/api/x", middleware.RateLimitHeaders(f, ratelimit.API, nil), ok)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get(ratelimit.HeaderLimit))
	assert.Equal(t, "99", w.Header().Get(ratelimit.HeaderRemaining))
	assert.NotEmpty(t, w.Header().Get(ratelimit.HeaderReset))
	assert.Empty(t, w.Header().Get(ratelimit.HeaderRetryAfter))
}

func TestRateLimitHeaders_InnerCategoryOverridesOuterHeaders(t *testing.T) {
	reg, err := ratelimit.DefaultRegistry().Override(ratelimit.AdminGrantRole, 1, time.Hour)
	require.NoError(t, err)
	f := newFacade(t, ratelimit.Options{Registry: reg})

	r := gin.New()
	api := r.Group("/api", middleware.RateLimitHeaders(f, ratelimit.API, nil))
	api.POST("/grant", middleware.RateLimit(f, ratelimit.AdminGrantRole, nil), ok)

	require.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/api/grant", nil)).Code)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/api/grant", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, []string{"1"}, w.Header().Values(ratelimit.HeaderLimit))
	assert.Equal(t, []string{"0"}, w.Header().Values(ratelimit.HeaderRemaining))
}

func TestRateLimit_FailsOpenWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	f := newFacade(t, ratelimit.Options{Redis: storage.NewRedisFromClient(client)})
	mr.Close()

	r := gin.New()
	r.POST("/fetch", middleware.RateLimit(f, ratelimit.FetchURL, nil), ok)
	r.GET("/api/x", middleware.RateLimitHeaders(f, ratelimit.API, nil), ok)

	for range 3 {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodPost, "/fetch", nil)).Code)
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(ratelimit.HeaderLimit))
}

func TestRecovery_ReturnsJSON500AndLogs(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(zap.New(core)))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, w.Body.String())

	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, w.Header().Get(middleware.HeaderRequestID), entries[0].ContextMap()["request_id"])
}

func TestRequestID_KeepsOrAssigns(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middleware.ContextRequestID))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.HeaderRequestID, "abc-123")
	w := serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, "abc-123", w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(middleware.HeaderRequestID), 36)
}

func TestLogger_LogsRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(zap.New(core)))
	r.GET("/ping", ok)
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ping", entries[0].ContextMap()["path"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestRequireAuthAndRole(t *testing.T) {
	tokens := service.NewTokenService("test-secret", time.Hour)
	adminToken, err := tokens.Issue("u-admin", "admin@example.com", "admin")
	require.NoError(t, err)
	userToken, err := tokens.Issue("u-1", "user@example.com", "user")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/admin", middleware.RequireAuth(tokens), middleware.RequireRole("admin"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middleware.ContextUserID))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong role", "Bearer " + userToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "u-admin", w.Body.String())
			}
		})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestCorrelationIDGenerated(t *testing.T) {
	router := newRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))

	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = GetCorrelationID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	echoed := w.Header().Get(CorrelationIDHeader)
	assert.Equal(t, seen, echoed)
	_, err := uuid.Parse(echoed)
	assert.NoError(t, err)
}

func TestCorrelationIDPreserved(t *testing.T) {
	router := newRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get(CorrelationIDHeader))
}

func TestGetLoggerFallback(t *testing.T) {
	fallback := zap.NewNop()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Same(t, fallback, GetLogger(c, fallback))
}

func TestErrorHandlingRecoversPanic(t *testing.T) {
	router := newRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(ErrorHandlingMiddleware(zap.NewNop()))
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	router := newRouter()
	router.Use(MetricsMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	var captured string
	router.GET("/x", func(c *gin.Context) {
		captured = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDEchoesIncomingHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get(RequestIDHeader))
}

func TestGetRequestIDReturnsEmptyWhenUnset(t *testing.T) {
	router := gin.New()
	var captured string
	router.GET("/x", func(c *gin.Context) {
		captured = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, captured)
}

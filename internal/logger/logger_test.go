package logger

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelbot/internal/config"
)

func TestSetupRejectsBadConfig(t *testing.T) {
	_, err := Setup(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = Setup(config.LogConfig{Output: "file"})
	assert.Error(t, err)

	_, err = Setup(config.LogConfig{Output: "syslog"})
	assert.Error(t, err)
}

func TestSetupFileOutput(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "travelbot.log")
	closer, err := Setup(config.LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path})
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get(RequestIDHeader))
}

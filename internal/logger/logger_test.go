package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestRequestLoggerWritesOneJSONLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "prod", "info")

	e := echo.New()
	e.Use(RequestLogger(l))
	e.GET("/v1/sessions/:id", func(c echo.Context) error {
		c.Set("user_id", "p-1")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "/v1/sessions/:id", line["path"])
	assert.Equal(t, float64(404), line["status"])
	assert.Equal(t, "p-1", line["patron_id"])
}

func TestRequestLoggerHandlesReturnedErrors(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "dev", "debug")

	e := echo.New()
	e.Use(RequestLogger(l))
	e.GET("/boom", func(c echo.Context) error { return echo.ErrServiceUnavailable })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=503")
}

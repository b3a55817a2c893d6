package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kudos/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(), Error())
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newRouter()
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("installation not found", nil))
	})

	w := serve(r, "/missing")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":{"code":"not_found","message":"installation not found","details":null}}`, w.Body.String())
}

func TestErrorHidesInternalCause(t *testing.T) {
	r := newRouter()
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
	})

	w := serve(r, "/boom")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection refused")
}

func TestErrorLeavesWrittenResponses(t *testing.T) {
	r := newRouter()
	r.GET("/written", func(c *gin.Context) {
		c.String(http.StatusTeapot, "short and stout")
		_ = c.Error(errors.New("late"))
	})

	w := serve(r, "/written")
	require.Equal(t, http.StatusTeapot, w.Code)
	require.Equal(t, "short and stout", w.Body.String())
}

func TestLoggerRecordsRoute(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := newRouter()
	r.GET("/v1/workspaces/:workspace_id/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
	serve(r, "/v1/workspaces/W1/stats")

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/v1/workspaces/:workspace_id/stats", fields["route"])
	require.EqualValues(t, http.StatusOK, fields["status"])
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"kudos/pkg/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type backlogMock struct {
	BacklogFunc func(ctx context.Context) (int64, error)
}

func (m *backlogMock) Backlog(ctx context.Context) (int64, error) {
	return m.BacklogFunc(ctx)
}

func get(t *testing.T, h HealthService, path string) (*httptest.ResponseRecorder, Health) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestLiveness(t *testing.T) {
	w, body := get(t, ProvideHealth(HealthParams{}), "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, statusHealthy, body.Status)
}

func TestReadinessReportsBacklog(t *testing.T) {
	h := ProvideHealth(HealthParams{
		DB:      testutil.NewTestDB(t),
		Backlog: &backlogMock{BacklogFunc: func(context.Context) (int64, error) { return 7, nil }},
	})

	w, body := get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body.Deps, 2)
	require.Equal(t, "sqlite", body.Deps[0].Name)
	require.Equal(t, Dependency{Name: "outbox", Status: statusHealthy, Message: "backlog 7"}, body.Deps[1])
}

func TestReadinessIgnoresBacklogErrors(t *testing.T) {
	h := ProvideHealth(HealthParams{
		Backlog: &backlogMock{BacklogFunc: func(context.Context) (int64, error) { return 0, errors.New("locked") }},
	})

	w, body := get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, statusUnhealthy, body.Deps[0].Status)
}

func TestReadinessFailsWhenDatabaseIsDown(t *testing.T) {
	db := testutil.NewTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w, body := get(t, ProvideHealth(HealthParams{DB: db}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, statusUnhealthy, body.Status)
}

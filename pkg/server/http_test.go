package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"kudos/pkg/config"
	"kudos/pkg/health"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestEngineServesHealthAndMetrics(t *testing.T) {
	r := NewEngine(&config.Config{AppEnv: "test"}, health.ProvideHealth(health.HealthParams{}))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestNewHttpServerRequiresCertWhenTLSEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.TLS.Enable = true
	cfg.TLS.CertPath = "/nonexistent/tls.crt"
	cfg.TLS.KeyPath = "/nonexistent/tls.key"

	_, err := NewHttpServer(Params{Config: cfg, Engine: NewEngine(cfg, health.ProvideHealth(health.HealthParams{}))})
	require.ErrorContains(t, err, "load TLS cert")
}

func TestNewHttpServerAddr(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "9090"

	srv, err := NewHttpServer(Params{Config: cfg, Engine: NewEngine(cfg, health.ProvideHealth(health.HealthParams{}))})
	require.NoError(t, err)
	require.Equal(t, ":9090", srv.Addr())
}

package http_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	httpadapter "github.com/couchcryptid/climate-prep-etl/internal/adapter/http"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubReadiness struct {
	err error
}

func (s stubReadiness) CheckReadiness(context.Context) error { return s.err }

func newServer(addr string, readyErr error) *httpadapter.Server {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsForTesting()
	reg.MustRegister(metrics.RastersWritten)
	metrics.RastersWritten.Add(3)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(addr, stubReadiness{err: readyErr}, reg, logger)
}

func TestServer_Routes(t *testing.T) {
	notReady := errors.New("precip pipeline has not completed a run yet")
	tests := []struct {
		name     string
		method   string
		path     string
		readyErr error
		want     int
	}{
		{"liveness", http.MethodGet, "/healthz", notReady, http.StatusOK},
		{"ready after run", http.MethodGet, "/readyz", nil, http.StatusOK},
		{"not ready during run", http.MethodGet, "/readyz", notReady, http.StatusServiceUnavailable},
		{"metrics", http.MethodGet, "/metrics", notReady, http.StatusOK},
		{"wrong method", http.MethodPost, "/healthz", nil, http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/rasters", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newServer(":0", tt.readyErr).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_MetricsBody(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(":0", nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "climprep_rasters_written_total 3")
}

func TestServer_ListenAndShutdown(t *testing.T) {
	srv := newServer("127.0.0.1:0", nil)
	addr, err := srv.Listen()
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{}}
	resp, err := client.Get("http://" + addr.String() + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestServer_ListenAddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = newServer(l.Addr().String(), nil).Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestServer_ShutdownWithoutListen(t *testing.T) {
	require.NoError(t, newServer(":0", nil).Shutdown(context.Background()))
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-insights/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "reviews.db")
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeoutSeconds = 2
	return cfg
}

func TestBuildServesRoutes(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	for path, want := range map[string]int{
		"/healthz":                  http.StatusOK,
		"/readyz":                   http.StatusOK,
		"/metrics":                  http.StatusOK,
		"/api/scrape/status/1":      http.StatusNotFound,
		"/api/download/reviews/1":   http.StatusNotFound,
		"/api/statistics/not-an-id": http.StatusBadRequest,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, want, resp.StatusCode, path)
	}
}

func TestBuildLocalCache(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheLocal
	cfg.Cache.BaseDir = filepath.Join(t.TempDir(), "cache")
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))

	info, err := os.Stat(cfg.Cache.BaseDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestBuildRejectsUnwritableCache(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheLocal
	cfg.Cache.BaseDir = filepath.Join(file, "cache")
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheNone
	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

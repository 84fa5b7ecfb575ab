package routes

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sycy-station/misskey/internal/config"
)

func devConfig() config.Config {
	return config.Config{
		AppName:     "Misskey",
		AppEnv:      "development",
		InstanceURL: "https://example.test",
		LogLevel:    "info",
	}
}

func TestSetupWiresMemoryBackends(t *testing.T) {
	app := fiber.New()
	issuer, err := Setup(app, Deps{Cfg: devConfig(), Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	require.NoError(t, err)
	t.Cleanup(issuer.Close)

	for path, want := range map[string]int{
		"/healthz":  http.StatusOK,
		"/metrics":  http.StatusOK,
		"/api/ping": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err, path)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	cfg := devConfig()
	cfg.AppEnv = "production"

	app := fiber.New()
	_, err := Setup(app, Deps{Cfg: cfg, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	assert.Error(t, err)
}

func TestSingleAccessLogEntryPerRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	issuer, err := Setup(app, Deps{Cfg: devConfig(), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(issuer.Close)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	entries := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "request completed") {
			entries++
		}
	}
	assert.Equal(t, 1, entries, "audit middleware is the only access log")
}

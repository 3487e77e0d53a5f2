package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/bootstrap"
	"docqa/internal/config"
	"docqa/internal/pkg/jwtutil"
)

func newTestApp(t *testing.T, env map[string]string) *bootstrap.App {
	t.Helper()
	dir := t.TempDir()
	webRoot := filepath.Join(dir, "web")
	require.NoError(t, os.MkdirAll(webRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webRoot, "index.html"), []byte("<html><body>docqa</body></html>"), 0o600))

	base := map[string]string{
		"CONFIG_FILE":      filepath.Join(dir, "missing.toml"),
		"OPENAI_API_KEY":   "sk-test",
		"LLM_API_KEY":      "sk-test",
		"STORE_DRIVER":     "sqlite",
		"STORE_PATH":       filepath.Join(dir, "data", "docqa.db"),
		"APP_WEB_ROOT":     webRoot,
		"GIN_MODE":         gin.TestMode,
		"REGISTRY_BACKEND": "memory",
		"RABBITMQ_URL":     "",
		"JWT_SECRET":       "",
	}
	for k, v := range env {
		base[k] = v
	}
	for k, v := range base {
		t.Setenv(k, v)
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	a, err := bootstrap.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":{"ok":true`)
	assert.Contains(t, w.Body.String(), `"message":"disabled"`)

	w = serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "docqa")

	w = serve(router, httptest.NewRequest(http.MethodGet, "/collections", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","collections":[]}`, w.Body.String())
}

func TestRouter_QueryUnknownCollection(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"q","index_id":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(router, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestRouter_JWTGuard(t *testing.T) {
	router := NewRouter(newTestApp(t, map[string]string{"JWT_SECRET": "s3cret"}))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/collections", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwtutil.GenerateToken("s3cret", time.Minute, "ui")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/collections", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// health and UI stay public
	w = serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(router, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_HealthPingsRedisRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	router := NewRouter(newTestApp(t, map[string]string{
		"REGISTRY_BACKEND": "redis",
		"REDIS_ADDR":       mr.Addr(),
	}))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":{"ok":true}`)

	mr.Close()
	w = serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":{"ok":false`)
}

func TestRouter_PanicAnswersWithErrorEnvelope(t *testing.T) {
	router := NewRouter(newTestApp(t, nil))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"status":"error","message":"internal server error"}`, w.Body.String())
}

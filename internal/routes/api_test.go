package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vidmatch/internal/config"
	"vidmatch/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.Store.Backend = config.BackendMemory
	cfg.Server.RateLimit.Enabled = false

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	router := gin.New()
	SetupRoutes(router, NewServices(store.NewMemoryStore(), cfg), cfg, stop)
	return router
}

func TestHealthRoutes(t *testing.T) {
	router := newRouter(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, config.BackendMemory, body["backend"])
	}
}

func TestPairingThroughRouter(t *testing.T) {
	router := newRouter(t)

	post := func(path string, payload interface{}) *httptest.ResponseRecorder {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, post("/api/v1/queue", map[string]interface{}{"username": "alice"}).Code)

	w := post("/api/v1/match", map[string]interface{}{"username": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Matched     bool   `json:"matched"`
			MatchedWith string `json:"matched_with"`
			RoomName    string `json:"room_name"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Matched)
	assert.Equal(t, "alice", resp.Data.MatchedWith)
	assert.NotEmpty(t, resp.Data.RoomName)

	w = post("/api/v1/session/end", map[string]interface{}{
		"username":  "bob",
		"room_name": resp.Data.RoomName,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	router := newRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nothing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

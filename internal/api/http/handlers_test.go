package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/ember/internal/kernel"
)

func newTestRouter(t *testing.T) (*kernel.Kernel, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	k := kernel.New(kernel.Options{})
	r := gin.New()
	NewHandlers(k, nil).Register(r)
	return k, r
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	k, r := newTestRouter(t)
	_, err := k.AddTask("a", 4096)
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, k.BootID(), resp["boot_id"])
	assert.Equal(t, float64(1), resp["tasks"])
}

func TestListTasks(t *testing.T) {
	k, r := newTestRouter(t)
	_, err := k.AddTask("a", 4096)
	require.NoError(t, err)
	_, err = k.AddTask("b", 4096)
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                  `json:"success"`
		Tasks   []kernel.TaskSnapshot `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "a", resp.Tasks[0].Name)
	assert.Equal(t, "ready", resp.Tasks[0].State)
}

func TestGetTask(t *testing.T) {
	k, r := newTestRouter(t)
	_, err := k.AddTask("only", 4096)
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/tasks/0", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/tasks/7", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodGet, "/tasks/bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotifyTask(t *testing.T) {
	k, r := newTestRouter(t)
	h, err := k.AddTask("only", 4096)
	require.NoError(t, err)

	w := doRequest(r, http.MethodPost, "/tasks/0/notify", `{"bits": 5}`)
	require.Equal(t, http.StatusOK, w.Code)

	snap, ok := k.SnapshotTask(0)
	require.True(t, ok)
	assert.Equal(t, uint32(5), snap.Notifications)

	w = doRequest(r, http.MethodPost, "/tasks/0/notify", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "bits are required")

	k.Kill(h.ID())
	w = doRequest(r, http.MethodPost, "/tasks/0/notify", `{"bits": 1}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestKillTask(t *testing.T) {
	k, r := newTestRouter(t)
	_, err := k.AddTask("only", 4096)
	require.NoError(t, err)

	w := doRequest(r, http.MethodPost, "/tasks/0/kill", "")
	require.Equal(t, http.StatusOK, w.Code)

	snap, ok := k.SnapshotTask(0)
	require.True(t, ok)
	assert.Equal(t, "stopped", snap.State)

	w = doRequest(r, http.MethodPost, "/tasks/0/kill", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(r, http.MethodPost, "/tasks/9/kill", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

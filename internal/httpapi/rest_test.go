package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyphahub/msghub/internal/broker"
	"github.com/hyphahub/msghub/internal/models"
	"github.com/hyphahub/msghub/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRestTest(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	kv, err := broker.NewRedis(broker.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	st, err := store.New(context.Background(), kv, "node1")
	require.NoError(t, err)

	router := gin.New()
	srv := &Server{}
	srv.RegisterRoutes(router.Group(""), st)
	return router, st
}

func TestGetWorkspaceReturnsRecord(t *testing.T) {
	router, st := setupRestTest(t)
	require.NoError(t, st.RegisterWorkspace(context.Background(), &models.Workspace{Name: "acme"}, false))

	req := httptest.NewRequest(http.MethodGet, "/workspaces/acme", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "acme", got.Name)
}

func TestGetWorkspaceNotFoundReturns404(t *testing.T) {
	router, _ := setupRestTest(t)
	req := httptest.NewRequest(http.MethodGet, "/workspaces/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchWorkspaceAppliesFields(t *testing.T) {
	router, st := setupRestTest(t)
	require.NoError(t, st.RegisterWorkspace(context.Background(), &models.Workspace{Name: "acme"}, false))

	body, _ := json.Marshal(map[string]any{"description": "updated"})
	req := httptest.NewRequest(http.MethodPatch, "/workspaces/acme", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "updated", got.Description)
}

func TestPatchWorkspaceRejectsMalformedBody(t *testing.T) {
	router, st := setupRestTest(t)
	require.NoError(t, st.RegisterWorkspace(context.Background(), &models.Workspace{Name: "acme"}, false))

	req := httptest.NewRequest(http.MethodPatch, "/workspaces/acme", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndListServices(t *testing.T) {
	router, _ := setupRestTest(t)

	svc := models.Service{
		ID:     "acme/c1:echo",
		Name:   "echo",
		Type:   "rpc",
		Config: models.ServiceConfig{Workspace: "acme"},
	}
	body, _ := json.Marshal(svc)
	req := httptest.NewRequest(http.MethodPost, "/workspaces/acme/services", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/workspaces/acme/services", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	assert.Equal(t, http.StatusOK, listRec.Code)

	var got struct {
		Services []models.Service `json:"services"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &got))
	require.Len(t, got.Services, 1)
	assert.Equal(t, "echo", got.Services[0].Name)
}

func TestRegisterServiceRejectsForeignWorkspace(t *testing.T) {
	router, _ := setupRestTest(t)

	svc := models.Service{
		ID:     "globex/c1:echo",
		Name:   "echo",
		Config: models.ServiceConfig{Workspace: "globex"},
	}
	body, _ := json.Marshal(svc)
	req := httptest.NewRequest(http.MethodPost, "/workspaces/acme/services", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

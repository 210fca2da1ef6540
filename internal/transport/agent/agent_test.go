package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/lead-mesh/internal/adapter/memory"
	domainagent "github.com/alanyang/lead-mesh/internal/domain/agent"
	agentsvc "github.com/alanyang/lead-mesh/internal/service/agent"
	transportagent "github.com/alanyang/lead-mesh/internal/transport/agent"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(t *testing.T) (*gin.Engine, *agentsvc.Service) {
	t.Helper()
	store := memory.NewStore()
	svc := agentsvc.NewService(store.Agents(), memory.NewEventBus())
	r := gin.New()
	transportagent.Register(r.Group("/agents"), svc)
	return r, svc
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequestWithContext(context.Background(), method, path, nil)
	} else {
		req, _ = http.NewRequestWithContext(context.Background(), method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ── POST / (registerAgent) ────────────────────────────────────────────────────

func TestRegisterAgent_DefaultsMaxLeads(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/agents", `{"name":"Ana","email":"ana@example.com","role":"user"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var got domainagent.Agent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domainagent.DefaultMaxLeads, got.MaxLeads)
	assert.Equal(t, domainagent.RoleUser, got.Role)
}

func TestRegisterAgent_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"role":"user"}`},
		{"bad role", `{"name":"Ana","role":"owner"}`},
		{"negative capacity", `{"name":"Ana","role":"user","max_leads":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRouter(t)
			w := do(r, http.MethodPost, "/agents", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// ── GET / (listAgents) ────────────────────────────────────────────────────────

func TestListAgents_WithFilters(t *testing.T) {
	r, svc := newRouter(t)
	ctx := context.Background()
	ana, err := svc.Register(ctx, "Ana", "", domainagent.RoleUser, 5)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Root", "", domainagent.RoleAdmin, 0)
	require.NoError(t, err)
	require.NoError(t, svc.SetAvailability(ctx, ana.ID, true))

	w := do(r, http.MethodGet, "/agents?role=user&available=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []domainagent.Agent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, ana.ID, got[0].ID)

	w = do(r, http.MethodGet, "/agents?role=owner", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAgents_EmptyIsArray(t *testing.T) {
	r, _ := newRouter(t)
	w := do(r, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

// ── GET /:id and PATCH /:id ───────────────────────────────────────────────────

func TestGetAgent(t *testing.T) {
	r, _ := newRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/agents/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/agents/"+uuid.NewString(), "").Code)
}

func TestUpdateAgent(t *testing.T) {
	r, svc := newRouter(t)
	a, err := svc.Register(context.Background(), "Ana", "", domainagent.RoleUser, 5)
	require.NoError(t, err)

	w := do(r, http.MethodPatch, "/agents/"+a.ID.String(), `{"available":true,"max_leads":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	var got domainagent.Agent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Available)
	assert.Equal(t, 2, got.MaxLeads)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPatch, "/agents/"+a.ID.String(), `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPatch, "/agents/"+uuid.NewString(), `{"available":false}`).Code)
}

package lead_test

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
	domainassignment "github.com/alanyang/lead-mesh/internal/domain/assignment"
	domainlead "github.com/alanyang/lead-mesh/internal/domain/lead"
	"github.com/alanyang/lead-mesh/internal/service/distributor"
	leadsvc "github.com/alanyang/lead-mesh/internal/service/lead"
	"github.com/alanyang/lead-mesh/internal/testutil"
	transportlead "github.com/alanyang/lead-mesh/internal/transport/lead"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	r     *gin.Engine
	store *memory.Store
	svc   *leadsvc.Service
}

func newFixture(t *testing.T, autoAssign bool) fixture {
	t.Helper()
	store := memory.NewStore()
	bus := memory.NewEventBus()
	notifier := &testutil.CaptureNotifier{}
	engine := distributor.NewEngine(store.Agents(), store.Leads(), store.Leads(), store, store, notifier, bus)
	svc := leadsvc.NewService(store.Leads(), store.Agents(), store, store, engine, notifier, bus, autoAssign)

	r := gin.New()
	transportlead.Register(r.Group("/leads"), svc, engine)
	return fixture{r: r, store: store, svc: svc}
}

func (f fixture) agent(t *testing.T, name string, role domainagent.Role) domainagent.Agent {
	t.Helper()
	a := domainagent.New(name, "", role, 5)
	a.Available = true
	created, err := f.store.Agents().Create(context.Background(), a)
	require.NoError(t, err)
	return created
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequestWithContext(context.Background(), method, path, nil)
	} else {
		req, _ = http.NewRequestWithContext(context.Background(), method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

// ── POST / (createLead) ───────────────────────────────────────────────────────

func TestCreateLead_AutoAssigns(t *testing.T) {
	f := newFixture(t, true)
	ana := f.agent(t, "Ana", domainagent.RoleUser)

	w := f.do(http.MethodPost, "/leads", `{"name":"Maria","phone":"+5511999990000","source":"whatsapp"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var got leadsvc.Created
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotNil(t, got.Assignment)
	assert.Equal(t, ana.ID, got.Assignment.AgentID)
	require.NotNil(t, got.Lead.AssignedTo)
	assert.Equal(t, ana.ID, *got.Lead.AssignedTo)
}

func TestCreateLead_NoAdminReturnsStoredLead(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(http.MethodPost, "/leads", `{"phone":"+5511999990001"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body struct {
		Error string          `json:"error"`
		Kind  string          `json:"kind"`
		Lead  domainlead.Lead `json:"lead"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "configuration", body.Kind)
	assert.NotEqual(t, uuid.Nil, body.Lead.ID)
	assert.Nil(t, body.Lead.AssignedTo)
}

func TestCreateLead_MissingPhone(t *testing.T) {
	f := newFixture(t, false)
	w := f.do(http.MethodPost, "/leads", `{"name":"Maria"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── GET / (listLeads) ─────────────────────────────────────────────────────────

func TestListLeads_Filters(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	first, err := f.svc.Create(ctx, "A", "+551100000001", "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "B", "+551100000002", "")
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/leads?unassigned=true&order=oldest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got []domainlead.Lead
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, first.Lead.ID, got[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/leads?status=lost", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/leads?assigned_to=x", "").Code)
}

// ── POST /:id/assign ──────────────────────────────────────────────────────────

func TestAssignLead(t *testing.T) {
	f := newFixture(t, false)
	ana := f.agent(t, "Ana", domainagent.RoleUser)
	out, err := f.svc.Create(context.Background(), "A", "+551100000003", "")
	require.NoError(t, err)
	path := "/leads/" + out.Lead.ID.String() + "/assign"

	w := f.do(http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res domainassignment.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, ana.ID, res.AgentID)

	w = f.do(http.MethodPost, path, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/leads/"+uuid.NewString()+"/assign", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ── PATCH /:id/status ─────────────────────────────────────────────────────────

func TestUpdateLeadStatus(t *testing.T) {
	f := newFixture(t, false)
	out, err := f.svc.Create(context.Background(), "A", "+551100000004", "")
	require.NoError(t, err)
	path := "/leads/" + out.Lead.ID.String() + "/status"

	w := f.do(http.MethodPatch, path, `{"status_from":"open","status_to":"contacted","stage":"called"}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Stale status_from loses the CAS.
	w = f.do(http.MethodPatch, path, `{"status_from":"open","status_to":"closed"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPatch, path, `{"status_from":"contacted","status_to":"won"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ── POST /:id/transfer and GET /:id/logs ──────────────────────────────────────

func TestTransferAndLogs(t *testing.T) {
	f := newFixture(t, true)
	f.agent(t, "Ana", domainagent.RoleUser)
	out, err := f.svc.Create(context.Background(), "A", "+551100000005", "")
	require.NoError(t, err)
	bia := f.agent(t, "Bia", domainagent.RoleUser)
	id := out.Lead.ID.String()

	w := f.do(http.MethodPost, "/leads/"+id+"/transfer", `{"agent_id":"`+bia.ID.String()+`","note":"speaks Spanish"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/leads/"+id+"/transfer", `{"agent_id":"`+bia.ID.String()+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodGet, "/leads/"+id+"/logs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var logs []domainassignment.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 2)
	assert.Equal(t, "transferred to Bia: speaks Spanish", logs[1].Action)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/leads/"+uuid.NewString()+"/logs", "").Code)
}

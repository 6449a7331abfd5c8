package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecrm/backend/internal/auth"
	"github.com/telecrm/backend/internal/config"
	"github.com/telecrm/backend/internal/models"
	"github.com/telecrm/backend/internal/service"
	"github.com/telecrm/backend/internal/service/servicetest"
)

type testServer struct {
	router *gin.Engine
	store  *servicetest.MemStore
	auth   *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := servicetest.NewMemStore()
	engine := service.NewEngine(store, store, nil, zerolog.Nop(), time.Second)
	authSvc := auth.NewService(store, auth.NewTokenManager("test-secret", time.Hour), auth.NewMemoryRevoker(), true, zerolog.Nop())
	cfg := config.Config{CORSAllowed: "*", MaxUploadSizeMB: 1}
	return &testServer{router: Router(cfg, store, engine, authSvc, zerolog.Nop()), store: store, auth: authSvc}
}

func (s *testServer) token(t *testing.T, u models.User) string {
	t.Helper()
	token, _, err := s.auth.Tokens.Issue(u)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[errorBody](t, w).Error.Code
}

func seedLeads(s *servicetest.MemStore, ids ...string) {
	for _, id := range ids {
		s.AddLead(id)
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": "agent1", "password": "secret1", "userType": "Agent"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret1")

	w = s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": "ag", "password": "x", "userType": "Agent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "agent1", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "agent1", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[struct {
		Token    string      `json:"token"`
		UserType models.Role `json:"userType"`
		User     models.User `json:"user"`
	}](t, w)
	assert.Equal(t, models.RoleAgent, login.User.UserType)
	assert.Equal(t, models.RoleAgent, login.UserType)

	w = s.do(t, http.MethodGet, "/api/students", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/logout", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/students", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCapabilitiesEnforced(t *testing.T) {
	s := newTestServer(t)
	agent := s.token(t, s.store.AddUser("G1", "agent", models.RoleAgent))
	caller := s.token(t, s.store.AddTelecaller("T1", "t1", 0))

	w := s.do(t, http.MethodGet, "/api/students", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/assign-automated", agent, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/students", caller, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/users", agent, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAutoAssignEndpoint(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 0)
	s.store.AddTelecaller("T2", "t2", 2)
	seedLeads(s.store, "L1", "L2", "L3", "L4", "L5")

	w := s.do(t, http.MethodPost, "/api/assign-automated", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode[service.AssignSummary](t, w)
	assert.Equal(t, 5, summary.Assigned)
	require.Len(t, summary.PerTelecaller, 2)
	assert.Equal(t, 4, summary.PerTelecaller[0].Total)
	assert.Equal(t, 3, summary.PerTelecaller[1].Total)

	w = s.do(t, http.MethodPost, "/api/assign-automated", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[service.AssignSummary](t, w).Assigned)
}

func TestAssignmentErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	seedLeads(s.store, "L1", "L2", "L3")

	w := s.do(t, http.MethodPost, "/api/assign-automated", admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NO_TELECALLERS_AVAILABLE", errorCode(t, w))

	s.store.AddTelecaller("T1", "t1", 0)

	w = s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "", "telecallerId": "T1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SELECTION", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L1", "telecallerId": "T1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L1", "telecallerId": "T1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_ASSIGNED", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L9", "telecallerId": "T1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/assign-bulk", admin, gin.H{"count": 5, "telecallerId": "T1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INSUFFICIENT_UNASSIGNED", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/assign-bulk", admin, gin.H{"count": 0, "telecallerId": "T1"})
	assert.Equal(t, "INVALID_COUNT", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/assign-bulk", admin, gin.H{"count": 2, "telecallerId": "T1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[service.AssignSummary](t, w).Assigned)
}

func TestPartialBatchReportsCommittedWork(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 0)
	seedLeads(s.store, "L1", "L2", "L3", "L4")
	s.store.FailWritesAfter = 2

	w := s.do(t, http.MethodPost, "/api/assign-automated", admin, nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	body := decode[errorBody](t, w)
	assert.Equal(t, "TRANSPORT_ERROR", body.Error.Code)
	var details service.AssignSummary
	require.NoError(t, json.Unmarshal(body.Error.Details, &details))
	assert.Equal(t, 4, details.Requested)
	assert.Equal(t, 2, details.Assigned)
}

func TestUnassignEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 0)
	seedLeads(s.store, "L1", "L2", "L3")
	for _, id := range []string{"L1", "L2", "L3"} {
		w := s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": id, "telecallerId": "T1"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodPost, "/api/unassign-students-bulk", admin, gin.H{"studentIds": []string{"L1", "nope"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, s.store.Lead("L1").IsAssigned())

	w = s.do(t, http.MethodPost, "/api/unassign-student", admin, gin.H{"studentId": "L1"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/unassign-student", admin, gin.H{"studentId": "L1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/unassign-pending", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[service.UnassignSummary](t, w).Unassigned)

	w = s.do(t, http.MethodPost, "/api/unassign-pending", admin, gin.H{"from": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTelecallerStatusUpdates(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	caller := s.token(t, s.store.AddTelecaller("T1", "t1", 0))
	s.store.AddTelecaller("T2", "t2", 0)
	seedLeads(s.store, "L1", "L2")
	s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L1", "telecallerId": "T1"})
	s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L2", "telecallerId": "T2"})

	w := s.do(t, http.MethodGet, "/api/assigned-students", caller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]models.Lead](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, "L1", mine[0].ID)

	w = s.do(t, http.MethodPut, "/api/students/L1", caller, gin.H{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusApproved, s.store.Lead("L1").Status)
	assert.True(t, s.store.Lead("L1").IsAssigned(), "status changes keep the assignment")

	w = s.do(t, http.MethodPut, "/api/students/L2", caller, gin.H{"status": "rejected"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/students/L1", caller, gin.H{"name": "Someone else"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, "/api/students/L1", caller, gin.H{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminUpdateChangesAssignment(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 0)
	s.store.AddTelecaller("T2", "t2", 0)
	seedLeads(s.store, "L1")

	w := s.do(t, http.MethodPut, "/api/students/L1", admin, gin.H{"assignedTo": "T1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "T1", *s.store.Lead("L1").AssignedTo)

	w = s.do(t, http.MethodPut, "/api/students/L1", admin, gin.H{"assignedTo": "T2", "description": "moved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "T2", *s.store.Lead("L1").AssignedTo)
	assert.Equal(t, "moved", s.store.Lead("L1").Description)

	w = s.do(t, http.MethodPut, "/api/students/L1", admin, gin.H{"assignedTo": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, s.store.Lead("L1").IsAssigned())

	w = s.do(t, http.MethodPut, "/api/students/L1", admin, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/api/students/L1", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/students/L1", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMixedUpdateIsRejectedWhole(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 0)
	seedLeads(s.store, "L1", "L2")
	s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L2", "telecallerId": "T1"})
	before := s.store.Lead("L1")

	w := s.do(t, http.MethodPut, "/api/students/L1", admin, gin.H{"description": "x", "assignedTo": "NOPE"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, before, s.store.Lead("L1"))

	// Unassigning a decided lead fails, so its new status must not be stored either.
	approved := models.StatusApproved
	_, err := s.store.UpdateLead(context.Background(), "L2", models.LeadPatch{Status: &approved})
	require.NoError(t, err)
	decided := s.store.Lead("L2")
	w = s.do(t, http.MethodPut, "/api/students/L2", admin, gin.H{"status": "rejected", "assignedTo": nil})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, decided, s.store.Lead("L2"))

	w = s.do(t, http.MethodPut, "/api/students/L1", admin, gin.H{"status": "approved", "assignedTo": "T1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := s.store.Lead("L1")
	assert.Equal(t, "T1", *got.AssignedTo)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestTelecallerLosesLeadMidUpdate(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	caller := s.token(t, s.store.AddTelecaller("T1", "t1", 0))
	s.store.AddTelecaller("T2", "t2", 0)
	seedLeads(s.store, "L1")
	s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L1", "telecallerId": "T1"})

	s.store.BeforeUpdate = func(l *models.Lead) {
		owner := "T2"
		l.AssignedTo = &owner
	}
	w := s.do(t, http.MethodPut, "/api/students/L1", caller, gin.H{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	got := s.store.Lead("L1")
	assert.Equal(t, "T2", *got.AssignedTo)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestReassignEndpoint(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 0)
	s.store.AddTelecaller("T2", "t2", 0)
	seedLeads(s.store, "L1")

	w := s.do(t, http.MethodPost, "/api/reassign", admin, gin.H{"studentId": "L1", "telecallerId": "T2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_SELECTION", errorCode(t, w))

	s.do(t, http.MethodPost, "/api/assign-manual", admin, gin.H{"studentId": "L1", "telecallerId": "T1"})

	w = s.do(t, http.MethodPost, "/api/reassign", admin, gin.H{"studentId": "L1", "telecallerId": "T1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/reassign", admin, gin.H{"studentId": "L1", "telecallerId": "T2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "T2", *s.store.Lead("L1").AssignedTo)
}

func TestCreateAndListStudents(t *testing.T) {
	s := newTestServer(t)
	agent := s.token(t, s.store.AddUser("G1", "agent", models.RoleAgent))

	w := s.do(t, http.MethodPost, "/api/students", agent, gin.H{"name": "Asha", "email": "asha@example.com", "phone": "+91-900"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Lead](t, w)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "G1", created.AddedBy)
	assert.Nil(t, created.AssignedTo)

	w = s.do(t, http.MethodPost, "/api/students", agent, gin.H{"name": "Dup", "phone": "+91-900"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/students", agent, gin.H{"name": "No phone"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/students?status=pending&assigned=false", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Lead](t, w), 1)

	w = s.do(t, http.MethodGet, "/api/students?assigned=perhaps", agent, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAndTemplate(t *testing.T) {
	s := newTestServer(t)
	agent := s.token(t, s.store.AddUser("G1", "agent", models.RoleAgent))
	s.store.AddLead("existing")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("name,email,phone\nAsha,asha@example.com,+91-900\nRavi,,\nOld,,+1-existing\nMeena,,+91-901\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-excel", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+agent)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary := decode[struct {
		Created int      `json:"created"`
		Skipped int      `json:"skipped"`
		Errors  []string `json:"errors"`
	}](t, w)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 2, summary.Skipped)
	assert.Contains(t, summary.Errors, "row 3: phone is required")

	w = s.do(t, http.MethodGet, "/api/sample-excel", agent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "sample-students.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t)
	agent := s.token(t, s.store.AddUser("G1", "agent", models.RoleAgent))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "leads.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("name,phone\n"))
	_, _ = part.Write(bytes.Repeat([]byte("x,1\n"), (2<<20)/4))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload-excel", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+agent)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Equal(t, "FILE_TOO_LARGE", errorCode(t, w))
	leads, err := s.store.ListLeads(context.Background(), models.LeadFilter{})
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestStatsAndUsers(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, s.store.AddUser("A1", "admin", models.RoleAdmin))
	s.store.AddTelecaller("T1", "t1", 2)
	seedLeads(s.store, "L1")

	w := s.do(t, http.MethodGet, "/api/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.Stats](t, w)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Unassigned)

	w = s.do(t, http.MethodGet, "/api/users?userType=telecaller", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[[]models.User](t, w)
	require.Len(t, users, 1)
	assert.Equal(t, 2, users[0].AssignedCount)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beadboard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	issues    []*models.Issue
	fetchErr  error
	created   *models.IssueCreate
	updated   map[string]*models.IssueUpdate
	closed    map[string]string
	workspace string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		updated: make(map[string]*models.IssueUpdate),
		closed:  make(map[string]string),
	}
}

func (f *fakeRepo) Fetch(context.Context, models.SubscriptionSpec) ([]*models.Issue, error) {
	return f.issues, f.fetchErr
}

func (f *fakeRepo) Create(_ context.Context, create *models.IssueCreate) (*models.Issue, error) {
	f.created = create
	return &models.Issue{ID: "bb-new", Title: create.Title, Priority: create.Priority}, nil
}

func (f *fakeRepo) Update(_ context.Context, id string, update *models.IssueUpdate) error {
	f.updated[id] = update
	return nil
}

func (f *fakeRepo) CloseIssue(_ context.Context, id, reason string) error {
	f.closed[id] = reason
	return nil
}

func (f *fakeRepo) SetWorkspace(dir string) { f.workspace = dir }

type fakeCoordinator struct {
	mutations int
	switched  string
}

func (f *fakeCoordinator) AfterMutation()              { f.mutations++ }
func (f *fakeCoordinator) SwitchWorkspace(path string) { f.switched = path }

type fakeWatcher struct {
	repointed string
	err       error
}

func (f *fakeWatcher) Repoint(path string) error {
	f.repointed = path
	return f.err
}

func setup() (*fakeRepo, *fakeCoordinator, *fakeWatcher, http.Handler) {
	repo := newFakeRepo()
	hub := &fakeCoordinator{}
	watcher := &fakeWatcher{}
	h := NewHandler(repo, hub, nil, watcher)
	return repo, hub, watcher, SetupRoutes(h)
}

func TestListIssuesSorted(t *testing.T) {
	repo, _, _, router := setup()
	now := time.Now()
	repo.issues = []*models.Issue{
		{ID: "bb-2", Priority: 1, UpdatedAt: now},
		{ID: "bb-1", Priority: 0, UpdatedAt: now},
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/issues?status=open", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Issues []*models.Issue `json:"issues"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "bb-1", body.Issues[0].ID, "priority 0 first")
}

func TestListIssuesIgnoresUnknownParam(t *testing.T) {
	_, _, _, router := setup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/issues?status=open&evil=1", nil))

	// Unknown query params are simply not in the vocabulary list, so they
	// are ignored rather than rejected.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListIssuesFetchFailure(t *testing.T) {
	repo, _, _, router := setup()
	repo.fetchErr = fmt.Errorf("bd exploded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/issues", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var wire models.WireError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wire))
	assert.Equal(t, models.ErrCodeFetchFailed, wire.Code)
}

func TestCreateIssueArmsMutationGate(t *testing.T) {
	repo, hub, _, router := setup()

	payload, _ := json.Marshal(map[string]any{"title": "new issue", "priority": 1})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/issues", bytes.NewReader(payload)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, "new issue", repo.created.Title)
	assert.Equal(t, 1, hub.mutations, "write must arm the mutation gate")
}

func TestCreateIssueRequiresTitle(t *testing.T) {
	_, hub, _, router := setup()

	payload, _ := json.Marshal(map[string]any{"priority": 1})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/issues", bytes.NewReader(payload)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, hub.mutations, "rejected writes must not arm the gate")
}

func TestUpdateIssue(t *testing.T) {
	repo, hub, _, router := setup()

	payload, _ := json.Marshal(map[string]any{"status": "in_progress"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("PATCH", "/api/issues/bb-1", bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	update, ok := repo.updated["bb-1"]
	require.True(t, ok)
	require.NotNil(t, update.Status)
	assert.Equal(t, models.StatusInProgress, *update.Status)
	assert.Equal(t, 1, hub.mutations)
}

func TestCloseIssue(t *testing.T) {
	repo, hub, _, router := setup()

	payload, _ := json.Marshal(map[string]any{"reason": "done"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/issues/bb-1/close", bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", repo.closed["bb-1"])
	assert.Equal(t, 1, hub.mutations)
}

func TestSwitchWorkspaceOrdering(t *testing.T) {
	repo, hub, watcher, router := setup()

	payload, _ := json.Marshal(map[string]any{"path": "/tmp/other"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/workspace", bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/tmp/other", repo.workspace)
	assert.Equal(t, "/tmp/other", watcher.repointed)
	assert.Equal(t, "/tmp/other", hub.switched)
}

func TestSwitchWorkspaceRequiresPath(t *testing.T) {
	_, hub, _, router := setup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/workspace", bytes.NewReader([]byte(`{}`))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, hub.switched)
}

func TestHealthCheck(t *testing.T) {
	_, _, _, router := setup()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/perigee-labs/groundwork/internal/archive"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/run"
)

type fakeStore struct {
	saved     []*run.State
	saveErr   error
	runs      map[string]*run.State
	loadErr   error
	events    map[string][]archive.EventRecord
	eventsErr error
	summaries []archive.RunSummary
	listErr   error
	lastLimit int
}

func (f *fakeStore) SaveRun(_ context.Context, state *run.State) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, state)
	return nil
}

func (f *fakeStore) LoadRun(_ context.Context, runID string) (*run.State, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	state, ok := f.runs[runID]
	if !ok {
		return nil, archive.ErrRunNotFound
	}
	return state, nil
}

func (f *fakeStore) LoadEvents(_ context.Context, runID string) ([]archive.EventRecord, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events[runID], nil
}

func (f *fakeStore) ListRuns(_ context.Context, limit int) ([]archive.RunSummary, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.summaries, nil
}

func newTestServer(t *testing.T, runTask TaskRunner, store RunStore) *Server {
	t.Helper()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{RunTimeout: time.Minute},
	}
	return New(cfg, runTask, store, nil, zaptest.NewLogger(t))
}

func acceptedState(task string) *run.State {
	state := run.NewState(task, map[string]string{run.ConfigKeyModel: "test-model"})
	state.Draft = "grounded draft"
	state.FinalOutput = "grounded draft"
	state.AppendLog(run.AgentVerifier, "verified draft", "PASS")
	state.CompletedAt = time.Now().UTC()
	return state
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (string, *run.State) {
	t.Helper()
	var envelope struct {
		Status string     `json:"status"`
		Run    *run.State `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Status, envelope.Run
}

func TestCreateTaskRunsPipelineAndArchives(t *testing.T) {
	var gotTask, gotLocation, gotModel string
	state := acceptedState("What is the MOQ for part A-113?")
	runner := func(_ context.Context, task, location, model string) (*run.State, error) {
		gotTask, gotLocation, gotModel = task, location, model
		return state, nil
	}
	store := &fakeStore{}
	s := newTestServer(t, runner, store)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tasks",
		`{"task": "What is the MOQ for part A-113?", "location": "ops_docs", "model": "gpt-4o-mini"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "What is the MOQ for part A-113?", gotTask)
	assert.Equal(t, "ops_docs", gotLocation)
	assert.Equal(t, "gpt-4o-mini", gotModel)

	status, returned := decodeEnvelope(t, rec)
	assert.Equal(t, run.StatusAccepted, status)
	assert.Equal(t, state.RunID, returned.RunID)
	assert.Equal(t, "grounded draft", returned.FinalOutput)

	require.Len(t, store.saved, 1)
	assert.Equal(t, state.RunID, store.saved[0].RunID)
}

func TestCreateTaskRejectsEmptyTask(t *testing.T) {
	runner := func(context.Context, string, string, string) (*run.State, error) {
		t.Fatal("runner should not be called")
		return nil, nil
	}
	s := newTestServer(t, runner, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tasks", `{"task": "   "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "task is required")
}

func TestCreateTaskRejectsMalformedBody(t *testing.T) {
	runner := func(context.Context, string, string, string) (*run.State, error) {
		t.Fatal("runner should not be called")
		return nil, nil
	}
	s := newTestServer(t, runner, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tasks", `{"task": `)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestCreateTaskRunErrorReturns500(t *testing.T) {
	state := run.NewState("broken task", nil)
	runner := func(context.Context, string, string, string) (*run.State, error) {
		return state, errors.New("planner stage failed: backend down")
	}
	store := &fakeStore{}
	s := newTestServer(t, runner, store)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tasks", `{"task": "broken task"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload["error"], "planner stage failed")
	assert.Equal(t, state.RunID, payload["run_id"])

	// The partial state still gets archived for post-mortems.
	require.Len(t, store.saved, 1)
}

func TestCreateTaskArchiveFailureStillReturnsRun(t *testing.T) {
	runner := func(_ context.Context, task, _, _ string) (*run.State, error) {
		return acceptedState(task), nil
	}
	store := &fakeStore{saveErr: errors.New("database circuit breaker is open")}
	s := newTestServer(t, runner, store)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tasks", `{"task": "still works"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	status, _ := decodeEnvelope(t, rec)
	assert.Equal(t, run.StatusAccepted, status)
}

func TestCreateTaskWithoutArchive(t *testing.T) {
	runner := func(_ context.Context, task, _, _ string) (*run.State, error) {
		return acceptedState(task), nil
	}
	s := newTestServer(t, runner, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/tasks", `{"task": "no archive"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTaskRejectsGet(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tasks", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetRunFound(t *testing.T) {
	state := acceptedState("archived task")
	store := &fakeStore{runs: map[string]*run.State{state.RunID: state}}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/"+state.RunID, "")

	require.Equal(t, http.StatusOK, rec.Code)
	status, returned := decodeEnvelope(t, rec)
	assert.Equal(t, run.StatusAccepted, status)
	assert.Equal(t, state.RunID, returned.RunID)
	assert.Equal(t, "archived task", returned.Task)
}

func TestGetRunMissing(t *testing.T) {
	store := &fakeStore{runs: map[string]*run.State{}}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/does-not-exist", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run not found")
}

func TestGetRunStoreError(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("connection refused")}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/some-id", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to load run")
}

func TestGetRunWithoutArchive(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/some-id", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "run archive is not configured")
}

func TestListRunsDefaultLimit(t *testing.T) {
	store := &fakeStore{summaries: []archive.RunSummary{
		{RunID: "a", Task: "first", Status: run.StatusAccepted},
		{RunID: "b", Task: "second", Status: run.StatusTerminatedFailure},
	}}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, store.lastLimit)

	var payload struct {
		Runs  []archive.RunSummary `json:"runs"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 2, payload.Count)
	require.Len(t, payload.Runs, 2)
	assert.Equal(t, "a", payload.Runs[0].RunID)
}

func TestListRunsLimitParam(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.lastLimit)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/runs?limit=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, store.lastLimit)
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	s := newTestServer(t, nil, &fakeStore{})

	for _, raw := range []string{"abc", "0", "-3"} {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/runs?limit="+raw, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
	}
}

func TestRunEvents(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{
		runs: map[string]*run.State{"run-1": acceptedState("task")},
		events: map[string][]archive.EventRecord{
			"run-1": {
				{ID: "e1", RunID: "run-1", Seq: 0, Agent: run.AgentPlanner, Action: "created plan", Outcome: "3 steps", OccurredAt: now},
				{ID: "e2", RunID: "run-1", Seq: 1, Agent: run.AgentVerifier, Action: "verified draft", Outcome: "PASS", OccurredAt: now},
			},
		},
	}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/run-1/events", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		RunID  string                `json:"run_id"`
		Events []archive.EventRecord `json:"events"`
		Count  int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, 2, payload.Count)
	require.Len(t, payload.Events, 2)
	assert.Equal(t, "created plan", payload.Events[0].Action)
}

func TestRunEventsMissingRun(t *testing.T) {
	store := &fakeStore{runs: map[string]*run.State{}}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/ghost/events", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "run not found")
}

func TestRunEventsEmptyForAbortedRun(t *testing.T) {
	aborted := run.NewState("aborted", nil)
	store := &fakeStore{runs: map[string]*run.State{aborted.RunID: aborted}}
	s := newTestServer(t, nil, store)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/"+aborted.RunID+"/events", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 0, payload.Count)
}

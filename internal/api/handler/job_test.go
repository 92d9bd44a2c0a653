package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/registry"
)

type jobHarness struct {
	handler    *Job
	db         *fakeDB
	dispatcher *fakeDispatcher
	files      *fakeFileSaver
}

func newJobHarness(t *testing.T, runners []registry.Runner, defs map[string]*model.JobDefinition) *jobHarness {
	t.Helper()

	reg := registry.New(&memDefs{defs: defs}, nil)
	for _, r := range runners {
		require.NoError(t, reg.Register(r))
	}

	db := &fakeDB{}
	dispatcher := &fakeDispatcher{result: &model.JobResult{ID: "res-1", JobID: validID, Status: model.StatusPending}}
	files := &fakeFileSaver{}

	return &jobHarness{
		handler: NewJob(reg,
			core.NewJobDefinitionService(db),
			core.NewQueueService(db),
			core.NewScheduledRunService(db),
			dispatcher, files),
		db:         db,
		dispatcher: dispatcher,
		files:      files,
	}
}

func pingRunner(approverGroups ...string) stubRunner {
	return stubRunner{meta: registry.JobMeta{
		ID:   validID,
		Name: "Ping devices",
		Vars: []registry.VarSpec{
			{Name: "target", Kind: registry.VarString, Required: true},
			{Name: "count", Kind: registry.VarString, Default: "3"},
		},
		ApproverGroups: approverGroups,
		SoftTimeLimit:  time.Minute,
		HardTimeLimit:  2 * time.Minute,
	}}
}

func pingDefinition() *model.JobDefinition {
	return &model.JobDefinition{
		ID:        validID,
		Name:      "Ping devices",
		Enabled:   true,
		Installed: true,
	}
}

// --- Run ---

func TestJobRun_InvalidJSON(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodPost, "/jobs/"+validID+"/run", "{bad json"), "id", validID)

	h.handler.Run(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobRun_UnknownJob(t *testing.T) {
	h := newJobHarness(t, nil, map[string]*model.JobDefinition{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/nope/run", map[string]any{"data": map[string]any{}}), "id", "nope")

	h.handler.Run(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, h.dispatcher.req)
}

func TestJobRun_DisabledJob(t *testing.T) {
	def := pingDefinition()
	def.Enabled = false
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: def})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data": map[string]any{"target": "r1.example.net"},
	}), "id", validID)

	h.handler.Run(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "disabled")
}

func TestJobRun_MissingRequiredVariable(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data": map[string]any{},
	}), "id", validID)

	h.handler.Run(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "target")
}

func TestJobRun_ImmediateDispatch(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"queue": "heavy",
		"data":  map[string]any{"target": "r1.example.net"},
	}), "id", validID)
	r = withCaller(r, "edvin")

	h.handler.Run(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	req := h.dispatcher.req
	require.NotNil(t, req)
	assert.Equal(t, validID, req.JobID)
	assert.Equal(t, "heavy", req.Queue)
	assert.Equal(t, "edvin", req.RequestedBy)
	assert.Equal(t, "r1.example.net", req.Args["target"])
	assert.Equal(t, "3", req.Args["count"], "declared default applied")
	assert.Empty(t, req.ResultID)

	var res model.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "res-1", res.ID)
}

func TestJobRun_DryRunOverride(t *testing.T) {
	def := pingDefinition()
	def.DryRunDefault = true
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: def})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data":    map[string]any{"target": "r1.example.net"},
		"dry_run": false,
	}), "id", validID)

	h.handler.Run(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, h.dispatcher.req)
	assert.False(t, h.dispatcher.req.DryRun)
}

func TestJobRun_SingletonConflict(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})
	h.dispatcher.err = core.ErrSingletonConflict
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data": map[string]any{"target": "r1.example.net"},
	}), "id", validID)

	h.handler.Run(rec, r)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobRun_ScheduleCreatesRun(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})
	start := time.Now().Add(time.Hour).UTC()
	created := model.ScheduledRun{
		ID:            "run-1",
		JobID:         validID,
		Name:          "nightly ping",
		Interval:      model.IntervalDaily,
		StartTime:     &start,
		Enabled:       true,
		ApprovalState: "",
		Arguments:     json.RawMessage(`{"target":"r1.example.net"}`),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	h.db.rows = append(h.db.rows, scheduledRunRow(created))

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data": map[string]any{"target": "r1.example.net"},
		"schedule": map[string]any{
			"name":       "nightly ping",
			"interval":   "daily",
			"start_time": start.Format(time.RFC3339),
		},
	}), "id", validID)
	r = withCaller(r, "edvin")

	h.handler.Run(rec, r)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.db.execs, "single insert, no approval workflow")
	assert.Nil(t, h.dispatcher.req, "scheduled runs are not dispatched inline")

	var res model.ScheduledRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.ID)
	assert.Equal(t, model.IntervalDaily, res.Interval)
}

func TestJobRun_ApprovalRequiredGoesThroughWorkflow(t *testing.T) {
	def := pingDefinition()
	def.ApprovalRequired = true
	h := newJobHarness(t, []registry.Runner{pingRunner("netops", "oncall")}, map[string]*model.JobDefinition{validID: def})

	created := model.ScheduledRun{
		ID:               "run-2",
		JobID:            validID,
		Interval:         model.IntervalImmediate,
		Enabled:          true,
		ApprovalRequired: true,
		ApprovalState:    model.ApprovalPending,
		Arguments:        json.RawMessage(`{"target":"r1.example.net"}`),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	h.db.rows = append(h.db.rows, scheduledRunRow(created))

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data": map[string]any{"target": "r1.example.net"},
	}), "id", validID)
	r = withCaller(r, "edvin", "netops")

	h.handler.Run(rec, r)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 4, h.db.execs, "run, workflow and one stage per approver group")
	assert.Nil(t, h.dispatcher.req)

	var res model.ScheduledRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, model.ApprovalPending, res.ApprovalState)
}

func TestJobRun_InvalidScheduleInterval(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{pingRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/jobs/"+validID+"/run", map[string]any{
		"data": map[string]any{"target": "r1.example.net"},
		"schedule": map[string]any{
			"interval": "fortnightly",
		},
	}), "id", validID)

	h.handler.Run(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "interval")
}

func fileRunner() stubRunner {
	return stubRunner{meta: registry.JobMeta{
		ID:   validID,
		Name: "Push config",
		Vars: []registry.VarSpec{
			{Name: "config_template", Kind: registry.VarFile, Required: true},
		},
		SoftTimeLimit: time.Minute,
		HardTimeLimit: 2 * time.Minute,
	}}
}

func TestJobRun_FileVariableStoredBeforeDispatch(t *testing.T) {
	h := newJobHarness(t, []registry.Runner{fileRunner()}, map[string]*model.JobDefinition{validID: pingDefinition()})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("config_template", "baseline.conf")
	require.NoError(t, err)
	fw.Write([]byte("interface lo0\n"))
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, "/jobs/"+validID+"/run", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())
	r = withChiURLParam(r, "id", validID)
	rec := httptest.NewRecorder()

	h.handler.Run(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	req := h.dispatcher.req
	require.NotNil(t, req)
	assert.NotEmpty(t, req.ResultID, "file uploads pre-allocate the result id")
	key, ok := h.files.saved["config_template"]
	require.True(t, ok)
	assert.Equal(t, key, req.Args["config_template"], "stored key replaces the filename")
}

// --- Get / Enable ---

func TestJobGet_InvalidID(t *testing.T) {
	h := newJobHarness(t, nil, map[string]*model.JobDefinition{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/jobs/", nil), "id", "")

	h.handler.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobGet_NotFound(t *testing.T) {
	h := newJobHarness(t, nil, map[string]*model.JobDefinition{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/jobs/"+validID, nil), "id", validID)

	h.handler.Get(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

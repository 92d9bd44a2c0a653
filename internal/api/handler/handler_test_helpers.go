package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	mw "github.com/edvin/jobrunner/internal/api/middleware"
	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/dispatch"
	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/registry"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withCaller injects an authenticated identity into the request context.
func withCaller(r *http.Request, user string, groups ...string) *http.Request {
	id := &mw.Identity{KeyID: "test-key", UserName: user, Groups: groups}
	return r.WithContext(mw.WithIdentity(r.Context(), id))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

// stubRow satisfies pgx.Row with a canned scan.
type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeDB serves QueryRow from a queue of canned rows and acknowledges
// every Exec.
type fakeDB struct {
	rows  []pgx.Row
	execs int
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execs++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(f.rows) == 0 {
		return stubRow{scan: func(...any) error { return pgx.ErrNoRows }}
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return row
}

// scheduledRunRow cans a full scheduled_runs scan for the given run.
func scheduledRunRow(run model.ScheduledRun) pgx.Row {
	return stubRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = run.ID
		*(dest[1].(*string)) = run.JobID
		*(dest[2].(*string)) = run.Name
		*(dest[3].(*string)) = run.RequestedBy
		*(dest[4].(**string)) = run.QueueID
		*(dest[5].(*json.RawMessage)) = run.Arguments
		*(dest[6].(*string)) = run.Interval
		*(dest[7].(**time.Time)) = run.StartTime
		*(dest[8].(*string)) = run.Crontab
		*(dest[9].(*string)) = run.TimeZone
		*(dest[10].(*bool)) = run.Enabled
		*(dest[11].(*bool)) = run.DryRun
		*(dest[12].(**time.Time)) = run.LastRunAt
		*(dest[13].(*int)) = run.TotalRunCount
		*(dest[14].(*bool)) = run.ApprovalRequired
		*(dest[15].(*string)) = run.ApprovalState
		*(dest[16].(**time.Time)) = run.ApprovedAt
		*(dest[17].(*time.Time)) = run.CreatedAt
		*(dest[18].(*time.Time)) = run.UpdatedAt
		return nil
	}}
}

// memDefs backs the registry without a database.
type memDefs struct {
	defs map[string]*model.JobDefinition
}

func (m *memDefs) GetByID(ctx context.Context, id string) (*model.JobDefinition, error) {
	def, ok := m.defs[id]
	if !ok {
		return nil, fmt.Errorf("job definition %s: %w", id, core.ErrNotFound)
	}
	return def, nil
}

func (m *memDefs) Sync(ctx context.Context, j *model.JobDefinition) error { return nil }
func (m *memDefs) MarkNotInstalled(ctx context.Context, registeredIDs []string) error {
	return nil
}

type stubRunner struct {
	meta registry.JobMeta
}

func (r stubRunner) Meta() registry.JobMeta { return r.meta }
func (r stubRunner) Run(ctx context.Context, rc *registry.RunContext) (any, error) {
	return nil, nil
}

// fakeDispatcher records the last request and returns a canned result.
type fakeDispatcher struct {
	req    *dispatch.Request
	result *model.JobResult
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req dispatch.Request) (*model.JobResult, error) {
	f.req = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeFileSaver records saved inputs and hands back deterministic keys.
type fakeFileSaver struct {
	saved map[string]string
	err   error
}

func (f *fakeFileSaver) SaveInput(ctx context.Context, resultID, varName, filename string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	key := "inputs/" + resultID + "/" + varName + "/" + filename
	f.saved[varName] = key
	return key, nil
}

const validID = "test-job-1"

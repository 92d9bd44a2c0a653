package request

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunJob_JSONBody(t *testing.T) {
	body := `{"queue":"default","data":{"network":"10.0.0.0/24"},"dry_run":true}`
	r := httptest.NewRequest("POST", "/api/v1/jobs/ping-sweep/run", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	req, err := ParseRunJob(r)
	require.NoError(t, err)
	assert.Equal(t, "default", req.Queue)
	assert.Equal(t, "10.0.0.0/24", req.Data["network"])
	require.NotNil(t, req.DryRun)
	assert.True(t, *req.DryRun)
	assert.Nil(t, req.Schedule)
}

func TestParseRunJob_JSONWithSchedule(t *testing.T) {
	body := `{"data":{},"schedule":{"interval":"custom","crontab":"0 2 * * *","time_zone":"UTC"}}`
	r := httptest.NewRequest("POST", "/api/v1/jobs/inventory-backup/run", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	req, err := ParseRunJob(r)
	require.NoError(t, err)
	require.NotNil(t, req.Schedule)
	assert.Equal(t, "custom", req.Schedule.Interval)
	assert.Equal(t, "0 2 * * *", req.Schedule.Crontab)
}

func TestParseRunJob_EmptyJSONDataDefaults(t *testing.T) {
	r := httptest.NewRequest("POST", "/run", strings.NewReader(`{}`))
	r.Header.Set("Content-Type", "application/json")

	req, err := ParseRunJob(r)
	require.NoError(t, err)
	require.NotNil(t, req.Data)
	assert.Empty(t, req.Data)
}

func multipartRequest(t *testing.T, build func(w *multipart.Writer)) *RunJob {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	build(w)
	require.NoError(t, w.Close())

	r := httptest.NewRequest("POST", "/run", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())

	req, err := ParseRunJob(r)
	require.NoError(t, err)
	return req
}

func TestParseRunJob_MultipartFieldsAndFile(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField("device", "dev-1"))
		require.NoError(t, w.WriteField("_queue", "heavy"))
		require.NoError(t, w.WriteField("_dry_run", "true"))
		part, err := w.CreateFormFile("config_template", "baseline.conf")
		require.NoError(t, err)
		_, err = part.Write([]byte("interface Loopback0\n"))
		require.NoError(t, err)
	})

	assert.Equal(t, "heavy", req.Queue)
	require.NotNil(t, req.DryRun)
	assert.True(t, *req.DryRun)
	assert.Equal(t, "dev-1", req.Data["device"])

	upload, ok := req.Files["config_template"]
	require.True(t, ok)
	assert.Equal(t, "baseline.conf", upload.Filename)
	assert.Equal(t, "interface Loopback0\n", string(upload.Content))
}

func TestParseRunJob_MultipartScheduleFlattening(t *testing.T) {
	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField("_schedule_interval", "future"))
		require.NoError(t, w.WriteField("_schedule_name", "morning run"))
		require.NoError(t, w.WriteField("_schedule_start_time", start.Format(time.RFC3339)))
		require.NoError(t, w.WriteField("_schedule_time_zone", "UTC"))
	})

	require.NotNil(t, req.Schedule)
	assert.Equal(t, "future", req.Schedule.Interval)
	assert.Equal(t, "morning run", req.Schedule.Name)
	require.NotNil(t, req.Schedule.StartTime)
	assert.True(t, start.Equal(*req.Schedule.StartTime))
	assert.Equal(t, "UTC", req.Schedule.TimeZone)
}

func TestParseRunJob_MultipartRepeatedFieldBecomesList(t *testing.T) {
	req := multipartRequest(t, func(w *multipart.Writer) {
		require.NoError(t, w.WriteField("devices", "dev-1"))
		require.NoError(t, w.WriteField("devices", "dev-2"))
	})

	assert.Equal(t, []any{"dev-1", "dev-2"}, req.Data["devices"])
}

func TestParseRunJob_MultipartBadStartTime(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("_schedule_start_time", "tomorrow-ish"))
	require.NoError(t, w.Close())

	r := httptest.NewRequest("POST", "/run", &buf)
	r.Header.Set("Content-Type", w.FormDataContentType())

	_, err := ParseRunJob(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_schedule_start_time")
}

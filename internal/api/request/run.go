package request

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// maxUploadBytes bounds one multipart run request.
const maxUploadBytes = 64 << 20

// Schedule is the optional schedule block of a run request.
type Schedule struct {
	Name      string     `json:"name" validate:"omitempty,max=255"`
	Interval  string     `json:"interval" validate:"required,interval"`
	StartTime *time.Time `json:"start_time,omitempty"`
	Crontab   string     `json:"crontab,omitempty"`
	TimeZone  string     `json:"time_zone,omitempty"`
}

// RunJob is the body of POST /jobs/{id}/run. Data holds the raw variable
// values; Files holds uploaded file-typed variables by variable name.
type RunJob struct {
	Queue    string         `json:"queue,omitempty"`
	Data     map[string]any `json:"data"`
	DryRun   *bool          `json:"dry_run,omitempty"`
	Schedule *Schedule      `json:"schedule,omitempty"`

	Files map[string]FileUpload `json:"-"`
}

// FileUpload is one file-typed variable received via multipart form.
type FileUpload struct {
	Filename string
	Content  []byte
}

// ParseRunJob decodes a run request from either a JSON body or a
// multipart form. Multipart forms carry file-typed variables as file
// parts, plain variables as value fields, and the schedule flattened
// into underscore-prefixed fields (_schedule_interval,
// _schedule_start_time, _schedule_crontab, _schedule_time_zone,
// _schedule_name).
func ParseRunJob(r *http.Request) (*RunJob, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		return parseRunMultipart(r)
	}

	var req RunJob
	if err := Decode(r, &req); err != nil {
		return nil, err
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return &req, nil
}

func parseRunMultipart(r *http.Request) (*RunJob, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	req := &RunJob{
		Data:  map[string]any{},
		Files: map[string]FileUpload{},
	}
	var sched Schedule
	hasSchedule := false

	for name, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		switch name {
		case "_queue":
			req.Queue = value
		case "_dry_run":
			dry := value == "true" || value == "1"
			req.DryRun = &dry
		case "_schedule_interval":
			sched.Interval = value
			hasSchedule = true
		case "_schedule_name":
			sched.Name = value
			hasSchedule = true
		case "_schedule_crontab":
			sched.Crontab = value
			hasSchedule = true
		case "_schedule_time_zone":
			sched.TimeZone = value
			hasSchedule = true
		case "_schedule_start_time":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("invalid _schedule_start_time: %w", err)
			}
			sched.StartTime = &t
			hasSchedule = true
		default:
			if len(values) > 1 {
				list := make([]any, len(values))
				for i, v := range values {
					list[i] = v
				}
				req.Data[name] = list
			} else {
				req.Data[name] = value
			}
		}
	}

	for name, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", name, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", name, err)
		}
		req.Files[name] = FileUpload{Filename: headers[0].Filename, Content: content}
	}

	if hasSchedule {
		req.Schedule = &sched
	}
	return req, nil
}

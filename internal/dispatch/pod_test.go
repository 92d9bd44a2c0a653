package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/model"
)

type publishedEvent struct {
	topic   string
	payload map[string]any
}

type recordingEvents struct {
	events []publishedEvent
}

func (r *recordingEvents) Publish(ctx context.Context, topic string, payload map[string]any) {
	r.events = append(r.events, publishedEvent{topic: topic, payload: payload})
}

type podHarness struct {
	db     *fakeDB
	locker *fakeLocker
	events *recordingEvents
	b      *PodBackend
}

func newPodHarness(client *fake.Clientset, cfg PodConfig) *podHarness {
	db := &fakeDB{}
	locker := &fakeLocker{}
	ev := &recordingEvents{}
	b := NewPodBackend(context.Background(), client, cfg,
		core.NewJobResultService(db), core.NewJobLogService(db),
		locker, ev, zerolog.Nop())
	return &podHarness{db: db, locker: locker, events: ev, b: b}
}

func TestPodBackend_Submit_CreatesJob(t *testing.T) {
	client := fake.NewSimpleClientset()
	h := newPodHarness(client, PodConfig{
		Namespace:      "jobs",
		Image:          "registry.local/jobrunner:latest",
		ServiceAccount: "jobrunner",
		EnvSecret:      "jobrunner-env",
		// keep the tracker asleep for the duration of the test
		PollInterval: time.Hour,
	})

	task := Task{
		ResultID:             "0123456789abcdef",
		JobID:                "provision-device",
		Queue:                "pods",
		Args:                 map[string]any{"device": "dev-1"},
		RequestedBy:          "alice",
		HardTimeLimitSeconds: 600,
		LockToken:            "tok-1",
	}
	require.NoError(t, h.b.Submit(context.Background(), task))

	job, err := client.BatchV1().Jobs("jobs").Get(context.Background(), "jobrunner-01234567", metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, "provision-device", job.Labels["jobrunner.io/job-id"])
	assert.Equal(t, task.ResultID, job.Labels["jobrunner.io/result-id"])
	require.NotNil(t, job.Spec.ActiveDeadlineSeconds)
	assert.EqualValues(t, 600, *job.Spec.ActiveDeadlineSeconds)
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.EqualValues(t, 0, *job.Spec.BackoffLimit)

	podSpec := job.Spec.Template.Spec
	assert.Equal(t, corev1.RestartPolicyNever, podSpec.RestartPolicy)
	assert.Equal(t, "jobrunner", podSpec.ServiceAccountName)
	require.Len(t, podSpec.Containers, 1)

	container := podSpec.Containers[0]
	assert.Equal(t, []string{"jobctl", "exec"}, container.Command)
	require.Len(t, container.Env, 1)
	assert.Equal(t, TaskEnvVar, container.Env[0].Name)

	var decoded Task
	require.NoError(t, json.Unmarshal([]byte(container.Env[0].Value), &decoded))
	assert.Equal(t, task.JobID, decoded.JobID)
	assert.Equal(t, "tok-1", decoded.LockToken)

	require.Len(t, container.EnvFrom, 1)
	assert.Equal(t, "jobrunner-env", container.EnvFrom[0].SecretRef.Name)
}

// A pod that never reaches a terminal condition must not be tracked
// forever: when the tracker's deadline passes, the result is failed
// over and the singleton lock released.
func TestPodBackend_Track_DeadlineFailsOver(t *testing.T) {
	stuck := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "jobrunner-res-stuc", Namespace: "jobs"},
		Status:     batchv1.JobStatus{Active: 1},
	}
	client := fake.NewSimpleClientset(stuck)
	h := newPodHarness(client, PodConfig{
		Namespace:    "jobs",
		Image:        "registry.local/jobrunner:latest",
		PollInterval: 2 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	h.b.track(ctx, Task{
		ResultID:    "res-stuck",
		JobID:       "provision-device",
		RequestedBy: "alice",
		LockToken:   "tok",
	}, "jobrunner-res-stuc")

	require.Len(t, h.db.failures, 1)
	assert.Contains(t, h.db.failures[0], "gave up tracking")
	assert.Equal(t, []string{"provision-device"}, h.locker.released)

	require.NotEmpty(t, h.events.events)
	done := h.events.events[len(h.events.events)-1]
	assert.Equal(t, "job.completed", done.topic)
	assert.Equal(t, model.StatusErrored, done.payload["status"])
	assert.Equal(t, "alice", done.payload["user"])
	assert.Contains(t, done.payload["einfo"], "gave up tracking")
}

func TestPodBackend_Finalize_FailurePayload(t *testing.T) {
	h := newPodHarness(fake.NewSimpleClientset(), PodConfig{Namespace: "jobs", PollInterval: time.Hour})

	h.b.finalize(context.Background(), Task{
		ResultID:    "res-2",
		JobID:       "provision-device",
		JobName:     "Provision device",
		RequestedBy: "bob",
		LockToken:   "tok",
	}, false, "deadline exceeded")

	require.Len(t, h.events.events, 1)
	p := h.events.events[0].payload
	assert.Equal(t, "job.completed", h.events.events[0].topic)
	assert.Equal(t, model.StatusErrored, p["status"])
	assert.Equal(t, "Provision device", p["job_name"])
	assert.Equal(t, "deadline exceeded", p["einfo"])
	assert.Equal(t, "bob", p["user"])
	assert.Equal(t, []string{"provision-device"}, h.locker.released)
}

func TestJobName_Truncation(t *testing.T) {
	assert.Equal(t, "jobrunner-01234567", jobName("0123456789abcdef"))
	assert.Equal(t, "jobrunner-abc", jobName("abc"))
}

func TestJobTerminalConditions(t *testing.T) {
	complete := &batchv1.Job{Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
		{Type: batchv1.JobComplete, Status: corev1.ConditionTrue},
	}}}
	failed := &batchv1.Job{Status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{
		{Type: batchv1.JobFailed, Status: corev1.ConditionTrue, Message: "deadline exceeded"},
	}}}
	running := &batchv1.Job{Status: batchv1.JobStatus{Active: 1}}

	assert.True(t, jobSucceeded(complete))
	assert.False(t, jobSucceeded(failed))
	assert.False(t, jobSucceeded(running))

	assert.True(t, jobFailed(failed))
	assert.False(t, jobFailed(complete))
	assert.Equal(t, "deadline exceeded", failureReason(failed))
}

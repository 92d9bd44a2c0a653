package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/events"
	"github.com/edvin/jobrunner/internal/model"
)

// TaskEnvVar carries the serialized task envelope into the pod. The pod
// entrypoint (jobctl exec) reads it back and runs the job body in-process.
const TaskEnvVar = "JOBRUNNER_TASK"

// trackGrace pads the task's hard time limit to cover pod scheduling
// and image pulls before the tracker gives up on it.
const trackGrace = 10 * time.Minute

// PodConfig describes how task pods are built. All fields come from
// worker configuration, not from job definitions.
type PodConfig struct {
	Namespace      string
	Image          string
	ServiceAccount string
	// EnvSecret names a secret whose keys are injected wholesale, used
	// for database and broker credentials.
	EnvSecret    string
	PollInterval time.Duration
	// TTL controls how long finished Jobs linger before the cluster
	// garbage-collects them.
	TTL time.Duration
}

func (c PodConfig) withDefaults() PodConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	return c
}

// PodBackend runs each task as a dedicated Kubernetes Job. Submit
// returns as soon as the Job object is accepted; a backend-owned
// goroutine tracks the pod to completion, mirrors its log stream into
// the result's log entries, and finalizes the result row.
type PodBackend struct {
	// baseCtx is the backend's lifecycle context; every tracker derives
	// its deadline from it so trackers die with the process.
	baseCtx context.Context
	client  kubernetes.Interface
	cfg     PodConfig
	results *core.JobResultService
	logs    *core.JobLogService
	locker  Locker
	events  EventPublisher
	logger  zerolog.Logger
}

// EventPublisher mirrors events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload map[string]any)
}

func NewPodBackend(ctx context.Context, client kubernetes.Interface, cfg PodConfig, results *core.JobResultService, logs *core.JobLogService, locker Locker, ev EventPublisher, logger zerolog.Logger) *PodBackend {
	return &PodBackend{
		baseCtx: ctx,
		client:  client,
		cfg:     cfg.withDefaults(),
		results: results,
		logs:    logs,
		locker:  locker,
		events:  ev,
		logger:  logger.With().Str("component", "pod-backend").Logger(),
	}
}

func (b *PodBackend) Type() string { return model.BackendPodPerTask }

func jobName(resultID string) string {
	if len(resultID) > 8 {
		resultID = resultID[:8]
	}
	return "jobrunner-" + resultID
}

// Submit creates the Job object and hands the task to the tracker
// goroutine. A creation failure is reported synchronously so the
// dispatcher can fail the result; after creation, all failures are
// handled by the tracker.
func (b *PodBackend) Submit(ctx context.Context, task Task) error {
	envelope, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	job := b.buildJob(task, string(envelope))
	created, err := b.client.BatchV1().Jobs(b.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create job %q: %w", job.Name, err)
	}

	b.logger.Info().
		Str("job", created.Name).
		Str("job_result_id", task.ResultID).
		Msg("task pod created")

	// The tracker outlives the submit request but never the process: it
	// is bounded by the hard time limit plus grace, so an unkillable pod
	// or a flapping apiserver cannot leak it.
	timeout := time.Duration(task.HardTimeLimitSeconds)*time.Second + trackGrace
	go func() {
		tctx, cancel := context.WithTimeout(b.baseCtx, timeout)
		defer cancel()
		b.track(tctx, task, created.Name)
	}()
	return nil
}

func (b *PodBackend) buildJob(task Task, envelope string) *batchv1.Job {
	ttl := int32(b.cfg.TTL.Seconds())
	backoff := int32(0) // a failed pod means a failed run, never a retry
	hardLimit := int64(task.HardTimeLimitSeconds)

	env := []corev1.EnvVar{{Name: TaskEnvVar, Value: envelope}}
	var envFrom []corev1.EnvFromSource
	if b.cfg.EnvSecret != "" {
		envFrom = append(envFrom, corev1.EnvFromSource{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: b.cfg.EnvSecret},
			},
		})
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName(task.ResultID),
			Namespace: b.cfg.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "jobrunner",
				"jobrunner.io/job-id":          task.JobID,
				"jobrunner.io/result-id":       task.ResultID,
			},
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: &ttl,
			BackoffLimit:            &backoff,
			ActiveDeadlineSeconds:   &hardLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"jobrunner.io/result-id": task.ResultID},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: b.cfg.ServiceAccount,
					Containers: []corev1.Container{{
						Name:    "task",
						Image:   b.cfg.Image,
						Command: []string{"jobctl", "exec"},
						Env:     env,
						EnvFrom: envFrom,
					}},
				},
			},
		},
	}
}

// track polls the Job until it reaches a terminal condition, then
// mirrors the pod log, finalizes the result and releases the singleton
// lock. It never retries the task.
func (b *PodBackend) track(ctx context.Context, task Task, name string) {
	logger := b.logger.With().Str("job", name).Str("job_result_id", task.ResultID).Logger()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	started := false
	for {
		select {
		case <-ctx.Done():
			// Deadline or shutdown. The pod may still be running, but
			// nobody is left to finalize the result, so fail it over
			// with a fresh context and free the lock.
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			b.finalize(fctx, task, false, fmt.Sprintf("gave up tracking task pod: %v", ctx.Err()))
			return
		case <-ticker.C:
		}

		job, err := b.client.BatchV1().Jobs(b.cfg.Namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				// TTL reaped the Job before we saw it finish.
				b.finalize(ctx, task, false, "task pod disappeared before completion")
				return
			}
			logger.Error().Err(err).Msg("poll task pod")
			continue
		}

		if !started && job.Status.Active > 0 {
			started = true
			won, err := b.results.MarkRunning(ctx, task.ResultID)
			if err != nil {
				logger.Error().Err(err).Msg("mark result running")
			} else if won {
				b.events.Publish(ctx, events.TopicJobStarted, map[string]any{
					"job_id":        task.JobID,
					"job_result_id": task.ResultID,
					"queue":         task.Queue,
				})
			}
		}

		switch {
		case jobSucceeded(job):
			b.mirrorLog(ctx, task)
			b.finalize(ctx, task, true, "")
			return
		case jobFailed(job):
			b.mirrorLog(ctx, task)
			b.finalize(ctx, task, false, failureReason(job))
			return
		}
	}
}

func jobSucceeded(job *batchv1.Job) bool {
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobComplete && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func jobFailed(job *batchv1.Job) bool {
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobFailed && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func failureReason(job *batchv1.Job) string {
	for _, c := range job.Status.Conditions {
		if c.Type == batchv1.JobFailed && c.Status == corev1.ConditionTrue {
			if c.Message != "" {
				return c.Message
			}
			return c.Reason
		}
	}
	return "task pod failed"
}

// mirrorLog copies the pod's stdout into the result's log entries so
// the run transcript is readable without cluster access. The pod body
// also writes structured entries directly; mirrored lines are kept at
// debug level to avoid drowning them out.
func (b *PodBackend) mirrorLog(ctx context.Context, task Task) {
	pods, err := b.client.CoreV1().Pods(b.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "jobrunner.io/result-id=" + task.ResultID,
	})
	if err != nil || len(pods.Items) == 0 {
		return
	}
	pod := pods.Items[0]

	stream, err := b.client.CoreV1().Pods(b.cfg.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{}).Stream(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Str("pod", pod.Name).Msg("stream pod log")
		return
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry := model.JobLogEntry{JobResultID: task.ResultID, Level: model.LogDebug, Message: line}
		if err := b.logs.Append(ctx, &entry); err != nil {
			return
		}
	}
}

func (b *PodBackend) finalize(ctx context.Context, task Task, succeeded bool, reason string) {
	var won bool
	var err error
	if succeeded {
		won, err = b.results.Complete(ctx, task.ResultID, nil)
	} else {
		won, err = b.results.Fail(ctx, task.ResultID, reason)
	}
	if err != nil {
		b.logger.Error().Err(err).Str("job_result_id", task.ResultID).Msg("finalize result")
	}

	if task.LockToken != "" {
		if err := b.locker.Release(ctx, task.JobID, task.LockToken); err != nil {
			b.logger.Warn().Err(err).Str("job_id", task.JobID).Msg("release singleton lock")
		}
	}

	if won {
		// The tracker only wins this transition when the in-pod body
		// never finalized, so the stored output is null on success and
		// the reason carries the failure trace.
		payload := map[string]any{
			"job_id":        task.JobID,
			"job_name":      task.JobName,
			"job_result_id": task.ResultID,
			"user":          task.RequestedBy,
		}
		if succeeded {
			payload["status"] = model.StatusCompleted
			payload["job_output"] = nil
		} else {
			payload["status"] = model.StatusErrored
			payload["einfo"] = reason
		}
		b.events.Publish(ctx, events.TopicJobCompleted, payload)
	}
}

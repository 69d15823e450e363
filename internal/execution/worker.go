package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/profiles"
	"github.com/inaiurai/metagen/internal/tasks"
)

const QueueBatches = "batches"

type BatchRunArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (BatchRunArgs) Kind() string { return "metadata_batch_run" }

// InsertOpts allows a single attempt: a batch that already spent provider
// calls or settled credits is never replayed by the queue.
func (BatchRunArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1, Queue: QueueBatches}
}

// TaskService is what the worker needs from the task lifecycle.
type TaskService interface {
	GetStatus(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	Files(ctx context.Context, taskID uuid.UUID) ([]models.FileJob, error)
	Fail(ctx context.Context, taskID uuid.UUID, reason string) (*models.Task, error)
}

type CredentialSource interface {
	ForTask(ctx context.Context, task *models.Task) (models.Credential, error)
}

type ProfileSource interface {
	Get(id int) (*profiles.Profile, error)
}

type Runner interface {
	Run(ctx context.Context, task *models.Task, files []models.FileJob, cred models.Credential, profile *profiles.Profile) error
}

type BatchRunWorker struct {
	river.WorkerDefaults[BatchRunArgs]
	tasks    TaskService
	creds    CredentialSource
	profiles ProfileSource
	runner   Runner
	timeout  time.Duration
	logger   *slog.Logger
}

func NewBatchRunWorker(ts TaskService, creds CredentialSource, ps ProfileSource, runner Runner, timeout time.Duration, logger *slog.Logger) *BatchRunWorker {
	return &BatchRunWorker{
		tasks:    ts,
		creds:    creds,
		profiles: ps,
		runner:   runner,
		timeout:  timeout,
		logger:   logger.With("component", "batch_worker"),
	}
}

// Timeout bounds a whole batch run rather than river's default per-job minute.
func (w *BatchRunWorker) Timeout(*river.Job[BatchRunArgs]) time.Duration {
	return w.timeout
}

func (w *BatchRunWorker) Work(ctx context.Context, job *river.Job[BatchRunArgs]) error {
	taskID := job.Args.TaskID
	task, err := w.tasks.GetStatus(ctx, taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		return river.JobCancel(err)
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if models.IsTerminalStatus(task.Status) {
		w.logger.Warn("batch already finished, skipping", "task_id", taskID, "status", task.Status)
		return nil
	}

	profile, err := w.profiles.Get(task.ProfileID)
	if err != nil {
		return w.failTask(ctx, task, "load profile", err)
	}
	cred, err := w.creds.ForTask(ctx, task)
	if err != nil {
		return w.failTask(ctx, task, "resolve credential", err)
	}

	files, err := w.tasks.Files(ctx, taskID)
	if err != nil {
		return w.failTask(ctx, task, "load files", err)
	}

	if err := w.runner.Run(ctx, task, files, cred, profile); err != nil {
		// The task is already FAILED; only the job needs closing.
		return river.JobCancel(err)
	}
	return nil
}

func (w *BatchRunWorker) failTask(ctx context.Context, task *models.Task, op string, cause error) error {
	reason := fmt.Sprintf("%s: %v", op, cause)
	w.logger.Error("batch cannot run", "task_id", task.ID, "op", op, "error", cause)
	if _, err := w.tasks.Fail(ctx, task.ID, reason); err != nil {
		return river.JobCancel(fmt.Errorf("%s, and marking task failed: %w", reason, err))
	}
	return river.JobCancel(errors.New(reason))
}

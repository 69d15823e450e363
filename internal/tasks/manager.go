// Package tasks owns the batch task lifecycle: creation with its credit
// reservation, incremental progress, and the terminal transition.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/metagen/internal/ledger"
	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/profiles"
	"github.com/inaiurai/metagen/internal/repository"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrNoFiles           = errors.New("no files provided")
	ErrTooManyFiles      = errors.New("too many files")
	ErrInvalidFiles      = errors.New("every file needs a unique id")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Store is the task persistence the manager needs.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task, files []models.FileJob) error
	ListFiles(ctx context.Context, taskID uuid.UUID) ([]models.FileJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Task, int, error)
}

// Enqueuer hands a created task to the batch runner inside the creation transaction.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error
}

// EnqueueFunc adapts a function, typically a closure over river.Client.InsertTx, to Enqueuer.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error

func (f EnqueueFunc) EnqueueTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
	return f(ctx, tx, taskID)
}

type Limits struct {
	MaxFiles int
	Pricing  Pricing
}

type CreateParams struct {
	OwnerID     uuid.UUID
	Files       []models.FileJob
	ProfileID   int
	NumKeywords int
	TitleChars  int
	Credential  models.Credential
}

type Manager struct {
	pool     repository.TxBeginner
	store    Store
	ledger   ledger.Service
	catalog  *profiles.Catalog
	enqueuer Enqueuer
	limits   Limits
	logger   *slog.Logger
	locks    keyedMutex
	now      func() time.Time
}

func NewManager(pool repository.TxBeginner, store Store, ledger ledger.Service, catalog *profiles.Catalog, enqueuer Enqueuer, limits Limits, logger *slog.Logger) *Manager {
	return &Manager{
		pool:     pool,
		store:    store,
		ledger:   ledger,
		catalog:  catalog,
		enqueuer: enqueuer,
		limits:   limits,
		logger:   logger.With("component", "tasks"),
		now:      time.Now,
	}
}

// CreateTask reserves credits for every file, persists the task and enqueues
// its run in one transaction. Nothing is kept if any step fails.
func (m *Manager) CreateTask(ctx context.Context, p CreateParams) (*models.Task, error) {
	if err := m.validateFiles(p.Files); err != nil {
		return nil, err
	}
	if _, err := m.catalog.Get(p.ProfileID); err != nil {
		return nil, err
	}

	perFile := m.limits.Pricing.PerFile(p.Credential.Shared, p.Credential.Vision)
	task := &models.Task{
		ID:               uuid.New(),
		OwnerID:          p.OwnerID,
		ProfileID:        p.ProfileID,
		Status:           models.TaskStatusCreated,
		TotalFiles:       len(p.Files),
		PerFileCost:      perFile,
		ProviderKind:     p.Credential.Provider,
		SharedCredential: p.Credential.Shared,
		UseVision:        p.Credential.Vision,
		Input: models.TaskInput{
			NumKeywords: p.NumKeywords,
			TitleChars:  p.TitleChars,
		},
		Result: []models.FileOutcome{},
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	escrow, err := m.ledger.Reserve(ctx, tx, p.OwnerID, task.ID, perFile*len(p.Files))
	if err != nil {
		return nil, err
	}
	task.EscrowID = escrow.ID

	if err := m.store.CreateTx(ctx, tx, task, p.Files); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := m.enqueuer.EnqueueTx(ctx, tx, task.ID); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create tx: %w", err)
	}

	m.logger.Info("task created", "task_id", task.ID, "owner_id", task.OwnerID, "files", task.TotalFiles,
		"reserved", escrow.Amount, "provider", task.ProviderKind, "shared", task.SharedCredential)
	return task, nil
}

func (m *Manager) validateFiles(files []models.FileJob) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	if m.limits.MaxFiles > 0 && len(files) > m.limits.MaxFiles {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), m.limits.MaxFiles)
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f.ID == "" {
			return ErrInvalidFiles
		}
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: %q repeated", ErrInvalidFiles, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// Start moves a created task to PROCESSING. Starting a task that is already
// processing is a no-op.
func (m *Manager) Start(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) (bool, error) {
		switch t.Status {
		case models.TaskStatusCreated:
			t.Status = models.TaskStatusProcessing
			return true, nil
		case models.TaskStatusProcessing:
			return false, nil
		default:
			return false, fmt.Errorf("%w: start %s task", ErrInvalidTransition, t.Status)
		}
	})
}

// RecordProgress appends outcomes, keeping the first outcome per file id and
// dropping ids the task does not know. Outcomes for a terminal task are ignored.
func (m *Manager) RecordProgress(ctx context.Context, taskID uuid.UUID, outcomes ...models.FileOutcome) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) (bool, error) {
		if models.IsTerminalStatus(t.Status) {
			m.logger.Debug("outcomes for terminal task ignored", "task_id", t.ID, "status", t.Status, "count", len(outcomes))
			return false, nil
		}

		known := make(map[string]struct{}, len(t.Input.FileIDs))
		for _, id := range t.Input.FileIDs {
			known[id] = struct{}{}
		}
		recorded := make(map[string]struct{}, len(t.Result))
		for _, o := range t.Result {
			recorded[o.FileJobID] = struct{}{}
		}

		changed := false
		for _, o := range outcomes {
			if _, ok := known[o.FileJobID]; !ok {
				continue
			}
			if _, dup := recorded[o.FileJobID]; dup {
				continue
			}
			recorded[o.FileJobID] = struct{}{}
			t.Result = append(t.Result, o)
			changed = true
		}

		if t.Status == models.TaskStatusCreated {
			t.Status = models.TaskStatusProcessing
			changed = true
		}
		t.Progress = len(t.Result)
		if t.Progress == t.TotalFiles {
			t.Status = terminalStatus(t)
		}
		return changed, nil
	})
}

// Finalize records what the run was charged. A task that is not terminal yet
// is closed with the usual success rule.
func (m *Manager) Finalize(ctx context.Context, taskID uuid.UUID, creditsUsed int) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) (bool, error) {
		if t.SettledAt != nil {
			return false, nil
		}
		now := m.now()
		t.CreditsUsed = creditsUsed
		t.SettledAt = &now
		t.SettlementError = ""
		if !models.IsTerminalStatus(t.Status) {
			t.Status = terminalStatus(t)
		}
		return true, nil
	})
}

// SettlementFailed records what the run owes when its escrow could not be
// settled. The task is closed like Finalize does but SettledAt stays nil, so
// the held escrow can be found and settled later.
func (m *Manager) SettlementFailed(ctx context.Context, taskID uuid.UUID, creditsUsed int, reason string) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) (bool, error) {
		if t.SettledAt != nil {
			return false, nil
		}
		t.CreditsUsed = creditsUsed
		t.SettlementError = reason
		if !models.IsTerminalStatus(t.Status) {
			t.Status = terminalStatus(t)
		}
		return true, nil
	})
}

// Fail marks a non-terminal task FAILED. The escrow is left as it is.
func (m *Manager) Fail(ctx context.Context, taskID uuid.UUID, reason string) (*models.Task, error) {
	return m.mutate(ctx, taskID, func(t *models.Task) (bool, error) {
		if models.IsTerminalStatus(t.Status) {
			return false, fmt.Errorf("%w: fail %s task", ErrInvalidTransition, t.Status)
		}
		t.Status = models.TaskStatusFailed
		t.FailureReason = reason
		return true, nil
	})
}

func (m *Manager) GetStatus(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, err := m.store.GetByID(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Files loads the task's files with their image bytes, for the batch run.
func (m *Manager) Files(ctx context.Context, taskID uuid.UUID) ([]models.FileJob, error) {
	files, err := m.store.ListFiles(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task files: %w", err)
	}
	return files, nil
}

// ListTasks pages through an owner's tasks, newest first. page is 1-based.
func (m *Manager) ListTasks(ctx context.Context, ownerID uuid.UUID, page, limit int) ([]*models.Task, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	list, total, err := m.store.ListByOwner(ctx, ownerID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	pageCount := (total + limit - 1) / limit
	return list, pageCount, nil
}

// mutate loads the task under both locks, applies fn and persists when fn reports a change.
func (m *Manager) mutate(ctx context.Context, taskID uuid.UUID, fn func(t *models.Task) (bool, error)) (*models.Task, error) {
	unlock := m.locks.lock(taskID)
	defer unlock()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin task tx: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := m.store.GetByIDForUpdate(ctx, tx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock task: %w", err)
	}

	prev := t.Status
	changed, err := fn(t)
	if err != nil {
		return nil, err
	}
	if !changed {
		return t, nil
	}
	if err := m.store.UpdateTx(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit task tx: %w", err)
	}
	if prev != t.Status {
		m.logger.Info("task status changed", "task_id", t.ID, "from", prev, "to", t.Status, "progress", t.Progress)
	}
	return t, nil
}

func terminalStatus(t *models.Task) string {
	if t.SuccessCount() > 0 {
		return models.TaskStatusCompleted
	}
	return models.TaskStatusFailed
}

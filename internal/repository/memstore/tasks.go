package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/repository"
)

type Tasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
	files map[uuid.UUID][]models.FileJob
	// UpdateErr, when set, is returned by UpdateTx.
	UpdateErr error
	// Updates counts successful UpdateTx calls.
	Updates int
}

func NewTasks() *Tasks {
	return &Tasks{
		tasks: make(map[uuid.UUID]*models.Task),
		files: make(map[uuid.UUID][]models.FileJob),
	}
}

// cloneTask copies t. FileIDs are kept only for the locked read, as in TaskRepo.
func cloneTask(t *models.Task, withFileIDs bool) *models.Task {
	cp := *t
	cp.Result = append([]models.FileOutcome{}, t.Result...)
	cp.Input.FileIDs = nil
	if withFileIDs {
		cp.Input.FileIDs = append([]string(nil), t.Input.FileIDs...)
	}
	return &cp
}

func (m *Tasks) CreateTx(_ context.Context, _ pgx.Tx, t *models.Task, files []models.FileJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Result == nil {
		t.Result = []models.FileOutcome{}
	}
	t.Input.FileIDs = make([]string, len(files))
	for i, f := range files {
		t.Input.FileIDs[i] = f.ID
	}
	m.tasks[t.ID] = cloneTask(t, true)
	m.files[t.ID] = append([]models.FileJob(nil), files...)
	return nil
}

func (m *Tasks) ListFiles(_ context.Context, taskID uuid.UUID) ([]models.FileJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FileJob(nil), m.files[taskID]...), nil
}

func (m *Tasks) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	return m.get(id, false)
}

func (m *Tasks) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.get(id, true)
}

func (m *Tasks) get(id uuid.UUID, withFileIDs bool) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTask(t, withFileIDs), nil
}

func (m *Tasks) UpdateTx(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	prev, ok := m.tasks[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.UpdatedAt = time.Now()
	cp := cloneTask(t, false)
	cp.Input = prev.Input
	m.tasks[t.ID] = cp
	m.Updates++
	return nil
}

func (m *Tasks) ListByOwner(_ context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []*models.Task
	for _, t := range m.tasks {
		if t.OwnerID == ownerID {
			owned = append(owned, cloneTask(t, false))
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	total := len(owned)
	if offset >= total {
		return []*models.Task{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return owned[offset:end], total, nil
}

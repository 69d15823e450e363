package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/repository"
)

type Accounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func NewAccounts(accs ...*models.Account) *Accounts {
	m := &Accounts{accounts: make(map[uuid.UUID]*models.Account)}
	for _, a := range accs {
		m.Put(a)
	}
	return m
}

// Put stores a copy of a, replacing any account with the same id.
func (m *Accounts) Put(a *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
}

func (m *Accounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Accounts) UpdateSettings(_ context.Context, id uuid.UUID, s models.AccountSettings) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.OpenAIKeySealed = s.OpenAIKeySealed
	a.GeminiKeySealed = s.GeminiKeySealed
	a.PreferredProvider = s.PreferredProvider
	a.UseVision = s.UseVision
	cp := *a
	return &cp, nil
}

func (m *Accounts) GetBalance(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return a.CreditBalance, nil
}

func (m *Accounts) ExistsTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[id]
	return ok, nil
}

func (m *Accounts) DeductCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.CreditBalance < amount {
		return 0, repository.ErrNotFound
	}
	a.CreditBalance -= amount
	return a.CreditBalance, nil
}

func (m *Accounts) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	a.CreditBalance += amount
	return a.CreditBalance, nil
}

type Escrows struct {
	mu      sync.Mutex
	escrows map[uuid.UUID]*models.Escrow
}

func NewEscrows() *Escrows {
	return &Escrows{escrows: make(map[uuid.UUID]*models.Escrow)}
}

func (m *Escrows) CreateTx(_ context.Context, _ pgx.Tx, e *models.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}

func (m *Escrows) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Escrows) DeleteTx(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.escrows, id)
	return nil
}

// Len reports how many escrows are still held.
func (m *Escrows) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.escrows)
}

type Credits struct {
	mu      sync.Mutex
	entries []*models.CreditEntry
}

func NewCredits() *Credits {
	return &Credits{}
}

func (m *Credits) CreateTx(_ context.Context, _ pgx.Tx, c *models.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.entries = append(m.entries, &cp)
	return nil
}

// ByType returns copies of all entries of the given type.
func (m *Credits) ByType(entryType string) []models.CreditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CreditEntry
	for _, e := range m.entries {
		if e.EntryType == entryType {
			out = append(out, *e)
		}
	}
	return out
}

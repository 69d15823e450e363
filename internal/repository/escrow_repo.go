package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/metagen/internal/models"
)

// EscrowRepo has no pool of its own: escrows only change inside ledger transactions.
type EscrowRepo struct{}

func NewEscrowRepo() *EscrowRepo {
	return &EscrowRepo{}
}

func (r *EscrowRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.Escrow) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrows (id, account_id, task_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, e.ID, e.AccountID, e.TaskID, e.Amount).Scan(&e.CreatedAt)
}

// GetByIDForUpdate locks the escrow row. A concurrent settle that already
// deleted it makes this return ErrNotFound once the lock is released.
func (r *EscrowRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, task_id, amount, created_at
		FROM escrows WHERE id = $1 FOR UPDATE
	`, id).Scan(&e.ID, &e.AccountID, &e.TaskID, &e.Amount, &e.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (r *EscrowRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `DELETE FROM escrows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

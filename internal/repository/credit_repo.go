package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/metagen/internal/models"
)

// CreditRepo appends credit entries. Entries are only written inside ledger transactions.
type CreditRepo struct{}

func NewCreditRepo() *CreditRepo {
	return &CreditRepo{}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_entries (id, account_id, task_id, escrow_id, entry_type, amount, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.AccountID, c.TaskID, c.EscrowID, c.EntryType, c.Amount, c.BalanceAfter).Scan(&c.CreatedAt)
}

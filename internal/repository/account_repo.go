package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/metagen/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `id, email, credit_balance, openai_key_sealed, gemini_key_sealed, preferred_provider, use_vision, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.CreditBalance, &a.OpenAIKeySealed, &a.GeminiKeySealed, &a.PreferredProvider, &a.UseVision, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// UpdateSettings replaces the owner's sealed keys and provider preferences.
// A nil key clears the stored one.
func (r *AccountRepo) UpdateSettings(ctx context.Context, id uuid.UUID, s models.AccountSettings) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		UPDATE accounts SET openai_key_sealed = $2, gemini_key_sealed = $3, preferred_provider = $4, use_vision = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns,
		id, s.OpenAIKeySealed, s.GeminiKeySealed, s.PreferredProvider, s.UseVision))
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetBalance reads the current balance outside any transaction.
func (r *AccountRepo) GetBalance(ctx context.Context, id uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT credit_balance FROM accounts WHERE id = $1`, id).Scan(&balance)
	return balance, mapErr(err)
}

// ExistsTx reports whether the account row exists, as seen by tx.
func (r *AccountRepo) ExistsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// DeductCredits atomically deducts amount if balance >= amount. ErrNotFound
// means either no such account or not enough credits.
func (r *AccountRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance - $1, updated_at = now()
		WHERE id = $2 AND credit_balance >= $1
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, mapErr(err)
}

// AddCredits adds amount to account and returns new balance.
func (r *AccountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	return newBalance, mapErr(err)
}

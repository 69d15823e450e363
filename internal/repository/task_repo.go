package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/metagen/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// taskSummaryColumns is what readers outside the run need. The locked read
// adds file_ids; images are only ever read by ListFiles.
const taskSummaryColumns = `id, owner_id, profile_id, status, total_files, progress, credits_used, per_file_cost, provider_kind, shared_credential, use_vision, escrow_id, num_keywords, title_chars, result, failure_reason, settlement_error, settled_at, created_at, updated_at`

func scanTask(row pgx.Row, withFileIDs bool) (*models.Task, error) {
	var t models.Task
	dest := []any{&t.ID, &t.OwnerID, &t.ProfileID, &t.Status, &t.TotalFiles, &t.Progress, &t.CreditsUsed, &t.PerFileCost,
		&t.ProviderKind, &t.SharedCredential, &t.UseVision, &t.EscrowID, &t.Input.NumKeywords, &t.Input.TitleChars,
		&t.Result, &t.FailureReason, &t.SettlementError, &t.SettledAt, &t.CreatedAt, &t.UpdatedAt}
	if withFileIDs {
		dest = append(dest, &t.Input.FileIDs)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	if t.Result == nil {
		t.Result = []models.FileOutcome{}
	}
	return &t, nil
}

// CreateTx inserts the task and its files in the same transaction as its escrow.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task, files []models.FileJob) error {
	if t.Result == nil {
		t.Result = []models.FileOutcome{}
	}
	t.Input.FileIDs = make([]string, len(files))
	for i, f := range files {
		t.Input.FileIDs[i] = f.ID
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO tasks (id, owner_id, profile_id, status, total_files, progress, credits_used, per_file_cost, provider_kind, shared_credential, use_vision, escrow_id, num_keywords, title_chars, file_ids, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`, t.ID, t.OwnerID, t.ProfileID, t.Status, t.TotalFiles, t.Progress, t.CreditsUsed, t.PerFileCost,
		t.ProviderKind, t.SharedCredential, t.UseVision, t.EscrowID, t.Input.NumKeywords, t.Input.TitleChars,
		t.Input.FileIDs, t.Result).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"task_files"},
		[]string{"task_id", "position", "file_id", "filename", "title", "image"},
		pgx.CopyFromSlice(len(files), func(i int) ([]any, error) {
			f := files[i]
			return []any{t.ID, i, f.ID, f.Filename, f.Title, f.Image}, nil
		}))
	return err
}

// ListFiles returns the task's files, images included, in submission order.
func (r *TaskRepo) ListFiles(ctx context.Context, taskID uuid.UUID) ([]models.FileJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_id, filename, title, image FROM task_files
		WHERE task_id = $1 ORDER BY position
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []models.FileJob
	for rows.Next() {
		var f models.FileJob
		if err := rows.Scan(&f.ID, &f.Filename, &f.Title, &f.Image); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskSummaryColumns+` FROM tasks WHERE id = $1`, id), false)
}

// GetByIDForUpdate locks the task row and includes file_ids. Call within a transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskSummaryColumns+`, file_ids FROM tasks WHERE id = $1 FOR UPDATE`, id), true)
}

// UpdateTx writes the mutable progress fields. Input and ownership never change.
func (r *TaskRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		UPDATE tasks SET status = $2, progress = $3, credits_used = $4, result = $5, failure_reason = $6,
			settlement_error = $7, settled_at = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.Status, t.Progress, t.CreditsUsed, t.Result, t.FailureReason, t.SettlementError, t.SettledAt).Scan(&t.UpdatedAt)
}

// ListByOwner returns one page of the owner's tasks, newest first, and the owner's total task count.
func (r *TaskRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Task, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskSummaryColumns+` FROM tasks WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows, false)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/repository"
)

var (
	// ErrInsufficientFunds is returned when the balance is too low for the reservation.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAmount is models.ErrInvalidAmount, re-exported for callers of this package.
	ErrInvalidAmount = models.ErrInvalidAmount
	// ErrCostExceedsReservation is models.ErrCostExceedsReservation, re-exported.
	ErrCostExceedsReservation = models.ErrCostExceedsReservation
)

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	GetBalance(ctx context.Context, id uuid.UUID) (int, error)
	ExistsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// EscrowStore persists escrows.
type EscrowStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.Escrow) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Escrow, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// EntryStore appends credit entries.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditEntry) error
}

// Service is the only component that reads or writes balances and escrows.
type Service interface {
	Reserve(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, amount int) (*models.Escrow, error)
	Settle(ctx context.Context, escrowID uuid.UUID, actualCost int) (*models.Settlement, error)
	Balance(ctx context.Context, accountID uuid.UUID) (int, error)
}

type service struct {
	pool     repository.TxBeginner
	accounts AccountStore
	escrows  EscrowStore
	entries  EntryStore
	logger   *slog.Logger
}

func NewService(pool repository.TxBeginner, accounts AccountStore, escrows EscrowStore, entries EntryStore, logger *slog.Logger) Service {
	return &service{
		pool:     pool,
		accounts: accounts,
		escrows:  escrows,
		entries:  entries,
		logger:   logger.With("component", "ledger"),
	}
}

var _ Service = (*service)(nil)

// Reserve runs inside the caller's transaction. The balance check and the
// debit are one conditional UPDATE, so concurrent reservations never both
// see the same balance.
func (s *service) Reserve(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, amount int) (*models.Escrow, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	newBalance, err := s.accounts.DeductCredits(ctx, tx, accountID, amount)
	if errors.Is(err, repository.ErrNotFound) {
		exists, existsErr := s.accounts.ExistsTx(ctx, tx, accountID)
		if existsErr != nil {
			return nil, fmt.Errorf("check account: %w", existsErr)
		}
		if !exists {
			return nil, ErrAccountNotFound
		}
		return nil, ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}

	escrow := &models.Escrow{
		ID:        uuid.New(),
		AccountID: accountID,
		TaskID:    taskID,
		Amount:    amount,
	}
	if err := s.escrows.CreateTx(ctx, tx, escrow); err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}
	if err := s.entries.CreateTx(ctx, tx, &models.CreditEntry{
		ID: uuid.New(), AccountID: accountID, TaskID: &taskID, EscrowID: &escrow.ID,
		EntryType: models.CreditEntryReserve, Amount: amount, BalanceAfter: intPtr(newBalance),
	}); err != nil {
		return nil, fmt.Errorf("record reserve entry: %w", err)
	}
	return escrow, nil
}

// Settle deletes the escrow and credits back whatever was not used, in one
// transaction. Settling an escrow that is already gone is a logged no-op.
func (s *service) Settle(ctx context.Context, escrowID uuid.UUID, actualCost int) (*models.Settlement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	escrow, err := s.escrows.GetByIDForUpdate(ctx, tx, escrowID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.conflict(escrowID, actualCost), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load escrow: %w", err)
	}

	used, refund, err := escrow.Split(actualCost)
	if err != nil {
		return nil, fmt.Errorf("settle escrow %s: %w", escrowID, err)
	}

	if err := s.escrows.DeleteTx(ctx, tx, escrowID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.conflict(escrowID, actualCost), nil
		}
		return nil, fmt.Errorf("delete escrow: %w", err)
	}

	settlement := &models.Settlement{
		EscrowID:  escrow.ID,
		AccountID: escrow.AccountID,
		Reserved:  escrow.Amount,
		Used:      used,
		Refund:    refund,
	}
	taskID := escrow.TaskID

	if refund > 0 {
		newBalance, err := s.accounts.AddCredits(ctx, tx, escrow.AccountID, refund)
		if err != nil {
			return nil, fmt.Errorf("refund credits: %w", err)
		}
		settlement.BalanceAfter = newBalance
		if err := s.entries.CreateTx(ctx, tx, &models.CreditEntry{
			ID: uuid.New(), AccountID: escrow.AccountID, TaskID: &taskID, EscrowID: &escrow.ID,
			EntryType: models.CreditEntryRefund, Amount: refund, BalanceAfter: intPtr(newBalance),
		}); err != nil {
			return nil, fmt.Errorf("record refund entry: %w", err)
		}
	}
	if err := s.entries.CreateTx(ctx, tx, &models.CreditEntry{
		ID: uuid.New(), AccountID: escrow.AccountID, TaskID: &taskID, EscrowID: &escrow.ID,
		EntryType: models.CreditEntryUsage, Amount: used,
	}); err != nil {
		return nil, fmt.Errorf("record usage entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settle tx: %w", err)
	}
	if refund == 0 {
		// Nothing was credited back inside the transaction, so read the balance now.
		if balance, err := s.accounts.GetBalance(ctx, escrow.AccountID); err == nil {
			settlement.BalanceAfter = balance
		}
	}
	s.logger.Info("escrow settled", "escrow_id", escrowID, "task_id", taskID,
		"reserved", escrow.Amount, "used", used, "refund", refund)
	return settlement, nil
}

func (s *service) conflict(escrowID uuid.UUID, actualCost int) *models.Settlement {
	s.logger.Warn("escrow conflict: already settled or never existed", "escrow_id", escrowID, "actual_cost", actualCost)
	return &models.Settlement{EscrowID: escrowID, Conflict: true}
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (int, error) {
	balance, err := s.accounts.GetBalance(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func intPtr(n int) *int { return &n }

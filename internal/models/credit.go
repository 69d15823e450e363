package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Credit entry types. Per task: reserve == usage + refund.
const (
	CreditEntryReserve = "reserve"
	CreditEntryUsage   = "usage"
	CreditEntryRefund  = "refund"
)

var (
	// ErrInvalidAmount is returned for negative costs or non-positive reservations.
	ErrInvalidAmount = errors.New("invalid credit amount")
	// ErrCostExceedsReservation is returned when settling for more than was held.
	ErrCostExceedsReservation = errors.New("actual cost exceeds reserved amount")
)

// Escrow holds credits debited from an account until its task is settled.
type Escrow struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	TaskID    uuid.UUID `json:"task_id"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Split divides the held amount into what is kept and what goes back to the account.
func (e *Escrow) Split(actualCost int) (used, refund int, err error) {
	if actualCost < 0 {
		return 0, 0, ErrInvalidAmount
	}
	if actualCost > e.Amount {
		return 0, 0, ErrCostExceedsReservation
	}
	return actualCost, e.Amount - actualCost, nil
}

// Settlement is the result of converting an escrow into usage plus refund.
type Settlement struct {
	EscrowID     uuid.UUID `json:"escrow_id"`
	AccountID    uuid.UUID `json:"account_id"`
	Reserved     int       `json:"reserved"`
	Used         int       `json:"used"`
	Refund       int       `json:"refund"`
	BalanceAfter int       `json:"balance_after"`
	// Conflict is set when the escrow was already gone and nothing was applied.
	Conflict bool `json:"conflict"`
}

type CreditEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	EscrowID     *uuid.UUID `json:"escrow_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter *int       `json:"balance_after,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status values, in lifecycle order.
const (
	TaskStatusCreated    = "CREATED"
	TaskStatusProcessing = "PROCESSING"
	TaskStatusCompleted  = "COMPLETED"
	TaskStatusFailed     = "FAILED"
)

// IsTerminalStatus reports whether no further transitions are allowed.
func IsTerminalStatus(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusFailed
}

// FileJob is one file of a batch. Image carries decoded bytes when the client
// sent them; it is stored beside the task, never in the task row.
type FileJob struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Image    []byte `json:"-"`
}

// Metadata maps a profile field name to its generated value.
type Metadata map[string]any

// FileOutcome is the terminal result for one FileJob.
type FileOutcome struct {
	FileJobID string   `json:"id"`
	Metadata  Metadata `json:"metadata"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
}

// TaskInput is the run configuration decided at creation time. The files
// themselves are loaded separately when the run starts.
type TaskInput struct {
	// FileIDs is the batch membership in submission order. Only the locked
	// read used for progress updates fills it.
	FileIDs     []string `json:"-"`
	NumKeywords int      `json:"numKeywords"`
	TitleChars  int      `json:"titleChars"`
}

type Task struct {
	ID               uuid.UUID     `json:"id"`
	OwnerID          uuid.UUID     `json:"ownerId"`
	ProfileID        int           `json:"generatorId"`
	Status           string        `json:"status"`
	TotalFiles       int           `json:"totalFiles"`
	Progress         int           `json:"progress"`
	CreditsUsed      int           `json:"creditsUsed"`
	PerFileCost      int           `json:"perFileCost"`
	ProviderKind     string        `json:"provider"`
	SharedCredential bool          `json:"sharedCredential"`
	UseVision        bool          `json:"useVision"`
	EscrowID         uuid.UUID     `json:"escrowId"`
	Input            TaskInput     `json:"-"`
	Result           []FileOutcome `json:"result"`
	FailureReason    string        `json:"failureReason,omitempty"`
	// SettlementError is set when the escrow could not be settled. The escrow
	// stays held and SettledAt stays nil until it is reconciled.
	SettlementError string     `json:"settlementError,omitempty"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// SuccessCount counts successful outcomes recorded so far.
func (t *Task) SuccessCount() int {
	n := 0
	for _, o := range t.Result {
		if o.Success {
			n++
		}
	}
	return n
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider kinds an account may prefer for its own credentials.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Account struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	CreditBalance     int       `json:"creditBalance"`
	OpenAIKeySealed   []byte    `json:"-"`
	GeminiKeySealed   []byte    `json:"-"`
	PreferredProvider string    `json:"preferredProvider,omitempty"`
	UseVision         bool      `json:"useVision"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// AccountSettings is the owner-editable part of an Account, keys already sealed.
type AccountSettings struct {
	OpenAIKeySealed   []byte
	GeminiKeySealed   []byte
	PreferredProvider string
	UseVision         bool
}

// Credential is the resolved provider access for one owner.
type Credential struct {
	Secret   string `json:"-"`
	Provider string `json:"provider"`
	// Shared is true when the platform's own key is used instead of the owner's.
	Shared bool `json:"shared"`
	Vision bool `json:"vision"`
}

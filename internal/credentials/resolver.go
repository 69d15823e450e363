// Package credentials decides which provider credential pays for a batch.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/repository"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoCredential means the owner has no key of their own and no shared key is configured.
	ErrNoCredential = errors.New("no provider credential available")
)

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Resolver struct {
	accounts  AccountReader
	sealer    *Sealer
	sharedKey string
}

// NewResolver builds a Resolver. sharedOpenAIKey may be empty, in which case
// owners without their own key cannot create batches.
func NewResolver(accounts AccountReader, sealer *Sealer, sharedOpenAIKey string) *Resolver {
	return &Resolver{accounts: accounts, sealer: sealer, sharedKey: sharedOpenAIKey}
}

// ForOwner resolves the credential for a new batch: both own keys use the
// preferred provider, a single own key is used as is, otherwise the shared key.
func (r *Resolver) ForOwner(ctx context.Context, ownerID uuid.UUID) (models.Credential, error) {
	acc, err := r.account(ctx, ownerID)
	if err != nil {
		return models.Credential{}, err
	}

	hasOpenAI, hasGemini := len(acc.OpenAIKeySealed) > 0, len(acc.GeminiKeySealed) > 0
	var kind string
	switch {
	case hasOpenAI && hasGemini:
		kind = models.ProviderOpenAI
		if acc.PreferredProvider == models.ProviderGemini {
			kind = models.ProviderGemini
		}
	case hasOpenAI:
		kind = models.ProviderOpenAI
	case hasGemini:
		kind = models.ProviderGemini
	default:
		return r.shared(acc.UseVision)
	}
	return r.own(acc, kind, acc.UseVision)
}

// ForTask re-resolves the credential recorded on a task at creation time so a
// run is billed at the tier that was reserved.
func (r *Resolver) ForTask(ctx context.Context, task *models.Task) (models.Credential, error) {
	if task.SharedCredential {
		return r.shared(task.UseVision)
	}
	acc, err := r.account(ctx, task.OwnerID)
	if err != nil {
		return models.Credential{}, err
	}
	return r.own(acc, task.ProviderKind, task.UseVision)
}

func (r *Resolver) account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc, err := r.accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

func (r *Resolver) own(acc *models.Account, kind string, vision bool) (models.Credential, error) {
	var sealed []byte
	switch kind {
	case models.ProviderOpenAI:
		sealed = acc.OpenAIKeySealed
	case models.ProviderGemini:
		sealed = acc.GeminiKeySealed
	}
	if len(sealed) == 0 {
		return models.Credential{}, fmt.Errorf("%w: owner has no %s key", ErrNoCredential, kind)
	}
	secret, err := r.sealer.Open(sealed)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%s key: %w", kind, err)
	}
	return models.Credential{Secret: secret, Provider: kind, Vision: vision}, nil
}

func (r *Resolver) shared(vision bool) (models.Credential, error) {
	if r.sharedKey == "" {
		return models.Credential{}, ErrNoCredential
	}
	return models.Credential{Secret: r.sharedKey, Provider: models.ProviderOpenAI, Shared: true, Vision: vision}, nil
}

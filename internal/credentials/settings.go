package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/repository"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Settings is what an owner submits for their own keys. An empty key removes
// the stored one.
type Settings struct {
	OpenAIKey         string
	GeminiKey         string
	PreferredProvider string
	UseVision         bool
}

type AccountWriter interface {
	UpdateSettings(ctx context.Context, id uuid.UUID, s models.AccountSettings) (*models.Account, error)
}

// SettingsService seals owner keys before they reach storage.
type SettingsService struct {
	accounts AccountWriter
	sealer   *Sealer
}

func NewSettingsService(accounts AccountWriter, sealer *Sealer) *SettingsService {
	return &SettingsService{accounts: accounts, sealer: sealer}
}

func (s *SettingsService) Save(ctx context.Context, ownerID uuid.UUID, in Settings) (*models.Account, error) {
	preferred, err := preferredProvider(in)
	if err != nil {
		return nil, err
	}
	openAI, err := s.seal(in.OpenAIKey)
	if err != nil {
		return nil, fmt.Errorf("seal openai key: %w", err)
	}
	gemini, err := s.seal(in.GeminiKey)
	if err != nil {
		return nil, fmt.Errorf("seal gemini key: %w", err)
	}

	acc, err := s.accounts.UpdateSettings(ctx, ownerID, models.AccountSettings{
		OpenAIKeySealed:   openAI,
		GeminiKeySealed:   gemini,
		PreferredProvider: preferred,
		UseVision:         in.UseVision,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return acc, nil
}

func (s *SettingsService) seal(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return s.sealer.Seal(key)
}

// preferredProvider falls back to the only key given, then to OpenAI when any key is set.
func preferredProvider(in Settings) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(in.PreferredProvider)); p {
	case models.ProviderOpenAI, models.ProviderGemini:
		return p, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, in.PreferredProvider)
	}
	hasOpenAI := strings.TrimSpace(in.OpenAIKey) != ""
	hasGemini := strings.TrimSpace(in.GeminiKey) != ""
	switch {
	case hasGemini && !hasOpenAI:
		return models.ProviderGemini, nil
	case hasOpenAI:
		return models.ProviderOpenAI, nil
	}
	return "", nil
}

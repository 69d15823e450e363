package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/inaiurai/metagen/internal/credentials"
	"github.com/inaiurai/metagen/internal/middleware"
	"github.com/inaiurai/metagen/internal/models"
)

// maxSettingsBody is far above any real key pair.
const maxSettingsBody = 64 << 10

type SettingsSaver interface {
	Save(ctx context.Context, ownerID uuid.UUID, s credentials.Settings) (*models.Account, error)
}

// SettingsHandler serves /api/user/settings.
type SettingsHandler struct {
	Settings SettingsSaver
	Logger   *slog.Logger

	validate *validator.Validate
}

func NewSettingsHandler(settings SettingsSaver, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{
		Settings: settings,
		Logger:   logger.With("component", "handlers"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type settingsRequest struct {
	OpenAIKey    string `json:"openAiApiKey" validate:"max=512"`
	GeminiKey    string `json:"geminiApiKey" validate:"max=512"`
	PreferredAPI string `json:"preferredApi" validate:"omitempty,oneof=openai gemini OPENAI GEMINI"`
	UseVision    bool   `json:"useAiVision"`
}

// settingsView never carries key material, only whether a key is stored.
type settingsView struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PreferredAPI string    `json:"preferredApi"`
	UseVision    bool      `json:"useAiVision"`
	HasOpenAIKey bool      `json:"hasOpenAiKey"`
	HasGeminiKey bool      `json:"hasGeminiKey"`
}

// --- POST /api/user/settings ---

func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	acc, err := h.Settings.Save(r.Context(), ownerID, credentials.Settings{
		OpenAIKey:         req.OpenAIKey,
		GeminiKey:         req.GeminiKey,
		PreferredProvider: req.PreferredAPI,
		UseVision:         req.UseVision,
	})
	switch {
	case errors.Is(err, credentials.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, credentials.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "Unknown provider")
		return
	case err != nil:
		h.Logger.Error("save settings failed", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"msg":     "Settings saved successfully",
		"user": settingsView{
			ID:           acc.ID,
			Email:        acc.Email,
			PreferredAPI: acc.PreferredProvider,
			UseVision:    acc.UseVision,
			HasOpenAIKey: len(acc.OpenAIKeySealed) > 0,
			HasGeminiKey: len(acc.GeminiKeySealed) > 0,
		},
	})
}

package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/inaiurai/metagen/internal/credentials"
	"github.com/inaiurai/metagen/internal/ledger"
	"github.com/inaiurai/metagen/internal/middleware"
	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/profiles"
	"github.com/inaiurai/metagen/internal/tasks"
)

const (
	defaultNumKeywords = 25
	defaultTitleChars  = 100

	// DefaultMaxBodyBytes caps a generate request, base64 images included.
	DefaultMaxBodyBytes = 100 << 20
)

// TaskService is the lifecycle surface the handlers call.
type TaskService interface {
	CreateTask(ctx context.Context, p tasks.CreateParams) (*models.Task, error)
	GetStatus(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID uuid.UUID, page, limit int) ([]*models.Task, int, error)
}

// CredentialResolver picks the credential a new batch will be billed against.
type CredentialResolver interface {
	ForOwner(ctx context.Context, ownerID uuid.UUID) (models.Credential, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int, error)
}

// TaskHandler serves /api/generate, /api/task, /api/tasks and /api/credits.
type TaskHandler struct {
	Tasks       TaskService
	Credentials CredentialResolver
	Ledger      BalanceReader
	Logger      *slog.Logger
	// MaxBodyBytes bounds POST /api/generate bodies.
	MaxBodyBytes int64

	validate *validator.Validate
}

func NewTaskHandler(ts TaskService, creds CredentialResolver, balances BalanceReader, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		Tasks:        ts,
		Credentials:  creds,
		Ledger:       balances,
		Logger:       logger.With("component", "handlers"),
		MaxBodyBytes: DefaultMaxBodyBytes,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

type fileRequest struct {
	ID       string `json:"id" validate:"required,max=200"`
	Filename string `json:"filename" validate:"required,max=1024"`
	Title    string `json:"title" validate:"max=1024"`
	Base64   string `json:"base64"`
}

type generateRequest struct {
	Files       []fileRequest `json:"files" validate:"dive"`
	GeneratorID int           `json:"generatorId" validate:"required,gte=1"`
	NumKeywords int           `json:"numKeywords" validate:"gte=0,lte=200"`
	TitleChars  int           `json:"titleChars" validate:"gte=0,lte=1000"`
}

// --- POST /api/generate ---

func (h *TaskHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req generateRequest
	body := http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	files := make([]models.FileJob, 0, len(req.Files))
	for _, f := range req.Files {
		img, err := decodeImage(f.Base64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid image data for file "+f.ID)
			return
		}
		files = append(files, models.FileJob{ID: f.ID, Filename: f.Filename, Title: f.Title, Image: img})
	}
	if req.NumKeywords == 0 {
		req.NumKeywords = defaultNumKeywords
	}
	if req.TitleChars == 0 {
		req.TitleChars = defaultTitleChars
	}

	cred, err := h.Credentials.ForOwner(r.Context(), ownerID)
	if err != nil {
		h.writeCreateError(w, ownerID, err)
		return
	}

	task, err := h.Tasks.CreateTask(r.Context(), tasks.CreateParams{
		OwnerID:     ownerID,
		Files:       files,
		ProfileID:   req.GeneratorID,
		NumKeywords: req.NumKeywords,
		TitleChars:  req.TitleChars,
		Credential:  cred,
	})
	if err != nil {
		h.writeCreateError(w, ownerID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "taskId": task.ID})
}

func (h *TaskHandler) writeCreateError(w http.ResponseWriter, ownerID uuid.UUID, err error) {
	switch {
	case errors.Is(err, credentials.ErrAccountNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "Insufficient credits, buy now to keep generating")
	case errors.Is(err, profiles.ErrUnknownProfile):
		writeError(w, http.StatusBadRequest, "Unknown generator")
	case errors.Is(err, tasks.ErrNoFiles):
		writeError(w, http.StatusBadRequest, "No files provided")
	case errors.Is(err, tasks.ErrTooManyFiles), errors.Is(err, tasks.ErrInvalidFiles):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("create task", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// --- GET /api/task?taskId= ---

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	raw := r.URL.Query().Get("taskId")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Task ID is required")
		return
	}
	taskID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}

	task, err := h.Tasks.GetStatus(r.Context(), taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) || (err == nil && task.OwnerID != ownerID) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		h.Logger.Error("get task", "task_id", taskID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

// --- GET /api/tasks?page=&limit= ---

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)

	list, pageCount, err := h.Tasks.ListTasks(r.Context(), ownerID, page, limit)
	if err != nil {
		h.Logger.Error("list tasks", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if list == nil {
		list = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": list, "pageCount": pageCount})
}

// --- GET /api/credits ---

func (h *TaskHandler) Credits(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), ownerID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.Logger.Error("credit balance", "owner_id", ownerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}

// decodeImage accepts raw base64 or a data URL. Empty input means no image.
func decodeImage(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, errors.New("malformed data url")
		}
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "Invalid field " + fe.Namespace() + ": failed " + fe.Tag()
	}
	return "Invalid request body"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "msg": msg})
}

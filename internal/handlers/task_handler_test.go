package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/metagen/internal/credentials"
	"github.com/inaiurai/metagen/internal/ledger"
	"github.com/inaiurai/metagen/internal/middleware"
	"github.com/inaiurai/metagen/internal/models"
	"github.com/inaiurai/metagen/internal/profiles"
	"github.com/inaiurai/metagen/internal/repository/memstore"
	"github.com/inaiurai/metagen/internal/tasks"
)

type fixture struct {
	handler  *TaskHandler
	owner    *models.Account
	accounts *memstore.Accounts
	manager  *tasks.Manager
	enqueued []uuid.UUID
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	catalog, err := profiles.Load("")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{owner: &models.Account{ID: uuid.New(), CreditBalance: balance}}
	f.accounts = memstore.NewAccounts(f.owner)
	pool := &memstore.Pool{}
	led := ledger.NewService(pool, f.accounts, memstore.NewEscrows(), memstore.NewCredits(), logger)
	enq := tasks.EnqueueFunc(func(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
		f.enqueued = append(f.enqueued, id)
		return nil
	})
	f.manager = tasks.NewManager(pool, memstore.NewTasks(), led, catalog, enq,
		tasks.Limits{MaxFiles: 3, Pricing: tasks.DefaultPricing}, logger)

	sealer, err := credentials.NewSealer(strings.Repeat("cd", 32))
	require.NoError(t, err)
	resolver := credentials.NewResolver(f.accounts, sealer, "sk-shared")

	f.handler = NewTaskHandler(f.manager, resolver, led, logger)
	return f
}

func (f *fixture) do(h http.HandlerFunc, method, target, body string, owner uuid.UUID) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if owner != uuid.Nil {
		req = req.WithContext(middleware.WithOwner(req.Context(), owner))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGenerate_CreatesTaskAndReserves(t *testing.T) {
	f := newFixture(t, 100)

	body := `{"files":[{"id":"a","filename":"a.jpg","title":"red bike"},{"id":"b","filename":"b.jpg","title":"blue car"}],"generatorId":1,"numKeywords":20,"titleChars":80}`
	rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate", body, f.owner.ID)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.Equal(t, true, resp["success"])
	taskID, err := uuid.Parse(resp["taskId"].(string))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{taskID}, f.enqueued)

	task, err := f.manager.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCreated, task.Status)
	assert.Equal(t, 2, task.TotalFiles)
	assert.True(t, task.SharedCredential)
	assert.Equal(t, 20, task.Input.NumKeywords)

	bal, err := f.accounts.GetBalance(context.Background(), f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 100-2*tasks.DefaultPricing.SharedText, bal)
}

func TestGenerate_DecodesDataURLAndDefaults(t *testing.T) {
	f := newFixture(t, 100)
	img := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	body := `{"files":[{"id":"a","filename":"a.jpg","base64":"data:image/jpeg;base64,` + img + `"}],"generatorId":3}`

	rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate", body, f.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	taskID := uuid.MustParse(decode(t, rec)["taskId"].(string))
	task, err := f.manager.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, defaultNumKeywords, task.Input.NumKeywords)
	assert.Equal(t, defaultTitleChars, task.Input.TitleChars)

	stored, err := f.manager.Files(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, stored[0].Image)
}

func TestGenerate_RejectsOversizedBody(t *testing.T) {
	f := newFixture(t, 100)
	f.handler.MaxBodyBytes = 256
	img := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xaa}, 1024))
	body := `{"files":[{"id":"a","filename":"a.jpg","base64":"` + img + `"}],"generatorId":1}`

	rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate", body, f.owner.ID)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "Request body too large", decode(t, rec)["msg"])
	assert.Empty(t, f.enqueued)
}

func TestGenerate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		balance int
		body    string
		owner   func(f *fixture) uuid.UUID
		status  int
		msg     string
	}{
		{
			name: "no files", balance: 100,
			body:   `{"files":[],"generatorId":1}`,
			status: http.StatusBadRequest, msg: "No files provided",
		},
		{
			name: "malformed json", balance: 100,
			body:   `{"files":`,
			status: http.StatusBadRequest, msg: "Invalid request body",
		},
		{
			name: "too many files", balance: 1000,
			body:   `{"files":[{"id":"1","filename":"1"},{"id":"2","filename":"2"},{"id":"3","filename":"3"},{"id":"4","filename":"4"}],"generatorId":1}`,
			status: http.StatusBadRequest,
		},
		{
			name: "missing filename", balance: 100,
			body:   `{"files":[{"id":"1"}],"generatorId":1}`,
			status: http.StatusBadRequest,
		},
		{
			name: "bad base64", balance: 100,
			body:   `{"files":[{"id":"1","filename":"1.jpg","base64":"%%%"}],"generatorId":1}`,
			status: http.StatusBadRequest, msg: "Invalid image data for file 1",
		},
		{
			name: "unknown generator", balance: 100,
			body:   `{"files":[{"id":"1","filename":"1.jpg"}],"generatorId":99}`,
			status: http.StatusBadRequest, msg: "Unknown generator",
		},
		{
			name: "insufficient credits", balance: 15,
			body:   `{"files":[{"id":"1","filename":"1.jpg"},{"id":"2","filename":"2.jpg"}],"generatorId":1}`,
			status: http.StatusPaymentRequired, msg: "Insufficient credits, buy now to keep generating",
		},
		{
			name: "unknown user", balance: 100,
			body:   `{"files":[{"id":"1","filename":"1.jpg"}],"generatorId":1}`,
			owner:  func(*fixture) uuid.UUID { return uuid.New() },
			status: http.StatusNotFound, msg: "User not found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.balance)
			owner := f.owner.ID
			if tc.owner != nil {
				owner = tc.owner(f)
			}
			rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate", tc.body, owner)

			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			resp := decode(t, rec)
			assert.Equal(t, false, resp["success"])
			if tc.msg != "" {
				assert.Equal(t, tc.msg, resp["msg"])
			}
			assert.Empty(t, f.enqueued)

			bal, err := f.accounts.GetBalance(context.Background(), f.owner.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.balance, bal, "balance must be untouched")
		})
	}
}

func TestGenerate_Unauthenticated(t *testing.T) {
	f := newFixture(t, 100)
	rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate", `{}`, uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetTask(t *testing.T) {
	f := newFixture(t, 100)
	rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate",
		`{"files":[{"id":"a","filename":"a.jpg"}],"generatorId":1}`, f.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	taskID := decode(t, rec)["taskId"].(string)

	t.Run("owner sees the task", func(t *testing.T) {
		rec := f.do(f.handler.GetTask, http.MethodGet, "/api/task?taskId="+taskID, "", f.owner.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		task := decode(t, rec)["task"].(map[string]any)
		assert.Equal(t, taskID, task["id"])
		assert.Equal(t, models.TaskStatusCreated, task["status"])
		assert.EqualValues(t, 1, task["totalFiles"])
		assert.EqualValues(t, 0, task["progress"])
		assert.Equal(t, f.owner.ID.String(), task["ownerId"])
		assert.EqualValues(t, 1, task["generatorId"])
		assert.Contains(t, task, "perFileCost")
		assert.Contains(t, task, "createdAt")
		assert.NotContains(t, task, "Input")
		for key := range task {
			assert.NotContains(t, key, "_", "poll response keys are camelCase")
		}
	})
	t.Run("missing id", func(t *testing.T) {
		rec := f.do(f.handler.GetTask, http.MethodGet, "/api/task", "", f.owner.ID)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Task ID is required", decode(t, rec)["msg"])
	})
	t.Run("unknown id", func(t *testing.T) {
		rec := f.do(f.handler.GetTask, http.MethodGet, "/api/task?taskId="+uuid.NewString(), "", f.owner.ID)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Task not found", decode(t, rec)["msg"])
	})
	t.Run("malformed id", func(t *testing.T) {
		rec := f.do(f.handler.GetTask, http.MethodGet, "/api/task?taskId=nope", "", f.owner.ID)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("other owner", func(t *testing.T) {
		rec := f.do(f.handler.GetTask, http.MethodGet, "/api/task?taskId="+taskID, "", uuid.New())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListTasks(t *testing.T) {
	f := newFixture(t, 1000)
	for i := 0; i < 3; i++ {
		rec := f.do(f.handler.Generate, http.MethodPost, "/api/generate",
			`{"files":[{"id":"a","filename":"a.jpg"}],"generatorId":1}`, f.owner.ID)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(f.handler.ListTasks, http.MethodGet, "/api/tasks?page=1&limit=2", "", f.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Len(t, resp["tasks"], 2)
	assert.EqualValues(t, 2, resp["pageCount"])

	rec = f.do(f.handler.ListTasks, http.MethodGet, "/api/tasks?page=2&limit=2", "", f.owner.ID)
	assert.Len(t, decode(t, rec)["tasks"], 1)

	rec = f.do(f.handler.ListTasks, http.MethodGet, "/api/tasks", "", uuid.New())
	resp = decode(t, rec)
	assert.Equal(t, []any{}, resp["tasks"])
	assert.EqualValues(t, 0, resp["pageCount"])
}

func TestCredits(t *testing.T) {
	f := newFixture(t, 42)

	rec := f.do(f.handler.Credits, http.MethodGet, "/api/credits", "", f.owner.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 42, decode(t, rec)["balance"])

	rec = f.do(f.handler.Credits, http.MethodGet, "/api/credits", "", uuid.New())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecodeImage(t *testing.T) {
	b, err := decodeImage("")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = decodeImage(base64.StdEncoding.EncodeToString([]byte("hi")))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), b)

	_, err = decodeImage("data:image/png;base64")
	assert.Error(t, err)
}

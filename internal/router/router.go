package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/inaiurai/metagen/internal/handlers"
	"github.com/inaiurai/metagen/internal/middleware"
)

// New mounts the public health check and the session-protected /api routes.
func New(tasks *handlers.TaskHandler, settings *handlers.SettingsHandler, verifier middleware.TokenVerifier, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SessionAuth(verifier))
		r.Post("/generate", tasks.Generate)
		r.Get("/task", tasks.GetTask)
		r.Get("/tasks", tasks.ListTasks)
		r.Get("/credits", tasks.Credits)
		r.Post("/user/settings", settings.Save)
	})

	return r
}

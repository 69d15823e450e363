package main

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/inaiurai/metagen/internal/handlers"
	"github.com/inaiurai/metagen/internal/middleware"
	"github.com/inaiurai/metagen/internal/router"
)

// newHTTPHandler wraps the API router in CORS for the browser front end.
func newHTTPHandler(th *handlers.TaskHandler, sh *handlers.SettingsHandler, verifier middleware.TokenVerifier, origins []string, logger *slog.Logger) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(router.New(th, sh, verifier, logger))
}

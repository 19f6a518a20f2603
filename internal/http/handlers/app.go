package handlers

import (
	"encoding/json"
	"net/http"

	"gallery/internal/billing"
	"gallery/internal/credits"
	"gallery/internal/domain"
	"gallery/internal/infra"
	"gallery/internal/middleware"
	"gallery/internal/pipeline"
	"gallery/internal/providers/image"
	"gallery/internal/storage"
)

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	SQL        infra.SQLExecutor
	Logger     infra.Logger
	Config     *infra.Config
	Scheduler  *pipeline.Scheduler
	Registry   *image.Registry
	Ledger     *credits.Ledger
	Reconciler *billing.Reconciler
	Checkout   *billing.CheckoutClient
	Renders    domain.RenderRepository
	Users      domain.UserRepository
	Artifacts  *storage.ArtifactStore
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: code, Message: message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

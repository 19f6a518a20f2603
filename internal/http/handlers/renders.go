package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"gallery/internal/domain"

	"github.com/go-chi/chi/v5"
)

type renderSubmitRequest struct {
	BasePrompt    string `json:"base_prompt"`
	StylePhrase   string `json:"style_phrase"`
	ModelKey      string `json:"model_key"`
	InputImageKey string `json:"input_image_key"`
}

type renderResponse struct {
	RenderID    string `json:"render_id"`
	Status      string `json:"status"`
	CostCredits int    `json:"cost_credits"`
}

// Models lists the registered generator keys.
func (a *App) Models(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"models":  a.Registry.Keys(),
		"default": a.Config.DefaultModelKey,
	})
}

func (a *App) RenderSubmit(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req renderSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.BasePrompt = strings.TrimSpace(req.BasePrompt)
	if req.BasePrompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "base_prompt is required")
		return
	}
	if req.ModelKey == "" {
		req.ModelKey = a.Config.DefaultModelKey
	}
	if _, err := a.Registry.Get(req.ModelKey); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported model")
		return
	}

	render := domain.NewRender(userID, req.StylePhrase, req.BasePrompt, req.ModelKey, req.InputImageKey, a.Config.RenderCostCredit)
	if err := a.Scheduler.Submit(r.Context(), render); err != nil {
		a.submissionError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, renderResponse{RenderID: render.ID, Status: string(render.Status), CostCredits: render.CostCredits})
}

func (a *App) submissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this render")
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, domain.ErrUserBusy):
		a.error(w, http.StatusTooManyRequests, "rate_limited", "too many renders in flight, try again shortly")
	case errors.Is(err, domain.ErrBalanceUnavailable):
		a.error(w, http.StatusServiceUnavailable, "balance_unavailable", "credit balance could not be verified")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit render")
	}
}

func (a *App) RenderStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	renderID := chi.URLParam(r, "render_id")
	if renderID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "render_id required")
		return
	}
	render, err := a.Renders.GetByID(r.Context(), renderID)
	if err != nil || render.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "render not found")
		return
	}
	resp := map[string]any{
		"id":           render.ID,
		"status":       render.Status,
		"style_phrase": render.StylePhrase,
		"base_prompt":  render.BasePrompt,
		"model_key":    render.ModelKey,
		"cost_credits": render.CostCredits,
		"attempts":     render.Attempts,
		"created_at":   render.CreatedAt,
		"updated_at":   render.UpdatedAt,
	}
	if render.Status == domain.RenderStatusFailed {
		resp["failure_reason"] = render.FailureReason
	}
	if render.Status == domain.RenderStatusSucceeded {
		resp["image_key"] = render.ImageKey
		resp["thumb_key"] = render.ThumbKey
		resp["metadata"] = render.Metadata
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) RenderCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	renderID := chi.URLParam(r, "render_id")
	if renderID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "render_id required")
		return
	}
	if err := a.Scheduler.Cancel(r.Context(), renderID, userID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "render not found")
		case errors.Is(err, domain.ErrNotCancelable):
			a.error(w, http.StatusConflict, "not_cancelable", "render is already processing or finished")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to cancel render")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": renderID, "status": string(domain.RenderStatusFailed)})
}

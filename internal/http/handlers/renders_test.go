package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"gallery/internal/domain"
	"gallery/internal/infra"
	"gallery/internal/middleware"
	"gallery/internal/providers/image"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, req image.GenerateRequest) (image.Result, error) {
	return image.Result{}, nil
}

func newRenderApp() *App {
	registry := image.NewRegistry()
	registry.Register("replicate:sdxl", stubGenerator{})
	return &App{
		Logger:   zerolog.Nop(),
		Config:   &infra.Config{DefaultModelKey: "replicate:sdxl", RenderCostCredit: 1},
		Registry: registry,
	}
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func TestRenderSubmitRequiresAuth(t *testing.T) {
	app := newRenderApp()
	req := httptest.NewRequest(http.MethodPost, "/v1/renders", strings.NewReader(`{"base_prompt":"x"}`))
	rec := httptest.NewRecorder()
	app.RenderSubmit(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRenderSubmitValidation(t *testing.T) {
	app := newRenderApp()
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing prompt", `{"style_phrase":"watercolor"}`},
		{"blank prompt", `{"base_prompt":"   "}`},
		{"unknown model", `{"base_prompt":"x","model_key":"nope"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := authed(httptest.NewRequest(http.MethodPost, "/v1/renders", strings.NewReader(tc.body)), "user-1")
			rec := httptest.NewRecorder()
			app.RenderSubmit(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSubmissionErrorMapping(t *testing.T) {
	app := newRenderApp()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient credits", domain.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{"queue full", domain.ErrQueueFull, http.StatusTooManyRequests, "rate_limited"},
		{"user busy", domain.ErrUserBusy, http.StatusTooManyRequests, "rate_limited"},
		{"balance unavailable", domain.ErrBalanceUnavailable, http.StatusServiceUnavailable, "balance_unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.submissionError(rec, tc.err)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tc.wantCode) {
				t.Fatalf("body %q missing code %q", rec.Body.String(), tc.wantCode)
			}
		})
	}
}

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RenderStatus enumerates render lifecycle states.
type RenderStatus string

const (
	RenderStatusPending    RenderStatus = "pending"
	RenderStatusInProgress RenderStatus = "in_progress"
	RenderStatusRetrying   RenderStatus = "retrying"
	RenderStatusSucceeded  RenderStatus = "succeeded"
	RenderStatusFailed     RenderStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RenderStatus) Terminal() bool {
	return s == RenderStatusSucceeded || s == RenderStatusFailed
}

// Render is one requested image generation tracked from submission to a
// terminal state. Records are never deleted, only transitioned.
type Render struct {
	ID            string
	UserID        string // empty for seeded gallery renders
	StylePhrase   string
	BasePrompt    string
	ModelKey      string
	InputImageKey string // set for image-to-image requests
	Status        RenderStatus
	CostCredits   int
	Attempts      int
	FailureReason string
	ImageKey      string
	ThumbKey      string
	Metadata      map[string]any // provider payload, stored verbatim
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRender builds a pending render. Cost is fixed here and never changes.
func NewRender(userID, stylePhrase, basePrompt, modelKey, inputImageKey string, costCredits int) *Render {
	now := time.Now().UTC()
	return &Render{
		ID:            uuid.NewString(),
		UserID:        userID,
		StylePhrase:   stylePhrase,
		BasePrompt:    basePrompt,
		ModelKey:      modelKey,
		InputImageKey: inputImageKey,
		Status:        RenderStatusPending,
		CostCredits:   costCredits,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Start moves the render into in_progress and counts the attempt. Valid from
// pending and retrying only.
func (r *Render) Start() error {
	if r.Status != RenderStatusPending && r.Status != RenderStatusRetrying {
		return r.transitionError(RenderStatusInProgress)
	}
	r.Status = RenderStatusInProgress
	r.Attempts++
	r.touch()
	return nil
}

// MarkRetrying parks an in_progress render for a later attempt.
func (r *Render) MarkRetrying(reason string) error {
	if r.Status != RenderStatusInProgress {
		return r.transitionError(RenderStatusRetrying)
	}
	r.Status = RenderStatusRetrying
	r.FailureReason = reason
	r.touch()
	return nil
}

// Succeed finalizes the render. The result references are set together with
// the status so readers never observe a partially succeeded record.
func (r *Render) Succeed(imageKey, thumbKey string, metadata map[string]any) error {
	if r.Status != RenderStatusInProgress {
		return r.transitionError(RenderStatusSucceeded)
	}
	if imageKey == "" || thumbKey == "" {
		return fmt.Errorf("render %s: result references required to succeed", r.ID)
	}
	r.Status = RenderStatusSucceeded
	r.ImageKey = imageKey
	r.ThumbKey = thumbKey
	r.FailureReason = ""
	if metadata != nil {
		r.Metadata = metadata
	}
	r.touch()
	return nil
}

// Fail moves the render to its failed terminal state with a human-readable
// reason. Valid from any non-terminal state.
func (r *Render) Fail(reason string) error {
	if r.Status.Terminal() {
		return r.transitionError(RenderStatusFailed)
	}
	r.Status = RenderStatusFailed
	r.FailureReason = reason
	r.touch()
	return nil
}

func (r *Render) touch() {
	r.UpdatedAt = time.Now().UTC()
}

func (r *Render) transitionError(to RenderStatus) error {
	return fmt.Errorf("render %s: %s -> %s: %w", r.ID, r.Status, to, ErrInvalidTransition)
}

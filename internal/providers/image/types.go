package image

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind separates retryable provider failures from final ones.
type ErrorKind string

const (
	// ErrorKindTransient covers timeouts, rate limits and upstream 5xx
	// responses. Transient failures may be retried.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers invalid input and content-policy rejections.
	// Permanent failures are never retried.
	ErrorKindPermanent ErrorKind = "permanent"
)

// ProviderError classifies a failed generation call.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider failure.
func Transient(message string, err error) *ProviderError {
	return &ProviderError{Kind: ErrorKindTransient, Message: message, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(message string, err error) *ProviderError {
	return &ProviderError{Kind: ErrorKindPermanent, Message: message, Err: err}
}

// KindOf extracts the error kind. Errors without a classification, including
// context deadlines from the call-level timeout, count as transient.
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrorKindTransient
}

// GenerateRequest is the normalized input handed to any provider adapter.
type GenerateRequest struct {
	Prompt     string
	ModelKey   string
	InputImage []byte // optional conditioning image (image-to-image)
	Width      int
	Height     int
}

// Result carries the raw generated image and the provider's opaque metadata.
type Result struct {
	Data     []byte
	Format   string
	Metadata map[string]any
}

// Generator is the contract implemented by all provider adapters. Adapters
// are stateless request/response boundaries: they enforce a call-level
// timeout and classify failures, but never retry.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Result, error)
}

// BuildPrompt combines the base prompt with the style phrase.
func BuildPrompt(basePrompt, stylePhrase string) string {
	basePrompt = strings.TrimSpace(basePrompt)
	stylePhrase = strings.TrimSpace(stylePhrase)
	if stylePhrase == "" {
		return basePrompt
	}
	return basePrompt + " " + stylePhrase
}

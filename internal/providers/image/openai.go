package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures the DALL-E adapter.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIGenerator produces images through the OpenAI images API. DALL-E does
// not accept conditioning images, so image-to-image requests fail permanently
// and callers should route those to a model that supports them.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	if len(req.InputImage) > 0 {
		return Result{}, Permanent("model does not accept an input image", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return Result{}, Transient("image response contained no data", nil)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return Result{}, Transient("decode image payload", err)
	}
	metadata := map[string]any{
		"provider": "openai",
		"model":    g.model,
	}
	if resp.Data[0].RevisedPrompt != "" {
		metadata["revised_prompt"] = resp.Data[0].RevisedPrompt
	}
	return Result{Data: data, Format: "png", Metadata: metadata}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return Transient(fmt.Sprintf("openai returned status %d", apiErr.HTTPStatusCode), err)
		default:
			// 400s include invalid prompts and content-policy rejections.
			return Permanent(fmt.Sprintf("openai returned status %d", apiErr.HTTPStatusCode), err)
		}
	}
	return Transient("openai call failed", err)
}

var _ Generator = (*OpenAIGenerator)(nil)

package pipeline

import (
	"context"
	"fmt"
	"time"

	"gallery/internal/domain"
	"gallery/internal/infra"
	"gallery/internal/providers/image"
	"gallery/internal/storage"
)

// RenderProcessor runs one provider call end to end: resolve the generator,
// build the prompt, generate, persist artifacts and record success.
type RenderProcessor struct {
	registry  *image.Registry
	artifacts *storage.ArtifactStore
	renders   domain.RenderRepository
	timeout   time.Duration
	logger    infra.Logger
	now       func() time.Time
}

func NewRenderProcessor(registry *image.Registry, artifacts *storage.ArtifactStore, renders domain.RenderRepository, timeout time.Duration, logger infra.Logger) *RenderProcessor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RenderProcessor{
		registry:  registry,
		artifacts: artifacts,
		renders:   renders,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *RenderProcessor) Process(ctx context.Context, render *domain.Render) error {
	gen, err := p.registry.Get(render.ModelKey)
	if err != nil {
		return image.Permanent(fmt.Sprintf("model %q is not registered", render.ModelKey), err)
	}

	req := image.GenerateRequest{
		Prompt:   image.BuildPrompt(render.BasePrompt, render.StylePhrase),
		ModelKey: render.ModelKey,
	}
	if render.InputImageKey != "" {
		input, rerr := p.artifacts.ReadArtifact(ctx, render.InputImageKey)
		if rerr != nil {
			return image.Permanent("input image is unavailable", rerr)
		}
		req.InputImage = input
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := p.now()
	result, err := gen.Generate(callCtx, req)
	if err != nil {
		return fmt.Errorf("generate %s: %w", render.ModelKey, err)
	}
	elapsed := p.now().Sub(started)

	imageKey, thumbKey, err := p.artifacts.SaveRender(ctx, render.ID, p.now(), result.Data)
	if err != nil {
		// Local persistence hiccups are worth another attempt.
		return image.Transient("persist render artifacts", err)
	}

	metadata := map[string]any{
		"provider_ms": elapsed.Milliseconds(),
		"format":      result.Format,
	}
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	// Success is staged on a copy until the write is confirmed. A failed
	// write leaves the render in_progress so the attempt stays retryable.
	staged := *render
	if err := staged.Succeed(imageKey, thumbKey, metadata); err != nil {
		return image.Permanent("record success", err)
	}
	if err := p.renders.Update(ctx, &staged); err != nil {
		return image.Transient("persist succeeded render", err)
	}
	*render = staged

	p.logger.Info().Str("render_id", render.ID).Str("image_key", imageKey).Dur("provider_latency", elapsed).Msg("processor: render complete")
	return nil
}

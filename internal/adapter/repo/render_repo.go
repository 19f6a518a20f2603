package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gallery/internal/domain"
)

// RenderRepositoryPG implements domain.RenderRepository.
type RenderRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewRenderRepository creates a render repository backed by PostgreSQL.
func NewRenderRepository(pool *pgxpool.Pool) *RenderRepositoryPG {
	return &RenderRepositoryPG{pool: pool}
}

// Create inserts a new render record.
func (r *RenderRepositoryPG) Create(ctx context.Context, render *domain.Render) error {
	metadata, err := marshalMetadata(render.Metadata)
	if err != nil {
		return err
	}
	query := `
INSERT INTO renders (id, user_id, style_phrase, base_prompt, model_key, input_image_key, status, cost_credits, attempts, failure_reason, image_key, thumb_key, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err = r.pool.Exec(ctx, query,
		render.ID,
		nullableString(render.UserID),
		render.StylePhrase,
		render.BasePrompt,
		render.ModelKey,
		nullableString(render.InputImageKey),
		render.Status,
		render.CostCredits,
		render.Attempts,
		render.FailureReason,
		render.ImageKey,
		render.ThumbKey,
		metadata,
		render.CreatedAt,
		render.UpdatedAt,
	)
	return err
}

// Update persists the render's mutable fields.
func (r *RenderRepositoryPG) Update(ctx context.Context, render *domain.Render) error {
	metadata, err := marshalMetadata(render.Metadata)
	if err != nil {
		return err
	}
	query := `
UPDATE renders
SET status = $2,
    attempts = $3,
    failure_reason = $4,
    image_key = $5,
    thumb_key = $6,
    metadata = $7,
    updated_at = $8
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		render.ID,
		render.Status,
		render.Attempts,
		render.FailureReason,
		render.ImageKey,
		render.ThumbKey,
		metadata,
		render.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a render by its identifier.
func (r *RenderRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Render, error) {
	query := `
SELECT id, COALESCE(user_id, ''), style_phrase, base_prompt, model_key, COALESCE(input_image_key, ''), status, cost_credits, attempts, failure_reason, image_key, thumb_key, metadata, created_at, updated_at
FROM renders
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var (
		render   domain.Render
		metadata []byte
	)
	if err := row.Scan(
		&render.ID,
		&render.UserID,
		&render.StylePhrase,
		&render.BasePrompt,
		&render.ModelKey,
		&render.InputImageKey,
		&render.Status,
		&render.CostCredits,
		&render.Attempts,
		&render.FailureReason,
		&render.ImageKey,
		&render.ThumbKey,
		&metadata,
		&render.CreatedAt,
		&render.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &render.Metadata); err != nil {
			return nil, fmt.Errorf("decode render metadata: %w", err)
		}
	}
	return &render, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode render metadata: %w", err)
	}
	return data, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

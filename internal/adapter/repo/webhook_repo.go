package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"gallery/internal/domain"
)

// WebhookEventRepositoryPG implements domain.WebhookEventRepository.
type WebhookEventRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository creates a webhook dedup repository backed by
// PostgreSQL.
func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepositoryPG {
	return &WebhookEventRepositoryPG{pool: pool}
}

// InsertIfAbsent records the event id once. The unique constraint makes the
// insert race-safe under concurrent redelivery; only the winning insert
// reports true.
func (r *WebhookEventRepositoryPG) InsertIfAbsent(ctx context.Context, event domain.WebhookEvent) (bool, error) {
	query := `
INSERT INTO webhook_events (event_id, event_type, outcome, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING;
`
	tag, err := r.pool.Exec(ctx, query, event.EventID, event.EventType, event.Outcome, event.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

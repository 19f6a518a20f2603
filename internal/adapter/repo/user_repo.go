package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gallery/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a user repository backed by PostgreSQL.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// GetByID fetches a user by its identifier.
func (r *UserRepositoryPG) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
SELECT id, google_sub, email, COALESCE(stripe_customer_id, ''), created_at
FROM users
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var user domain.User
	if err := row.Scan(&user.ID, &user.GoogleSub, &user.Email, &user.StripeCustomerID, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// StripeCustomerID resolves the payment customer for a user.
func (r *UserRepositoryPG) StripeCustomerID(ctx context.Context, userID string) (string, error) {
	query := `
SELECT COALESCE(stripe_customer_id, '')
FROM users
WHERE id = $1;
`
	var customerID string
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&customerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return customerID, nil
}

// SetStripeCustomerID stores the payment customer mapping after first
// checkout.
func (r *UserRepositoryPG) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	query := `
UPDATE users
SET stripe_customer_id = $2
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, userID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

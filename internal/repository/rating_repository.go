package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

// RatingRepository stores one rating per (ticket, user).
type RatingRepository interface {
	// Upsert inserts or replaces the score. A nil comment keeps the stored one.
	Upsert(ctx context.Context, rating *domain.Rating) error
	Get(ctx context.Context, ticketID int64, userID string) (*domain.Rating, error)
}

type ratingRepository struct {
	pool *pgxpool.Pool
}

// NewRatingRepository builds repository.
func NewRatingRepository(pool *pgxpool.Pool) RatingRepository {
	return &ratingRepository{pool: pool}
}

func (r *ratingRepository) Upsert(ctx context.Context, rating *domain.Rating) error {
	const query = `
        INSERT INTO ticket_ratings (ticket_id, user_id, rating, comment)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (ticket_id, user_id) DO UPDATE
            SET rating=EXCLUDED.rating,
                comment=COALESCE(EXCLUDED.comment, ticket_ratings.comment),
                updated_at=NOW()
        RETURNING id, comment, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		rating.TicketID,
		rating.UserID,
		rating.Rating,
		rating.Comment,
	).Scan(&rating.ID, &rating.Comment, &rating.CreatedAt, &rating.UpdatedAt)
}

func (r *ratingRepository) Get(ctx context.Context, ticketID int64, userID string) (*domain.Rating, error) {
	const query = `
        SELECT id, ticket_id, user_id, rating, comment, created_at, updated_at
        FROM ticket_ratings WHERE ticket_id=$1 AND user_id=$2`
	var rating domain.Rating
	if err := r.pool.QueryRow(ctx, query, ticketID, userID).Scan(
		&rating.ID,
		&rating.TicketID,
		&rating.UserID,
		&rating.Rating,
		&rating.Comment,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rating, nil
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

// TicketMessageRepository manages the routed message log.
type TicketMessageRepository interface {
	Create(ctx context.Context, msg *domain.TicketMessage) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error)
	// ListUndelivered returns messages buffered while the ticket waited for an agent, oldest first.
	ListUndelivered(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error)
	MarkDelivered(ctx context.Context, ids []int64) error
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, direction, author_id, body, media, delivered)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		msg.TicketID,
		msg.Direction,
		msg.AuthorID,
		msg.Body,
		msg.Media,
		msg.Delivered,
	).Scan(&msg.ID, &msg.CreatedAt)
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, ticket_id, direction, author_id, body, media, delivered, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY id ASC`
	return r.list(ctx, query, ticketID)
}

func (r *ticketMessageRepository) ListUndelivered(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, ticket_id, direction, author_id, body, media, delivered, created_at
        FROM ticket_messages WHERE ticket_id=$1 AND NOT delivered ORDER BY id ASC`
	return r.list(ctx, query, ticketID)
}

func (r *ticketMessageRepository) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE ticket_messages SET delivered=TRUE WHERE id = ANY($1)`, ids)
	return err
}

func (r *ticketMessageRepository) list(ctx context.Context, query string, ticketID int64) ([]domain.TicketMessage, error) {
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.Direction,
			&msg.AuthorID,
			&msg.Body,
			&msg.Media,
			&msg.Delivered,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

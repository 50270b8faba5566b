package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = pgx.ErrNoRows
	// ErrPrecondition is returned when a conditional write matched no row
	// because the stored state moved on.
	ErrPrecondition = errors.New("repository: precondition failed")
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	NextDisplayID(ctx context.Context) (int64, error)
	Create(ctx context.Context, ticket *domain.Ticket) error
	// MarkTaken assigns the ticket and moves it to in_progress only while it is pending.
	MarkTaken(ctx context.Context, id int64, agentID string, takenAt time.Time) error
	// RevertTake undoes MarkTaken after a failed thread creation.
	RevertTake(ctx context.Context, id int64) error
	SetThreadRef(ctx context.Context, id int64, ref string) error
	SetOriginRef(ctx context.Context, id int64, ref string) error
	// UpdateStatus moves the ticket to status when its current status is one of from.
	UpdateStatus(ctx context.Context, id int64, from []domain.TicketStatus, to domain.TicketStatus, at time.Time) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetByDisplayID(ctx context.Context, displayID int64) (*domain.Ticket, error)
	ListActive(ctx context.Context) ([]domain.Ticket, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Ticket, error)
	CountClosedSince(ctx context.Context, agentID string, since time.Time) (int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, display_id, user_id, username, assigned_agent_id, category, initial_message,
               origin_message_ref, thread_ref, status, created_at, updated_at, taken_at, closed_at`

func (r *ticketRepository) NextDisplayID(ctx context.Context) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT nextval('ticket_display_seq')`).Scan(&id)
	return id, err
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (display_id, user_id, username, category, initial_message, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.DisplayID,
		ticket.UserID,
		ticket.Username,
		ticket.Category,
		ticket.InitialMessage,
		ticket.Status,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) MarkTaken(ctx context.Context, id int64, agentID string, takenAt time.Time) error {
	const query = `
        UPDATE tickets SET assigned_agent_id=$1, status='in_progress', taken_at=$2, updated_at=NOW()
        WHERE id=$3 AND status='pending'`
	return r.execConditional(ctx, id, query, agentID, takenAt, id)
}

func (r *ticketRepository) RevertTake(ctx context.Context, id int64) error {
	const query = `
        UPDATE tickets SET assigned_agent_id=NULL, status='pending', taken_at=NULL, updated_at=NOW()
        WHERE id=$1 AND status='in_progress' AND thread_ref IS NULL`
	return r.execConditional(ctx, id, query, id)
}

func (r *ticketRepository) SetThreadRef(ctx context.Context, id int64, ref string) error {
	const query = `UPDATE tickets SET thread_ref=$1, updated_at=NOW() WHERE id=$2 AND thread_ref IS NULL`
	return r.execConditional(ctx, id, query, ref, id)
}

func (r *ticketRepository) SetOriginRef(ctx context.Context, id int64, ref string) error {
	const query = `UPDATE tickets SET origin_message_ref=$1, updated_at=NOW() WHERE id=$2 AND origin_message_ref IS NULL`
	return r.execConditional(ctx, id, query, ref, id)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id int64, from []domain.TicketStatus, to domain.TicketStatus, at time.Time) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	var closedAt *time.Time
	if to.IsTerminal() {
		closedAt = &at
	}
	const query = `
        UPDATE tickets SET status=$1, closed_at=COALESCE($2, closed_at), updated_at=$3
        WHERE id=$4 AND status = ANY($5)`
	return r.execConditional(ctx, id, query, to, closedAt, at, id, allowed)
}

// execConditional tells a missing row apart from a row whose state did not match.
func (r *ticketRepository) execConditional(ctx context.Context, id int64, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrPrecondition
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketRepository) GetByDisplayID(ctx context.Context, displayID int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE display_id=$1`, displayID)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) ListActive(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
             WHERE status IN ('pending','in_progress') ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
             WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) CountClosedSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	const query = `
        SELECT COUNT(*) FROM tickets
        WHERE assigned_agent_id=$1 AND status='closed' AND closed_at >= $2`
	var count int
	err := r.pool.QueryRow(ctx, query, agentID, since).Scan(&count)
	return count, err
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.DisplayID,
			&ticket.UserID,
			&ticket.Username,
			&ticket.AssignedAgentID,
			&ticket.Category,
			&ticket.InitialMessage,
			&ticket.OriginMessageRef,
			&ticket.ThreadRef,
			&ticket.Status,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.TakenAt,
			&ticket.ClosedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

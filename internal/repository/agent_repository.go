package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-relay/internal/domain"
)

// AgentRepository handles persistence for support agents.
type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, id string) (*domain.Agent, error)
	GetByLogin(ctx context.Context, login string) (*domain.Agent, error)
	GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*domain.Agent, error)
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

const agentColumns = `id, login, display_name, password_hash, active_flag, telegram_user_id, created_at, updated_at`

func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	const query = `
        INSERT INTO agents (login, display_name, password_hash, active_flag, telegram_user_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		agent.Login,
		agent.DisplayName,
		agent.PasswordHash,
		agent.Active,
		agent.TelegramUserID,
	).Scan(&agent.ID, &agent.CreatedAt, &agent.UpdatedAt)
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*domain.Agent, error) {
	return r.fetchSingle(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=$1`, id)
}

func (r *agentRepository) GetByLogin(ctx context.Context, login string) (*domain.Agent, error) {
	return r.fetchSingle(ctx, `SELECT `+agentColumns+` FROM agents WHERE login=$1`, login)
}

func (r *agentRepository) GetByTelegramUserID(ctx context.Context, telegramUserID int64) (*domain.Agent, error) {
	return r.fetchSingle(ctx, `SELECT `+agentColumns+` FROM agents WHERE telegram_user_id=$1`, telegramUserID)
}

func (r *agentRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Agent, error) {
	var agent domain.Agent
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&agent.ID,
		&agent.Login,
		&agent.DisplayName,
		&agent.PasswordHash,
		&agent.Active,
		&agent.TelegramUserID,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &agent, nil
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BalanceRepository tracks agent rewards.
type BalanceRepository interface {
	// Credit adds amount to the agent's balance and returns the new total.
	Credit(ctx context.Context, agentID string, amount float64) (float64, error)
	// Get returns zero for agents that were never credited.
	Get(ctx context.Context, agentID string) (float64, error)
}

type balanceRepository struct {
	pool *pgxpool.Pool
}

// NewBalanceRepository builds repository.
func NewBalanceRepository(pool *pgxpool.Pool) BalanceRepository {
	return &balanceRepository{pool: pool}
}

func (r *balanceRepository) Credit(ctx context.Context, agentID string, amount float64) (float64, error) {
	const query = `
        INSERT INTO agent_balances (agent_id, balance) VALUES ($1,$2)
        ON CONFLICT (agent_id) DO UPDATE SET balance=agent_balances.balance+EXCLUDED.balance, updated_at=NOW()
        RETURNING balance`
	var total float64
	err := r.pool.QueryRow(ctx, query, agentID, amount).Scan(&total)
	return total, err
}

func (r *balanceRepository) Get(ctx context.Context, agentID string) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM agent_balances WHERE agent_id=$1`, agentID).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

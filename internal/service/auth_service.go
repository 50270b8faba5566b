package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spec-kit/support-relay/internal/auth"
	"github.com/spec-kit/support-relay/internal/config"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/repository"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// AuthService coordinates agent login.
type AuthService struct {
	agents     repository.AgentRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, agents repository.AgentRepository) *AuthService {
	return &AuthService{
		agents:     agents,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
	}
}

// LoginAgent authenticates an agent and issues a bearer token.
func (s *AuthService) LoginAgent(ctx context.Context, login, password string) (*domain.Agent, string, time.Time, error) {
	agent, err := s.agents.GetByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	if !agent.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("agent inactive")
	}
	if err := auth.ComparePassword(agent.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(agent.ID, domain.SubjectTypeAgent)
	if err != nil {
		return nil, "", time.Time{}, apperrors.NewInternalError(err)
	}
	return agent, token, exp, nil
}

// EnsureAgent creates the agent when no agent with login exists.
func (s *AuthService) EnsureAgent(ctx context.Context, login, password, displayName string) (*domain.Agent, error) {
	existing, err := s.agents.GetByLogin(ctx, login)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	agent := &domain.Agent{Login: login, DisplayName: displayName, PasswordHash: hash, Active: true}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// AgentIDForChatUser maps a chat account to an agent id. Accounts linked to
// an agent record share its id; others get a stable "tg:" id.
func (s *AuthService) AgentIDForChatUser(ctx context.Context, chatUserID int64) string {
	if agent, err := s.agents.GetByTelegramUserID(ctx, chatUserID); err == nil {
		return agent.ID
	}
	return "tg:" + strconv.FormatInt(chatUserID, 10)
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

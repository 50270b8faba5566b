package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/api/dto"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// AgentsHandler exposes agent auth endpoints.
type AgentsHandler struct {
	authService *service.AuthService
}

// NewAgentsHandler constructs handler.
func NewAgentsHandler(authService *service.AuthService) *AgentsHandler {
	return &AgentsHandler{authService: authService}
}

// Login handles POST /auth/agents/login.
func (h *AgentsHandler) Login(c *fiber.Ctx) error {
	var req dto.AgentLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Login == "" || req.Password == "" {
		return apperrors.NewValidationError("login and password required", nil)
	}

	agent, token, exp, err := h.authService.LoginAgent(c.UserContext(), req.Login, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"agent": agentResponse(agent),
			"auth":  dto.AuthResponse{Token: token, ExpiresAt: exp},
		},
	})
}

// Me handles GET /agent/me.
func (h *AgentsHandler) Me(c *fiber.Ctx) error {
	agent, err := agentPrincipal(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": agentResponse(agent)})
}

func agentResponse(agent *domain.Agent) dto.AgentResponse {
	return dto.AgentResponse{ID: agent.ID, Login: agent.Login, DisplayName: agent.DisplayName}
}

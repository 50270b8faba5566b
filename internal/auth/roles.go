package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-relay/internal/domain"
)

// RequireAgent ensures a support agent is authenticated.
func RequireAgent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.SubjectType != domain.SubjectTypeAgent || principal.Agent == nil {
			return fiber.NewError(http.StatusForbidden, "agent required")
		}
		return c.Next()
	}
}

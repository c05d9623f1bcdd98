package identity

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"habitora-core/internal/docstore/domain/model"
	"habitora-core/internal/docstore/domain/repository"
	"habitora-core/internal/shared/contextkeys"
	"habitora-core/internal/shared/logger"
)

// AuthMiddleware provides authentication middleware for Fiber
type AuthMiddleware struct {
	tokens *TokenService
	log    logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens *TokenService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		log:    log,
	}
}

// RequestID middleware
func (m *AuthMiddleware) RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     "X-Request-ID",
		ContextKey: string(contextkeys.RequestIDKey),
	})
}

// Protect returns middleware that requires authentication
func (m *AuthMiddleware) Protect() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := m.extractToken(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		claims, err := m.tokens.ValidateToken(c.Context(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.SetUserContext(contextWithClaims(c.UserContext(), claims))
		return c.Next()
	}
}

// OptionalAuth middleware that optionally validates authentication
func (m *AuthMiddleware) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := m.extractToken(c)
		if err != nil || token == "" {
			return c.Next() // Continue without authentication
		}

		claims, err := m.tokens.ValidateToken(c.Context(), token)
		if err != nil {
			// Invalid token, but continue without authentication
			return c.Next()
		}

		c.SetUserContext(contextWithClaims(c.UserContext(), claims))
		return c.Next()
	}
}

// contextWithClaims injects the verified claims for downstream handlers. The
// document store principal is attached as well so security rules evaluate
// against the same caller the usecases see.
func contextWithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, contextkeys.UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, contextkeys.UserEmailKey, claims.Email)
	if claims.Role != "" {
		ctx = context.WithValue(ctx, contextkeys.UserRoleKey, claims.Role)
	}
	return repository.ContextWithPrincipal(ctx, &model.Principal{
		UID:   claims.UserID,
		Email: claims.Email,
		Role:  claims.Role,
	})
}

// extractToken extracts the token from Authorization header or query parameter
func (m *AuthMiddleware) extractToken(c *fiber.Ctx) (string, error) {
	// Try Authorization header first
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer "), nil
		}
	}

	// Try query parameter (for WebSocket connections)
	token := c.Query("token")
	if token != "" {
		return token, nil
	}

	return "", fiber.NewError(fiber.StatusUnauthorized, "No authentication token found")
}

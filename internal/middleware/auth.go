package middleware

import (
	"errors"
	"net/http"
	"strings"

	"familytree-service/internal/model"
	"familytree-service/internal/policy"
	"familytree-service/pkg/database"
	"familytree-service/pkg/jwtutil"
	"familytree-service/pkg/logger"
	"familytree-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthMiddleware validates the JWT token from the Authorization header and
// resolves the requester snapshot. The caller's role and approval status are
// looked up from its own user row exactly once, under the system context (a
// single non-recursive self-read), and frozen into the request context for
// every subsequent policy decision.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		// Get the Authorization header
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			log.Error("Missing Authorization header")
			prometheus.RecordAuthError("missing_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
		}

		// Check if it's a Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			log.Error("Invalid Authorization header format")
			prometheus.RecordAuthError("invalid_auth_format")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
		}

		// Validate the token
		claims, err := jwtutil.ValidateToken(parts[1])
		if err != nil {
			log.Error("Invalid JWT token", zap.Error(err))
			prometheus.RecordAuthError("invalid_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		}

		subjectID, err := claims.SubjectID()
		if err != nil {
			log.Error("Invalid token subject", zap.Error(err))
			prometheus.RecordAuthError("invalid_token_subject")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token subject"})
		}

		// Resolve the requester's own row. Token claims about role or
		// approval are never trusted for authorization.
		requester := policy.Requester{ID: subjectID, Email: claims.Email}
		var user model.User
		systemCtx := policy.SystemContext(c.Request().Context())
		result := database.GetDB().WithContext(systemCtx).First(&user, "id = ?", subjectID)
		switch {
		case result.Error == nil:
			requester = policy.FromUser(&user)
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			// Valid identity without a profile row yet: the requester
			// may still self-provision. No role, no privileges.
		default:
			log.Error("Failed to resolve requester", zap.Error(result.Error))
			prometheus.RecordAuthError("requester_resolution_failed")
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "authentication failed"})
		}

		ctx := policy.WithRequester(c.Request().Context(), &requester)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Set("requester", &requester)
		c.Set("user_id", requester.ID)
		c.Set("email", requester.Email)

		return next(c)
	}
}

// RequireSuperAdmin rejects requests whose resolved requester does not hold
// active super-admin privileges. Handlers behind it still go through the
// policy evaluator; this is the early, cheap gate.
func RequireSuperAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requester, _ := c.Get("requester").(*policy.Requester)
		if !requester.IsSuperAdmin() {
			logger.FromContext(c).Warn("Super-admin route denied",
				zap.String("role", roleOf(requester)))
			prometheus.RecordPolicyDenial("route", "super_admin")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "super admin privileges required"})
		}
		return next(c)
	}
}

func roleOf(r *policy.Requester) string {
	if r == nil {
		return "anonymous"
	}
	return r.Role
}

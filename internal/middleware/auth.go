package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/speymell/crmbot/internal/model"
	"github.com/speymell/crmbot/internal/permission"
	"github.com/speymell/crmbot/internal/tenant"
	"github.com/speymell/crmbot/pkg/database"
	"github.com/speymell/crmbot/pkg/jwtutil"
	"github.com/speymell/crmbot/pkg/logger"
	"github.com/speymell/crmbot/prometheus"
)

const userContextKey = "current_user"

// BusinessIDHeader is the optional secondary tenant claim. When present it
// must agree with the token's business id exactly.
const BusinessIDHeader = "X-Business-Id"

// Authenticate validates the bearer token, loads the acting user and binds
// the tenant scope into the request context. The user row must exist, be
// active and belong to the business named in the token; any disagreement
// invalidates the whole credential rather than producing a 403.
func Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromContext(c)

		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			prometheus.RecordAuthError("missing_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization token"})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			prometheus.RecordAuthError("invalid_auth_format")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization format, expected Bearer token"})
		}

		claims, err := jwtutil.ValidateToken(parts[1])
		if err != nil {
			log.Warn("Invalid JWT token", zap.Error(err))
			prometheus.RecordAuthError("invalid_token")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		}

		var user model.User
		result := database.GetDB().
			Where("id = ? AND business_id = ? AND is_active = ?", claims.UserID, claims.BusinessID, true).
			First(&user)
		if result.Error != nil {
			log.Warn("Token does not resolve to an active user",
				zap.Uint("user_id", claims.UserID),
				zap.Uint("business_id", claims.BusinessID))
			prometheus.RecordAuthError("user_not_found")
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
		}

		// The secondary tenant header must never disagree with the token.
		// A mismatch is a cross-tenant access attempt, not a plain 403.
		if header := c.Request().Header.Get(BusinessIDHeader); header != "" {
			headerID, err := strconv.ParseUint(header, 10, 64)
			if err != nil || uint(headerID) != user.BusinessID {
				log.Warn("Business isolation violation",
					zap.Uint("token_business_id", user.BusinessID),
					zap.String("header_business_id", header))
				prometheus.IsolationViolationCounter.Inc()
				return c.JSON(http.StatusForbidden, echo.Map{"error": "business isolation violation"})
			}
		}

		c.Set(userContextKey, &user)
		c.SetRequest(c.Request().WithContext(tenant.WithBusinessID(c.Request().Context(), user.BusinessID)))

		return next(c)
	}
}

// CurrentUser returns the authenticated user bound by Authenticate.
func CurrentUser(c echo.Context) *model.User {
	user, _ := c.Get(userContextKey).(*model.User)
	return user
}

// RequirePermission gates a route on one permission key.
func RequirePermission(key permission.Key) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				prometheus.RecordAuthError("missing_user")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
			}

			resolver := permission.NewResolver(database.GetDB())
			allowed, err := resolver.Allowed(user, key)
			if err != nil {
				logger.FromContext(c).Error("Permission check failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "permission check failed"})
			}
			if !allowed {
				prometheus.RecordPermissionDenied(string(key))
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}

			return next(c)
		}
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"count-backend/internal/auth"
	"count-backend/internal/models"
	"count-backend/pkg/utils"

	"go.uber.org/zap"
)

type contextKey string

const UserIDKey contextKey = "user_id"
const RoleKey contextKey = "role"

// UserLookup reads the current state of a user from master data
type UserLookup interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
}

type AuthMiddleware struct {
	jwtManager *auth.JWTManager
	users      UserLookup
	logger     *zap.Logger
}

func NewAuthMiddleware(jwtManager *auth.JWTManager, users UserLookup, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwtManager,
		users:      users,
		logger:     logger,
	}
}

// authenticate resolves the caller from the bearer token. It writes the error response
// itself and returns nil when the request must stop.
func (m *AuthMiddleware) authenticate(w http.ResponseWriter, r *http.Request) *models.User {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		utils.Error(w, http.StatusUnauthorized, "Authorization header required")
		return nil
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		utils.Error(w, http.StatusUnauthorized, "Invalid authorization format")
		return nil
	}

	claims, err := m.jwtManager.ValidateToken(parts[1])
	if err != nil {
		m.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
		utils.Error(w, http.StatusUnauthorized, "Invalid or expired token")
		return nil
	}

	// Role and suspension come from master data, not the token
	user, err := m.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		utils.Error(w, http.StatusUnauthorized, "User not found")
		return nil
	}
	if !user.IsActive {
		utils.Error(w, http.StatusForbidden, "Account suspended. Please contact administrator.")
		return nil
	}
	return user
}

func withUser(r *http.Request, user *models.User) *http.Request {
	ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
	ctx = context.WithValue(ctx, RoleKey, user.Role)
	return r.WithContext(ctx)
}

// Authenticate is a middleware that validates JWT tokens
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := m.authenticate(w, r)
		if user == nil {
			return
		}
		next.ServeHTTP(w, withUser(r, user))
	})
}

// RequireRole is a middleware that ensures the user has one of the allowed roles
func (m *AuthMiddleware) RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Reuse the caller resolved by Authenticate when it already ran
			role, authed := GetRoleFromContext(r.Context())
			if !authed {
				user := m.authenticate(w, r)
				if user == nil {
					return
				}
				r = withUser(r, user)
				role = user.Role
			}

			hasRole := false
			for _, allowed := range allowedRoles {
				if role == allowed {
					hasRole = true
					break
				}
			}
			if !hasRole {
				utils.Error(w, http.StatusForbidden, "Forbidden: Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireOperator is RequireRole for operators
func (m *AuthMiddleware) RequireOperator(next http.Handler) http.Handler {
	return m.RequireRole(models.RoleOperator)(next)
}

// GetUserIDFromContext extracts user ID from request context
func GetUserIDFromContext(ctx context.Context) (int, bool) {
	userID, ok := ctx.Value(UserIDKey).(int)
	return userID, ok
}

// GetRoleFromContext extracts role from request context
func GetRoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

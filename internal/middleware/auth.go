package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/amoria/billing-api/internal/pkg/jwt"
	"github.com/amoria/billing-api/internal/pkg/response"
)

type contextKey string

const (
	CallerIDKey contextKey = "caller_id"
	CallerKey   contextKey = "caller"
	RoleKey     contextKey = "role"
)

// Auth returns middleware that validates service JWTs
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(parts[1])
			if err != nil {
				if err == jwt.ErrExpiredToken {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), CallerIDKey, claims.CallerID)
			ctx = context.WithValue(ctx, CallerKey, claims.Caller)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCallerID extracts caller ID from context
func GetCallerID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(CallerIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetCaller extracts caller name from context
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(CallerKey).(string); ok {
		return caller
	}
	return ""
}

// GetRole extracts role from context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// RequireRole returns middleware that checks caller role
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerRole := GetRole(r.Context())

			for _, role := range roles {
				if callerRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireService returns middleware that requires a service or admin token
func RequireService() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleService, jwt.RoleAdmin)
}

// RequireAdmin returns middleware that requires admin role
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleAdmin)
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/services"
	"github.com/cppla/meritboard/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextRoleKey stores the caller's role.
	ContextRoleKey = "role"
	// ContextTutorIDKey stores the caller's tutor ID, when the caller is a student.
	ContextTutorIDKey = "tutor_id"
	// ContextTokenIDKey stores the JWT ID so logout can revoke it.
	ContextTokenIDKey = "token_id"
	// ContextTokenExpiryKey stores the token expiry time.
	ContextTokenExpiryKey = "token_expires_at"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Abort(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			utils.Abort(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			utils.Abort(ctx, http.StatusUnauthorized, 40103, "empty bearer token")
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Abort(ctx, http.StatusUnauthorized, 40105, "invalid token")
			return
		}

		if utils.IsTokenBlacklisted(ctx.Request.Context(), claims.ID) {
			utils.Abort(ctx, http.StatusUnauthorized, 40104, "token revoked")
			return
		}

		role := models.Role(claims.Role)
		if !role.Valid() {
			utils.Abort(ctx, http.StatusUnauthorized, 40106, "invalid token role")
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Set(ContextRoleKey, role)
		if claims.TutorID != nil {
			ctx.Set(ContextTutorIDKey, *claims.TutorID)
		}
		ctx.Set(ContextTokenIDKey, claims.ID)
		if claims.ExpiresAt != nil {
			ctx.Set(ContextTokenExpiryKey, claims.ExpiresAt.Time)
		}
		ctx.Next()
	}
}

// RequireRole rejects callers whose role is not in roles. It must run after AuthRequired.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		role := CurrentPrincipal(ctx).Role
		for _, r := range roles {
			if role == r {
				ctx.Next()
				return
			}
		}
		utils.Abort(ctx, http.StatusForbidden, 40301, "not allowed")
	}
}

// CurrentPrincipal builds the principal set by AuthRequired. The zero Principal is
// returned for anonymous requests and is denied by every capability check.
func CurrentPrincipal(ctx *gin.Context) services.Principal {
	var p services.Principal
	if v, ok := ctx.Get(ContextUserIDKey); ok {
		p.ID, _ = v.(uint)
	}
	if v, ok := ctx.Get(ContextRoleKey); ok {
		p.Role, _ = v.(models.Role)
	}
	if v, ok := ctx.Get(ContextTutorIDKey); ok {
		if id, ok := v.(uint); ok {
			p.TutorID = &id
		}
	}
	return p
}

// CurrentToken returns the ID and expiry of the bearer token for this request.
func CurrentToken(ctx *gin.Context) (string, time.Time) {
	id := ctx.GetString(ContextTokenIDKey)
	expiresAt := ctx.GetTime(ContextTokenExpiryKey)
	return id, expiresAt
}

package middleware

import (
	"net/http"
	"strings"

	"roomsignal/internal/core/services"
	apperrors "roomsignal/pkg/errors"
	rlog "roomsignal/pkg/logger"
	"roomsignal/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter browsers use for WebSocket
// upgrades.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware validates the caller's token. With required set, requests
// without a token are rejected; a token that fails validation is always
// rejected.
func AuthMiddleware(authService services.AuthService, required bool, logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			if required {
				abortWith(c, apperrors.NewUnauthorizedError("authorization token required"))
				return
			}
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			logger.Infow("rejected token",
				"token", utils.MaskSensitive(token, 6),
				"path", c.Request.URL.Path,
				"error", err,
			)
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		ctx := services.ContextWithUser(c.Request.Context(), claims.UserID)
		ctx = rlog.WithUserID(ctx, string(claims.UserID))
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Body())
}

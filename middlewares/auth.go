package middlewares

import (
	"strings"

	"support-chat/models"
	"support-chat/services"
	"support-chat/utils"

	"github.com/gin-gonic/gin"
)

const identityKey = "user"

// TokenAuthMiddleware requires a valid, unrevoked bearer token and stores the
// caller identity on the context.
func TokenAuthMiddleware(verifier services.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			utils.RespondError(c, models.AuthFailedf("authentication required"))
			return
		}
		ident, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequireStaff rejects callers whose role is outside staffRoles.
func RequireStaff(staffRoles []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(staffRoles))
	for _, r := range staffRoles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		ident, ok := CurrentUser(c)
		if !ok {
			utils.RespondError(c, models.AuthFailedf("authentication required"))
			return
		}
		if _, ok := allowed[ident.Role]; !ok {
			utils.RespondError(c, models.Forbiddenf("staff access required"))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity stored by TokenAuthMiddleware.
func CurrentUser(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	ident, ok := v.(models.Identity)
	return ident, ok
}

package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"shop-service/database"
	"shop-service/models"
	"shop-service/utils"
)

const principalKey = "principal"

// Protect authenticates the request from a bearer token or the token cookie
// and attaches the caller's principal. The role is taken from the stored
// user record, never from the token.
func Protect(secret string, users database.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abort(c, utils.Unauthorized("Not authorized to access this route"))
			return
		}

		userID, err := utils.ParseToken(secret, token)
		if err != nil {
			abort(c, utils.Unauthorized("Not authorized to access this route"))
			return
		}

		user, err := users.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				abort(c, utils.Unauthorized("Not authorized to access this route"))
				return
			}
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to resolve token subject")
			abort(c, errors.Wrap(err, "resolve principal"))
			return
		}

		c.Set(principalKey, models.Principal{UserID: user.ID, Role: user.Role})
		c.Next()
	}
}

// Authorize admits only principals holding one of roles. It must run after
// Protect.
func Authorize(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			abort(c, utils.Unauthorized("Not authorized to access this route"))
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		abort(c, utils.Forbidden("User role %s is not authorized to access this route", p.Role))
	}
}

// PrincipalFrom returns the principal attached by Protect.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie("token"); err == nil {
		return cookie
	}
	return ""
}

func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

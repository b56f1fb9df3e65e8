package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"shop-service/utils"
)

const serverErrorMessage = "Server Error"

// ErrorHandler renders the last error recorded on the context as
// {success:false, error}. Internal errors are logged and hidden.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		kind := utils.KindOf(err)
		msg := err.Error()
		if kind == utils.KindInternal {
			log.Error().
				Err(err).
				Str("request_id", c.GetString(requestIDKey)).
				Str("path", c.Request.URL.Path).
				Msg("Request failed")
			msg = serverErrorMessage
		}

		c.JSON(kind.Status(), gin.H{"success": false, "error": msg})
	}
}

// Recovery turns a panic into the same error envelope.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Interface("panic", recovered).
			Str("request_id", c.GetString(requestIDKey)).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": serverErrorMessage})
	})
}

// NoRoute answers unknown paths with the error envelope.
func NoRoute(c *gin.Context) {
	_ = c.Error(utils.NotFound("Route %s not found", c.Request.URL.Path))
}

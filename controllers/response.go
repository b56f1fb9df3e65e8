package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/utils"
)

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func okList(c *gin.Context, count int, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count, "data": data})
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func principal(c *gin.Context) (models.Principal, bool) {
	p, found := middlewares.PrincipalFrom(c)
	if !found {
		fail(c, utils.Unauthorized("Not authorized to access this route"))
	}
	return p, found
}

// record counts the outcome of a handler once it has written its response.
func record(c *gin.Context, entity, operation string) {
	status := c.Writer.Status()
	middlewares.RecordOperation(entity, operation, status >= 200 && status < 300 && len(c.Errors) == 0)
}

package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shop-service/controllers"
	"shop-service/database"
	"shop-service/middlewares"
	"shop-service/models"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Products  *controllers.ProductController
	Orders    *controllers.OrderController
	Users     database.UserRepository
	Store     Pinger
	JWTSecret string
}

// NewRouter builds the engine with the middleware chain and every route.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middlewares.Recovery(),
		middlewares.RequestLogger(),
		middlewares.PrometheusMiddleware(),
		middlewares.ErrorHandler(),
	)
	r.NoRoute(middlewares.NoRoute)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", health(d.Store))

	protect := middlewares.Protect(d.JWTSecret, d.Users)
	anyRole := middlewares.Authorize(models.RoleUser, models.RoleAdmin)
	adminOnly := middlewares.Authorize(models.RoleAdmin)

	api := r.Group("/api/v1")

	products := api.Group("/products")
	{
		products.GET("", d.Products.GetProducts)
		products.GET("/:id", d.Products.GetProduct)
		products.POST("", protect, anyRole, d.Products.CreateProduct)
		products.PUT("/:id", protect, anyRole, d.Products.UpdateProduct)
		products.DELETE("/:id", protect, anyRole, d.Products.DeleteProduct)
	}
	api.GET("/categories/:categoryId/products", d.Products.GetCategoryProducts)

	orders := api.Group("/orders", protect)
	{
		orders.POST("", d.Orders.CreateOrder)
		orders.GET("/me", d.Orders.GetMyOrders)
		orders.GET("", adminOnly, d.Orders.GetOrders)
		orders.GET("/:id", d.Orders.GetOrder)
		orders.PUT("/:id", adminOnly, d.Orders.UpdateOrder)
		orders.DELETE("/:id", adminOnly, d.Orders.DeleteOrder)
	}

	return r
}

func health(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

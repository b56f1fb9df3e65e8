package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"shop-service/middlewares"
	"shop-service/models"
	"shop-service/utils"
)

type OrderService interface {
	Create(ctx context.Context, in models.OrderInput, p models.Principal) (*models.Order, error)
	GetByID(ctx context.Context, id string, p models.Principal) (*models.Order, error)
	ListMine(ctx context.Context, p models.Principal) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error)
	Remove(ctx context.Context, id string) error
}

type OrderController struct {
	orders OrderService
}

func NewOrderController(orders OrderService) *OrderController {
	return &OrderController{orders: orders}
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	defer record(c, "order", "create")

	caller, found := principal(c)
	if !found {
		return
	}

	var in models.OrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, utils.BadRequest("%s", err.Error()))
		return
	}

	o, err := oc.orders.Create(c.Request.Context(), in, caller)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, o)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	defer record(c, "order", "get")

	caller, found := principal(c)
	if !found {
		return
	}

	o, err := oc.orders.GetByID(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, o)
}

// GetMyOrders serves GET /orders/me.
func (oc *OrderController) GetMyOrders(c *gin.Context) {
	defer record(c, "order", "list_mine")

	caller, found := principal(c)
	if !found {
		return
	}

	orders, err := oc.orders.ListMine(c.Request.Context(), caller)
	if err != nil {
		fail(c, err)
		return
	}
	okList(c, len(orders), orders)
}

func (oc *OrderController) GetOrders(c *gin.Context) {
	defer record(c, "order", "list")

	orders, err := oc.orders.ListAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	okList(c, len(orders), orders)
}

// UpdateOrder serves PUT /orders/:id. The body may be empty, in which case
// the status is kept.
func (oc *OrderController) UpdateOrder(c *gin.Context) {
	defer record(c, "order", "update_status")

	// An empty body, sized or chunked, keeps the current status.
	var body models.StatusUpdate
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		fail(c, utils.BadRequest("%s", err.Error()))
		return
	}

	o, err := oc.orders.UpdateStatus(c.Request.Context(), c.Param("id"), body.Status)
	if err != nil {
		fail(c, err)
		return
	}
	for _, item := range o.OrderItems {
		middlewares.RecordStockDecrement(item.Product, item.Quantity)
	}
	ok(c, http.StatusOK, o)
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	defer record(c, "order", "delete")

	if err := oc.orders.Remove(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{})
}

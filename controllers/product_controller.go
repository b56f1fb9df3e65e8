package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"shop-service/models"
	"shop-service/utils"
)

type ProductService interface {
	List(ctx context.Context, q models.ListQuery) (*models.ProductPage, error)
	ListByCategory(ctx context.Context, categoryID string) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, in models.ProductInput, p models.Principal) (*models.Product, error)
	Update(ctx context.Context, id string, upd models.ProductUpdate, p models.Principal) (*models.Product, error)
	Remove(ctx context.Context, id string, p models.Principal) error
}

type ProductController struct {
	products ProductService
}

func NewProductController(products ProductService) *ProductController {
	return &ProductController{products: products}
}

// GetProducts serves GET /products.
func (pc *ProductController) GetProducts(c *gin.Context) {
	defer record(c, "product", "list")

	q, err := ParseListQuery(c.Request.URL.Query())
	if err != nil {
		fail(c, err)
		return
	}

	page, err := pc.products.List(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"count":      len(page.Products),
		"pagination": page.Pagination,
		"data":       page.Products,
	})
}

// GetCategoryProducts serves GET /categories/:categoryId/products.
func (pc *ProductController) GetCategoryProducts(c *gin.Context) {
	defer record(c, "product", "list_category")

	products, err := pc.products.ListByCategory(c.Request.Context(), c.Param("categoryId"))
	if err != nil {
		fail(c, err)
		return
	}
	okList(c, len(products), products)
}

func (pc *ProductController) GetProduct(c *gin.Context) {
	defer record(c, "product", "get")

	p, err := pc.products.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (pc *ProductController) CreateProduct(c *gin.Context) {
	defer record(c, "product", "create")

	caller, found := principal(c)
	if !found {
		return
	}

	var in models.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, utils.BadRequest("%s", err.Error()))
		return
	}

	p, err := pc.products.Create(c.Request.Context(), in, caller)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

func (pc *ProductController) UpdateProduct(c *gin.Context) {
	defer record(c, "product", "update")

	caller, found := principal(c)
	if !found {
		return
	}

	var upd models.ProductUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		fail(c, utils.BadRequest("%s", err.Error()))
		return
	}

	p, err := pc.products.Update(c.Request.Context(), c.Param("id"), upd, caller)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (pc *ProductController) DeleteProduct(c *gin.Context) {
	defer record(c, "product", "delete")

	caller, found := principal(c)
	if !found {
		return
	}

	if err := pc.products.Remove(c.Request.Context(), c.Param("id"), caller); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{})
}

package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"shop-service/database"
	"shop-service/models"
	"shop-service/utils"
)

type ProductService struct {
	store        database.Store
	defaultLimit int
	maxLimit     int
}

func NewProductService(store database.Store, opts Options) *ProductService {
	return &ProductService{
		store:        store,
		defaultLimit: opts.DefaultPageLimit,
		maxLimit:     opts.MaxPageLimit,
	}
}

// normalize applies paging defaults and drops filters and sort keys on
// fields that listings do not expose.
func (s *ProductService) normalize(q models.ListQuery) models.ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > models.MaxPage {
		q.Page = models.MaxPage
	}
	if q.Limit < 1 {
		q.Limit = s.defaultLimit
	}
	if s.maxLimit > 0 && q.Limit > s.maxLimit {
		q.Limit = s.maxLimit
	}

	filters := make([]models.Condition, 0, len(q.Filters))
	for _, c := range q.Filters {
		if database.IsProductFilterField(c.Field) {
			filters = append(filters, c)
		}
	}
	q.Filters = filters

	sort := make([]models.SortField, 0, len(q.Sort))
	for _, f := range q.Sort {
		if database.IsProductSortField(f.Field) {
			sort = append(sort, f)
		}
	}
	if len(sort) == 0 {
		sort = append(sort, models.SortField{Field: "createdAt", Desc: true})
	}
	q.Sort = sort
	return q
}

// List returns one page of products matching q, owners resolved.
func (s *ProductService) List(ctx context.Context, q models.ListQuery) (*models.ProductPage, error) {
	q = s.normalize(q)

	products, total, err := s.store.Products().List(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list products")
		return nil, errors.Wrap(err, "list products")
	}

	refs := make([]*models.UserRef, len(products))
	for i := range products {
		refs[i] = &products[i].User
	}
	if err := populate(ctx, s.store.Users(), true, refs...); err != nil {
		return nil, err
	}

	return &models.ProductPage{
		Products:   products,
		Total:      total,
		Pagination: models.NewPagination(q, total),
	}, nil
}

func (s *ProductService) ListByCategory(ctx context.Context, categoryID string) ([]models.Product, error) {
	products, err := s.store.Products().FindByCategory(ctx, categoryID)
	if err != nil {
		log.Error().Err(err).Str("category", categoryID).Msg("service: failed to list products by category")
		return nil, errors.Wrapf(err, "list products of category %s", categoryID)
	}
	return products, nil
}

func (s *ProductService) find(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.store.Products().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.NotFound("Product not found with id of %s", id)
		}
		log.Error().Err(err).Str("product_id", id).Msg("service: failed to fetch product")
		return nil, errors.Wrapf(err, "find product %s", id)
	}
	return p, nil
}

func (s *ProductService) GetByID(ctx context.Context, id string) (*models.Product, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := populate(ctx, s.store.Users(), true, &p.User); err != nil {
		return nil, err
	}
	return p, nil
}

// Create stores a new product owned by the acting principal.
func (s *ProductService) Create(ctx context.Context, in models.ProductInput, principal models.Principal) (*models.Product, error) {
	p := &models.Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Category:    in.Category,
		User:        models.UserRef{ID: principal.UserID},
	}
	if err := validate.Struct(p); err != nil {
		return nil, validationError(err)
	}

	if err := s.store.Products().Create(ctx, p); err != nil {
		log.Error().Err(err).Str("user_id", principal.UserID).Msg("service: failed to create product")
		return nil, errors.Wrap(err, "create product")
	}

	log.Info().Str("product_id", p.ID).Str("user_id", principal.UserID).Msg("Product created")
	return p, nil
}

func (s *ProductService) authorize(p *models.Product, principal models.Principal, action string) error {
	if principal.Owns(p.User.ID) || principal.IsAdmin() {
		return nil
	}
	log.Warn().Str("product_id", p.ID).Str("user_id", principal.UserID).Str("action", action).Msg("service: product access denied")
	return utils.Forbidden("User %s is not authorized to %s this product", principal.UserID, action)
}

// Update applies the supplied fields after the owner-or-admin check and
// validates the resulting record.
func (s *ProductService) Update(ctx context.Context, id string, upd models.ProductUpdate, principal models.Principal) (*models.Product, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(p, principal, "update"); err != nil {
		return nil, err
	}

	upd.Apply(p)
	// Stock may already be negative after deliveries with
	// ALLOW_NEGATIVE_STOCK, so it is only checked when the caller sets it.
	err = validate.Struct(p)
	if upd.Stock == nil {
		err = validate.StructExcept(p, "Stock")
	}
	if err != nil {
		return nil, validationError(err)
	}

	if err := s.store.Products().Update(ctx, p); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, utils.NotFound("Product not found with id of %s", id)
		}
		log.Error().Err(err).Str("product_id", id).Msg("service: failed to update product")
		return nil, errors.Wrapf(err, "update product %s", id)
	}
	return p, nil
}

func (s *ProductService) Remove(ctx context.Context, id string, principal models.Principal) error {
	p, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(p, principal, "delete"); err != nil {
		return err
	}

	if err := s.store.Products().Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return utils.NotFound("Product not found with id of %s", id)
		}
		log.Error().Err(err).Str("product_id", id).Msg("service: failed to delete product")
		return errors.Wrapf(err, "delete product %s", id)
	}

	log.Info().Str("product_id", id).Str("user_id", principal.UserID).Msg("Product deleted")
	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"shop-service/models"
)

type MySQLConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN renders the driver connection string. Found-rows reporting is enabled
// so that an UPDATE matching a row always counts as affected.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

type MySQLStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "mysql", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "connect mysql")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Str("database", cfg.Name).Msg("Connected to MySQL")
	return &MySQLStore{db: db, q: db}, nil
}

func (s *MySQLStore) Products() ProductRepository {
	return &mysqlProducts{q: s.q}
}

func (s *MySQLStore) Orders() OrderRepository {
	return &mysqlOrders{s: s}
}

func (s *MySQLStore) Users() UserRepository {
	return &mysqlUsers{q: s.q}
}

func (s *MySQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	if s.tx != nil {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = errors.Wrap(commitErr, "commit transaction")
		}
	}()

	return fn(ctx, &MySQLStore{db: s.db, q: tx, tx: tx})
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *MySQLStore) Close(context.Context) error {
	log.Info().Msg("MySQL connection closed")
	return s.db.Close()
}

type productRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Price       float64   `db:"price"`
	Stock       int       `db:"stock"`
	Category    string    `db:"category"`
	UserID      string    `db:"user_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r productRow) model() models.Product {
	return models.Product{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Stock,
		Category:    r.Category,
		User:        models.UserRef{ID: r.UserID},
		CreatedAt:   r.CreatedAt,
	}
}

const productColumns = "id, name, description, price, stock, category, user_id, created_at"

type mysqlProducts struct {
	q sqlx.ExtContext
}

func (r *mysqlProducts) FindByID(ctx context.Context, id string) (*models.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, r.q, &row, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "select product %s", id)
	}
	p := row.model()
	return &p, nil
}

func (r *mysqlProducts) List(ctx context.Context, q models.ListQuery) ([]models.Product, int64, error) {
	where, args := buildMySQLWhere(q.Filters)

	var total int64
	if err := sqlx.GetContext(ctx, r.q, &total, "SELECT COUNT(*) FROM products"+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	query := "SELECT " + productColumns + " FROM products" + where + buildMySQLOrderBy(q.Sort)
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Skip())
	}
	products, err := r.selectProducts(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *mysqlProducts) FindByCategory(ctx context.Context, categoryID string) ([]models.Product, error) {
	return r.selectProducts(ctx, "SELECT "+productColumns+" FROM products WHERE category = ? ORDER BY created_at DESC", categoryID)
}

func (r *mysqlProducts) selectProducts(ctx context.Context, query string, args ...interface{}) ([]models.Product, error) {
	var rows []productRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "select products")
	}
	products := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.model())
	}
	return products, nil
}

func (r *mysqlProducts) Create(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO products ("+productColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.Category, p.User.ID, p.CreatedAt,
	)
	return errors.Wrap(err, "insert product")
}

func (r *mysqlProducts) Update(ctx context.Context, p *models.Product) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE products SET name = ?, description = ?, price = ?, stock = ?, category = ? WHERE id = ?",
		p.Name, p.Description, p.Price, p.Stock, p.Category, p.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update product %s", p.ID)
	}
	return expectOneRow(res)
}

func (r *mysqlProducts) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete product %s", id)
	}
	return expectOneRow(res)
}

func (r *mysqlProducts) DecrementStock(ctx context.Context, id string, qty int, allowNegative bool) error {
	query := "UPDATE products SET stock = stock - ? WHERE id = ?"
	args := []interface{}{qty, id}
	if !allowNegative {
		query += " AND stock >= ?"
		args = append(args, qty)
	}
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "decrement stock of product %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var exists int
	if err := sqlx.GetContext(ctx, r.q, &exists, "SELECT COUNT(*) FROM products WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "count product %s", id)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrInsufficientStock
}

type orderRow struct {
	ID                 string       `db:"id"`
	UserID             string       `db:"user_id"`
	ItemsPrice         float64      `db:"items_price"`
	TaxPrice           float64      `db:"tax_price"`
	ShippingPrice      float64      `db:"shipping_price"`
	TotalPrice         float64      `db:"total_price"`
	ShippingAddress    string       `db:"shipping_address"`
	ShippingCity       string       `db:"shipping_city"`
	ShippingPostalCode string       `db:"shipping_postal_code"`
	ShippingCountry    string       `db:"shipping_country"`
	ShippingPhone      string       `db:"shipping_phone"`
	PaymentID          string       `db:"payment_id"`
	PaymentStatus      string       `db:"payment_status"`
	OrderStatus        string       `db:"order_status"`
	DeliveredAt        sql.NullTime `db:"delivered_at"`
	CreatedAt          time.Time    `db:"created_at"`
}

func (r orderRow) model() models.Order {
	o := models.Order{
		ID:            r.ID,
		OrderItems:    []models.OrderItem{},
		ItemsPrice:    r.ItemsPrice,
		TaxPrice:      r.TaxPrice,
		ShippingPrice: r.ShippingPrice,
		TotalPrice:    r.TotalPrice,
		ShippingInfo: models.ShippingInfo{
			Address:    r.ShippingAddress,
			City:       r.ShippingCity,
			PostalCode: r.ShippingPostalCode,
			Country:    r.ShippingCountry,
			Phone:      r.ShippingPhone,
		},
		PaymentInfo: models.PaymentInfo{ID: r.PaymentID, Status: r.PaymentStatus},
		User:        models.UserRef{ID: r.UserID},
		OrderStatus: models.OrderStatus(r.OrderStatus),
		CreatedAt:   r.CreatedAt,
	}
	if r.DeliveredAt.Valid {
		t := r.DeliveredAt.Time
		o.DeliveredAt = &t
	}
	return o
}

type orderItemRow struct {
	OrderID   string  `db:"order_id"`
	ProductID string  `db:"product_id"`
	Name      string  `db:"name"`
	Price     float64 `db:"price"`
	Quantity  int     `db:"quantity"`
}

const orderColumns = `id, user_id, items_price, tax_price, shipping_price, total_price,
	shipping_address, shipping_city, shipping_postal_code, shipping_country, shipping_phone,
	payment_id, payment_status, order_status, delivered_at, created_at`

type mysqlOrders struct {
	s *MySQLStore
}

func (r *mysqlOrders) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.s.q, &row, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "select order %s", id)
	}
	orders, err := r.withItems(ctx, []orderRow{row})
	if err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *mysqlOrders) FindByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.selectOrders(ctx, "SELECT "+orderColumns+" FROM orders WHERE user_id = ? ORDER BY created_at DESC", userID)
}

func (r *mysqlOrders) FindAll(ctx context.Context) ([]models.Order, error) {
	return r.selectOrders(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC")
}

func (r *mysqlOrders) selectOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, r.s.q, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	return r.withItems(ctx, rows)
}

// withItems loads the items of all rows with one query and attaches them.
func (r *mysqlOrders) withItems(ctx context.Context, rows []orderRow) ([]models.Order, error) {
	orders := make([]models.Order, 0, len(rows))
	if len(rows) == 0 {
		return orders, nil
	}

	ids := make([]string, 0, len(rows))
	byID := make(map[string]int, len(rows))
	for i, row := range rows {
		ids = append(ids, row.ID)
		byID[row.ID] = i
		orders = append(orders, row.model())
	}

	query, args, err := sqlx.In("SELECT order_id, product_id, name, price, quantity FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, errors.Wrap(err, "expand order item query")
	}
	var items []orderItemRow
	if err := sqlx.SelectContext(ctx, r.s.q, &items, r.s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	for _, it := range items {
		i, ok := byID[it.OrderID]
		if !ok {
			continue
		}
		orders[i].OrderItems = append(orders[i].OrderItems, models.OrderItem{
			Product:  it.ProductID,
			Name:     it.Name,
			Price:    it.Price,
			Quantity: it.Quantity,
		})
	}
	return orders, nil
}

func (r *mysqlOrders) Create(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	return r.s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		q := tx.(*MySQLStore).q
		_, err := q.ExecContext(ctx,
			"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			o.ID, o.User.ID, o.ItemsPrice, o.TaxPrice, o.ShippingPrice, o.TotalPrice,
			o.ShippingInfo.Address, o.ShippingInfo.City, o.ShippingInfo.PostalCode, o.ShippingInfo.Country, o.ShippingInfo.Phone,
			o.PaymentInfo.ID, o.PaymentInfo.Status, string(o.OrderStatus), o.DeliveredAt, o.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		for _, it := range o.OrderItems {
			_, err = q.ExecContext(ctx,
				"INSERT INTO order_items (order_id, product_id, name, price, quantity) VALUES (?, ?, ?, ?, ?)",
				o.ID, it.Product, it.Name, it.Price, it.Quantity,
			)
			if err != nil {
				return errors.Wrapf(err, "insert item of order %s", o.ID)
			}
		}
		return nil
	})
}

func (r *mysqlOrders) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, deliveredAt time.Time) error {
	res, err := r.s.q.ExecContext(ctx,
		"UPDATE orders SET order_status = ?, delivered_at = ? WHERE id = ? AND order_status <> ?",
		string(status), deliveredAt, id, string(models.StatusDelivered),
	)
	if err != nil {
		return errors.Wrapf(err, "update order %s", id)
	}
	if err := expectOneRow(res); !errors.Is(err, ErrNotFound) {
		return err
	}

	var n int
	if err := sqlx.GetContext(ctx, r.s.q, &n, "SELECT COUNT(*) FROM orders WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "check order %s", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrOrderDelivered
}

func (r *mysqlOrders) Delete(ctx context.Context, id string) error {
	res, err := r.s.q.ExecContext(ctx, "DELETE FROM orders WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete order %s", id)
	}
	return expectOneRow(res)
}

type userRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) model() models.User {
	return models.User{ID: r.ID, Name: r.Name, Email: r.Email, Role: models.Role(r.Role), CreatedAt: r.CreatedAt}
}

type mysqlUsers struct {
	q sqlx.ExtContext
}

func (r *mysqlUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, r.q, &row, "SELECT id, name, email, role, created_at FROM users WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "select user %s", id)
	}
	u := row.model()
	return &u, nil
}

func (r *mysqlUsers) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	users := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	query, args, err := sqlx.In("SELECT id, name, email, role, created_at FROM users WHERE id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "expand user query")
	}
	var rows []userRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "select users")
	}
	for _, row := range rows {
		users[row.ID] = row.model()
	}
	return users, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var mysqlColumns = map[string]string{
	"name":      "name",
	"price":     "price",
	"stock":     "stock",
	"category":  "category",
	"user":      "user_id",
	"createdAt": "created_at",
}

var mysqlOps = map[string]string{
	models.OpEq:  "=",
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

// buildMySQLWhere renders listing conditions as a WHERE clause. Column names
// come from a fixed whitelist; values are always bound.
func buildMySQLWhere(conds []models.Condition) (string, []interface{}) {
	var (
		parts []string
		args  []interface{}
	)
	for _, c := range conds {
		col, ok := mysqlColumns[c.Field]
		if !ok {
			continue
		}
		if c.Op == models.OpIn {
			values, ok := c.Value.([]string)
			if !ok || len(values) == 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s IN (?%s)", col, strings.Repeat(", ?", len(values)-1)))
			for _, v := range values {
				args = append(args, v)
			}
			continue
		}
		op, ok := mysqlOps[c.Op]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, c.Value)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func buildMySQLOrderBy(fields []models.SortField) string {
	terms := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		col, ok := mysqlColumns[f.Field]
		if !ok {
			continue
		}
		if f.Desc {
			col += " DESC"
		}
		terms = append(terms, col)
	}
	terms = append(terms, "id")
	return " ORDER BY " + strings.Join(terms, ", ")
}

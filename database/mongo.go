package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shop-service/models"
)

type productDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description,omitempty"`
	Price       float64   `bson:"price"`
	Stock       int       `bson:"stock"`
	Category    string    `bson:"category"`
	User        string    `bson:"user"`
	CreatedAt   time.Time `bson:"createdAt"`
}

func (d productDoc) model() models.Product {
	return models.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Stock:       d.Stock,
		Category:    d.Category,
		User:        models.UserRef{ID: d.User},
		CreatedAt:   d.CreatedAt,
	}
}

func newProductDoc(p *models.Product) productDoc {
	return productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Category:    p.Category,
		User:        p.User.ID,
		CreatedAt:   p.CreatedAt,
	}
}

type orderItemDoc struct {
	Product  string  `bson:"product"`
	Name     string  `bson:"name,omitempty"`
	Price    float64 `bson:"price"`
	Quantity int     `bson:"quantity"`
}

type orderDoc struct {
	ID            string              `bson:"_id"`
	OrderItems    []orderItemDoc      `bson:"orderItems"`
	ShippingInfo  models.ShippingInfo `bson:"shippingInfo"`
	ItemsPrice    float64             `bson:"itemsPrice"`
	TaxPrice      float64             `bson:"taxPrice"`
	ShippingPrice float64             `bson:"shippingPrice"`
	TotalPrice    float64             `bson:"totalPrice"`
	PaymentInfo   models.PaymentInfo  `bson:"paymentInfo"`
	User          string              `bson:"user"`
	OrderStatus   string              `bson:"orderStatus"`
	DeliveredAt   *time.Time          `bson:"deliveredAt,omitempty"`
	CreatedAt     time.Time           `bson:"createdAt"`
}

func (d orderDoc) model() models.Order {
	items := make([]models.OrderItem, 0, len(d.OrderItems))
	for _, it := range d.OrderItems {
		items = append(items, models.OrderItem{Product: it.Product, Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}
	return models.Order{
		ID:            d.ID,
		OrderItems:    items,
		ShippingInfo:  d.ShippingInfo,
		ItemsPrice:    d.ItemsPrice,
		TaxPrice:      d.TaxPrice,
		ShippingPrice: d.ShippingPrice,
		TotalPrice:    d.TotalPrice,
		PaymentInfo:   d.PaymentInfo,
		User:          models.UserRef{ID: d.User},
		OrderStatus:   models.OrderStatus(d.OrderStatus),
		DeliveredAt:   d.DeliveredAt,
		CreatedAt:     d.CreatedAt,
	}
}

func newOrderDoc(o *models.Order) orderDoc {
	items := make([]orderItemDoc, 0, len(o.OrderItems))
	for _, it := range o.OrderItems {
		items = append(items, orderItemDoc{Product: it.Product, Name: it.Name, Price: it.Price, Quantity: it.Quantity})
	}
	return orderDoc{
		ID:            o.ID,
		OrderItems:    items,
		ShippingInfo:  o.ShippingInfo,
		ItemsPrice:    o.ItemsPrice,
		TaxPrice:      o.TaxPrice,
		ShippingPrice: o.ShippingPrice,
		TotalPrice:    o.TotalPrice,
		PaymentInfo:   o.PaymentInfo,
		User:          o.User.ID,
		OrderStatus:   string(o.OrderStatus),
		DeliveredAt:   o.DeliveredAt,
		CreatedAt:     o.CreatedAt,
	}
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d userDoc) model() models.User {
	return models.User{ID: d.ID, Name: d.Name, Email: d.Email, Role: models.Role(d.Role), CreatedAt: d.CreatedAt}
}

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri and prepares the collections of database dbName.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}

	s := &MongoStore{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info().Str("database", dbName).Msg("Connected to MongoDB")
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("products").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "user", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return errors.Wrap(err, "create product indexes")
	}
	_, err = s.db.Collection("orders").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}},
	})
	return errors.Wrap(err, "create order indexes")
}

func (s *MongoStore) Products() ProductRepository {
	return &mongoProducts{col: s.db.Collection("products")}
}

func (s *MongoStore) Orders() OrderRepository {
	return &mongoOrders{col: s.db.Collection("orders")}
}

func (s *MongoStore) Users() UserRepository {
	return &mongoUsers{col: s.db.Collection("users")}
}

// WithTx runs fn inside a session transaction; the session travels in the
// context handed to fn. Transactions require a replica set deployment.
func (s *MongoStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	log.Info().Msg("MongoDB connection closed")
	return s.client.Disconnect(ctx)
}

type mongoProducts struct {
	col *mongo.Collection
}

func (r *mongoProducts) FindByID(ctx context.Context, id string) (*models.Product, error) {
	var doc productDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "find product %s", id)
	}
	p := doc.model()
	return &p, nil
}

func (r *mongoProducts) List(ctx context.Context, q models.ListQuery) ([]models.Product, int64, error) {
	filter := buildMongoFilter(q.Filters)

	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}

	opts := options.Find().SetSort(buildMongoSort(q.Sort))
	if q.Limit > 0 {
		opts.SetSkip(int64(q.Skip())).SetLimit(int64(q.Limit))
	}
	products, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *mongoProducts) FindByCategory(ctx context.Context, categoryID string) ([]models.Product, error) {
	return r.find(ctx, bson.M{"category": categoryID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

func (r *mongoProducts) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]models.Product, error) {
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find products")
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	products := make([]models.Product, 0, len(docs))
	for _, d := range docs {
		products = append(products, d.model())
	}
	return products, nil
}

func (r *mongoProducts) Create(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, newProductDoc(p)); err != nil {
		return errors.Wrap(err, "insert product")
	}
	return nil
}

func (r *mongoProducts) Update(ctx context.Context, p *models.Product) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{"$set": bson.M{
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"stock":       p.Stock,
		"category":    p.Category,
	}})
	if err != nil {
		return errors.Wrapf(err, "update product %s", p.ID)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoProducts) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete product %s", id)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoProducts) DecrementStock(ctx context.Context, id string, qty int, allowNegative bool) error {
	filter := bson.M{"_id": id}
	if !allowNegative {
		filter["stock"] = bson.M{"$gte": qty}
	}
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"stock": -qty}})
	if err != nil {
		return errors.Wrapf(err, "decrement stock of product %s", id)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "count product %s", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrInsufficientStock
}

type mongoOrders struct {
	col *mongo.Collection
}

func (r *mongoOrders) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var doc orderDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	o := doc.model()
	return &o, nil
}

func (r *mongoOrders) FindByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.find(ctx, bson.M{"user": userID})
}

func (r *mongoOrders) FindAll(ctx context.Context) ([]models.Order, error) {
	return r.find(ctx, bson.M{})
}

func (r *mongoOrders) find(ctx context.Context, filter bson.M) ([]models.Order, error) {
	cursor, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	orders := make([]models.Order, 0, len(docs))
	for _, d := range docs {
		orders = append(orders, d.model())
	}
	return orders, nil
}

func (r *mongoOrders) Create(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, newOrderDoc(o)); err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func (r *mongoOrders) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, deliveredAt time.Time) error {
	filter := bson.M{"_id": id, "orderStatus": bson.M{"$ne": string(models.StatusDelivered)}}
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"orderStatus": string(status),
		"deliveredAt": deliveredAt,
	}})
	if err != nil {
		return errors.Wrapf(err, "update order %s", id)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "check order %s", id)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrOrderDelivered
}

func (r *mongoOrders) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete order %s", id)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoUsers struct {
	col *mongo.Collection
}

func (r *mongoUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	var doc userDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "find user %s", id)
	}
	u := doc.model()
	return &u, nil
}

func (r *mongoUsers) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	users := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	cursor, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errors.Wrap(err, "find users")
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode users")
	}
	for _, d := range docs {
		users[d.ID] = d.model()
	}
	return users, nil
}

var mongoOps = map[string]string{
	models.OpGt:  "$gt",
	models.OpGte: "$gte",
	models.OpLt:  "$lt",
	models.OpLte: "$lte",
	models.OpIn:  "$in",
}

// buildMongoFilter turns listing conditions into a query document. Several
// operator conditions on one field are merged into a single sub-document.
func buildMongoFilter(conds []models.Condition) bson.M {
	filter := bson.M{}
	for _, c := range conds {
		if c.Op == models.OpEq || c.Op == "" {
			filter[c.Field] = c.Value
			continue
		}
		op, ok := mongoOps[c.Op]
		if !ok {
			continue
		}
		sub, ok := filter[c.Field].(bson.M)
		if !ok {
			sub = bson.M{}
			filter[c.Field] = sub
		}
		sub[op] = c.Value
	}
	return filter
}

func buildMongoSort(fields []models.SortField) bson.D {
	sort := make(bson.D, 0, len(fields)+1)
	for _, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: f.Field, Value: dir})
	}
	return append(sort, bson.E{Key: "_id", Value: 1})
}

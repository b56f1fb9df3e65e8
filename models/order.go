package models

import (
	"time"
)

type OrderStatus string

const (
	StatusProcessing OrderStatus = "Processing"
	StatusShipped    OrderStatus = "Shipped"
	StatusDelivered  OrderStatus = "Delivered"
)

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered
}

type OrderItem struct {
	Product  string  `json:"product" binding:"required" validate:"required"`
	Name     string  `json:"name"`
	Price    float64 `json:"price" binding:"gte=0" validate:"gte=0"`
	Quantity int     `json:"quantity" binding:"required,min=1" validate:"min=1"`
}

type ShippingInfo struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type PaymentInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Order struct {
	ID            string       `json:"id"`
	OrderItems    []OrderItem  `json:"orderItems" validate:"required,min=1,dive"`
	ShippingInfo  ShippingInfo `json:"shippingInfo"`
	ItemsPrice    float64      `json:"itemsPrice"`
	TaxPrice      float64      `json:"taxPrice"`
	ShippingPrice float64      `json:"shippingPrice"`
	TotalPrice    float64      `json:"totalPrice"`
	PaymentInfo   PaymentInfo  `json:"paymentInfo"`
	User          UserRef      `json:"user"`
	OrderStatus   OrderStatus  `json:"orderStatus"`
	DeliveredAt   *time.Time   `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// OrderInput is the body of a create request. Prices and payment data are
// trusted as already validated upstream.
type OrderInput struct {
	OrderItems    []OrderItem  `json:"orderItems" binding:"required,min=1,dive"`
	ShippingInfo  ShippingInfo `json:"shippingInfo"`
	ItemsPrice    float64      `json:"itemsPrice"`
	TaxPrice      float64      `json:"taxPrice"`
	ShippingPrice float64      `json:"shippingPrice"`
	TotalPrice    float64      `json:"totalPrice"`
	PaymentInfo   PaymentInfo  `json:"paymentInfo"`
}

type StatusUpdate struct {
	Status OrderStatus `json:"status"`
}

const (
	EventOrderCreated       = "created"
	EventOrderStatusUpdated = "status_updated"
	EventOrderDeleted       = "deleted"
)

type OrderEvent struct {
	ID         string      `json:"event_id"`
	Type       string      `json:"type"`
	OrderID    string      `json:"order_id"`
	UserID     string      `json:"user_id"`
	Status     OrderStatus `json:"status"`
	TotalPrice float64     `json:"total_price"`
	Items      []OrderItem `json:"items,omitempty"`
	Occurred   time.Time   `json:"occurred"`
}

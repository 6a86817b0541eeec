package order

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
)

// transitions is the full legal-transition set for orders. Guards that are
// not pure status checks (actor authorization, completed-payment existence)
// live in the service methods.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:   {StatusDelivered, StatusRefunded},
	StatusDelivered: {StatusCompleted, StatusRefunded},
	StatusCompleted: {StatusRefunded},
}

// CanTransition reports whether from -> to is a legal order transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

type Order struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"order_number"`
	BuyerID            string          `json:"buyer_id"`
	SellerID           string          `json:"seller_id"`
	ListingID          string          `json:"listing_id"`
	Status             Status          `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Currency           string          `json:"currency"`
	ShippingAddress    string          `json:"shipping_address,omitempty"`
	ShippingCity       string          `json:"shipping_city,omitempty"`
	ShippingState      string          `json:"shipping_state,omitempty"`
	ShippingPostalCode string          `json:"shipping_postal_code,omitempty"`
	ShippingCountry    string          `json:"shipping_country,omitempty"`
	ShippingPhone      string          `json:"shipping_phone,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Items              []Item          `json:"items"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Item is immutable once the order is created; corrections require
// cancellation and a re-order.
type Item struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ListingID string          `json:"listing_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// StatusHistory rows are append-only: one per accepted transition, never
// updated or deleted. FromStatus is empty on the creation row.
type StatusHistory struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	Notes      string    `json:"notes,omitempty"`
	ChangedBy  string    `json:"changed_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Payment belongs to one order; an order may accumulate several rows
// (failed attempt, retry) but at most one may ever reach COMPLETED.
type Payment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Method         string          `json:"payment_method"`
	Status         PaymentStatus   `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	Gateway        string          `json:"payment_gateway"`
	IdempotencyKey string          `json:"idempotency_key"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewOrderNumber builds the human-readable identifier, e.g.
// ORD-20260101120000-1234.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%04d", now.UTC().Format("20060102150405"), rand.Intn(10000))
}

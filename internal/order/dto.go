package order

// CreateOrderItem is one requested line item.
type CreateOrderItem struct {
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest is the order creation payload. Unit prices are not
// accepted from the client; they are captured from the listing snapshot.
type CreateOrderRequest struct {
	ListingID          string            `json:"listing_id"`
	Items              []CreateOrderItem `json:"items"`
	ShippingAddress    string            `json:"shipping_address"`
	ShippingCity       string            `json:"shipping_city"`
	ShippingState      string            `json:"shipping_state"`
	ShippingPostalCode string            `json:"shipping_postal_code"`
	ShippingCountry    string            `json:"shipping_country"`
	ShippingPhone      string            `json:"shipping_phone"`
	Notes              string            `json:"notes"`
}

// CancelOrderRequest carries the optional cancellation reason.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// Response wraps an order together with its latest payment, so callers
// can detect idempotent no-ops from a single representation.
type Response struct {
	Order         *Order   `json:"order"`
	LatestPayment *Payment `json:"latest_payment,omitempty"`
}

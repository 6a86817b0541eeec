package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/YeshwanthDurgam/AgriLink/internal/event"
	"github.com/YeshwanthDurgam/AgriLink/internal/keylock"
)

// Service owns the order state machine. It is the sole mutator of order
// state: payment settlement reports outcomes through ApplyPaymentConfirmed
// and ApplyPaymentRefunded instead of writing orders itself.
type Service struct {
	store  Store
	locks  *keylock.KeyLock
	events *event.Dispatcher
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, events *event.Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:  store,
		locks:  keylock.New(),
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// Lock acquires the per-order critical section. The settlement manager
// shares it so order and payment mutations serialize per order.
func (s *Service) Lock(orderID string) func() {
	return s.locks.Lock(orderID)
}

type NewItem struct {
	ListingID string
	Quantity  int
	UnitPrice decimal.Decimal
}

type ShippingInfo struct {
	Address    string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

type CreateOrderInput struct {
	BuyerID   string
	SellerID  string
	ListingID string
	Currency  string
	Items     []NewItem
	Shipping  ShippingInfo
	Notes     string
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.BuyerID == "" || in.SellerID == "" {
		return nil, badRequestf("buyer and seller are required")
	}
	if in.BuyerID == in.SellerID {
		return nil, badRequestf("buyer and seller cannot be the same user")
	}
	if len(in.Items) == 0 {
		return nil, badRequestf("order must contain at least one item")
	}

	now := s.now().UTC()
	o := &Order{
		ID:                 uuid.NewString(),
		OrderNumber:        NewOrderNumber(now),
		BuyerID:            in.BuyerID,
		SellerID:           in.SellerID,
		ListingID:          in.ListingID,
		Status:             StatusPending,
		Currency:           in.Currency,
		ShippingAddress:    in.Shipping.Address,
		ShippingCity:       in.Shipping.City,
		ShippingState:      in.Shipping.State,
		ShippingPostalCode: in.Shipping.PostalCode,
		ShippingCountry:    in.Shipping.Country,
		ShippingPhone:      in.Shipping.Phone,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}

	total := decimal.Zero
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, badRequestf("item quantity must be positive")
		}
		if !it.UnitPrice.IsPositive() {
			return nil, badRequestf("item unit price must be positive")
		}
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		o.Items = append(o.Items, Item{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ListingID: it.ListingID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: line,
		})
		total = total.Add(line)
	}
	o.TotalAmount = total

	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	s.events.Dispatch(event.OrderCreated, o.ID, map[string]any{
		"order_number": o.OrderNumber,
		"buyer_id":     o.BuyerID,
		"seller_id":    o.SellerID,
		"total_amount": o.TotalAmount.String(),
		"currency":     o.Currency,
	})
	return o, nil
}

// participant guards reads: only the buyer or the seller of an order may
// see it.
func participant(o *Order, actorID string) bool {
	return actorID == o.BuyerID || actorID == o.SellerID
}

func (s *Service) GetOrder(ctx context.Context, orderID, actorID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !participant(o, actorID) {
		return nil, &ForbiddenError{Msg: "order belongs to another user"}
	}
	return o, nil
}

func (s *Service) GetOrderByNumber(ctx context.Context, number, actorID string) (*Order, error) {
	o, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !participant(o, actorID) {
		return nil, &ForbiddenError{Msg: "order belongs to another user"}
	}
	return o, nil
}

func (s *Service) ListPurchases(ctx context.Context, buyerID string, limit, offset int) ([]Order, error) {
	return s.store.ListByBuyer(ctx, buyerID, limit, offset)
}

func (s *Service) ListSales(ctx context.Context, sellerID string, limit, offset int) ([]Order, error) {
	return s.store.ListBySeller(ctx, sellerID, limit, offset)
}

// History returns the audit trail in creation order.
func (s *Service) History(ctx context.Context, orderID, actorID string) ([]StatusHistory, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !participant(o, actorID) {
		return nil, &ForbiddenError{Msg: "order belongs to another user"}
	}
	return s.store.History(ctx, orderID)
}

// CancelOrder is idempotent: cancelling an already cancelled order returns
// the current state without writing a new history row.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID, reason string) (*Order, error) {
	unlock := s.Lock(orderID)
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !participant(o, actorID) {
		return nil, &ForbiddenError{Msg: "only the buyer or the seller may cancel"}
	}
	if o.Status == StatusCancelled {
		return o, nil
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusCancelled}
	}
	paid, err := s.store.HasCompletedPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, badRequestf("order has a completed payment; request a refund instead")
	}

	if reason == "" {
		reason = "cancelled by user"
	}
	if err := s.transition(ctx, o, StatusCancelled, actorID, reason); err != nil {
		return nil, err
	}
	s.events.Dispatch(event.OrderCancelled, o.ID, map[string]any{"reason": reason})
	return o, nil
}

// ShipOrder marks a confirmed order as shipped. Seller only.
func (s *Service) ShipOrder(ctx context.Context, orderID, actorID string) (*Order, error) {
	unlock := s.Lock(orderID)
	defer unlock()

	o, err := s.authorizedSellerOrder(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusShipped) {
		return nil, &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusShipped}
	}
	if err := s.transition(ctx, o, StatusShipped, actorID, "order shipped"); err != nil {
		return nil, err
	}
	s.events.Dispatch(event.OrderShipped, o.ID, map[string]any{"buyer_id": o.BuyerID})
	return o, nil
}

// DeliverOrder marks a shipped order as delivered. Seller only.
func (s *Service) DeliverOrder(ctx context.Context, orderID, actorID string) (*Order, error) {
	unlock := s.Lock(orderID)
	defer unlock()

	o, err := s.authorizedSellerOrder(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusDelivered) {
		return nil, &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusDelivered}
	}
	if err := s.transition(ctx, o, StatusDelivered, actorID, "order delivered"); err != nil {
		return nil, err
	}
	s.events.Dispatch(event.OrderDelivered, o.ID, map[string]any{"buyer_id": o.BuyerID})
	return o, nil
}

// CompleteOrder closes out a delivered order. Buyer or seller.
func (s *Service) CompleteOrder(ctx context.Context, orderID, actorID string) (*Order, error) {
	unlock := s.Lock(orderID)
	defer unlock()

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !participant(o, actorID) {
		return nil, &ForbiddenError{Msg: "only the buyer or the seller may complete"}
	}
	if !CanTransition(o.Status, StatusCompleted) {
		return nil, &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusCompleted}
	}
	if err := s.transition(ctx, o, StatusCompleted, actorID, "order completed"); err != nil {
		return nil, err
	}
	s.events.Dispatch(event.OrderStatusChanged, o.ID, map[string]any{
		"from": string(StatusDelivered), "to": string(StatusCompleted),
	})
	return o, nil
}

// ApplyPaymentConfirmed moves the order to CONFIRMED after a successful
// charge. The caller (settlement) must hold the order lock. Already
// confirmed orders are a no-op.
func (s *Service) ApplyPaymentConfirmed(ctx context.Context, orderID, actorID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusConfirmed {
		return o, nil
	}
	if !CanTransition(o.Status, StatusConfirmed) {
		return nil, &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusConfirmed}
	}
	if err := s.transition(ctx, o, StatusConfirmed, actorID, "payment completed"); err != nil {
		return nil, err
	}
	s.events.Dispatch(event.OrderStatusChanged, o.ID, map[string]any{
		"from": string(StatusPending), "to": string(StatusConfirmed),
	})
	return o, nil
}

// ApplyPaymentRefunded moves the order to REFUNDED after a gateway refund.
// The caller (settlement) must hold the order lock.
func (s *Service) ApplyPaymentRefunded(ctx context.Context, orderID, actorID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusRefunded) {
		return nil, &InvalidTransitionError{OrderID: orderID, Current: o.Status, Attempted: StatusRefunded}
	}
	from := o.Status
	if err := s.transition(ctx, o, StatusRefunded, actorID, "payment refunded"); err != nil {
		return nil, err
	}
	s.events.Dispatch(event.OrderStatusChanged, o.ID, map[string]any{
		"from": string(from), "to": string(StatusRefunded),
	})
	return o, nil
}

func (s *Service) authorizedSellerOrder(ctx context.Context, orderID, actorID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !participant(o, actorID) {
		return nil, &ForbiddenError{Msg: "order belongs to another user"}
	}
	if actorID != o.SellerID {
		return nil, &ForbiddenError{Msg: "only the seller may perform this action"}
	}
	return o, nil
}

// transition writes the guarded status update plus audit row and mirrors
// the result onto o.
func (s *Service) transition(ctx context.Context, o *Order, to Status, actorID, notes string) error {
	if err := s.store.TransitionOrder(ctx, o.ID, o.Status, to, actorID, notes); err != nil {
		return err
	}
	s.log.Info("order transition",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
		zap.String("actor", actorID),
	)
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	return nil
}

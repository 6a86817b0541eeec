package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/YeshwanthDurgam/AgriLink/internal/event"
	"github.com/YeshwanthDurgam/AgriLink/internal/order"
)

// ProcessPaymentRequest is the settlement payload. Amount must equal the
// order total exactly; it exists so the caller proves it knows what it is
// paying.
type ProcessPaymentRequest struct {
	OrderID        string          `json:"order_id" binding:"required"`
	PaymentMethod  string          `json:"payment_method" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentGateway string          `json:"payment_gateway"`
}

// Service owns the payment state machine. It never mutates order state
// directly: outcomes flow back through the lifecycle service, under the
// same per-order lock.
type Service struct {
	store     order.Store
	orders    *order.Service
	gateways  map[string]Gateway
	defaultGW string
	events    *event.Dispatcher
	log       *zap.Logger
	now       func() time.Time
}

// NewService registers the gateways under lowercased names. defaultGW
// names the gateway used when a request does not pick one; when it is
// empty or unknown, "mock" wins if registered.
func NewService(store order.Store, orders *order.Service, gateways map[string]Gateway, defaultGW string, events *event.Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    store,
		orders:   orders,
		gateways: make(map[string]Gateway, len(gateways)),
		events:   events,
		log:      log,
		now:      time.Now,
	}
	for name, gw := range gateways {
		s.gateways[strings.ToLower(strings.TrimSpace(name))] = gw
	}
	s.defaultGW = strings.ToLower(strings.TrimSpace(defaultGW))
	if _, ok := s.gateways[s.defaultGW]; !ok {
		if _, ok := s.gateways["mock"]; ok {
			s.defaultGW = "mock"
		} else {
			for name := range s.gateways {
				s.defaultGW = name
				break
			}
		}
	}
	return s
}

func (s *Service) resolve(name string) (string, Gateway, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = s.defaultGW
	}
	gw, ok := s.gateways[key]
	if !ok {
		return "", nil, fmt.Errorf("%q: %w", name, ErrUnknownGateway)
	}
	return key, gw, nil
}

// ProcessPayment validates and creates the payment row under the order
// lock, charges the gateway outside it, then re-acquires the lock to
// apply the outcome. A cancellation that slipped in while the charge was
// in flight turns a late success into an immediate compensating refund.
func (s *Service) ProcessPayment(ctx context.Context, in ProcessPaymentRequest) (*order.Payment, error) {
	gwName, gw, err := s.resolve(in.PaymentGateway)
	if err != nil {
		return nil, err
	}

	p, err := s.beginAttempt(ctx, in, gwName)
	if err != nil {
		return nil, err
	}

	// The gateway call is the only slow part; it runs outside the lock.
	res, chargeErr := gw.Charge(ctx, ChargeRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.Method,
		IdempotencyKey: p.IdempotencyKey,
	})
	if chargeErr != nil {
		// Transport-level error: the charge may or may not have landed.
		s.log.Warn("gateway charge error", zap.String("payment_id", p.ID), zap.Error(chargeErr))
		return p, fmt.Errorf("charge %s: %w", p.IdempotencyKey, ErrGatewayAmbiguous)
	}

	switch res.Outcome {
	case OutcomeAmbiguous:
		// Leave PROCESSING; reconciliation must query the gateway by
		// idempotency key before any retry.
		return p, fmt.Errorf("charge %s: %w", p.IdempotencyKey, ErrGatewayAmbiguous)
	case OutcomeFailure:
		return s.applyFailure(ctx, p, res)
	default:
		return s.applySuccess(ctx, p, gw, res)
	}
}

// beginAttempt runs the pre-charge validation and records the PROCESSING
// row, all under the order lock.
func (s *Service) beginAttempt(ctx context.Context, in ProcessPaymentRequest, gwName string) (*order.Payment, error) {
	unlock := s.orders.Lock(in.OrderID)
	defer unlock()

	o, err := s.store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPending && o.Status != order.StatusConfirmed {
		return nil, &order.BadRequestError{Msg: fmt.Sprintf("cannot process payment for order in status %s", o.Status)}
	}
	if !in.Amount.Equal(o.TotalAmount) {
		return nil, &order.BadRequestError{Msg: "payment amount does not match order total"}
	}
	if in.Currency != "" && !strings.EqualFold(in.Currency, o.Currency) {
		return nil, &order.BadRequestError{Msg: "payment currency does not match order currency"}
	}
	paid, err := s.store.HasCompletedPayment(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, &order.BadRequestError{Msg: "order already has a completed payment"}
	}

	attempts, err := s.store.PaymentsByOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	for _, prior := range attempts {
		// One in-flight attempt at a time. A PROCESSING row is either a
		// concurrent call or an ambiguous outcome awaiting reconciliation;
		// both must not spawn a second charge.
		if prior.Status == order.PaymentProcessing {
			return nil, &order.BadRequestError{Msg: "a payment attempt for this order is already in progress"}
		}
	}

	now := s.now().UTC()
	p := &order.Payment{
		ID:       uuid.NewString(),
		OrderID:  o.ID,
		Method:   in.PaymentMethod,
		Status:   order.PaymentProcessing,
		Amount:   o.TotalAmount,
		Currency: o.Currency,
		Gateway:  gwName,
		// Deterministic per attempt: a retried call after a crash reuses
		// the key and cannot double-charge.
		IdempotencyKey: fmt.Sprintf("%s-%d", o.ID, len(attempts)+1),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) applyFailure(ctx context.Context, p *order.Payment, res ChargeResult) (*order.Payment, error) {
	unlock := s.orders.Lock(p.OrderID)
	defer unlock()

	p.Status = order.PaymentFailed
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("payment failed",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("reason", res.Reason),
	)
	return p, fmt.Errorf("charge declined: %w", ErrGatewayDeclined)
}

func (s *Service) applySuccess(ctx context.Context, p *order.Payment, gw Gateway, res ChargeResult) (*order.Payment, error) {
	unlock := s.orders.Lock(p.OrderID)
	defer unlock()

	now := s.now().UTC()
	p.Status = order.PaymentCompleted
	p.TransactionID = res.TransactionID
	p.PaidAt = &now
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}

	o, err := s.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status == order.StatusCancelled {
		// The order was cancelled while the charge was in flight: reverse
		// the charge instead of silently confirming.
		return s.compensate(ctx, p, gw)
	}

	if _, err := s.orders.ApplyPaymentConfirmed(ctx, p.OrderID, o.BuyerID); err != nil {
		// The charge stands; leave reconciliation to sort the order out.
		s.log.Error("confirm after payment failed",
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
	}
	s.events.Dispatch(event.PaymentCompleted, p.OrderID, map[string]any{
		"payment_id":     p.ID,
		"transaction_id": p.TransactionID,
	})
	return p, nil
}

func (s *Service) compensate(ctx context.Context, p *order.Payment, gw Gateway) (*order.Payment, error) {
	rres, err := gw.Refund(ctx, p.TransactionID, p.IdempotencyKey+"-reversal")
	if err != nil || rres.Outcome != OutcomeSuccess {
		// Charge stands against a cancelled order; reconciliation owns it.
		s.log.Error("compensating refund did not complete",
			zap.String("payment_id", p.ID),
			zap.String("transaction_id", p.TransactionID),
			zap.Error(err),
		)
		return p, nil
	}
	p.Status = order.PaymentRefunded
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.log.Warn("late charge reversed after cancellation",
		zap.String("order_id", p.OrderID),
		zap.String("payment_id", p.ID),
	)
	s.events.Dispatch(event.PaymentRefunded, p.OrderID, map[string]any{
		"payment_id":     p.ID,
		"transaction_id": p.TransactionID,
		"reason":         "order cancelled during settlement",
	})
	return p, nil
}

// RefundPayment reverses a completed payment in full. Partial refunds are
// not supported.
func (s *Service) RefundPayment(ctx context.Context, paymentID, actorID string) (*order.Payment, error) {
	probe, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	unlock := s.orders.Lock(probe.OrderID)
	defer unlock()

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != order.PaymentCompleted {
		return nil, &order.BadRequestError{Msg: "can only refund completed payments"}
	}

	_, gw, err := s.resolve(p.Gateway)
	if err != nil {
		return nil, err
	}
	rres, err := gw.Refund(ctx, p.TransactionID, p.ID+"-refund")
	if err != nil {
		return p, fmt.Errorf("refund %s: %w", p.ID, ErrGatewayAmbiguous)
	}
	switch rres.Outcome {
	case OutcomeAmbiguous:
		return p, fmt.Errorf("refund %s: %w", p.ID, ErrGatewayAmbiguous)
	case OutcomeFailure:
		return p, fmt.Errorf("refund declined: %w", ErrGatewayDeclined)
	}

	p.Status = order.PaymentRefunded
	if err := s.store.UpdatePayment(ctx, p); err != nil {
		return nil, err
	}
	if _, err := s.orders.ApplyPaymentRefunded(ctx, p.OrderID, actorID); err != nil {
		s.log.Error("order refund transition failed",
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
	}
	s.events.Dispatch(event.PaymentRefunded, p.OrderID, map[string]any{
		"payment_id":     p.ID,
		"transaction_id": p.TransactionID,
	})
	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID string) (*order.Payment, error) {
	return s.store.GetPayment(ctx, paymentID)
}

// LatestForOrder returns the most recent payment row, or nil when the
// order has none.
func (s *Service) LatestForOrder(ctx context.Context, orderID string) (*order.Payment, error) {
	all, err := s.store.PaymentsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[len(all)-1], nil
}

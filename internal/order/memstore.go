package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory ledger implementation. It backs the service
// when no Postgres DSN is configured and is the store used in tests.
type MemStore struct {
	mu       sync.Mutex
	orders   map[string]*Order
	history  map[string][]StatusHistory
	payments map[string]*Payment
	seq      int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:   make(map[string]*Order),
		history:  make(map[string][]StatusHistory),
		payments: make(map[string]*Payment),
	}
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	return &cp
}

func clonePayment(p *Payment) *Payment {
	cp := *p
	if p.PaidAt != nil {
		t := *p.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

// tick returns strictly increasing timestamps so history ordering stays
// stable even when several writes land in the same wall-clock instant.
func (s *MemStore) tick() time.Time {
	s.seq++
	return time.Now().UTC().Add(time.Duration(s.seq) * time.Nanosecond)
}

func (s *MemStore) CreateOrder(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick()
	o.CreatedAt = now
	o.UpdatedAt = now
	s.orders[o.ID] = cloneOrder(o)
	s.history[o.ID] = append(s.history[o.ID], StatusHistory{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		ToStatus:  o.Status,
		Notes:     "order created",
		ChangedBy: o.BuyerID,
		CreatedAt: now,
	})
	return nil
}

func (s *MemStore) GetOrder(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemStore) GetOrderByNumber(_ context.Context, number string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.OrderNumber == number {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) listBy(match func(*Order) bool, limit, offset int) []Order {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var all []Order
	for _, o := range s.orders {
		if match(o) {
			all = append(all, *cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []Order{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func (s *MemStore) ListByBuyer(_ context.Context, buyerID string, limit, offset int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listBy(func(o *Order) bool { return o.BuyerID == buyerID }, limit, offset), nil
}

func (s *MemStore) ListBySeller(_ context.Context, sellerID string, limit, offset int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listBy(func(o *Order) bool { return o.SellerID == sellerID }, limit, offset), nil
}

func (s *MemStore) TransitionOrder(_ context.Context, orderID string, from, to Status, changedBy, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStaleStatus
	}
	now := s.tick()
	o.Status = to
	o.UpdatedAt = now
	s.history[orderID] = append(s.history[orderID], StatusHistory{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Notes:      notes,
		ChangedBy:  changedBy,
		CreatedAt:  now,
	})
	return nil
}

func (s *MemStore) History(_ context.Context, orderID string) ([]StatusHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusHistory(nil), s.history[orderID]...), nil
}

func (s *MemStore) CreatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.tick()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (s *MemStore) GetPayment(_ context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (s *MemStore) PaymentsByOrder(_ context.Context, orderID string) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, *clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) UpdatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	cur.Status = p.Status
	cur.TransactionID = p.TransactionID
	if p.PaidAt != nil {
		t := *p.PaidAt
		cur.PaidAt = &t
	}
	cur.UpdatedAt = s.tick()
	return nil
}

func (s *MemStore) HasCompletedPayment(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status == PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

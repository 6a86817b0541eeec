package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the ledger contract: durable storage for orders, items, the
// status history audit trail and payments. Every mutation that touches
// more than one row is atomic.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]Order, error)
	// TransitionOrder updates the status guarded on the expected current
	// value and appends the matching history row in one transaction.
	TransitionOrder(ctx context.Context, orderID string, from, to Status, changedBy, notes string) error
	History(ctx context.Context, orderID string) ([]StatusHistory, error)

	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	PaymentsByOrder(ctx context.Context, orderID string) ([]Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	HasCompletedPayment(ctx context.Context, orderID string) (bool, error)
}

type PGStore struct{ db *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

func (r *PGStore) CreateOrder(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, order_number, buyer_id, seller_id, listing_id, status, total_amount, currency,
                        shipping_address, shipping_city, shipping_state, shipping_postal_code,
                        shipping_country, shipping_phone, notes, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
  `, o.ID, o.OrderNumber, o.BuyerID, o.SellerID, o.ListingID, o.Status, o.TotalAmount.String(), o.Currency,
		o.ShippingAddress, o.ShippingCity, o.ShippingState, o.ShippingPostalCode,
		o.ShippingCountry, o.ShippingPhone, o.Notes); err != nil {
		return err
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, listing_id, quantity, unit_price, line_total)
      VALUES ($1,$2,$3,$4,$5,$6)
    `, it.ID, o.ID, it.ListingID, it.Quantity, it.UnitPrice.String(), it.LineTotal.String()); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
    INSERT INTO order_status_history (id, order_id, from_status, to_status, notes, changed_by, created_at)
    VALUES ($1,$2,'',$3,'order created',$4,NOW())
  `, uuid.NewString(), o.ID, o.Status, o.BuyerID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `
    id, order_number, buyer_id, seller_id, listing_id, status, total_amount::text, currency,
    shipping_address, shipping_city, shipping_state, shipping_postal_code,
    shipping_country, shipping_phone, notes, created_at, updated_at`

func (r *PGStore) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var total string
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Status, &total, &o.Currency,
		&o.ShippingAddress, &o.ShippingCity, &o.ShippingState, &o.ShippingPostalCode,
		&o.ShippingCountry, &o.ShippingPhone, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PGStore) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, listing_id, quantity, unit_price::text, line_total::text
    FROM order_items WHERE order_id=$1 ORDER BY id
  `, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		var unit, line string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ListingID, &it.Quantity, &unit, &line); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return err
		}
		if it.LineTotal, err = decimal.NewFromString(line); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *PGStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := r.scanOrder(r.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGStore) GetOrderByNumber(ctx context.Context, number string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := r.scanOrder(r.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE order_number=$1`, number))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGStore) list(ctx context.Context, column, id string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `SELECT`+orderColumns+`
    FROM orders WHERE `+column+`=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGStore) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.list(ctx, "buyer_id", buyerID, limit, offset)
}

func (r *PGStore) ListBySeller(ctx context.Context, sellerID string, limit, offset int) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.list(ctx, "seller_id", sellerID, limit, offset)
}

func (r *PGStore) TransitionOrder(ctx context.Context, orderID string, from, to Status, changedBy, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
    UPDATE orders SET status=$3, updated_at=NOW()
    WHERE id=$1 AND status=$2
  `, orderID, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the id is unknown or the status moved under us.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleStatus
	}

	if _, err := tx.Exec(ctx, `
    INSERT INTO order_status_history (id, order_id, from_status, to_status, notes, changed_by, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,NOW())
  `, uuid.NewString(), orderID, from, to, notes, changedBy); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGStore) History(ctx context.Context, orderID string) ([]StatusHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, from_status, to_status, notes, changed_by, created_at
    FROM order_status_history WHERE order_id=$1
    ORDER BY created_at, id
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.Notes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const paymentColumns = `
    id, order_id, payment_method, status, amount::text, currency,
    transaction_id, payment_gateway, idempotency_key, paid_at, created_at, updated_at`

func (r *PGStore) CreatePayment(ctx context.Context, p *Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
    INSERT INTO payments (id, order_id, payment_method, status, amount, currency,
                          transaction_id, payment_gateway, idempotency_key, paid_at, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
  `, p.ID, p.OrderID, p.Method, p.Status, p.Amount.String(), p.Currency,
		p.TransactionID, p.Gateway, p.IdempotencyKey, p.PaidAt)
	return err
}

func (r *PGStore) scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount string
	if err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Status, &amount, &p.Currency,
		&p.TransactionID, &p.Gateway, &p.IdempotencyKey, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.scanPayment(r.db.QueryRow(ctx, `SELECT`+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (r *PGStore) PaymentsByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT`+paymentColumns+`
    FROM payments WHERE order_id=$1 ORDER BY created_at, id
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PGStore) UpdatePayment(ctx context.Context, p *Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE payments
    SET status=$2, transaction_id=$3, paid_at=$4, updated_at=NOW()
    WHERE id=$1
  `, p.ID, p.Status, p.TransactionID, p.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *PGStore) HasCompletedPayment(ctx context.Context, orderID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exists bool
	err := r.db.QueryRow(ctx, `
    SELECT EXISTS (SELECT 1 FROM payments WHERE order_id=$1 AND status=$2)
  `, orderID, PaymentCompleted).Scan(&exists)
	return exists, err
}

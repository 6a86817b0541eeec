package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/YeshwanthDurgam/AgriLink/internal/event"
	"github.com/YeshwanthDurgam/AgriLink/internal/listing"
	ord "github.com/YeshwanthDurgam/AgriLink/internal/order"
	pay "github.com/YeshwanthDurgam/AgriLink/internal/payment"
)

//
// ---------- STUBS & FAKES ----------
//

// fakeMarketplace serves GET /api/v1/listings/:id from an in-memory map.
func fakeMarketplace(t *testing.T, listings map[string]listing.Snapshot) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/listings/", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := listings[path.Base(r.URL.Path)]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	store    *ord.MemStore
	orders   *ord.Service
	payments *pay.Service
	gateway  *pay.MockGateway
	router   *gin.Engine
}

func newEnv(t *testing.T, listings map[string]listing.Snapshot) *env {
	t.Helper()

	store := ord.NewMemStore()
	orders := ord.NewService(store, event.NewDispatcher(nil, nil), nil)
	gw := pay.NewMockGateway()
	payments := pay.NewService(store, orders, map[string]pay.Gateway{"mock": gw}, "mock", event.NewDispatcher(nil, nil), nil)
	catalog := listing.NewClient(fakeMarketplace(t, listings).URL)

	r := gin.New()
	r.POST("/orders", createOrderHandler(orders, catalog))
	r.GET("/orders/:id", getOrderHandler(orders, payments))
	r.GET("/orders/number/:number", getOrderByNumberHandler(orders, payments))
	r.GET("/orders/:id/history", getOrderHistoryHandler(orders))
	r.GET("/orders/my-purchases", listPurchasesHandler(orders))
	r.GET("/orders/my-sales", listSalesHandler(orders))
	r.PUT("/orders/:id/cancel", cancelOrderHandler(orders))
	r.PUT("/orders/:id/ship", shipOrderHandler(orders))
	r.PUT("/orders/:id/deliver", deliverOrderHandler(orders))
	r.PUT("/orders/:id/complete", completeOrderHandler(orders))
	r.POST("/payments/process", processPaymentHandler(payments))
	r.GET("/payments/:id", getPaymentHandler(payments))
	r.POST("/payments/:id/refund", refundPaymentHandler(payments))

	return &env{store: store, orders: orders, payments: payments, gateway: gw, router: r}
}

func (e *env) do(t *testing.T, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) ord.Response {
	t.Helper()
	var resp ord.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v body=%s", err, w.Body.String())
	}
	if resp.Order == nil {
		t.Fatalf("response has no order: %s", w.Body.String())
	}
	return resp
}

// twoItemCatalog is the standard fixture: one seller, two listings.
func twoItemCatalog(sellerID string) (map[string]listing.Snapshot, ord.CreateOrderRequest) {
	tomatoes := uuid.NewString()
	peppers := uuid.NewString()
	listings := map[string]listing.Snapshot{
		tomatoes: {
			ListingID:         tomatoes,
			SellerID:          sellerID,
			Title:             "Roma Tomatoes",
			UnitPrice:         decimal.RequireFromString("2.50"),
			QuantityAvailable: 100,
			Currency:          "USD",
		},
		peppers: {
			ListingID:         peppers,
			SellerID:          sellerID,
			Title:             "Bell Peppers",
			UnitPrice:         decimal.RequireFromString("3.00"),
			QuantityAvailable: 50,
			Currency:          "USD",
		},
	}
	req := ord.CreateOrderRequest{
		ListingID: tomatoes,
		Items: []ord.CreateOrderItem{
			{ListingID: tomatoes, Quantity: 10},
			{ListingID: peppers, Quantity: 5},
		},
		ShippingAddress: "123 Farm Road",
		ShippingCity:    "Farmville",
		ShippingCountry: "USA",
	}
	return listings, req
}

//
// ---------- TESTS ----------
//

func TestCreateOrder_HappyPath(t *testing.T) {
	t.Parallel()

	seller := uuid.NewString()
	buyer := uuid.NewString()
	listings, req := twoItemCatalog(seller)
	e := newEnv(t, listings)

	w := e.do(t, http.MethodPost, "/orders", buyer, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decodeOrder(t, w)
	o := resp.Order

	// 10 x 2.50 + 5 x 3.00
	if want := decimal.RequireFromString("40.00"); !o.TotalAmount.Equal(want) {
		t.Fatalf("total=%s want=%s", o.TotalAmount, want)
	}
	if o.Status != ord.StatusPending {
		t.Fatalf("status=%s want=%s", o.Status, ord.StatusPending)
	}
	if o.BuyerID != buyer || o.SellerID != seller {
		t.Fatalf("parties: buyer=%s seller=%s", o.BuyerID, o.SellerID)
	}
	if len(o.OrderNumber) < 4 || o.OrderNumber[:4] != "ORD-" {
		t.Fatalf("order number %q", o.OrderNumber)
	}
	if len(o.Items) != 2 {
		t.Fatalf("items=%d want=2", len(o.Items))
	}

	// Creation writes exactly one audit row.
	hw := e.do(t, http.MethodGet, "/orders/"+o.ID+"/history", buyer, nil)
	if hw.Code != http.StatusOK {
		t.Fatalf("history status=%d body=%s", hw.Code, hw.Body.String())
	}
	var hist struct {
		History []ord.StatusHistory `json:"history"`
	}
	if err := json.Unmarshal(hw.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.History) != 1 || hist.History[0].ToStatus != ord.StatusPending || hist.History[0].FromStatus != "" {
		t.Fatalf("history=%+v", hist.History)
	}
}

func TestCreateOrder_MissingUserHeader(t *testing.T) {
	t.Parallel()

	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)

	w := e.do(t, http.MethodPost, "/orders", "", req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestCreateOrder_UnknownListing(t *testing.T) {
	t.Parallel()

	e := newEnv(t, map[string]listing.Snapshot{})
	req := ord.CreateOrderRequest{
		ListingID: uuid.NewString(),
		Items:     []ord.CreateOrderItem{{Quantity: 1}},
	}
	w := e.do(t, http.MethodPost, "/orders", uuid.NewString(), req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestCreateOrder_QuantityExceedsAvailability(t *testing.T) {
	t.Parallel()

	seller := uuid.NewString()
	listings, req := twoItemCatalog(seller)
	req.Items[0].Quantity = 101 // availability is 100
	e := newEnv(t, listings)

	w := e.do(t, http.MethodPost, "/orders", uuid.NewString(), req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGetOrder_StrangerForbidden(t *testing.T) {
	t.Parallel()

	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", uuid.NewString(), req)).Order

	w := e.do(t, http.MethodGet, "/orders/"+o.ID, uuid.NewString(), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestOrderLifecycle_PaidThroughCompletion(t *testing.T) {
	t.Parallel()

	seller := uuid.NewString()
	buyer := uuid.NewString()
	listings, req := twoItemCatalog(seller)
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	// Pay the exact total.
	pw := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID:       o.ID,
		PaymentMethod: "card",
		Amount:        o.TotalAmount,
	})
	if pw.Code != http.StatusCreated {
		t.Fatalf("payment status=%d body=%s", pw.Code, pw.Body.String())
	}
	var p ord.Payment
	if err := json.Unmarshal(pw.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode payment: %v", err)
	}
	if p.Status != ord.PaymentCompleted || p.TransactionID == "" {
		t.Fatalf("payment=%+v", p)
	}

	// Payment success confirmed the order.
	got := decodeOrder(t, e.do(t, http.MethodGet, "/orders/"+o.ID, buyer, nil))
	if got.Order.Status != ord.StatusConfirmed {
		t.Fatalf("status=%s want=%s", got.Order.Status, ord.StatusConfirmed)
	}
	if got.LatestPayment == nil || got.LatestPayment.ID != p.ID {
		t.Fatalf("latest payment not attached: %+v", got.LatestPayment)
	}

	steps := []struct {
		target string
		actor  string
		want   ord.Status
	}{
		{"ship", seller, ord.StatusShipped},
		{"deliver", seller, ord.StatusDelivered},
		{"complete", buyer, ord.StatusCompleted},
	}
	for _, st := range steps {
		w := e.do(t, http.MethodPut, fmt.Sprintf("/orders/%s/%s", o.ID, st.target), st.actor, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", st.target, w.Code, w.Body.String())
		}
		if got := decodeOrder(t, w).Order.Status; got != st.want {
			t.Fatalf("%s: status=%s want=%s", st.target, got, st.want)
		}
	}

	// A completed order cannot be cancelled.
	cw := e.do(t, http.MethodPut, "/orders/"+o.ID+"/cancel", buyer, nil)
	if cw.Code != http.StatusConflict {
		t.Fatalf("cancel status=%d body=%s", cw.Code, cw.Body.String())
	}
	var envlp map[string]any
	_ = json.Unmarshal(cw.Body.Bytes(), &envlp)
	if envlp["error"] != "INVALID_TRANSITION" {
		t.Fatalf("error code=%v body=%s", envlp["error"], cw.Body.String())
	}
}

func TestShipOrder_BuyerForbidden(t *testing.T) {
	t.Parallel()

	seller := uuid.NewString()
	buyer := uuid.NewString()
	listings, req := twoItemCatalog(seller)
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	pw := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID: o.ID, PaymentMethod: "card", Amount: o.TotalAmount,
	})
	if pw.Code != http.StatusCreated {
		t.Fatalf("payment status=%d body=%s", pw.Code, pw.Body.String())
	}

	w := e.do(t, http.MethodPut, "/orders/"+o.ID+"/ship", buyer, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestProcessPayment_AmountMismatch(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	w := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID:       o.ID,
		PaymentMethod: "card",
		Amount:        decimal.RequireFromString("39.00"),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestProcessPayment_Declined(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	e.gateway.ChargeOutcome = pay.OutcomeFailure
	e.gateway.Reason = "insufficient funds"
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	w := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID: o.ID, PaymentMethod: "card", Amount: o.TotalAmount,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var envlp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &envlp)
	if envlp["payment_status"] != string(ord.PaymentFailed) {
		t.Fatalf("payment_status=%v body=%s", envlp["payment_status"], w.Body.String())
	}

	// A declined attempt leaves the order payable.
	got := decodeOrder(t, e.do(t, http.MethodGet, "/orders/"+o.ID, buyer, nil))
	if got.Order.Status != ord.StatusPending {
		t.Fatalf("status=%s want=%s", got.Order.Status, ord.StatusPending)
	}
}

func TestProcessPayment_UnknownGateway(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	w := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID: o.ID, PaymentMethod: "card", Amount: o.TotalAmount, PaymentGateway: "paypal",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRefundPayment_FullCycle(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	pw := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID: o.ID, PaymentMethod: "card", Amount: o.TotalAmount,
	})
	if pw.Code != http.StatusCreated {
		t.Fatalf("payment status=%d body=%s", pw.Code, pw.Body.String())
	}
	var p ord.Payment
	_ = json.Unmarshal(pw.Body.Bytes(), &p)

	rw := e.do(t, http.MethodPost, "/payments/"+p.ID+"/refund", buyer, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("refund status=%d body=%s", rw.Code, rw.Body.String())
	}
	var refunded ord.Payment
	_ = json.Unmarshal(rw.Body.Bytes(), &refunded)
	if refunded.Status != ord.PaymentRefunded {
		t.Fatalf("payment status=%s", refunded.Status)
	}

	got := decodeOrder(t, e.do(t, http.MethodGet, "/orders/"+o.ID, buyer, nil))
	if got.Order.Status != ord.StatusRefunded {
		t.Fatalf("order status=%s want=%s", got.Order.Status, ord.StatusRefunded)
	}
}

func TestRefundPayment_NotCompleted(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	e.gateway.ChargeOutcome = pay.OutcomeFailure
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	pw := e.do(t, http.MethodPost, "/payments/process", buyer, pay.ProcessPaymentRequest{
		OrderID: o.ID, PaymentMethod: "card", Amount: o.TotalAmount,
	})
	var envlp map[string]any
	_ = json.Unmarshal(pw.Body.Bytes(), &envlp)
	paymentID, _ := envlp["payment_id"].(string)
	if paymentID == "" {
		t.Fatalf("no payment_id in decline envelope: %s", pw.Body.String())
	}

	w := e.do(t, http.MethodPost, "/payments/"+paymentID+"/refund", buyer, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestCancelOrder_Idempotent(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPut, "/orders/"+o.ID+"/cancel", buyer, ord.CancelOrderRequest{Reason: "changed my mind"})
		if w.Code != http.StatusOK {
			t.Fatalf("cancel #%d status=%d body=%s", i+1, w.Code, w.Body.String())
		}
		if got := decodeOrder(t, w).Order.Status; got != ord.StatusCancelled {
			t.Fatalf("cancel #%d status=%s", i+1, got)
		}
	}
}

func TestListOrders_BySide(t *testing.T) {
	t.Parallel()

	seller := uuid.NewString()
	buyer := uuid.NewString()
	listings, req := twoItemCatalog(seller)
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	check := func(target, user string, want int) {
		t.Helper()
		w := e.do(t, http.MethodGet, target, user, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", target, w.Code, w.Body.String())
		}
		var wrap struct {
			Orders []ord.Order `json:"orders"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &wrap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(wrap.Orders) != want {
			t.Fatalf("%s len=%d want=%d", target, len(wrap.Orders), want)
		}
		if want == 1 && wrap.Orders[0].ID != o.ID {
			t.Fatalf("%s returned wrong order", target)
		}
	}
	check("/orders/my-purchases", buyer, 1)
	check("/orders/my-sales", seller, 1)
	check("/orders/my-purchases", seller, 0)
}

func TestGetOrderByNumber(t *testing.T) {
	t.Parallel()

	buyer := uuid.NewString()
	listings, req := twoItemCatalog(uuid.NewString())
	e := newEnv(t, listings)
	o := decodeOrder(t, e.do(t, http.MethodPost, "/orders", buyer, req)).Order

	w := e.do(t, http.MethodGet, "/orders/number/"+o.OrderNumber, buyer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decodeOrder(t, w).Order.ID; got != o.ID {
		t.Fatalf("id=%s want=%s", got, o.ID)
	}
}

func init() {
	gin.SetMode(gin.TestMode)
	gin.DefaultWriter = io.Discard
	log.SetOutput(io.Discard)
}

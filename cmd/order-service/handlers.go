package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/YeshwanthDurgam/AgriLink/internal/httpx"
	"github.com/YeshwanthDurgam/AgriLink/internal/listing"
	ord "github.com/YeshwanthDurgam/AgriLink/internal/order"
	pay "github.com/YeshwanthDurgam/AgriLink/internal/payment"
)

// actorID returns the authenticated user id injected by the API gateway.
// Authentication itself happens upstream.
func actorID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	if id == "" {
		httpx.WriteError(c, httpx.NewError("UNAUTHORIZED", "missing X-User-ID header", http.StatusUnauthorized))
		return "", false
	}
	return id, true
}

func respondErr(c *gin.Context, err error) {
	var badReq *ord.BadRequestError
	var forbidden *ord.ForbiddenError
	var invalid *ord.InvalidTransitionError

	switch {
	case errors.Is(err, ord.ErrNotFound):
		httpx.WriteError(c, httpx.NewError("NOT_FOUND", "order not found", http.StatusNotFound))
	case errors.Is(err, ord.ErrPaymentNotFound):
		httpx.WriteError(c, httpx.NewError("NOT_FOUND", "payment not found", http.StatusNotFound))
	case errors.Is(err, listing.ErrNotFound):
		httpx.WriteError(c, httpx.NewError("NOT_FOUND", "listing not found", http.StatusNotFound))
	case errors.As(err, &badReq):
		httpx.WriteError(c, httpx.NewError("BAD_REQUEST", badReq.Msg, http.StatusBadRequest))
	case errors.Is(err, pay.ErrUnknownGateway):
		httpx.WriteError(c, httpx.NewError("BAD_REQUEST", err.Error(), http.StatusBadRequest))
	case errors.As(err, &forbidden):
		httpx.WriteError(c, httpx.NewError("FORBIDDEN", forbidden.Msg, http.StatusForbidden))
	case errors.Is(err, ord.ErrStaleStatus):
		httpx.WriteError(c, httpx.NewError("CONFLICT", "order changed concurrently, retry", http.StatusConflict))
	case errors.As(err, &invalid):
		httpx.WriteError(c, httpx.NewError("INVALID_TRANSITION", invalid.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"current_status":   string(invalid.Current),
				"attempted_status": string(invalid.Attempted),
			}))
	case errors.Is(err, pay.ErrGatewayDeclined):
		httpx.WriteError(c, httpx.NewError("GATEWAY_FAILURE", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, pay.ErrGatewayAmbiguous):
		httpx.WriteError(c, httpx.NewError("GATEWAY_AMBIGUOUS", err.Error(), http.StatusGatewayTimeout))
	default:
		httpx.WriteError(c, httpx.NewError("INTERNAL", "internal error", http.StatusInternalServerError))
	}
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

func createOrderHandler(svc *ord.Service, catalog listing.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		buyerID, ok := actorID(c)
		if !ok {
			return
		}
		var req ord.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.WriteError(c, httpx.NewError("BAD_REQUEST", "invalid json body", http.StatusBadRequest))
			return
		}
		if len(req.Items) == 0 {
			httpx.WriteError(c, httpx.NewError("BAD_REQUEST", "order must contain at least one item", http.StatusBadRequest))
			return
		}
		if req.ListingID == "" {
			req.ListingID = req.Items[0].ListingID
		}

		// Capture prices once from the catalog; they are never re-read.
		snaps := map[string]*listing.Snapshot{}
		lookup := func(id string) (*listing.Snapshot, error) {
			if s, ok := snaps[id]; ok {
				return s, nil
			}
			s, err := catalog.GetListingSnapshot(c.Request.Context(), id)
			if err != nil {
				return nil, err
			}
			snaps[id] = s
			return s, nil
		}

		primary, err := lookup(req.ListingID)
		if err != nil {
			respondErr(c, err)
			return
		}

		in := ord.CreateOrderInput{
			BuyerID:   buyerID,
			SellerID:  primary.SellerID,
			ListingID: req.ListingID,
			Currency:  primary.Currency,
			Shipping: ord.ShippingInfo{
				Address:    req.ShippingAddress,
				City:       req.ShippingCity,
				State:      req.ShippingState,
				PostalCode: req.ShippingPostalCode,
				Country:    req.ShippingCountry,
				Phone:      req.ShippingPhone,
			},
			Notes: req.Notes,
		}
		for _, it := range req.Items {
			listingID := it.ListingID
			if listingID == "" {
				listingID = req.ListingID
			}
			snap, err := lookup(listingID)
			if err != nil {
				respondErr(c, err)
				return
			}
			if snap.SellerID != primary.SellerID {
				httpx.WriteError(c, httpx.NewError("BAD_REQUEST", "all items must belong to the same seller", http.StatusBadRequest))
				return
			}
			if snap.Currency != primary.Currency {
				httpx.WriteError(c, httpx.NewError("BAD_REQUEST", "all items must share one currency", http.StatusBadRequest))
				return
			}
			if it.Quantity > snap.QuantityAvailable {
				httpx.WriteError(c, httpx.NewError("BAD_REQUEST", "requested quantity exceeds availability", http.StatusBadRequest))
				return
			}
			in.Items = append(in.Items, ord.NewItem{
				ListingID: listingID,
				Quantity:  it.Quantity,
				UnitPrice: snap.UnitPrice,
			})
		}

		o, err := svc.CreateOrder(c.Request.Context(), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, ord.Response{Order: o})
	}
}

func getOrderHandler(svc *ord.Service, payments *pay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		o, err := svc.GetOrder(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		latest, _ := payments.LatestForOrder(c.Request.Context(), o.ID)
		c.JSON(http.StatusOK, ord.Response{Order: o, LatestPayment: latest})
	}
}

func getOrderByNumberHandler(svc *ord.Service, payments *pay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		o, err := svc.GetOrderByNumber(c.Request.Context(), c.Param("number"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		latest, _ := payments.LatestForOrder(c.Request.Context(), o.ID)
		c.JSON(http.StatusOK, ord.Response{Order: o, LatestPayment: latest})
	}
}

func getOrderHistoryHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		hist, err := svc.History(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": hist})
	}
}

func listPurchasesHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		limit, offset := pageParams(c)
		orders, err := svc.ListPurchases(c.Request.Context(), actor, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func listSalesHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		limit, offset := pageParams(c)
		orders, err := svc.ListSales(c.Request.Context(), actor, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func cancelOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		var req ord.CancelOrderRequest
		_ = c.ShouldBindJSON(&req) // body is optional
		o, err := svc.CancelOrder(c.Request.Context(), c.Param("id"), actor, req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.Response{Order: o})
	}
}

func shipOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		o, err := svc.ShipOrder(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.Response{Order: o})
	}
}

func deliverOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		o, err := svc.DeliverOrder(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.Response{Order: o})
	}
}

func completeOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		o, err := svc.CompleteOrder(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.Response{Order: o})
	}
}

func processPaymentHandler(payments *pay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := actorID(c); !ok {
			return
		}
		var req pay.ProcessPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.WriteError(c, httpx.NewError("BAD_REQUEST", "invalid json body", http.StatusBadRequest))
			return
		}
		p, err := payments.ProcessPayment(c.Request.Context(), req)
		if err != nil {
			// Declines and ambiguous outcomes still carry the payment row
			// so the caller can see what was recorded.
			if p != nil && (errors.Is(err, pay.ErrGatewayDeclined) || errors.Is(err, pay.ErrGatewayAmbiguous)) {
				code, status := "GATEWAY_FAILURE", http.StatusPaymentRequired
				if errors.Is(err, pay.ErrGatewayAmbiguous) {
					code, status = "GATEWAY_AMBIGUOUS", http.StatusGatewayTimeout
				}
				httpx.WriteError(c, httpx.NewError(code, err.Error(), status).WithDetails(map[string]any{
					"payment_id":     p.ID,
					"payment_status": string(p.Status),
				}))
				return
			}
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func getPaymentHandler(payments *pay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := actorID(c); !ok {
			return
		}
		p, err := payments.GetPayment(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func refundPaymentHandler(payments *pay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorID(c)
		if !ok {
			return
		}
		p, err := payments.RefundPayment(c.Request.Context(), c.Param("id"), actor)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

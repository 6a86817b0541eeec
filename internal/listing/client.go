package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("listing not found")

// Snapshot is the slice of a marketplace listing the order engine captures
// at creation time. Prices are never re-read afterwards.
type Snapshot struct {
	ListingID         string          `json:"id"`
	SellerID          string          `json:"seller_id"`
	Title             string          `json:"title"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	QuantityAvailable int             `json:"quantity_available"`
	Currency          string          `json:"currency"`
}

// Catalog resolves listing snapshots. The marketplace service implements
// it over HTTP; tests substitute their own.
type Catalog interface {
	GetListingSnapshot(ctx context.Context, listingID string) (*Snapshot, error)
}

type Client struct {
	HTTP    *http.Client
	BaseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		BaseURL: baseURL,
	}
}

func (c *Client) GetListingSnapshot(ctx context.Context, listingID string) (*Snapshot, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/listings/%s", c.BaseURL, listingID), nil)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("listing lookup: %s", res.Status)
	}

	var snap Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return nil, err
	}
	if snap.ListingID == "" {
		snap.ListingID = listingID
	}
	if snap.Currency == "" {
		snap.Currency = "USD"
	}
	return &snap, nil
}

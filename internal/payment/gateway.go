package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Outcome classifies a gateway response. Ambiguous means the processor's
// answer is unknown (timeout, transport error); it must not be treated as
// a failure, and no automatic retry is allowed until a reconciliation
// lookup by idempotency key settles it.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
)

var (
	// ErrGatewayDeclined: the processor gave a definitive no. The payment
	// row is FAILED; retry by a fresh ProcessPayment call.
	ErrGatewayDeclined = errors.New("payment declined by gateway")
	// ErrGatewayAmbiguous: outcome unknown. The payment row stays
	// PROCESSING until reconciled.
	ErrGatewayAmbiguous = errors.New("payment outcome unknown")

	ErrUnknownGateway = errors.New("unknown payment gateway")
)

type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Method         string
	IdempotencyKey string
}

type ChargeResult struct {
	Outcome       Outcome
	TransactionID string
	Reason        string
}

type RefundResult struct {
	Outcome Outcome
	Reason  string
}

// Gateway is the seam to a payment processor. Implementations must be
// safe to retry with the same idempotency key.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, transactionID, idempotencyKey string) (RefundResult, error)
}

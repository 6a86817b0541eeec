package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeGateway charges through Stripe payment intents. Amounts are
// converted to minor units, which assumes two-decimal currencies.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(apiKey string) (*StripeGateway, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("stripe: api key is required")
	}
	return &StripeGateway{api: client.New(apiKey, nil)}, nil
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(minorUnits(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.Method),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return classifyStripeErr(err), nil
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeResult{Outcome: OutcomeSuccess, TransactionID: intent.ID}, nil
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return ChargeResult{Outcome: OutcomeFailure, Reason: string(intent.Status)}, nil
	default:
		// processing / requires_action: the charge may still land.
		return ChargeResult{Outcome: OutcomeAmbiguous, TransactionID: intent.ID, Reason: string(intent.Status)}, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, transactionID, idempotencyKey string) (RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	if _, err := g.api.Refunds.New(params); err != nil {
		res := classifyStripeErr(err)
		return RefundResult{Outcome: res.Outcome, Reason: res.Reason}, nil
	}
	return RefundResult{Outcome: OutcomeSuccess}, nil
}

// classifyStripeErr separates definitive declines from unknown outcomes.
// Card declines and invalid requests cannot have charged; anything
// transport-shaped might have.
func classifyStripeErr(err error) ChargeResult {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		switch sErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return ChargeResult{Outcome: OutcomeFailure, Reason: sErr.Msg}
		}
	}
	return ChargeResult{Outcome: OutcomeAmbiguous, Reason: err.Error()}
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

var _ Gateway = (*StripeGateway)(nil)

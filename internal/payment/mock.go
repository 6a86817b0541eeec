package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is a deterministic gateway used in development and tests.
// The zero value charges successfully; tests flip ChargeOutcome or
// RefundOutcome to exercise failure and ambiguity paths.
type MockGateway struct {
	ChargeOutcome Outcome
	RefundOutcome Outcome
	Reason        string
	Delay         time.Duration

	mu      sync.Mutex
	charges map[string]ChargeResult
	refunds []string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return ChargeResult{Outcome: OutcomeAmbiguous}, nil
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.charges == nil {
		g.charges = make(map[string]ChargeResult)
	}
	// Same idempotency key replays the recorded result.
	if res, ok := g.charges[req.IdempotencyKey]; ok {
		return res, nil
	}

	outcome := g.ChargeOutcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	res := ChargeResult{Outcome: outcome, Reason: g.Reason}
	if outcome == OutcomeSuccess {
		res.TransactionID = newTransactionID()
	}
	if outcome != OutcomeAmbiguous {
		g.charges[req.IdempotencyKey] = res
	}
	return res, nil
}

func (g *MockGateway) Refund(_ context.Context, transactionID, _ string) (RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	outcome := g.RefundOutcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	if outcome == OutcomeSuccess {
		g.refunds = append(g.refunds, transactionID)
	}
	return RefundResult{Outcome: outcome, Reason: g.Reason}, nil
}

// Refunded reports the transaction ids refunded so far.
func (g *MockGateway) Refunded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

func newTransactionID() string {
	return "TXN-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

var _ Gateway = (*MockGateway)(nil)

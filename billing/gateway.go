/*
gateway.go - External payment gateway and event sink contracts

PURPOSE:
  Both external surfaces of the orchestrator live behind interfaces so
  flows can be exercised without the real integrations.

ORDERING RULES:
  - Gateway capture happens BEFORE the atomic ledger unit. A declined or
    failed capture means no ledger mutation at all.
  - Events are published AFTER the unit commits. A publish failure is
    logged and never rolls the transaction back.

SEE ALSO:
  - orchestrator.go: Where the ordering rules are enforced
*/
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/warp/billing-engine/ledger"
)

// =============================================================================
// PAYMENT GATEWAY
// =============================================================================

// PaymentResult reports the gateway's decision on one capture attempt.
type PaymentResult struct {
	Success              bool
	GatewayTransactionID string
	Detail               string
}

// PaymentGateway captures money from an external payment method. The
// idempotency token is forwarded so a retried capture never double-charges.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, holderID ledger.HolderID, methodRef string, amount ledger.Money, idempotencyToken string) (PaymentResult, error)
}

// StubGateway approves every capture. Used in development mode and as the
// default when no real gateway is configured.
type StubGateway struct{}

func (StubGateway) ProcessPayment(_ context.Context, _ ledger.HolderID, _ string, _ ledger.Money, _ string) (PaymentResult, error) {
	return PaymentResult{Success: true, GatewayTransactionID: "stub-" + uuid.NewString()}, nil
}

// =============================================================================
// EVENT SINK
// =============================================================================

// Event is the post-commit notification for one recorded transaction.
type Event struct {
	Name          string
	TransactionID ledger.TransactionID
	Type          ledger.TransactionType
	ReferenceID   string
	Gross         ledger.Money
	Fee           ledger.Money
	Net           ledger.Money
	PolicyVersion int
	At            time.Time
}

// EventSink receives post-commit events. Implementations must tolerate
// duplicate delivery: the orchestrator retries flows, not events.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

// LogSink writes events to the structured log. The default sink.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(_ context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("billing event",
		"event", e.Name,
		"transaction_id", e.TransactionID,
		"type", e.Type,
		"reference_id", e.ReferenceID,
		"gross", e.Gross.Amount,
		"fee", e.Fee.Amount,
		"net", e.Net.Amount,
		"policy_version", e.PolicyVersion,
	)
	return nil
}

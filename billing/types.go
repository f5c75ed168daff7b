/*
Package billing composes policies, the ledger, and balances into flows.

PURPOSE:
  The Orchestrator is the only component that talks to everything: it
  resolves fees through the policy registry, captures money through the
  payment gateway, records transactions through the ledger, and mutates
  holder balances through the balance manager. Flows are small sequences
  with one hard rule: the gateway is called BEFORE the atomic unit, the
  event sink AFTER it, and nothing external happens inside it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking / Milestone: flow state machines persisted by the FlowStore
  - FlowStore: persistence contract for flow state
  - Billing-level sentinel errors

STATE MACHINES:
  Booking:   pending -> confirmed -> completed
                     \-> cancelled      (from pending or confirmed)
  Milestone: pending -> funded -> completed
                              \-> cancelled

  All transitions are one-way. A disallowed transition returns
  ledger.ErrInvalidTransition.

SEE ALSO:
  - orchestrator.go: The composition root and shared helpers
  - booking.go / escrow.go / wallet.go: The individual flows
*/
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/warp/billing-engine/ledger"
)

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
)

// =============================================================================
// BOOKING - Venue/order reservation charged through the gateway
// =============================================================================

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID      string
	BuyerID ledger.HolderID
	VenueID string
	Region  string
	Total   ledger.Money
	StartAt time.Time
	Status  BookingStatus

	// MethodRef is the stored payment method captured on confirmation.
	MethodRef string

	// TransactionID is the booking_fee transaction recorded at confirmation.
	TransactionID ledger.TransactionID
	// RefundTransactionID is set when cancellation produced a refund.
	RefundTransactionID ledger.TransactionID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// MILESTONE - Escrowed contract step
// =============================================================================

type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneFunded    MilestoneStatus = "funded"
	MilestoneCompleted MilestoneStatus = "completed"
	MilestoneCancelled MilestoneStatus = "cancelled"
)

type Milestone struct {
	ID         string
	ContractID string
	PayerID    ledger.HolderID
	PayeeID    ledger.HolderID
	Region     string
	Amount     ledger.Money
	Status     MilestoneStatus

	FundTransactionID    ledger.TransactionID
	FeeTransactionID     ledger.TransactionID
	ReleaseTransactionID ledger.TransactionID
	RefundTransactionID  ledger.TransactionID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EscrowHolderID names the balance holder backing a milestone's escrow.
func (m Milestone) EscrowHolderID() ledger.HolderID {
	return ledger.HolderID("escrow:" + m.ID)
}

// =============================================================================
// FLOW STORE - Flow state persistence
// =============================================================================

type FlowStore interface {
	SaveBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)

	SaveMilestone(ctx context.Context, m Milestone) error
	GetMilestone(ctx context.Context, id string) (*Milestone, error)
}

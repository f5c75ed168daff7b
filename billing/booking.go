/*
booking.go - Booking charge and tiered cancellation

PURPOSE:
  A booking is paid through the external gateway: the buyer's method is
  captured for the full amount, then one booking_fee transaction records
  the platform's cut. Cancellation refunds by a schedule keyed to how far
  ahead of the start time it happens.

REFUND TIERS:
  >= 24h before start:  100% of the charge
  <  24h before start:   50%
  after start:            0% (status change only, no refund transaction)

  The refund is always a NEW compensating transaction sized by the tier;
  the original charge only flips to `refunded`.

SEE ALSO:
  - orchestrator.go: capture/emit ordering rules
  - ledger/entrymap.go: how refund entries retrace the original pairs
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
)

// cancellationCutoff separates the full-refund tier from the half-refund
// tier, measured backwards from the booking's start time.
const cancellationCutoff = 24 * time.Hour

var (
	refundFull = decimal.NewFromInt(1)
	refundHalf = decimal.NewFromFloat(0.5)
)

// RefundFraction returns the refundable fraction of a booking charge when
// cancelled at `at`. Pure so the tier boundaries are directly testable.
func RefundFraction(startAt, at time.Time) decimal.Decimal {
	if !at.Before(startAt) {
		return decimal.Zero
	}
	if startAt.Sub(at) >= cancellationCutoff {
		return refundFull
	}
	return refundHalf
}

// =============================================================================
// CREATE / CHARGE
// =============================================================================

type CreateBookingRequest struct {
	BuyerID   ledger.HolderID
	VenueID   string
	Region    string
	Total     ledger.Money
	StartAt   time.Time
	MethodRef string
}

func (o *Orchestrator) CreateBooking(ctx context.Context, req CreateBookingRequest) (*Booking, error) {
	if !req.Total.IsPositive() {
		return nil, fmt.Errorf("booking total must be positive")
	}

	now := o.Now()
	b := Booking{
		ID:        uuid.NewString(),
		BuyerID:   req.BuyerID,
		VenueID:   req.VenueID,
		Region:    req.Region,
		Total:     req.Total,
		StartAt:   req.StartAt.UTC(),
		Status:    BookingPending,
		MethodRef: req.MethodRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.Flows.SaveBooking(ctx, b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ChargeBooking captures the buyer's payment method for the booking total
// and records the booking_fee transaction. Charging an already confirmed
// booking returns it unchanged.
func (o *Orchestrator) ChargeBooking(ctx context.Context, bookingID, idempotencyToken string) (*Booking, ledger.Transaction, error) {
	b, err := o.Flows.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, ledger.Transaction{}, err
	}
	if b == nil {
		return nil, ledger.Transaction{}, fmt.Errorf("booking %s: %w", bookingID, ErrBookingNotFound)
	}
	if b.Status == BookingConfirmed {
		prior, err := o.Ledger.GetTransaction(ctx, b.TransactionID)
		if err != nil {
			return nil, ledger.Transaction{}, err
		}
		return b, *prior, nil
	}
	if b.Status != BookingPending {
		return nil, ledger.Transaction{}, fmt.Errorf("charge booking in status %q: %w", b.Status, ledger.ErrInvalidTransition)
	}

	breakdown, err := o.Calc.CalculateFee(b.Total, policy.OpBooking, b.Region, o.Now())
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	if err := o.capture(ctx, b.BuyerID, b.MethodRef, b.Total, idempotencyToken); err != nil {
		return nil, ledger.Transaction{}, err
	}

	tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
		Type:             ledger.TxBookingFee,
		ReferenceID:      b.ID,
		HolderID:         b.BuyerID,
		Gross:            breakdown.Gross,
		Fee:              breakdown.Fee,
		Net:              breakdown.Net,
		PolicyVersion:    breakdown.PolicyVersion,
		IdempotencyToken: idempotencyToken,
	})
	if err != nil {
		return nil, ledger.Transaction{}, err
	}

	b.Status = BookingConfirmed
	b.TransactionID = tx.ID
	b.UpdatedAt = o.Now()
	if err := o.Flows.SaveBooking(ctx, *b); err != nil {
		return nil, ledger.Transaction{}, err
	}

	o.emit(ctx, "booking.charged", tx)
	return b, tx, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelBooking cancels a confirmed booking and records a tiered refund.
// The returned transaction is nil in the zero-refund tier.
func (o *Orchestrator) CancelBooking(ctx context.Context, bookingID string) (*Booking, *ledger.Transaction, error) {
	b, err := o.Flows.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("booking %s: %w", bookingID, ErrBookingNotFound)
	}
	if b.Status == BookingCancelled {
		return b, nil, nil
	}

	now := o.Now()

	// A pending booking was never charged: cancel is a pure status change.
	if b.Status == BookingPending {
		b.Status = BookingCancelled
		b.UpdatedAt = now
		if err := o.Flows.SaveBooking(ctx, *b); err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	}
	if b.Status != BookingConfirmed {
		return nil, nil, fmt.Errorf("cancel booking in status %q: %w", b.Status, ledger.ErrInvalidTransition)
	}

	fraction := RefundFraction(b.StartAt, now)

	var refund *ledger.Transaction
	if fraction.IsPositive() {
		original, err := o.Ledger.GetTransaction(ctx, b.TransactionID)
		if err != nil {
			return nil, nil, err
		}
		if original == nil {
			return nil, nil, fmt.Errorf("booking charge %s: %w", b.TransactionID, ledger.ErrTransactionNotFound)
		}

		refundGross := original.Gross.Mul(fraction).Round2()
		refundFee := original.Fee.Mul(fraction).Round2()
		refundNet := refundGross.Sub(refundFee)

		tx, err := o.Ledger.RecordTransaction(ctx, ledger.RecordRequest{
			Type:             ledger.TxRefund,
			ReferenceID:      b.ID,
			HolderID:         b.BuyerID,
			Gross:            refundGross,
			Fee:              refundFee,
			Net:              refundNet,
			PolicyVersion:    original.PolicyVersion,
			IdempotencyToken: "refund:" + b.ID,
			RefundOf:         original.ID,
		})
		if err != nil {
			return nil, nil, err
		}
		refund = &tx
		b.RefundTransactionID = tx.ID
	}

	b.Status = BookingCancelled
	b.UpdatedAt = now
	if err := o.Flows.SaveBooking(ctx, *b); err != nil {
		return nil, nil, err
	}

	if refund != nil {
		o.emit(ctx, "booking.refunded", *refund)
	}
	return b, refund, nil
}

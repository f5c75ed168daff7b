/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

MONEY ENCODING:
  All monetary amounts cross the wire as decimal STRINGS ("123.45").
  JSON numbers round-trip through float64 and corrupt cents; strings
  never do.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - policy/factory.go: DraftJSON accepted by the policy admin endpoint
*/
package api

import (
	"time"

	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
	"github.com/warp/billing-engine/reconcile"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// TransactionDTO represents a recorded transaction.
type TransactionDTO struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	ReferenceID      string `json:"reference_id,omitempty"`
	HolderID         string `json:"holder_id,omitempty"`
	Gross            string `json:"gross"`
	Fee              string `json:"fee"`
	Net              string `json:"net"`
	Currency         string `json:"currency"`
	PolicyVersion    int    `json:"policy_version,omitempty"`
	IdempotencyToken string `json:"idempotency_token,omitempty"`
	Status           string `json:"status"`
	RefundOf         string `json:"refund_of,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// EntryDTO represents one ledger entry.
type EntryDTO struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Account       string `json:"account"`
	Direction     string `json:"direction"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
	CreatedAt     string `json:"created_at"`
}

// PolicyDTO represents one fee policy version.
type PolicyDTO struct {
	Version         int               `json:"version"`
	EffectiveFrom   string            `json:"effective_from"`
	EffectiveUntil  *string           `json:"effective_until,omitempty"`
	RateSchedule    map[string]string `json:"rate_schedule"`
	TierTable       []policy.TierJSON `json:"tier_table,omitempty"`
	RegionOverrides map[string]string `json:"region_overrides,omitempty"`
	TaxRate         string            `json:"tax_rate"`
	Signature       string            `json:"signature"`
	CreatedAt       string            `json:"created_at"`
}

// FeeCalculationRequest prices an amount without recording anything.
type FeeCalculationRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Kind     string `json:"kind"`
	Region   string `json:"region,omitempty"`
	AsOf     string `json:"as_of,omitempty"`
}

// FeeCalculationDTO is the priced breakdown.
type FeeCalculationDTO struct {
	Gross         string `json:"gross"`
	Fee           string `json:"fee"`
	Net           string `json:"net"`
	Tax           string `json:"tax,omitempty"`
	Rate          string `json:"rate"`
	PolicyVersion int    `json:"policy_version"`
}

// HolderDTO represents a balance holder.
type HolderDTO struct {
	ID                 string `json:"id"`
	Kind               string `json:"kind"`
	Currency           string `json:"currency"`
	Region             string `json:"region,omitempty"`
	Available          string `json:"available"`
	Reserved           string `json:"reserved"`
	Used               string `json:"used"`
	AutoReplenish      bool   `json:"auto_replenish"`
	ReplenishThreshold string `json:"replenish_threshold,omitempty"`
	ReplenishAmount    string `json:"replenish_amount,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

// CreateWalletRequest provisions a prepaid wallet.
type CreateWalletRequest struct {
	WalletID           string `json:"wallet_id"`
	Currency           string `json:"currency"`
	Region             string `json:"region,omitempty"`
	AutoReplenish      bool   `json:"auto_replenish"`
	ReplenishThreshold string `json:"replenish_threshold,omitempty"`
	ReplenishAmount    string `json:"replenish_amount,omitempty"`
	ReplenishMethodRef string `json:"replenish_method_ref,omitempty"`
}

// TopUpRequestDTO funds a wallet through the gateway.
type TopUpRequestDTO struct {
	MethodRef        string `json:"method_ref"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	IdempotencyToken string `json:"idempotency_token"`
}

// CallChargeRequestDTO bills a completed call against a wallet.
type CallChargeRequestDTO struct {
	WalletID         string `json:"wallet_id"`
	CallID           string `json:"call_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	IdempotencyToken string `json:"idempotency_token"`
}

// ListingChargeRequestDTO bills the listing fee for a publication.
type ListingChargeRequestDTO struct {
	OwnerID          string `json:"owner_id"`
	ListingID        string `json:"listing_id"`
	Region           string `json:"region,omitempty"`
	Price            string `json:"price"`
	Currency         string `json:"currency"`
	MethodRef        string `json:"method_ref"`
	IdempotencyToken string `json:"idempotency_token"`
}

// PayoutRequestDTO pays platform revenue out to a payee.
type PayoutRequestDTO struct {
	PayeeID          string `json:"payee_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	IdempotencyToken string `json:"idempotency_token"`
}

// CreateBookingRequestDTO opens a booking in `pending`.
type CreateBookingRequestDTO struct {
	BuyerID   string `json:"buyer_id"`
	VenueID   string `json:"venue_id"`
	Region    string `json:"region,omitempty"`
	Total     string `json:"total"`
	Currency  string `json:"currency"`
	StartAt   string `json:"start_at"`
	MethodRef string `json:"method_ref"`
}

// BookingDTO represents a booking's flow state.
type BookingDTO struct {
	ID                  string `json:"id"`
	BuyerID             string `json:"buyer_id"`
	VenueID             string `json:"venue_id"`
	Region              string `json:"region,omitempty"`
	Total               string `json:"total"`
	Currency            string `json:"currency"`
	StartAt             string `json:"start_at"`
	Status              string `json:"status"`
	TransactionID       string `json:"transaction_id,omitempty"`
	RefundTransactionID string `json:"refund_transaction_id,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

// CreateMilestoneRequestDTO opens an escrow milestone in `pending`.
type CreateMilestoneRequestDTO struct {
	ContractID string `json:"contract_id"`
	PayerID    string `json:"payer_id"`
	PayeeID    string `json:"payee_id"`
	Region     string `json:"region,omitempty"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

// MilestoneDTO represents a milestone's flow state.
type MilestoneDTO struct {
	ID                   string `json:"id"`
	ContractID           string `json:"contract_id"`
	PayerID              string `json:"payer_id"`
	PayeeID              string `json:"payee_id"`
	Region               string `json:"region,omitempty"`
	Amount               string `json:"amount"`
	Currency             string `json:"currency"`
	Status               string `json:"status"`
	FundTransactionID    string `json:"fund_transaction_id,omitempty"`
	FeeTransactionID     string `json:"fee_transaction_id,omitempty"`
	ReleaseTransactionID string `json:"release_transaction_id,omitempty"`
	RefundTransactionID  string `json:"refund_transaction_id,omitempty"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

// FundMilestoneRequestDTO captures the payer's method into escrow.
type FundMilestoneRequestDTO struct {
	MethodRef        string `json:"method_ref"`
	IdempotencyToken string `json:"idempotency_token"`
}

// ReleaseMilestoneRequestDTO completes a funded milestone.
type ReleaseMilestoneRequestDTO struct {
	IdempotencyToken string `json:"idempotency_token"`
}

// ReconcileRequestDTO runs a verification sweep over a window.
type ReconcileRequestDTO struct {
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
}

// DiscrepancyDTO is one unbalanced transaction in a report.
type DiscrepancyDTO struct {
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	DebitTotal    string `json:"debit_total"`
	CreditTotal   string `json:"credit_total"`
	Delta         string `json:"delta"`
}

// ReportDTO is one reconciliation sweep's outcome.
type ReportDTO struct {
	ID            string           `json:"id"`
	WindowStart   string           `json:"window_start"`
	WindowEnd     string           `json:"window_end"`
	Checked       int              `json:"checked"`
	Balanced      bool             `json:"balanced"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
	GeneratedAt   string           `json:"generated_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:               string(tx.ID),
		Type:             string(tx.Type),
		ReferenceID:      tx.ReferenceID,
		HolderID:         string(tx.HolderID),
		Gross:            tx.Gross.Amount.String(),
		Fee:              tx.Fee.Amount.String(),
		Net:              tx.Net.Amount.String(),
		Currency:         string(tx.Currency),
		PolicyVersion:    tx.PolicyVersion,
		IdempotencyToken: tx.IdempotencyToken,
		Status:           string(tx.Status),
		RefundOf:         string(tx.RefundOf),
		CreatedAt:        tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toEntryDTOs(entries []ledger.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:            string(e.ID),
			TransactionID: string(e.TransactionID),
			Account:       string(e.Account),
			Direction:     string(e.Direction),
			Amount:        e.Amount.Amount.String(),
			BalanceAfter:  e.BalanceAfter.Amount.String(),
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toPolicyDTO(p policy.FeePolicy) PolicyDTO {
	dto := PolicyDTO{
		Version:       p.Version,
		EffectiveFrom: p.EffectiveFrom.Format(time.RFC3339),
		RateSchedule:  make(map[string]string, len(p.RateSchedule)),
		TaxRate:       p.TaxRate.String(),
		Signature:     p.Signature,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.EffectiveUntil != nil {
		until := p.EffectiveUntil.Format(time.RFC3339)
		dto.EffectiveUntil = &until
	}
	for kind, rate := range p.RateSchedule {
		dto.RateSchedule[string(kind)] = rate.String()
	}
	for _, t := range p.TierTable {
		dto.TierTable = append(dto.TierTable, policy.TierJSON{
			MinAmount: t.MinAmount.String(),
			Rate:      t.Rate.String(),
		})
	}
	if len(p.RegionOverrides) > 0 {
		dto.RegionOverrides = make(map[string]string, len(p.RegionOverrides))
		for region, rate := range p.RegionOverrides {
			dto.RegionOverrides[region] = rate.String()
		}
	}
	return dto
}

func toHolderDTO(h balance.Holder) HolderDTO {
	return HolderDTO{
		ID:                 string(h.ID),
		Kind:               string(h.Kind),
		Currency:           string(h.Currency),
		Region:             h.Region,
		Available:          h.Available.Amount.String(),
		Reserved:           h.Reserved.Amount.String(),
		Used:               h.Used.Amount.String(),
		AutoReplenish:      h.AutoReplenish,
		ReplenishThreshold: h.ReplenishThreshold.Amount.String(),
		ReplenishAmount:    h.ReplenishAmount.Amount.String(),
		UpdatedAt:          h.UpdatedAt.Format(time.RFC3339),
	}
}

func toBookingDTO(b billing.Booking) BookingDTO {
	return BookingDTO{
		ID:                  b.ID,
		BuyerID:             string(b.BuyerID),
		VenueID:             b.VenueID,
		Region:              b.Region,
		Total:               b.Total.Amount.String(),
		Currency:            string(b.Total.Currency),
		StartAt:             b.StartAt.Format(time.RFC3339),
		Status:              string(b.Status),
		TransactionID:       string(b.TransactionID),
		RefundTransactionID: string(b.RefundTransactionID),
		CreatedAt:           b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           b.UpdatedAt.Format(time.RFC3339),
	}
}

func toMilestoneDTO(m billing.Milestone) MilestoneDTO {
	return MilestoneDTO{
		ID:                   m.ID,
		ContractID:           m.ContractID,
		PayerID:              string(m.PayerID),
		PayeeID:              string(m.PayeeID),
		Region:               m.Region,
		Amount:               m.Amount.Amount.String(),
		Currency:             string(m.Amount.Currency),
		Status:               string(m.Status),
		FundTransactionID:    string(m.FundTransactionID),
		FeeTransactionID:     string(m.FeeTransactionID),
		ReleaseTransactionID: string(m.ReleaseTransactionID),
		RefundTransactionID:  string(m.RefundTransactionID),
		CreatedAt:            m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            m.UpdatedAt.Format(time.RFC3339),
	}
}

func toReportDTO(r reconcile.Report) ReportDTO {
	dto := ReportDTO{
		ID:            r.ID,
		WindowStart:   r.WindowStart.Format(time.RFC3339),
		WindowEnd:     r.WindowEnd.Format(time.RFC3339),
		Checked:       r.Checked,
		Balanced:      r.Balanced(),
		Discrepancies: []DiscrepancyDTO{},
		GeneratedAt:   r.GeneratedAt.Format(time.RFC3339),
	}
	for _, d := range r.Discrepancies {
		dto.Discrepancies = append(dto.Discrepancies, DiscrepancyDTO{
			TransactionID: string(d.TransactionID),
			Type:          string(d.Type),
			DebitTotal:    d.DebitTotal.String(),
			CreditTotal:   d.CreditTotal.String(),
			Delta:         d.Delta.String(),
		})
	}
	return dto
}

/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Policies:
    GET    /api/policies                 List all versions
    POST   /api/policies                 Create a new version
    GET    /api/policies/active          Version in effect (optionally ?as_of=)
    GET    /api/policies/{version}       One version
    POST   /api/policies/verify          Re-run integrity verification

  Fees:
    POST   /api/fees/calculate           Price an amount, record nothing

  Transactions:
    GET    /api/transactions             Window query (?from=&to=)
    GET    /api/transactions/{id}        One transaction
    GET    /api/transactions/{id}/entries Its ledger entries
    GET    /api/accounts/{account}/balance Derived account balance

  Wallets:
    POST   /api/wallets                  Provision a wallet
    GET    /api/wallets/{id}             Balance summary
    POST   /api/wallets/{id}/top-up      Fund through the gateway
    POST   /api/calls/charge             Bill a completed call

  Bookings:
    POST   /api/bookings                 Create (pending)
    GET    /api/bookings/{id}
    POST   /api/bookings/{id}/charge     Capture + record booking fee
    POST   /api/bookings/{id}/cancel     Tiered refund

  Milestones:
    POST   /api/milestones               Create (pending)
    GET    /api/milestones/{id}
    POST   /api/milestones/{id}/fund     Capture into escrow
    POST   /api/milestones/{id}/release  Completion fee + payee net
    POST   /api/milestones/{id}/cancel   Full refund of the funding

  Other:
    POST   /api/listings/charge          Listing fee
    POST   /api/payouts                  Revenue payout
    POST   /api/reconciliation/run       Verification sweep
    GET    /api/reconciliation/reports   Past sweeps

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Insufficient balance
  - 404: Resource not found
  - 409: Conflict (invalid transition, duplicate)
  - 502: Payment gateway failure
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/balance"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/ledger"
	"github.com/warp/billing-engine/policy"
	"github.com/warp/billing-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry     policy.Registry
	Calc         *policy.Calculator
	Ledger       ledger.Ledger
	Balances     *balance.Manager
	Orchestrator *billing.Orchestrator
	Verifier     *reconcile.Verifier
	Reports      reconcile.ReportStore
}

// NewHandler creates a handler around the assembled domain components.
func NewHandler(registry policy.Registry, calc *policy.Calculator, l ledger.Ledger, balances *balance.Manager, orch *billing.Orchestrator, verifier *reconcile.Verifier, reports reconcile.ReportStore) *Handler {
	return &Handler{
		Registry:     registry,
		Calc:         calc,
		Ledger:       l,
		Balances:     balances,
		Orchestrator: orch,
		Verifier:     verifier,
		Reports:      reports,
	}
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns every stored version.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.Registry.List()
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy appends a new version from a JSON draft.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var draftJSON policy.DraftJSON
	if err := json.NewDecoder(r.Body).Decode(&draftJSON); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	draft, err := draftJSON.ToDraft()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy draft", err)
		return
	}

	p, err := h.Registry.CreatePolicy(r.Context(), draft)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*p))
}

// GetActivePolicy resolves the version in effect at as_of (default now).
func (h *Handler) GetActivePolicy(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of timestamp", err)
			return
		}
		asOf = t
	}

	p, err := h.Registry.GetActivePolicy(asOf)
	if err != nil {
		writeDomainError(w, "Failed to resolve active policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// GetPolicy returns one version.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid version", err)
		return
	}

	p, err := h.Registry.GetPolicyByVersion(version)
	if err != nil {
		writeDomainError(w, "Failed to get policy", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// VerifyPolicies re-runs signature verification over every version.
func (h *Handler) VerifyPolicies(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.VerifyIntegrity(); err != nil {
		writeError(w, http.StatusConflict, "Integrity verification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified": true,
		"versions": len(h.Registry.List()),
	})
}

// =============================================================================
// FEE CALCULATION
// =============================================================================

// CalculateFee prices an amount under the active policy. Read-only.
func (h *Handler) CalculateFee(w http.ResponseWriter, r *http.Request) {
	var req FeeCalculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of timestamp", err)
			return
		}
		asOf = t
	}

	breakdown, err := h.Calc.CalculateFee(amount, policy.OperationKind(req.Kind), req.Region, asOf)
	if err != nil {
		writeDomainError(w, "Fee calculation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, FeeCalculationDTO{
		Gross:         breakdown.Gross.Amount.String(),
		Fee:           breakdown.Fee.Amount.String(),
		Net:           breakdown.Net.Amount.String(),
		Tax:           breakdown.Tax.Amount.String(),
		Rate:          breakdown.Rate.String(),
		PolicyVersion: breakdown.PolicyVersion,
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions in a [from, to] window.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}

	txs, err := h.Ledger.TransactionsInWindow(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransaction returns one transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Ledger.GetTransaction(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// GetTransactionEntries returns a transaction's ledger entries.
func (h *Handler) GetTransactionEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Entries(r.Context(), ledger.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetAccountBalance returns the derived balance of a ledger account.
func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	currency := ledger.Currency(r.URL.Query().Get("currency"))
	if currency == "" {
		currency = ledger.CurrencyUSD
	}

	money, err := h.Ledger.AccountBalance(r.Context(), ledger.Account(chi.URLParam(r, "account")), currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get account balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account":  chi.URLParam(r, "account"),
		"currency": string(currency),
		"balance":  money.Amount.String(),
	})
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// CreateWallet provisions a prepaid wallet.
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	currency := ledger.Currency(req.Currency)
	if currency == "" {
		currency = ledger.CurrencyUSD
	}

	threshold, err := parseOptionalMoney(req.ReplenishThreshold, currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid replenish_threshold", err)
		return
	}
	amount, err := parseOptionalMoney(req.ReplenishAmount, currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid replenish_amount", err)
		return
	}

	holder, err := h.Orchestrator.CreateWallet(r.Context(), billing.CreateWalletRequest{
		WalletID:           ledger.HolderID(req.WalletID),
		Currency:           currency,
		Region:             req.Region,
		AutoReplenish:      req.AutoReplenish,
		ReplenishThreshold: threshold,
		ReplenishAmount:    amount,
		ReplenishMethodRef: req.ReplenishMethodRef,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create wallet", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolderDTO(*holder))
}

// GetWallet returns a holder's balance summary.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	holder, err := h.Balances.GetBalance(r.Context(), ledger.HolderID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toHolderDTO(*holder))
}

// TopUpWallet funds a wallet through the payment gateway.
func (h *Handler) TopUpWallet(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Orchestrator.TopUpWallet(r.Context(), billing.TopUpRequest{
		WalletID:         ledger.HolderID(chi.URLParam(r, "id")),
		MethodRef:        req.MethodRef,
		Amount:           amount,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		writeDomainError(w, "Top-up failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// ChargeCall bills a completed call against a wallet.
func (h *Handler) ChargeCall(w http.ResponseWriter, r *http.Request) {
	var req CallChargeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Orchestrator.ChargeCall(r.Context(), billing.CallChargeRequest{
		WalletID:         ledger.HolderID(req.WalletID),
		CallID:           req.CallID,
		Amount:           amount,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		writeDomainError(w, "Call charge failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking opens a booking in `pending`.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := parseMoney(req.Total, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at", err)
		return
	}

	b, err := h.Orchestrator.CreateBooking(r.Context(), billing.CreateBookingRequest{
		BuyerID:   ledger.HolderID(req.BuyerID),
		VenueID:   req.VenueID,
		Region:    req.Region,
		Total:     total,
		StartAt:   startAt,
		MethodRef: req.MethodRef,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// GetBooking returns a booking's flow state.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Orchestrator.Flows.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get booking", err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "Booking not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ChargeBooking captures the buyer's method and records the booking fee.
func (h *Handler) ChargeBooking(w http.ResponseWriter, r *http.Request) {
	token := idempotencyToken(r)
	if token == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required", nil)
		return
	}

	b, tx, err := h.Orchestrator.ChargeBooking(r.Context(), chi.URLParam(r, "id"), token)
	if err != nil {
		writeDomainError(w, "Booking charge failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking":     toBookingDTO(*b),
		"transaction": toTransactionDTO(tx),
	})
}

// CancelBooking cancels and refunds by the tier schedule.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	b, refund, err := h.Orchestrator.CancelBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Booking cancellation failed", err)
		return
	}

	resp := map[string]any{"booking": toBookingDTO(*b)}
	if refund != nil {
		resp["refund"] = toTransactionDTO(*refund)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// MILESTONE HANDLERS
// =============================================================================

// CreateMilestone opens an escrow milestone in `pending`.
func (h *Handler) CreateMilestone(w http.ResponseWriter, r *http.Request) {
	var req CreateMilestoneRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	m, err := h.Orchestrator.CreateMilestone(r.Context(), billing.CreateMilestoneRequest{
		ContractID: req.ContractID,
		PayerID:    ledger.HolderID(req.PayerID),
		PayeeID:    ledger.HolderID(req.PayeeID),
		Region:     req.Region,
		Amount:     amount,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create milestone", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMilestoneDTO(*m))
}

// GetMilestone returns a milestone's flow state.
func (h *Handler) GetMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := h.Orchestrator.Flows.GetMilestone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get milestone", err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "Milestone not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMilestoneDTO(*m))
}

// FundMilestone captures the payer's method into escrow.
func (h *Handler) FundMilestone(w http.ResponseWriter, r *http.Request) {
	var req FundMilestoneRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = idempotencyToken(r)
	}
	if req.IdempotencyToken == "" {
		writeError(w, http.StatusBadRequest, "idempotency_token is required", nil)
		return
	}

	m, tx, err := h.Orchestrator.FundMilestone(r.Context(), chi.URLParam(r, "id"), req.MethodRef, req.IdempotencyToken)
	if err != nil {
		writeDomainError(w, "Milestone funding failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone":   toMilestoneDTO(*m),
		"transaction": toTransactionDTO(tx),
	})
}

// ReleaseMilestone completes a funded milestone.
func (h *Handler) ReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	var req ReleaseMilestoneRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.IdempotencyToken == "" {
		req.IdempotencyToken = idempotencyToken(r)
	}
	if req.IdempotencyToken == "" {
		writeError(w, http.StatusBadRequest, "idempotency_token is required", nil)
		return
	}

	m, tx, err := h.Orchestrator.ReleaseMilestone(r.Context(), chi.URLParam(r, "id"), req.IdempotencyToken)
	if err != nil {
		writeDomainError(w, "Milestone release failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"milestone":   toMilestoneDTO(*m),
		"transaction": toTransactionDTO(tx),
	})
}

// CancelMilestone refunds a funded milestone in full.
func (h *Handler) CancelMilestone(w http.ResponseWriter, r *http.Request) {
	m, refund, err := h.Orchestrator.CancelMilestone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Milestone cancellation failed", err)
		return
	}

	resp := map[string]any{"milestone": toMilestoneDTO(*m)}
	if refund != nil {
		resp["refund"] = toTransactionDTO(*refund)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// LISTING / PAYOUT HANDLERS
// =============================================================================

// ChargeListing bills the listing fee for a publication.
func (h *Handler) ChargeListing(w http.ResponseWriter, r *http.Request) {
	var req ListingChargeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := parseMoney(req.Price, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	tx, err := h.Orchestrator.ChargeListing(r.Context(), billing.ListingChargeRequest{
		OwnerID:          ledger.HolderID(req.OwnerID),
		ListingID:        req.ListingID,
		Region:           req.Region,
		Price:            price,
		MethodRef:        req.MethodRef,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		writeDomainError(w, "Listing charge failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// Payout pays platform revenue out to a payee.
func (h *Handler) Payout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	tx, err := h.Orchestrator.Payout(r.Context(), billing.PayoutRequest{
		PayeeID:          req.PayeeID,
		Amount:           amount,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		writeDomainError(w, "Payout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation sweeps a window and persists the report.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from, to, err := parseWindow(req.WindowStart, req.WindowEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}

	report, err := h.Verifier.Reconcile(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// ListReconciliationReports returns past sweeps, newest first.
func (h *Handler) ListReconciliationReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Reports.ListReports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reports", err)
		return
	}

	dtos := make([]ReportDTO, len(reports))
	for i, rep := range reports {
		dtos[i] = toReportDTO(rep)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseMoney(amount, currency string) (ledger.Money, error) {
	if amount == "" {
		return ledger.Money{}, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	cur := ledger.Currency(currency)
	if cur == "" {
		cur = ledger.CurrencyUSD
	}
	return ledger.Money{Amount: d, Currency: cur}, nil
}

func parseOptionalMoney(amount string, currency ledger.Currency) (ledger.Money, error) {
	if amount == "" {
		return ledger.Money{Amount: decimal.Zero, Currency: currency}, nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return ledger.Money{Amount: d, Currency: currency}, nil
}

// parseWindow defaults to the last 24 hours when bounds are omitted.
func parseWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if fromRaw != "" {
		t, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
		from = t
	}
	if toRaw != "" {
		t, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
		to = t
	}
	return from, to, nil
}

func idempotencyToken(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, message, err)
	case ledger.IsNotFound(err),
		errors.Is(err, billing.ErrBookingNotFound),
		errors.Is(err, billing.ErrMilestoneNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrDuplicateOperation):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrGatewayFailure):
		writeError(w, http.StatusBadGateway, message, err)
	case errors.Is(err, ledger.ErrNoActivePolicy),
		errors.Is(err, ledger.ErrIntegrityViolation):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

/*
Package reconcile verifies ledger conservation over a time window.

PURPOSE:
  The verifier sweeps every completed or refunded transaction in a window
  and checks that its debit entries sum to its credit entries. It is
  strictly read-only: discrepancies are reported for operator review,
  never auto-corrected. The write path is trusted to be correct; this is
  the independent check that it was.

EPSILON:
  Totals strictly less than one cent apart are considered balanced,
  tolerating sub-cent representation noise. A delta of a full cent is
  already a real imbalance and is reported.

SEE ALSO:
  - ledger: the conservation invariant being verified
  - store/sqlite: reconciliation_reports persistence
*/
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/billing-engine/ledger"
)

// epsilon bounds the tolerated debit/credit delta. Deltas at or above a
// full cent are discrepancies.
var epsilon = decimal.NewFromFloat(0.01)

// =============================================================================
// REPORT
// =============================================================================

// Discrepancy is one transaction whose entries do not balance.
type Discrepancy struct {
	TransactionID ledger.TransactionID
	Type          ledger.TransactionType
	DebitTotal    decimal.Decimal
	CreditTotal   decimal.Decimal
	Delta         decimal.Decimal
}

// Report is the immutable outcome of one verification sweep. Written once,
// never amended: a re-run over the same window is a new report.
type Report struct {
	ID            string
	WindowStart   time.Time
	WindowEnd     time.Time
	Checked       int
	Discrepancies []Discrepancy
	GeneratedAt   time.Time
}

// Balanced reports whether the sweep found no discrepancies.
func (r Report) Balanced() bool { return len(r.Discrepancies) == 0 }

// ReportStore persists reports. Append-only.
type ReportStore interface {
	SaveReport(ctx context.Context, r Report) error
	ListReports(ctx context.Context) ([]Report, error)
}

// =============================================================================
// VERIFIER
// =============================================================================

type Verifier struct {
	Ledger ledger.Ledger
	Store  ReportStore
	Logger *slog.Logger
}

func NewVerifier(l ledger.Ledger, store ReportStore, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{Ledger: l, Store: store, Logger: logger}
}

// Reconcile sweeps [windowStart, windowEnd] and persists the report.
// The sweep itself writes nothing to the ledger.
func (v *Verifier) Reconcile(ctx context.Context, windowStart, windowEnd time.Time) (Report, error) {
	if windowEnd.Before(windowStart) {
		return Report{}, fmt.Errorf("window end precedes window start")
	}

	txs, err := v.Ledger.TransactionsInWindow(ctx, windowStart, windowEnd)
	if err != nil {
		return Report{}, fmt.Errorf("load window transactions: %w", err)
	}

	report := Report{
		ID:          uuid.NewString(),
		WindowStart: windowStart.UTC(),
		WindowEnd:   windowEnd.UTC(),
		GeneratedAt: time.Now().UTC(),
	}

	for _, tx := range txs {
		// Pending and failed transactions have no committed entries to
		// balance; they are not part of the invariant.
		if tx.Status != ledger.StatusCompleted && tx.Status != ledger.StatusRefunded {
			continue
		}
		report.Checked++

		entries, err := v.Ledger.Entries(ctx, tx.ID)
		if err != nil {
			return Report{}, fmt.Errorf("load entries for %s: %w", tx.ID, err)
		}

		if d, ok := check(tx, entries); !ok {
			report.Discrepancies = append(report.Discrepancies, d)
		}
	}

	if v.Store != nil {
		if err := v.Store.SaveReport(ctx, report); err != nil {
			return Report{}, fmt.Errorf("save report: %w", err)
		}
	}

	if report.Balanced() {
		v.Logger.Info("reconciliation clean",
			"window_start", report.WindowStart, "window_end", report.WindowEnd,
			"checked", report.Checked)
	} else {
		v.Logger.Error("reconciliation found discrepancies",
			"window_start", report.WindowStart, "window_end", report.WindowEnd,
			"checked", report.Checked, "discrepancies", len(report.Discrepancies),
			"error", ledger.ErrLedgerImbalance)
	}
	return report, nil
}

func check(tx ledger.Transaction, entries []ledger.LedgerEntry) (Discrepancy, bool) {
	debits, credits := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Direction {
		case ledger.Debit:
			debits = debits.Add(e.Amount.Amount)
		case ledger.Credit:
			credits = credits.Add(e.Amount.Amount)
		}
	}

	delta := debits.Sub(credits)
	if delta.Abs().LessThan(epsilon) {
		return Discrepancy{}, true
	}
	return Discrepancy{
		TransactionID: tx.ID,
		Type:          tx.Type,
		DebitTotal:    debits,
		CreditTotal:   credits,
		Delta:         delta,
	}, false
}

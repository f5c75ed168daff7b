/*
entrymap.go - Declarative transaction-type -> account-pair mapping

PURPOSE:
  Encodes which accounts each transaction type moves money between. Keeping
  the mapping as a table (instead of inline branching in the recording path)
  makes the balanced-entries invariant mechanically checkable and the
  mapping independently testable.

THE TABLE:
  listing_fee:     holder-receivable    -> platform-revenue      (fee)
  booking_fee:     buyer-payable        -> platform-revenue      (fee)
  fund:            payer-receivable     -> platform-escrow       (gross)
  release:         platform-escrow      -> payee-receivable      (net)
  completion_fee:  platform-escrow      -> platform-revenue      (fee)
  payout:          platform-revenue     -> payee-receivable      (net)
  top_up:          gateway-clearing     -> holder-wallet-credit  (gross)
  usage_fee:       holder-wallet-credit -> platform-revenue      (fee)
                   holder-wallet-credit -> payee-receivable      (net)

  Top-ups are captured externally by the payment gateway; the debit lands
  on gateway-clearing so conservation holds for every completed
  transaction.

REFUNDS:
  A refund reverses the referenced transaction's pairs (directions swapped)
  sized by the refund transaction's own amounts. See ReversedLines.

SEE ALSO:
  - ledger.go: Expands the table inside the atomic recording unit
*/
package ledger

// AmountSelector picks which split of the transaction an entry pair moves.
type AmountSelector string

const (
	SelectGross AmountSelector = "gross"
	SelectFee   AmountSelector = "fee"
	SelectNet   AmountSelector = "net"
)

// EntrySpec is one debit/credit pair parameterized by an amount split.
type EntrySpec struct {
	Debit  Account
	Credit Account
	Amount AmountSelector
}

var entryMap = map[TransactionType][]EntrySpec{
	TxListingFee:    {{Debit: AccountHolderReceivable, Credit: AccountPlatformRevenue, Amount: SelectFee}},
	TxBookingFee:    {{Debit: AccountBuyerPayable, Credit: AccountPlatformRevenue, Amount: SelectFee}},
	TxFund:          {{Debit: AccountPayerReceivable, Credit: AccountPlatformEscrow, Amount: SelectGross}},
	TxRelease:       {{Debit: AccountPlatformEscrow, Credit: AccountPayeeReceivable, Amount: SelectNet}},
	TxCompletionFee: {{Debit: AccountPlatformEscrow, Credit: AccountPlatformRevenue, Amount: SelectFee}},
	TxPayout:        {{Debit: AccountPlatformRevenue, Credit: AccountPayeeReceivable, Amount: SelectNet}},
	TxTopUp:         {{Debit: AccountGatewayClearing, Credit: AccountHolderWalletCredit, Amount: SelectGross}},
	TxUsageFee: {
		{Debit: AccountHolderWalletCredit, Credit: AccountPlatformRevenue, Amount: SelectFee},
		{Debit: AccountHolderWalletCredit, Credit: AccountPayeeReceivable, Amount: SelectNet},
	},
}

// EntryLine is one side of a pair, ready to be persisted.
type EntryLine struct {
	Account   Account
	Direction Direction
	Amount    Money
}

// SpecsFor returns the entry specs for a transaction type.
// Refund specs depend on the refunded type; use ReversedLines for those.
func SpecsFor(t TransactionType) ([]EntrySpec, bool) {
	specs, ok := entryMap[t]
	return specs, ok
}

// Lines expands the mapping table for a transaction into concrete debit and
// credit lines. Each spec yields one debit and one credit of equal amount,
// so the result always balances.
func Lines(tx Transaction) ([]EntryLine, error) {
	specs, ok := entryMap[tx.Type]
	if !ok {
		return nil, &UnmappedTypeError{Type: tx.Type}
	}
	return expand(specs, tx, false), nil
}

// ReversedLines expands the referenced type's specs with directions swapped.
// Used for refund transactions: the compensating movement retraces the
// original pairs backwards, sized by the refund transaction's amounts.
func ReversedLines(refundedType TransactionType, refund Transaction) ([]EntryLine, error) {
	specs, ok := entryMap[refundedType]
	if !ok {
		return nil, &UnmappedTypeError{Type: refundedType}
	}
	return expand(specs, refund, true), nil
}

func expand(specs []EntrySpec, tx Transaction, reversed bool) []EntryLine {
	var lines []EntryLine
	for _, spec := range specs {
		amount := selectAmount(spec.Amount, tx)
		if amount.IsZero() {
			continue
		}
		debit, credit := spec.Debit, spec.Credit
		if reversed {
			debit, credit = credit, debit
		}
		lines = append(lines,
			EntryLine{Account: debit, Direction: Debit, Amount: amount},
			EntryLine{Account: credit, Direction: Credit, Amount: amount},
		)
	}
	return lines
}

func selectAmount(sel AmountSelector, tx Transaction) Money {
	switch sel {
	case SelectGross:
		return tx.Gross
	case SelectFee:
		return tx.Fee
	case SelectNet:
		return tx.Net
	default:
		return Money{Currency: tx.Currency}
	}
}

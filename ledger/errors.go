/*
errors.go - Centralized error types for the billing core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Recording errors - idempotency, unmapped types, persistence failures
  2. Balance errors - insufficient funds, unknown holders
  3. Policy errors - missing/invalid fee policies (fail closed)
  4. Integrity errors - signature mismatches, ledger imbalance

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      // surface as retryable-by-the-user
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - policy: wraps ErrNoActivePolicy / ErrIntegrityViolation
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateOperation is returned when (type, idempotency token)
	// already has a completed transaction. Not really a failure: callers
	// get the prior transaction back and no writes occur.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrInsufficientBalance is returned when a debit would take a holder's
	// available units negative. The whole atomic unit rolls back.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoActivePolicy is returned when no fee policy is in effect at the
	// requested instant. Fee calculations fail closed, never defaulting.
	ErrNoActivePolicy = errors.New("no active fee policy")

	// ErrPolicyNotFound is returned when a referenced policy version
	// doesn't exist.
	ErrPolicyNotFound = errors.New("fee policy not found")

	// ErrIntegrityViolation is returned when a stored policy's signature
	// does not match its recomputed hash. Fatal for that version.
	ErrIntegrityViolation = errors.New("policy integrity violation")

	// ErrHolderNotFound is returned when a referenced balance holder
	// doesn't exist.
	ErrHolderNotFound = errors.New("balance holder not found")

	// ErrTransactionNotFound is returned when a referenced transaction
	// doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrGatewayFailure is returned when the external payment gateway
	// declines or errors. No ledger mutation occurs.
	ErrGatewayFailure = errors.New("payment gateway failure")

	// ErrLedgerImbalance is raised only by the reconciliation verifier,
	// never by the hot path, and is never auto-remediated.
	ErrLedgerImbalance = errors.New("ledger imbalance")

	// ErrInvalidTransition is returned on a disallowed status transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	HolderID  HolderID
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.HolderID, e.Available.Amount, e.Requested.Amount)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// UnmappedTypeError indicates a transaction type with no entry mapping.
type UnmappedTypeError struct {
	Type TransactionType
}

func (e *UnmappedTypeError) Error() string {
	return fmt.Sprintf("no entry mapping for transaction type %q", e.Type)
}

// GatewayError carries the gateway's own failure detail.
type GatewayError struct {
	HolderID HolderID
	Detail   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway failed for %s: %s", e.HolderID, e.Detail)
}

func (e *GatewayError) Unwrap() error { return ErrGatewayFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller may retry the operation with the
// same idempotency token.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayFailure) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsClientError returns true if the error is due to the caller's input or
// account state rather than a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateOperation) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrHolderNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsOperatorError returns true for errors that surface as system faults to
// operators, not as user input errors.
func IsOperatorError(err error) bool {
	return errors.Is(err, ErrNoActivePolicy) ||
		errors.Is(err, ErrIntegrityViolation) ||
		errors.Is(err, ErrLedgerImbalance)
}

package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed transaction input. It is raised before
// any ledger write and surfaced to the caller verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientHoldingsError reports a SELL that would reduce a position below
// zero. The ledger is left unchanged.
type InsufficientHoldingsError struct {
	Symbol    string
	Held      decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientHoldingsError) Error() string {
	return fmt.Sprintf("insufficient holdings for %s: held %s, sell %s",
		e.Symbol, e.Held.String(), e.Requested.String())
}

// PriceUnavailableError reports that no price could be obtained for a symbol
// and no last-known value exists to substitute.
type PriceUnavailableError struct {
	Symbol string
	Cause  error
}

func (e *PriceUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("no price available for %s: %v", e.Symbol, e.Cause)
	}
	return fmt.Sprintf("no price available for %s", e.Symbol)
}

func (e *PriceUnavailableError) Unwrap() error { return e.Cause }

// RecomputationConflictError reports that the ledger changed while a holdings
// recomputation was in flight and internal retries were exhausted.
type RecomputationConflictError struct {
	UserID   string
	Attempts int
}

func (e *RecomputationConflictError) Error() string {
	return fmt.Sprintf("holdings recomputation for user %s conflicted with concurrent ledger writes after %d attempts",
		e.UserID, e.Attempts)
}

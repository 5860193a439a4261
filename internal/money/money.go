// Package money implements the kernel's scaled-integer money representation.
// All monetary values are signed 64-bit integers in minor units; there is no
// floating-point arithmetic anywhere in this package.
package money

import (
	"errors"
	"fmt"
)

// ErrValidation is returned when currency construction receives a
// structurally invalid code or decimal-place count.
var ErrValidation = errors.New("money: validation failed")

// MaxDecimalPlaces is the highest decimal-place count the kernel accepts.
// The kernel is culture-neutral: it does not map currency codes to decimal
// places, it only enforces the range a caller may supply.
const MaxDecimalPlaces = 4

// Currency is a caller-supplied description of a transaction's monetary
// unit. The kernel treats Code as opaque and never validates it against an
// external registry.
type Currency struct {
	Code          string
	DecimalPlaces int
	Standard      bool
}

// NewCurrency validates and constructs a Currency. Code must be exactly
// three characters and non-empty; DecimalPlaces must fall in 0..=4.
func NewCurrency(code string, decimalPlaces int, standard bool) (Currency, error) {
	if len(code) != 3 {
		return Currency{}, fmt.Errorf("%w: currency code must be exactly 3 characters, got %q", ErrValidation, code)
	}
	if decimalPlaces < 0 || decimalPlaces > MaxDecimalPlaces {
		return Currency{}, fmt.Errorf("%w: decimal places must be in 0..=%d, got %d", ErrValidation, MaxDecimalPlaces, decimalPlaces)
	}
	return Currency{Code: code, DecimalPlaces: decimalPlaces, Standard: standard}, nil
}

// Minor is an amount expressed in the smallest denomination of a currency
// (cents for USD, yen for JPY). It is the only monetary representation that
// crosses a component boundary inside the kernel.
type Minor = int64

// LineTotal computes qty * unitMinor without ever leaving the integer
// domain. Overflow at the int64 boundary is treated as a fatal invariant
// violation by the caller (see txn.Transaction.Total), not as a recoverable
// error, matching the kernel's "overflow is fatal" invariant.
func LineTotal(qty int32, unitMinor Minor) Minor {
	return Minor(qty) * unitMinor
}

// Change implements change = max(0, tendered - total).
func Change(tendered, total Minor) Minor {
	c := tendered - total
	if c < 0 {
		return 0
	}
	return c
}

// Package line implements the kernel's line-item data model: immutable,
// append-only entries that form the audit trail of a transaction.
package line

import (
	"time"

	"github.com/fenilsonani/poskernel/internal/money"
)

// Kind discriminates a line's role in the audit trail. A logical sale
// position is never mutated in place; it is amended by appending a Void or
// Adjustment entry that references it.
type Kind int

const (
	// Sale is an original sold position; its Qty is always positive.
	// Reversals are expressed as Void or Adjustment entries.
	Sale Kind = iota
	// Void cancels a prior Sale entirely; see Cascade semantics in txn.
	Void
	// Adjustment changes the effective quantity of a prior Sale without
	// cancelling it.
	Adjustment
)

func (k Kind) String() string {
	switch k {
	case Sale:
		return "sale"
	case Void:
		return "void"
	case Adjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Line is one append-only entry in a transaction's ordered line list.
// Quantity and price corrections are expressed as additional Void/Adjustment
// lines rather than in-place edits; Note is the one field that may be set
// after the line is appended, since a preparation note carries no price or
// quantity implication.
type Line struct {
	// Number is the 1-based, monotonically assigned line number, unique
	// within the owning transaction.
	Number int

	SKU       string
	Qty       int32
	UnitMinor money.Minor
	Kind      Kind

	// ParentNumber is the line number of the Sale this line is attached to
	// as a modifier/component, or 0 if this line has no parent. It is
	// always strictly less than Number.
	ParentNumber int

	// References is the line number of the Sale this Void/Adjustment
	// entry reverses or amends, or 0 for a plain Sale line.
	References int

	Reason    string
	Note      string
	CreatedAt time.Time
}

// HasParent reports whether this line is attached to another Sale line.
func (l Line) HasParent() bool { return l.ParentNumber != 0 }

// Total returns qty * unit price for this single line, in minor units.
func (l Line) Total() money.Minor { return money.LineTotal(l.Qty, l.UnitMinor) }

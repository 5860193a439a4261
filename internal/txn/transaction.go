// Package txn implements the transaction aggregate and its state machine:
// the in-memory model that a kernel operation mutates once its WAL record
// is durable. Every Apply* method here is deliberately pure in-memory
// mutation with no WAL awareness, so the exact same methods drive both live
// operations (pkg/kernel, after a successful WAL append) and crash recovery
// (internal/recovery, replaying records without re-logging) — the two
// paths cannot drift apart because they share this code.
//
// The container generalizes a sorted, cache-backed collection of entries
// with Add/Remove semantics into one holding immutable, append-only Lines,
// adding the state machine, totals, and cascade-void logic on top.
package txn

import (
	"errors"
	"fmt"
	"time"

	"github.com/fenilsonani/poskernel/internal/line"
	"github.com/fenilsonani/poskernel/internal/money"
)

// State is one of the six states a transaction occupies across its
// lifetime. Only Building accepts mutations.
type State int

const (
	Building State = iota
	Committing
	Committed
	Aborting
	Aborted
	TimedOut
)

// IsTerminal reports whether the state is one a transaction never leaves:
// Committed, Aborted, or TimedOut.
func (s State) IsTerminal() bool {
	switch s {
	case Committed, Aborted, TimedOut:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case Building:
		return "Building"
	case Committing:
		return "Committing"
	case Committed:
		return "Committed"
	case Aborting:
		return "Aborting"
	case Aborted:
		return "Aborted"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

var (
	// ErrNotFound is returned when a referenced line does not exist.
	ErrNotFound = errors.New("txn: not found")
	// ErrInvalidState is returned when an operation is disallowed in the
	// transaction's current state.
	ErrInvalidState = errors.New("txn: invalid state")
	// ErrValidation is returned when caller-supplied arguments fail
	// structural validation.
	ErrValidation = errors.New("txn: validation failed")
	// ErrTimedOut is returned when a mutation is attempted against a
	// transaction whose inactivity has exceeded the configured timeout.
	ErrTimedOut = errors.New("txn: timed out")
)

// Transaction is the aggregate of lines and tenders for one sale, plus its
// state and WAL bookkeeping. A Transaction is never accessed by more than
// one goroutine at a time: callers serialize access through the handle
// registry's RW lock (internal/registry), so Transaction itself carries no
// lock of its own — matching the coarse-grained single-RWMutex design of
// the handle registry that guards it.
type Transaction struct {
	ID       int64
	Store    string
	Currency money.Currency
	Lines    []line.Line
	Tendered money.Minor
	State    State

	CreatedAt    time.Time
	LastActivity time.Time

	WALBeginSequence  uint64
	WALCommitSequence uint64

	// AbortReason records why a transaction was aborted, including the
	// synthetic "recovered: crashed in <state>" reason recovery assigns
	// to a transaction caught mid-transition by a crash.
	AbortReason string
	// RecoveredFromCrash marks a transaction that recovery resolved from
	// a transient state; the façade's GetTotals reports RecoveryFailed on
	// the first query against it and then clears this flag.
	RecoveredFromCrash bool
}

// New constructs a fresh Building transaction. It does not touch the WAL;
// the caller (pkg/kernel) is responsible for logging TransactionBegin
// before or via the same call that invokes New.
func New(id int64, store string, currency money.Currency, now time.Time) *Transaction {
	return &Transaction{
		ID:           id,
		Store:        store,
		Currency:     currency,
		State:        Building,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Total returns total = Σ line.qty * line.unit_minor over every line
// regardless of entry kind. It panics if a line product or the running sum
// overflows int64: overflow is a fatal invariant violation.
func (t *Transaction) Total() money.Minor {
	var total money.Minor
	for _, l := range t.Lines {
		lt := l.Total()
		if l.Qty != 0 && lt/money.Minor(l.Qty) != l.UnitMinor {
			panic(fmt.Sprintf("txn: line %d total overflows int64", l.Number))
		}
		sum := total + lt
		if (lt > 0 && sum < total) || (lt < 0 && sum > total) {
			panic(fmt.Sprintf("txn: transaction %d total overflows int64", t.ID))
		}
		total = sum
	}
	return total
}

// Change returns change = max(0, tendered - total).
func (t *Transaction) Change() money.Minor {
	return money.Change(t.Tendered, t.Total())
}

// LineByNumber returns the line with the given number, or ok=false.
func (t *Transaction) LineByNumber(number int) (line.Line, bool) {
	for _, l := range t.Lines {
		if l.Number == number {
			return l, true
		}
	}
	return line.Line{}, false
}

// EffectiveQty sums a Sale line's own quantity with every Void/Adjustment
// line that references it (the GLOSSARY's "effective quantity").
func (t *Transaction) EffectiveQty(saleNumber int) int32 {
	var qty int32
	for _, l := range t.Lines {
		if l.Number == saleNumber {
			qty += l.Qty
		} else if l.References == saleNumber {
			qty += l.Qty
		}
	}
	return qty
}

// IsVoided reports whether saleNumber already has a Void entry referencing
// it — voiding it again is forbidden (no void-of-void).
func (t *Transaction) IsVoided(saleNumber int) bool {
	for _, l := range t.Lines {
		if l.Kind == line.Void && l.References == saleNumber {
			return true
		}
	}
	return false
}

// nextLineNumber returns the line number the next appended line will carry.
func (t *Transaction) nextLineNumber() int {
	return len(t.Lines) + 1
}

// RequireBuilding validates only that the transaction is in Building;
// inactivity timeout is a separate, stateful check (IsTimedOut below)
// because discovering a timeout is itself a logged transition, not a bare
// validation failure.
func (t *Transaction) RequireBuilding() error {
	if t.State != Building {
		return fmt.Errorf("%w: transaction %d is in state %s", ErrInvalidState, t.ID, t.State)
	}
	return nil
}

// IsTimedOut reports whether a Building transaction's inactivity has
// exceeded timeout. A non-positive timeout disables the check.
func (t *Transaction) IsTimedOut(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && t.State == Building && now.Sub(t.LastActivity) > timeout
}

// PlanAddLine validates a Sale append and returns the Line it would
// produce, without mutating the transaction. The façade logs this Line's
// fields to the WAL before calling ApplyAddLine with the same values.
func (t *Transaction) PlanAddLine(sku string, qty int32, unitMinor money.Minor, parent int, now time.Time) (line.Line, error) {
	if sku == "" {
		return line.Line{}, fmt.Errorf("%w: sku must not be empty", ErrValidation)
	}
	if qty <= 0 {
		return line.Line{}, fmt.Errorf("%w: qty must be positive", ErrValidation)
	}
	if unitMinor < 0 {
		return line.Line{}, fmt.Errorf("%w: unit price must not be negative", ErrValidation)
	}
	if parent != 0 {
		parentLine, ok := t.LineByNumber(parent)
		if !ok {
			return line.Line{}, fmt.Errorf("%w: parent line %d not found", ErrValidation, parent)
		}
		if parentLine.Kind != line.Sale {
			return line.Line{}, fmt.Errorf("%w: parent line %d is not a Sale", ErrValidation, parent)
		}
	}
	return line.Line{
		Number:       t.nextLineNumber(),
		SKU:          sku,
		Qty:          qty,
		UnitMinor:    unitMinor,
		Kind:         line.Sale,
		ParentNumber: parent,
		CreatedAt:    now,
	}, nil
}

// ApplyAddLine appends a fully-formed Sale line. It is used both by the
// live path (after the plan above has been logged) and by recovery
// (reconstructing the line from a durable WAL record).
func (t *Transaction) ApplyAddLine(l line.Line) {
	t.Lines = append(t.Lines, l)
	t.LastActivity = l.CreatedAt
}

// PlanVoidCascade computes the full deepest-first cascade a void of
// saleNumber would produce: every transitive descendant not already voided
// first (in descending line-number order), then the target itself. It never
// mutates the transaction. Descendants are found with a single ascending
// scan, relying on the invariant that a parent's line number always
// precedes its children's — no recursion is needed.
func (t *Transaction) PlanVoidCascade(saleNumber int, reason string, now time.Time) ([]line.Line, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: void reason must not be empty", ErrValidation)
	}
	target, ok := t.LineByNumber(saleNumber)
	if !ok {
		return nil, fmt.Errorf("%w: line %d not found", ErrNotFound, saleNumber)
	}
	if target.Kind != line.Sale {
		return nil, fmt.Errorf("%w: line %d is not a Sale", ErrInvalidState, saleNumber)
	}
	if t.IsVoided(saleNumber) {
		return nil, fmt.Errorf("%w: line %d is already voided", ErrInvalidState, saleNumber)
	}

	inScope := map[int]bool{saleNumber: true}
	var descendants []int
	for _, l := range t.Lines {
		if l.Kind == line.Sale && l.HasParent() && inScope[l.ParentNumber] {
			inScope[l.Number] = true
			if !t.IsVoided(l.Number) {
				descendants = append(descendants, l.Number)
			}
		}
	}
	// Deepest-first: descending by line number, children before parent.
	for i, j := 0, len(descendants)-1; i < j; i, j = i+1, j-1 {
		descendants[i], descendants[j] = descendants[j], descendants[i]
	}

	voids := make([]line.Line, 0, len(descendants)+1)
	next := t.nextLineNumber()
	for _, dn := range descendants {
		d, _ := t.LineByNumber(dn)
		voids = append(voids, line.Line{
			Number:     next,
			SKU:        d.SKU,
			Qty:        -d.Qty,
			UnitMinor:  d.UnitMinor,
			Kind:       line.Void,
			References: dn,
			Reason:     "Parent voided: " + reason,
			CreatedAt:  now,
		})
		next++
	}
	voids = append(voids, line.Line{
		Number:     next,
		SKU:        target.SKU,
		Qty:        -target.Qty,
		UnitMinor:  target.UnitMinor,
		Kind:       line.Void,
		References: saleNumber,
		Reason:     reason,
		CreatedAt:  now,
	})
	return voids, nil
}

// ApplyVoidCascade appends every Void line produced by PlanVoidCascade (or
// reconstructed from a WAL LineVoid record) as a single atomic group.
func (t *Transaction) ApplyVoidCascade(voids []line.Line) {
	t.Lines = append(t.Lines, voids...)
	if len(voids) > 0 {
		t.LastActivity = voids[len(voids)-1].CreatedAt
	}
}

// PlanAdjustLine validates an adjustment and returns the Adjustment line it
// would produce. newQty must be positive; zero is rejected because the
// caller must use void_line for complete removal.
func (t *Transaction) PlanAdjustLine(saleNumber int, newQty int32, now time.Time) (line.Line, error) {
	if newQty <= 0 {
		return line.Line{}, fmt.Errorf("%w: new quantity must be positive, use void_line to remove a line entirely", ErrInvalidState)
	}
	target, ok := t.LineByNumber(saleNumber)
	if !ok {
		return line.Line{}, fmt.Errorf("%w: line %d not found", ErrNotFound, saleNumber)
	}
	if target.Kind != line.Sale {
		return line.Line{}, fmt.Errorf("%w: line %d is not a Sale", ErrInvalidState, saleNumber)
	}
	if t.IsVoided(saleNumber) {
		return line.Line{}, fmt.Errorf("%w: line %d is voided", ErrInvalidState, saleNumber)
	}
	delta := newQty - t.EffectiveQty(saleNumber)
	return line.Line{
		Number:     t.nextLineNumber(),
		SKU:        target.SKU,
		Qty:        delta,
		UnitMinor:  target.UnitMinor,
		Kind:       line.Adjustment,
		References: saleNumber,
		CreatedAt:  now,
	}, nil
}

// ApplyAdjustLine appends a fully-formed Adjustment line.
func (t *Transaction) ApplyAdjustLine(l line.Line) {
	t.Lines = append(t.Lines, l)
	t.LastActivity = l.CreatedAt
}

// SetLineNote attaches a free-form preparation note to an existing Sale
// line in place. Unlike the other mutations this has no Plan/Apply split:
// it changes no quantity or price, only an advisory annotation, so there
// is nothing for a replaying recovery pass to disagree with beyond the
// note text itself already carried in the WAL record.
func (t *Transaction) SetLineNote(lineNumber int, note string) {
	for i := range t.Lines {
		if t.Lines[i].Number == lineNumber {
			t.Lines[i].Note = note
			return
		}
	}
}

// ApplyTender records an addition to the cumulative tendered amount.
func (t *Transaction) ApplyTender(amount money.Minor, now time.Time) {
	t.Tendered += amount
	t.LastActivity = now
}

// ReadyToAutoCommit reports whether tendered has reached or exceeded total,
// the trigger for the kernel's auto-commit policy (see DESIGN.md).
func (t *Transaction) ReadyToAutoCommit() bool {
	return t.Tendered >= t.Total()
}

// BeginCommit transitions Building -> Committing in memory. The façade
// appends the terminal WAL record next and only calls FinishCommit once
// that record is durable.
func (t *Transaction) BeginCommit() error {
	if t.State != Building {
		return fmt.Errorf("%w: cannot commit transaction %d in state %s", ErrInvalidState, t.ID, t.State)
	}
	t.State = Committing
	return nil
}

// FinishCommit transitions Committing -> Committed after the
// TransactionCommit record is durable.
func (t *Transaction) FinishCommit(seq uint64, now time.Time) {
	t.State = Committed
	t.WALCommitSequence = seq
	t.LastActivity = now
}

// RevertToBuilding is called when the terminal WAL flush for a
// Committing/Aborting transition fails; the in-memory transition is
// rolled back and the caller sees InternalError.
func (t *Transaction) RevertToBuilding() {
	if t.State == Committing || t.State == Aborting {
		t.State = Building
	}
}

// BeginAbort transitions Building -> Aborting in memory.
func (t *Transaction) BeginAbort(reason string) error {
	if t.State != Building {
		return fmt.Errorf("%w: cannot abort transaction %d in state %s", ErrInvalidState, t.ID, t.State)
	}
	t.State = Aborting
	t.AbortReason = reason
	return nil
}

// FinishAbort transitions Aborting -> Aborted after the TransactionAbort
// record is durable.
func (t *Transaction) FinishAbort(now time.Time) {
	t.State = Aborted
	t.LastActivity = now
}

// ApplyTimeout transitions Building -> TimedOut. Unlike Commit/Abort this
// has no transient phase: the WAL record and the in-memory transition are
// both effects of the same detection, with no risk window between them
// worth modelling as its own state.
func (t *Transaction) ApplyTimeout(now time.Time) {
	t.State = TimedOut
	t.LastActivity = now
}

// ResolveCrashedTransient is recovery's response to finding a transaction
// in Committing or Aborting after replay: both resolve to Aborted, with a
// synthetic reason and RecoveryFailed reported to the caller on first
// query.
func (t *Transaction) ResolveCrashedTransient(now time.Time) string {
	reason := fmt.Sprintf("recovered: crashed in %s", t.State)
	t.State = Aborted
	t.AbortReason = reason
	t.RecoveredFromCrash = true
	t.LastActivity = now
	return reason
}

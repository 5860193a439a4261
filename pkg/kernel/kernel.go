// Package kernel is the point-of-sale transaction kernel's façade: the
// narrow, handle-based operation surface that composes the money, line,
// transaction, WAL, and handle-registry components into the single entry
// point an embedder talks to.
//
// A thin type wrapping a storage engine, offering one method per
// caller-visible operation and translating low-level errors at the
// boundary. Terminal construction and lock acquisition live in
// internal/terminal; Kernel is the operation surface that remains once a
// terminal's WAL and registry already exist.
package kernel

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fenilsonani/poskernel/internal/line"
	"github.com/fenilsonani/poskernel/internal/money"
	"github.com/fenilsonani/poskernel/internal/registry"
	"github.com/fenilsonani/poskernel/internal/txn"
	"github.com/fenilsonani/poskernel/internal/wal"
)

// DefaultTransactionTimeout is applied when a Kernel is constructed with a
// non-positive timeout.
const DefaultTransactionTimeout = 300 * time.Second

// Kernel is the façade over one terminal's WAL and handle registry. A
// Kernel is safe for concurrent use by multiple goroutines: every
// operation acquires the registry's RW lock and, for mutations, the WAL's
// append lock, for no longer than the single operation takes.
type Kernel struct {
	wal      wal.WAL
	registry *registry.Registry
	log      *logrus.Logger
	clock    func() time.Time
	timeout  time.Duration
	// autoCommit, when true, commits a transaction automatically once
	// tendered >= total rather than requiring an explicit commit call.
	// See DESIGN.md for the build-time-policy rationale.
	autoCommit bool
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithLogger overrides the default logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(k *Kernel) { k.clock = clock }
}

// WithTransactionTimeout overrides DefaultTransactionTimeout.
func WithTransactionTimeout(d time.Duration) Option {
	return func(k *Kernel) { k.timeout = d }
}

// WithAutoCommit overrides the default auto-commit-on-full-tender policy.
func WithAutoCommit(enabled bool) Option {
	return func(k *Kernel) { k.autoCommit = enabled }
}

// New constructs a Kernel over an already-open WAL and a fresh or
// recovered registry. The usual caller (cmd/poskernel's demo command) opens
// the terminal's directory, lock file and WAL via internal/terminal, rebuilds
// the registry via internal/recovery, then hands both here.
func New(w wal.WAL, reg *registry.Registry, opts ...Option) *Kernel {
	k := &Kernel{
		wal:        w,
		registry:   reg,
		log:        logrus.StandardLogger(),
		clock:      time.Now,
		timeout:    DefaultTransactionTimeout,
		autoCommit: true,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// classify maps an internal error to the closed ResultCode set.
func classify(err error) ResultCode {
	switch {
	case err == nil:
		return Ok
	case errors.Is(err, errRecoveryFailed):
		return RecoveryFailed
	case errors.Is(err, errInsufficientBuffer):
		return InsufficientBuffer
	case errors.Is(err, registry.ErrHandleNotFound), errors.Is(err, txn.ErrNotFound):
		return NotFound
	case errors.Is(err, txn.ErrTimedOut):
		return TimedOut
	case errors.Is(err, txn.ErrInvalidState):
		return InvalidState
	case errors.Is(err, txn.ErrValidation), errors.Is(err, money.ErrValidation), errors.Is(err, registry.ErrCapacityExceeded):
		return ValidationFailed
	default:
		return InternalError
	}
}

func (k *Kernel) fail(op string, err error) error {
	code := classify(err)
	if code == InternalError {
		k.log.WithError(err).WithField("op", op).Error("kernel: internal error")
	}
	return newErr(op, code, err)
}

// checkTimeout is run at the start of every mutating operation: if the
// transaction has gone quiet past the configured timeout, it is logged
// and transitioned to TimedOut in place of the operation that was
// attempted.
func (k *Kernel) checkTimeout(t *txn.Transaction) error {
	now := k.clock()
	if !t.IsTimedOut(now, k.timeout) {
		return nil
	}
	if _, err := k.wal.Append(wal.OpTransactionTimeout, uint64(t.ID), wal.Fields("reason", "inactivity")); err != nil {
		return fmt.Errorf("wal append TransactionTimeout: %w", err)
	}
	t.ApplyTimeout(now)
	return txn.ErrTimedOut
}

// BeginTransaction creates a new transaction in Building and returns its
// handle.
func (k *Kernel) BeginTransaction(store, currencyCode string, decimalPlaces int) (int64, error) {
	const op = "begin_transaction"
	if store == "" {
		return 0, k.fail(op, fmt.Errorf("%w: store must not be empty", txn.ErrValidation))
	}
	currency, err := money.NewCurrency(currencyCode, decimalPlaces, false)
	if err != nil {
		return 0, k.fail(op, err)
	}

	handle, err := k.registry.Begin(func(handle int64) (*txn.Transaction, error) {
		now := k.clock()
		rec, err := k.wal.Append(wal.OpTransactionBegin, uint64(handle), wal.Fields(
			"store", store,
			"currency_code", currency.Code,
			"decimal_places", fmt.Sprint(currency.DecimalPlaces),
		))
		if err != nil {
			return nil, fmt.Errorf("wal append TransactionBegin: %w", err)
		}
		t := txn.New(handle, store, currency, now)
		t.WALBeginSequence = rec.Sequence
		return t, nil
	})
	if err != nil {
		return 0, k.fail(op, err)
	}
	k.log.WithFields(logrus.Fields{"op": op, "handle": handle, "store": store}).Info("transaction begun")
	return handle, nil
}

// AddLine appends a Sale line.
func (k *Kernel) AddLine(handle int64, sku string, qty int32, unitMinor money.Minor) error {
	return k.addLine("add_line", handle, sku, qty, unitMinor, 0)
}

// AddLineWithParent appends a Sale line attached to an existing Sale line
// as a modifier/component.
func (k *Kernel) AddLineWithParent(handle int64, sku string, qty int32, unitMinor money.Minor, parent int) error {
	return k.addLine("add_line_with_parent", handle, sku, qty, unitMinor, parent)
}

func (k *Kernel) addLine(op string, handle int64, sku string, qty int32, unitMinor money.Minor, parent int) error {
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := t.RequireBuilding(); err != nil {
			return err
		}
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		now := k.clock()
		planned, err := t.PlanAddLine(sku, qty, unitMinor, parent, now)
		if err != nil {
			return err
		}
		fields := wal.Fields(
			"line_number", fmt.Sprint(planned.Number),
			"sku", planned.SKU,
			"qty", fmt.Sprint(planned.Qty),
			"unit_minor", fmt.Sprint(planned.UnitMinor),
			"parent", fmt.Sprint(planned.ParentNumber),
		)
		opKind := wal.OpLineAdd
		if parent != 0 {
			opKind = wal.OpLineAddWithParent
		}
		if _, err := k.wal.Append(opKind, uint64(handle), fields); err != nil {
			return fmt.Errorf("wal append %s: %w", opKind, err)
		}
		t.ApplyAddLine(planned)
		return nil
	})
	if err != nil {
		return k.fail(op, err)
	}
	return nil
}

// VoidLine performs a cascading void of a Sale line and every descendant
// attached to it.
func (k *Kernel) VoidLine(handle int64, lineNumber int, reason string) error {
	const op = "void_line"
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := t.RequireBuilding(); err != nil {
			return err
		}
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		voids, err := t.PlanVoidCascade(lineNumber, reason, k.clock())
		if err != nil {
			return err
		}
		numbers := make([]string, len(voids))
		for i, v := range voids {
			numbers[i] = fmt.Sprint(v.References)
		}
		fields := wal.Fields(
			"target", fmt.Sprint(lineNumber),
			"reason", reason,
			"voided", joinComma(numbers),
		)
		if _, err := k.wal.Append(wal.OpLineVoid, uint64(handle), fields); err != nil {
			return fmt.Errorf("wal append LineVoid: %w", err)
		}
		t.ApplyVoidCascade(voids)
		return nil
	})
	if err != nil {
		return k.fail(op, err)
	}
	return nil
}

// AdjustLine appends an Adjustment line bringing a Sale's effective
// quantity to newQty.
func (k *Kernel) AdjustLine(handle int64, lineNumber int, newQty int32) error {
	const op = "adjust_line"
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := t.RequireBuilding(); err != nil {
			return err
		}
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		now := k.clock()
		planned, err := t.PlanAdjustLine(lineNumber, newQty, now)
		if err != nil {
			return err
		}
		fields := wal.Fields(
			"line_number", fmt.Sprint(planned.Number),
			"references", fmt.Sprint(planned.References),
			"delta_qty", fmt.Sprint(planned.Qty),
		)
		if _, err := k.wal.Append(wal.OpLineAdjust, uint64(handle), fields); err != nil {
			return fmt.Errorf("wal append LineAdjust: %w", err)
		}
		t.ApplyAdjustLine(planned)
		return nil
	})
	if err != nil {
		return k.fail(op, err)
	}
	return nil
}

// SetLineNote attaches a free-form preparation note to a Sale line without
// altering its price or quantity.
func (k *Kernel) SetLineNote(handle int64, lineNumber int, note string) error {
	const op = "set_line_note"
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := t.RequireBuilding(); err != nil {
			return err
		}
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		target, ok := t.LineByNumber(lineNumber)
		if !ok {
			return fmt.Errorf("%w: line %d not found", txn.ErrNotFound, lineNumber)
		}
		if target.Kind != line.Sale {
			return fmt.Errorf("%w: line %d is not a Sale", txn.ErrValidation, lineNumber)
		}
		fields := wal.Fields("line_number", fmt.Sprint(lineNumber), "note", note)
		if _, err := k.wal.Append(wal.OpSystemConfigChange, uint64(handle), fields); err != nil {
			return fmt.Errorf("wal append note: %w", err)
		}
		t.SetLineNote(lineNumber, note)
		return nil
	})
	if err != nil {
		return k.fail(op, err)
	}
	return nil
}

// AddCashTender records a cash tender against the transaction. If the
// kernel's auto-commit policy is enabled (the default) and the tender
// brings tendered >= total, the transaction commits as part of this call.
func (k *Kernel) AddCashTender(handle int64, amountMinor money.Minor) error {
	const op = "add_cash_tender"
	if amountMinor <= 0 {
		return k.fail(op, fmt.Errorf("%w: tender amount must be positive", txn.ErrValidation))
	}
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := t.RequireBuilding(); err != nil {
			return err
		}
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		now := k.clock()
		fields := wal.Fields("amount_minor", fmt.Sprint(amountMinor))
		if _, err := k.wal.Append(wal.OpTenderAdd, uint64(handle), fields); err != nil {
			return fmt.Errorf("wal append TenderAdd: %w", err)
		}
		t.ApplyTender(amountMinor, now)
		if k.autoCommit && t.ReadyToAutoCommit() {
			return k.doCommit(t, now)
		}
		return nil
	})
	if err != nil {
		return k.fail(op, err)
	}
	return nil
}

// Commit explicitly commits a Building transaction.
func (k *Kernel) Commit(handle int64) error {
	const op = "commit"
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := t.RequireBuilding(); err != nil {
			return err
		}
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		return k.doCommit(t, k.clock())
	})
	if err != nil {
		return k.fail(op, err)
	}
	return nil
}

// doCommit performs the Building -> Committing -> Committed transition:
// the in-memory transient transition happens first, then the terminal WAL
// record is appended and flushed, and only on success is the terminal
// state recorded. A flush failure reverts the transaction to Building and
// the caller sees InternalError.
func (k *Kernel) doCommit(t *txn.Transaction, now time.Time) error {
	if err := t.BeginCommit(); err != nil {
		return err
	}
	rec, err := k.wal.Append(wal.OpTransactionCommit, uint64(t.ID), wal.Fields(
		"total", fmt.Sprint(t.Total()),
		"tendered", fmt.Sprint(t.Tendered),
	))
	if err != nil {
		t.RevertToBuilding()
		return fmt.Errorf("wal append TransactionCommit: %w", err)
	}
	t.FinishCommit(rec.Sequence, now)
	k.log.WithFields(logrus.Fields{"op": "commit", "handle": t.ID, "wal_sequence": rec.Sequence}).Info("transaction committed")
	return nil
}

// Abort explicitly aborts a Building transaction with a reason.
func (k *Kernel) Abort(handle int64, reason string) error {
	const op = "abort"
	err := k.registry.Mutate(handle, func(t *txn.Transaction) error {
		if err := k.checkTimeout(t); err != nil {
			return err
		}
		if err := t.BeginAbort(reason); err != nil {
			return err
		}
		now := k.clock()
		if _, err := k.wal.Append(wal.OpTransactionAbort, uint64(handle), wal.Fields("reason", reason)); err != nil {
			t.RevertToBuilding()
			return fmt.Errorf("wal append TransactionAbort: %w", err)
		}
		t.FinishAbort(now)
		return nil
	})
	if err != nil {
		return k.fail(op, err)
	}
	k.log.WithFields(logrus.Fields{"op": op, "handle": handle, "reason": reason}).Info("transaction aborted")
	return nil
}

// Totals is the result of GetTotals.
type Totals struct {
	Total    money.Minor
	Tendered money.Minor
	Change   money.Minor
	State    txn.State
}

// GetTotals returns the transaction's current totals and state. It reports
// RecoveryFailed if this transaction was resolved from a transient state
// by the last recovery pass, once, on first query.
func (k *Kernel) GetTotals(handle int64) (Totals, error) {
	const op = "get_totals"
	var out Totals
	var recovered bool
	err := k.registry.Read(handle, func(t *txn.Transaction) error {
		out = Totals{Total: t.Total(), Tendered: t.Tendered, Change: t.Change(), State: t.State}
		recovered = t.RecoveredFromCrash
		return nil
	})
	if err != nil {
		return Totals{}, k.fail(op, err)
	}
	if recovered {
		// Check-and-clear under the write lock so only the first query
		// reports RecoveryFailed.
		first := false
		_ = k.registry.Mutate(handle, func(t *txn.Transaction) error {
			first = t.RecoveredFromCrash
			t.RecoveredFromCrash = false
			return nil
		})
		if first {
			return out, k.fail(op, errRecoveryFailed)
		}
	}
	return out, nil
}

// errRecoveryFailed is the sentinel classify maps to RecoveryFailed.
var errRecoveryFailed = errors.New("kernel: transaction was recovered from a transient state")

// GetLineCount returns the number of lines recorded so far.
func (k *Kernel) GetLineCount(handle int64) (int, error) {
	const op = "get_line_count"
	var n int
	err := k.registry.Read(handle, func(t *txn.Transaction) error {
		n = len(t.Lines)
		return nil
	})
	if err != nil {
		return 0, k.fail(op, err)
	}
	return n, nil
}

// LineItem is the result of GetLineItem.
type LineItem struct {
	Number     int
	SKU        string
	Qty        int32
	UnitMinor  money.Minor
	Kind       line.Kind
	Parent     int
	References int
	Reason     string
	Note       string
}

// GetLineItem returns the line at the given 0-based index.
func (k *Kernel) GetLineItem(handle int64, index int) (LineItem, error) {
	const op = "get_line_item"
	var out LineItem
	err := k.registry.Read(handle, func(t *txn.Transaction) error {
		if index < 0 || index >= len(t.Lines) {
			return fmt.Errorf("%w: index %d out of range", txn.ErrNotFound, index)
		}
		l := t.Lines[index]
		out = LineItem{
			Number: l.Number, SKU: l.SKU, Qty: l.Qty, UnitMinor: l.UnitMinor,
			Kind: l.Kind, Parent: l.ParentNumber, References: l.References,
			Reason: l.Reason, Note: l.Note,
		}
		return nil
	})
	if err != nil {
		return LineItem{}, k.fail(op, err)
	}
	return out, nil
}

// GetLineItemSKUInto writes the SKU of the line at index into buf,
// reporting InsufficientBuffer with the required size when buf is too
// small. GetLineItem above is the idiomatic Go convenience; this method
// exists for callers replicating a C-ABI buffer-output contract exactly.
func (k *Kernel) GetLineItemSKUInto(handle int64, index int, buf []byte) (int, error) {
	const op = "get_line_item"
	item, err := k.GetLineItem(handle, index)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(item.SKU) {
		return len(item.SKU), k.fail(op, fmt.Errorf("%w: need %d bytes, have %d", errInsufficientBuffer, len(item.SKU), len(buf)))
	}
	return copy(buf, item.SKU), nil
}

var errInsufficientBuffer = errors.New("kernel: insufficient buffer")

// Summary is the result of GetTransactionSummary, a combined read that
// spares a caller several round trips through the façade for the common
// case of wanting store, currency, state, and totals together.
type Summary struct {
	Store         string
	CurrencyCode  string
	DecimalPlaces int
	State         txn.State
	Totals        Totals
}

// GetTransactionSummary returns store, currency, state, and totals in one
// call, sparing chatty round-trips over the embedding boundary.
func (k *Kernel) GetTransactionSummary(handle int64) (Summary, error) {
	const op = "get_transaction_summary"
	var out Summary
	err := k.registry.Read(handle, func(t *txn.Transaction) error {
		out = Summary{
			Store:         t.Store,
			CurrencyCode:  t.Currency.Code,
			DecimalPlaces: t.Currency.DecimalPlaces,
			State:         t.State,
			Totals:        Totals{Total: t.Total(), Tendered: t.Tendered, Change: t.Change(), State: t.State},
		}
		return nil
	})
	if err != nil {
		return Summary{}, k.fail(op, err)
	}
	return out, nil
}

// CloseTransaction releases a handle's in-memory slot. The WAL retains the
// transaction's history regardless.
func (k *Kernel) CloseTransaction(handle int64) error {
	const op = "close_transaction"
	if err := k.registry.Delete(handle); err != nil {
		return k.fail(op, err)
	}
	return nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

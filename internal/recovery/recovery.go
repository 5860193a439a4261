// Package recovery implements the startup-time WAL replay driver: it
// rebuilds a fresh handle registry from a terminal's durable log, then
// sweeps the result for transient-state crash damage and expired
// inactivity timeouts.
//
// Generalizes a one-shot bulk-load scan (building an in-memory index by
// reading a persisted representation top to bottom) into a WAL replay
// that reconstructs transaction aggregates by dispatching each record's
// operation kind to the corresponding txn.Apply* method.
package recovery

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fenilsonani/poskernel/internal/line"
	"github.com/fenilsonani/poskernel/internal/money"
	"github.com/fenilsonani/poskernel/internal/registry"
	"github.com/fenilsonani/poskernel/internal/txn"
	"github.com/fenilsonani/poskernel/internal/wal"
)

// Run replays every durable record from w into a freshly constructed
// registry, applies the post-replay timeout sweep and transient-state
// resolution, and returns the populated registry.
func Run(w wal.WAL, maxConcurrent int, timeout time.Duration, now time.Time, log *logrus.Entry) (*registry.Registry, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	records, err := w.Replay()
	if err != nil {
		return nil, fmt.Errorf("recovery: replay: %w", err)
	}

	reg := registry.New(maxConcurrent)
	txns := map[uint64]*txn.Transaction{}

	for _, rec := range records {
		if err := apply(txns, rec); err != nil {
			// A record that fails to apply against the reconstructed
			// state it should already be consistent with indicates a
			// logic bug, not a corrupt log (wal.Replay already dropped
			// anything physically corrupt) — surfaced, not swallowed.
			return nil, fmt.Errorf("recovery: applying record at sequence %d: %w", rec.Sequence, err)
		}
	}

	for handle, t := range txns {
		reg.Insert(int64(handle), t)
	}

	sweep(reg, timeout, now, log)

	log.WithFields(logrus.Fields{
		"records_replayed": len(records),
		"transactions":     len(txns),
	}).Info("recovery: replay complete")
	return reg, nil
}

func apply(txns map[uint64]*txn.Transaction, rec wal.Record) error {
	switch rec.Op {
	case wal.OpTransactionBegin:
		store, _ := wal.Get(rec.Fields, "store")
		code, _ := wal.Get(rec.Fields, "currency_code")
		places, _ := wal.Get(rec.Fields, "decimal_places")
		dp, err := strconv.Atoi(places)
		if err != nil {
			return fmt.Errorf("decimal_places: %w", err)
		}
		currency, err := money.NewCurrency(code, dp, false)
		if err != nil {
			return err
		}
		t := txn.New(int64(rec.Handle), store, currency, rec.Timestamp)
		t.WALBeginSequence = rec.Sequence
		txns[rec.Handle] = t

	case wal.OpLineAdd, wal.OpLineAddWithParent:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		sku, _ := wal.Get(rec.Fields, "sku")
		qty, err := intField(rec.Fields, "qty")
		if err != nil {
			return err
		}
		unit, err := int64Field(rec.Fields, "unit_minor")
		if err != nil {
			return err
		}
		parent, err := intField(rec.Fields, "parent")
		if err != nil {
			return err
		}
		num, err := intField(rec.Fields, "line_number")
		if err != nil {
			return err
		}
		t.ApplyAddLine(line.Line{
			Number:       num,
			SKU:          sku,
			Qty:          int32(qty),
			UnitMinor:    money.Minor(unit),
			Kind:         line.Sale,
			ParentNumber: parent,
			CreatedAt:    rec.Timestamp,
		})

	case wal.OpLineVoid:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		target, err := intField(rec.Fields, "target")
		if err != nil {
			return err
		}
		reason, _ := wal.Get(rec.Fields, "reason")
		voided, _ := wal.Get(rec.Fields, "voided")
		voids, err := reconstructVoidCascade(t, target, reason, voided, rec.Timestamp)
		if err != nil {
			return err
		}
		t.ApplyVoidCascade(voids)

	case wal.OpLineAdjust:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		num, err := intField(rec.Fields, "line_number")
		if err != nil {
			return err
		}
		references, err := intField(rec.Fields, "references")
		if err != nil {
			return err
		}
		delta, err := intField(rec.Fields, "delta_qty")
		if err != nil {
			return err
		}
		target, ok := t.LineByNumber(references)
		if !ok {
			return fmt.Errorf("adjust references missing line %d", references)
		}
		t.ApplyAdjustLine(line.Line{
			Number:     num,
			SKU:        target.SKU,
			Qty:        int32(delta),
			UnitMinor:  target.UnitMinor,
			Kind:       line.Adjustment,
			References: references,
			CreatedAt:  rec.Timestamp,
		})

	case wal.OpTenderAdd:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		amount, err := int64Field(rec.Fields, "amount_minor")
		if err != nil {
			return err
		}
		t.ApplyTender(money.Minor(amount), rec.Timestamp)

	case wal.OpTransactionCommit:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		t.State = txn.Committing
		t.FinishCommit(rec.Sequence, rec.Timestamp)

	case wal.OpTransactionAbort:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		reason, _ := wal.Get(rec.Fields, "reason")
		t.State = txn.Aborting
		t.AbortReason = reason
		t.FinishAbort(rec.Timestamp)

	case wal.OpTransactionTimeout:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		t.ApplyTimeout(rec.Timestamp)

	case wal.OpSystemConfigChange:
		t, err := lookup(txns, rec.Handle)
		if err != nil {
			return err
		}
		num, err := intField(rec.Fields, "line_number")
		if err != nil {
			return err
		}
		note, _ := wal.Get(rec.Fields, "note")
		t.SetLineNote(num, note)

	default:
		return fmt.Errorf("unknown op kind %q", rec.Op)
	}
	return nil
}

func lookup(txns map[uint64]*txn.Transaction, handle uint64) (*txn.Transaction, error) {
	t, ok := txns[handle]
	if !ok {
		return nil, fmt.Errorf("record references unknown handle %d", handle)
	}
	return t, nil
}

func intField(fields []wal.Field, key string) (int, error) {
	v, _ := wal.Get(fields, key)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func int64Field(fields []wal.Field, key string) (int64, error) {
	v, _ := wal.Get(fields, key)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// reconstructVoidCascade rebuilds the exact Void lines a LineVoid record
// described, in the order its "voided" field enumerates (deepest-first,
// descendants then target) — mirroring txn.PlanVoidCascade without
// recomputing descendants, since the WAL record already names them.
func reconstructVoidCascade(t *txn.Transaction, target int, reason, voidedCSV string, ts time.Time) ([]line.Line, error) {
	numbers, err := parseCSVInts(voidedCSV)
	if err != nil {
		return nil, fmt.Errorf("voided field: %w", err)
	}
	next := len(t.Lines) + 1
	voids := make([]line.Line, 0, len(numbers))
	for i, n := range numbers {
		src, ok := t.LineByNumber(n)
		if !ok {
			return nil, fmt.Errorf("void cascade references missing line %d", n)
		}
		r := reason
		if n != target {
			r = "Parent voided: " + reason
		}
		voids = append(voids, line.Line{
			Number:     next + i,
			SKU:        src.SKU,
			Qty:        -src.Qty,
			UnitMinor:  src.UnitMinor,
			Kind:       line.Void,
			References: n,
			Reason:     r,
			CreatedAt:  ts,
		})
	}
	return voids, nil
}

func parseCSVInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			tok := s[start:i]
			n, err := strconv.Atoi(tok)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
			start = i + 1
		}
	}
	return out, nil
}

// sweep performs the post-replay pass: transactions still in
// Building past the inactivity timeout are logged TimedOut; transactions
// caught in Committing or Aborting are resolved to Aborted with a
// synthetic reason.
func sweep(reg *registry.Registry, timeout time.Duration, now time.Time, log *logrus.Entry) {
	type flagged struct {
		handle int64
		t      *txn.Transaction
	}
	var timedOut, transient []flagged

	reg.ForEach(func(handle int64, t *txn.Transaction) {
		switch {
		case t.State == txn.Building && t.IsTimedOut(now, timeout):
			timedOut = append(timedOut, flagged{handle, t})
		case t.State == txn.Committing || t.State == txn.Aborting:
			transient = append(transient, flagged{handle, t})
		}
	})

	for _, f := range timedOut {
		f.t.ApplyTimeout(now)
		log.WithField("handle", f.handle).Warn("recovery: transaction timed out during downtime")
	}
	for _, f := range transient {
		reason := f.t.ResolveCrashedTransient(now)
		log.WithFields(logrus.Fields{"handle": f.handle, "reason": reason}).Warn("recovery: resolved transient-state transaction")
	}
}

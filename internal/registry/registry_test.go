package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/fenilsonani/poskernel/internal/money"
	"github.com/fenilsonani/poskernel/internal/txn"
)

func usd() money.Currency {
	c, _ := money.NewCurrency("USD", 2, false)
	return c
}

func TestBeginAllocatesMonotonicHandles(t *testing.T) {
	r := New(0)

	h1, err := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	h2, err := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if h1 == 0 || h2 == 0 {
		t.Fatalf("handles must never be 0, got %d and %d", h1, h2)
	}
	if h2 <= h1 {
		t.Errorf("h2 (%d) should be greater than h1 (%d)", h2, h1)
	}
}

func TestBeginRejectsAtCapacity(t *testing.T) {
	r := New(1)
	if _, err := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	}); err != nil {
		t.Fatalf("first Begin() error = %v", err)
	}

	_, err := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("second Begin() error = %v, want ErrCapacityExceeded", err)
	}
}

func TestBeginDoesNotCountTerminalTransactionsAgainstCapacity(t *testing.T) {
	r := New(1)
	h1, _ := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	})
	if err := r.Mutate(h1, func(t *txn.Transaction) error {
		if err := t.BeginAbort("done"); err != nil {
			return err
		}
		t.FinishAbort(time.Now())
		return nil
	}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}

	if _, err := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	}); err != nil {
		t.Errorf("Begin() after terminal transaction error = %v, want nil", err)
	}
}

func TestMutateAndReadUnknownHandle(t *testing.T) {
	r := New(0)

	err := r.Mutate(999, func(t *txn.Transaction) error { return nil })
	if !errors.Is(err, ErrHandleNotFound) {
		t.Errorf("Mutate() on unknown handle error = %v, want ErrHandleNotFound", err)
	}

	err = r.Read(999, func(t *txn.Transaction) error { return nil })
	if !errors.Is(err, ErrHandleNotFound) {
		t.Errorf("Read() on unknown handle error = %v, want ErrHandleNotFound", err)
	}
}

func TestDeleteRemovesHandle(t *testing.T) {
	r := New(0)
	h, _ := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	})

	if err := r.Delete(h); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := r.Delete(h); !errors.Is(err, ErrHandleNotFound) {
		t.Errorf("second Delete() error = %v, want ErrHandleNotFound", err)
	}
}

func TestInsertAdvancesAllocator(t *testing.T) {
	r := New(0)
	r.Insert(500, txn.New(500, "STORE01", usd(), time.Now()))

	h, err := r.Begin(func(handle int64) (*txn.Transaction, error) {
		return txn.New(handle, "STORE01", usd(), time.Now()), nil
	})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if h <= 500 {
		t.Errorf("Begin() after Insert(500, ...) = %d, want > 500", h)
	}
}

func TestForEach(t *testing.T) {
	r := New(0)
	r.Insert(1, txn.New(1, "A", usd(), time.Now()))
	r.Insert(2, txn.New(2, "B", usd(), time.Now()))

	seen := map[int64]string{}
	r.ForEach(func(handle int64, t *txn.Transaction) {
		seen[handle] = t.Store
	})
	if len(seen) != 2 || seen[1] != "A" || seen[2] != "B" {
		t.Errorf("ForEach() observed = %v, want {1:A 2:B}", seen)
	}
}

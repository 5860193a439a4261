package kernel

import (
	"testing"
	"time"

	"github.com/fenilsonani/poskernel/internal/recovery"
	"github.com/fenilsonani/poskernel/internal/registry"
	"github.com/fenilsonani/poskernel/internal/wal"
)

func newTestKernel(t *testing.T, now func() time.Time) (*Kernel, wal.WAL) {
	t.Helper()
	w := wal.NewSink()
	reg := registry.New(0)
	if now == nil {
		now = time.Now
	}
	return New(w, reg, WithClock(now)), w
}

func TestSingleItemCashSale(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	if err := k.AddLine(handle, "COFFEE", 1, 350); err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if err := k.AddCashTender(handle, 500); err != nil {
		t.Fatalf("AddCashTender() error = %v", err)
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.Total != 350 || totals.Tendered != 500 || totals.Change != 150 {
		t.Errorf("totals = %+v, want total=350 tendered=500 change=150", totals)
	}
	if totals.State.String() != "Committed" {
		t.Errorf("state = %v, want Committed (auto-commit on full tender)", totals.State)
	}
}

func TestZeroDecimalCurrency(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	handle, err := k.BeginTransaction("STORE01", "JPY", 0)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	if err := k.AddLine(handle, "BENTO", 2, 850); err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if err := k.AddCashTender(handle, 2000); err != nil {
		t.Fatalf("AddCashTender() error = %v", err)
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.Total != 1700 || totals.Tendered != 2000 || totals.Change != 300 {
		t.Errorf("totals = %+v, want total=1700 tendered=2000 change=300", totals)
	}
}

func TestModifierWithCascadeVoid(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	if err := k.AddLine(handle, "BURGER", 1, 800); err != nil {
		t.Fatalf("AddLine(BURGER) error = %v", err)
	}
	if err := k.AddLineWithParent(handle, "CHEESE", 1, 100, 1); err != nil {
		t.Fatalf("AddLineWithParent(CHEESE) error = %v", err)
	}
	if err := k.AddLineWithParent(handle, "BACON", 1, 200, 1); err != nil {
		t.Fatalf("AddLineWithParent(BACON) error = %v", err)
	}
	if err := k.VoidLine(handle, 1, "customer changed mind"); err != nil {
		t.Fatalf("VoidLine() error = %v", err)
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.Total != 0 {
		t.Errorf("Total = %d, want 0", totals.Total)
	}
	count, err := k.GetLineCount(handle)
	if err != nil {
		t.Fatalf("GetLineCount() error = %v", err)
	}
	if count != 6 {
		t.Fatalf("GetLineCount() = %d, want 6", count)
	}

	wantRefs := []int{3, 2, 1}
	for i, want := range wantRefs {
		item, err := k.GetLineItem(handle, 3+i)
		if err != nil {
			t.Fatalf("GetLineItem(%d) error = %v", 3+i, err)
		}
		if item.References != want {
			t.Errorf("line %d References = %d, want %d", 3+i, item.References, want)
		}
	}
}

func TestAdjustment(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	if err := k.AddLine(handle, "APPLE", 3, 60); err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if err := k.AdjustLine(handle, 1, 5); err != nil {
		t.Fatalf("AdjustLine() error = %v", err)
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.Total != 300 {
		t.Errorf("Total = %d, want 300", totals.Total)
	}

	last, err := k.GetLineItem(handle, 1)
	if err != nil {
		t.Fatalf("GetLineItem(1) error = %v", err)
	}
	if last.Qty != 2 || last.UnitMinor != 60 || last.References != 1 {
		t.Errorf("adjustment line = %+v, want qty=2 unit=60 references=1", last)
	}
}

func TestInsufficientTenderThenTopUp(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	if err := k.AddLine(handle, "X", 1, 1000); err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if err := k.AddCashTender(handle, 600); err != nil {
		t.Fatalf("AddCashTender(600) error = %v", err)
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.State.String() != "Building" || totals.Change != 0 {
		t.Errorf("after partial tender totals = %+v, want state=Building change=0", totals)
	}

	if err := k.AddCashTender(handle, 500); err != nil {
		t.Fatalf("AddCashTender(500) error = %v", err)
	}
	totals, err = k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.State.String() != "Committed" || totals.Change != 100 {
		t.Errorf("after top-up totals = %+v, want state=Committed change=100", totals)
	}
}

func TestValidationErrorsMapToValidationFailed(t *testing.T) {
	k, _ := newTestKernel(t, nil)

	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	err = k.AddLine(handle, "", 1, 100)
	if Code(err) != ValidationFailed {
		t.Errorf("AddLine with empty sku Code() = %v, want ValidationFailed", Code(err))
	}
}

func TestUnknownHandleMapsToNotFound(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	_, err := k.GetTotals(999)
	if Code(err) != NotFound {
		t.Errorf("GetTotals(999) Code() = %v, want NotFound", Code(err))
	}
}

func TestDoubleVoidMapsToInvalidState(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	handle, _ := k.BeginTransaction("STORE01", "USD", 2)
	_ = k.AddLine(handle, "X", 1, 100)
	if err := k.VoidLine(handle, 1, "first"); err != nil {
		t.Fatalf("first VoidLine() error = %v", err)
	}
	err := k.VoidLine(handle, 1, "second")
	if Code(err) != InvalidState {
		t.Errorf("second VoidLine() Code() = %v, want InvalidState", Code(err))
	}
}

func TestTimeoutFailsSubsequentMutation(t *testing.T) {
	start := time.Now()
	current := start
	clock := func() time.Time { return current }

	k, _ := newTestKernel(t, clock)
	handle, err := k.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}

	current = start.Add(DefaultTransactionTimeout + time.Second)
	err = k.AddLine(handle, "X", 1, 100)
	if Code(err) != TimedOut {
		t.Errorf("AddLine() after timeout Code() = %v, want TimedOut", Code(err))
	}

	totals, err := k.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}
	if totals.State.String() != "TimedOut" {
		t.Errorf("state = %v, want TimedOut", totals.State)
	}
}

func TestExplicitAbort(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	handle, _ := k.BeginTransaction("STORE01", "USD", 2)
	if err := k.Abort(handle, "customer cancelled"); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	if err := k.Abort(handle, "again"); Code(err) != InvalidState {
		t.Errorf("second Abort() Code() = %v, want InvalidState", Code(err))
	}
	if err := k.AddLine(handle, "X", 1, 100); Code(err) != InvalidState {
		t.Errorf("AddLine() on aborted transaction Code() = %v, want InvalidState", Code(err))
	}
}

func TestGetLineItemSKUIntoReportsInsufficientBuffer(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	handle, _ := k.BeginTransaction("STORE01", "USD", 2)
	_ = k.AddLine(handle, "ESPRESSO", 1, 300)

	buf := make([]byte, 2)
	n, err := k.GetLineItemSKUInto(handle, 0, buf)
	if Code(err) != InsufficientBuffer {
		t.Fatalf("GetLineItemSKUInto() Code() = %v, want InsufficientBuffer", Code(err))
	}
	if n != len("ESPRESSO") {
		t.Errorf("required size = %d, want %d", n, len("ESPRESSO"))
	}

	buf = make([]byte, len("ESPRESSO"))
	n, err = k.GetLineItemSKUInto(handle, 0, buf)
	if err != nil {
		t.Fatalf("GetLineItemSKUInto() error = %v", err)
	}
	if string(buf[:n]) != "ESPRESSO" {
		t.Errorf("copied SKU = %q, want ESPRESSO", string(buf[:n]))
	}
}

func TestSetLineNote(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	handle, _ := k.BeginTransaction("STORE01", "USD", 2)
	_ = k.AddLine(handle, "LATTE", 1, 400)

	if err := k.SetLineNote(handle, 1, "oat milk, extra hot"); err != nil {
		t.Fatalf("SetLineNote() error = %v", err)
	}

	item, err := k.GetLineItem(handle, 0)
	if err != nil {
		t.Fatalf("GetLineItem() error = %v", err)
	}
	if item.Note != "oat milk, extra hot" {
		t.Errorf("Note = %q, want %q", item.Note, "oat milk, extra hot")
	}
}

func TestGetTransactionSummary(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	handle, _ := k.BeginTransaction("STORE01", "USD", 2)
	_ = k.AddLine(handle, "X", 1, 100)

	summary, err := k.GetTransactionSummary(handle)
	if err != nil {
		t.Fatalf("GetTransactionSummary() error = %v", err)
	}
	if summary.Store != "STORE01" || summary.CurrencyCode != "USD" || summary.DecimalPlaces != 2 {
		t.Errorf("summary = %+v, want store=STORE01 currency=USD decimalPlaces=2", summary)
	}
	if summary.Totals.Total != 100 {
		t.Errorf("summary totals = %+v, want total=100", summary.Totals)
	}
}

func TestCloseTransactionReleasesHandle(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	handle, _ := k.BeginTransaction("STORE01", "USD", 2)

	if err := k.CloseTransaction(handle); err != nil {
		t.Fatalf("CloseTransaction() error = %v", err)
	}
	if _, err := k.GetTotals(handle); Code(err) != NotFound {
		t.Errorf("GetTotals() after close Code() = %v, want NotFound", Code(err))
	}
}

func TestBeginTransactionCapacityExceeded(t *testing.T) {
	w := wal.NewSink()
	reg := registry.New(1)
	k := New(w, reg)

	if _, err := k.BeginTransaction("STORE01", "USD", 2); err != nil {
		t.Fatalf("first BeginTransaction() error = %v", err)
	}
	_, err := k.BeginTransaction("STORE01", "USD", 2)
	if Code(err) != ValidationFailed {
		t.Errorf("BeginTransaction() over capacity Code() = %v, want ValidationFailed", Code(err))
	}
}

func TestCrashRecoveryPreservesObservableState(t *testing.T) {
	w := wal.NewSink()
	reg1 := registry.New(0)
	k1 := New(w, reg1)

	handle, err := k1.BeginTransaction("STORE01", "USD", 2)
	if err != nil {
		t.Fatalf("BeginTransaction() error = %v", err)
	}
	if err := k1.AddLine(handle, "COFFEE", 1, 350); err != nil {
		t.Fatalf("AddLine() error = %v", err)
	}
	if err := k1.AddCashTender(handle, 500); err != nil {
		t.Fatalf("AddCashTender() error = %v", err)
	}
	before, err := k1.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() error = %v", err)
	}

	// Simulate a crash-and-restart: recover a fresh registry from the same
	// WAL and drive the same query through a second kernel instance.
	reg2, err := recovery.Run(w, 0, DefaultTransactionTimeout, time.Now(), nil)
	if err != nil {
		t.Fatalf("recovery.Run() error = %v", err)
	}
	k2 := New(w, reg2)

	after, err := k2.GetTotals(handle)
	if err != nil {
		t.Fatalf("GetTotals() after recovery error = %v", err)
	}
	if after != before {
		t.Errorf("totals after recovery = %+v, want identical to pre-crash %+v", after, before)
	}
}

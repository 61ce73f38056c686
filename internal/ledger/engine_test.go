package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(t *testing.T) (*Engine, Store) {
	t.Helper()
	store := NewInMemory()
	return NewEngine(store, nil), store
}

func openFunded(t *testing.T, e *Engine, balance string) Account {
	t.Helper()
	ctx := context.Background()
	account, err := e.Open(ctx, uuid.New())
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if b := amount(balance); b.IsPositive() {
		account, err = e.Deposit(ctx, account.ID, b)
		if err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}
	return account
}

func assertConsistent(t *testing.T, e *Engine, id uuid.UUID) Reconciliation {
	t.Helper()
	report, err := e.Reconcile(context.Background(), id)
	if err != nil {
		t.Fatalf("reconcile %s: %v", id, err)
	}
	if !report.Consistent {
		t.Fatalf("account %s inconsistent: %+v", id, report)
	}
	return report
}

func TestEngine_DepositCreatesMatchingRecord(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	account := openFunded(t, e, "100.00")

	updated, err := e.Deposit(ctx, account.ID, amount("50.00"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !updated.Balance.Equal(amount("150.00")) {
		t.Fatalf("expected balance 150.00, got %s", updated.Balance)
	}

	records, err := e.History(ctx, account.ID, 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	latest := records[0]
	if !latest.Delta.Equal(amount("50.00")) || !latest.RunningBalance.Equal(amount("150.00")) {
		t.Fatalf("unexpected record: delta=%s running=%s", latest.Delta, latest.RunningBalance)
	}
	if latest.Kind != KindDeposit {
		t.Fatalf("expected kind %s, got %s", KindDeposit, latest.Kind)
	}
	assertConsistent(t, e, account.ID)
}

func TestEngine_WithdrawInsufficientBalance(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	account := openFunded(t, e, "100.00")

	if _, err := e.Withdraw(ctx, account.ID, amount("150.00")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	current, err := e.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !current.Balance.Equal(amount("100.00")) {
		t.Fatalf("expected balance 100.00, got %s", current.Balance)
	}
	report := assertConsistent(t, e, account.ID)
	if report.Records != 1 {
		t.Fatalf("expected only the seed record, got %d", report.Records)
	}
}

func TestEngine_WithdrawRetriedAfterDeposit(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	account := openFunded(t, e, "100.00")

	if _, err := e.Withdraw(ctx, account.ID, amount("150.00")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := e.Deposit(ctx, account.ID, amount("60.00")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	updated, err := e.Withdraw(ctx, account.ID, amount("150.00"))
	if err != nil {
		t.Fatalf("retried withdraw: %v", err)
	}
	if !updated.Balance.Equal(amount("10.00")) {
		t.Fatalf("expected balance 10.00, got %s", updated.Balance)
	}
	assertConsistent(t, e, account.ID)
}

func TestEngine_WithdrawEntireBalance(t *testing.T) {
	e, _ := newTestEngine(t)
	account := openFunded(t, e, "42.10")

	updated, err := e.Withdraw(context.Background(), account.ID, amount("42.10"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !updated.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", updated.Balance)
	}
	assertConsistent(t, e, account.ID)
}

func TestEngine_TransferMovesFunds(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "100.00")
	b := openFunded(t, e, "20.00")

	res, err := e.Transfer(ctx, a.ID, b.ID, amount("30.00"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !res.Source.Balance.Equal(amount("70.00")) {
		t.Fatalf("expected source 70.00, got %s", res.Source.Balance)
	}
	if !res.Destination.Balance.Equal(amount("50.00")) {
		t.Fatalf("expected destination 50.00, got %s", res.Destination.Balance)
	}

	for _, tc := range []struct {
		id    uuid.UUID
		kind  Kind
		delta string
	}{
		{a.ID, KindTransferOut, "-30.00"},
		{b.ID, KindTransferIn, "30.00"},
	} {
		records, err := e.History(ctx, tc.id, 10)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected seed + one transfer record, got %d", len(records))
		}
		if records[0].Kind != tc.kind || !records[0].Delta.Equal(amount(tc.delta)) {
			t.Fatalf("unexpected transfer record %+v", records[0])
		}
		if records[0].OperationID != res.OperationID {
			t.Fatalf("transfer legs must share the operation id")
		}
		assertConsistent(t, e, tc.id)
	}
}

func TestEngine_TransferInsufficientBalanceTouchesNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "10.00")
	b := openFunded(t, e, "5.00")

	if _, err := e.Transfer(ctx, a.ID, b.ID, amount("10.01")); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	for id, want := range map[uuid.UUID]string{a.ID: "10.00", b.ID: "5.00"} {
		report := assertConsistent(t, e, id)
		if !report.Balance.Equal(amount(want)) || report.Records != 1 {
			t.Fatalf("account %s changed: %+v", id, report)
		}
	}
}

func TestEngine_TransferRejectsSelfAndUnknown(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "10.00")

	if _, err := e.Transfer(ctx, a.ID, a.ID, amount("1.00")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for self transfer, got %v", err)
	}
	if _, err := e.Transfer(ctx, a.ID, uuid.New(), amount("1.00")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	report := assertConsistent(t, e, a.ID)
	if !report.Balance.Equal(amount("10.00")) {
		t.Fatalf("balance changed: %s", report.Balance)
	}
}

func TestEngine_AmountValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "0")

	cases := map[string]string{
		"zero":          "0",
		"negative":      "-5.00",
		"three digits":  "1.001",
		"above maximum": "10000000000.00",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := e.Deposit(ctx, a.ID, amount(raw)); !errors.Is(err, ErrValidation) {
				t.Fatalf("deposit %s: expected validation error, got %v", raw, err)
			}
			if _, err := e.Withdraw(ctx, a.ID, amount(raw)); !errors.Is(err, ErrValidation) {
				t.Fatalf("withdraw %s: expected validation error, got %v", raw, err)
			}
		})
	}

	// Validation runs before storage, so an unknown account still reports validation.
	if _, err := e.Deposit(ctx, uuid.New(), decimal.Zero); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.Deposit(ctx, uuid.New(), amount("1.00")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEngine_BalanceCeiling(t *testing.T) {
	e, _ := newTestEngine(t)
	a := openFunded(t, e, "9999999999.00")

	if _, err := e.Deposit(context.Background(), a.ID, amount("1.00")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error past the ceiling, got %v", err)
	}
	if _, err := e.Deposit(context.Background(), a.ID, amount("0.99")); err != nil {
		t.Fatalf("deposit up to the ceiling: %v", err)
	}
	assertConsistent(t, e, a.ID)
}

func TestEngine_OpenTwiceForOwner(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	owner := uuid.New()

	first, err := e.Open(ctx, owner)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := e.Open(ctx, owner); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected account exists, got %v", err)
	}
	byOwner, err := e.GetByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if byOwner.ID != first.ID {
		t.Fatalf("expected account %s, got %s", first.ID, byOwner.ID)
	}
}

func TestEngine_DetachOwnerKeepsBalance(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "12.34")

	if err := e.DetachOwner(ctx, a.OwnerID.UUID); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := e.GetByOwner(ctx, a.OwnerID.UUID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after detach, got %v", err)
	}
	current, err := e.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if current.OwnerID.Valid || !current.Balance.Equal(amount("12.34")) {
		t.Fatalf("unexpected account after detach: %+v", current)
	}
	assertConsistent(t, e, a.ID)
}

func TestEngine_HistoryLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "0")
	for i := 0; i < 5; i++ {
		if _, err := e.Deposit(ctx, a.ID, amount("1.00")); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	records, err := e.History(ctx, a.ID, 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].RunningBalance.Equal(amount("5.00")) || records[0].Seq <= records[1].Seq {
		t.Fatalf("expected newest first, got %+v", records)
	}
	if _, err := e.History(ctx, uuid.New(), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEngine_ConcurrentDepositsNoLostUpdates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "0")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Deposit(ctx, a.ID, amount("1.00")); err != nil {
				t.Errorf("deposit %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	report := assertConsistent(t, e, a.ID)
	if !report.Balance.Equal(decimal.NewFromInt(workers)) {
		t.Fatalf("expected balance %d.00, got %s", workers, report.Balance)
	}
	if report.Records != workers {
		t.Fatalf("expected %d records, got %d", workers, report.Records)
	}

	records, err := e.History(ctx, a.ID, maxHistoryLimit)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	running := make([]int64, 0, len(records))
	for _, r := range records {
		running = append(running, r.RunningBalance.IntPart())
	}
	sort.Slice(running, func(i, j int) bool { return running[i] < running[j] })
	for i, v := range running {
		if v != int64(i+1) {
			t.Fatalf("running balances are not 1..%d: %v", workers, running)
		}
	}
}

func TestEngine_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := openFunded(t, e, "10.00")

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Withdraw(ctx, a.ID, amount("1.00"))
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case !errors.Is(err, ErrInsufficientBalance):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful withdrawals, got %d", succeeded)
	}
	report := assertConsistent(t, e, a.ID)
	if !report.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", report.Balance)
	}
}

func TestEngine_OppositeTransfersDoNotDeadlock(t *testing.T) {
	e, _ := newTestEngine(t)
	a := openFunded(t, e, "1000.00")
	b := openFunded(t, e, "1000.00")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const rounds = 100
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.Transfer(ctx, a.ID, b.ID, amount("1.00")); err != nil {
				t.Errorf("a->b: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.Transfer(ctx, b.ID, a.ID, amount("1.00")); err != nil {
				t.Errorf("b->a: %v", err)
			}
		}()
	}
	wg.Wait()

	total := decimal.Zero
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		report := assertConsistent(t, e, id)
		total = total.Add(report.Balance)
	}
	if !total.Equal(amount("2000.00")) {
		t.Fatalf("funds created or destroyed: total %s", total)
	}
}

func TestEngine_LockWaitHonoursContext(t *testing.T) {
	e, store := newTestEngine(t)
	a := openFunded(t, e, "1.00")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(context.Background(), func(tx Tx) error {
			if _, err := tx.LockAccount(context.Background(), a.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := e.Deposit(ctx, a.ID, amount("1.00"))
	if !errors.Is(err, ErrStorage) || !IsRetryable(err) {
		t.Fatalf("expected retryable storage failure, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if _, err := e.Deposit(context.Background(), a.ID, amount("1.00")); err != nil {
		t.Fatalf("deposit after release: %v", err)
	}
	assertConsistent(t, e, a.ID)
}

// faultyStore fails balance updates for one account so rollback can be observed.
type faultyStore struct {
	Store
	failFor uuid.UUID
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.Store.WithTx(ctx, func(tx Tx) error {
		return fn(&faultyTx{Tx: tx, failFor: s.failFor})
	})
}

type faultyTx struct {
	Tx
	failFor uuid.UUID
}

func (t *faultyTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if id == t.failFor {
		return fmt.Errorf("connection reset")
	}
	return t.Tx.UpdateBalance(ctx, id, balance)
}

func TestEngine_StorageFailureRollsBack(t *testing.T) {
	base := NewInMemory()
	setup := NewEngine(base, nil)
	a := openFunded(t, setup, "100.00")
	b := openFunded(t, setup, "0")

	e := NewEngine(&faultyStore{Store: base, failFor: b.ID}, nil)
	ctx := context.Background()

	_, err := e.Transfer(ctx, a.ID, b.ID, amount("40.00"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("connection reset is not tagged transient: %v", err)
	}

	// the source leg was written inside the same unit of work and must be gone too
	for id, want := range map[uuid.UUID]string{a.ID: "100.00", b.ID: "0"} {
		report := assertConsistent(t, setup, id)
		if !report.Balance.Equal(amount(want)) {
			t.Fatalf("account %s: expected %s, got %s", id, want, report.Balance)
		}
	}
	records, err := setup.History(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected only the seed record, got %d", len(records))
	}
}

func TestLockOrder(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	for _, pair := range [][2]uuid.UUID{{low, high}, {high, low}} {
		got := lockOrder(pair[0], pair[1])
		if got[0] != low || got[1] != high {
			t.Fatalf("lockOrder(%s, %s) = %v", pair[0], pair[1], got)
		}
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errRowNotLocked = errors.New("row not locked by this unit of work")

type memoryRow struct {
	// lock holds one token while a unit of work owns the row.
	lock    chan struct{}
	account Account
}

type inMemoryStore struct {
	mu      sync.RWMutex
	rows    map[uuid.UUID]*memoryRow
	owners  map[uuid.UUID]uuid.UUID
	records map[uuid.UUID][]TransactionRecord
	seq     int64
}

// NewInMemory creates a concurrency-safe in-memory store. Row locks are real: a unit
// of work blocks on a locked account until the holder commits or rolls back, and gives
// up when its context is done.
func NewInMemory() Store {
	return &inMemoryStore{
		rows:    make(map[uuid.UUID]*memoryRow),
		owners:  make(map[uuid.UUID]uuid.UUID),
		records: make(map[uuid.UUID][]TransactionRecord),
	}
}

func (s *inMemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[account.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrAccountExists, account.ID)
	}
	if account.Balance.IsNegative() {
		return fmt.Errorf("%w: negative balance", ErrIntegrity)
	}
	if account.OwnerID.Valid {
		if _, exists := s.owners[account.OwnerID.UUID]; exists {
			return fmt.Errorf("%w: owner %s", ErrAccountExists, account.OwnerID.UUID)
		}
		s.owners[account.OwnerID.UUID] = account.ID
	}
	s.rows[account.ID] = &memoryRow{lock: make(chan struct{}, 1), account: account}
	return nil
}

func (s *inMemoryStore) Account(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return row.account, nil
}

func (s *inMemoryStore) AccountByOwner(_ context.Context, ownerID uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.owners[ownerID]
	if !ok {
		return Account{}, fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	}
	return s.rows[id].account, nil
}

func (s *inMemoryStore) Records(_ context.Context, accountID uuid.UUID, limit int) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rows[accountID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}
	history := s.records[accountID]
	out := make([]TransactionRecord, 0, min(limit, len(history)))
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (s *inMemoryStore) DetachOwner(_ context.Context, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.owners[ownerID]
	if !ok {
		return fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	}
	delete(s.owners, ownerID)
	s.rows[id].account.OwnerID = uuid.NullUUID{}
	return nil
}

func (s *inMemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &inMemoryTx{
		store:    s,
		held:     make(map[uuid.UUID]*memoryRow),
		balances: make(map[uuid.UUID]decimal.Decimal),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// inMemoryTx buffers writes until commit; rows stay locked until release.
type inMemoryTx struct {
	store    *inMemoryStore
	held     map[uuid.UUID]*memoryRow
	balances map[uuid.UUID]decimal.Decimal
	pending  []TransactionRecord
}

func (t *inMemoryTx) LockAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row, ok := t.held[id]
	if !ok {
		t.store.mu.RLock()
		row, ok = t.store.rows[id]
		t.store.mu.RUnlock()
		if !ok {
			return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		select {
		case row.lock <- struct{}{}:
		case <-ctx.Done():
			return Account{}, fmt.Errorf("%w: waiting for lock on account %s: %w", ErrTransient, id, ctx.Err())
		}
		t.held[id] = row
	}

	t.store.mu.RLock()
	account := row.account
	t.store.mu.RUnlock()
	if balance, ok := t.balances[id]; ok {
		account.Balance = balance
	}
	return account, nil
}

func (t *inMemoryTx) InsertRecord(_ context.Context, record TransactionRecord) error {
	if !record.AccountID.Valid {
		return fmt.Errorf("%w: record without account", ErrIntegrity)
	}
	if _, ok := t.held[record.AccountID.UUID]; !ok {
		return fmt.Errorf("insert record for %s: %w", record.AccountID.UUID, errRowNotLocked)
	}
	if record.RunningBalance.IsNegative() {
		return fmt.Errorf("%w: running balance %s", ErrIntegrity, record.RunningBalance.StringFixed(Scale))
	}
	if record.Delta.IsZero() {
		return fmt.Errorf("%w: zero delta", ErrIntegrity)
	}
	t.pending = append(t.pending, record)
	return nil
}

func (t *inMemoryTx) UpdateBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if _, ok := t.held[id]; !ok {
		return fmt.Errorf("update balance for %s: %w", id, errRowNotLocked)
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: balance %s", ErrIntegrity, balance.StringFixed(Scale))
	}
	t.balances[id] = balance
	return nil
}

func (t *inMemoryTx) Summary(_ context.Context, accountID uuid.UUID) (Summary, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, ok := t.store.rows[accountID]; !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}
	summary := Summary{DeltaSum: decimal.Zero}
	history := t.store.records[accountID]
	for _, record := range history {
		summary.DeltaSum = summary.DeltaSum.Add(record.Delta)
	}
	summary.Records = int64(len(history))
	if n := len(history); n > 0 {
		summary.LatestRunning = decimal.NullDecimal{Decimal: history[n-1].RunningBalance, Valid: true}
	}
	return summary, nil
}

func (t *inMemoryTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, balance := range t.balances {
		t.store.rows[id].account.Balance = balance
	}
	for _, record := range t.pending {
		t.store.seq++
		record.Seq = t.store.seq
		id := record.AccountID.UUID
		t.store.records[id] = append(t.store.records[id], record)
	}
}

func (t *inMemoryTx) release() {
	for id, row := range t.held {
		<-row.lock
		delete(t.held, id)
	}
}

package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks input rejected before any storage interaction: non-positive
	// amounts, amounts with more than two decimals, malformed identifiers.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientBalance occurs when a withdrawal or the outgoing leg of a transfer
	// exceeds the balance read under the account lock.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound indicates the referenced account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrAccountExists indicates the owner already holds an account.
	ErrAccountExists = errors.New("account already exists")

	// ErrStorage wraps any failure of the underlying store. Nothing was committed, so
	// the whole operation can be retried.
	ErrStorage = errors.New("storage failure")

	// ErrIntegrity is reported by a store when a persisted constraint (non-negative
	// balance or running balance) rejects a write.
	ErrIntegrity = errors.New("integrity constraint violated")

	// ErrTransient tags store failures caused by lock contention, deadlock detection
	// or serialization conflicts.
	ErrTransient = errors.New("transient storage conflict")
)

// Scale is the number of fractional digits kept for every amount.
const Scale int32 = 2

// MaxAmount bounds amounts and balances to NUMERIC(12,2).
var MaxAmount = decimal.RequireFromString("9999999999.99")

// Kind classifies a transaction record.
type Kind string

const (
	KindDeposit     Kind = "deposit"
	KindWithdrawal  Kind = "withdrawal"
	KindTransferIn  Kind = "transfer_in"
	KindTransferOut Kind = "transfer_out"
)

// Account is a balance-bearing entity linked to an external owner.
type Account struct {
	ID        uuid.UUID
	OwnerID   uuid.NullUUID
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// apply adds a signed delta to the in-memory balance. Only the engine calls it, after
// the store accepted the matching record and balance update.
func (a *Account) apply(delta decimal.Decimal) {
	a.Balance = a.Balance.Add(delta)
}

// TransactionRecord is an immutable history entry. RunningBalance is the account balance
// right after Delta was applied.
type TransactionRecord struct {
	Seq            int64
	ID             uuid.UUID
	AccountID      uuid.NullUUID
	OperationID    uuid.UUID
	Kind           Kind
	Delta          decimal.Decimal
	RunningBalance decimal.Decimal
	CreatedAt      time.Time
}

// Summary aggregates the history of one account.
type Summary struct {
	Records       int64
	DeltaSum      decimal.Decimal
	LatestRunning decimal.NullDecimal
}

// Store is the durable, transactional backend of the engine.
type Store interface {
	// WithTx runs fn inside a single unit of work. A nil return commits every write made
	// through the Tx; any error rolls all of them back. Row locks taken through the Tx
	// are held until the unit of work ends.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateAccount(ctx context.Context, account Account) error
	Account(ctx context.Context, id uuid.UUID) (Account, error)
	AccountByOwner(ctx context.Context, ownerID uuid.UUID) (Account, error)
	Records(ctx context.Context, accountID uuid.UUID, limit int) ([]TransactionRecord, error)
	DetachOwner(ctx context.Context, ownerID uuid.UUID) error
}

// Tx is the view of a store inside one unit of work.
type Tx interface {
	// LockAccount reads the account for update, blocking until the row lock is free.
	LockAccount(ctx context.Context, id uuid.UUID) (Account, error)
	InsertRecord(ctx context.Context, record TransactionRecord) error
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	Summary(ctx context.Context, accountID uuid.UUID) (Summary, error)
}

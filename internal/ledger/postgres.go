package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres error codes the store translates.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// PostgresStore persists accounts and transaction records in PostgreSQL. Row locks are
// taken with SELECT ... FOR UPDATE and released when the surrounding transaction ends.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store. A positive lockTimeout bounds how
// long a unit of work waits for a row lock before failing with ErrTransient.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// WithTx runs fn in a read-committed transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return classify(err)
		}
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id, owner_id, balance, created_at)
        VALUES ($1, $2, $3, $4)`, account.ID, account.OwnerID, account.Balance, account.CreatedAt.UTC())
	return classify(err)
}

// Account reads an account without locking it.
func (s *PostgresStore) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, balance, created_at FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Account{}, classify(err)
	}
	return account, nil
}

// AccountByOwner reads the account linked to ownerID.
func (s *PostgresStore) AccountByOwner(ctx context.Context, ownerID uuid.UUID) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT id, owner_id, balance, created_at FROM accounts WHERE owner_id = $1`, ownerID)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
		}
		return Account{}, classify(err)
	}
	return account, nil
}

// Records lists the newest records of an account first.
func (s *PostgresStore) Records(ctx context.Context, accountID uuid.UUID, limit int) ([]TransactionRecord, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, classify(err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accountID)
	}

	rows, err := s.db.Query(ctx, `SELECT seq, id, account_id, operation_id, kind, delta, running_balance, created_at
        FROM transaction_records
        WHERE account_id = $1
        ORDER BY seq DESC
        LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	records := make([]TransactionRecord, 0, limit)
	for rows.Next() {
		var (
			record TransactionRecord
			kind   string
		)
		if err := rows.Scan(&record.Seq, &record.ID, &record.AccountID, &record.OperationID, &kind,
			&record.Delta, &record.RunningBalance, &record.CreatedAt); err != nil {
			return nil, classify(err)
		}
		record.Kind = Kind(kind)
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// DetachOwner clears the owner column of the account linked to ownerID.
func (s *PostgresStore) DetachOwner(ctx context.Context, ownerID uuid.UUID) error {
	cmd, err := s.db.Exec(ctx, `UPDATE accounts SET owner_id = NULL WHERE owner_id = $1`, ownerID)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := t.tx.QueryRow(ctx, `SELECT id, owner_id, balance, created_at FROM accounts WHERE id = $1 FOR UPDATE`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Account{}, classify(err)
	}
	return account, nil
}

func (t *postgresTx) InsertRecord(ctx context.Context, record TransactionRecord) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transaction_records (id, account_id, operation_id, kind, delta, running_balance, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.AccountID, record.OperationID, string(record.Kind), record.Delta, record.RunningBalance, record.CreatedAt.UTC())
	return classify(err)
}

func (t *postgresTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (t *postgresTx) Summary(ctx context.Context, accountID uuid.UUID) (Summary, error) {
	const query = `
        SELECT COUNT(*),
               COALESCE(SUM(delta), 0),
               (SELECT running_balance FROM transaction_records
                 WHERE account_id = $1 ORDER BY seq DESC LIMIT 1)
        FROM transaction_records
        WHERE account_id = $1`
	var summary Summary
	if err := t.tx.QueryRow(ctx, query, accountID).Scan(&summary.Records, &summary.DeltaSum, &summary.LatestRunning); err != nil {
		return Summary{}, classify(err)
	}
	return summary, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	if err := row.Scan(&account.ID, &account.OwnerID, &account.Balance, &account.CreatedAt); err != nil {
		return Account{}, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return account, nil
}

// classify tags Postgres errors with the ledger sentinels the engine understands.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrAccountExists, pgErr.ConstraintName)
	case pgCheckViolation:
		return fmt.Errorf("%w: %s: %w", ErrIntegrity, pgErr.ConstraintName, err)
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	default:
		return err
	}
}

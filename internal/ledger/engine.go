package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Engine is the only path through which balances change.
type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine builds an engine on top of the provided store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// TransferResult carries both sides of a committed transfer.
type TransferResult struct {
	OperationID uuid.UUID
	Source      Account
	Destination Account
}

// Reconciliation reports whether an account agrees with its history.
type Reconciliation struct {
	AccountID     uuid.UUID
	Balance       decimal.Decimal
	DeltaSum      decimal.Decimal
	LatestRunning decimal.Decimal
	Records       int64
	Consistent    bool
}

// Open provisions a zero-balance account for ownerID.
func (e *Engine) Open(ctx context.Context, ownerID uuid.UUID) (Account, error) {
	if ownerID == uuid.Nil {
		return Account{}, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	account := Account{
		ID:        uuid.New(),
		OwnerID:   uuid.NullUUID{UUID: ownerID, Valid: true},
		Balance:   decimal.Zero,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		return Account{}, e.translate("open", err)
	}
	e.logger.Info("ledger account opened", slog.String("account_id", account.ID.String()), slog.String("owner_id", ownerID.String()))
	return account, nil
}

// GetAccount returns the committed state of an account.
func (e *Engine) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	account, err := e.store.Account(ctx, id)
	if err != nil {
		return Account{}, e.translate("get account", err)
	}
	return account, nil
}

// GetByOwner returns the account linked to ownerID.
func (e *Engine) GetByOwner(ctx context.Context, ownerID uuid.UUID) (Account, error) {
	account, err := e.store.AccountByOwner(ctx, ownerID)
	if err != nil {
		return Account{}, e.translate("get account by owner", err)
	}
	return account, nil
}

// Deposit credits amount to the account.
func (e *Engine) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (Account, error) {
	if err := ValidateAmount(amount); err != nil {
		return Account{}, err
	}

	var out Account
	operationID := uuid.New()
	err := e.store.WithTx(ctx, func(tx Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := e.post(ctx, tx, &account, operationID, KindDeposit, amount); err != nil {
			return err
		}
		out = account
		return nil
	})
	if err != nil {
		return Account{}, e.translate("deposit", err)
	}

	e.logger.Debug("ledger deposit committed",
		slog.String("account_id", accountID.String()),
		slog.String("operation_id", operationID.String()),
		slog.String("amount", amount.StringFixed(Scale)),
		slog.String("balance", out.Balance.StringFixed(Scale)),
	)
	return out, nil
}

// Withdraw debits amount from the account. The balance check runs under the same row
// lock that protects the update.
func (e *Engine) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (Account, error) {
	if err := ValidateAmount(amount); err != nil {
		return Account{}, err
	}

	var out Account
	operationID := uuid.New()
	err := e.store.WithTx(ctx, func(tx Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := e.post(ctx, tx, &account, operationID, KindWithdrawal, amount.Neg()); err != nil {
			return err
		}
		out = account
		return nil
	})
	if err != nil {
		return Account{}, e.translate("withdraw", err)
	}

	e.logger.Debug("ledger withdrawal committed",
		slog.String("account_id", accountID.String()),
		slog.String("operation_id", operationID.String()),
		slog.String("amount", amount.StringFixed(Scale)),
		slog.String("balance", out.Balance.StringFixed(Scale)),
	)
	return out, nil
}

// Transfer moves amount from sourceID to destinationID in one unit of work. Both rows
// are locked in ascending id order before either is mutated, whatever order the caller
// passed them in. A transfer to the same account is rejected.
func (e *Engine) Transfer(ctx context.Context, sourceID, destinationID uuid.UUID, amount decimal.Decimal) (TransferResult, error) {
	if err := ValidateAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if sourceID == destinationID {
		return TransferResult{}, fmt.Errorf("%w: source and destination accounts must differ", ErrValidation)
	}

	var out TransferResult
	operationID := uuid.New()
	err := e.store.WithTx(ctx, func(tx Tx) error {
		locked := make(map[uuid.UUID]Account, 2)
		for _, id := range lockOrder(sourceID, destinationID) {
			account, err := tx.LockAccount(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = account
		}

		source, destination := locked[sourceID], locked[destinationID]
		if err := e.post(ctx, tx, &source, operationID, KindTransferOut, amount.Neg()); err != nil {
			return err
		}
		if err := e.post(ctx, tx, &destination, operationID, KindTransferIn, amount); err != nil {
			return err
		}
		out = TransferResult{OperationID: operationID, Source: source, Destination: destination}
		return nil
	})
	if err != nil {
		return TransferResult{}, e.translate("transfer", err)
	}

	e.logger.Debug("ledger transfer committed",
		slog.String("source_account_id", sourceID.String()),
		slog.String("destination_account_id", destinationID.String()),
		slog.String("operation_id", operationID.String()),
		slog.String("amount", amount.StringFixed(Scale)),
	)
	return out, nil
}

// History returns the newest records of an account first.
func (e *Engine) History(ctx context.Context, accountID uuid.UUID, limit int) ([]TransactionRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	records, err := e.store.Records(ctx, accountID, limit)
	if err != nil {
		return nil, e.translate("history", err)
	}
	return records, nil
}

// Reconcile compares the stored balance with the account history while holding the
// account lock, so no mutation can interleave with the check.
func (e *Engine) Reconcile(ctx context.Context, accountID uuid.UUID) (Reconciliation, error) {
	var out Reconciliation
	err := e.store.WithTx(ctx, func(tx Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		summary, err := tx.Summary(ctx, accountID)
		if err != nil {
			return err
		}
		out = reconcile(account, summary)
		return nil
	})
	if err != nil {
		return Reconciliation{}, e.translate("reconcile", err)
	}
	if !out.Consistent {
		e.logger.Error("ledger account inconsistent with history",
			slog.String("account_id", accountID.String()),
			slog.String("balance", out.Balance.StringFixed(Scale)),
			slog.String("delta_sum", out.DeltaSum.StringFixed(Scale)),
			slog.String("latest_running_balance", out.LatestRunning.StringFixed(Scale)),
		)
	}
	return out, nil
}

// DetachOwner clears the owner link of the account held by ownerID. Balance and
// history are kept.
func (e *Engine) DetachOwner(ctx context.Context, ownerID uuid.UUID) error {
	if err := e.store.DetachOwner(ctx, ownerID); err != nil {
		return e.translate("detach owner", err)
	}
	return nil
}

// post writes one record and the matching balance update, then applies the delta to
// the locked account copy. running_balance and balance always come from the same sum.
func (e *Engine) post(ctx context.Context, tx Tx, account *Account, operationID uuid.UUID, kind Kind, delta decimal.Decimal) error {
	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: account %s holds %s, %s requested",
			ErrInsufficientBalance, account.ID, account.Balance.StringFixed(Scale), delta.Abs().StringFixed(Scale))
	}
	if next.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: balance of account %s would exceed %s", ErrValidation, account.ID, MaxAmount.StringFixed(Scale))
	}

	record := TransactionRecord{
		ID:             uuid.New(),
		AccountID:      uuid.NullUUID{UUID: account.ID, Valid: true},
		OperationID:    operationID,
		Kind:           kind,
		Delta:          delta,
		RunningBalance: next,
		CreatedAt:      e.now().UTC(),
	}
	if err := tx.InsertRecord(ctx, record); err != nil {
		return err
	}
	if err := tx.UpdateBalance(ctx, account.ID, next); err != nil {
		return err
	}
	account.apply(delta)
	return nil
}

// translate keeps domain errors as they are and wraps everything else as ErrStorage.
func (e *Engine) translate(op string, err error) error {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrStorage):
		return err
	}
	e.logger.Error("ledger storage failure", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ValidateAmount reports whether amount is a strictly positive value with at most two
// decimals that fits the balance column.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return fmt.Errorf("%w: amount must have at most %d decimal places", ErrValidation, Scale)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount must not exceed %s", ErrValidation, MaxAmount.StringFixed(Scale))
	}
	return nil
}

// IsRetryable reports whether err is a storage failure worth retrying as a whole.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	return errors.Is(err, ErrStorage) && errors.Is(err, context.DeadlineExceeded)
}

func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}

func reconcile(account Account, summary Summary) Reconciliation {
	out := Reconciliation{
		AccountID: account.ID,
		Balance:   account.Balance,
		DeltaSum:  summary.DeltaSum,
		Records:   summary.Records,
	}
	if summary.LatestRunning.Valid {
		out.LatestRunning = summary.LatestRunning.Decimal
	}
	latestMatches := out.LatestRunning.Equal(account.Balance)
	if summary.Records == 0 {
		latestMatches = account.Balance.IsZero()
	}
	out.Consistent = account.Balance.Equal(summary.DeltaSum) && latestMatches && !account.Balance.IsNegative()
	return out
}

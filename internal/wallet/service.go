package wallet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/notification"
)

// AccountState is the owner-facing view of a ledger account.
type AccountState struct {
	AccountID string
	OwnerID   string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Entry is one line of an owner's transaction history.
type Entry struct {
	ID             string
	OperationID    string
	Kind           ledger.Kind
	Delta          decimal.Decimal
	RunningBalance decimal.Decimal
	CreatedAt      time.Time
}

// Service translates owner-scoped wallet calls into ledger engine operations.
type Service struct {
	engine   *ledger.Engine
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService builds a wallet service instance. notifier may be nil.
func NewService(engine *ledger.Engine, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{engine: engine, notifier: notifier, logger: logger}
}

// Open provisions the owner's account.
func (s *Service) Open(ctx context.Context, ownerID string) (AccountState, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return AccountState{}, err
	}
	account, err := s.engine.Open(ctx, owner)
	if err != nil {
		return AccountState{}, err
	}
	return toState(account), nil
}

// Get returns the owner's account.
func (s *Service) Get(ctx context.Context, ownerID string) (AccountState, error) {
	account, err := s.account(ctx, ownerID)
	if err != nil {
		return AccountState{}, err
	}
	return toState(account), nil
}

// Deposit credits the owner's account.
func (s *Service) Deposit(ctx context.Context, ownerID string, amount decimal.Decimal) (AccountState, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return AccountState{}, err
	}
	account, err := s.account(ctx, ownerID)
	if err != nil {
		return AccountState{}, err
	}
	updated, err := s.engine.Deposit(ctx, account.ID, amount)
	if err != nil {
		return AccountState{}, err
	}
	s.notify(ctx, notification.Event{
		Kind:      notification.KindDeposited,
		AccountID: updated.ID.String(),
		OwnerID:   ownerID,
		Amount:    amount,
		Balance:   updated.Balance,
	})
	return toState(updated), nil
}

// Withdraw debits the owner's account.
func (s *Service) Withdraw(ctx context.Context, ownerID string, amount decimal.Decimal) (AccountState, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return AccountState{}, err
	}
	account, err := s.account(ctx, ownerID)
	if err != nil {
		return AccountState{}, err
	}
	updated, err := s.engine.Withdraw(ctx, account.ID, amount)
	if err != nil {
		return AccountState{}, err
	}
	s.notify(ctx, notification.Event{
		Kind:      notification.KindWithdrawn,
		AccountID: updated.ID.String(),
		OwnerID:   ownerID,
		Amount:    amount,
		Balance:   updated.Balance,
	})
	return toState(updated), nil
}

// Transfer moves amount from the owner's account to the destination owner's account and
// returns the source account after the transfer.
func (s *Service) Transfer(ctx context.Context, ownerID, destinationOwnerID string, amount decimal.Decimal) (AccountState, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return AccountState{}, err
	}
	source, err := s.account(ctx, ownerID)
	if err != nil {
		return AccountState{}, err
	}
	destination, err := s.account(ctx, destinationOwnerID)
	if err != nil {
		return AccountState{}, err
	}
	res, err := s.engine.Transfer(ctx, source.ID, destination.ID, amount)
	if err != nil {
		return AccountState{}, err
	}
	s.notify(ctx, notification.Event{
		Kind:               notification.KindTransferred,
		OperationID:        res.OperationID.String(),
		AccountID:          res.Source.ID.String(),
		OwnerID:            ownerID,
		CounterpartOwnerID: destinationOwnerID,
		Amount:             amount,
		Balance:            res.Source.Balance,
	})
	return toState(res.Source), nil
}

// History returns the owner's newest transaction records first.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	account, err := s.account(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	records, err := s.engine.History(ctx, account.ID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, Entry{
			ID:             r.ID.String(),
			OperationID:    r.OperationID.String(),
			Kind:           r.Kind,
			Delta:          r.Delta,
			RunningBalance: r.RunningBalance,
			CreatedAt:      r.CreatedAt,
		})
	}
	return entries, nil
}

// Reconcile checks the owner's balance against its history.
func (s *Service) Reconcile(ctx context.Context, ownerID string) (ledger.Reconciliation, error) {
	account, err := s.account(ctx, ownerID)
	if err != nil {
		return ledger.Reconciliation{}, err
	}
	return s.engine.Reconcile(ctx, account.ID)
}

// Close detaches the owner from its account. The account and its history stay.
func (s *Service) Close(ctx context.Context, ownerID string) error {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return err
	}
	return s.engine.DetachOwner(ctx, owner)
}

func (s *Service) account(ctx context.Context, ownerID string) (ledger.Account, error) {
	owner, err := parseOwner(ownerID)
	if err != nil {
		return ledger.Account{}, err
	}
	return s.engine.GetByOwner(ctx, owner)
}

// notify publishes after commit. Delivery failures are logged, the operation stands.
func (s *Service) notify(ctx context.Context, event notification.Event) {
	if s.notifier == nil {
		return
	}
	event.OccurredAt = time.Now().UTC()
	if err := s.notifier.Send(ctx, event); err != nil {
		s.logger.Warn("wallet notification failed",
			slog.String("kind", event.Kind),
			slog.String("account_id", event.AccountID),
			slog.Any("error", err),
		)
	}
}

func parseOwner(ownerID string) (uuid.UUID, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil || owner == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid owner id %q", ledger.ErrValidation, ownerID)
	}
	return owner, nil
}

func toState(account ledger.Account) AccountState {
	state := AccountState{
		AccountID: account.ID.String(),
		Balance:   account.Balance,
		CreatedAt: account.CreatedAt,
	}
	if account.OwnerID.Valid {
		state.OwnerID = account.OwnerID.UUID.String()
	}
	return state
}

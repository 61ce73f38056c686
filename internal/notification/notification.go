package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindDeposited   = "wallet.deposited"
	KindWithdrawn   = "wallet.withdrawn"
	KindTransferred = "wallet.transferred"
)

// Event describes a committed ledger operation. It is published after commit and never
// drives balance changes.
type Event struct {
	Kind               string          `json:"kind"`
	OperationID        string          `json:"operation_id,omitempty"`
	AccountID          string          `json:"account_id"`
	OwnerID            string          `json:"owner_id,omitempty"`
	CounterpartOwnerID string          `json:"counterpart_owner_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Balance            decimal.Decimal `json:"balance"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", event.Kind),
		slog.String("operation_id", event.OperationID),
		slog.String("account_id", event.AccountID),
		slog.String("amount", event.Amount.StringFixed(2)),
		slog.String("balance", event.Balance.StringFixed(2)),
	)
	return nil
}

type fanout []Notifier

// Fanout delivers every event to each notifier and joins their errors.
func Fanout(notifiers ...Notifier) Notifier {
	out := make(fanout, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (f fanout) Send(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/logging"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func sampleEvent() Event {
	return Event{
		Kind:        KindDeposited,
		OperationID: "op-1",
		AccountID:   "acc-1",
		Amount:      decimal.RequireFromString("50.00"),
		Balance:     decimal.RequireFromString("150.00"),
		OccurredAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifierKeysByAccount(t *testing.T) {
	w := &recordingWriter{}
	n := &KafkaNotifier{writer: w}

	if err := n.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != "acc-1" {
		t.Fatalf("expected key acc-1, got %q", msg.Key)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["kind"] != KindDeposited || decoded["amount"] != "50" {
		t.Fatalf("unexpected payload %v", decoded)
	}

	if err := n.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	failing := &KafkaNotifier{writer: &recordingWriter{err: errors.New("broker down")}}
	ok := &recordingWriter{}
	n := Fanout(NewLoggerNotifier(logging.Discard()), failing, nil, &KafkaNotifier{writer: ok})

	err := n.Send(context.Background(), sampleEvent())
	if err == nil {
		t.Fatalf("expected error from failing notifier")
	}
	if len(ok.messages) != 1 {
		t.Fatalf("healthy notifier should still receive the event")
	}
}

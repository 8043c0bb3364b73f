package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
)

const (
	// SubjectTransactionPosted carries every committed ledger transaction.
	SubjectTransactionPosted = "funds.transaction.posted"
	// StreamName is the JetStream stream capturing funds.* subjects.
	StreamName = "FUNDS"
)

// Envelope wraps event payloads on the wire.
type Envelope struct {
	ID         string          `json:"event_id"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// TransactionPosted is emitted after a ledger transaction commits.
type TransactionPosted struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	UserType      string `json:"user_type"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
	ReferenceID   string `json:"reference_id,omitempty"`
}

// Publisher delivers post-commit events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

func newEnvelope(subject string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Envelope{
		ID:         ulid.Make().String(),
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// NATSPublisher publishes envelopes to JetStream.
type NATSPublisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSPublisher creates the JetStream context and ensures the funds stream exists.
func NewNATSPublisher(ctx context.Context, conn *nats.Conn, logger *slog.Logger) (*NATSPublisher, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"funds.>"},
		MaxAge:    7 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		return nil, fmt.Errorf("ensuring stream %s: %w", StreamName, err)
	}
	return &NATSPublisher{js: js, logger: logger}, nil
}

// Publish marshals data into an envelope and publishes it, deduplicated by event id.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data any) error {
	env, err := newEnvelope(subject, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(env.ID)); err != nil {
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	p.logger.Debug("event published", slog.String("event_id", env.ID), slog.String("subject", subject))
	return nil
}

// LogPublisher writes events to the structured logger. Used when NATS is not configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event envelope.
func (p *LogPublisher) Publish(_ context.Context, subject string, data any) error {
	if p == nil || p.logger == nil {
		return nil
	}
	env, err := newEnvelope(subject, data)
	if err != nil {
		return err
	}
	p.logger.Info("event", slog.String("event_id", env.ID), slog.String("subject", subject), slog.String("data", string(env.Data)))
	return nil
}

package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/retry"
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ChangeHandler receives decoded changes. *events.Bus satisfies it.
type ChangeHandler interface {
	Publish(ctx context.Context, c models.Change) error
}

// Consumer reads change events and hands them to a ChangeHandler. Offsets are
// committed after handling, so delivery is at least once and handlers must
// tolerate redelivery.
type Consumer struct {
	Reader     messageReader
	Handler    ChangeHandler
	Logger     *slog.Logger
	Attempts   int
	RetryDelay time.Duration
	MaxBackoff time.Duration
}

func NewConsumer(brokers []string, topic, group string, h ChangeHandler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
	return &Consumer{Reader: r, Handler: h, Logger: logger, Attempts: retry.Default.Attempts, RetryDelay: retry.Default.Delay, MaxBackoff: 30 * time.Second}
}

// Run blocks until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		m, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger.Info("shutting down consumer")
				return nil
			}
			c.Logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !retry.Sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
			continue
		}
		backoff = time.Second

		c.handle(ctx, m)
		if err := c.Reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.Logger.Warn("kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	change, err := DecodeChange(m)
	if err != nil {
		observability.ChangesConsumedTotal.WithLabelValues("invalid").Inc()
		c.Logger.Warn("invalid change message", "error", err)
		return
	}
	if err := handleWithRetry(ctx, c.Handler, change, c.Attempts, c.RetryDelay); err != nil {
		observability.ChangesConsumedTotal.WithLabelValues("error").Inc()
		c.Logger.Error("change handling failed", "eventId", change.EventID, "collection", change.Collection, "id", change.DocID, "error", err)
		return
	}
	observability.ChangesConsumedTotal.WithLabelValues("ok").Inc()
}

// handleWithRetry redelivers a change to h with doubling delay until it
// succeeds or attempts run out.
func handleWithRetry(ctx context.Context, h ChangeHandler, c models.Change, attempts int, delay time.Duration) error {
	return retry.Do(ctx, retry.Policy{Attempts: attempts, Delay: delay}, func(ctx context.Context) error {
		return h.Publish(ctx, c)
	})
}

package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitstack/membership-payments/internal/platform/logging"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Producer publishes one outbox message to a topic.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, msg Message) error
}

// Processor relays unpublished outbox events to the producer.
type Processor struct {
	pool      TxBeginner
	repo      *Repository
	producer  Producer
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

// NewProcessor creates a processor polling every 500ms in batches of 50.
func NewProcessor(pool TxBeginner, repo *Repository, producer Producer, logger *zap.Logger) *Processor {
	return &Processor{
		pool:      pool,
		repo:      repo,
		producer:  producer,
		logger:    logger,
		batchSize: 50,
		interval:  500 * time.Millisecond,
		tracer:    otel.Tracer("outbox/worker"),
	}
}

// Start polls the outbox until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logging.Info(ctx, p.logger, "starting outbox processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, p.logger, "outbox processor stopping")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				logging.Error(ctx, p.logger, "error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many
// were published.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logging.Error(cleanupCtx, p.logger, "outbox processor failed to rollback transaction", zap.Error(err))
		}
	}()

	events, err := p.repo.GetUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	logging.Debug(ctx, p.logger, "processing outbox events", zap.Int("count", len(events)))

	published := 0
	for _, event := range events {
		msg := Message{
			EventID: event.ID,
			Event:   event.EventType,
			Key:     event.AggregateID,
			Payload: event.Payload,
		}

		if err := p.producer.ProduceMessage(ctx, event.Topic, msg); err != nil {
			logging.Warn(ctx, p.logger, "outbox produce message failed",
				zap.Int64("id", event.ID),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err),
			)

			if dbErr := p.repo.MarkFailed(ctx, tx, event.ID, err.Error()); dbErr != nil {
				return published, fmt.Errorf("mark event %d failed: %w", event.ID, dbErr)
			}
			continue
		}

		if err := p.repo.MarkPublished(ctx, tx, event.ID); err != nil {
			return published, fmt.Errorf("mark event %d published: %w", event.ID, err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}

	return published, nil
}

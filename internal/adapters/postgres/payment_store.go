package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/outbox"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	uniqueViolation = "23505"

	paymentColumns = `payment_id, user_id, membership_id, amount_paid, order_id,
		status_code, payment_method, created_at, payment_date`
)

// PaymentStore implements ports.PaymentStore. When an outbox repository is
// configured, every terminal transition writes a settlement event in the same
// transaction.
type PaymentStore struct {
	pool   *pgxpool.Pool
	outbox *outbox.Repository
	topic  string
	logger *zap.Logger
	tracer trace.Tracer
}

// NewPaymentStore creates a store on pool without settlement events.
func NewPaymentStore(pool *pgxpool.Pool, logger *zap.Logger) *PaymentStore {
	return &PaymentStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("postgres/payment_store"),
	}
}

// WithOutbox enables settlement events on topic.
func (s *PaymentStore) WithOutbox(repo *outbox.Repository, topic string) *PaymentStore {
	s.outbox = repo
	s.topic = topic
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p      domain.Payment
		status int16
	)

	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.MembershipID,
		&p.AmountPaid,
		&p.OrderID,
		&status,
		&p.PaymentMethod,
		&p.CreatedAt,
		&p.PaymentDate,
	); err != nil {
		return nil, err
	}
	p.StatusCode = domain.StatusCode(status)

	return &p, nil
}

func (s *PaymentStore) Create(ctx context.Context, p *domain.Payment) error {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", p.OrderID),
		attribute.Int64("user_id", p.UserID),
		attribute.Int64("amount", p.AmountPaid),
	)

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payments (user_id, membership_id, amount_paid, order_id, status_code, payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING payment_id
	`

	err := s.pool.QueryRow(ctx, query,
		p.UserID,
		p.MembershipID,
		p.AmountPaid,
		p.OrderID,
		int16(p.StatusCode),
		p.PaymentMethod,
		p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrderID
		}

		logging.Error(ctx, s.logger, "create payment failed", zap.Error(err))
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (s *PaymentStore) FindByID(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.FindByID")
	defer span.End()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`

	p, err := scanPayment(s.pool.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get payment %d: %w", paymentID, err)
	}

	return p, nil
}

func (s *PaymentStore) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.FindByOrderID")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`

	p, err := scanPayment(s.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get payment by order id: %w", err)
	}

	return p, nil
}

func (s *PaymentStore) FindByLocalOrderID(ctx context.Context, localOrderID string) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.FindByLocalOrderID")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", localOrderID))

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id ~ '^[0-9]{6}_' AND substr(order_id, 8) = $1
		ORDER BY payment_id
		LIMIT 1`

	p, err := scanPayment(s.pool.QueryRow(ctx, query, localOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("get payment by local order id: %w", err)
	}

	return p, nil
}

func (s *PaymentStore) UpdateOrderID(ctx context.Context, paymentID int64, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.UpdateOrderID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payment_id", paymentID),
		attribute.String("order_id", orderID),
	)

	tag, err := s.pool.Exec(ctx, `UPDATE payments SET order_id = $2 WHERE payment_id = $1`, paymentID, orderID)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrderID
		}
		return fmt.Errorf("update order id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (s *PaymentStore) UpdateStatus(ctx context.Context, paymentID int64, status domain.StatusCode, at time.Time) (*domain.Payment, bool, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("payment_id", paymentID),
		attribute.Int("status_code", int(status)),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logging.Error(cleanupCtx, s.logger, "failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "UpdateStatus"),
			)
		}
	}()

	update := `
		UPDATE payments
		SET status_code = $2, payment_date = $3
		WHERE payment_id = $1 AND status_code = 0
		RETURNING ` + paymentColumns

	updated, err := scanPayment(tx.QueryRow(ctx, update, paymentID, int16(status), at))
	if err == nil {
		if err := s.saveSettledEvent(ctx, tx, updated); err != nil {
			span.RecordError(err)
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit status update: %w", err)
		}
		return updated, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return nil, false, fmt.Errorf("update status: %w", err)
	}

	// Not pending anymore, or not there at all.
	current, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrNotFound
		}
		return nil, false, fmt.Errorf("reread payment: %w", err)
	}

	if current.StatusCode == status {
		return current, false, nil
	}

	return current, false, domain.ErrStatusConflict
}

func (s *PaymentStore) saveSettledEvent(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	if s.outbox == nil {
		return nil
	}

	payload, err := json.Marshal(domain.NewPaymentSettledEvent(p))
	if err != nil {
		return fmt.Errorf("marshal settled event: %w", err)
	}

	return s.outbox.Save(ctx, tx, &outbox.Event{
		AggregateType: "payment",
		AggregateID:   p.OrderID,
		EventType:     domain.EventTypeFor(p.StatusCode),
		Payload:       payload,
		Topic:         s.topic,
	})
}

func (s *PaymentStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentStore.ListPending")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status_code = 0 AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, createdBefore, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	var pending []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending payment: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending payments: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(pending)))

	return pending, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

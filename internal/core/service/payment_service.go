// Package service implements the core business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/core/ports"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"github.com/fitstack/membership-payments/internal/platform/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxCreateAttempts bounds retries when a freshly generated local order id collides.
const maxCreateAttempts = 3

// Sources of a terminal transition, used as a metrics label.
const (
	sourceCallback  = "callback"
	sourceReconcile = "reconcile"
)

// PaymentService orchestrates payment operations.
type PaymentService struct {
	store    ports.PaymentStore
	gateway  ports.PaymentGateway
	verifier ports.CallbackVerifier
	resolver *Resolver

	redirectURL string
	fallbackURL string

	logger  *zap.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a PaymentService.
type Option func(*PaymentService)

// WithRedirectURL sets the page the user is sent to once a callback settled the payment.
func WithRedirectURL(u string) Option {
	return func(s *PaymentService) { s.redirectURL = u }
}

// WithFallbackURL sets the page returned instead of a gateway URL when the
// gateway could not be reached.
func WithFallbackURL(u string) Option {
	return func(s *PaymentService) { s.fallbackURL = u }
}

// WithMetrics records create, callback and transition counters on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *PaymentService) { s.metrics = rec }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	store ports.PaymentStore,
	gateway ports.PaymentGateway,
	verifier ports.CallbackVerifier,
	logger *zap.Logger,
	opts ...Option,
) *PaymentService {
	s := &PaymentService{
		store:    store,
		gateway:  gateway,
		verifier: verifier,
		resolver: NewResolver(store, logger),
		logger:   logger,
		tracer:   otel.Tracer("service/payment"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.fallbackURL == "" {
		s.fallbackURL = s.redirectURL
	}

	return s
}

// CreateOrder stores a Pending payment and registers it with the gateway.
// A gateway failure does not fail the call: the payment stays Pending under
// its local order id and the fallback URL is returned instead.
func (s *PaymentService) CreateOrder(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.CreateOrder")
	defer span.End()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("membership_id", req.MembershipID),
		attribute.Int64("amount", req.AmountPaid),
	)

	payment, err := s.createPending(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logging.Info(ctx, s.logger, "payment created",
		zap.Int64("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
	)

	order, err := s.gateway.CreateOrder(ctx, payment)
	if err != nil {
		logging.Warn(ctx, s.logger, "gateway order creation failed, returning fallback url",
			zap.Int64("payment_id", payment.ID),
			zap.String("order_id", payment.OrderID),
			zap.Error(err),
		)
		s.metrics.PaymentCreated("fallback")

		return &domain.CreatePaymentResponse{
			PaymentID:  payment.ID,
			OrderID:    payment.OrderID,
			PaymentURL: withQuery(s.fallbackURL, payment.OrderID, "pending"),
		}, nil
	}

	orderID := payment.OrderID
	if err := s.store.UpdateOrderID(ctx, payment.ID, order.TransactionID); err != nil {
		// The callback resolver heals the id later.
		logging.Warn(ctx, s.logger, "failed to store gateway transaction id",
			zap.Int64("payment_id", payment.ID),
			zap.String("transaction_id", order.TransactionID),
			zap.Error(err),
		)
	} else {
		orderID = order.TransactionID
	}

	s.metrics.PaymentCreated("gateway")

	return &domain.CreatePaymentResponse{
		PaymentID:  payment.ID,
		OrderID:    orderID,
		PaymentURL: order.OrderURL,
	}, nil
}

func (s *PaymentService) createPending(ctx context.Context, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	createdAt := s.now()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		payment := &domain.Payment{
			UserID:        req.UserID,
			MembershipID:  req.MembershipID,
			AmountPaid:    req.AmountPaid,
			OrderID:       domain.NewLocalOrderID(createdAt.Add(time.Duration(attempt)*time.Millisecond), req.UserID),
			StatusCode:    domain.StatusPending,
			PaymentMethod: domain.PaymentMethodZaloPay,
			CreatedAt:     createdAt,
		}

		err := s.store.Create(ctx, payment)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, domain.ErrDuplicateOrderID) {
			return nil, fmt.Errorf("create payment: %w", err)
		}
	}

	return nil, fmt.Errorf("create payment: %w", domain.ErrDuplicateOrderID)
}

func validateCreate(req domain.CreatePaymentRequest) error {
	var missing []string
	if req.UserID <= 0 {
		missing = append(missing, "userId")
	}
	if req.MembershipID <= 0 {
		missing = append(missing, "membershipId")
	}
	if req.AmountPaid <= 0 {
		missing = append(missing, "amountPaid")
	}

	if len(missing) > 0 {
		return domain.NewServiceError(domain.ErrValidation,
			strings.Join(missing, ", ")+" must be positive", "VALIDATION_ERROR")
	}

	return nil
}

// HandleCallback authenticates and applies a gateway callback. It never
// returns an error: every outcome, including a panic, becomes an Ack.
func (s *PaymentService) HandleCallback(ctx context.Context, env domain.CallbackEnvelope) (ack domain.Ack) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.HandleCallback")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, s.logger, "panic while handling callback",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			ack = domain.NewAck(domain.AckRetry, domain.AckMessageInternalError)
		}
		s.metrics.Callback(ack.ReturnMessage)
	}()

	// Step 1: Authenticate the raw data
	if !s.verifier.Verify(env.Data, env.MAC) {
		logging.Warn(ctx, s.logger, "callback mac mismatch")
		return domain.NewAck(domain.AckReject, domain.AckMessageMACNotEqual)
	}

	// Step 2: Decode only after verification
	data, err := domain.ParseCallbackData(env.Data)
	if err != nil {
		logging.Warn(ctx, s.logger, "invalid callback data", zap.Error(err))
		return domain.NewAck(domain.AckReject, domain.AckMessageInvalidData)
	}

	span.SetAttributes(attribute.String("app_trans_id", data.AppTransID))

	// Step 3: Find the payment
	payment, err := s.resolver.Resolve(ctx, data.AppTransID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logging.Warn(ctx, s.logger, "callback for unknown order", zap.String("app_trans_id", data.AppTransID))
			return domain.NewAck(domain.AckReject, domain.AckMessageOrderNotFound)
		}

		logging.Error(ctx, s.logger, "resolve callback order failed",
			zap.String("app_trans_id", data.AppTransID),
			zap.Error(err),
		)
		return domain.NewAck(domain.AckRetry, domain.AckMessageInternalError)
	}

	// Step 4: Apply the outcome
	outcome := domain.DecideOutcome(data.GatewayStatus())
	updated, changed, err := s.store.UpdateStatus(ctx, payment.ID, outcome, s.now())
	switch {
	case errors.Is(err, domain.ErrStatusConflict):
		fields := []zap.Field{zap.Int64("payment_id", payment.ID), zap.String("reported", outcome.String())}
		if updated != nil {
			fields = append(fields, zap.String("stored", updated.StatusCode.String()))
		}
		logging.Error(ctx, s.logger, "callback conflicts with settled payment", fields...)
		return domain.NewAck(domain.AckReject, domain.AckMessageStatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		return domain.NewAck(domain.AckReject, domain.AckMessageOrderNotFound)
	case err != nil:
		logging.Error(ctx, s.logger, "update payment status failed",
			zap.Int64("payment_id", payment.ID),
			zap.Error(err),
		)
		return domain.NewAck(domain.AckRetry, domain.AckMessageInternalError)
	}

	if changed {
		s.metrics.Transition(outcome.String(), sourceCallback)
		logging.Info(ctx, s.logger, "payment settled",
			zap.Int64("payment_id", updated.ID),
			zap.String("order_id", updated.OrderID),
			zap.String("status", outcome.String()),
		)
	} else {
		logging.Debug(ctx, s.logger, "duplicate callback ignored", zap.Int64("payment_id", updated.ID))
	}

	// Step 5: Acknowledge
	ack = domain.NewAck(domain.AckSuccess, domain.AckMessageSuccess)
	if s.redirectURL != "" {
		ack.RedirectURL = withQuery(s.redirectURL, updated.OrderID, strings.ToLower(updated.StatusCode.String()))
	}
	return ack
}

// QueryStatus looks a payment up by its order id. A local order id that has
// since been rewritten to its <yymmdd>_ form still finds the payment. With
// live set, the gateway's own view is attached; a gateway failure is reported
// in the response and does not fail the call.
func (s *PaymentService) QueryStatus(ctx context.Context, orderID string, live bool) (*domain.StatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.QueryStatus")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID), attribute.Bool("live", live))

	payment, err := s.findForStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}

	resp := domain.NewStatusResponse(payment)
	if !live {
		return resp, nil
	}

	result, err := s.gateway.QueryStatus(ctx, domain.CanonicalTransactionID(payment))
	if err != nil {
		logging.Warn(ctx, s.logger, "live gateway status unavailable",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		resp.GatewayError = err.Error()
		return resp, nil
	}

	resp.Gateway = result
	return resp, nil
}

func (s *PaymentService) findForStatus(ctx context.Context, orderID string) (*domain.Payment, error) {
	payment, err := s.store.FindByOrderID(ctx, orderID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return payment, err
	}

	if _, prefixed := domain.StripDatePrefix(orderID); prefixed {
		return nil, err
	}

	return s.store.FindByLocalOrderID(ctx, orderID)
}

// Reconcile settles a Pending payment from the gateway's status query. A
// payment the gateway still reports as processing stays Pending.
func (s *PaymentService) Reconcile(ctx context.Context, orderID string) (*domain.StatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.Reconcile")
	defer span.End()

	payment, err := s.resolver.Resolve(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, result, err := s.reconcile(ctx, payment)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	resp := domain.NewStatusResponse(payment)
	resp.Gateway = result
	return resp, nil
}

func (s *PaymentService) reconcile(ctx context.Context, payment *domain.Payment) (*domain.Payment, *domain.GatewayStatusResult, error) {
	if payment.StatusCode.IsTerminal() {
		return payment, nil, nil
	}

	transactionID := domain.CanonicalTransactionID(payment)

	result, err := s.gateway.QueryStatus(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}

	var outcome domain.StatusCode
	switch result.ReturnCode {
	case domain.GatewayQuerySuccess:
		outcome = domain.StatusSuccess
	case domain.GatewayQueryFailed:
		outcome = domain.StatusFailed
	default:
		return payment, result, nil
	}

	if payment.OrderID != transactionID {
		if err := s.store.UpdateOrderID(ctx, payment.ID, transactionID); err != nil {
			logging.Warn(ctx, s.logger, "order id rewrite failed during reconcile",
				zap.Int64("payment_id", payment.ID),
				zap.Error(err),
			)
		}
	}

	updated, changed, err := s.store.UpdateStatus(ctx, payment.ID, outcome, s.now())
	if err != nil {
		return nil, result, err
	}

	if changed {
		s.metrics.Transition(outcome.String(), sourceReconcile)
		logging.Info(ctx, s.logger, "payment reconciled",
			zap.Int64("payment_id", updated.ID),
			zap.String("status", outcome.String()),
		)
	}

	return updated, result, nil
}

// ReconcileSummary counts what one ReconcilePending pass did.
type ReconcileSummary struct {
	Checked int
	Settled int
	Errors  int
}

// ReconcilePending reconciles up to limit Pending payments created more than
// olderThan ago. A failure on one payment does not stop the batch.
func (s *PaymentService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileSummary, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.ReconcilePending")
	defer span.End()

	var summary ReconcileSummary

	pending, err := s.store.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return summary, fmt.Errorf("list pending payments: %w", err)
	}

	for _, payment := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		summary.Checked++

		updated, _, err := s.reconcile(ctx, payment)
		if err != nil {
			summary.Errors++
			logging.Warn(ctx, s.logger, "reconcile payment failed",
				zap.Int64("payment_id", payment.ID),
				zap.Error(err),
			)
			continue
		}
		if updated.StatusCode.IsTerminal() {
			summary.Settled++
		}
	}

	span.SetAttributes(
		attribute.Int("checked", summary.Checked),
		attribute.Int("settled", summary.Settled),
	)

	return summary, nil
}

// withQuery appends orderId and status to base. An unparsable base is returned as is.
func withQuery(base, orderID, status string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}

	q := u.Query()
	q.Set("orderId", orderID)
	q.Set("status", status)
	u.RawQuery = q.Encode()

	return u.String()
}

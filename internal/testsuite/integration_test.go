package testsuite

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	kafkaadapter "github.com/fitstack/membership-payments/internal/adapters/kafka"
	"github.com/fitstack/membership-payments/internal/adapters/postgres"
	rediscache "github.com/fitstack/membership-payments/internal/adapters/redis"
	"github.com/fitstack/membership-payments/internal/adapters/zalopay"
	"github.com/fitstack/membership-payments/internal/core/domain"
	"github.com/fitstack/membership-payments/internal/core/service"
	"github.com/fitstack/membership-payments/internal/outbox"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const (
	testTopic = "payment_events"
	testKey2  = "callback-secret"
)

var testNow = time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)

type IntegrationTestSuite struct {
	BaseSuite

	Store  *postgres.PaymentStore
	Outbox *outbox.Repository
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	suite.Run(t, new(IntegrationTestSuite))
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.SetupInfrastructure(true)

	s.Outbox = outbox.NewRepository()
	s.Store = postgres.NewPaymentStore(s.DbPool, zap.NewNop()).WithOutbox(s.Outbox, testTopic)

	admin, err := sarama.NewClusterAdmin(s.KafkaBrokers, sarama.NewConfig())
	s.Require().NoError(err)
	defer admin.Close()

	s.Require().NoError(admin.CreateTopic(testTopic, &sarama.TopicDetail{
		NumPartitions:     1,
		ReplicationFactor: 1,
	}, false))
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *IntegrationTestSuite) SetupTest() {
	s.Reset()
}

func (s *IntegrationTestSuite) newPending(orderID string) *domain.Payment {
	p := &domain.Payment{
		UserID:        7,
		MembershipID:  3,
		AmountPaid:    100000,
		OrderID:       orderID,
		StatusCode:    domain.StatusPending,
		PaymentMethod: domain.PaymentMethodZaloPay,
		CreatedAt:     testNow,
	}
	s.Require().NoError(s.Store.Create(s.Ctx, p))
	return p
}

func (s *IntegrationTestSuite) outboxCount() int {
	var n int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n))
	return n
}

func (s *IntegrationTestSuite) TestPaymentStore_CreateAndFind() {
	p := s.newPending("PAY1")
	s.Equal(int64(1), p.ID)

	byOrder, err := s.Store.FindByOrderID(s.Ctx, "PAY1")
	s.Require().NoError(err)
	s.Equal(p.ID, byOrder.ID)
	s.Equal(domain.StatusPending, byOrder.StatusCode)
	s.Nil(byOrder.PaymentDate)
	s.True(testNow.Equal(byOrder.CreatedAt))

	_, err = s.Store.FindByOrderID(s.Ctx, "PAY")
	s.ErrorIs(err, domain.ErrNotFound)

	_, err = s.Store.FindByID(s.Ctx, 999)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *IntegrationTestSuite) TestPaymentStore_UniqueOrderID() {
	first := s.newPending("PAY1")
	second := s.newPending("PAY2")

	dup := *first
	s.ErrorIs(s.Store.Create(s.Ctx, &dup), domain.ErrDuplicateOrderID)
	s.ErrorIs(s.Store.UpdateOrderID(s.Ctx, second.ID, "PAY1"), domain.ErrDuplicateOrderID)
	s.ErrorIs(s.Store.UpdateOrderID(s.Ctx, 999, "PAY9"), domain.ErrNotFound)

	s.Require().NoError(s.Store.UpdateOrderID(s.Ctx, first.ID, "250101_PAY1"))

	healed, err := s.Store.FindByOrderID(s.Ctx, "250101_PAY1")
	s.Require().NoError(err)
	s.Equal(first.ID, healed.ID)
}

func (s *IntegrationTestSuite) TestPaymentStore_FindByLocalOrderID() {
	p := s.newPending("PAY12")
	s.newPending("PAY1")
	s.newPending("X50101_PAY2")
	s.Require().NoError(s.Store.UpdateOrderID(s.Ctx, p.ID, "250101_PAY12"))

	found, err := s.Store.FindByLocalOrderID(s.Ctx, "PAY12")
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
	s.Equal("250101_PAY12", found.OrderID)

	for _, id := range []string{"PAY1", "AY12", "PAY2", "%"} {
		_, err := s.Store.FindByLocalOrderID(s.Ctx, id)
		s.ErrorIs(err, domain.ErrNotFound, id)
	}
}

func (s *IntegrationTestSuite) TestPaymentStore_UpdateStatusIsMonotonic() {
	p := s.newPending("PAY1")
	paidAt := testNow.Add(time.Minute)

	updated, changed, err := s.Store.UpdateStatus(s.Ctx, p.ID, domain.StatusSuccess, paidAt)
	s.Require().NoError(err)
	s.True(changed)
	s.Equal(domain.StatusSuccess, updated.StatusCode)
	s.Require().NotNil(updated.PaymentDate)
	s.True(paidAt.Equal(*updated.PaymentDate))

	_, changed, err = s.Store.UpdateStatus(s.Ctx, p.ID, domain.StatusSuccess, paidAt.Add(time.Hour))
	s.Require().NoError(err)
	s.False(changed)

	_, _, err = s.Store.UpdateStatus(s.Ctx, p.ID, domain.StatusFailed, paidAt)
	s.ErrorIs(err, domain.ErrStatusConflict)

	_, _, err = s.Store.UpdateStatus(s.Ctx, 999, domain.StatusFailed, paidAt)
	s.ErrorIs(err, domain.ErrNotFound)

	s.Equal(1, s.outboxCount())
}

func (s *IntegrationTestSuite) TestPaymentStore_ConcurrentUpdates() {
	p := s.newPending("PAY1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.Store.UpdateStatus(s.Ctx, p.ID, domain.StatusSuccess, time.Now())
			s.NoError(err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, changes)
	s.Equal(1, s.outboxCount())
}

func (s *IntegrationTestSuite) TestPaymentStore_ListPending() {
	old := s.newPending("PAY1")
	s.newPending("PAY2")

	fresh := &domain.Payment{
		UserID: 7, MembershipID: 3, AmountPaid: 1, OrderID: "PAY3",
		StatusCode: domain.StatusPending, PaymentMethod: domain.PaymentMethodZaloPay,
		CreatedAt: testNow.Add(time.Hour),
	}
	s.Require().NoError(s.Store.Create(s.Ctx, fresh))

	_, _, err := s.Store.UpdateStatus(s.Ctx, old.ID, domain.StatusFailed, testNow)
	s.Require().NoError(err)

	pending, err := s.Store.ListPending(s.Ctx, testNow.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("PAY2", pending[0].OrderID)
}

func (s *IntegrationTestSuite) TestCallbackFlow_PublishesSettledEvent() {
	p := s.newPending("PAY1237")

	svc := service.NewPaymentService(s.Store, nil, zalopay.NewCallbackVerifier(testKey2), zap.NewNop())

	data := `{"app_trans_id":"250101_PAY1237","status":1}`
	env := domain.CallbackEnvelope{Data: data, MAC: zalopay.Sign(testKey2, data)}

	s.Equal(domain.AckSuccess, svc.HandleCallback(s.Ctx, env).ReturnCode)
	s.Equal(domain.AckSuccess, svc.HandleCallback(s.Ctx, env).ReturnCode)

	stored, err := s.Store.FindByID(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusSuccess, stored.StatusCode)
	s.Equal("250101_PAY1237", stored.OrderID)
	s.Equal(1, s.outboxCount())

	producer, err := kafkaadapter.NewProducer(s.KafkaBrokers, zap.NewNop())
	s.Require().NoError(err)
	defer producer.Close()

	processor := outbox.NewProcessor(s.DbPool, s.Outbox, producer, zap.NewNop())
	published, err := processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, published)

	published, err = processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Zero(published, "published events are not sent again")

	msg := s.consumeOne()
	s.Equal("250101_PAY1237", string(msg.Key))

	var wire outbox.Message
	s.Require().NoError(json.Unmarshal(msg.Value, &wire))
	s.Equal(domain.EventPaymentSucceeded, wire.Event)

	var event domain.PaymentSettledEvent
	s.Require().NoError(json.Unmarshal(wire.Payload, &event))
	s.Equal(p.ID, event.PaymentID)
	s.Equal(domain.StatusSuccess, event.StatusCode)
	s.Equal(int64(100000), event.Amount)
}

type flakyProducer struct {
	failFor  string
	produced []string
}

func (p *flakyProducer) ProduceMessage(_ context.Context, _ string, msg outbox.Message) error {
	if msg.Key == p.failFor {
		return errors.New("broker unavailable")
	}
	p.produced = append(p.produced, msg.Key)
	return nil
}

func (s *IntegrationTestSuite) saveEvent(orderID string) *outbox.Event {
	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(s.Ctx) }()

	event := &outbox.Event{
		AggregateType: "payment",
		AggregateID:   orderID,
		EventType:     domain.EventPaymentSucceeded,
		Payload:       json.RawMessage(`{}`),
		Topic:         testTopic,
	}
	s.Require().NoError(s.Outbox.Save(s.Ctx, tx, event))
	s.Require().NoError(tx.Commit(s.Ctx))
	return event
}

func (s *IntegrationTestSuite) outboxRow(id int64) (attempts int, lastError *string, published bool) {
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx,
		`SELECT attempts, last_error, published_at IS NOT NULL FROM outbox WHERE id = $1`, id,
	).Scan(&attempts, &lastError, &published))
	return attempts, lastError, published
}

func (s *IntegrationTestSuite) TestOutboxProcessor_ProduceFailure() {
	failing := s.saveEvent("250101_PAY1")
	ok := s.saveEvent("250101_PAY2")

	producer := &flakyProducer{failFor: "250101_PAY1"}
	processor := outbox.NewProcessor(s.DbPool, s.Outbox, producer, zap.NewNop())

	published, err := processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, published, "a failed event does not block the rest of the batch")
	s.Equal([]string{"250101_PAY2"}, producer.produced)

	attempts, lastError, done := s.outboxRow(failing.ID)
	s.Equal(1, attempts)
	s.Require().NotNil(lastError)
	s.Contains(*lastError, "broker unavailable")
	s.False(done)

	attempts, _, done = s.outboxRow(ok.ID)
	s.Zero(attempts)
	s.True(done)

	// One attempt short of being parked.
	_, err = s.DbPool.Exec(s.Ctx, `UPDATE outbox SET attempts = 9 WHERE id = $1`, failing.ID)
	s.Require().NoError(err)

	published, err = processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Zero(published)

	attempts, _, _ = s.outboxRow(failing.ID)
	s.Equal(10, attempts)

	producer.failFor = ""
	published, err = processor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Zero(published, "events past the attempt limit are parked")
	s.Equal([]string{"250101_PAY2"}, producer.produced)
}

func (s *IntegrationTestSuite) consumeOne() *sarama.ConsumerMessage {
	consumer, err := sarama.NewConsumer(s.KafkaBrokers, sarama.NewConfig())
	s.Require().NoError(err)
	defer consumer.Close()

	pc, err := consumer.ConsumePartition(testTopic, 0, sarama.OffsetOldest)
	s.Require().NoError(err)
	defer pc.Close()

	select {
	case msg := <-pc.Messages():
		return msg
	case <-time.After(30 * time.Second):
		s.FailNow("no message consumed")
		return nil
	}
}

func (s *IntegrationTestSuite) TestCachedStore() {
	p := s.newPending("PAY1")
	cached := rediscache.NewCachedStore(s.Store, s.Redis, time.Minute, zap.NewNop())

	_, err := cached.FindByOrderID(s.Ctx, "PAY1")
	s.Require().NoError(err)
	s.Zero(s.Redis.Exists(s.Ctx, "payment:order:PAY1").Val(), "pending payments are not cached")

	_, changed, err := cached.UpdateStatus(s.Ctx, p.ID, domain.StatusSuccess, testNow)
	s.Require().NoError(err)
	s.True(changed)

	settled, err := cached.FindByOrderID(s.Ctx, "PAY1")
	s.Require().NoError(err)
	s.Equal(domain.StatusSuccess, settled.StatusCode)
	s.Equal(int64(1), s.Redis.Exists(s.Ctx, "payment:order:PAY1").Val())
	s.Equal(int64(1), s.Redis.Exists(s.Ctx, "payment:id:1").Val())

	byID, err := cached.FindByID(s.Ctx, p.ID)
	s.Require().NoError(err)
	s.Equal("PAY1", byID.OrderID)

	s.Require().NoError(cached.UpdateOrderID(s.Ctx, p.ID, "250101_PAY1"))
	s.Zero(s.Redis.Exists(s.Ctx, "payment:order:PAY1", "payment:id:1").Val())

	_, err = cached.FindByOrderID(s.Ctx, "PAY1")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *IntegrationTestSuite) TestCachedStore_ServesFromCache() {
	p := s.newPending("PAY1")
	cached := rediscache.NewCachedStore(s.Store, s.Redis, time.Minute, zap.NewNop())

	_, _, err := cached.UpdateStatus(s.Ctx, p.ID, domain.StatusFailed, testNow)
	s.Require().NoError(err)
	_, err = cached.FindByOrderID(s.Ctx, "PAY1")
	s.Require().NoError(err)

	// Removed behind the cache's back; the terminal record is still served.
	_, err = s.DbPool.Exec(context.Background(), `DELETE FROM payments`)
	s.Require().NoError(err)

	got, err := cached.FindByOrderID(s.Ctx, "PAY1")
	s.Require().NoError(err)
	s.Equal(domain.StatusFailed, got.StatusCode)
}

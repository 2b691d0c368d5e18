// Package testsuite starts the containers the integration tests run against.
package testsuite

import (
	"context"
	"log"
	"time"

	"github.com/fitstack/membership-payments/internal/adapters/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// BaseSuite starts the containers integration suites share.
type BaseSuite struct {
	suite.Suite
	PgContainer    *tcpostgres.PostgresContainer
	RedisContainer *tcredis.RedisContainer
	KafkaContainer *kafka.KafkaContainer
	DbPool         *pgxpool.Pool
	Redis          *redis.Client
	KafkaBrokers   []string
	Ctx            context.Context
}

// SetupInfrastructure starts Postgres with the schema migrated, Redis and,
// when withKafka is set, a single Kafka broker.
func (s *BaseSuite) SetupInfrastructure(withKafka bool) {
	s.Ctx = context.Background()

	var err error
	s.PgContainer, err = tcpostgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("test_db"),
		tcpostgres.WithUsername("test_user"),
		tcpostgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	connStr, err := s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(postgres.Migrate(connStr))

	s.DbPool, err = postgres.NewPool(s.Ctx, connStr, 10, 1)
	s.Require().NoError(err)

	s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)

	redisURL, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)

	opts, err := redis.ParseURL(redisURL)
	s.Require().NoError(err)
	s.Redis = redis.NewClient(opts)

	if !withKafka {
		return
	}

	s.KafkaContainer, err = kafka.Run(
		s.Ctx,
		"confluentinc/cp-kafka:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	s.Require().NoError(err)

	s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
	s.Require().NoError(err)
}

// TearDownInfrastructure closes clients and terminates the started containers.
func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}

	terminate := func(name string, c testcontainers.Container) {
		if err := c.Terminate(s.Ctx); err != nil {
			log.Printf("Failed to terminate %s container: %v", name, err)
		}
	}

	if s.PgContainer != nil {
		terminate("postgres", s.PgContainer)
	}
	if s.RedisContainer != nil {
		terminate("redis", s.RedisContainer)
	}
	if s.KafkaContainer != nil {
		terminate("kafka", s.KafkaContainer)
	}
}

// Reset empties every table and the cache between tests.
func (s *BaseSuite) Reset() {
	_, err := s.DbPool.Exec(s.Ctx, "TRUNCATE payments, outbox RESTART IDENTITY CASCADE")
	s.Require().NoError(err)
	s.Require().NoError(s.Redis.FlushAll(s.Ctx).Err())
}

//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"dungeon-server/internal/database"
	"dungeon-server/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// PgRepositorySuite прогоняет общий набор сценариев на настоящем PostgreSQL.
type PgRepositorySuite struct {
	suite.Suite
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
}

func (s *PgRepositorySuite) SetupSuite() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("dungeon-test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(3*time.Minute),
		),
	)
	require.NoError(s.T(), err)
	s.pgContainer = pgContainer

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T(), err)

	require.NoError(s.T(), database.NewMigrator(dsn, zap.NewNop()).Up())
	version, dirty, err := database.NewMigrator(dsn, zap.NewNop()).Version()
	require.NoError(s.T(), err)
	require.False(s.T(), dirty)
	require.EqualValues(s.T(), 1, version)

	s.pool, err = pgxpool.New(ctx, dsn)
	require.NoError(s.T(), err)
}

func (s *PgRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(context.Background())
	}
}

func (s *PgRepositorySuite) TestContract() {
	runRepositoryContract(s.T(), func(t *testing.T) repository.DungeonRepository {
		_, err := s.pool.Exec(context.Background(), "TRUNCATE dungeon RESTART IDENTITY")
		require.NoError(t, err)
		return repository.NewPgDungeonRepository(s.pool, zap.NewNop())
	})
}

func TestPgRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("integration suite skipped in short mode")
	}
	suite.Run(t, new(PgRepositorySuite))
}

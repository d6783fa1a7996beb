// Package testutil provides shared test infrastructure for integration tests.
// It uses testcontainers-go to spin up a real PostgreSQL instance, run
// all migrations, and provide a connection pool for repository tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/euvatease/api/internal/database"
)

// TestDB holds a PostgreSQL test container and connection pool.
// It is meant to be shared across the tests of a package via TestMain.
// Each test should call Truncate() to reset state.
type TestDB struct {
	Pool      *pgxpool.Pool
	container testcontainers.Container
}

// SetupTestDB starts a PostgreSQL container, runs all migrations, and
// returns a TestDB with an active connection pool.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    db, err := testutil.SetupTestDB()
//	    if err != nil { log.Fatal(err) }
//	    testDB = db
//	    code := m.Run()
//	    db.Close()
//	    os.Exit(code)
//	}
func SetupTestDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vatease_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "start postgres container")
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, errors.Wrap(err, "get connection string")
	}

	if err := database.Migrate(connStr); err != nil {
		_ = container.Terminate(ctx)
		return nil, errors.Wrap(err, "run migrations")
	}

	pool, err := database.NewPool(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, errors.Wrap(err, "create connection pool")
	}

	return &TestDB{Pool: pool, container: container}, nil
}

// Close terminates the container and closes the pool.
func (tdb *TestDB) Close() {
	if tdb.Pool != nil {
		tdb.Pool.Close()
	}
	if tdb.container != nil {
		_ = tdb.container.Terminate(context.Background())
	}
}

// Truncate removes all rows from the application tables.
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	_, err := tdb.Pool.Exec(context.Background(), `TRUNCATE
		alerts, oss_reports, threshold_contributions, threshold_states,
		validation_records, vat_rates, orders, shops
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
}

// FixtureShop inserts an active shop with the given home country and
// returns its id.
func (tdb *TestDB) FixtureShop(t *testing.T, homeCountry string, ossRegistered bool) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := tdb.Pool.Exec(context.Background(),
		`INSERT INTO shops (id, name, home_country, oss_registered, active) VALUES ($1, $2, $3, $4, true)`,
		id, "Fixture shop "+homeCountry, homeCountry, ossRegistered)
	if err != nil {
		t.Fatalf("creating fixture shop: %v", err)
	}
	return id
}

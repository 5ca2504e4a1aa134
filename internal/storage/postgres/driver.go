package postgres

import (
	"context"

	"github.com/hostline/console-server/internal/service"
	"github.com/hostline/console-server/internal/storage"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Driver represents the PostgreSQL storage driver implementation.
// The directory schema is owned and migrated by the provisioning system; this driver only reads it.
type Driver struct {
	dsn      string
	db       *pgxpool.Pool
	services *ServiceRepository
}

var _ storage.Driver = (*Driver)(nil)

// New creates a new empty PostgreSQL storage driver.
// Use Initialize to open the database connection and initialize the repository implementations.
func New(dsn string) *Driver {
	return &Driver{
		dsn: dsn,
	}
}

// Initialize opens the database connection and initializes the repository implementations
func (driver *Driver) Initialize(ctx context.Context) error {
	pool, err := pgxpool.Connect(ctx, driver.dsn)
	if err != nil {
		return err
	}
	driver.db = pool

	driver.services = &ServiceRepository{db: pool}

	return nil
}

// Services provides the PostgreSQL service repository implementation
func (driver *Driver) Services() service.Repository {
	return driver.services
}

// Close discards the repository implementations and closes the database connection
func (driver *Driver) Close() {
	driver.services = nil

	driver.db.Close()
	driver.db = nil
}

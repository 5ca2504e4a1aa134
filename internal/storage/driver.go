package storage

import (
	"context"

	"github.com/hostline/console-server/internal/service"
)

// Driver represents a storage driver for the platform directory
type Driver interface {
	// Initialize initializes the storage driver (i.e. opens a database connection)
	Initialize(ctx context.Context) error

	// Services provides a service repository implementation
	Services() service.Repository

	// Close closes the storage driver (i.e. closes a database connection)
	Close()
}

package service

import "context"

// Repository defines the service repository API
type Repository interface {
	// GetByUserAndID retrieves a service by its ID, restricted to the given owning user.
	// It returns nil if no such service exists or it is not owned by that user.
	GetByUserAndID(ctx context.Context, userID, serviceID string) (*Service, error)
}

package postgres

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/hostline/console-server/internal/service"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ServiceRepository implements the service.Repository interface using PostgreSQL
type ServiceRepository struct {
	db *pgxpool.Pool
}

var _ service.Repository = (*ServiceRepository)(nil)

// GetByUserAndID retrieves a service by its ID, restricted to the given owning user
func (repo *ServiceRepository) GetByUserAndID(ctx context.Context, userID, serviceID string) (*service.Service, error) {
	// The directory keys owners by UUID; a caller whose subject is no valid UUID cannot own anything
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}

	query := squirrel.Select(
		"id",
		"user_id",
		"proxmox_node",
		"proxmox_vm_id",
	).From(`"Services"`).
		Where(squirrel.Expr("user_id = ?::uuid", uid.String())).
		Where(squirrel.Eq{"id": serviceID}).
		PlaceholderFormat(squirrel.Dollar)
	sql, vals, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	obj := &service.Service{}
	var node, vmID *string
	err = repo.db.QueryRow(ctx, sql, vals...).Scan(&obj.ID, &obj.UserID, &node, &vmID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if node != nil {
		obj.Node = *node
	}
	if vmID != nil {
		obj.VMID = *vmID
	}

	return obj, nil
}

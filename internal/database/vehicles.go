package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/smukkama/geofence-server/internal/domain"
)

// CreateVehicle inserts a vehicle. A duplicate vehicle_number is a
// ValidationError.
func (db *DB) CreateVehicle(ctx context.Context, v *domain.Vehicle) error {
	query := `
		INSERT INTO vehicles (id, vehicle_number, driver_name, vehicle_type, phone, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.ExecContext(ctx, query, v.ID, v.VehicleNumber, v.DriverName, v.VehicleType, v.Phone, v.Status, v.CreatedAt)
	if pqCode(err) == codeUniqueViolation {
		return domain.NewValidationError("vehicle_number", "already exists")
	}
	return storageErr("create vehicle", err)
}

// GetVehicle retrieves a vehicle by id
func (db *DB) GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = $1`

	v, err := scanVehicle(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get vehicle", err)
	}
	return v, nil
}

// ListVehicles returns every vehicle newest first
func (db *DB) ListVehicles(ctx context.Context) ([]*domain.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles ORDER BY created_at DESC, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list vehicles", err)
	}
	defer rows.Close()

	vehicles := []*domain.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, storageErr("list vehicles", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, storageErr("list vehicles", rows.Err())
}

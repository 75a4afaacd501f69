package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/smukkama/geofence-server/internal/domain"
)

// CreateGeofence inserts a geofence
func (db *DB) CreateGeofence(ctx context.Context, g *domain.Geofence) error {
	coords, err := encodeCoordinates(g.Polygon)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO geofences (id, name, description, category, coordinates, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = db.ExecContext(ctx, query, g.ID, g.Name, g.Description, g.Category, coords, g.Status, g.CreatedAt)
	return storageErr("create geofence", err)
}

// GetGeofence retrieves a geofence by id
func (db *DB) GetGeofence(ctx context.Context, id string) (*domain.Geofence, error) {
	query := `SELECT ` + geofenceColumns + ` FROM geofences WHERE id = $1`

	g, err := scanGeofence(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get geofence", err)
	}
	return g, nil
}

// ListGeofences returns geofences newest first, optionally filtered by category
func (db *DB) ListGeofences(ctx context.Context, category domain.GeofenceCategory) ([]*domain.Geofence, error) {
	query := `SELECT ` + geofenceColumns + ` FROM geofences`
	var args []any
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, id`

	return db.queryGeofences(ctx, "list geofences", query, args...)
}

// ActiveGeofences returns every active geofence
func (db *DB) ActiveGeofences(ctx context.Context) ([]*domain.Geofence, error) {
	query := `SELECT ` + geofenceColumns + ` FROM geofences WHERE status = $1 ORDER BY id`
	return db.queryGeofences(ctx, "active geofences", query, domain.StatusActive)
}

func (db *DB) queryGeofences(ctx context.Context, op, query string, args ...any) ([]*domain.Geofence, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	geofences := []*domain.Geofence{}
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		geofences = append(geofences, g)
	}
	return geofences, storageErr(op, rows.Err())
}

// SetGeofenceStatus toggles a geofence between active and inactive
func (db *DB) SetGeofenceStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := db.ExecContext(ctx, `UPDATE geofences SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return storageErr("set geofence status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("set geofence status", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

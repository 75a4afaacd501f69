package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/smukkama/geofence-server/internal/domain"
)

const insertViolation = `
	INSERT INTO violations (id, vehicle_id, geofence_id, event_type, latitude, longitude, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Append records a single violation
func (db *DB) Append(ctx context.Context, v domain.Violation) (string, error) {
	if err := db.AppendAll(ctx, []domain.Violation{v}); err != nil {
		return "", err
	}
	return v.ID, nil
}

// AppendAll records violations in one transaction. Either all are stored
// or none.
func (db *DB) AppendAll(ctx context.Context, violations []domain.Violation) error {
	if len(violations) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewStorageError("append violations", err)
	}
	defer tx.Rollback()

	for _, v := range violations {
		if _, err := tx.ExecContext(ctx, insertViolation,
			v.ID, v.VehicleID, v.GeofenceID, v.EventType, v.Latitude, v.Longitude, v.Timestamp,
		); err != nil {
			return domain.NewStorageError("append violations", fmt.Errorf("violation %s: %w", v.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewStorageError("append violations", err)
	}
	return nil
}

func violationWhere(f domain.ViolationFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.VehicleID != "" {
		add("v.vehicle_id = $%d", f.VehicleID)
	}
	if f.GeofenceID != "" {
		add("v.geofence_id = $%d", f.GeofenceID)
	}
	if f.Start != nil {
		add("v.timestamp >= $%d", *f.Start)
	}
	if f.End != nil {
		add("v.timestamp < $%d", *f.End)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// QueryViolations returns violations most recent first. TotalCount counts
// every match, ignoring the limit.
func (db *DB) QueryViolations(ctx context.Context, f domain.ViolationFilter) (*domain.ViolationPage, error) {
	where, args := violationWhere(f)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM violations v`+where, args...).Scan(&total); err != nil {
		return nil, storageErr("count violations", err)
	}

	query := `
		SELECT v.id, v.vehicle_id, v.geofence_id, v.event_type, v.latitude, v.longitude, v.timestamp,
		       COALESCE(ve.vehicle_number, ''), COALESCE(g.name, '')
		FROM violations v
		LEFT JOIN vehicles ve ON ve.id = v.vehicle_id
		LEFT JOIN geofences g ON g.id = v.geofence_id` + where +
		fmt.Sprintf(` ORDER BY v.timestamp DESC, v.id DESC LIMIT $%d`, len(args)+1)

	rows, err := db.QueryContext(ctx, query, append(args, f.NormalizedLimit())...)
	if err != nil {
		return nil, storageErr("query violations", err)
	}
	defer rows.Close()

	page := &domain.ViolationPage{Violations: []*domain.Violation{}, TotalCount: total}
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, storageErr("query violations", err)
		}
		page.Violations = append(page.Violations, v)
	}
	return page, storageErr("query violations", rows.Err())
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/smukkama/geofence-server/internal/domain"
)

const alertRuleSelect = `
	SELECT a.id, a.geofence_id, a.vehicle_id, a.event_type, a.status, a.created_at,
	       COALESCE(g.name, ''), COALESCE(v.vehicle_number, '')
	FROM alert_configs a
	LEFT JOIN geofences g ON g.id = a.geofence_id
	LEFT JOIN vehicles v ON v.id = a.vehicle_id
`

// CreateAlertRule inserts an alert rule
func (db *DB) CreateAlertRule(ctx context.Context, r *domain.AlertRule) error {
	query := `
		INSERT INTO alert_configs (id, geofence_id, vehicle_id, event_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.ExecContext(ctx, query, r.ID, r.GeofenceID, scopeArg(r.Scope), r.EventType, r.Status, r.CreatedAt)
	if pqCode(err) == codeForeignKeyViolation {
		return domain.NewValidationError("geofence_id", "references an unknown geofence or vehicle")
	}
	return storageErr("create alert rule", err)
}

// GetAlertRule retrieves an alert rule by id
func (db *DB) GetAlertRule(ctx context.Context, id string) (*domain.AlertRule, error) {
	r, err := scanAlertRule(db.QueryRowContext(ctx, alertRuleSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get alert rule", err)
	}
	return r, nil
}

// ListAlertRules returns configured rules with resolved names. A vehicle
// filter matches rules scoped to that vehicle.
func (db *DB) ListAlertRules(ctx context.Context, f domain.AlertRuleFilter) ([]*domain.AlertRule, error) {
	query := alertRuleSelect + ` WHERE 1=1`
	var args []any
	if f.GeofenceID != "" {
		args = append(args, f.GeofenceID)
		query += fmt.Sprintf(` AND a.geofence_id = $%d`, len(args))
	}
	if f.VehicleID != "" {
		args = append(args, f.VehicleID)
		query += fmt.Sprintf(` AND a.vehicle_id = $%d`, len(args))
	}
	query += ` ORDER BY a.created_at DESC, a.id`

	return db.queryAlertRules(ctx, "list alert rules", query, args...)
}

// ActiveRulesForGeofence returns the active rules attached to a geofence
func (db *DB) ActiveRulesForGeofence(ctx context.Context, geofenceID string) ([]domain.AlertRule, error) {
	query := alertRuleSelect + ` WHERE a.geofence_id = $1 AND a.status = $2 ORDER BY a.id`

	rules, err := db.queryAlertRules(ctx, "active alert rules", query, geofenceID, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AlertRule, len(rules))
	for i, r := range rules {
		out[i] = *r
	}
	return out, nil
}

func (db *DB) queryAlertRules(ctx context.Context, op, query string, args ...any) ([]*domain.AlertRule, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	rules := []*domain.AlertRule{}
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		rules = append(rules, r)
	}
	return rules, storageErr(op, rows.Err())
}

// SetAlertRuleStatus toggles an alert rule between active and inactive
func (db *DB) SetAlertRuleStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := db.ExecContext(ctx, `UPDATE alert_configs SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return storageErr("set alert rule status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("set alert rule status", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

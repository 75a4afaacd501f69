package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// encodeCoordinates stores a polygon as a JSON array of [lat, lon] pairs
func encodeCoordinates(p geometry.Polygon) (string, error) {
	data, err := json.Marshal(p.Pairs())
	if err != nil {
		return "", fmt.Errorf("failed to marshal coordinates: %w", err)
	}
	return string(data), nil
}

func decodeCoordinates(s string) (geometry.Polygon, error) {
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coordinates: %w", err)
	}
	return geometry.FromPairs(pairs), nil
}

const geofenceColumns = `id, name, description, category, coordinates, status, created_at`

func scanGeofence(s scanner) (*domain.Geofence, error) {
	var (
		g      domain.Geofence
		coords string
	)
	if err := s.Scan(&g.ID, &g.Name, &g.Description, &g.Category, &coords, &g.Status, &g.CreatedAt); err != nil {
		return nil, err
	}
	poly, err := decodeCoordinates(coords)
	if err != nil {
		return nil, fmt.Errorf("geofence %s: %w", g.ID, err)
	}
	g.Polygon = poly
	return &g, nil
}

const vehicleColumns = `id, vehicle_number, driver_name, vehicle_type, phone, status, created_at`

func scanVehicle(s scanner) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := s.Scan(&v.ID, &v.VehicleNumber, &v.DriverName, &v.VehicleType, &v.Phone, &v.Status, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// scanAlertRule reads the alert_configs columns plus the resolved names
func scanAlertRule(s scanner) (*domain.AlertRule, error) {
	var (
		r         domain.AlertRule
		vehicleID sql.NullString
	)
	if err := s.Scan(&r.ID, &r.GeofenceID, &vehicleID, &r.EventType, &r.Status, &r.CreatedAt, &r.GeofenceName, &r.VehicleNumber); err != nil {
		return nil, err
	}
	if vehicleID.Valid && vehicleID.String != "" {
		r.Scope = domain.SpecificVehicle(vehicleID.String)
	} else {
		r.Scope = domain.AllVehicles()
	}
	return &r, nil
}

func scopeArg(scope domain.VehicleScope) sql.NullString {
	id, ok := scope.VehicleID()
	return sql.NullString{String: id, Valid: ok}
}

func scanViolation(s scanner) (*domain.Violation, error) {
	var v domain.Violation
	if err := s.Scan(
		&v.ID,
		&v.VehicleID,
		&v.GeofenceID,
		&v.EventType,
		&v.Latitude,
		&v.Longitude,
		&v.Timestamp,
		&v.VehicleNumber,
		&v.GeofenceName,
	); err != nil {
		return nil, err
	}
	return &v, nil
}

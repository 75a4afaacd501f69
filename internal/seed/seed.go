// Package seed loads fixture geofences, vehicles and alert rules from YAML.
package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smukkama/geofence-server/internal/domain"
)

// File is the on-disk seed document. Alert rules refer to geofences by
// name and to vehicles by vehicle number.
type File struct {
	Geofences  []Geofence  `yaml:"geofences"`
	Vehicles   []Vehicle   `yaml:"vehicles"`
	AlertRules []AlertRule `yaml:"alert_rules"`
}

type Geofence struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Category    string      `yaml:"category"`
	Coordinates [][]float64 `yaml:"coordinates"`
}

type Vehicle struct {
	VehicleNumber string `yaml:"vehicle_number"`
	DriverName    string `yaml:"driver_name"`
	VehicleType   string `yaml:"vehicle_type"`
	Phone         string `yaml:"phone"`
}

type AlertRule struct {
	Geofence  string `yaml:"geofence"`
	Vehicle   string `yaml:"vehicle"`
	EventType string `yaml:"event_type"`
}

// Creator creates entities. *engine.Engine implements it.
type Creator interface {
	CreateGeofence(ctx context.Context, in domain.NewGeofence) (*domain.Geofence, error)
	CreateVehicle(ctx context.Context, in domain.NewVehicle) (*domain.Vehicle, error)
	CreateAlertRule(ctx context.Context, in domain.NewAlertRule) (*domain.AlertRule, error)
}

// Result maps seed names to the identifiers that were assigned
type Result struct {
	Geofences  map[string]string
	Vehicles   map[string]string
	AlertRules []string
}

// Load reads and parses a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a seed document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &f, nil
}

// Apply creates everything in f, geofences and vehicles first so rules can
// resolve their references. It stops at the first error.
func Apply(ctx context.Context, c Creator, f *File) (*Result, error) {
	res := &Result{
		Geofences: make(map[string]string, len(f.Geofences)),
		Vehicles:  make(map[string]string, len(f.Vehicles)),
	}

	for i, g := range f.Geofences {
		coords := make([][2]float64, len(g.Coordinates))
		for j, pair := range g.Coordinates {
			if len(pair) != 2 {
				return res, fmt.Errorf("geofence %q: coordinate %d must be [lat, lon]", g.Name, j)
			}
			coords[j] = [2]float64{pair[0], pair[1]}
		}
		created, err := c.CreateGeofence(ctx, domain.NewGeofence{
			Name:        g.Name,
			Description: g.Description,
			Category:    domain.GeofenceCategory(g.Category),
			Coordinates: coords,
		})
		if err != nil {
			return res, fmt.Errorf("geofence %d (%s): %w", i, g.Name, err)
		}
		res.Geofences[g.Name] = created.ID
	}

	for i, v := range f.Vehicles {
		created, err := c.CreateVehicle(ctx, domain.NewVehicle{
			VehicleNumber: v.VehicleNumber,
			DriverName:    v.DriverName,
			VehicleType:   domain.VehicleType(v.VehicleType),
			Phone:         v.Phone,
		})
		if err != nil {
			return res, fmt.Errorf("vehicle %d (%s): %w", i, v.VehicleNumber, err)
		}
		res.Vehicles[v.VehicleNumber] = created.ID
	}

	for i, r := range f.AlertRules {
		geofenceID, ok := res.Geofences[r.Geofence]
		if !ok {
			return res, fmt.Errorf("alert rule %d: unknown geofence %q", i, r.Geofence)
		}
		var vehicleID string
		if r.Vehicle != "" {
			if vehicleID, ok = res.Vehicles[r.Vehicle]; !ok {
				return res, fmt.Errorf("alert rule %d: unknown vehicle %q", i, r.Vehicle)
			}
		}
		created, err := c.CreateAlertRule(ctx, domain.NewAlertRule{
			GeofenceID: geofenceID,
			VehicleID:  vehicleID,
			EventType:  domain.RuleEventType(r.EventType),
		})
		if err != nil {
			return res, fmt.Errorf("alert rule %d: %w", i, err)
		}
		res.AlertRules = append(res.AlertRules, created.ID)
	}

	return res, nil
}

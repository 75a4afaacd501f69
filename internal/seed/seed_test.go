package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smukkama/geofence-server/internal/domain"
)

const sample = `
geofences:
  - name: Downtown
    category: delivery_zone
    coordinates:
      - [37.7749, -122.4194]
      - [37.7849, -122.4194]
      - [37.7849, -122.4094]
      - [37.7749, -122.4094]
      - [37.7749, -122.4194]
vehicles:
  - vehicle_number: KA-01-1234
    driver_name: Asha Rao
    vehicle_type: truck
    phone: "+14155550100"
alert_rules:
  - geofence: Downtown
    event_type: entry
  - geofence: Downtown
    vehicle: KA-01-1234
    event_type: both
`

type fakeCreator struct {
	geofences []domain.NewGeofence
	vehicles  []domain.NewVehicle
	rules     []domain.NewAlertRule
}

func (c *fakeCreator) CreateGeofence(_ context.Context, in domain.NewGeofence) (*domain.Geofence, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	c.geofences = append(c.geofences, in)
	return &domain.Geofence{ID: fmt.Sprintf("geo_%d", len(c.geofences))}, nil
}

func (c *fakeCreator) CreateVehicle(_ context.Context, in domain.NewVehicle) (*domain.Vehicle, error) {
	c.vehicles = append(c.vehicles, in)
	return &domain.Vehicle{ID: fmt.Sprintf("veh_%d", len(c.vehicles))}, nil
}

func (c *fakeCreator) CreateAlertRule(_ context.Context, in domain.NewAlertRule) (*domain.AlertRule, error) {
	c.rules = append(c.rules, in)
	return &domain.AlertRule{ID: fmt.Sprintf("alert_%d", len(c.rules))}, nil
}

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	c := &fakeCreator{}
	res, err := Apply(context.Background(), c, f)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if res.Geofences["Downtown"] != "geo_1" || res.Vehicles["KA-01-1234"] != "veh_1" {
		t.Errorf("unexpected ids %+v", res)
	}
	if len(res.AlertRules) != 2 {
		t.Fatalf("expected 2 rules, got %v", res.AlertRules)
	}
	if got := c.geofences[0].Coordinates[2]; got != [2]float64{37.7849, -122.4094} {
		t.Errorf("unexpected coordinate %v", got)
	}
	if c.vehicles[0].Phone != "+14155550100" {
		t.Errorf("unexpected phone %q", c.vehicles[0].Phone)
	}
	if c.rules[0].VehicleID != "" || c.rules[0].GeofenceID != "geo_1" {
		t.Errorf("expected fleet-wide rule, got %+v", c.rules[0])
	}
	if c.rules[1].VehicleID != "veh_1" || c.rules[1].EventType != domain.RuleBoth {
		t.Errorf("expected scoped rule, got %+v", c.rules[1])
	}
}

func TestApply_UnknownReference(t *testing.T) {
	f, err := Parse([]byte("alert_rules:\n  - geofence: Nowhere\n    event_type: entry\n"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Apply(context.Background(), &fakeCreator{}, f)
	if err == nil || !strings.Contains(err.Error(), `unknown geofence "Nowhere"`) {
		t.Errorf("expected unknown geofence error, got %v", err)
	}
}

func TestApply_BadCoordinate(t *testing.T) {
	f, err := Parse([]byte("geofences:\n  - name: Bad\n    category: toll_zone\n    coordinates:\n      - [1, 2, 3]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Apply(context.Background(), &fakeCreator{}, f); err == nil {
		t.Error("expected coordinate error")
	}
}

func TestApply_ValidationErrorSurfaces(t *testing.T) {
	f, err := Parse([]byte("geofences:\n  - name: Open\n    category: toll_zone\n    coordinates: [[0, 0], [0, 1], [1, 1]]\n"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Apply(context.Background(), &fakeCreator{}, f)
	if !domain.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("geofences: [")); err == nil {
		t.Error("expected parse error")
	}
}

package domain

import (
	"errors"
	"testing"
	"time"
)

func squareCoords() [][2]float64 {
	return [][2]float64{
		{37.7749, -122.4194},
		{37.7849, -122.4194},
		{37.7849, -122.4094},
		{37.7749, -122.4094},
		{37.7749, -122.4194},
	}
}

func TestNewGeofence_Validate(t *testing.T) {
	tests := []struct {
		name      string
		in        NewGeofence
		wantField string
	}{
		{"valid", NewGeofence{Name: "Downtown", Category: CategoryDeliveryZone, Coordinates: squareCoords()}, ""},
		{"missing name", NewGeofence{Category: CategoryDeliveryZone, Coordinates: squareCoords()}, "name"},
		{"bad category", NewGeofence{Name: "X", Category: "parking", Coordinates: squareCoords()}, "category"},
		{"missing coordinates", NewGeofence{Name: "X", Category: CategoryTollZone}, "coordinates"},
		{"open ring", NewGeofence{Name: "X", Category: CategoryTollZone, Coordinates: squareCoords()[:4]}, "coordinates"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("expected field %q, got %q (%v)", tt.wantField, ve.Field, ve)
			}
		})
	}
}

func TestNewVehicle_Validate(t *testing.T) {
	ok := NewVehicle{VehicleNumber: "KA-01-1234", DriverName: "Asha", VehicleType: VehicleTruck, Phone: "555-0100"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := ok
	bad.VehicleType = "bus"
	err := bad.Validate()
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewAlertRule_Scope(t *testing.T) {
	all := NewAlertRule{GeofenceID: "geo_1", EventType: RuleBoth}
	if !all.Scope().IsAll() {
		t.Error("expected AllVehicles for empty vehicle_id")
	}

	one := NewAlertRule{GeofenceID: "geo_1", VehicleID: "veh_1", EventType: RuleEntry}
	id, ok := one.Scope().VehicleID()
	if !ok || id != "veh_1" {
		t.Errorf("expected SpecificVehicle(veh_1), got %q %v", id, ok)
	}
	if one.Scope().Includes("veh_2") {
		t.Error("scoped rule must not include another vehicle")
	}

	if err := (NewAlertRule{GeofenceID: "geo_1", EventType: "sometimes"}).Validate(); !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLocationReport_ToUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	u, err := LocationReport{VehicleID: "veh_1", Latitude: 37.78, Longitude: -122.41}.ToUpdate(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.Timestamp.Equal(now) {
		t.Errorf("expected default timestamp %v, got %v", now, u.Timestamp)
	}

	u, err = LocationReport{VehicleID: "veh_1", Latitude: 1, Longitude: 2, Timestamp: "2026-02-03T04:05:06Z"}.ToUpdate(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Timestamp.Year() != 2026 || u.Timestamp.Month() != time.February {
		t.Errorf("unexpected timestamp %v", u.Timestamp)
	}

	if _, err := (LocationReport{VehicleID: "veh_1", Latitude: 95}).ToUpdate(now); !IsValidation(err) {
		t.Errorf("expected latitude validation error, got %v", err)
	}
	if _, err := (LocationReport{Latitude: 1}).ToUpdate(now); !IsValidation(err) {
		t.Errorf("expected vehicle_id validation error, got %v", err)
	}
	if _, err := (LocationReport{VehicleID: "v", Timestamp: "yesterday"}).ToUpdate(now); !IsValidation(err) {
		t.Errorf("expected timestamp validation error, got %v", err)
	}
}

func TestRuleEventType_Accepts(t *testing.T) {
	if !RuleBoth.Accepts(EventEntry) || !RuleBoth.Accepts(EventExit) {
		t.Error("both must accept entry and exit")
	}
	if RuleEntry.Accepts(EventExit) {
		t.Error("entry rule must not accept exit")
	}
}

func TestViolationFilter_NormalizedLimit(t *testing.T) {
	cases := map[int]int{0: 50, -3: 50, 10: 10, 500: 500, 900: 500}
	for in, want := range cases {
		if got := (ViolationFilter{Limit: in}).NormalizedLimit(); got != want {
			t.Errorf("limit %d: got %d, want %d", in, got, want)
		}
	}
}

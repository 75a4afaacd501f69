package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smukkama/geofence-server/internal/geometry"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct tags and reports the first failure as a
// ValidationError naming the JSON field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return NewValidationError("", err.Error())
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return NewValidationError(fe.Field(), "is required")
	case "oneof":
		return NewValidationError(fe.Field(), fmt.Sprintf("must be one of [%s]", fe.Param()))
	case "max":
		return NewValidationError(fe.Field(), fmt.Sprintf("must be at most %s characters", fe.Param()))
	case "gte", "lte":
		return NewValidationError(fe.Field(), fmt.Sprintf("out of range (%s %s)", fe.Tag(), fe.Param()))
	default:
		return NewValidationError(fe.Field(), fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}

// NewGeofence is the creation request for a geofence.
type NewGeofence struct {
	Name        string           `json:"name" validate:"required,max=255"`
	Description string           `json:"description"`
	Category    GeofenceCategory `json:"category" validate:"required,oneof=delivery_zone restricted_zone toll_zone customer_area"`
	Coordinates [][2]float64     `json:"coordinates" validate:"required"`
}

func (g NewGeofence) Validate() error {
	if err := validateStruct(g); err != nil {
		return err
	}
	if err := geometry.FromPairs(g.Coordinates).Validate(); err != nil {
		return NewValidationError("coordinates", err.Error())
	}
	return nil
}

type NewVehicle struct {
	VehicleNumber string      `json:"vehicle_number" validate:"required,max=50"`
	DriverName    string      `json:"driver_name" validate:"required,max=255"`
	VehicleType   VehicleType `json:"vehicle_type" validate:"required,oneof=truck car van motorcycle"`
	Phone         string      `json:"phone" validate:"required,max=20"`
}

func (v NewVehicle) Validate() error {
	return validateStruct(v)
}

type NewAlertRule struct {
	GeofenceID string        `json:"geofence_id" validate:"required"`
	VehicleID  string        `json:"vehicle_id"`
	EventType  RuleEventType `json:"event_type" validate:"required,oneof=entry exit both"`
}

func (r NewAlertRule) Validate() error {
	return validateStruct(r)
}

// Scope converts the optional vehicle_id into a VehicleScope.
func (r NewAlertRule) Scope() VehicleScope {
	if id := strings.TrimSpace(r.VehicleID); id != "" {
		return SpecificVehicle(id)
	}
	return AllVehicles()
}

// LocationReport is a location update as reported by a client.
type LocationReport struct {
	VehicleID string  `json:"vehicle_id" validate:"required"`
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Timestamp string  `json:"timestamp"`
}

// ToUpdate validates the report. An empty timestamp means now.
func (r LocationReport) ToUpdate(now time.Time) (LocationUpdate, error) {
	if err := validateStruct(r); err != nil {
		return LocationUpdate{}, err
	}

	ts := now
	if r.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return LocationUpdate{}, NewValidationError("timestamp", "must be RFC3339")
		}
		ts = parsed
	}

	return LocationUpdate{
		VehicleID: r.VehicleID,
		Point:     geometry.Point{Lat: r.Latitude, Lon: r.Longitude},
		Timestamp: ts.UTC(),
	}, nil
}

// ValidStatus checks a status toggle request.
func ValidStatus(s Status) error {
	if s != StatusActive && s != StatusInactive {
		return NewValidationError("status", "must be one of [active inactive]")
	}
	return nil
}

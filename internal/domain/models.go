package domain

import (
	"time"

	"github.com/smukkama/geofence-server/internal/geometry"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type GeofenceCategory string

const (
	CategoryDeliveryZone   GeofenceCategory = "delivery_zone"
	CategoryRestrictedZone GeofenceCategory = "restricted_zone"
	CategoryTollZone       GeofenceCategory = "toll_zone"
	CategoryCustomerArea   GeofenceCategory = "customer_area"
)

type VehicleType string

const (
	VehicleTruck      VehicleType = "truck"
	VehicleCar        VehicleType = "car"
	VehicleVan        VehicleType = "van"
	VehicleMotorcycle VehicleType = "motorcycle"
)

// EventType is the kind of a detected transition.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// RuleEventType is what an alert rule listens for.
type RuleEventType string

const (
	RuleEntry RuleEventType = "entry"
	RuleExit  RuleEventType = "exit"
	RuleBoth  RuleEventType = "both"
)

// Accepts reports whether a rule listening for r fires on e.
func (r RuleEventType) Accepts(e EventType) bool {
	return r == RuleBoth || string(r) == string(e)
}

// Geofence is immutable after creation except for Status.
type Geofence struct {
	ID          string
	Name        string
	Description string
	Category    GeofenceCategory
	Polygon     geometry.Polygon
	Status      Status
	CreatedAt   time.Time
}

type Vehicle struct {
	ID            string
	VehicleNumber string
	DriverName    string
	VehicleType   VehicleType
	Phone         string
	Status        Status
	CreatedAt     time.Time
}

type LocationUpdate struct {
	VehicleID string
	Point     geometry.Point
	Timestamp time.Time
}

// VehicleScope says which vehicles an alert rule applies to: either all of
// them or exactly one. The zero value is AllVehicles.
type VehicleScope struct {
	vehicleID string
}

func AllVehicles() VehicleScope { return VehicleScope{} }

func SpecificVehicle(id string) VehicleScope { return VehicleScope{vehicleID: id} }

func (s VehicleScope) IsAll() bool { return s.vehicleID == "" }

// VehicleID returns the scoped vehicle, or false for AllVehicles.
func (s VehicleScope) VehicleID() (string, bool) {
	return s.vehicleID, s.vehicleID != ""
}

func (s VehicleScope) Includes(vehicleID string) bool {
	return s.IsAll() || s.vehicleID == vehicleID
}

type AlertRule struct {
	ID         string
	GeofenceID string
	Scope      VehicleScope
	EventType  RuleEventType
	Status     Status
	CreatedAt  time.Time

	// Resolved for listings only.
	GeofenceName  string
	VehicleNumber string
}

// Transition is a detected entry into or exit from one geofence.
type Transition struct {
	VehicleID  string
	GeofenceID string
	Type       EventType
	Point      geometry.Point
	Timestamp  time.Time
}

// Violation is the persisted record of a Transition. Append-only.
type Violation struct {
	ID         string
	VehicleID  string
	GeofenceID string
	EventType  EventType
	Latitude   float64
	Longitude  float64
	Timestamp  time.Time

	// Resolved on query.
	VehicleNumber string
	GeofenceName  string
}

func ViolationFromTransition(id string, tr Transition) Violation {
	return Violation{
		ID:         id,
		VehicleID:  tr.VehicleID,
		GeofenceID: tr.GeofenceID,
		EventType:  tr.Type,
		Latitude:   tr.Point.Lat,
		Longitude:  tr.Point.Lon,
		Timestamp:  tr.Timestamp,
	}
}

const (
	DefaultViolationLimit = 50
	MaxViolationLimit     = 500
)

// ViolationFilter selects from the violation log. Start is inclusive, End
// exclusive.
type ViolationFilter struct {
	VehicleID  string
	GeofenceID string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// NormalizedLimit applies the default and the upper bound.
func (f ViolationFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultViolationLimit
	case f.Limit > MaxViolationLimit:
		return MaxViolationLimit
	default:
		return f.Limit
	}
}

// ViolationPage is one page of a violation query. TotalCount ignores the
// limit.
type ViolationPage struct {
	Violations []*Violation
	TotalCount int
}

// AlertRuleFilter narrows a rule listing. Empty fields match everything; a
// vehicle filter matches rules scoped to that vehicle.
type AlertRuleFilter struct {
	GeofenceID string
	VehicleID  string
}

// Alert is derived from a Transition that matched a rule. Broadcast only.
type Alert struct {
	EventID   string           `json:"event_id"`
	RuleID    string           `json:"alert_id"`
	EventType EventType        `json:"event_type"`
	Vehicle   VehicleSnapshot  `json:"vehicle"`
	Geofence  GeofenceSnapshot `json:"geofence"`
	Location  AlertLocation    `json:"location"`
	Timestamp time.Time        `json:"timestamp"`
}

type VehicleSnapshot struct {
	VehicleID     string `json:"vehicle_id"`
	VehicleNumber string `json:"vehicle_number"`
	DriverName    string `json:"driver_name"`
}

type GeofenceSnapshot struct {
	GeofenceID   string           `json:"geofence_id"`
	GeofenceName string           `json:"geofence_name"`
	Category     GeofenceCategory `json:"category"`
}

type AlertLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

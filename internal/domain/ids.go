package domain

import "github.com/google/uuid"

// ID prefixes by entity
const (
	PrefixGeofence  = "geo_"
	PrefixVehicle   = "veh_"
	PrefixAlertRule = "alert_"
	PrefixViolation = "viol_"
	PrefixEvent     = "evt_"
)

// NewID returns prefix followed by a random UUID
func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

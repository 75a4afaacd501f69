package protocol

import (
	"encoding/json"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
)

// LocationRecord is a location update as carried on the location topic
type LocationRecord struct {
	VehicleID string  `json:"vehicle_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

// Report converts the record into the engine's input
func (r *LocationRecord) Report() domain.LocationReport {
	return domain.LocationReport{
		VehicleID: r.VehicleID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Timestamp: r.Timestamp,
	}
}

// AlertNotification is the message format on the alert topic
type AlertNotification struct {
	Type   string       `json:"type"` // GEOFENCE_ENTRY, GEOFENCE_EXIT
	Alert  domain.Alert `json:"alert"`
	SentAt time.Time    `json:"sent_at"`
}

const (
	AlertTypeEntry = "GEOFENCE_ENTRY"
	AlertTypeExit  = "GEOFENCE_EXIT"
)

// NewAlertNotification wraps an alert for the alert topic
func NewAlertNotification(alert domain.Alert, now time.Time) *AlertNotification {
	typ := AlertTypeEntry
	if alert.EventType == domain.EventExit {
		typ = AlertTypeExit
	}
	return &AlertNotification{Type: typ, Alert: alert, SentAt: now.UTC()}
}

// EncodeLocationRecord encodes a LocationRecord to JSON
func EncodeLocationRecord(rec *LocationRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeLocationRecord decodes JSON to LocationRecord
func DecodeLocationRecord(data []byte) (*LocationRecord, error) {
	var rec LocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

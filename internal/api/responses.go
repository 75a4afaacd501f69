package api

import (
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/engine"
)

type geofenceResponse struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	Coordinates [][2]float64 `json:"coordinates"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

func toGeofenceResponse(g *domain.Geofence) geofenceResponse {
	return geofenceResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Category:    string(g.Category),
		Coordinates: g.Polygon.Pairs(),
		Status:      string(g.Status),
		CreatedAt:   g.CreatedAt,
	}
}

type vehicleResponse struct {
	ID            string    `json:"id"`
	VehicleNumber string    `json:"vehicle_number"`
	DriverName    string    `json:"driver_name"`
	VehicleType   string    `json:"vehicle_type"`
	Phone         string    `json:"phone"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toVehicleResponse(v *domain.Vehicle) vehicleResponse {
	return vehicleResponse{
		ID:            v.ID,
		VehicleNumber: v.VehicleNumber,
		DriverName:    v.DriverName,
		VehicleType:   string(v.VehicleType),
		Phone:         v.Phone,
		Status:        string(v.Status),
		CreatedAt:     v.CreatedAt,
	}
}

type geofenceRefResponse struct {
	GeofenceID   string `json:"geofence_id"`
	GeofenceName string `json:"geofence_name"`
	Category     string `json:"category"`
	Status       string `json:"status"`
}

func toGeofenceRefs(refs []engine.GeofenceRef) []geofenceRefResponse {
	out := make([]geofenceRefResponse, len(refs))
	for i, r := range refs {
		out[i] = geofenceRefResponse{
			GeofenceID:   r.GeofenceID,
			GeofenceName: r.GeofenceName,
			Category:     string(r.Category),
			Status:       string(r.Status),
		}
	}
	return out
}

type transitionResponse struct {
	VehicleID  string    `json:"vehicle_id"`
	GeofenceID string    `json:"geofence_id"`
	EventType  string    `json:"event_type"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
}

func toTransitions(trs []domain.Transition) []transitionResponse {
	out := make([]transitionResponse, len(trs))
	for i, tr := range trs {
		out[i] = transitionResponse{
			VehicleID:  tr.VehicleID,
			GeofenceID: tr.GeofenceID,
			EventType:  string(tr.Type),
			Latitude:   tr.Point.Lat,
			Longitude:  tr.Point.Lon,
			Timestamp:  tr.Timestamp,
		}
	}
	return out
}

type locationResponse struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type alertRuleResponse struct {
	AlertID       string    `json:"alert_id"`
	GeofenceID    string    `json:"geofence_id"`
	GeofenceName  string    `json:"geofence_name"`
	VehicleID     string    `json:"vehicle_id,omitempty"`
	VehicleNumber string    `json:"vehicle_number,omitempty"`
	EventType     string    `json:"event_type"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

func toAlertRuleResponse(r *domain.AlertRule) alertRuleResponse {
	out := alertRuleResponse{
		AlertID:      r.ID,
		GeofenceID:   r.GeofenceID,
		GeofenceName: r.GeofenceName,
		EventType:    string(r.EventType),
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
	}
	if id, ok := r.Scope.VehicleID(); ok {
		out.VehicleID = id
		out.VehicleNumber = r.VehicleNumber
	}
	return out
}

type violationResponse struct {
	ID            string    `json:"id"`
	VehicleID     string    `json:"vehicle_id"`
	VehicleNumber string    `json:"vehicle_number"`
	GeofenceID    string    `json:"geofence_id"`
	GeofenceName  string    `json:"geofence_name"`
	EventType     string    `json:"event_type"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`
}

func toViolationResponse(v *domain.Violation) violationResponse {
	return violationResponse{
		ID:            v.ID,
		VehicleID:     v.VehicleID,
		VehicleNumber: v.VehicleNumber,
		GeofenceID:    v.GeofenceID,
		GeofenceName:  v.GeofenceName,
		EventType:     string(v.EventType),
		Latitude:      v.Latitude,
		Longitude:     v.Longitude,
		Timestamp:     v.Timestamp,
	}
}

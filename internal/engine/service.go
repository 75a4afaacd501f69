package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
	"github.com/smukkama/geofence-server/internal/state"
)

// CreateGeofence validates and stores a geofence, then refreshes the
// active snapshot
func (e *Engine) CreateGeofence(ctx context.Context, in domain.NewGeofence) (*domain.Geofence, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	g := &domain.Geofence{
		ID:          domain.NewID(domain.PrefixGeofence),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		Polygon:     geometry.FromPairs(in.Coordinates),
		Status:      domain.StatusActive,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.repo.CreateGeofence(ctx, g); err != nil {
		return nil, err
	}

	e.refreshAfterWrite(ctx)
	return g, nil
}

// ListGeofences lists geofences, optionally by category
func (e *Engine) ListGeofences(ctx context.Context, category domain.GeofenceCategory) ([]*domain.Geofence, error) {
	return e.repo.ListGeofences(ctx, category)
}

// SetGeofenceStatus activates or deactivates a geofence. With
// ExitOnDeactivate it returns the exits synthesized for vehicles that were
// inside.
func (e *Engine) SetGeofenceStatus(ctx context.Context, id string, status domain.Status) ([]domain.Transition, error) {
	if err := domain.ValidStatus(status); err != nil {
		return nil, err
	}
	g, err := e.repo.GetGeofence(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SetGeofenceStatus(ctx, id, status); err != nil {
		return nil, err
	}
	g.Status = status

	e.refreshAfterWrite(ctx)

	if status != domain.StatusInactive || !e.opts.ExitOnDeactivate {
		return nil, nil
	}
	return e.exitAll(ctx, g)
}

// exitAll synthesizes an exit for every vehicle currently inside g
func (e *Engine) exitAll(ctx context.Context, g *domain.Geofence) ([]domain.Transition, error) {
	var inside []string
	e.store.Range(func(vehicleID string, rec state.Record) bool {
		if rec.Contains(g.ID) {
			inside = append(inside, vehicleID)
		}
		return true
	})
	sort.Strings(inside)

	var (
		exits    []domain.Transition
		firstErr error
	)
	for _, vehicleID := range inside {
		tr, _, ok, err := e.detector.Exit(ctx, vehicleID, g.ID)
		if err != nil {
			log.Printf("engine: synthesize exit vehicle=%s geofence=%s err=%v", vehicleID, g.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}
		exits = append(exits, tr)

		vehicle, err := e.vehicle(ctx, vehicleID)
		if err != nil {
			log.Printf("engine: resolve vehicle=%s err=%v", vehicleID, err)
			continue
		}
		e.dispatch(ctx, vehicle, []domain.Transition{tr}, map[string]*domain.Geofence{g.ID: g})
	}
	return exits, firstErr
}

func (e *Engine) refreshAfterWrite(ctx context.Context) {
	if err := e.RefreshGeofences(ctx); err != nil {
		log.Printf("engine: refresh geofences err=%v", err)
	}
}

// CreateVehicle validates and stores a vehicle
func (e *Engine) CreateVehicle(ctx context.Context, in domain.NewVehicle) (*domain.Vehicle, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	v := &domain.Vehicle{
		ID:            domain.NewID(domain.PrefixVehicle),
		VehicleNumber: strings.TrimSpace(in.VehicleNumber),
		DriverName:    in.DriverName,
		VehicleType:   in.VehicleType,
		Phone:         in.Phone,
		Status:        domain.StatusActive,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.repo.CreateVehicle(ctx, v); err != nil {
		return nil, err
	}
	e.vehicles.Store(v.ID, v)
	return v, nil
}

// ListVehicles lists every vehicle
func (e *Engine) ListVehicles(ctx context.Context) ([]*domain.Vehicle, error) {
	return e.repo.ListVehicles(ctx)
}

// CurrentLocation is a vehicle's last known position and containment
type CurrentLocation struct {
	Vehicle   *domain.Vehicle
	Known     bool
	Latitude  float64
	Longitude float64
	Timestamp time.Time
	Geofences []GeofenceRef
}

// VehicleLocation reports where a vehicle was last seen and which
// geofences contain it
func (e *Engine) VehicleLocation(ctx context.Context, vehicleID string) (*CurrentLocation, error) {
	v, err := e.vehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	rec := e.store.Get(vehicleID)
	out := &CurrentLocation{Vehicle: v, Geofences: []GeofenceRef{}}
	if !rec.Seen {
		return out, nil
	}
	out.Known = true
	out.Latitude = rec.Location.Lat
	out.Longitude = rec.Location.Lon
	out.Timestamp = rec.Timestamp

	snap, err := e.fences.get(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range rec.Geofences {
		g, ok := snap.ByID[id]
		if !ok {
			// Deactivated since the last update.
			if g, err = e.repo.GetGeofence(ctx, id); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return nil, err
			}
		}
		out.Geofences = append(out.Geofences, refOf(g))
	}
	return out, nil
}

// CreateAlertRule validates and stores an alert rule. The geofence and,
// when given, the vehicle must exist.
func (e *Engine) CreateAlertRule(ctx context.Context, in domain.NewAlertRule) (*domain.AlertRule, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	g, err := e.repo.GetGeofence(ctx, in.GeofenceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("geofence_id", "unknown geofence")
	}
	if err != nil {
		return nil, err
	}

	r := &domain.AlertRule{
		ID:           domain.NewID(domain.PrefixAlertRule),
		GeofenceID:   g.ID,
		Scope:        in.Scope(),
		EventType:    in.EventType,
		Status:       domain.StatusActive,
		CreatedAt:    e.now().UTC(),
		GeofenceName: g.Name,
	}

	if id, ok := r.Scope.VehicleID(); ok {
		v, err := e.vehicle(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("vehicle_id", "unknown vehicle")
		}
		if err != nil {
			return nil, err
		}
		r.VehicleNumber = v.VehicleNumber
	}

	if err := e.repo.CreateAlertRule(ctx, r); err != nil {
		return nil, err
	}
	e.matcher.Invalidate(r.GeofenceID)
	return r, nil
}

// ListAlertRules lists configured rules with resolved names
func (e *Engine) ListAlertRules(ctx context.Context, f domain.AlertRuleFilter) ([]*domain.AlertRule, error) {
	return e.repo.ListAlertRules(ctx, f)
}

// SetAlertRuleStatus activates or deactivates an alert rule
func (e *Engine) SetAlertRuleStatus(ctx context.Context, id string, status domain.Status) (*domain.AlertRule, error) {
	if err := domain.ValidStatus(status); err != nil {
		return nil, err
	}
	r, err := e.repo.GetAlertRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SetAlertRuleStatus(ctx, id, status); err != nil {
		return nil, err
	}
	r.Status = status
	e.matcher.Invalidate(r.GeofenceID)
	return r, nil
}

// QueryViolations reads the violation log
func (e *Engine) QueryViolations(ctx context.Context, f domain.ViolationFilter) (*domain.ViolationPage, error) {
	return e.repo.QueryViolations(ctx, f)
}

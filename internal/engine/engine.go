// Package engine wires geometry, vehicle state, transition detection, the
// violation log, rule matching and alert delivery into one pipeline.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/smukkama/geofence-server/internal/detector"
	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/metrics"
	"github.com/smukkama/geofence-server/internal/rules"
	"github.com/smukkama/geofence-server/internal/state"
)

// Repository is the persistence the engine needs. *database.DB implements it.
type Repository interface {
	CreateGeofence(ctx context.Context, g *domain.Geofence) error
	GetGeofence(ctx context.Context, id string) (*domain.Geofence, error)
	ListGeofences(ctx context.Context, category domain.GeofenceCategory) ([]*domain.Geofence, error)
	ActiveGeofences(ctx context.Context) ([]*domain.Geofence, error)
	SetGeofenceStatus(ctx context.Context, id string, status domain.Status) error

	CreateVehicle(ctx context.Context, v *domain.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*domain.Vehicle, error)
	ListVehicles(ctx context.Context) ([]*domain.Vehicle, error)

	CreateAlertRule(ctx context.Context, r *domain.AlertRule) error
	GetAlertRule(ctx context.Context, id string) (*domain.AlertRule, error)
	ListAlertRules(ctx context.Context, f domain.AlertRuleFilter) ([]*domain.AlertRule, error)
	ActiveRulesForGeofence(ctx context.Context, geofenceID string) ([]domain.AlertRule, error)
	SetAlertRuleStatus(ctx context.Context, id string, status domain.Status) error

	AppendAll(ctx context.Context, violations []domain.Violation) error
	QueryViolations(ctx context.Context, f domain.ViolationFilter) (*domain.ViolationPage, error)
}

// AlertSink receives matched alerts. Publish must not block.
type AlertSink interface {
	Publish(alert domain.Alert) bool
}

// HistorySink receives every accepted location update. Offer must not block.
type HistorySink interface {
	Offer(update domain.LocationUpdate) bool
}

// Options configures an Engine
type Options struct {
	// ExitOnDeactivate synthesizes an exit for every vehicle inside a
	// geofence when it is deactivated.
	ExitOnDeactivate bool
	// RuleCacheValidity bounds how stale cached alert rules may be.
	RuleCacheValidity time.Duration
}

// Engine evaluates location updates and manages the entities they refer to
type Engine struct {
	repo     Repository
	store    *state.Store
	detector *detector.Detector
	matcher  *rules.Matcher
	fences   *geofenceCache
	vehicles sync.Map // vehicle_id -> *domain.Vehicle

	sinks   []AlertSink
	history HistorySink
	opts    Options
	now     func() time.Time
}

// New creates an engine. history may be nil.
func New(repo Repository, store *state.Store, history HistorySink, opts Options, sinks ...AlertSink) *Engine {
	if opts.RuleCacheValidity <= 0 {
		opts.RuleCacheValidity = time.Minute
	}
	det := detector.New(store, repo)
	det.ExitRemoved = opts.ExitOnDeactivate
	return &Engine{
		repo:     repo,
		store:    store,
		detector: det,
		matcher:  rules.NewMatcher(repo, opts.RuleCacheValidity),
		fences:   &geofenceCache{loader: repo},
		sinks:    sinks,
		history:  history,
		opts:     opts,
		now:      time.Now,
	}
}

// LocationResult is the outcome of one location update
type LocationResult struct {
	VehicleID   string
	Geofences   []GeofenceRef
	Transitions []domain.Transition
	Alerts      int
}

// GeofenceRef describes a geofence a vehicle is inside
type GeofenceRef struct {
	GeofenceID   string
	GeofenceName string
	Category     domain.GeofenceCategory
	Status       domain.Status
}

// ReportLocation validates a raw report and processes it
func (e *Engine) ReportLocation(ctx context.Context, report domain.LocationReport) (*LocationResult, error) {
	update, err := report.ToUpdate(e.now())
	if err != nil {
		return nil, err
	}
	return e.ProcessLocation(ctx, update)
}

// ProcessLocation runs an update through the pipeline. A StorageError
// means the update had no effect; alert delivery failures are never
// returned.
func (e *Engine) ProcessLocation(ctx context.Context, update domain.LocationUpdate) (*LocationResult, error) {
	metrics.LocationUpdates.Add(1)

	vehicle, err := e.vehicle(ctx, update.VehicleID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("vehicle_id", "unknown vehicle")
	}
	if err != nil {
		metrics.LocationFailures.Add(1)
		return nil, err
	}

	var snap *Snapshot
	res, err := e.detector.EvaluateWith(ctx, update, func() ([]detector.Fence, error) {
		s, err := e.fences.get(ctx)
		if err != nil {
			return nil, err
		}
		snap = s
		return s.Fences, nil
	})
	if err != nil {
		metrics.LocationFailures.Add(1)
		return nil, err
	}

	if e.history != nil {
		e.history.Offer(update)
	}

	alerts := e.dispatch(ctx, vehicle, res.Transitions, snap.ByID)

	refs := make([]GeofenceRef, 0, len(res.Containment))
	for _, id := range res.Containment {
		if g, ok := snap.ByID[id]; ok {
			refs = append(refs, refOf(g))
		}
	}

	return &LocationResult{
		VehicleID:   update.VehicleID,
		Geofences:   refs,
		Transitions: res.Transitions,
		Alerts:      alerts,
	}, nil
}

// dispatch matches transitions against rules and hands alerts to the
// sinks. It returns how many alerts were produced.
func (e *Engine) dispatch(ctx context.Context, vehicle *domain.Vehicle, transitions []domain.Transition, geofences map[string]*domain.Geofence) int {
	metrics.Transitions.Add(int64(len(transitions)))
	metrics.ViolationsRecorded.Add(int64(len(transitions)))

	n := 0
	for _, tr := range transitions {
		matched, err := e.matcher.Match(ctx, tr)
		if err != nil {
			log.Printf("engine: rule match vehicle=%s geofence=%s err=%v", tr.VehicleID, tr.GeofenceID, err)
			continue
		}
		if len(matched) == 0 {
			continue
		}

		g := geofences[tr.GeofenceID]
		if g == nil {
			if g, err = e.repo.GetGeofence(ctx, tr.GeofenceID); err != nil {
				log.Printf("engine: resolve geofence=%s err=%v", tr.GeofenceID, err)
				continue
			}
		}

		for _, rule := range matched {
			alert := newAlert(rule, tr, vehicle, g)
			for _, sink := range e.sinks {
				sink.Publish(alert)
			}
			n++
		}
	}
	metrics.AlertsMatched.Add(int64(n))
	return n
}

func newAlert(rule domain.AlertRule, tr domain.Transition, v *domain.Vehicle, g *domain.Geofence) domain.Alert {
	return domain.Alert{
		EventID:   domain.NewID(domain.PrefixEvent),
		RuleID:    rule.ID,
		EventType: tr.Type,
		Vehicle: domain.VehicleSnapshot{
			VehicleID:     v.ID,
			VehicleNumber: v.VehicleNumber,
			DriverName:    v.DriverName,
		},
		Geofence: domain.GeofenceSnapshot{
			GeofenceID:   g.ID,
			GeofenceName: g.Name,
			Category:     g.Category,
		},
		Location: domain.AlertLocation{
			Latitude:  tr.Point.Lat,
			Longitude: tr.Point.Lon,
		},
		Timestamp: tr.Timestamp,
	}
}

func refOf(g *domain.Geofence) GeofenceRef {
	return GeofenceRef{
		GeofenceID:   g.ID,
		GeofenceName: g.Name,
		Category:     g.Category,
		Status:       g.Status,
	}
}

// Vehicle returns a registered vehicle. An unknown id is ErrNotFound.
func (e *Engine) Vehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	return e.vehicle(ctx, id)
}

func (e *Engine) vehicle(ctx context.Context, id string) (*domain.Vehicle, error) {
	if v, ok := e.vehicles.Load(id); ok {
		return v.(*domain.Vehicle), nil
	}
	v, err := e.repo.GetVehicle(ctx, id)
	if err != nil {
		return nil, err
	}
	e.vehicles.Store(id, v)
	return v, nil
}

// RefreshGeofences reloads the active geofence snapshot
func (e *Engine) RefreshGeofences(ctx context.Context) error {
	_, err := e.fences.refresh(ctx)
	return err
}

// Snapshot returns the current active geofence snapshot
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	return e.fences.get(ctx)
}

// InvalidateRules drops cached alert rules
func (e *Engine) InvalidateRules() {
	e.matcher.Invalidate("")
}

// Preload restores vehicle state from the mirror and loads the first
// geofence snapshot
func (e *Engine) Preload(ctx context.Context) error {
	n, err := e.store.Preload(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("engine: restored state vehicles=%d", n)
	}
	return e.RefreshGeofences(ctx)
}

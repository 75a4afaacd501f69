// Package detector turns consecutive containment sets into entry and exit
// transitions and commits them together with the new vehicle state.
package detector

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
	"github.com/smukkama/geofence-server/internal/state"
)

// Fence is an active geofence as seen by the detector
type Fence struct {
	ID    string
	Shape geometry.Shape
}

// ViolationLog persists violations. AppendAll must be all-or-nothing.
type ViolationLog interface {
	AppendAll(ctx context.Context, violations []domain.Violation) error
}

// Result is the outcome of one evaluation
type Result struct {
	Containment []string
	Transitions []domain.Transition
	Violations  []domain.Violation
}

// Detector evaluates location updates against the active geofences.
// With ExitRemoved set, a geofence that left the active set while the
// vehicle was inside produces an exit instead of being dropped.
type Detector struct {
	ExitRemoved bool

	store *state.Store
	log   ViolationLog
	newID func() string
}

// New creates a detector
func New(store *state.Store, violations ViolationLog) *Detector {
	return &Detector{
		store: store,
		log:   violations,
		newID: func() string { return domain.NewID(domain.PrefixViolation) },
	}
}

// Containment returns the sorted ids of the fences that contain p
func Containment(p geometry.Point, fences []Fence) []string {
	ids := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for _, f := range fences {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		if f.Shape.Contains(p) {
			ids = append(ids, f.ID)
			seen[f.ID] = struct{}{}
		}
	}
	sort.Strings(ids)
	return ids
}

// Diff compares two containment sets. Geofences in prev that are not in
// active are dropped without an exit; a nil active exits them all. Both
// results are sorted.
func Diff(prev, next []string, active map[string]struct{}) (entries, exits []string) {
	prevSet := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		prevSet[id] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, id := range next {
		nextSet[id] = struct{}{}
	}

	for id := range nextSet {
		if _, ok := prevSet[id]; !ok {
			entries = append(entries, id)
		}
	}
	for id := range prevSet {
		if _, ok := nextSet[id]; ok {
			continue
		}
		if _, ok := active[id]; active != nil && !ok {
			continue
		}
		exits = append(exits, id)
	}

	sort.Strings(entries)
	sort.Strings(exits)
	return entries, exits
}

// Evaluate runs one update through the detector against a fixed fence
// list. See EvaluateWith.
func (d *Detector) Evaluate(ctx context.Context, update domain.LocationUpdate, fences []Fence) (Result, error) {
	return d.EvaluateWith(ctx, update, func() ([]Fence, error) { return fences, nil })
}

// EvaluateWith runs one update through the detector. With the vehicle
// locked it loads the active fences, computes the new containment set,
// diffs it against the old one, commits the new state and appends one
// violation per transition. If the append fails the previous state is
// restored and a StorageError is returned, so the update has no effect.
//
// load runs under the vehicle lock, so an update never commits against
// fences older than a deactivation sweep that has already visited it.
//
// Transitions are ordered entries first, then exits, each sorted by
// geofence id.
func (d *Detector) EvaluateWith(ctx context.Context, update domain.LocationUpdate, load func() ([]Fence, error)) (Result, error) {
	var res Result
	err := d.store.WithVehicle(update.VehicleID, func(tx *state.Tx) error {
		fences, err := load()
		if err != nil {
			return err
		}
		next := Containment(update.Point, fences)

		var active map[string]struct{}
		if !d.ExitRemoved {
			active = make(map[string]struct{}, len(fences))
			for _, f := range fences {
				active[f.ID] = struct{}{}
			}
		}

		prev := tx.Record()
		entries, exits := Diff(prev.Geofences, next, active)

		transitions := make([]domain.Transition, 0, len(entries)+len(exits))
		for _, id := range entries {
			transitions = append(transitions, d.transition(update, id, domain.EventEntry))
		}
		for _, id := range exits {
			transitions = append(transitions, d.transition(update, id, domain.EventExit))
		}

		if err := tx.Commit(ctx, next, update); err != nil {
			return err
		}

		violations, err := d.append(ctx, transitions)
		if err != nil {
			if rerr := tx.Restore(ctx, prev); rerr != nil {
				log.Printf("detector: restore state vehicle=%s err=%v", update.VehicleID, rerr)
			}
			return err
		}

		res = Result{Containment: next, Transitions: transitions, Violations: violations}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Exit removes geofenceID from the vehicle's containment set and records an
// exit at the vehicle's last known location. It returns false when the
// vehicle was not inside the geofence.
func (d *Detector) Exit(ctx context.Context, vehicleID, geofenceID string) (domain.Transition, domain.Violation, bool, error) {
	var (
		tr   domain.Transition
		viol domain.Violation
		hit  bool
	)

	err := d.store.WithVehicle(vehicleID, func(tx *state.Tx) error {
		prev := tx.Record()
		if !prev.Seen || !prev.Contains(geofenceID) {
			return nil
		}

		remaining := make([]string, 0, len(prev.Geofences)-1)
		for _, id := range prev.Geofences {
			if id != geofenceID {
				remaining = append(remaining, id)
			}
		}

		last := domain.LocationUpdate{VehicleID: vehicleID, Point: prev.Location, Timestamp: prev.Timestamp}
		if err := tx.Commit(ctx, remaining, last); err != nil {
			return err
		}

		t := d.transition(last, geofenceID, domain.EventExit)
		violations, err := d.append(ctx, []domain.Transition{t})
		if err != nil {
			if rerr := tx.Restore(ctx, prev); rerr != nil {
				log.Printf("detector: restore state vehicle=%s err=%v", vehicleID, rerr)
			}
			return err
		}

		tr, viol, hit = t, violations[0], true
		return nil
	})
	if err != nil {
		return domain.Transition{}, domain.Violation{}, false, err
	}
	return tr, viol, hit, nil
}

func (d *Detector) transition(update domain.LocationUpdate, geofenceID string, typ domain.EventType) domain.Transition {
	return domain.Transition{
		VehicleID:  update.VehicleID,
		GeofenceID: geofenceID,
		Type:       typ,
		Point:      update.Point,
		Timestamp:  update.Timestamp,
	}
}

func (d *Detector) append(ctx context.Context, transitions []domain.Transition) ([]domain.Violation, error) {
	if len(transitions) == 0 {
		return nil, nil
	}

	violations := make([]domain.Violation, len(transitions))
	for i, tr := range transitions {
		violations[i] = domain.ViolationFromTransition(d.newID(), tr)
	}

	if err := d.log.AppendAll(ctx, violations); err != nil {
		if domain.IsStorage(err) {
			return nil, err
		}
		return nil, domain.NewStorageError("append violations", fmt.Errorf("%d violations: %w", len(violations), err))
	}
	return violations, nil
}

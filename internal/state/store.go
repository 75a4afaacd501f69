package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
)

// Record is the runtime state of one vehicle: where it was last seen and
// which geofences contained it there.
type Record struct {
	Seen      bool
	Location  geometry.Point
	Timestamp time.Time
	Geofences []string
	UpdatedAt time.Time
}

// Contains reports whether the record lists geofenceID.
func (r Record) Contains(geofenceID string) bool {
	i := sort.SearchStrings(r.Geofences, geofenceID)
	return i < len(r.Geofences) && r.Geofences[i] == geofenceID
}

// ContainmentSet returns the geofence ids as a set.
func (r Record) ContainmentSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.Geofences))
	for _, id := range r.Geofences {
		set[id] = struct{}{}
	}
	return set
}

func (r Record) clone() Record {
	out := r
	out.Geofences = append([]string(nil), r.Geofences...)
	return out
}

// normalizeSet sorts ids and removes duplicates.
func normalizeSet(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// Mirror durably copies committed records. Save failures abort the commit.
type Mirror interface {
	Save(ctx context.Context, vehicleID string, rec Record) error
	Delete(ctx context.Context, vehicleID string) error
	Load(ctx context.Context) (map[string]Record, error)
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Store holds one record per vehicle. Each record has its own lock so
// updates for different vehicles never contend.
type Store struct {
	entries sync.Map // vehicle_id -> *entry
	mirror  Mirror
	now     func() time.Time
}

// NewStore creates a store. mirror may be nil.
func NewStore(mirror Mirror) *Store {
	return &Store{mirror: mirror, now: time.Now}
}

func (s *Store) entry(vehicleID string) *entry {
	if e, ok := s.entries.Load(vehicleID); ok {
		return e.(*entry)
	}
	e, _ := s.entries.LoadOrStore(vehicleID, &entry{})
	return e.(*entry)
}

// Preload fills the store from the mirror. Call before serving traffic.
func (s *Store) Preload(ctx context.Context) (int, error) {
	if s.mirror == nil {
		return 0, nil
	}
	recs, err := s.mirror.Load(ctx)
	if err != nil {
		return 0, domain.NewStorageError("load vehicle state", err)
	}
	for id, rec := range recs {
		rec.Geofences = normalizeSet(rec.Geofences)
		e := s.entry(id)
		e.mu.Lock()
		e.rec = rec
		e.mu.Unlock()
	}
	return len(recs), nil
}

// Get returns a copy of the vehicle's record. Unseen vehicles return the
// zero Record.
func (s *Store) Get(vehicleID string) Record {
	v, ok := s.entries.Load(vehicleID)
	if !ok {
		return Record{}
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone()
}

// GetContainment returns the geofence ids currently containing the vehicle.
func (s *Store) GetContainment(vehicleID string) []string {
	return s.Get(vehicleID).Geofences
}

// SetContainment replaces the vehicle's containment set and last location.
func (s *Store) SetContainment(ctx context.Context, vehicleID string, geofences []string, loc domain.LocationUpdate) error {
	return s.WithVehicle(vehicleID, func(tx *Tx) error {
		return tx.Commit(ctx, geofences, loc)
	})
}

// WithVehicle runs fn while holding the vehicle's lock. Everything fn does
// through tx is atomic with respect to other updates for the same vehicle.
func (s *Store) WithVehicle(vehicleID string, fn func(tx *Tx) error) error {
	e := s.entry(vehicleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	return fn(&Tx{store: s, vehicleID: vehicleID, e: e})
}

// Range calls fn with a copy of every seen record until fn returns false.
func (s *Store) Range(fn func(vehicleID string, rec Record) bool) {
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		rec := e.rec.clone()
		e.mu.Unlock()
		if !rec.Seen {
			return true
		}
		return fn(k.(string), rec)
	})
}

// Len returns the number of vehicles with state.
func (s *Store) Len() int {
	n := 0
	s.Range(func(string, Record) bool {
		n++
		return true
	})
	return n
}

// Tx is a locked view of one vehicle's record. It is only valid inside the
// WithVehicle callback that created it.
type Tx struct {
	store     *Store
	vehicleID string
	e         *entry
}

// Record returns a copy of the current record.
func (tx *Tx) Record() Record {
	return tx.e.rec.clone()
}

// Commit persists the new containment set and location. The mirror is
// written first; if it fails the in-memory record is left unchanged.
func (tx *Tx) Commit(ctx context.Context, geofences []string, loc domain.LocationUpdate) error {
	rec := Record{
		Seen:      true,
		Location:  loc.Point,
		Timestamp: loc.Timestamp,
		Geofences: normalizeSet(geofences),
		UpdatedAt: tx.store.now(),
	}
	if err := tx.save(ctx, rec); err != nil {
		return err
	}
	tx.e.rec = rec
	return nil
}

// Restore puts back a record captured earlier with Record. The mirror write
// is attempted but the in-memory record is restored regardless.
func (tx *Tx) Restore(ctx context.Context, rec Record) error {
	rec = rec.clone()
	tx.e.rec = rec
	if !rec.Seen {
		if tx.store.mirror == nil {
			return nil
		}
		if err := tx.store.mirror.Delete(ctx, tx.vehicleID); err != nil {
			return domain.NewStorageError("delete vehicle state", err)
		}
		return nil
	}
	return tx.save(ctx, rec)
}

func (tx *Tx) save(ctx context.Context, rec Record) error {
	if tx.store.mirror == nil {
		return nil
	}
	if err := tx.store.mirror.Save(ctx, tx.vehicleID, rec); err != nil {
		return domain.NewStorageError("save vehicle state", fmt.Errorf("vehicle %s: %w", tx.vehicleID, err))
	}
	return nil
}

package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
)

type fakeMirror struct {
	mu      sync.Mutex
	saved   map[string]Record
	deleted []string
	failErr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{saved: make(map[string]Record)}
}

func (f *fakeMirror) Save(_ context.Context, vehicleID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.saved[vehicleID] = rec
	return nil
}

func (f *fakeMirror) Delete(_ context.Context, vehicleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, vehicleID)
	f.deleted = append(f.deleted, vehicleID)
	return nil
}

func (f *fakeMirror) Load(context.Context) (map[string]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]Record, len(f.saved))
	for k, v := range f.saved {
		out[k] = v
	}
	return out, nil
}

func update(vehicleID string, lat, lon float64) domain.LocationUpdate {
	return domain.LocationUpdate{
		VehicleID: vehicleID,
		Point:     geometry.Point{Lat: lat, Lon: lon},
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStore_UnseenVehicle(t *testing.T) {
	s := NewStore(nil)

	if got := s.GetContainment("veh_none"); len(got) != 0 {
		t.Errorf("expected empty containment, got %v", got)
	}
	if s.Get("veh_none").Seen {
		t.Error("unseen vehicle reported as seen")
	}
	if s.Len() != 0 {
		t.Errorf("expected 0 vehicles, got %d", s.Len())
	}
}

func TestStore_SetContainmentNormalizes(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	if err := s.SetContainment(ctx, "veh_1", []string{"geo_b", "geo_a", "geo_b"}, update("veh_1", 1, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := s.Get("veh_1")
	if len(rec.Geofences) != 2 || rec.Geofences[0] != "geo_a" || rec.Geofences[1] != "geo_b" {
		t.Errorf("expected [geo_a geo_b], got %v", rec.Geofences)
	}
	if !rec.Contains("geo_b") || rec.Contains("geo_c") {
		t.Error("Contains mismatch")
	}
	if rec.Location.Lat != 1 || rec.Location.Lon != 2 {
		t.Errorf("unexpected location %v", rec.Location)
	}

	rec.Geofences[0] = "mutated"
	if s.GetContainment("veh_1")[0] != "geo_a" {
		t.Error("Get must return a copy")
	}
}

func TestStore_MirrorFailureLeavesRecord(t *testing.T) {
	m := newFakeMirror()
	s := NewStore(m)
	ctx := context.Background()

	if err := s.SetContainment(ctx, "veh_1", []string{"geo_a"}, update("veh_1", 1, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.failErr = errors.New("connection refused")
	err := s.SetContainment(ctx, "veh_1", nil, update("veh_1", 5, 5))
	if !domain.IsStorage(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	if got := s.GetContainment("veh_1"); len(got) != 1 || got[0] != "geo_a" {
		t.Errorf("record changed after failed commit: %v", got)
	}
}

func TestTx_RestoreUnseenDeletesMirror(t *testing.T) {
	m := newFakeMirror()
	s := NewStore(m)
	ctx := context.Background()

	err := s.WithVehicle("veh_1", func(tx *Tx) error {
		prev := tx.Record()
		if err := tx.Commit(ctx, []string{"geo_a"}, update("veh_1", 1, 1)); err != nil {
			return err
		}
		return tx.Restore(ctx, prev)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Get("veh_1").Seen {
		t.Error("expected record to be restored to unseen")
	}
	if len(m.deleted) != 1 || m.deleted[0] != "veh_1" {
		t.Errorf("expected mirror delete for veh_1, got %v", m.deleted)
	}
}

func TestStore_ConcurrentSameVehicle(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = s.WithVehicle("veh_1", func(tx *Tx) error {
				// Each commit adds one id to what the previous commit wrote.
				n := len(tx.Record().Geofences) + 1
				ids := make([]string, 0, n)
				for j := 0; j < n; j++ {
					ids = append(ids, string(rune('a'+j%26))+string(rune('a'+j/26)))
				}
				return tx.Commit(ctx, ids, update("veh_1", 0, 0))
			})
		}()
	}
	wg.Wait()

	if got := len(s.GetContainment("veh_1")); got != workers {
		t.Errorf("expected %d ids, got %d (lost update)", workers, got)
	}
}

func TestStore_PreloadAndRange(t *testing.T) {
	m := newFakeMirror()
	m.saved["veh_1"] = Record{Seen: true, Geofences: []string{"geo_b", "geo_a"}}
	m.saved["veh_2"] = Record{Seen: true}

	s := NewStore(m)
	n, err := s.Preload(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
	if got := s.GetContainment("veh_1"); got[0] != "geo_a" {
		t.Errorf("expected preload to sort, got %v", got)
	}

	seen := map[string]bool{}
	s.Range(func(id string, _ Record) bool {
		seen[id] = true
		return true
	})
	if !seen["veh_1"] || !seen["veh_2"] {
		t.Errorf("Range missed vehicles: %v", seen)
	}
}

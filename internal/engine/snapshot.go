package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smukkama/geofence-server/internal/detector"
	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
)

// Snapshot is an immutable view of the active geofences
type Snapshot struct {
	Fences   []detector.Fence
	ByID     map[string]*domain.Geofence
	LoadedAt time.Time
}

// NewSnapshot builds a snapshot from active geofences
func NewSnapshot(geofences []*domain.Geofence, now time.Time) *Snapshot {
	s := &Snapshot{
		Fences:   make([]detector.Fence, 0, len(geofences)),
		ByID:     make(map[string]*domain.Geofence, len(geofences)),
		LoadedAt: now,
	}
	for _, g := range geofences {
		if g.Status != domain.StatusActive {
			continue
		}
		s.Fences = append(s.Fences, detector.Fence{ID: g.ID, Shape: geometry.NewShape(g.Polygon)})
		s.ByID[g.ID] = g
	}
	return s
}

type activeLoader interface {
	ActiveGeofences(ctx context.Context) ([]*domain.Geofence, error)
}

// geofenceCache hands out the current snapshot without locking. Refreshes
// are serialized.
type geofenceCache struct {
	loader  activeLoader
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

func (c *geofenceCache) get(ctx context.Context) (*Snapshot, error) {
	if s := c.current.Load(); s != nil {
		return s, nil
	}
	return c.refresh(ctx)
}

func (c *geofenceCache) refresh(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	geofences, err := c.loader.ActiveGeofences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active geofences: %w", err)
	}
	s := NewSnapshot(geofences, time.Now())
	c.current.Store(s)
	return s, nil
}

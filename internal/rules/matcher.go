package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smukkama/geofence-server/internal/domain"
)

// Source loads active alert rules for a geofence
type Source interface {
	ActiveRulesForGeofence(ctx context.Context, geofenceID string) ([]domain.AlertRule, error)
}

type cacheEntry struct {
	rules    []domain.AlertRule
	loadedAt time.Time
}

// Matcher matches transitions against alert rules. Rules are read through
// a per-geofence cache that expires after the configured validity.
type Matcher struct {
	source        Source
	cacheValidity time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
	gen   map[string]uint64 // bumped by Invalidate
	epoch uint64            // bumped by Invalidate("")
	now   func() time.Time
}

// NewMatcher creates a new rule matcher
func NewMatcher(source Source, cacheValidity time.Duration) *Matcher {
	return &Matcher{
		source:        source,
		cacheValidity: cacheValidity,
		cache:         make(map[string]cacheEntry),
		gen:           make(map[string]uint64),
		now:           time.Now,
	}
}

// Matches reports whether rule fires for tr
func Matches(rule domain.AlertRule, tr domain.Transition) bool {
	return rule.Status == domain.StatusActive &&
		rule.GeofenceID == tr.GeofenceID &&
		rule.Scope.Includes(tr.VehicleID) &&
		rule.EventType.Accepts(tr.Type)
}

// Match returns every rule that fires for tr, in rule order
func (m *Matcher) Match(ctx context.Context, tr domain.Transition) ([]domain.AlertRule, error) {
	rules, err := m.rulesFor(ctx, tr.GeofenceID)
	if err != nil {
		return nil, err
	}

	var matched []domain.AlertRule
	for _, r := range rules {
		if Matches(r, tr) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// Invalidate drops the cached rules for geofenceID, or every geofence when
// geofenceID is empty
func (m *Matcher) Invalidate(geofenceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if geofenceID == "" {
		m.cache = make(map[string]cacheEntry)
		m.epoch++
		return
	}
	delete(m.cache, geofenceID)
	m.gen[geofenceID]++
}

func (m *Matcher) rulesFor(ctx context.Context, geofenceID string) ([]domain.AlertRule, error) {
	m.mu.RLock()
	entry, ok := m.cache[geofenceID]
	gen, epoch := m.gen[geofenceID], m.epoch
	m.mu.RUnlock()

	if ok && m.now().Sub(entry.loadedAt) < m.cacheValidity {
		return entry.rules, nil
	}

	rules, err := m.source.ActiveRulesForGeofence(ctx, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for %s: %w", geofenceID, err)
	}

	// An Invalidate during the load means rules may already be stale; use
	// them for this match but do not cache them.
	m.mu.Lock()
	if m.gen[geofenceID] == gen && m.epoch == epoch {
		m.cache[geofenceID] = cacheEntry{rules: rules, loadedAt: m.now()}
	}
	m.mu.Unlock()

	return rules, nil
}

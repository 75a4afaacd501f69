package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/geofence-server/internal/geometry"
)

const (
	stateKeyPrefix = "vehicle_state:"
	positionsKey   = "vehicle_positions"
)

// storedRecord is the JSON form of a Record in Redis
type storedRecord struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Geofences []string  `json:"geofences"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisMirror keeps vehicle state in Redis so it survives restarts
type RedisMirror struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisMirror creates a new Redis-backed mirror. A zero ttl keeps keys forever.
func NewRedisMirror(redisClient *redis.Client, ttl time.Duration) *RedisMirror {
	return &RedisMirror{redis: redisClient, ttl: ttl}
}

func stateKey(vehicleID string) string {
	return stateKeyPrefix + vehicleID
}

// Save writes the record and the live position in one MULTI/EXEC
func (m *RedisMirror) Save(ctx context.Context, vehicleID string, rec Record) error {
	data, err := json.Marshal(storedRecord{
		Latitude:  rec.Location.Lat,
		Longitude: rec.Location.Lon,
		Timestamp: rec.Timestamp,
		Geofences: rec.Geofences,
		UpdatedAt: rec.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(vehicleID), data, m.ttl)
		pipe.GeoAdd(ctx, positionsKey, &redis.GeoLocation{
			Name:      vehicleID,
			Longitude: rec.Location.Lon,
			Latitude:  rec.Location.Lat,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

// Delete removes a vehicle's record and position
func (m *RedisMirror) Delete(ctx context.Context, vehicleID string) error {
	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, stateKey(vehicleID))
		pipe.ZRem(ctx, positionsKey, vehicleID)
		return nil
	})
	return err
}

// Load returns every stored record keyed by vehicle id
func (m *RedisMirror) Load(ctx context.Context) (map[string]Record, error) {
	recs := make(map[string]Record)

	iter := m.redis.Scan(ctx, 0, stateKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := m.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get state from Redis: %w", err)
		}

		var sr storedRecord
		if err := json.Unmarshal([]byte(data), &sr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state %s: %w", key, err)
		}

		recs[strings.TrimPrefix(key, stateKeyPrefix)] = Record{
			Seen:      true,
			Location:  geometry.Point{Lat: sr.Latitude, Lon: sr.Longitude},
			Timestamp: sr.Timestamp,
			Geofences: sr.Geofences,
			UpdatedAt: sr.UpdatedAt,
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan vehicle state: %w", err)
	}

	return recs, nil
}

// Nearby returns vehicle ids last seen within radiusKm of p, closest first
func (m *RedisMirror) Nearby(ctx context.Context, p geometry.Point, radiusKm float64) ([]string, error) {
	locs, err := m.redis.GeoRadius(ctx, positionsKey, p.Lon, p.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search positions: %w", err)
	}

	ids := make([]string, 0, len(locs))
	for _, loc := range locs {
		ids = append(ids, loc.Name)
	}
	return ids, nil
}

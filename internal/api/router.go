// Package api exposes the geofence engine over HTTP and streams alerts over
// a websocket.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smukkama/geofence-server/internal/broadcast"
	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/engine"
	"github.com/smukkama/geofence-server/internal/geometry"
	"github.com/smukkama/geofence-server/internal/metrics"
)

// Service is the engine surface the handlers use. *engine.Engine implements it.
type Service interface {
	CreateGeofence(ctx context.Context, in domain.NewGeofence) (*domain.Geofence, error)
	ListGeofences(ctx context.Context, category domain.GeofenceCategory) ([]*domain.Geofence, error)
	SetGeofenceStatus(ctx context.Context, id string, status domain.Status) ([]domain.Transition, error)

	CreateVehicle(ctx context.Context, in domain.NewVehicle) (*domain.Vehicle, error)
	ListVehicles(ctx context.Context) ([]*domain.Vehicle, error)
	ReportLocation(ctx context.Context, report domain.LocationReport) (*engine.LocationResult, error)
	VehicleLocation(ctx context.Context, vehicleID string) (*engine.CurrentLocation, error)

	CreateAlertRule(ctx context.Context, in domain.NewAlertRule) (*domain.AlertRule, error)
	ListAlertRules(ctx context.Context, f domain.AlertRuleFilter) ([]*domain.AlertRule, error)
	SetAlertRuleStatus(ctx context.Context, id string, status domain.Status) (*domain.AlertRule, error)

	QueryViolations(ctx context.Context, f domain.ViolationFilter) (*domain.ViolationPage, error)
}

// Subscriber hands out alert subscriptions. *broadcast.Hub implements it.
type Subscriber interface {
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

// Locator finds vehicles near a point. *state.RedisMirror implements it.
type Locator interface {
	Nearby(ctx context.Context, p geometry.Point, radiusKm float64) ([]string, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Handler serves every HTTP route
type Handler struct {
	svc     Service
	alerts  Subscriber
	locator Locator
	health  map[string]HealthCheck
}

// NewHandler creates a handler. locator may be nil, in which case
// /vehicles/nearby is not registered.
func NewHandler(svc Service, alerts Subscriber, locator Locator, health map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, alerts: alerts, locator: locator, health: health}
}

// Register mounts the routes on r
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/geofences", h.CreateGeofence)
	r.GET("/geofences", h.ListGeofences)
	r.PATCH("/geofences/:id/status", h.SetGeofenceStatus)

	r.POST("/vehicles", h.CreateVehicle)
	r.GET("/vehicles", h.ListVehicles)
	r.POST("/vehicles/location", h.ReportLocation)
	r.GET("/vehicles/location/:vehicle_id", h.VehicleLocation)
	if h.locator != nil {
		r.GET("/vehicles/nearby", h.NearbyVehicles)
	}

	r.POST("/alerts/configure", h.CreateAlertRule)
	r.GET("/alerts", h.ListAlertRules)
	r.PATCH("/alerts/:alert_id/status", h.SetAlertRuleStatus)

	r.GET("/violations/history", h.ViolationHistory)

	r.GET("/ws/alerts", h.StreamAlerts)

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", h.Metrics)
}

// NewRouter builds a gin engine with recovery, request logging and every route
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.Register(r)
	return r
}

const startKey = "request_start"

// requestLogger records the request start for time_ns and logs one line
// per request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(startKey, start)

		c.Next()

		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/healthz" {
			return
		}
		log.Printf("http: method=%s path=%s status=%d bytes=%d dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.Writer.Size(), time.Since(start))
	}
}

// Healthz pings every registered dependency
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}

	for name, check := range h.health {
		if err := check(c.Request.Context()); err != nil {
			deps[name] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = gin.H{"status": "up"}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}

// Metrics renders the process counters
func (h *Handler) Metrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.Status(http.StatusOK)
	metrics.Write(c.Writer)
}

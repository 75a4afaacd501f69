package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smukkama/geofence-server/internal/domain"
	"github.com/smukkama/geofence-server/internal/geometry"
)

func (h *Handler) CreateGeofence(c *gin.Context) {
	var req domain.NewGeofence
	if !bindJSON(c, &req) {
		return
	}

	g, err := h.svc.CreateGeofence(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusCreated, gin.H{
		"id":     g.ID,
		"name":   g.Name,
		"status": g.Status,
	})
}

func (h *Handler) ListGeofences(c *gin.Context) {
	category := domain.GeofenceCategory(c.Query("category"))

	geofences, err := h.svc.ListGeofences(c.Request.Context(), category)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]geofenceResponse, len(geofences))
	for i, g := range geofences {
		out[i] = toGeofenceResponse(g)
	}
	respond(c, http.StatusOK, gin.H{"geofences": out})
}

func (h *Handler) SetGeofenceStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	id := c.Param("id")
	exits, err := h.svc.SetGeofenceStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"id":     id,
		"status": req.Status,
		"exits":  toTransitions(exits),
	})
}

func (h *Handler) CreateVehicle(c *gin.Context) {
	var req domain.NewVehicle
	if !bindJSON(c, &req) {
		return
	}

	v, err := h.svc.CreateVehicle(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusCreated, gin.H{
		"id":             v.ID,
		"vehicle_number": v.VehicleNumber,
		"status":         v.Status,
	})
}

func (h *Handler) ListVehicles(c *gin.Context) {
	vehicles, err := h.svc.ListVehicles(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]vehicleResponse, len(vehicles))
	for i, v := range vehicles {
		out[i] = toVehicleResponse(v)
	}
	respond(c, http.StatusOK, gin.H{"vehicles": out})
}

// ReportLocation runs one update through the evaluation pipeline
func (h *Handler) ReportLocation(c *gin.Context) {
	var req domain.LocationReport
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.svc.ReportLocation(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"vehicle_id":        res.VehicleID,
		"location_updated":  true,
		"current_geofences": toGeofenceRefs(res.Geofences),
		"transitions":       toTransitions(res.Transitions),
	})
}

func (h *Handler) VehicleLocation(c *gin.Context) {
	loc, err := h.svc.VehicleLocation(c.Request.Context(), c.Param("vehicle_id"))
	if err != nil {
		fail(c, err)
		return
	}

	var current *locationResponse
	if loc.Known {
		current = &locationResponse{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Timestamp: loc.Timestamp,
		}
	}

	respond(c, http.StatusOK, gin.H{
		"vehicle_id":        loc.Vehicle.ID,
		"vehicle_number":    loc.Vehicle.VehicleNumber,
		"current_location":  current,
		"current_geofences": toGeofenceRefs(loc.Geofences),
	})
}

// NearbyVehicles lists vehicles whose last position is within radius_km
func (h *Handler) NearbyVehicles(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("latitude"), 64)
	if err != nil {
		badRequest(c, "invalid latitude parameter")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("longitude"), 64)
	if err != nil {
		badRequest(c, "invalid longitude parameter")
		return
	}
	radius := 1.0
	if s := c.Query("radius_km"); s != "" {
		if radius, err = strconv.ParseFloat(s, 64); err != nil || radius <= 0 {
			badRequest(c, "invalid radius_km parameter")
			return
		}
	}

	p := geometry.Point{Lat: lat, Lon: lon}
	if !geometry.ValidPoint(p) {
		badRequest(c, "coordinates out of range")
		return
	}

	ids, err := h.locator.Nearby(c.Request.Context(), p, radius)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"vehicle_ids": ids})
}

func (h *Handler) CreateAlertRule(c *gin.Context) {
	var req domain.NewAlertRule
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.svc.CreateAlertRule(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	vehicleID, _ := r.Scope.VehicleID()
	respond(c, http.StatusCreated, gin.H{
		"alert_id":    r.ID,
		"geofence_id": r.GeofenceID,
		"vehicle_id":  vehicleID,
		"event_type":  r.EventType,
		"status":      r.Status,
	})
}

func (h *Handler) ListAlertRules(c *gin.Context) {
	filter := domain.AlertRuleFilter{
		GeofenceID: c.Query("geofence_id"),
		VehicleID:  c.Query("vehicle_id"),
	}

	rules, err := h.svc.ListAlertRules(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]alertRuleResponse, len(rules))
	for i, r := range rules {
		out[i] = toAlertRuleResponse(r)
	}
	respond(c, http.StatusOK, gin.H{"alerts": out})
}

func (h *Handler) SetAlertRuleStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	r, err := h.svc.SetAlertRuleStatus(c.Request.Context(), c.Param("alert_id"), req.Status)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"alert_id": r.ID,
		"status":   r.Status,
	})
}

// ViolationHistory queries the violation log, newest first
func (h *Handler) ViolationHistory(c *gin.Context) {
	start, err := parseDate(c.Query("start_date"))
	if err != nil {
		badRequest(c, "invalid start_date parameter")
		return
	}
	end, err := parseDate(c.Query("end_date"))
	if err != nil {
		badRequest(c, "invalid end_date parameter")
		return
	}

	filter := domain.ViolationFilter{
		VehicleID:  c.Query("vehicle_id"),
		GeofenceID: c.Query("geofence_id"),
		Start:      start,
		End:        end,
		Limit:      parseLimit(c.Query("limit")),
	}

	page, err := h.svc.QueryViolations(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]violationResponse, len(page.Violations))
	for i, v := range page.Violations {
		out[i] = toViolationResponse(v)
	}
	respond(c, http.StatusOK, gin.H{
		"violations":  out,
		"total_count": page.TotalCount,
	})
}

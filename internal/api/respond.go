package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smukkama/geofence-server/internal/domain"
)

// respond writes payload with the handler duration merged in as time_ns
func respond(c *gin.Context, status int, payload gin.H) {
	start := c.GetTime(startKey)
	if start.IsZero() {
		start = time.Now()
	}
	payload["time_ns"] = strconv.FormatInt(time.Since(start).Nanoseconds(), 10)
	c.JSON(status, payload)
}

// fail maps an error onto a status code and an {"error": ...} body
func fail(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Printf("http: method=%s path=%s err=%v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// bindJSON decodes the request body, writing a 400 on failure
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

type statusRequest struct {
	Status domain.Status `json:"status"`
}

const dateOnly = "2006-01-02"

// parseDate accepts RFC3339 or a bare date at UTC midnight
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.ParseInLocation(dateOnly, s, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseLimit treats anything non-numeric or below one as unset
func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"aquasync/internal/models"
	"aquasync/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid     = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid       = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errBeforeInvalid   = "invalid or missing 'before' time; use RFC3339 or YYYY-MM-DD"
	errUnknownCategory = "unknown log category; use sensor_logs, power_logs or control_logs"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

// isDateOnly reports whether the query string represents a date without time component.
func isDateOnly(s string) bool {
	return !strings.ContainsAny(s, "T ")
}

func (h *Handler) logCategory(c *gin.Context) (models.LogCategory, bool) {
	cat, ok := models.ParseLogCategory(c.Param("category"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errUnknownCategory})
	}
	return cat, ok
}

// @Summary      List logs
// @Description  Filter one log category by date (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). If 'to' is date-only, it is treated as end-of-day inclusive (23:59:59.999999999Z).
// @Tags         logs
// @Produce      json
// @Param        category  path      string  true   "Log category"  Enums(sensor_logs,power_logs,control_logs)
// @Param        from      query     string  false  "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"  example(2025-08-01)
// @Param        to        query     string  false  "End of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). Date-only treated as end of day."  example(2025-08-31)
// @Success      200       {object}  service.LogList
// @Failure      400       {object}  map[string]string
// @Failure      401       {object}  map[string]string
// @Failure      503       {object}  map[string]string
// @Router       /api/v1/logs/{category} [get]
// @Security     BearerAuth
func (h *Handler) getLogs(c *gin.Context) {
	cat, ok := h.logCategory(c)
	if !ok {
		return
	}
	var (
		from time.Time
		to   time.Time
		err  error
	)
	// Parse 'from' (optional)
	if qs := c.Query("from"); qs != "" {
		from, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
	}
	// Parse 'to' (optional). If only a date is provided, make it end-of-day inclusive.
	if qs := c.Query("to"); qs != "" {
		to, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if isDateOnly(qs) {
			to = to.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	// Validate range if both provided
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be <= 'to'"})
		return
	}
	list, err := h.services.ListLogs(c.Request.Context(), accountOf(c), service.LogFilter{
		Category: cat,
		From:     from,
		To:       to,
	})
	if err != nil {
		h.writeServiceError(c, "logs_list_failed", err, "account_id", accountOf(c), "category", cat)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary      Purge logs
// @Description  Deletes entries of one category recorded before 'before', in bounded batches.
// @Tags         logs
// @Produce      json
// @Param        category  path      string  true  "Log category"  Enums(sensor_logs,power_logs,control_logs)
// @Param        before    query     string  true  "Cutoff (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"
// @Success      200       {object}  map[string]interface{}  "category, deleted"
// @Failure      400       {object}  map[string]string
// @Failure      401       {object}  map[string]string
// @Failure      503       {object}  map[string]string
// @Router       /api/v1/logs/{category} [delete]
// @Security     BearerAuth
func (h *Handler) purgeLogs(c *gin.Context) {
	cat, ok := h.logCategory(c)
	if !ok {
		return
	}
	before, err := parseQueryTime(c.Query("before"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBeforeInvalid})
		return
	}
	n, err := h.services.PurgeLogs(c.Request.Context(), accountOf(c), cat, before)
	if err != nil {
		// batches already deleted stay deleted
		h.writeServiceError(c, "logs_purge_failed", err, "account_id", accountOf(c), "category", cat, "deleted", n)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": cat, "deleted": n})
}

func parseQueryTime(s string) (time.Time, error) {
	// Try multiple accepted formats, normalizing to UTC.
	for _, layout := range []string{time.RFC3339, layoutDateTime, layoutDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"invalid time format %q, expected one of: "+
			"RFC3339 (e.g. 2025-08-27T15:04:05Z), "+
			"'YYYY-MM-DD HH:MM:SS', "+
			"'YYYY-MM-DD'",
		s,
	)
}

package handlers

import (
	"net/http"
	"strconv"

	"aquasync/internal/models"

	"github.com/gin-gonic/gin"
)

// CommandRequest is the dashboard control payload.
type CommandRequest struct {
	// Action to request. Allowed: ON, OFF
	Action string `json:"action" binding:"required" example:"ON"`
}

// @Summary      Live status
// @Description  Latest device report of the signed-in account. Before the first report the pump is OFF with zero readings.
// @Tags         dashboard
// @Produce      json
// @Success      200  {object}  models.LiveStatus
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	st, err := h.services.GetStatus(c.Request.Context(), accountOf(c))
	if err != nil {
		h.writeServiceError(c, "status_get_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Set command
// @Description  Replaces any active command (latest wins).
// @Tags         dashboard
// @Accept       json
// @Produce      json
// @Param        body  body      CommandRequest  true  "Command payload"
// @Success      200   {object}  map[string]interface{}  "status, command"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      503   {object}  map[string]string
// @Router       /api/v1/command [post]
// @Security     BearerAuth
func (h *Handler) setCommand(c *gin.Context) {
	var req CommandRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd, err := h.services.SetCommand(c.Request.Context(), accountOf(c), action, actorOf(c))
	if err != nil {
		h.writeServiceError(c, "command_set_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusCommandSent, "command": cmd})
}

// @Summary      Toggle pump
// @Description  Requests the opposite of the last reported pump state.
// @Tags         dashboard
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, pump, command"
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/command/toggle [post]
// @Security     BearerAuth
func (h *Handler) toggleCommand(c *gin.Context) {
	cmd, err := h.services.ToggleCommand(c.Request.Context(), accountOf(c), actorOf(c))
	if err != nil {
		h.writeServiceError(c, "command_toggle_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusCommandSent, "pump": cmd.Action, "command": cmd})
}

// @Summary      Current command
// @Tags         dashboard
// @Produce      json
// @Success      200  {object}  models.Command
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/command [get]
// @Security     BearerAuth
func (h *Handler) getCommand(c *gin.Context) {
	cmd, err := h.services.GetCommand(c.Request.Context(), accountOf(c))
	if err != nil {
		h.writeServiceError(c, "command_get_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, cmd)
}

// @Summary      Consumption of one period
// @Description  Defaults to the current day. key is 2025-01-31 (day), 2025-W05 (week) or 2025-01 (month).
// @Tags         consumption
// @Produce      json
// @Param        period  query     string  false  "Period"  Enums(day,week,month)
// @Param        key     query     string  false  "Period key"
// @Success      200     {object}  models.ConsumptionRecord
// @Failure      400     {object}  map[string]string
// @Failure      401     {object}  map[string]string
// @Failure      503     {object}  map[string]string
// @Router       /api/v1/consumption [get]
// @Security     BearerAuth
func (h *Handler) getConsumption(c *gin.Context) {
	period := models.Period(c.DefaultQuery("period", string(models.PeriodDay)))
	rec, err := h.services.GetConsumption(c.Request.Context(), accountOf(c), period, c.Query("key"))
	if err != nil {
		h.writeServiceError(c, "consumption_get_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// @Summary      Consumption summary
// @Tags         consumption
// @Produce      json
// @Success      200  {object}  service.ConsumptionSummary
// @Failure      401  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/v1/consumption/summary [get]
// @Security     BearerAuth
func (h *Handler) getConsumptionSummary(c *gin.Context) {
	sum, err := h.services.GetConsumptionSummary(c.Request.Context(), accountOf(c))
	if err != nil {
		h.writeServiceError(c, "consumption_summary_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, sum)
}

// @Summary      List alerts
// @Tags         alerts
// @Produce      json
// @Param        limit  query     int  false  "Max alerts, newest first"  default(50)
// @Success      200    {object}  map[string]interface{}  "count, alerts"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      503    {object}  map[string]string
// @Router       /api/v1/alerts [get]
// @Security     BearerAuth
func (h *Handler) listAlerts(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'"})
			return
		}
		limit = v
	}
	alerts, err := h.services.ListAlerts(c.Request.Context(), accountOf(c), limit)
	if err != nil {
		h.writeServiceError(c, "alerts_list_failed", err, "account_id", accountOf(c))
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(alerts), "alerts": alerts})
}

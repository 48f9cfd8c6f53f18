package handlers

import (
	"net/http"
	"strings"
	"time"

	"aquasync/internal/models"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK           = "ok"
	statusAcknowledged = "acknowledged"
	statusCommandSent  = "command_sent"

	errInvalidBodyPref = "invalid body: "
	errMissingAccount  = "missing account id"
)

// StatusReport is the payload a device pushes on every cycle.
type StatusReport struct {
	PumpState      string     `json:"pump_state" example:"ON"`
	FlowInLPM      float64    `json:"flow_in_L_min" example:"5.0"`
	FlowOutLPM     float64    `json:"flow_out_L_min" example:"4.8"`
	BatteryVoltage float64    `json:"battery_voltage_V,omitempty" example:"12.4"`
	BatteryCurrent float64    `json:"current_A,omitempty" example:"1.2"`
	BatteryPercent *float64   `json:"battery_percent,omitempty"`
	Leakage        bool       `json:"leakage_detected"`
	DeviceTime     *time.Time `json:"device_time,omitempty"`
}

func (r StatusReport) readings() models.Readings {
	pump := models.PumpOff
	if strings.EqualFold(strings.TrimSpace(r.PumpState), string(models.PumpOn)) {
		pump = models.PumpOn
	}
	return models.Readings{
		PumpState:      pump,
		FlowInLPM:      r.FlowInLPM,
		FlowOutLPM:     r.FlowOutLPM,
		BatteryVoltage: r.BatteryVoltage,
		BatteryCurrent: r.BatteryCurrent,
		BatteryPercent: r.BatteryPercent,
		Leakage:        r.Leakage,
		DeviceTime:     r.DeviceTime,
	}
}

// AckRequest confirms the action the device has applied.
type AckRequest struct {
	Action string `json:"action" binding:"required" example:"ON"`
}

// CommandResponse tells the device what to do: ON, OFF or NONE.
type CommandResponse struct {
	Status  string        `json:"status,omitempty"`
	Command models.Action `json:"command"`
}

func deviceAccount(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("account_id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingAccount})
		return "", false
	}
	return id, true
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Push device status
// @Description  Overwrites the live status and returns the command the device must apply. A pending command is marked delivered.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        account_id  path      string        true  "Account id"
// @Param        body        body      StatusReport  true  "Readings"
// @Success      200         {object}  CommandResponse
// @Failure      400         {object}  map[string]string
// @Failure      404         {object}  map[string]string
// @Failure      503         {object}  map[string]string
// @Router       /api/v1/devices/{account_id}/status [post]
func (h *Handler) reportStatus(c *gin.Context) {
	accountID, ok := deviceAccount(c)
	if !ok {
		return
	}
	var req StatusReport
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	action, err := h.services.ReportStatus(c.Request.Context(), accountID, req.readings())
	if err != nil {
		h.writeServiceError(c, "device_status_failed", err, "account_id", accountID)
		return
	}
	c.JSON(http.StatusOK, CommandResponse{Status: statusOK, Command: action})
}

// @Summary      Poll command
// @Tags         device
// @Produce      json
// @Param        account_id  path      string  true  "Account id"
// @Success      200         {object}  CommandResponse
// @Failure      404         {object}  map[string]string
// @Failure      503         {object}  map[string]string
// @Router       /api/v1/devices/{account_id}/command [get]
func (h *Handler) pollCommand(c *gin.Context) {
	accountID, ok := deviceAccount(c)
	if !ok {
		return
	}
	action, err := h.services.PollCommand(c.Request.Context(), accountID)
	if err != nil {
		h.writeServiceError(c, "device_poll_failed", err, "account_id", accountID)
		return
	}
	c.JSON(http.StatusOK, CommandResponse{Command: action})
}

// @Summary      Acknowledge command
// @Description  Marks the delivered command executed. A different or already executed action is rejected with 409.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        account_id  path      string      true  "Account id"
// @Param        body        body      AckRequest  true  "Applied action"
// @Success      200         {object}  map[string]interface{}
// @Failure      400         {object}  map[string]string
// @Failure      404         {object}  map[string]string
// @Failure      409         {object}  map[string]string
// @Failure      503         {object}  map[string]string
// @Router       /api/v1/devices/{account_id}/command/ack [post]
func (h *Handler) ackCommand(c *gin.Context) {
	accountID, ok := deviceAccount(c)
	if !ok {
		return
	}
	var req AckRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd, err := h.services.AcknowledgeCommand(c.Request.Context(), accountID, action)
	if err != nil {
		h.writeServiceError(c, "device_ack_failed", err, "account_id", accountID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusAcknowledged, "command": cmd})
}

package models

import "time"

type LogCategory string

const (
	CategorySensor  LogCategory = "sensor_logs"
	CategoryPower   LogCategory = "power_logs"
	CategoryControl LogCategory = "control_logs"
)

// ParseLogCategory accepts the table name or its short form (sensor, power, control).
func ParseLogCategory(s string) (LogCategory, bool) {
	switch s {
	case "sensor", string(CategorySensor):
		return CategorySensor, true
	case "power", string(CategoryPower):
		return CategoryPower, true
	case "control", string(CategoryControl):
		return CategoryControl, true
	}
	return "", false
}

// SensorLog is an immutable snapshot of the hydraulic part of LiveStatus.
type SensorLog struct {
	ID         string    `json:"log_id"`
	AccountID  string    `json:"account_id"`
	RecordedAt time.Time `json:"timestamp"`
	PumpState  PumpState `json:"pump_state"`
	FlowInLPM  float64   `json:"flow_in_l_min"`
	FlowOutLPM float64   `json:"flow_out_l_min"`
	Leakage    bool      `json:"leakage_detected"`
}

// PowerLog is an immutable snapshot of the battery part of LiveStatus.
type PowerLog struct {
	ID         string    `json:"power_id"`
	AccountID  string    `json:"account_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Voltage    float64   `json:"power_level_v"`
	Current    float64   `json:"current_a"`
	Percent    float64   `json:"battery_percent"`
}

// Control methods.
const (
	MethodManual = "Manual"
	MethodSMS    = "SMS"
	MethodRemote = "Remote"
)

// ControlLog records a command event.
type ControlLog struct {
	ID         string    `json:"control_id"`
	AccountID  string    `json:"account_id"`
	RecordedAt time.Time `json:"control_time"`
	Action     string    `json:"action"` // TURN_ON | TURN_OFF
	Method     string    `json:"method"`
	Actor      string    `json:"actor,omitempty"`
	Details    string    `json:"details"`
}

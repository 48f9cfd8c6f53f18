package models

import "time"

type PumpState string

const (
	PumpOn  PumpState = "ON"
	PumpOff PumpState = "OFF"
)

// Readings is one normalized device report.
type Readings struct {
	PumpState      PumpState
	FlowInLPM      float64
	FlowOutLPM     float64
	BatteryVoltage float64
	BatteryCurrent float64
	// BatteryPercent is used only when the voltage is not reported.
	BatteryPercent *float64
	Leakage        bool
	// DeviceTime is the device clock at sampling, if it has one.
	DeviceTime *time.Time
}

// LiveStatus is the latest report for an account, overwritten in place.
type LiveStatus struct {
	AccountID       string    `json:"account_id"`
	PumpState       PumpState `json:"pump_state"`
	FlowInLPM       float64   `json:"flow_in_l_min"`
	FlowOutLPM      float64   `json:"flow_out_l_min"`
	BatteryVoltage  float64   `json:"battery_voltage_v"`
	BatteryCurrent  float64   `json:"current_a"`
	BatteryPercent  float64   `json:"battery_percent"`
	LeakageDetected bool      `json:"leakage_detected"`
	SampledAt       time.Time `json:"sampled_at"`
	UpdatedAt       time.Time `json:"last_update"`
}

// LiveView pairs the live status with the command as of the same instant.
type LiveView struct {
	Status  LiveStatus `json:"status"`
	Command Command    `json:"command"`
}

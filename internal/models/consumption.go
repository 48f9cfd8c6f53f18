package models

import "time"

type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Periods lists every tracked period.
var Periods = []Period{PeriodDay, PeriodWeek, PeriodMonth}

// ConsumptionRecord is the accumulated volume of one period. Sealed records are never mutated.
type ConsumptionRecord struct {
	AccountID    string    `json:"account_id"`
	Period       Period    `json:"period"`
	Key          string    `json:"key"` // 2025-01-31 | 2025-W05 | 2025-01
	PeriodStart  time.Time `json:"period_start"`
	InletLiters  float64   `json:"volume_in_l"`
	OutletLiters float64   `json:"volume_out_l"`
	PumpCycles   int       `json:"pump_cycles"`
	Sealed       bool      `json:"sealed"`
	LastSampleAt time.Time `json:"last_sample_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

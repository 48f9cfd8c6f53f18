package service

import (
	"math"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/models"
)

// Tracked field names.
const (
	fieldFlowIn   = "flow_in"
	fieldFlowOut  = "flow_out"
	fieldPumpOn   = "pump_on"
	fieldLeakage  = "leakage"
	fieldVoltage  = "voltage"
	fieldCurrent  = "current"
	fieldPercent  = "percent"
	booleanChange = 1.0 // 0/1 encoded flags: any flip is significant
)

// Sample is the tracked subset of a status, by field name.
type Sample map[string]float64

// Snapshot is what was last written for one account and category.
type Snapshot struct {
	At     time.Time
	Values Sample
}

// Policy is the write policy of one log category.
// A field whose threshold is <= 0 never forces a write on its own.
type Policy struct {
	MinInterval time.Duration
	Thresholds  map[string]float64
}

// ShouldWrite decides whether sample must be logged at now. It is pure.
func ShouldWrite(now time.Time, last *Snapshot, sample Sample, p Policy) bool {
	if last == nil {
		return true
	}
	if now.Sub(last.At) >= p.MinInterval {
		return true
	}
	for field, threshold := range p.Thresholds {
		if threshold <= 0 {
			continue
		}
		if math.Abs(sample[field]-last.Values[field]) >= threshold {
			return true
		}
	}
	return false
}

// Ledger holds the per-category policies. Per-account snapshots live in accountState.
type Ledger struct {
	policies map[models.LogCategory]Policy
}

func NewLedger(cfg config.ThrottleConfig) *Ledger {
	return &Ledger{policies: map[models.LogCategory]Policy{
		models.CategorySensor: {
			MinInterval: cfg.Sensor.MinInterval,
			Thresholds: map[string]float64{
				fieldFlowIn:  cfg.Sensor.FlowDelta,
				fieldFlowOut: cfg.Sensor.FlowDelta,
				fieldPumpOn:  booleanChange,
				fieldLeakage: booleanChange,
			},
		},
		models.CategoryPower: {
			MinInterval: cfg.Power.MinInterval,
			Thresholds: map[string]float64{
				fieldVoltage: cfg.Power.VoltageDelta,
				fieldCurrent: cfg.Power.CurrentDelta,
				fieldPercent: cfg.Power.PercentDelta,
			},
		},
	}}
}

// Evaluate returns the snapshot to remember and whether to write it.
// On a no-write decision the returned snapshot is last, unchanged.
func (l *Ledger) Evaluate(cat models.LogCategory, now time.Time, last *Snapshot, sample Sample) (*Snapshot, bool) {
	if !ShouldWrite(now, last, sample, l.policies[cat]) {
		return last, false
	}
	return &Snapshot{At: now, Values: sample}, true
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func sensorSample(pump models.PumpState, in, out float64, leak bool) Sample {
	return Sample{
		fieldFlowIn:  in,
		fieldFlowOut: out,
		fieldPumpOn:  flag(pump == models.PumpOn),
		fieldLeakage: flag(leak),
	}
}

func powerSample(v, a, pct float64) Sample {
	return Sample{fieldVoltage: v, fieldCurrent: a, fieldPercent: pct}
}

func sensorSampleOf(s models.LiveStatus) Sample {
	return sensorSample(s.PumpState, s.FlowInLPM, s.FlowOutLPM, s.LeakageDetected)
}

func powerSampleOf(s models.LiveStatus) Sample {
	return powerSample(s.BatteryVoltage, s.BatteryCurrent, s.BatteryPercent)
}

// snapshotFromSensorLog rebuilds ledger state from the newest persisted entry.
func snapshotFromSensorLog(l *models.SensorLog) *Snapshot {
	if l == nil {
		return nil
	}
	return &Snapshot{At: l.RecordedAt, Values: sensorSample(l.PumpState, l.FlowInLPM, l.FlowOutLPM, l.Leakage)}
}

func snapshotFromPowerLog(l *models.PowerLog) *Snapshot {
	if l == nil {
		return nil
	}
	return &Snapshot{At: l.RecordedAt, Values: powerSample(l.Voltage, l.Current, l.Percent)}
}

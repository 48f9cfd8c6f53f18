package service

import (
	"context"
	"errors"
	"math"
	"time"

	"aquasync/internal/logger"
	"aquasync/internal/models"
)

// ----------- Simulation constants -----------
const (
	PumpFlowLPM       = 12.0 // inlet flow while pumping, L/min
	OutletRatio       = 0.97 // share of the inlet reaching the outlet
	RestVoltage       = 12.6 // battery voltage at rest, V
	FloorVoltage      = 11.0
	DrainVoltPerTick  = 0.01 // voltage drop per tick while pumping
	ChargeVoltPerTick = 0.02 // voltage recovery per tick while idle
	PumpCurrentA      = 4.5  // draw while pumping, A
	IdleCurrentA      = 0.2
)

// SimulatorService plays a device for one account: it reports, applies commands and acks them.
type SimulatorService struct {
	telemetry Telemetry
	commands  Commands
	accountID string
	log       *logger.Logger

	pump    models.PumpState
	voltage float64
	ticks   int
}

func NewSimulatorService(telemetry Telemetry, commands Commands, accountID string, log *logger.Logger) *SimulatorService {
	if log == nil {
		log = logger.Nop()
	}
	return &SimulatorService{
		telemetry: telemetry,
		commands:  commands,
		accountID: accountID,
		log:       log,
		pump:      models.PumpOff,
		voltage:   RestVoltage,
	}
}

// Run ticks at the given interval until ctx is canceled.
func (s *SimulatorService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.step(ctx)
		}
	}
}

// step performs one report/apply/ack cycle.
func (s *SimulatorService) step(ctx context.Context) {
	s.ticks++
	s.advanceBattery()

	action, err := s.telemetry.ReportStatus(ctx, s.accountID, s.readings())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warnw("simulator_report_failed", "account_id", s.accountID, "err", err)
		}
		return
	}
	if action == models.ActionNone {
		return
	}

	// the relay is applied even if it already is in the requested state
	s.pump = models.PumpState(action)
	if _, err := s.commands.AcknowledgeCommand(ctx, s.accountID, action); err != nil {
		s.log.Warnw("simulator_ack_failed", "account_id", s.accountID, "action", action, "err", err)
		return
	}
	s.log.Infow("simulator_applied", "account_id", s.accountID, "pump", s.pump)
}

func (s *SimulatorService) readings() models.Readings {
	r := models.Readings{PumpState: s.pump, BatteryVoltage: round2(s.voltage), BatteryCurrent: IdleCurrentA}
	if s.pump == models.PumpOn {
		// slow wobble so the throttle sees both quiet and significant changes
		in := PumpFlowLPM + math.Sin(float64(s.ticks)/6)
		r.FlowInLPM = round2(in)
		r.FlowOutLPM = round2(in * OutletRatio)
		r.BatteryCurrent = PumpCurrentA
	}
	return r
}

func (s *SimulatorService) advanceBattery() {
	if s.pump == models.PumpOn {
		s.voltage -= DrainVoltPerTick
	} else {
		s.voltage = math.Min(s.voltage+ChargeVoltPerTick, RestVoltage)
	}
	s.voltage = math.Max(s.voltage, FloorVoltage)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package service

import (
	"context"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/logger"
	"aquasync/internal/models"
	"aquasync/internal/repository"
)

type Authorization interface {
	SignUp(ctx context.Context, in SignUpInput) (Identity, error)
	GenerateToken(ctx context.Context, email, password string) (string, error)
	ParseToken(accessToken string) (Identity, error)
	ProvisionAccount(ctx context.Context, a models.Account) error
}

// Telemetry is the device report path and the live view built from it.
type Telemetry interface {
	ReportStatus(ctx context.Context, accountID string, r models.Readings) (models.Action, error)
	GetStatus(ctx context.Context, accountID string) (models.LiveStatus, error)
	GetLiveView(ctx context.Context, accountID string) (models.LiveView, error)
}

// Commands is the latest-wins command channel of an account.
type Commands interface {
	SetCommand(ctx context.Context, accountID string, action models.Action, actor string) (models.Command, error)
	ToggleCommand(ctx context.Context, accountID, actor string) (models.Command, error)
	GetCommand(ctx context.Context, accountID string) (models.Command, error)
	PollCommand(ctx context.Context, accountID string) (models.Action, error)
	AcknowledgeCommand(ctx context.Context, accountID string, action models.Action) (models.Command, error)
	SubmitSMSCommand(ctx context.Context, accountID, from, body string) (models.Command, error)
}

type Consumption interface {
	GetConsumption(ctx context.Context, accountID string, p models.Period, key string) (models.ConsumptionRecord, error)
	GetConsumptionSummary(ctx context.Context, accountID string) (ConsumptionSummary, error)
}

type Alerts interface {
	ListAlerts(ctx context.Context, accountID string, limit int) ([]models.Alert, error)
}

// History exposes the append-only logs and their retention.
type History interface {
	ListLogs(ctx context.Context, accountID string, f LogFilter) (LogList, error)
	PurgeLogs(ctx context.Context, accountID string, cat models.LogCategory, before time.Time) (int64, error)
}

// Simulator runs a fake device until ctx is canceled.
type Simulator interface {
	Run(ctx context.Context, tick time.Duration)
}

type Service struct {
	Telemetry
	Commands
	Consumption
	Alerts
	History
	Authorization
	Simulator
}

// NewService wires the repositories into one engine and the auxiliary services around it.
func NewService(repos *repository.Repository, cfg *config.Config, notifier Notifier, log *logger.Logger) *Service {
	engine := NewEngine(repos, cfg, notifier, log, nil)
	return &Service{
		Telemetry:     engine,
		Commands:      engine,
		Consumption:   engine,
		Alerts:        engine,
		History:       engine,
		Authorization: NewAuthService(repos, cfg),
		Simulator:     NewSimulatorService(engine, engine, cfg.Simulator.AccountID, log),
	}
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"aquasync/internal/models"
	"aquasync/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      service.Identity
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       service.Identity
	parseErr      error

	lastSignUp      service.SignUpInput
	lastGenEmail    string
	lastGenPassword string
	lastParseToken  string
}

func (m *mockAuth) SignUp(ctx context.Context, in service.SignUpInput) (service.Identity, error) {
	m.lastSignUp = in
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(ctx context.Context, email, password string) (string, error) {
	m.lastGenEmail = email
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (service.Identity, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}
func (m *mockAuth) ProvisionAccount(ctx context.Context, a models.Account) error {
	return nil
}

type mockTelemetry struct {
	action    models.Action
	reportErr error
	status    models.LiveStatus
	command   models.Command
	statusErr error

	lastAccount  string
	lastReadings models.Readings
	reports      int
}

func (m *mockTelemetry) ReportStatus(ctx context.Context, accountID string, r models.Readings) (models.Action, error) {
	m.reports++
	m.lastAccount = accountID
	m.lastReadings = r
	return m.action, m.reportErr
}
func (m *mockTelemetry) GetStatus(ctx context.Context, accountID string) (models.LiveStatus, error) {
	m.lastAccount = accountID
	return m.status, m.statusErr
}
func (m *mockTelemetry) GetLiveView(ctx context.Context, accountID string) (models.LiveView, error) {
	m.lastAccount = accountID
	return models.LiveView{Status: m.status, Command: m.command}, m.statusErr
}

type mockCommands struct {
	cmd     models.Command
	err     error
	polled  models.Action
	pollErr error

	lastAccount string
	lastAction  models.Action
	lastActor   string
	setCalls    int
	toggleCalls int
	ackCalls    int
}

func (m *mockCommands) SetCommand(ctx context.Context, accountID string, action models.Action, actor string) (models.Command, error) {
	m.setCalls++
	m.lastAccount, m.lastAction, m.lastActor = accountID, action, actor
	return m.cmd, m.err
}
func (m *mockCommands) ToggleCommand(ctx context.Context, accountID, actor string) (models.Command, error) {
	m.toggleCalls++
	m.lastAccount, m.lastActor = accountID, actor
	return m.cmd, m.err
}
func (m *mockCommands) GetCommand(ctx context.Context, accountID string) (models.Command, error) {
	m.lastAccount = accountID
	return m.cmd, m.err
}
func (m *mockCommands) PollCommand(ctx context.Context, accountID string) (models.Action, error) {
	m.lastAccount = accountID
	return m.polled, m.pollErr
}
func (m *mockCommands) AcknowledgeCommand(ctx context.Context, accountID string, action models.Action) (models.Command, error) {
	m.ackCalls++
	m.lastAccount, m.lastAction = accountID, action
	return m.cmd, m.err
}
func (m *mockCommands) SubmitSMSCommand(ctx context.Context, accountID, from, body string) (models.Command, error) {
	return m.cmd, m.err
}

type mockConsumption struct {
	rec     models.ConsumptionRecord
	summary service.ConsumptionSummary
	err     error

	lastPeriod models.Period
	lastKey    string
}

func (m *mockConsumption) GetConsumption(ctx context.Context, accountID string, p models.Period, key string) (models.ConsumptionRecord, error) {
	m.lastPeriod, m.lastKey = p, key
	return m.rec, m.err
}
func (m *mockConsumption) GetConsumptionSummary(ctx context.Context, accountID string) (service.ConsumptionSummary, error) {
	return m.summary, m.err
}

type mockAlerts struct {
	alerts    []models.Alert
	err       error
	lastLimit int
}

func (m *mockAlerts) ListAlerts(ctx context.Context, accountID string, limit int) ([]models.Alert, error) {
	m.lastLimit = limit
	return m.alerts, m.err
}

type mockHistory struct {
	resp     service.LogList
	err      error
	purged   int64
	lastF    service.LogFilter
	lastCat  models.LogCategory
	lastFrom time.Time
	lastTo   time.Time
	before   time.Time
}

func (m *mockHistory) ListLogs(ctx context.Context, accountID string, f service.LogFilter) (service.LogList, error) {
	m.lastF = f
	m.lastFrom = f.From
	m.lastTo = f.To
	return m.resp, m.err
}
func (m *mockHistory) PurgeLogs(ctx context.Context, accountID string, cat models.LogCategory, before time.Time) (int64, error) {
	m.lastCat = cat
	m.before = before
	return m.purged, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

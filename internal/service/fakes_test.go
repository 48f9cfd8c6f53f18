package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/logger"
	"aquasync/internal/models"
	"aquasync/internal/repository"
)

// ---- in-memory store ----

// memStore backs every repository with maps. Atomic snapshots the whole store and restores it on error.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	accounts    map[string]models.Account
	users       map[string]models.User // by email
	status      map[string]models.LiveStatus
	commands    map[string]models.Command
	sensor      []models.SensorLog
	power       []models.PowerLog
	control     []models.ControlLog
	consumption map[string]models.ConsumptionRecord
	alerts      []models.Alert
	seq         int

	// fail is consulted before every operation; a non-nil error aborts it.
	fail func(ctx context.Context, op string) error
	ops  map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    map[string]models.Account{},
		users:       map[string]models.User{},
		status:      map[string]models.LiveStatus{},
		commands:    map[string]models.Command{},
		consumption: map[string]models.ConsumptionRecord{},
		ops:         map[string]int{},
	}
}

func (s *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Accounts:    memAccounts{s},
		Users:       memUsers{s},
		Status:      memStatus{s},
		Commands:    memCommands{s},
		Logs:        memLogs{s},
		Consumption: memConsumption{s},
		Alerts:      memAlerts{s},
		Tx:          memTx{s},
	}
}

// enter locks the store and runs the failure hook. Callers must call s.mu.Unlock.
func (s *memStore) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.ops[op]++
	if s.fail != nil {
		hook := s.fail
		// the hook may block on ctx, release the store while it does
		s.mu.Unlock()
		err := hook(ctx, op)
		s.mu.Lock()
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *memStore) setFail(f func(ctx context.Context, op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

func (s *memStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops[op]
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func (s *memStore) addAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

type memSnapshot struct {
	accounts    map[string]models.Account
	users       map[string]models.User
	status      map[string]models.LiveStatus
	commands    map[string]models.Command
	sensor      []models.SensorLog
	power       []models.PowerLog
	control     []models.ControlLog
	consumption map[string]models.ConsumptionRecord
	alerts      []models.Alert
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	return memSnapshot{
		accounts:    cloneMap(s.accounts),
		users:       cloneMap(s.users),
		status:      cloneMap(s.status),
		commands:    cloneMap(s.commands),
		sensor:      append([]models.SensorLog(nil), s.sensor...),
		power:       append([]models.PowerLog(nil), s.power...),
		control:     append([]models.ControlLog(nil), s.control...),
		consumption: cloneMap(s.consumption),
		alerts:      append([]models.Alert(nil), s.alerts...),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.accounts, s.users, s.status, s.commands = snap.accounts, snap.users, snap.status, snap.commands
	s.sensor, s.power, s.control = snap.sensor, snap.power, snap.control
	s.consumption, s.alerts = snap.consumption, snap.alerts
}

// Read helpers for assertions.

func (s *memStore) sensorLogs(accountID string) []models.SensorLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SensorLog
	for _, l := range s.sensor {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out
}

func (s *memStore) powerLogs(accountID string) []models.PowerLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PowerLog
	for _, l := range s.power {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out
}

func (s *memStore) controlLogs(accountID string) []models.ControlLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ControlLog
	for _, l := range s.control {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out
}

func (s *memStore) alertsOf(accountID string) []models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for _, a := range s.alerts {
		if a.AccountID == accountID {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) storedCommand(accountID string) (models.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[accountID]
	return c, ok
}

func (s *memStore) storedStatus(accountID string) (models.LiveStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[accountID]
	return st, ok
}

func (s *memStore) storedConsumption(accountID string, p models.Period, key string) (models.ConsumptionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.consumption[consumptionKey(accountID, p, key)]
	return r, ok
}

func consumptionKey(accountID string, p models.Period, key string) string {
	return accountID + "|" + string(p) + "|" + key
}

type memTx struct{ s *memStore }

func (t memTx) Atomic(ctx context.Context, fn func(tx *repository.Repository) error) error {
	t.s.txMu.Lock()
	defer t.s.txMu.Unlock()

	t.s.mu.Lock()
	snap := t.s.snapshot()
	t.s.mu.Unlock()

	tx := t.s.repository()
	tx.Tx = inlineMemTx{tx}
	if err := fn(tx); err != nil {
		t.s.mu.Lock()
		t.s.restore(snap)
		t.s.mu.Unlock()
		return err
	}
	return nil
}

type inlineMemTx struct{ repo *repository.Repository }

func (t inlineMemTx) Atomic(_ context.Context, fn func(tx *repository.Repository) error) error {
	return fn(t.repo)
}

type memAccounts struct{ s *memStore }

func (r memAccounts) Create(ctx context.Context, a models.Account) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Accounts.Create"); err != nil {
		return err
	}
	if _, ok := r.s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s exists", a.ID)
	}
	r.s.accounts[a.ID] = a
	return nil
}

func (r memAccounts) Get(ctx context.Context, accountID string) (*models.Account, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Accounts.Get"); err != nil {
		return nil, err
	}
	a, ok := r.s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(ctx context.Context, u models.User) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Users.Create"); err != nil {
		return err
	}
	r.s.users[u.Email] = u
	return nil
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Users.GetByEmail"); err != nil {
		return nil, err
	}
	u, ok := r.s.users[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type memStatus struct{ s *memStore }

func (r memStatus) Save(ctx context.Context, st models.LiveStatus) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Status.Save"); err != nil {
		return err
	}
	r.s.status[st.AccountID] = st
	return nil
}

func (r memStatus) Load(ctx context.Context, accountID string) (*models.LiveStatus, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Status.Load"); err != nil {
		return nil, err
	}
	st, ok := r.s.status[accountID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

type memCommands struct{ s *memStore }

func (r memCommands) Save(ctx context.Context, c models.Command) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Commands.Save"); err != nil {
		return err
	}
	r.s.commands[c.AccountID] = c
	return nil
}

func (r memCommands) Load(ctx context.Context, accountID string) (models.Command, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Commands.Load"); err != nil {
		return models.Command{}, err
	}
	c, ok := r.s.commands[accountID]
	if !ok {
		return models.IdleCommand(accountID), nil
	}
	return c, nil
}

type memLogs struct{ s *memStore }

func (r memLogs) AppendSensor(ctx context.Context, l models.SensorLog) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.AppendSensor"); err != nil {
		return err
	}
	l.ID = r.s.nextID("LOG")
	r.s.sensor = append(r.s.sensor, l)
	return nil
}

func (r memLogs) AppendPower(ctx context.Context, l models.PowerLog) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.AppendPower"); err != nil {
		return err
	}
	l.ID = r.s.nextID("PWR")
	r.s.power = append(r.s.power, l)
	return nil
}

func (r memLogs) AppendControl(ctx context.Context, l models.ControlLog) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.AppendControl"); err != nil {
		return err
	}
	l.ID = r.s.nextID("CTL")
	r.s.control = append(r.s.control, l)
	return nil
}

func (r memLogs) LatestSensor(ctx context.Context, accountID string) (*models.SensorLog, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.LatestSensor"); err != nil {
		return nil, err
	}
	for i := len(r.s.sensor) - 1; i >= 0; i-- {
		if l := r.s.sensor[i]; l.AccountID == accountID {
			return &l, nil
		}
	}
	return nil, nil
}

func (r memLogs) LatestPower(ctx context.Context, accountID string) (*models.PowerLog, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.LatestPower"); err != nil {
		return nil, err
	}
	for i := len(r.s.power) - 1; i >= 0; i-- {
		if l := r.s.power[i]; l.AccountID == accountID {
			return &l, nil
		}
	}
	return nil, nil
}

func inRange(t, from, to time.Time) bool {
	return (from.IsZero() || !t.Before(from)) && (to.IsZero() || !t.After(to))
}

func (r memLogs) ListSensor(ctx context.Context, accountID string, from, to time.Time) ([]models.SensorLog, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.ListSensor"); err != nil {
		return nil, err
	}
	var out []models.SensorLog
	for _, l := range r.s.sensor {
		if l.AccountID == accountID && inRange(l.RecordedAt, from, to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r memLogs) ListPower(ctx context.Context, accountID string, from, to time.Time) ([]models.PowerLog, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.ListPower"); err != nil {
		return nil, err
	}
	var out []models.PowerLog
	for _, l := range r.s.power {
		if l.AccountID == accountID && inRange(l.RecordedAt, from, to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r memLogs) ListControl(ctx context.Context, accountID string, from, to time.Time) ([]models.ControlLog, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.ListControl"); err != nil {
		return nil, err
	}
	var out []models.ControlLog
	for _, l := range r.s.control {
		if l.AccountID == accountID && inRange(l.RecordedAt, from, to) {
			out = append(out, l)
		}
	}
	return out, nil
}

// purgeSlice drops at most batch entries of accountID older than before.
func purgeSlice[T any](in []T, keep func(T) bool, batch int) ([]T, int64) {
	var out []T
	var n int64
	for _, v := range in {
		if n < int64(batch) && !keep(v) {
			n++
			continue
		}
		out = append(out, v)
	}
	return out, n
}

func (r memLogs) Purge(ctx context.Context, accountID string, cat models.LogCategory, before time.Time, batch int) (int64, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Logs.Purge"); err != nil {
		return 0, err
	}
	var n int64
	switch cat {
	case models.CategorySensor:
		r.s.sensor, n = purgeSlice(r.s.sensor, func(l models.SensorLog) bool {
			return l.AccountID != accountID || !l.RecordedAt.Before(before)
		}, batch)
	case models.CategoryPower:
		r.s.power, n = purgeSlice(r.s.power, func(l models.PowerLog) bool {
			return l.AccountID != accountID || !l.RecordedAt.Before(before)
		}, batch)
	case models.CategoryControl:
		r.s.control, n = purgeSlice(r.s.control, func(l models.ControlLog) bool {
			return l.AccountID != accountID || !l.RecordedAt.Before(before)
		}, batch)
	}
	return n, nil
}

type memConsumption struct{ s *memStore }

func (r memConsumption) Upsert(ctx context.Context, rec models.ConsumptionRecord) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Consumption.Upsert"); err != nil {
		return err
	}
	k := consumptionKey(rec.AccountID, rec.Period, rec.Key)
	if old, ok := r.s.consumption[k]; ok && old.Sealed {
		return fmt.Errorf("record %s is sealed", k)
	}
	r.s.consumption[k] = rec
	return nil
}

func (r memConsumption) Get(ctx context.Context, accountID string, p models.Period, key string) (*models.ConsumptionRecord, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Consumption.Get"); err != nil {
		return nil, err
	}
	rec, ok := r.s.consumption[consumptionKey(accountID, p, key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r memConsumption) Open(ctx context.Context, accountID string) ([]models.ConsumptionRecord, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Consumption.Open"); err != nil {
		return nil, err
	}
	var out []models.ConsumptionRecord
	for _, rec := range r.s.consumption {
		if rec.AccountID == accountID && !rec.Sealed {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

type memAlerts struct{ s *memStore }

func (r memAlerts) Append(ctx context.Context, a models.Alert) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Alerts.Append"); err != nil {
		return err
	}
	r.s.alerts = append(r.s.alerts, a)
	return nil
}

func (r memAlerts) UpdateDelivery(ctx context.Context, a models.Alert) error {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Alerts.UpdateDelivery"); err != nil {
		return err
	}
	for i := range r.s.alerts {
		if r.s.alerts[i].ID == a.ID && r.s.alerts[i].AccountID == a.AccountID {
			r.s.alerts[i].Delivery = a.Delivery
			r.s.alerts[i].Attempts = a.Attempts
			r.s.alerts[i].LastAttemptAt = a.LastAttemptAt
			return nil
		}
	}
	return fmt.Errorf("alert %s not found", a.ID)
}

func (r memAlerts) Latest(ctx context.Context, accountID string, cat models.AlertCategory) (*models.Alert, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Alerts.Latest"); err != nil {
		return nil, err
	}
	for i := len(r.s.alerts) - 1; i >= 0; i-- {
		if a := r.s.alerts[i]; a.AccountID == accountID && a.Category == cat {
			return &a, nil
		}
	}
	return nil, nil
}

func (r memAlerts) List(ctx context.Context, accountID string, limit int) ([]models.Alert, error) {
	defer r.s.mu.Unlock()
	if err := r.s.enter(ctx, "Alerts.List"); err != nil {
		return nil, err
	}
	var out []models.Alert
	for i := len(r.s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if a := r.s.alerts[i]; a.AccountID == accountID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ---- clock and notifier ----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t.UTC()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type sentSMS struct {
	To      string
	Message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []sentSMS
	// calls counts attempts, failed ones included
	calls int
}

func (n *fakeNotifier) Send(ctx context.Context, contact, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentSMS{To: contact, Message: message})
	return nil
}

func (n *fakeNotifier) Sent() []sentSMS {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentSMS(nil), n.sent...)
}

func (n *fakeNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// ---- engine harness ----

var t0 = time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC) // a Monday

type harness struct {
	engine   *Engine
	store    *memStore
	clock    *fakeClock
	notifier *fakeNotifier
	cfg      *config.Config
}

func newHarness(t *testing.T, tune func(cfg *config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if tune != nil {
		tune(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	store := newMemStore()
	store.addAccount(models.Account{ID: "ACC_1", UserID: "USER_1", Active: true, DeviceName: "Well pump", AdminContact: "+1 555 0001"})
	store.addAccount(models.Account{ID: "ACC_2", UserID: "USER_2", Active: true, AdminContact: "+1 555 0002"})
	store.addAccount(models.Account{ID: "ACC_OFF", UserID: "USER_3", Active: false})

	clock := newFakeClock(t0)
	notifier := &fakeNotifier{}
	return &harness{
		engine:   NewEngine(store.repository(), cfg, notifier, logger.Nop(), clock.Now),
		store:    store,
		clock:    clock,
		notifier: notifier,
		cfg:      cfg,
	}
}

// restart builds a fresh engine over the same store, as after a process restart.
func (h *harness) restart() {
	h.engine = NewEngine(h.store.repository(), h.cfg, h.notifier, logger.Nop(), h.clock.Now)
}

func (h *harness) report(t *testing.T, accountID string, r models.Readings) models.Action {
	t.Helper()
	action, err := h.engine.ReportStatus(context.Background(), accountID, r)
	if err != nil {
		t.Fatalf("ReportStatus(%s): %v", accountID, err)
	}
	return action
}

func pumping(in, out float64) models.Readings {
	return models.Readings{PumpState: models.PumpOn, FlowInLPM: in, FlowOutLPM: out, BatteryVoltage: 12.5}
}

func idle() models.Readings {
	return models.Readings{PumpState: models.PumpOff, BatteryVoltage: 12.5}
}

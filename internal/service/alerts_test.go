package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/models"
)

func leaking() models.Readings {
	r := pumping(5, 4.8)
	r.Leakage = true
	return r
}

func TestAlerts_LeakageIsEdgeTriggered(t *testing.T) {
	h := newHarness(t, nil)

	h.report(t, "ACC_1", leaking())
	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", leaking())
	if got := h.store.alertsOf("ACC_1"); len(got) != 1 {
		t.Fatalf("alerts=%d after two leaking reports, want 1", len(got))
	}

	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", pumping(5, 4.8))
	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", leaking())

	alerts := h.store.alertsOf("ACC_1")
	if len(alerts) != 2 {
		t.Fatalf("alerts=%d after clear and re-raise, want 2", len(alerts))
	}
	for _, a := range alerts {
		if a.Category != models.AlertLeakage || a.Delivery != models.DeliverySent || a.Attempts != 1 {
			t.Fatalf("unexpected alert %+v", a)
		}
		if !strings.HasPrefix(a.ID, "ALERT_") || a.Contact != "+1 555 0001" {
			t.Fatalf("unexpected alert identity %+v", a)
		}
	}
	sent := h.notifier.Sent()
	if len(sent) != 2 || sent[0].To != "+1 555 0001" || !strings.Contains(sent[0].Message, "Well pump") {
		t.Fatalf("unexpected messages %+v", sent)
	}
}

func TestAlerts_DerivedLeakRaisesAlert(t *testing.T) {
	h := newHarness(t, nil) // leak differential 1.0 L/min

	h.report(t, "ACC_1", pumping(5, 3))
	alerts := h.store.alertsOf("ACC_1")
	if len(alerts) != 1 || alerts[0].Category != models.AlertLeakage {
		t.Fatalf("alerts=%+v, want one leakage alert", alerts)
	}
	if st, _ := h.store.storedStatus("ACC_1"); !st.LeakageDetected {
		t.Fatalf("live status does not show the derived leak")
	}
}

func TestAlerts_RetriesUntilMaxAttempts(t *testing.T) {
	h := newHarness(t, nil) // 3 attempts
	h.notifier.err = errors.New("gateway down")

	h.report(t, "ACC_1", leaking())
	a := h.store.alertsOf("ACC_1")[0]
	if a.Delivery != models.DeliveryQueued || a.Attempts != 1 || a.LastAttemptAt == nil {
		t.Fatalf("after first failure: %+v", a)
	}

	for i := 0; i < 4; i++ {
		h.clock.Advance(time.Minute)
		h.report(t, "ACC_1", leaking())
	}
	alerts := h.store.alertsOf("ACC_1")
	if len(alerts) != 1 {
		t.Fatalf("retries created new alerts: %d", len(alerts))
	}
	if alerts[0].Delivery != models.DeliveryFailed || alerts[0].Attempts != 3 {
		t.Fatalf("after retries: %+v, want failed with 3 attempts", alerts[0])
	}
	if n := h.notifier.Calls(); n != 3 {
		t.Fatalf("send attempts=%d, want 3", n)
	}
}

func TestAlerts_RecoveredRetryIsSent(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.err = errors.New("gateway down")
	h.report(t, "ACC_1", leaking())

	h.notifier.mu.Lock()
	h.notifier.err = nil
	h.notifier.mu.Unlock()
	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", leaking())

	a := h.store.alertsOf("ACC_1")[0]
	if a.Delivery != models.DeliverySent || a.Attempts != 2 {
		t.Fatalf("retried alert: %+v, want sent after 2 attempts", a)
	}
}

func TestAlerts_CooldownSuppressesRepeatedEdges(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Alerts.Cooldown = time.Hour })

	h.report(t, "ACC_1", leaking())
	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", pumping(5, 4.8))
	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", leaking())

	alerts := h.store.alertsOf("ACC_1")
	if len(alerts) != 2 || alerts[1].Delivery != models.DeliverySuppressed {
		t.Fatalf("alerts=%+v, want the second edge suppressed", alerts)
	}
	if n := h.notifier.Calls(); n != 1 {
		t.Fatalf("send attempts=%d, want 1", n)
	}

	h.clock.Advance(2 * time.Hour)
	h.report(t, "ACC_1", pumping(5, 4.8))
	h.report(t, "ACC_1", leaking())
	if alerts = h.store.alertsOf("ACC_1"); alerts[2].Delivery != models.DeliverySent {
		t.Fatalf("alert after cooldown: %+v, want sent", alerts[2])
	}
}

func TestAlerts_ContactFallback(t *testing.T) {
	t.Run("no contact anywhere fails the alert", func(t *testing.T) {
		h := newHarness(t, nil)
		h.store.addAccount(models.Account{ID: "ACC_NC", Active: true})
		h.report(t, "ACC_NC", leaking())

		a := h.store.alertsOf("ACC_NC")[0]
		if a.Delivery != models.DeliveryFailed || a.Attempts != 0 {
			t.Fatalf("alert without contact: %+v", a)
		}
		if h.notifier.Calls() != 0 {
			t.Fatalf("notifier called without a contact")
		}
	})

	t.Run("default admin is used", func(t *testing.T) {
		h := newHarness(t, func(cfg *config.Config) { cfg.SMS.DefaultAdmin = "+1 555 0100" })
		h.store.addAccount(models.Account{ID: "ACC_NC", Active: true})
		h.report(t, "ACC_NC", leaking())

		sent := h.notifier.Sent()
		if len(sent) != 1 || sent[0].To != "+1 555 0100" {
			t.Fatalf("messages %+v, want one to the default admin", sent)
		}
	})
}

func TestAlerts_LowBattery(t *testing.T) {
	h := newHarness(t, nil) // critical at 10 %

	r := idle()
	r.BatteryVoltage = 11.85 // 5.6 %
	h.report(t, "ACC_1", r)

	alerts := h.store.alertsOf("ACC_1")
	if len(alerts) != 1 || alerts[0].Category != models.AlertLowBattery {
		t.Fatalf("alerts=%+v, want one low battery alert", alerts)
	}
	if !strings.Contains(alerts[0].Details, "5.6%") {
		t.Fatalf("details %q", alerts[0].Details)
	}

	// a report without battery data keeps the last reading, the condition still holds
	h.clock.Advance(time.Minute)
	h.report(t, "ACC_1", models.Readings{PumpState: models.PumpOff})
	if n := len(h.store.alertsOf("ACC_1")); n != 1 {
		t.Fatalf("alerts=%d, want 1", n)
	}
}

func TestAlerts_DispatchFailureDoesNotFailReport(t *testing.T) {
	h := newHarness(t, nil)
	h.store.setFail(func(ctx context.Context, op string) error {
		if op == "Alerts.UpdateDelivery" {
			return errors.New("write quota exceeded")
		}
		return nil
	})
	if _, err := h.engine.ReportStatus(context.Background(), "ACC_1", leaking()); err != nil {
		t.Fatalf("report failed because of alert bookkeeping: %v", err)
	}
	if a := h.store.alertsOf("ACC_1")[0]; a.Delivery != models.DeliveryQueued {
		t.Fatalf("stored delivery=%s, want queued", a.Delivery)
	}
}

func TestAlerts_RolledBackReportSendsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.store.setFail(func(ctx context.Context, op string) error {
		if op == "Alerts.Append" {
			return context.DeadlineExceeded
		}
		return nil
	})
	if _, err := h.engine.ReportStatus(context.Background(), "ACC_1", leaking()); !errors.Is(err, ErrStoreTimeout) {
		t.Fatalf("err=%v, want ErrStoreTimeout", err)
	}
	if h.notifier.Calls() != 0 {
		t.Fatalf("alert sent for a report that never committed")
	}

	// the edge is seen again on the retry
	h.store.setFail(nil)
	h.report(t, "ACC_1", leaking())
	if n := len(h.notifier.Sent()); n != 1 {
		t.Fatalf("messages=%d, want 1", n)
	}
}

func TestListAlerts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.report(t, "ACC_1", leaking())
		h.clock.Advance(time.Minute)
		h.report(t, "ACC_1", pumping(5, 4.8))
		h.clock.Advance(time.Minute)
	}

	all, err := h.engine.ListAlerts(ctx, "ACC_1", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListAlerts: %d err=%v", len(all), err)
	}
	if !all[0].RaisedAt.After(all[2].RaisedAt) {
		t.Fatalf("alerts not newest first: %v .. %v", all[0].RaisedAt, all[2].RaisedAt)
	}
	if two, _ := h.engine.ListAlerts(ctx, "ACC_1", 2); len(two) != 2 {
		t.Fatalf("limit=2 returned %d", len(two))
	}
	if other, _ := h.engine.ListAlerts(ctx, "ACC_2", 0); len(other) != 0 {
		t.Fatalf("ACC_2 sees foreign alerts: %+v", other)
	}
}

package models

import "time"

type AlertCategory string

const (
	AlertLeakage    AlertCategory = "leakage"
	AlertLowBattery AlertCategory = "low_battery"
)

type DeliveryState string

const (
	DeliveryQueued     DeliveryState = "queued"
	DeliverySent       DeliveryState = "sent"
	DeliveryFailed     DeliveryState = "failed"
	DeliverySuppressed DeliveryState = "suppressed"
)

// Alert is a detected condition. Only the delivery fields change after creation.
type Alert struct {
	ID            string        `json:"alert_id"`
	AccountID     string        `json:"account_id"`
	Category      AlertCategory `json:"alert_type"`
	Details       string        `json:"details"`
	Contact       string        `json:"contact"`
	RaisedAt      time.Time     `json:"alert_date"`
	Delivery      DeliveryState `json:"status"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
}

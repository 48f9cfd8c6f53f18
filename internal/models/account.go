package models

import "time"

// Account is the tenant unit. Every other record carries exactly one AccountID.
type Account struct {
	ID           string    `json:"account_id"`
	UserID       string    `json:"user_id"`
	Active       bool      `json:"active"`
	DeviceName   string    `json:"device_name"`
	AdminContact string    `json:"admin_contact"` // SMS number for alerts
	CreatedAt    time.Time `json:"created_at"`
}

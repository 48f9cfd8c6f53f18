package models

type User struct {
	ID           string `json:"user_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // don't expose hash
	AccountID    string `json:"account_id"`
}

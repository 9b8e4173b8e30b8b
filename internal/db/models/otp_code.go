package models

import "time"

// OTPCode is a short-lived numeric verification code issued for a phone number.
type OTPCode struct {
	ID          string `gorm:"primaryKey"` // UUID
	PhoneNumber string `gorm:"index;size:40"`
	Code        string `gorm:"size:6"`
	ExpiresAt   time.Time
	Attempts    int        `gorm:"default:0"`
	ConsumedAt  *time.Time // set once the code has been used for a successful login
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

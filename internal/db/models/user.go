package models

import "time"

// Auth provider kinds for User.AuthProvider.
const (
	AuthProviderPhone    = "phone"
	AuthProviderTelegram = "telegram"
)

// User is the durable local account linked to exactly one external identity.
// Email holds the placeholder address derived from the identity, so it doubles
// as the unique linking attribute for the phone flow. TelegramID is nullable
// because sqlite unique indexes must ignore phone-only accounts.
type User struct {
	ID              string  `gorm:"primaryKey"` // UUID
	Email           string  `gorm:"uniqueIndex;size:120"`
	Username        string  `gorm:"size:30"`
	PasswordHash    string  // bcrypt of the derived placeholder password, never the password itself
	PhoneNumber     string  `gorm:"size:40"`
	TelegramID      *string `gorm:"uniqueIndex"`
	AuthProvider    string  `gorm:"size:20"`
	FirstName       string
	LastName        string
	PhotoURL        string
	EmailVerified   bool
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Package accounts persists local user accounts and maps each external
// identity onto exactly one of them.
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/ridely/auth-gateway/internal/db/models"
	"gorm.io/gorm"
)

// Store is the gorm-backed account store.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindByEmail returns the account with the given placeholder email, or nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByTelegramID returns the account linked to the Telegram id, or nil.
func (s *Store) FindByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new account. A unique-constraint violation surfaces as
// gorm.ErrDuplicatedKey for the linker's race recovery.
func (s *Store) Create(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// SetPhoneNumber backfills the phone number on an existing account.
func (s *Store) SetPhoneNumber(ctx context.Context, id, phoneNumber string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"phone_number": phoneNumber,
			"updated_at":   time.Now(),
		}).Error
}

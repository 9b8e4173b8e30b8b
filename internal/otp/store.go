package otp

import (
	"context"
	"errors"
	"time"

	"github.com/ridely/auth-gateway/internal/db/models"
	"gorm.io/gorm"
)

// Store persists one-time codes. Attempt accounting happens through a single
// gated UPDATE so concurrent verifications cannot slip past the cap.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create persists a freshly issued code.
func (s *Store) Create(ctx context.Context, code *models.OTPCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

// LatestForPhone returns the most recently issued code for the phone number,
// consumed or not. Used for the reissue throttle. Returns nil when none exist.
func (s *Store) LatestForPhone(ctx context.Context, phoneNumber string) (*models.OTPCode, error) {
	var code models.OTPCode
	err := s.db.WithContext(ctx).
		Where("phone_number = ?", phoneNumber).
		Order("created_at DESC").
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// ActiveForPhone returns the newest unconsumed code for the phone number, or
// nil when none exists. Expiry is not filtered here so the caller can report
// it distinctly.
func (s *Store) ActiveForPhone(ctx context.Context, phoneNumber string) (*models.OTPCode, error) {
	var code models.OTPCode
	err := s.db.WithContext(ctx).
		Where("phone_number = ? AND consumed_at IS NULL", phoneNumber).
		Order("created_at DESC").
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// CountAttempt atomically increments the attempt counter, but only while the
// record is unconsumed and under the cap. Returns false when the cap was
// already reached, which serializes concurrent verifies at the store layer.
func (s *Store) CountAttempt(ctx context.Context, id string, maxAttempts int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("id = ? AND consumed_at IS NULL AND attempts < ?", id, maxAttempts).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Consume marks a code used. Returns false when another verification consumed
// it first, so a correct code can only ever win once.
func (s *Store) Consume(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.OTPCode{}).
		Where("id = ? AND consumed_at IS NULL", id).
		UpdateColumn("consumed_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

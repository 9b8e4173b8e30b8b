// Package otp issues and verifies short-lived numeric phone codes.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/ridely/auth-gateway/internal/db/models"
	"github.com/ridely/auth-gateway/internal/errs"
	"github.com/ridely/auth-gateway/internal/sms"
)

const (
	codeTTL        = 5 * time.Minute
	maxAttempts    = 3
	reissueBackoff = 30 * time.Second

	messageTemplate = "Your OTP code is %s"
)

// Uzbek mobile numbers: +998 followed by nine digits.
var phoneRegexp = regexp.MustCompile(`^\+998\d{9}$`)

// Service is the OTP lifecycle manager.
type Service struct {
	store  *Store
	sender sms.Sender
}

// NewService creates a Service.
func NewService(store *Store, sender sms.Sender) *Service {
	return &Service{store: store, sender: sender}
}

// Issue generates, persists and dispatches a fresh code for the phone number.
// Reissue requests inside the backoff window are rejected so a client cannot
// turn the SMS gateway into a flood source.
func (s *Service) Issue(ctx context.Context, phoneNumber string) error {
	if !phoneRegexp.MatchString(phoneNumber) {
		return errs.Errorf(errs.KindValidation, "invalid phone number format")
	}

	last, err := s.store.LatestForPhone(ctx, phoneNumber)
	if err != nil {
		return errs.Wrap(errs.KindDependency, "otp store lookup failed", err)
	}
	if last != nil && time.Since(last.CreatedAt) < reissueBackoff {
		return errs.Errorf(errs.KindRateLimited, "otp was requested too recently")
	}

	code, err := generateCode()
	if err != nil {
		return errs.Wrap(errs.KindDependency, "otp code generation failed", err)
	}

	record := &models.OTPCode{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
		Code:        code,
		ExpiresAt:   time.Now().Add(codeTTL),
	}
	if err := s.store.Create(ctx, record); err != nil {
		return errs.Wrap(errs.KindDependency, "otp store create failed", err)
	}

	// Dispatch failure propagates: pretending success would strand the user
	// waiting for a message that never left.
	if err := s.sender.Send(ctx, phoneNumber, fmt.Sprintf(messageTemplate, code)); err != nil {
		return errs.Wrap(errs.KindDependency, "otp dispatch failed", err)
	}

	log.Printf("Issued OTP for %s (expires %s)", phoneNumber, record.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Verify checks a submitted code against the phone's active record. Every
// check against an identified record counts toward the attempt cap, wrong or
// right, so guessing cost is bounded. A successful verification consumes the
// code; replays of the same code fail as not found.
func (s *Service) Verify(ctx context.Context, phoneNumber, code string) error {
	record, err := s.store.ActiveForPhone(ctx, phoneNumber)
	if err != nil {
		return errs.Wrap(errs.KindDependency, "otp store lookup failed", err)
	}
	if record == nil {
		return errs.Errorf(errs.KindNotFound, "otp code not found")
	}
	if time.Now().After(record.ExpiresAt) {
		return errs.Errorf(errs.KindExpired, "otp code has expired")
	}

	counted, err := s.store.CountAttempt(ctx, record.ID, maxAttempts)
	if err != nil {
		return errs.Wrap(errs.KindDependency, "otp attempt accounting failed", err)
	}
	if !counted {
		return errs.Errorf(errs.KindRateLimited, "otp code has been tried too many times")
	}

	if record.Code != code {
		return errs.Errorf(errs.KindNotFound, "otp code not found")
	}

	consumed, err := s.store.Consume(ctx, record.ID)
	if err != nil {
		return errs.Wrap(errs.KindDependency, "otp consume failed", err)
	}
	if !consumed {
		// A concurrent verification with the same code won the race.
		return errs.Errorf(errs.KindNotFound, "otp code not found")
	}
	return nil
}

// generateCode draws a uniform 6-digit code in [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

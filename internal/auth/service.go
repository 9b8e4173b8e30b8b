// Package auth turns a verified external identity (phone number or Telegram
// assertion) into an external session plus a linked local account.
package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ridely/auth-gateway/internal/accounts"
	"github.com/ridely/auth-gateway/internal/db/models"
	"github.com/ridely/auth-gateway/internal/errs"
	"github.com/ridely/auth-gateway/internal/gotrue"
	"github.com/ridely/auth-gateway/internal/secrets"
	"github.com/ridely/auth-gateway/internal/telegram"
)

// SessionBackend is the external identity backend contract the orchestrator
// depends on. Satisfied by *gotrue.Client.
type SessionBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*gotrue.Session, error)
	AdminCreateUser(ctx context.Context, params gotrue.CreateUserParams) (*gotrue.User, error)
}

// Config carries the derivation secrets and provider tokens the flows need.
type Config struct {
	EmailDomain      string
	PhoneSecret      string
	TelegramSecret   string
	TelegramBotToken string
}

// Result is a completed finalization: an external session and the local
// account it belongs to.
type Result struct {
	AccessToken  string
	RefreshToken string
	User         *models.User
}

// Service orchestrates the two finalization flows.
type Service struct {
	backend SessionBackend
	linker  *accounts.Linker
	cfg     Config
}

// NewService creates a Service.
func NewService(backend SessionBackend, linker *accounts.Linker, cfg Config) *Service {
	return &Service{backend: backend, linker: linker, cfg: cfg}
}

// FinalizePhoneAuth exchanges a verified phone number for a session and a
// linked local account. Credentials are deterministic, so a retry after any
// partial failure lands in the sign-in-first branch and self-heals.
func (s *Service) FinalizePhoneAuth(ctx context.Context, phoneNumber string) (*Result, error) {
	log.Printf("Finalizing auth for phone %s", phoneNumber)
	creds := secrets.ForPhone(phoneNumber, s.cfg.EmailDomain, s.cfg.PhoneSecret)

	session, err := s.obtainSession(ctx, creds, gotrue.CreateUserParams{
		Email:        creds.Email,
		Password:     creds.Password,
		Phone:        phoneNumber,
		EmailConfirm: true,
		PhoneConfirm: true,
		UserMetadata: map[string]any{"phone_number": phoneNumber},
	})
	if err != nil {
		return nil, err
	}

	user, err := s.linker.LinkOrCreate(ctx, accounts.LinkParams{
		Email:       creds.Email,
		PhoneNumber: phoneNumber,
		Password:    creds.Password,
		Provider:    models.AuthProviderPhone,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDependency, "failed to link local account", err)
	}

	return &Result{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		User:         user,
	}, nil
}

// FinalizeTelegramAuth validates a Telegram login-widget assertion and runs
// the same sign-in-first choreography keyed on the Telegram id. The flow
// never reaches the backend on a bad signature.
func (s *Service) FinalizeTelegramAuth(ctx context.Context, assertion telegram.Assertion) (*Result, error) {
	log.Printf("Finalizing Telegram auth for id %s", assertion.ID)

	if err := telegram.Verify(assertion, s.cfg.TelegramBotToken, time.Now()); err != nil {
		log.Printf("⚠️ Telegram verification failed for id %s: %v", assertion.ID, err)
		return nil, errs.Wrap(errs.KindUnauthorized, "invalid telegram authentication payload", err)
	}

	creds := secrets.ForTelegram(assertion.ID, s.cfg.EmailDomain, s.cfg.TelegramSecret)

	session, err := s.obtainSession(ctx, creds, gotrue.CreateUserParams{
		Email:        creds.Email,
		Password:     creds.Password,
		EmailConfirm: true,
		UserMetadata: map[string]any{
			"telegram_id": assertion.ID,
			"username":    assertion.Username,
			"first_name":  assertion.FirstName,
			"last_name":   assertion.LastName,
			"photo_url":   assertion.PhotoURL,
			"provider":    models.AuthProviderTelegram,
		},
	})
	if err != nil {
		return nil, err
	}

	user, err := s.linker.LinkOrCreate(ctx, accounts.LinkParams{
		Email:      creds.Email,
		TelegramID: assertion.ID,
		Password:   creds.Password,
		Provider:   models.AuthProviderTelegram,
		Username:   assertion.Username,
		FirstName:  assertion.FirstName,
		LastName:   assertion.LastName,
		PhotoURL:   assertion.PhotoURL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindDependency, "failed to link local account", err)
	}

	return &Result{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		User:         user,
	}, nil
}

// obtainSession runs the sign-in-first, create-on-failure protocol. Only an
// invalid-credentials rejection moves the flow to account creation; creation
// is always followed by a second sign-in because the admin create call does
// not issue a session itself.
func (s *Service) obtainSession(ctx context.Context, creds secrets.Credentials, createParams gotrue.CreateUserParams) (*gotrue.Session, error) {
	session, err := s.backend.SignInWithPassword(ctx, creds.Email, creds.Password)
	if err == nil {
		log.Printf("Sign-in successful for %s", creds.Email)
		return session, nil
	}
	if isContextError(err) {
		return nil, errs.Wrap(errs.KindDependency, "sign-in aborted", err)
	}
	if !errors.Is(err, gotrue.ErrInvalidCredentials) {
		log.Printf("Sign-in error for %s: %v", creds.Email, err)
		return nil, errs.Wrap(errs.KindAuthentication, "authentication error", err)
	}

	log.Printf("No backend account for %s, proceeding to sign-up", creds.Email)
	if _, err := s.backend.AdminCreateUser(ctx, createParams); err != nil {
		if isContextError(err) {
			return nil, errs.Wrap(errs.KindDependency, "sign-up aborted", err)
		}
		log.Printf("Sign-up error for %s: %v", creds.Email, err)
		return nil, errs.Wrap(errs.KindRegistration, "registration error", err)
	}

	session, err = s.backend.SignInWithPassword(ctx, creds.Email, creds.Password)
	if err != nil {
		if isContextError(err) {
			return nil, errs.Wrap(errs.KindDependency, "post sign-up sign-in aborted", err)
		}
		log.Printf("Post sign-up sign-in error for %s: %v", creds.Email, err)
		return nil, errs.Wrap(errs.KindAuthentication, "failed to complete auth", err)
	}
	log.Printf("Sign-up successful for %s", creds.Email)
	return session, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

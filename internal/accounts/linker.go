package accounts

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ridely/auth-gateway/internal/db"
	"github.com/ridely/auth-gateway/internal/db/models"
	"github.com/ridely/auth-gateway/internal/secrets"
	"golang.org/x/crypto/bcrypt"
)

const maxUsernameLen = 30

// LinkParams identifies an external identity and the account seed used when
// no local account exists yet. Password is the derived placeholder password;
// only its bcrypt hash is ever stored.
type LinkParams struct {
	Email       string // placeholder email, the phone flow's linking attribute
	TelegramID  string // set only for the chat-bot flow, its linking attribute
	PhoneNumber string
	Password    string
	Provider    string // models.AuthProviderPhone or models.AuthProviderTelegram
	Username    string
	FirstName   string
	LastName    string
	PhotoURL    string
}

// Linker maps an external identity to exactly one local account.
type Linker struct {
	store *Store
}

// NewLinker creates a Linker.
func NewLinker(store *Store) *Linker {
	return &Linker{store: store}
}

// LinkOrCreate returns the account for the identity, creating it on first
// use. Existing accounts get their phone number backfilled when the earlier
// flow never recorded one. Losing a concurrent create race is resolved by
// re-reading the winner's row, so retried calls never fork accounts.
func (l *Linker) LinkOrCreate(ctx context.Context, p LinkParams) (*models.User, error) {
	existing, err := l.lookup(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	if existing != nil {
		return l.backfill(ctx, existing, p)
	}

	user, err := l.create(ctx, p)
	if db.IsDuplicateKey(err) {
		// A concurrent call created the account first; adopt its row.
		winner, lookupErr := l.lookup(ctx, p)
		if lookupErr != nil {
			return nil, fmt.Errorf("account lookup after lost create race: %w", lookupErr)
		}
		if winner == nil {
			return nil, fmt.Errorf("account create raced but winner not found: %w", err)
		}
		return l.backfill(ctx, winner, p)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (l *Linker) lookup(ctx context.Context, p LinkParams) (*models.User, error) {
	if p.TelegramID != "" {
		return l.store.FindByTelegramID(ctx, p.TelegramID)
	}
	return l.store.FindByEmail(ctx, p.Email)
}

func (l *Linker) backfill(ctx context.Context, user *models.User, p LinkParams) (*models.User, error) {
	if p.PhoneNumber != "" && user.PhoneNumber == "" {
		if err := l.store.SetPhoneNumber(ctx, user.ID, p.PhoneNumber); err != nil {
			return nil, fmt.Errorf("backfill phone number: %w", err)
		}
		user.PhoneNumber = p.PhoneNumber
	}
	return user, nil
}

func (l *Linker) create(ctx context.Context, p LinkParams) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash placeholder password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		ID:              uuid.New().String(),
		Email:           p.Email,
		Username:        buildUsername(p),
		PasswordHash:    string(hash),
		PhoneNumber:     p.PhoneNumber,
		AuthProvider:    p.Provider,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		PhotoURL:        p.PhotoURL,
		EmailVerified:   true, // system-controlled placeholder, not a deliverable address
		EmailVerifiedAt: &now,
	}
	if p.TelegramID != "" {
		tid := p.TelegramID
		user.TelegramID = &tid
	}

	if err := l.store.Create(ctx, user); err != nil {
		return nil, err
	}
	log.Printf("Created local account %s for %s identity", user.ID, user.AuthProvider)
	return user, nil
}

// buildUsername derives a bounded display handle from the identity.
func buildUsername(p LinkParams) string {
	name := p.Username
	if name == "" {
		switch {
		case p.PhoneNumber != "":
			name = "ridely_" + secrets.SanitizeDigits(p.PhoneNumber)
		case p.TelegramID != "":
			name = "ridely_tg_" + p.TelegramID
		default:
			name = "ridely_user"
		}
	}
	if len(name) > maxUsernameLen {
		name = name[:maxUsernameLen]
	}
	return name
}

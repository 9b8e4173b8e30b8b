// Package secrets derives deterministic placeholder credentials from an
// external identity. The external identity backend is email/password based,
// so phone and chat-bot identities are mapped onto a fixed fake domain plus a
// keyed one-way password that can be re-derived on every sign-in.
package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Credentials is a derived email/password pair. The password never reaches a
// human; it only drives the external session-issuing backend.
type Credentials struct {
	Email    string
	Password string
}

// ForPhone derives placeholder credentials for a phone identity. Both parts
// are keyed on the sanitized digit string so differently formatted inputs for
// the same number always resolve to the same credentials.
func ForPhone(phone, domain, secret string) Credentials {
	digits := SanitizeDigits(phone)
	return Credentials{
		Email:    digits + "@" + domain,
		Password: derivePassword(digits, secret),
	}
}

// ForTelegram derives placeholder credentials for a Telegram identity.
// The telegram_ prefix keeps the namespace disjoint from phone accounts even
// if a numeric Telegram id ever matched a phone digit string.
func ForTelegram(telegramID, domain, secret string) Credentials {
	return Credentials{
		Email:    "telegram_" + telegramID + "@" + domain,
		Password: derivePassword(telegramID, secret),
	}
}

// derivePassword computes hex(HMAC-SHA256(secret, externalID)). Deterministic
// for idempotent re-sign-in, and not derivable without the domain secret.
func derivePassword(externalID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(externalID))
	return hex.EncodeToString(mac.Sum(nil))
}

// SanitizeDigits strips everything but digits from an identifier.
func SanitizeDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

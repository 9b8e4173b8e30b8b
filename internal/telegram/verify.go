// Package telegram validates login-widget assertions signed by a bot token.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxAuthAge bounds how old an assertion's auth_date may be. Widget payloads
// are replayable until the signature input changes, so stale ones fail closed.
const MaxAuthAge = 24 * time.Hour

// Assertion is the payload the Telegram login widget posts back. Hash signs
// every other populated field.
type Assertion struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	AuthDate  string `json:"auth_date"`
	Hash      string `json:"hash"`
}

// Verify checks the assertion's HMAC signature against the bot token and the
// auth_date staleness bound. Any malformed input fails verification; nothing
// here can bypass the check by erroring out.
func Verify(a Assertion, botToken string, now time.Time) error {
	if a.ID == "" || a.AuthDate == "" || a.Hash == "" || botToken == "" {
		return fmt.Errorf("telegram: assertion missing required fields")
	}

	authUnix, err := strconv.ParseInt(a.AuthDate, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid auth_date")
	}
	authedAt := time.Unix(authUnix, 0)
	if now.Sub(authedAt) > MaxAuthAge {
		return fmt.Errorf("telegram: assertion is too old")
	}

	supplied, err := hex.DecodeString(a.Hash)
	if err != nil {
		return fmt.Errorf("telegram: invalid signature encoding")
	}

	signingKey := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, signingKey[:])
	mac.Write([]byte(checkString(a)))
	if !hmac.Equal(mac.Sum(nil), supplied) {
		return fmt.Errorf("telegram: signature mismatch")
	}
	return nil
}

// checkString builds the canonical signing input: all populated fields except
// hash, sorted by key, joined as key=value lines.
func checkString(a Assertion) string {
	fields := map[string]string{
		"id":         a.ID,
		"first_name": a.FirstName,
		"last_name":  a.LastName,
		"username":   a.Username,
		"photo_url":  a.PhotoURL,
		"auth_date":  a.AuthDate,
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

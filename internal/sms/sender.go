// Package sms dispatches text messages through a pluggable gateway. The
// implementation is chosen once at process start from configuration; callers
// only ever see the Sender capability.
package sms

import (
	"context"
	"fmt"
	"log"

	"github.com/ridely/auth-gateway/internal/config"
)

// Message is a single entry in a batch dispatch.
type Message struct {
	PhoneNumber string
	Text        string
}

// SpecialCharacter flags a character the gateway cannot deliver verbatim.
type SpecialCharacter struct {
	Position int    `json:"position"`
	Char     string `json:"char"`
}

// Sender is the notification capability consumed by the OTP manager.
type Sender interface {
	Send(ctx context.Context, phoneNumber, message string) error
	SendBatch(ctx context.Context, messages []Message) error
	Normalize(ctx context.Context, message string) ([]SpecialCharacter, error)
}

// New selects a Sender implementation from configuration.
func New(cfg config.SMS) (Sender, error) {
	switch cfg.Provider {
	case "eskiz":
		return NewEskiz(cfg.Eskiz, nil), nil
	case "log":
		return LogSender{}, nil
	default:
		return nil, fmt.Errorf("unknown sms provider: %s", cfg.Provider)
	}
}

// LogSender prints messages instead of dispatching them. Development only.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phoneNumber, message string) error {
	log.Printf("📨 [sms:log] to=%s message=%q", phoneNumber, message)
	return nil
}

func (LogSender) SendBatch(_ context.Context, messages []Message) error {
	for _, m := range messages {
		log.Printf("📨 [sms:log] to=%s message=%q", m.PhoneNumber, m.Text)
	}
	return nil
}

func (LogSender) Normalize(_ context.Context, _ string) ([]SpecialCharacter, error) {
	return nil, nil
}

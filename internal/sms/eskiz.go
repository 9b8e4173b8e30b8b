package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ridely/auth-gateway/internal/config"
	"github.com/ridely/auth-gateway/internal/secrets"
)

const eskizTimeout = 30 * time.Second

// eskizTokenSource caches the gateway bearer token and re-authenticates on
// demand. It is injected into the provider rather than living on a mutable
// singleton, so a forced refresh is an explicit, serialized operation.
type eskizTokenSource struct {
	mu       sync.Mutex
	token    string
	baseURL  string
	email    string
	password string
	client   *http.Client
}

// Token returns the cached bearer token, logging in first if none is held.
func (ts *eskizTokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" {
		return ts.token, nil
	}
	return ts.loginLocked(ctx)
}

// Refresh drops the cached token and obtains a fresh one. Called by the
// provider after a 401 from the gateway.
func (ts *eskizTokenSource) Refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" {
		if tok, err := ts.refreshLocked(ctx); err == nil {
			return tok, nil
		}
		// Refresh endpoint rejected the stale token; fall back to a full login.
	}
	return ts.loginLocked(ctx)
}

func (ts *eskizTokenSource) loginLocked(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("email", ts.email)
	form.Set("password", ts.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("eskiz login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	token, err := ts.doTokenRequest(req)
	if err != nil {
		return "", fmt.Errorf("eskiz login: %w", err)
	}
	ts.token = token
	return token, nil
}

func (ts *eskizTokenSource) refreshLocked(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, ts.baseURL+"/auth/refresh", nil)
	if err != nil {
		return "", fmt.Errorf("eskiz refresh: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)

	token, err := ts.doTokenRequest(req)
	if err != nil {
		ts.token = ""
		return "", fmt.Errorf("eskiz refresh: %w", err)
	}
	ts.token = token
	return token, nil
}

func (ts *eskizTokenSource) doTokenRequest(req *http.Request) (string, error) {
	resp, err := ts.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.Data.Token != "" {
		return parsed.Data.Token, nil
	}
	if parsed.AccessToken != "" {
		return parsed.AccessToken, nil
	}
	return "", fmt.Errorf("token response carried no token")
}

// EskizSender dispatches messages through the eskiz.uz SMS gateway.
type EskizSender struct {
	baseURL string
	from    string
	tokens  *eskizTokenSource
	client  *http.Client
}

// NewEskiz creates the gateway sender. Pass a nil client for the default.
func NewEskiz(cfg config.Eskiz, client *http.Client) *EskizSender {
	if client == nil {
		client = &http.Client{Timeout: eskizTimeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &EskizSender{
		baseURL: base,
		from:    cfg.From,
		tokens: &eskizTokenSource{
			baseURL:  base,
			email:    cfg.Email,
			password: cfg.Password,
			client:   client,
		},
		client: client,
	}
}

// Send dispatches a single message.
func (e *EskizSender) Send(ctx context.Context, phoneNumber, message string) error {
	form := url.Values{}
	form.Set("mobile_phone", secrets.SanitizeDigits(phoneNumber))
	form.Set("message", message)
	if e.from != "" {
		form.Set("from", e.from)
	}
	_, err := e.doAuthorized(ctx, "/message/sms/send", "application/x-www-form-urlencoded", []byte(form.Encode()))
	return err
}

// SendBatch dispatches several messages in one gateway call.
func (e *EskizSender) SendBatch(ctx context.Context, messages []Message) error {
	type batchEntry struct {
		UserSMSID string `json:"user_sms_id"`
		To        string `json:"to"`
		Text      string `json:"text"`
	}
	entries := make([]batchEntry, 0, len(messages))
	for i, m := range messages {
		entries = append(entries, batchEntry{
			UserSMSID: fmt.Sprintf("batch-%d", i),
			To:        secrets.SanitizeDigits(m.PhoneNumber),
			Text:      m.Text,
		})
	}
	payload, err := json.Marshal(map[string]any{"messages": entries})
	if err != nil {
		return fmt.Errorf("eskiz batch: %w", err)
	}
	_, err = e.doAuthorized(ctx, "/message/sms/send-batch", "application/json", payload)
	return err
}

// Normalize asks the gateway which characters of a message it cannot deliver.
func (e *EskizSender) Normalize(ctx context.Context, message string) ([]SpecialCharacter, error) {
	form := url.Values{}
	form.Set("message", message)
	body, err := e.doAuthorized(ctx, "/message/sms/normalizer", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		SpecialCharacters []SpecialCharacter `json:"special_characters"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("eskiz normalize: %w", err)
	}
	return parsed.SpecialCharacters, nil
}

// doAuthorized performs a bearer-authorized POST, refreshing the token and
// retrying once when the gateway reports 401.
func (e *EskizSender) doAuthorized(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, status, err := e.post(ctx, path, contentType, payload, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		token, err = e.tokens.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		body, status, err = e.post(ctx, path, contentType, payload, token)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("eskiz %s: unexpected status %d: %s", path, status, truncateBody(body))
	}
	return body, nil
}

func (e *EskizSender) post(ctx context.Context, path, contentType string, payload []byte, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("eskiz %s: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("eskiz %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("eskiz %s: read response: %w", path, err)
	}
	return body, resp.StatusCode, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Package gotrue is a thin client for a GoTrue-style identity backend: it
// signs users in with the password grant and creates accounts through the
// service-role admin API. Only the fields this service consumes are modeled.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// ErrInvalidCredentials marks the "user does not exist or password mismatch"
// class of sign-in failure. The orchestrator treats it as the signal to
// attempt account creation; every other error aborts the flow.
var ErrInvalidCredentials = errors.New("gotrue: invalid login credentials")

// Session is an external session issued by the backend.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// User is the backend's account record, reduced to the consumed fields.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CreateUserParams drives the admin create-user call.
type CreateUserParams struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	Phone        string         `json:"phone,omitempty"`
	EmailConfirm bool           `json:"email_confirm"`
	PhoneConfirm bool           `json:"phone_confirm,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Client calls a single GoTrue deployment with its service-role key.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewClient creates a client with the default HTTP timeout.
func NewClient(baseURL, serviceKey string) *Client {
	return NewClientWithHTTP(baseURL, serviceKey, nil)
}

// NewClientWithHTTP creates a client with an injected HTTP client for tests.
func NewClientWithHTTP(baseURL, serviceKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		serviceKey: serviceKey,
		httpClient: httpClient,
	}
}

// SignInWithPassword exchanges email/password for a session. A credential
// rejection comes back as ErrInvalidCredentials; anything else is a plain
// error the caller must treat as a backend failure.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("gotrue sign-in: %w", err)
	}

	body, status, err := c.post(ctx, "/token?grant_type=password", payload)
	if err != nil {
		return nil, fmt.Errorf("gotrue sign-in: %w", err)
	}
	if status != http.StatusOK {
		if isInvalidCredentials(status, body) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("gotrue sign-in: status %d: %s", status, errorMessage(body))
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("gotrue sign-in: decode response: %w", err)
	}
	if session.AccessToken == "" {
		return nil, fmt.Errorf("gotrue sign-in: response carried no access token")
	}
	return &session, nil
}

// AdminCreateUser creates a backend account through the service-role API.
func (c *Client) AdminCreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("gotrue create user: %w", err)
	}

	body, status, err := c.post(ctx, "/admin/users", payload)
	if err != nil {
		return nil, fmt.Errorf("gotrue create user: %w", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("gotrue create user: status %d: %s", status, errorMessage(body))
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("gotrue create user: decode response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("gotrue create user: response carried no user id")
	}
	return &user, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// isInvalidCredentials classifies a sign-in rejection. GoTrue reports these as
// 400 invalid_grant with an "Invalid login credentials" description.
func isInvalidCredentials(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return false
	}
	raw := strings.ToLower(string(body))
	return strings.Contains(raw, "invalid login credentials") ||
		strings.Contains(raw, "invalid_grant") ||
		strings.Contains(raw, "invalid_credentials")
}

// errorMessage digs a human-readable message out of the backend's error body,
// which varies between {"error","error_description"} and {"msg","code"}.
func errorMessage(body []byte) string {
	var parsed struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case parsed.ErrorDescription != "":
		return parsed.ErrorDescription
	case parsed.Msg != "":
		return parsed.Msg
	case parsed.ErrorCode != "":
		return parsed.ErrorCode
	case parsed.Error != "":
		return parsed.Error
	default:
		return strings.TrimSpace(string(body))
	}
}

package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/ridely/auth-gateway/internal/accounts"
	"github.com/ridely/auth-gateway/internal/auth"
	"github.com/ridely/auth-gateway/internal/db/models"
	"github.com/ridely/auth-gateway/internal/gotrue"
	"github.com/ridely/auth-gateway/internal/otp"
	"github.com/ridely/auth-gateway/internal/sms"
	"gorm.io/gorm"
)

const (
	testPhone    = "+998901234567"
	testBotToken = "123456:test-bot-token"
)

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, _, message string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeSender) SendBatch(ctx context.Context, messages []sms.Message) error {
	for _, m := range messages {
		if err := f.Send(ctx, m.PhoneNumber, m.Text); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSender) Normalize(context.Context, string) ([]sms.SpecialCharacter, error) {
	return nil, nil
}

// fakeBackend stands in for the identity provider behind auth.Service.
type fakeBackend struct {
	users map[string]string
}

func (f *fakeBackend) SignInWithPassword(_ context.Context, email, password string) (*gotrue.Session, error) {
	if pw, ok := f.users[email]; ok && pw == password {
		return &gotrue.Session{AccessToken: "access-token", RefreshToken: "refresh-token"}, nil
	}
	return nil, gotrue.ErrInvalidCredentials
}

func (f *fakeBackend) AdminCreateUser(_ context.Context, params gotrue.CreateUserParams) (*gotrue.User, error) {
	f.users[params.Email] = params.Password
	return &gotrue.User{ID: "backend-user-id", Email: params.Email}, nil
}

type testEnv struct {
	db     *gorm.DB
	sender *fakeSender
	otp    *otp.Service
	auth   *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "httpapi_test.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OTPCode{}, &models.User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	sender := &fakeSender{}
	authSvc := auth.NewService(
		&fakeBackend{users: map[string]string{}},
		accounts.NewLinker(accounts.NewStore(db)),
		auth.Config{
			EmailDomain:      "ridely.uz",
			PhoneSecret:      "phone-secret",
			TelegramSecret:   "telegram-secret",
			TelegramBotToken: testBotToken,
		},
	)
	return &testEnv{
		db:     db,
		sender: sender,
		otp:    otp.NewService(otp.NewStore(db), sender),
		auth:   authSvc,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Type
}

func issuedCode(t *testing.T, db *gorm.DB, phone string) string {
	t.Helper()
	var record models.OTPCode
	if err := db.Where("phone_number = ?", phone).Order("created_at DESC").First(&record).Error; err != nil {
		t.Fatalf("fetch issued code: %v", err)
	}
	return record.Code
}

func TestSendPhoneOTPHandler(t *testing.T) {
	env := newTestEnv(t)
	handler := SendPhoneOTPHandler(env.otp)

	rec := postJSON(t, handler, fmt.Sprintf(`{"phone_number":%q}`, testPhone))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.sender.sent) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(env.sender.sent))
	}
}

func TestSendPhoneOTPHandlerRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	handler := SendPhoneOTPHandler(env.otp)

	rec := postJSON(t, handler, `{not json`)
	if rec.Code != http.StatusBadRequest || errorType(t, rec) != "validation_error" {
		t.Fatalf("malformed body: status=%d type=%s", rec.Code, errorType(t, rec))
	}

	rec = postJSON(t, handler, `{"phone_number":"12345"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed phone: status=%d", rec.Code)
	}
}

func TestSendPhoneOTPHandlerMapsThrottleTo429(t *testing.T) {
	env := newTestEnv(t)
	handler := SendPhoneOTPHandler(env.otp)
	body := fmt.Sprintf(`{"phone_number":%q}`, testPhone)

	if rec := postJSON(t, handler, body); rec.Code != http.StatusOK {
		t.Fatalf("first issue: status=%d", rec.Code)
	}
	rec := postJSON(t, handler, body)
	if rec.Code != http.StatusTooManyRequests || errorType(t, rec) != "rate_limited" {
		t.Fatalf("reissue: status=%d type=%s", rec.Code, errorType(t, rec))
	}
}

func TestSendPhoneOTPHandlerMapsDispatchFailureTo502(t *testing.T) {
	env := newTestEnv(t)
	env.sender.err = fmt.Errorf("gateway down")
	handler := SendPhoneOTPHandler(env.otp)

	rec := postJSON(t, handler, fmt.Sprintf(`{"phone_number":%q}`, testPhone))
	if rec.Code != http.StatusBadGateway || errorType(t, rec) != "dependency_error" {
		t.Fatalf("dispatch failure: status=%d type=%s", rec.Code, errorType(t, rec))
	}
	// The classified public message must not leak gateway internals.
	if strings.Contains(rec.Body.String(), "gateway down") {
		t.Fatalf("dependency detail leaked: %s", rec.Body.String())
	}
}

func TestVerifyPhoneHandlerFullFlow(t *testing.T) {
	env := newTestEnv(t)
	send := SendPhoneOTPHandler(env.otp)
	verify := VerifyPhoneHandler(env.otp, env.auth)

	if rec := postJSON(t, send, fmt.Sprintf(`{"phone_number":%q}`, testPhone)); rec.Code != http.StatusOK {
		t.Fatalf("issue: status=%d", rec.Code)
	}
	code := issuedCode(t, env.db, testPhone)

	rec := postJSON(t, verify, fmt.Sprintf(`{"phone_number":%q,"code":%q}`, testPhone, code))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         struct {
			Email        string `json:"email"`
			PhoneNumber  string `json:"phone_number"`
			AuthProvider string `json:"auth_provider"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken != "access-token" || resp.RefreshToken != "refresh-token" {
		t.Fatalf("session not returned: %+v", resp)
	}
	if resp.User.Email != "998901234567@ridely.uz" || resp.User.PhoneNumber != testPhone {
		t.Fatalf("user not linked: %+v", resp.User)
	}
	if resp.User.AuthProvider != models.AuthProviderPhone {
		t.Fatalf("auth provider = %q", resp.User.AuthProvider)
	}

	// The code was consumed by the successful verification.
	rec = postJSON(t, verify, fmt.Sprintf(`{"phone_number":%q,"code":%q}`, testPhone, code))
	if rec.Code != http.StatusNotFound || errorType(t, rec) != "not_found" {
		t.Fatalf("replay: status=%d type=%s", rec.Code, errorType(t, rec))
	}
}

func TestVerifyPhoneHandlerWrongCode(t *testing.T) {
	env := newTestEnv(t)
	send := SendPhoneOTPHandler(env.otp)
	verify := VerifyPhoneHandler(env.otp, env.auth)

	if rec := postJSON(t, send, fmt.Sprintf(`{"phone_number":%q}`, testPhone)); rec.Code != http.StatusOK {
		t.Fatalf("issue: status=%d", rec.Code)
	}
	wrong := "000000"
	if issuedCode(t, env.db, testPhone) == wrong {
		wrong = "000001"
	}

	rec := postJSON(t, verify, fmt.Sprintf(`{"phone_number":%q,"code":%q}`, testPhone, wrong))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong code: status=%d", rec.Code)
	}
}

// signAssertion mirrors the Telegram widget's signing scheme.
func signAssertion(fields map[string]string, botToken string) string {
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

	key := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func telegramBody(t *testing.T, tamper func(map[string]string)) string {
	t.Helper()
	fields := map[string]string{
		"id":         "42",
		"first_name": "Alisher",
		"username":   "alisher_uz",
		"auth_date":  fmt.Sprintf("%d", time.Now().Unix()),
	}
	hash := signAssertion(fields, testBotToken)
	if tamper != nil {
		tamper(fields)
	}
	fields["hash"] = hash

	body, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal assertion: %v", err)
	}
	return string(body)
}

func TestTelegramAuthHandler(t *testing.T) {
	env := newTestEnv(t)
	handler := TelegramAuthHandler(env.auth)

	rec := postJSON(t, handler, telegramBody(t, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		User struct {
			TelegramID   string `json:"telegram_id"`
			AuthProvider string `json:"auth_provider"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.TelegramID != "42" || resp.User.AuthProvider != models.AuthProviderTelegram {
		t.Fatalf("user not linked: %+v", resp.User)
	}
}

func TestTelegramAuthHandlerRejectsTamperedAssertion(t *testing.T) {
	env := newTestEnv(t)
	handler := TelegramAuthHandler(env.auth)

	rec := postJSON(t, handler, telegramBody(t, func(fields map[string]string) {
		fields["id"] = "43"
	}))
	if rec.Code != http.StatusUnauthorized || errorType(t, rec) != "unauthorized" {
		t.Fatalf("tampered assertion: status=%d type=%s", rec.Code, errorType(t, rec))
	}
}

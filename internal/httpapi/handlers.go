// Package httpapi exposes the authentication flows as a thin JSON surface.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ridely/auth-gateway/internal/auth"
	"github.com/ridely/auth-gateway/internal/db/models"
	"github.com/ridely/auth-gateway/internal/errs"
	"github.com/ridely/auth-gateway/internal/logging"
	"github.com/ridely/auth-gateway/internal/otp"
	"github.com/ridely/auth-gateway/internal/telegram"
)

type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	TelegramID   string    `json:"telegram_id,omitempty"`
	AuthProvider string    `json:"auth_provider"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func toUserResponse(u *models.User) userResponse {
	resp := userResponse{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		PhoneNumber:  u.PhoneNumber,
		AuthProvider: u.AuthProvider,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		PhotoURL:     u.PhotoURL,
		CreatedAt:    u.CreatedAt,
	}
	if u.TelegramID != nil {
		resp.TelegramID = *u.TelegramID
	}
	return resp
}

// SendPhoneOTPHandler issues and dispatches a one-time code.
func SendPhoneOTPHandler(otpSvc *otp.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhoneNumber string `json:"phone_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, errs.Errorf(errs.KindValidation, "invalid request body"))
			return
		}
		if err := otpSvc.Issue(r.Context(), req.PhoneNumber); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// VerifyPhoneHandler verifies a submitted code and finalizes the phone flow.
// Verification is single-use: a verified code is consumed before finalization
// starts, so a replay of the same code cannot mint a second session request.
func VerifyPhoneHandler(otpSvc *otp.Service, authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhoneNumber string `json:"phone_number"`
			Code        string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, errs.Errorf(errs.KindValidation, "invalid request body"))
			return
		}

		if err := otpSvc.Verify(r.Context(), req.PhoneNumber, req.Code); err != nil {
			writeError(w, r, err)
			return
		}

		result, err := authSvc.FinalizePhoneAuth(r.Context(), req.PhoneNumber)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, authResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			User:         toUserResponse(result.User),
		})
	}
}

// TelegramAuthHandler finalizes the chat-bot flow from a widget assertion.
func TelegramAuthHandler(authSvc *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var assertion telegram.Assertion
		if err := json.NewDecoder(r.Body).Decode(&assertion); err != nil {
			writeError(w, r, errs.Errorf(errs.KindValidation, "invalid request body"))
			return
		}

		result, err := authSvc.FinalizeTelegramAuth(r.Context(), assertion)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, authResponse{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			User:         toUserResponse(result.User),
		})
	}
}

// MeHandler echoes the session claims of the authenticated caller.
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, errs.Errorf(errs.KindUnauthorized, "no session"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"user_id": claims.UserID,
			"email":   claims.Email,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP statuses and logs the failure
// with its request id. Wrapped dependency details stay in the log, not the
// response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusForKind(kind)
	log.Printf("request %s failed: kind=%s status=%d err=%v", logging.GetRequestID(r.Context()), kind, status, err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"message": publicMessage(kind, err),
			"type":    kind.String(),
		},
	})
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindExpired, errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps provider internals out of responses for server-side
// failure classes.
func publicMessage(kind errs.Kind, err error) string {
	switch kind {
	case errs.KindDependency:
		return "upstream dependency failed"
	case errs.KindUnauthorized:
		return "invalid authentication payload"
	case errs.KindAuthentication:
		return "authentication error"
	case errs.KindRegistration:
		return "registration error"
	case errs.KindUnknown:
		return "internal error"
	default:
		return err.Error()
	}
}

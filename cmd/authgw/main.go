package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ridely/auth-gateway/internal/accounts"
	"github.com/ridely/auth-gateway/internal/auth"
	"github.com/ridely/auth-gateway/internal/config"
	"github.com/ridely/auth-gateway/internal/db"
	"github.com/ridely/auth-gateway/internal/gotrue"
	"github.com/ridely/auth-gateway/internal/httpapi"
	"github.com/ridely/auth-gateway/internal/logging"
	"github.com/ridely/auth-gateway/internal/otp"
	"github.com/ridely/auth-gateway/internal/sms"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// SMS provider is selected once at startup; per-call switching is not a thing.
	sender, err := sms.New(cfg.SMS)
	if err != nil {
		log.Fatalf("Failed to initialize sms sender: %v", err)
	}
	log.Printf("Using sms provider: %s", cfg.SMS.Provider)

	otpService := otp.NewService(otp.NewStore(database), sender)

	backend := gotrue.NewClient(cfg.GoTrue.BaseURL, cfg.GoTrue.ServiceRoleKey)
	linker := accounts.NewLinker(accounts.NewStore(database))
	authService := auth.NewService(backend, linker, auth.Config{
		EmailDomain:      cfg.EmailDomain,
		PhoneSecret:      cfg.Secrets.Phone,
		TelegramSecret:   cfg.Secrets.Telegram,
		TelegramBotToken: cfg.TelegramBotToken,
	})

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.RequestID)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/phone/send-otp", httpapi.SendPhoneOTPHandler(otpService))
		r.Post("/phone/verify", httpapi.VerifyPhoneHandler(otpService, authService))
		r.Post("/telegram", httpapi.TelegramAuthHandler(authService))

		r.Group(func(r chi.Router) {
			r.Use(httpapi.BearerAuth(cfg.JWTSecret))
			r.Get("/me", httpapi.MeHandler())
		})
	})

	log.Printf("🚀 auth-gateway listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

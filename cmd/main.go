package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"announceit/internal/account"
	"announceit/internal/config"
	"announceit/internal/http_server/handlers/changepass"
	"announceit/internal/http_server/handlers/confirm"
	"announceit/internal/http_server/handlers/forgot"
	"announceit/internal/http_server/handlers/login"
	"announceit/internal/http_server/handlers/logout"
	"announceit/internal/http_server/handlers/preview"
	"announceit/internal/http_server/handlers/register"
	"announceit/internal/http_server/handlers/resend"
	"announceit/internal/http_server/handlers/reset"
	"announceit/internal/janitor"
	sl "announceit/internal/lib/logger"
	"announceit/internal/mailer"
	rateLimit "announceit/internal/middleware/ratelimit"
	"announceit/internal/models"
	"announceit/internal/pins"
	"announceit/internal/session"
	"announceit/internal/storage/postgres"
	"announceit/internal/token"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := sl.Setup(cfg.Env)

	log.Info("starting announceit", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	sender, closeSender, err := mailer.New(log, cfg.Email)
	if err != nil {
		log.Error("failed to init mailer", sl.Err(err))
		os.Exit(1)
	}
	defer closeSender()

	dispatcher := mailer.NewDispatcher(log, sender, cfg.Email.Buffer)
	defer dispatcher.Close()

	confirmTokens := token.NewStore(log, storage, token.Policy{
		Kind:               models.KindConfirmation,
		TTL:                cfg.Confirmation.TokenTTL,
		CascadeUnconfirmed: true,
	})
	resetTokens := token.NewStore(log, storage, token.Policy{
		Kind:      models.KindPasswordReset,
		TTL:       cfg.PasswordReset.TokenTTL,
		MaxActive: cfg.PasswordReset.MaxActiveTokens,
	})

	accounts := account.New(
		log, storage, confirmTokens, resetTokens, dispatcher,
		cfg.Confirmation.Required, cfg.Registration.AllowedDomains,
	)

	pinService := pins.New(log, storage, cfg.PreviewPin.TTL, cfg.PreviewPin.MaxAttempts)

	sessions := session.NewManager(cfg.Session.Secret, cfg.Session.TTL)

	var janitors sync.WaitGroup
	janitors.Add(2)
	go func() {
		defer janitors.Done()
		janitor.Run(ctx, log, "tokens",
			janitor.Every(cfg.Cleanup.UserInterval),
			janitor.NewTokenSweep(confirmTokens, resetTokens, pinService))
	}()
	go func() {
		defer janitors.Done()
		janitor.Run(ctx, log, "announcements",
			janitor.DailyAt(cfg.Cleanup.AnnouncementHourUTC),
			janitor.NewAnnouncementSweep(log, storage))
	}()

	router := setupRouter(log, accounts, pinService, sessions, cfg.HTTPServer.Address)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", sl.Err(err))
	} else {
		log.Info("server stopped gracefully")
	}

	janitors.Wait()

	log.Info("service stopped")
}

func setupRouter(
	log *slog.Logger,
	accounts *account.Service,
	pinService *pins.Service,
	sessions *session.Manager,
	address string,
) *chi.Mux {
	validate := validator.New()

	confirmURL := func(token string) string {
		return fmt.Sprintf("http://%s/confirm?token=%s", address, token)
	}
	resetURL := func(token string) string {
		return fmt.Sprintf("http://%s/reset-password?token=%s", address, token)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(rateLimit.Register()).Post("/register",
		register.New(log, validate, accounts, confirmURL),
	)
	r.With(rateLimit.Confirm()).Get("/confirm",
		confirm.New(log, accounts),
	)
	r.With(rateLimit.ResendConfirmation()).Post("/resend-confirmation",
		resend.New(log, validate, accounts, confirmURL),
	)
	r.With(rateLimit.Login()).Post("/login",
		login.New(log, validate, accounts, sessions),
	)
	r.Post("/logout",
		logout.New(log, sessions),
	)
	r.With(rateLimit.ForgotPassword()).Post("/forgot-password",
		forgot.New(log, validate, accounts, resetURL),
	)
	r.With(rateLimit.ResetPassword()).Post("/reset-password",
		reset.New(log, validate, accounts),
	)
	r.Post("/change-password",
		changepass.New(log, validate, accounts, sessions),
	)
	r.Post("/dashboards/{dashboardID}/preview-pin",
		preview.NewGenerate(log, pinService, sessions),
	)
	r.With(rateLimit.RedeemPin()).Post("/preview",
		preview.NewRedeem(log, pinService),
	)

	return r
}
